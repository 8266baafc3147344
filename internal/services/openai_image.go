package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"bragi/internal/config"
	"bragi/internal/models"
	"bragi/internal/store"

	"github.com/sashabaranov/go-openai"

	log "github.com/sirupsen/logrus"
)

// OpenAIImageExecutor generates image content through the OpenAI image API.
// The result reference is the provider-hosted image URL.
type OpenAIImageExecutor struct {
	client     *openai.Client
	model      string
	usageStore store.UsageStore
	pricing    map[string]config.PricingInfo
}

// NewOpenAIImageExecutor creates a new OpenAI image executor.
func NewOpenAIImageExecutor(apiKey, model string, usageStore store.UsageStore, pricing map[string]config.PricingInfo) (*OpenAIImageExecutor, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY") // Fallback to env var
	}
	if apiKey == "" {
		log.Warn("OpenAI API key not provided. OpenAI image executor will be disabled.")
		return &OpenAIImageExecutor{client: nil}, nil
	}

	log.Infof("OpenAI image executor initialized with model %s", model)
	return &OpenAIImageExecutor{
		client:     openai.NewClient(apiKey),
		model:      model,
		usageStore: usageStore,
		pricing:    pricing,
	}, nil
}

// Name returns the provider name.
func (e *OpenAIImageExecutor) Name() string { return "openai" }

// Execute generates one image for the item's prompt key.
func (e *OpenAIImageExecutor) Execute(ctx context.Context, item *models.Item, job *models.Job) (string, error) {
	if e.client == nil {
		return "", fmt.Errorf("OpenAI image executor is not initialized (missing API key)")
	}
	if item.Key == "" {
		return "", fmt.Errorf("empty prompt: %w", models.ErrValidation)
	}

	resp, err := e.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         item.Key,
		Model:          e.model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", classifyProviderError(fmt.Errorf("OpenAI API error generating image: %w", err))
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("OpenAI API returned no image data")
	}

	// Image generation bills per request, not per token.
	if e.usageStore != nil {
		cost := 0.0
		if priceInfo, ok := e.pricing[e.model]; ok {
			cost = priceInfo.PerRequest
		} else {
			log.Warnf("Pricing info not found for model %q. Recording zero cost.", e.model)
		}
		jobID := job.ID
		entry := &models.UsageLog{
			Timestamp:    time.Now(),
			ProviderName: e.Name(),
			ServiceType:  "generation",
			ModelName:    e.model,
			Cost:         cost,
			RelatedJobID: &jobID,
		}
		if err := e.usageStore.RecordUsage(ctx, entry); err != nil {
			log.Errorf("Failed to record AI usage log for image: %v", err)
		}
	}

	return resp.Data[0].URL, nil
}

var _ Executor = (*OpenAIImageExecutor)(nil)
