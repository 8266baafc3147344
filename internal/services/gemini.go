package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"bragi/internal/config"
	"bragi/internal/models"
	"bragi/internal/store"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	log "github.com/sirupsen/logrus"
)

// GeminiTextExecutor generates text content through the Google Gemini API.
type GeminiTextExecutor struct {
	client     *genai.Client
	model      string
	usageStore store.UsageStore
	pricing    map[string]config.PricingInfo
}

// NewGeminiTextExecutor creates a new Gemini text executor.
func NewGeminiTextExecutor(apiKey, model string, usageStore store.UsageStore, pricing map[string]config.PricingInfo) (*GeminiTextExecutor, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY") // Fallback to env var
	}
	if apiKey == "" {
		log.Warn("Gemini API key not provided. Gemini text executor will be disabled.")
		return &GeminiTextExecutor{client: nil}, nil
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	log.Infof("Gemini text executor initialized with model %s", model)
	return &GeminiTextExecutor{
		client:     client,
		model:      model,
		usageStore: usageStore,
		pricing:    pricing,
	}, nil
}

// Name returns the provider name.
func (e *GeminiTextExecutor) Name() string { return "gemini" }

// Execute generates text for one batch item.
func (e *GeminiTextExecutor) Execute(ctx context.Context, item *models.Item, job *models.Job) (string, error) {
	if e.client == nil {
		return "", fmt.Errorf("Gemini text executor is not initialized (missing API key)")
	}
	if item.Key == "" {
		return "", fmt.Errorf("empty prompt: %w", models.ErrValidation)
	}

	gm := e.client.GenerativeModel(e.model)
	resp, err := gm.GenerateContent(ctx, genai.Text(item.Key))
	if err != nil {
		return "", classifyProviderError(fmt.Errorf("Gemini API error generating content: %w", err))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("Gemini API returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("Gemini API returned no text parts")
	}

	e.recordUsage(ctx, resp, job)
	return sb.String(), nil
}

// Close releases the underlying client.
func (e *GeminiTextExecutor) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

func (e *GeminiTextExecutor) recordUsage(ctx context.Context, resp *genai.GenerateContentResponse, job *models.Job) {
	if e.usageStore == nil || resp.UsageMetadata == nil {
		return
	}
	priceInfo, ok := e.pricing[e.model]
	if !ok {
		log.Warnf("Pricing info not found for model %q. Cannot record cost.", e.model)
		return
	}
	in := int(resp.UsageMetadata.PromptTokenCount)
	out := int(resp.UsageMetadata.CandidatesTokenCount)
	entry := &models.UsageLog{
		Timestamp:    time.Now(),
		ProviderName: e.Name(),
		ServiceType:  "generation",
		ModelName:    e.model,
		InputTokens:  in,
		OutputTokens: out,
		Cost:         float64(in)*priceInfo.InputPerToken + float64(out)*priceInfo.OutputPerToken,
	}
	if job != nil {
		id := job.ID
		entry.RelatedJobID = &id
	}
	if err := e.usageStore.RecordUsage(ctx, entry); err != nil {
		log.Errorf("Failed to record AI usage log: %v", err)
	}
}

var _ Executor = (*GeminiTextExecutor)(nil)
