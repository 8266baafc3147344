package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"bragi/internal/config"
	"bragi/internal/models"
	"bragi/internal/pacing"
	"bragi/internal/store"

	"github.com/sashabaranov/go-openai"

	log "github.com/sirupsen/logrus"
)

// OpenAITextExecutor generates text content through the OpenAI chat
// completion API. The item key is passed through as the prompt; prompt
// construction belongs to the caller.
type OpenAITextExecutor struct {
	client     *openai.Client
	model      string
	usageStore store.UsageStore
	pricing    map[string]config.PricingInfo
}

// NewOpenAITextExecutor creates a new OpenAI text executor.
func NewOpenAITextExecutor(apiKey, model string, usageStore store.UsageStore, pricing map[string]config.PricingInfo) (*OpenAITextExecutor, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY") // Fallback to env var
	}
	if apiKey == "" {
		log.Warn("OpenAI API key not provided. OpenAI text executor will be disabled.")
		return &OpenAITextExecutor{client: nil}, nil
	}

	log.Infof("OpenAI text executor initialized with model %s", model)
	return &OpenAITextExecutor{
		client:     openai.NewClient(apiKey),
		model:      model,
		usageStore: usageStore,
		pricing:    pricing,
	}, nil
}

// Name returns the provider name.
func (e *OpenAITextExecutor) Name() string { return "openai" }

// Execute generates text for one batch item.
func (e *OpenAITextExecutor) Execute(ctx context.Context, item *models.Item, job *models.Job) (string, error) {
	return e.generate(ctx, item.Key, "generation", job)
}

// InteractiveTask wraps a single prompt as a pacing.TaskFunc for the serial
// lane, with provider rate-limit errors mapped onto the engine taxonomy.
func (e *OpenAITextExecutor) InteractiveTask(prompt string) pacing.TaskFunc {
	return func(ctx context.Context) (string, error) {
		return e.generate(ctx, prompt, "interactive", nil)
	}
}

func (e *OpenAITextExecutor) generate(ctx context.Context, prompt, serviceType string, job *models.Job) (string, error) {
	if e.client == nil {
		return "", fmt.Errorf("OpenAI text executor is not initialized (missing API key)")
	}
	if prompt == "" {
		return "", fmt.Errorf("empty prompt: %w", models.ErrValidation)
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classifyProviderError(fmt.Errorf("OpenAI API error generating completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI API returned no choices")
	}

	e.recordUsage(ctx, serviceType, resp.Usage, job)
	return resp.Choices[0].Message.Content, nil
}

func (e *OpenAITextExecutor) recordUsage(ctx context.Context, serviceType string, usage openai.Usage, job *models.Job) {
	if e.usageStore == nil || usage.TotalTokens == 0 {
		return
	}
	priceInfo, ok := e.pricing[e.model]
	if !ok {
		log.Warnf("Pricing info not found for model %q. Cannot record cost.", e.model)
		return
	}
	cost := float64(usage.PromptTokens)*priceInfo.InputPerToken +
		float64(usage.CompletionTokens)*priceInfo.OutputPerToken
	entry := &models.UsageLog{
		Timestamp:    time.Now(),
		ProviderName: e.Name(),
		ServiceType:  serviceType,
		ModelName:    e.model,
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		Cost:         cost,
	}
	if job != nil {
		id := job.ID
		entry.RelatedJobID = &id
	}
	if err := e.usageStore.RecordUsage(ctx, entry); err != nil {
		log.Errorf("Failed to record AI usage log: %v", err)
	}
}

var _ Executor = (*OpenAITextExecutor)(nil)
