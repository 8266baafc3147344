package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"bragi/internal/models"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
)

// Executor is one caller-supplied unit of work: given one batch item, it
// produces a result reference or fails. Implementations must be safe to
// invoke concurrently across items of the same job.
type Executor interface {
	// Execute produces the content for item and returns a reference to the
	// result (generated text, an asset URL, a storage key).
	Execute(ctx context.Context, item *models.Item, job *models.Job) (string, error)

	// Name identifies the provider for logs and usage records.
	Name() string
}

// classifyProviderError maps provider transport errors onto the engine's
// error taxonomy. A 429 becomes models.ErrRateLimited so the pacing queue
// can retry it; everything else passes through unchanged.
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%v: %w", err, models.ErrRateLimited)
	}
	var gapiErr *googleapi.Error
	if errors.As(err, &gapiErr) && gapiErr.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%v: %w", err, models.ErrRateLimited)
	}
	return err
}
