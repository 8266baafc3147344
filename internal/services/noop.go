package services

import (
	"context"
	"fmt"

	"bragi/internal/models"
)

// NoopExecutor stands in when no provider is configured. It succeeds
// immediately with a synthetic result reference.
type NoopExecutor struct{}

// NewNoopExecutor creates a NoopExecutor.
func NewNoopExecutor() *NoopExecutor { return &NoopExecutor{} }

// Name returns the provider name.
func (e *NoopExecutor) Name() string { return "noop" }

// Execute returns a synthetic reference without calling any provider.
func (e *NoopExecutor) Execute(ctx context.Context, item *models.Item, job *models.Job) (string, error) {
	return fmt.Sprintf("noop://%s/%s", job.ID, item.Key), nil
}

var _ Executor = (*NoopExecutor)(nil)
