package primary

import (
	"context"
	"fmt"
	"time"

	"bragi/internal/models"
	"bragi/internal/store"

	"github.com/jackc/pgx/v5"
)

// --- Usage Store Implementation ---

// RecordUsage inserts a new AI usage log entry.
func (s *StoreImpl) RecordUsage(ctx context.Context, entry *models.UsageLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO ai_usage_logs (timestamp, provider_name, service_type, model_name,
			input_tokens, output_tokens, cost, related_job_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		entry.Timestamp, entry.ProviderName, entry.ServiceType, entry.ModelName,
		entry.InputTokens, entry.OutputTokens, entry.Cost, entry.RelatedJobID,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert ai_usage_log: %w", err)
	}
	return nil
}

// ListUsage returns usage log entries, newest first.
func (s *StoreImpl) ListUsage(ctx context.Context, limit, offset int) ([]*models.UsageLog, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, timestamp, provider_name, service_type, model_name,
			input_tokens, output_tokens, cost, related_job_id
		 FROM ai_usage_logs ORDER BY timestamp DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query ai_usage_logs: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.UsageLog, error) {
		entry := &models.UsageLog{}
		err := row.Scan(&entry.ID, &entry.Timestamp, &entry.ProviderName,
			&entry.ServiceType, &entry.ModelName, &entry.InputTokens,
			&entry.OutputTokens, &entry.Cost, &entry.RelatedJobID)
		return entry, err
	})
}

// UsageSummary returns the total cost and token usage.
func (s *StoreImpl) UsageSummary(ctx context.Context) (totalCost float64, totalInputTokens, totalOutputTokens int64, err error) {
	err = s.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost), 0), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM ai_usage_logs`).Scan(&totalCost, &totalInputTokens, &totalOutputTokens)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to summarize ai_usage_logs: %w", err)
	}
	return totalCost, totalInputTokens, totalOutputTokens, nil
}

var _ store.UsageStore = (*StoreImpl)(nil)
