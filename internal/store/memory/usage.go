package memory

import (
	"context"
	"sync"
	"time"

	"bragi/internal/models"
	"bragi/internal/store"
)

// UsageStore keeps usage logs in memory. Summaries survive only for the
// process lifetime, which matches the engine's non-durable job model.
type UsageStore struct {
	mu     sync.Mutex
	nextID int64
	logs   []*models.UsageLog
}

// NewUsageStore creates an empty in-memory usage store.
func NewUsageStore() *UsageStore {
	return &UsageStore{nextID: 1}
}

// RecordUsage appends a usage log entry.
func (u *UsageStore) RecordUsage(ctx context.Context, entry *models.UsageLog) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	cp := *entry
	cp.ID = u.nextID
	u.nextID++
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	u.logs = append(u.logs, &cp)
	entry.ID = cp.ID
	return nil
}

// ListUsage returns usage entries, newest first.
func (u *UsageStore) ListUsage(ctx context.Context, limit, offset int) ([]*models.UsageLog, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]*models.UsageLog, 0, len(u.logs))
	for i := len(u.logs) - 1; i >= 0; i-- {
		cp := *u.logs[i]
		out = append(out, &cp)
	}
	if offset >= len(out) {
		return []*models.UsageLog{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// UsageSummary totals cost and token counts across all entries.
func (u *UsageStore) UsageSummary(ctx context.Context) (float64, int64, int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	var cost float64
	var in, out int64
	for _, l := range u.logs {
		cost += l.Cost
		in += int64(l.InputTokens)
		out += int64(l.OutputTokens)
	}
	return cost, in, out, nil
}

var _ store.UsageStore = (*UsageStore)(nil)
