package store

import (
	"context"

	"bragi/internal/models"

	"github.com/google/uuid"
)

// --- Ledger ---

// Ledger is the contract for atomic hold/commit/release of a user's credit
// balance, keyed by (refType, refID). It is backed by a transactional store
// outside the batch engine; the engine treats Reserve as a black-box
// compare-and-decrement and never duplicates balance bookkeeping.
type Ledger interface {
	// Reserve atomically holds amount against the user's balance if
	// sufficient funds exist. Returns false without side effects when the
	// balance is insufficient. Concurrent reservations for the same user
	// must never together exceed the balance. Reserving the same
	// (refType, refID) twice is a no-op returning true.
	Reserve(ctx context.Context, userID string, amount int64, refType string, refID uuid.UUID) (bool, error)

	// Finalize idempotently commits a held reservation as spent.
	Finalize(ctx context.Context, refType string, refID uuid.UUID) error

	// Refund idempotently releases amount back to the balance. Partial
	// refunds (amount less than held) are supported; a later Finalize
	// commits whatever was not refunded.
	Refund(ctx context.Context, amount int64, refType string, refID uuid.UUID) error

	// Balance returns the user's current balance, creating the account
	// lazily with a zero balance if it does not exist.
	Balance(ctx context.Context, userID string) (int64, error)

	// Grant adds amount to the user's balance (top-ups, admin credit).
	Grant(ctx context.Context, userID string, amount int64) error
}

// --- Batch Registry ---

// BatchRegistry is the source of truth for jobs and their items. It is an
// injected store rather than a process-wide table so tests run against the
// in-memory implementation and production can use Postgres.
type BatchRegistry interface {
	// Put stores a new job with its items. The job exclusively owns the
	// items; they are created and evicted together.
	Put(ctx context.Context, job *models.Job, items []*models.Item) error

	// Get returns a deep copy of the job and its items. Callers never
	// observe in-progress mutation through a snapshot.
	Get(ctx context.Context, jobID uuid.UUID) (*models.Job, []*models.Item, error)

	// Update applies fn to the job and its items under mutual exclusion.
	// All counter and status mutation goes through here, giving
	// single-writer semantics per job.
	Update(ctx context.Context, jobID uuid.UUID, fn func(job *models.Job, items []*models.Item) error) error

	// List returns deep-copied jobs ordered by creation time, newest first.
	List(ctx context.Context, limit, offset int) ([]*models.Job, error)

	// Evict removes a job and its items. Eviction policy is a caller
	// concern; the engine never evicts on its own.
	Evict(ctx context.Context, jobID uuid.UUID) error
}

// --- Usage Store ---

// UsageStore records provider calls for cost reporting.
type UsageStore interface {
	RecordUsage(ctx context.Context, entry *models.UsageLog) error
	ListUsage(ctx context.Context, limit, offset int) ([]*models.UsageLog, error)
	UsageSummary(ctx context.Context) (totalCost float64, totalInputTokens, totalOutputTokens int64, err error)
}
