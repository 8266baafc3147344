package models

import (
	"time"

	"github.com/google/uuid"
)

// Continuation describes how a batch resumes a previous, incomplete batch.
// Strategy is a caller-defined tag (e.g. "remaining_scenes") and the range
// fields describe which slice of the original unit list this batch covers.
type Continuation struct {
	Strategy   string `json:"strategy"`
	RangeStart int    `json:"range_start"`
	RangeEnd   int    `json:"range_end"`
}

// Job is one batch of independent generation items.
//
// Done, Succeeded and Failed are aggregated by the runner under the
// registry's single-writer update; Done == Succeeded+Failed and
// Done <= TotalItems hold at every observation point.
type Job struct {
	ID           uuid.UUID     `json:"id"`
	ProjectID    string        `json:"project_id"`
	UserID       string        `json:"user_id"`
	TaskType     string        `json:"task_type"` // e.g. "text", "image"
	TotalItems   int           `json:"total_items"`
	Done         int           `json:"done"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Concurrency  int           `json:"concurrency"`
	Status       JobStatus     `json:"status"`
	Continuation *Continuation `json:"continuation,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Item is one atomic unit of work inside a Job. Key is the caller-defined
// payload key (which unit of content to produce). Status only moves forward:
// queued -> running -> {succeeded, failed, cancelled}; an explicit retry is
// the single path back to queued.
type Item struct {
	ID          uuid.UUID  `json:"id"`
	JobID       uuid.UUID  `json:"job_id"`
	Key         string     `json:"key"`
	Status      ItemStatus `json:"status"`
	ResultRef   string     `json:"result_ref,omitempty"`
	ErrorText   string     `json:"error_text,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Reservation is a provisional hold against a credit balance, uniquely
// identified by (RefType, RefID). Ledger operations against it are
// idempotent under at-least-once retries.
type Reservation struct {
	RefType        string           `json:"ref_type"`
	RefID          uuid.UUID        `json:"ref_id"`
	UserID         string           `json:"user_id"`
	Amount         int64            `json:"amount"`
	RefundedAmount int64            `json:"refunded_amount"`
	State          ReservationState `json:"state"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// CreditAccount holds a user's prepaid balance in credit units.
type CreditAccount struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsageLog records one provider call for cost reporting.
type UsageLog struct {
	ID           int64      `json:"id"`
	Timestamp    time.Time  `json:"timestamp"`
	ProviderName string     `json:"provider_name"`
	ServiceType  string     `json:"service_type"` // e.g. "generation", "interactive"
	ModelName    string     `json:"model_name"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	Cost         float64    `json:"cost"`
	RelatedJobID *uuid.UUID `json:"related_job_id,omitempty"`
}
