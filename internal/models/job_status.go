package models

// Typed status enums. Keeping these as named string types (rather than bare
// string constants) lets the aggregation logic switch exhaustively and keeps
// impossible states out of the registry.

// JobStatus is the lifecycle state of a Job. It is always derived from the
// terminal statuses of the job's items, never set ad hoc.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job has reached a terminal status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ItemStatus is the lifecycle state of a single batch item.
type ItemStatus string

const (
	ItemStatusQueued    ItemStatus = "queued"
	ItemStatusRunning   ItemStatus = "running"
	ItemStatusSucceeded ItemStatus = "succeeded"
	ItemStatusFailed    ItemStatus = "failed"
	ItemStatusCancelled ItemStatus = "cancelled"
)

// Terminal reports whether the item has reached a terminal status.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemStatusSucceeded, ItemStatusFailed, ItemStatusCancelled:
		return true
	}
	return false
}

// ReservationState is the lifecycle state of a credit reservation.
type ReservationState string

const (
	ReservationHeld      ReservationState = "held"
	ReservationFinalized ReservationState = "finalized"
	ReservationRefunded  ReservationState = "refunded"
)
