package billing

import (
	"context"
	"fmt"
	"time"

	"bragi/internal/batch"
	"bragi/internal/models"
	"bragi/internal/services"
	"bragi/internal/store"

	"github.com/google/uuid"

	log "github.com/sirupsen/logrus"
)

// RefTypeBatchJob is the reservation reference type for batch jobs; the
// reference id is the job id.
const RefTypeBatchJob = "batch_job"

// MeteredParams describes one metered batch request.
type MeteredParams struct {
	ProjectID    string
	UserID       string
	TaskType     string
	Keys         []string
	Concurrency  int
	CostPerItem  int64
	Continuation *models.Continuation

	// Bypass skips reservation and reconciliation entirely for
	// quota-exempt accounts. It is an explicit, audited branch, never a
	// default.
	Bypass bool
}

// Settlement reserves the total cost of a batch before it starts and
// reconciles the reservation (refund, then finalize) once the batch reaches
// a terminal state.
type Settlement struct {
	ledger       store.Ledger
	runner       *batch.Runner
	pollInterval time.Duration
	pollAttempts int
}

// NewSettlement creates a Settlement. Non-positive poll settings fall back
// to 2s intervals with 900 attempts (a 30 minute reconcile window).
func NewSettlement(ledger store.Ledger, runner *batch.Runner, pollInterval time.Duration, pollAttempts int) *Settlement {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if pollAttempts <= 0 {
		pollAttempts = 900
	}
	return &Settlement{
		ledger:       ledger,
		runner:       runner,
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
	}
}

// RunMetered reserves CostPerItem * len(Keys) credits and starts the batch.
// A denied reservation returns models.ErrInsufficientCredits synchronously;
// the job is never created and no executor runs. On success, reconciliation
// proceeds asynchronously.
func (s *Settlement) RunMetered(ctx context.Context, params MeteredParams, executor services.Executor) (*models.Job, error) {
	if params.CostPerItem < 0 {
		return nil, fmt.Errorf("run metered: negative cost per item %d: %w", params.CostPerItem, models.ErrValidation)
	}

	createParams := batch.CreateParams{
		ProjectID:    params.ProjectID,
		UserID:       params.UserID,
		TaskType:     params.TaskType,
		Keys:         params.Keys,
		Concurrency:  params.Concurrency,
		Continuation: params.Continuation,
		Executor:     executor,
	}

	if params.Bypass {
		// Audit line: every unmetered batch must be traceable.
		log.Warnf("AUDIT: quota bypass batch: user=%s project=%s task=%s items=%d (no reservation)",
			params.UserID, params.ProjectID, params.TaskType, len(params.Keys))
		return s.runner.Create(ctx, createParams)
	}

	jobID := uuid.New()
	total := params.CostPerItem * int64(len(params.Keys))

	ok, err := s.ledger.Reserve(ctx, params.UserID, total, RefTypeBatchJob, jobID)
	if err != nil {
		return nil, fmt.Errorf("reserve %d credits for user %s: %w", total, params.UserID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%d credits required: %w", total, models.ErrInsufficientCredits)
	}

	createParams.JobID = jobID
	job, err := s.runner.Create(ctx, createParams)
	if err != nil {
		// The job never started; release the full hold. Best effort: the
		// caller's error is the creation failure either way.
		if refundErr := s.ledger.Refund(ctx, total, RefTypeBatchJob, jobID); refundErr != nil {
			log.Errorf("Settlement: failed to release hold for aborted job %s: %v", jobID, refundErr)
		} else if finErr := s.ledger.Finalize(ctx, RefTypeBatchJob, jobID); finErr != nil {
			log.Errorf("Settlement: failed to close reservation for aborted job %s: %v", jobID, finErr)
		}
		return nil, err
	}

	go s.reconcile(job.ID, params.UserID, params.CostPerItem)
	return job, nil
}

// reconcile polls the job until it reaches a terminal status (or the poll
// budget runs out), refunds the unfulfilled portion, and finalizes the rest.
// Ledger failures here are logged and non-fatal: already-produced results
// are never discarded because of a billing-side error.
func (s *Settlement) reconcile(jobID uuid.UUID, userID string, costPerItem int64) {
	ctx := context.Background()

	var snap *batch.Snapshot
	for attempt := 0; attempt < s.pollAttempts; attempt++ {
		time.Sleep(s.pollInterval)
		cur, err := s.runner.Status(ctx, jobID)
		if err != nil {
			log.Errorf("Settlement: status poll for job %s: %v", jobID, err)
			continue
		}
		snap = cur
		if snap.Job.Status.Terminal() {
			break
		}
	}

	if snap == nil || !snap.Job.Status.Terminal() {
		// Items may still complete after the poll budget; refunding on a
		// stale count could give credit back for work that succeeds later.
		// Finalize the full hold and leave a trace for manual review.
		log.Warnf("Settlement: job %s did not reach a terminal status within the reconcile window; finalizing full hold for user %s", jobID, userID)
		if err := s.ledger.Finalize(ctx, RefTypeBatchJob, jobID); err != nil {
			log.Errorf("Settlement: finalize for job %s: %v", jobID, err)
		}
		return
	}

	unfulfilled := snap.Job.TotalItems - snap.Job.Succeeded
	if unfulfilled > 0 {
		refund := int64(unfulfilled) * costPerItem
		if err := s.ledger.Refund(ctx, refund, RefTypeBatchJob, jobID); err != nil {
			log.Errorf("Settlement: refund of %d for job %s: %v", refund, jobID, err)
		} else {
			log.Infof("Settlement: refunded %d credits to user %s for job %s (%d of %d items unfulfilled)",
				refund, userID, jobID, unfulfilled, snap.Job.TotalItems)
		}
	}

	if err := s.ledger.Finalize(ctx, RefTypeBatchJob, jobID); err != nil {
		log.Errorf("Settlement: finalize for job %s: %v", jobID, err)
	}
}
