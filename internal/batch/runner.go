package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bragi/internal/models"
	"bragi/internal/services"
	"bragi/internal/store"

	"github.com/google/uuid"

	log "github.com/sirupsen/logrus"
)

// CreateParams describes one batch to run.
type CreateParams struct {
	// JobID optionally pre-allocates the job's identity. Settlement
	// reserves credits against the id before the job exists, so it needs
	// to pick the id first. Zero means the runner generates one.
	JobID        uuid.UUID
	ProjectID    string
	UserID       string
	TaskType     string
	Keys         []string
	Concurrency  int
	Continuation *models.Continuation
	Executor     services.Executor
}

// Snapshot is a deep copy of a job and its items at one instant.
type Snapshot struct {
	Job   *models.Job    `json:"job"`
	Items []*models.Item `json:"items"`
}

// run is the per-drain scheduling state: a shared cursor over the item list
// and the cooperative cancel flag. Retry replaces the run with a fresh one
// covering only the reset items.
type run struct {
	mu      sync.Mutex
	itemIDs []uuid.UUID
	cursor  int
	cancel  bool
}

func (r *run) claim() (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel || r.cursor >= len(r.itemIDs) {
		return uuid.Nil, false
	}
	id := r.itemIDs[r.cursor]
	r.cursor++
	return id, true
}

func (r *run) requestCancel() {
	r.mu.Lock()
	r.cancel = true
	r.mu.Unlock()
}

func (r *run) cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel
}

// Runner drains batch jobs through a bounded worker pool, updating the
// registry per item. One Runner serves the whole process.
type Runner struct {
	registry store.BatchRegistry

	mu   sync.Mutex
	runs map[uuid.UUID]*run
}

// NewRunner creates a Runner over the given registry.
func NewRunner(registry store.BatchRegistry) *Runner {
	return &Runner{
		registry: registry,
		runs:     make(map[uuid.UUID]*run),
	}
}

// Create registers a job with all items queued and immediately begins
// draining it through params.Concurrency workers (clamped to at least 1).
func (r *Runner) Create(ctx context.Context, params CreateParams) (*models.Job, error) {
	if len(params.Keys) == 0 {
		return nil, fmt.Errorf("create batch: no items: %w", models.ErrValidation)
	}
	if params.Executor == nil {
		return nil, fmt.Errorf("create batch: nil executor: %w", models.ErrValidation)
	}

	concurrency := params.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	jobID := params.JobID
	if jobID == uuid.Nil {
		jobID = uuid.New()
	}

	now := time.Now()
	job := &models.Job{
		ID:           jobID,
		ProjectID:    params.ProjectID,
		UserID:       params.UserID,
		TaskType:     params.TaskType,
		TotalItems:   len(params.Keys),
		Concurrency:  concurrency,
		Status:       models.JobStatusPending,
		Continuation: params.Continuation,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	items := make([]*models.Item, len(params.Keys))
	itemIDs := make([]uuid.UUID, len(params.Keys))
	for i, key := range params.Keys {
		items[i] = &models.Item{
			ID:     uuid.New(),
			JobID:  jobID,
			Key:    key,
			Status: models.ItemStatusQueued,
		}
		itemIDs[i] = items[i].ID
	}

	if err := r.registry.Put(ctx, job, items); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	log.Infof("Batch %s created: %d items, concurrency %d, task type %q", jobID, len(items), concurrency, params.TaskType)
	r.startDrain(jobID, itemIDs, concurrency, params.Executor)

	snap, _, err := r.registry.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("create batch: read back job %s: %w", jobID, err)
	}
	return snap, nil
}

// startDrain installs a fresh run and launches the worker pool. Workers run
// on a background context: caller cancellation never aborts in-flight
// provider work, only the cooperative cancel flag stops new claims.
func (r *Runner) startDrain(jobID uuid.UUID, itemIDs []uuid.UUID, concurrency int, executor services.Executor) {
	rn := &run{itemIDs: itemIDs}
	r.mu.Lock()
	r.runs[jobID] = rn
	r.mu.Unlock()

	ctx := context.Background()
	if err := r.registry.Update(ctx, jobID, func(job *models.Job, _ []*models.Item) error {
		job.Status = models.JobStatusRunning
		job.UpdatedAt = time.Now()
		return nil
	}); err != nil {
		log.Errorf("Batch %s: failed to mark running: %v", jobID, err)
	}

	if concurrency > len(itemIDs) {
		concurrency = len(itemIDs)
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.workerLoop(ctx, jobID, rn, executor)
			}()
		}
		wg.Wait()
		r.finish(ctx, jobID, rn)
	}()
}

// workerLoop claims items off the shared cursor until the list is exhausted
// or cancellation is requested, executing one item at a time.
func (r *Runner) workerLoop(ctx context.Context, jobID uuid.UUID, rn *run, executor services.Executor) {
	for {
		itemID, ok := rn.claim()
		if !ok {
			return
		}

		var itemCopy models.Item
		var jobCopy models.Job
		if err := r.registry.Update(ctx, jobID, func(job *models.Job, items []*models.Item) error {
			it := findItem(items, itemID)
			if it == nil {
				return fmt.Errorf("item %s: %w", itemID, models.ErrNotFound)
			}
			now := time.Now()
			it.Status = models.ItemStatusRunning
			it.StartedAt = &now
			it.CompletedAt = nil
			job.UpdatedAt = now
			itemCopy = *it
			jobCopy = *job
			return nil
		}); err != nil {
			log.Errorf("Batch %s: failed to start item %s: %v", jobID, itemID, err)
			continue
		}

		ref, execErr := executor.Execute(ctx, &itemCopy, &jobCopy)

		if err := r.registry.Update(ctx, jobID, func(job *models.Job, items []*models.Item) error {
			it := findItem(items, itemID)
			if it == nil {
				return fmt.Errorf("item %s: %w", itemID, models.ErrNotFound)
			}
			now := time.Now()
			it.CompletedAt = &now
			if execErr != nil {
				it.Status = models.ItemStatusFailed
				it.ErrorText = execErr.Error()
				job.Failed++
			} else {
				it.Status = models.ItemStatusSucceeded
				it.ResultRef = ref
				job.Succeeded++
			}
			job.Done++
			job.UpdatedAt = now
			return nil
		}); err != nil {
			log.Errorf("Batch %s: failed to record item %s result: %v", jobID, itemID, err)
		}

		if execErr != nil {
			log.Warnf("Batch %s: item %s (%q) failed: %v", jobID, itemID, itemCopy.Key, execErr)
		}
	}
}

// finish computes the terminal status once every worker has stopped.
func (r *Runner) finish(ctx context.Context, jobID uuid.UUID, rn *run) {
	cancelled := rn.cancelled()
	if err := r.registry.Update(ctx, jobID, func(job *models.Job, items []*models.Item) error {
		now := time.Now()
		if cancelled {
			for _, it := range items {
				if it.Status == models.ItemStatusQueued {
					it.Status = models.ItemStatusCancelled
				}
			}
		}
		job.Status = deriveTerminalStatus(items, cancelled)
		job.UpdatedAt = now
		return nil
	}); err != nil {
		log.Errorf("Batch %s: failed to finalize status: %v", jobID, err)
	}

	// The run is only scheduling state; once the pool has stopped it is
	// dead weight. A retry installs its own run, so only remove our own.
	r.mu.Lock()
	if r.runs[jobID] == rn {
		delete(r.runs, jobID)
	}
	r.mu.Unlock()

	log.Infof("Batch %s finished (cancelled=%v)", jobID, cancelled)
}

// deriveTerminalStatus is the single place job status is computed from item
// statuses, so deriving it twice from the same item set always agrees.
func deriveTerminalStatus(items []*models.Item, cancelRequested bool) models.JobStatus {
	if cancelRequested {
		return models.JobStatusCancelled
	}
	var succeeded, failed int
	for _, it := range items {
		switch it.Status {
		case models.ItemStatusSucceeded:
			succeeded++
		case models.ItemStatusFailed:
			failed++
		case models.ItemStatusQueued, models.ItemStatusRunning, models.ItemStatusCancelled:
			// Not terminal for this computation; cancelled items keep a
			// completed-with-partial-results batch out of the failed bucket.
		}
	}
	if failed > 0 && succeeded == 0 {
		return models.JobStatusFailed
	}
	return models.JobStatusCompleted
}

func findItem(items []*models.Item, id uuid.UUID) *models.Item {
	for _, it := range items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// Status returns a deep-copied snapshot of the job and its items.
func (r *Runner) Status(ctx context.Context, jobID uuid.UUID) (*Snapshot, error) {
	job, items, err := r.registry.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Job: job, Items: items}, nil
}

// Cancel requests cooperative cancellation. Returns false when the job is
// already completed or cancelled. The flag is honored at the next claim
// boundary; in-flight executor calls run to completion.
func (r *Runner) Cancel(ctx context.Context, jobID uuid.UUID) bool {
	job, _, err := r.registry.Get(ctx, jobID)
	if err != nil {
		return false
	}
	switch job.Status {
	case models.JobStatusCompleted, models.JobStatusCancelled:
		return false
	}

	r.mu.Lock()
	rn, ok := r.runs[jobID]
	r.mu.Unlock()
	if ok {
		rn.requestCancel()
	}
	log.Infof("Batch %s: cancellation requested", jobID)
	return true
}

// Retry resets every failed item back to queued and drains only those items
// with a new cursor. Returns false when the job is still running or has no
// failed items. Succeeded and cancelled items are untouched.
func (r *Runner) Retry(ctx context.Context, jobID uuid.UUID, executor services.Executor) bool {
	if executor == nil {
		return false
	}

	var resetIDs []uuid.UUID
	var concurrency int
	err := r.registry.Update(ctx, jobID, func(job *models.Job, items []*models.Item) error {
		if job.Status == models.JobStatusRunning || job.Status == models.JobStatusPending {
			return models.ErrJobNotRetryable
		}
		for _, it := range items {
			if it.Status != models.ItemStatusFailed {
				continue
			}
			it.Status = models.ItemStatusQueued
			it.ResultRef = ""
			it.ErrorText = ""
			it.StartedAt = nil
			it.CompletedAt = nil
			resetIDs = append(resetIDs, it.ID)
		}
		if len(resetIDs) == 0 {
			return models.ErrJobNotRetryable
		}
		job.Failed = 0
		job.Done = job.Succeeded
		job.Status = models.JobStatusPending
		job.UpdatedAt = time.Now()
		concurrency = job.Concurrency
		return nil
	})
	if err != nil {
		return false
	}

	log.Infof("Batch %s: retrying %d failed items", jobID, len(resetIDs))
	r.startDrain(jobID, resetIDs, concurrency, executor)
	return true
}
