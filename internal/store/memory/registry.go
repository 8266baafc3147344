package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bragi/internal/models"
	"bragi/internal/store"

	"github.com/google/uuid"
)

type jobEntry struct {
	mu    sync.Mutex
	job   *models.Job
	items []*models.Item
}

// Registry is the in-memory implementation of store.BatchRegistry. Each job
// carries its own mutex, so Update gives single-writer semantics per job
// without serializing unrelated jobs against each other.
type Registry struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*jobEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[uuid.UUID]*jobEntry)}
}

func (r *Registry) entry(jobID uuid.UUID) (*jobEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	return e, nil
}

func copyJob(job *models.Job) *models.Job {
	cp := *job
	if job.Continuation != nil {
		cont := *job.Continuation
		cp.Continuation = &cont
	}
	return &cp
}

func copyItems(items []*models.Item) []*models.Item {
	out := make([]*models.Item, len(items))
	for i, it := range items {
		cp := *it
		if it.StartedAt != nil {
			t := *it.StartedAt
			cp.StartedAt = &t
		}
		if it.CompletedAt != nil {
			t := *it.CompletedAt
			cp.CompletedAt = &t
		}
		out[i] = &cp
	}
	return out
}

// Put stores a new job and its items. The registry keeps its own copies so
// later caller mutation of the arguments cannot bypass Update.
func (r *Registry) Put(ctx context.Context, job *models.Job, items []*models.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, models.ErrConflict)
	}
	r.jobs[job.ID] = &jobEntry{job: copyJob(job), items: copyItems(items)}
	return nil
}

// Get returns a deep copy of the job and its items.
func (r *Registry) Get(ctx context.Context, jobID uuid.UUID) (*models.Job, []*models.Item, error) {
	e, err := r.entry(jobID)
	if err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyJob(e.job), copyItems(e.items), nil
}

// Update applies fn to the live job and items under the job's mutex.
func (r *Registry) Update(ctx context.Context, jobID uuid.UUID, fn func(job *models.Job, items []*models.Item) error) error {
	e, err := r.entry(jobID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.job, e.items)
}

// List returns deep-copied jobs, newest first.
func (r *Registry) List(ctx context.Context, limit, offset int) ([]*models.Job, error) {
	r.mu.RLock()
	entries := make([]*jobEntry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		jobs = append(jobs, copyJob(e.job))
		e.mu.Unlock()
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })

	if offset >= len(jobs) {
		return []*models.Job{}, nil
	}
	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Evict removes a job and its items.
func (r *Registry) Evict(ctx context.Context, jobID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[jobID]; !ok {
		return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	delete(r.jobs, jobID)
	return nil
}

var _ store.BatchRegistry = (*Registry)(nil)
