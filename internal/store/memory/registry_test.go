package memory

import (
	"context"
	"testing"
	"time"

	"bragi/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedJob(t *testing.T, r *Registry, createdAt time.Time) (*models.Job, []*models.Item) {
	t.Helper()
	job := &models.Job{
		ID:         uuid.New(),
		UserID:     "u1",
		TaskType:   "text",
		TotalItems: 2,
		Status:     models.JobStatusPending,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	items := []*models.Item{
		{ID: uuid.New(), JobID: job.ID, Key: "a", Status: models.ItemStatusQueued},
		{ID: uuid.New(), JobID: job.ID, Key: "b", Status: models.ItemStatusQueued},
	}
	require.NoError(t, r.Put(context.Background(), job, items))
	return job, items
}

func TestRegistryPutRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	job, items := seedJob(t, r, time.Now())
	err := r.Put(context.Background(), job, items)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestRegistryGetReturnsDeepCopies(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	job, _ := seedJob(t, r, time.Now())

	gotJob, gotItems, err := r.Get(ctx, job.ID)
	require.NoError(t, err)

	// Mutating a snapshot must not leak back into the registry.
	gotJob.Status = models.JobStatusRunning
	gotItems[0].Status = models.ItemStatusFailed
	gotItems[0].ErrorText = "tampered"

	again, againItems, err := r.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, again.Status)
	assert.Equal(t, models.ItemStatusQueued, againItems[0].Status)
	assert.Empty(t, againItems[0].ErrorText)

	// The caller's originals are copies too.
	job.Status = models.JobStatusCancelled
	again, _, err = r.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, again.Status)
}

func TestRegistryUpdateMutatesLiveState(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	job, items := seedJob(t, r, time.Now())

	err := r.Update(ctx, job.ID, func(j *models.Job, its []*models.Item) error {
		j.Status = models.JobStatusRunning
		j.Done = 1
		j.Succeeded = 1
		for _, it := range its {
			if it.ID == items[0].ID {
				it.Status = models.ItemStatusSucceeded
				it.ResultRef = "ref://a"
			}
		}
		return nil
	})
	require.NoError(t, err)

	got, gotItems, err := r.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Equal(t, 1, got.Succeeded)
	assert.Equal(t, models.ItemStatusSucceeded, gotItems[0].Status)
	assert.Equal(t, "ref://a", gotItems[0].ResultRef)
}

func TestRegistryUpdateErrorLeavesStateAlone(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	job, _ := seedJob(t, r, time.Now())

	sentinel := assert.AnError
	err := r.Update(ctx, job.ID, func(j *models.Job, _ []*models.Item) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	err = r.Update(ctx, uuid.New(), func(j *models.Job, _ []*models.Item) error { return nil })
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRegistryListNewestFirst(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	base := time.Now()
	oldest, _ := seedJob(t, r, base.Add(-2*time.Hour))
	middle, _ := seedJob(t, r, base.Add(-time.Hour))
	newest, _ := seedJob(t, r, base)

	jobs, err := r.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, newest.ID, jobs[0].ID)
	assert.Equal(t, middle.ID, jobs[1].ID)
	assert.Equal(t, oldest.ID, jobs[2].ID)

	jobs, err = r.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, middle.ID, jobs[0].ID)

	jobs, err = r.List(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRegistryEvict(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	job, _ := seedJob(t, r, time.Now())

	require.NoError(t, r.Evict(ctx, job.ID))
	_, _, err := r.Get(ctx, job.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, r.Evict(ctx, job.ID), models.ErrNotFound)
}
