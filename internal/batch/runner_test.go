package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bragi/internal/models"
	"bragi/internal/store/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcExecutor adapts a plain function into a services.Executor for tests.
type funcExecutor struct {
	fn func(ctx context.Context, item *models.Item, job *models.Job) (string, error)
}

func (e *funcExecutor) Name() string { return "test" }

func (e *funcExecutor) Execute(ctx context.Context, item *models.Item, job *models.Job) (string, error) {
	return e.fn(ctx, item, job)
}

func succeedAll() *funcExecutor {
	return &funcExecutor{fn: func(ctx context.Context, item *models.Item, job *models.Job) (string, error) {
		return "ref://" + item.Key, nil
	}}
}

// waitTerminal polls until the job reaches a terminal status.
func waitTerminal(t *testing.T, r *Runner, jobID uuid.UUID) *Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := r.Status(context.Background(), jobID)
		require.NoError(t, err)
		if snap.Job.Status.Terminal() {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal status")
	return nil
}

func TestRunnerDrainsAllItems(t *testing.T) {
	r := NewRunner(memory.NewRegistry())

	job, err := r.Create(context.Background(), CreateParams{
		ProjectID:   "p1",
		UserID:      "u1",
		TaskType:    "text",
		Keys:        []string{"a", "b", "c", "d", "e"},
		Concurrency: 3,
		Executor:    succeedAll(),
	})
	require.NoError(t, err)

	snap := waitTerminal(t, r, job.ID)
	assert.Equal(t, models.JobStatusCompleted, snap.Job.Status)
	assert.Equal(t, 5, snap.Job.Done)
	assert.Equal(t, 5, snap.Job.Succeeded)
	assert.Equal(t, 0, snap.Job.Failed)
	for _, item := range snap.Items {
		assert.Equal(t, models.ItemStatusSucceeded, item.Status)
		assert.Equal(t, "ref://"+item.Key, item.ResultRef)
		require.NotNil(t, item.StartedAt)
		require.NotNil(t, item.CompletedAt)
	}
}

func TestRunnerCountersStayConsistent(t *testing.T) {
	r := NewRunner(memory.NewRegistry())

	// Fail every other item; whatever interleaving the workers pick, done
	// must always equal succeeded+failed in every observed snapshot.
	var n int
	var mu sync.Mutex
	exec := &funcExecutor{fn: func(ctx context.Context, item *models.Item, job *models.Job) (string, error) {
		mu.Lock()
		n++
		fail := n%2 == 0
		mu.Unlock()
		if fail {
			return "", errors.New("provider error")
		}
		return "ok", nil
	}}

	keys := make([]string, 20)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%02d", i)
	}
	job, err := r.Create(context.Background(), CreateParams{
		UserID:      "u1",
		TaskType:    "text",
		Keys:        keys,
		Concurrency: 4,
		Executor:    exec,
	})
	require.NoError(t, err)

	for {
		snap, err := r.Status(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, snap.Job.Done, snap.Job.Succeeded+snap.Job.Failed)
		assert.LessOrEqual(t, snap.Job.Done, snap.Job.TotalItems)
		if snap.Job.Status.Terminal() {
			assert.Equal(t, 20, snap.Job.Done)
			assert.Equal(t, 10, snap.Job.Succeeded)
			assert.Equal(t, 10, snap.Job.Failed)
			assert.Equal(t, models.JobStatusCompleted, snap.Job.Status)
			break
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunnerAllFailedMarksJobFailed(t *testing.T) {
	r := NewRunner(memory.NewRegistry())

	exec := &funcExecutor{fn: func(ctx context.Context, item *models.Item, job *models.Job) (string, error) {
		return "", errors.New("boom")
	}}
	job, err := r.Create(context.Background(), CreateParams{
		UserID:   "u1",
		TaskType: "text",
		Keys:     []string{"a", "b"},
		Executor: exec,
	})
	require.NoError(t, err)

	snap := waitTerminal(t, r, job.ID)
	assert.Equal(t, models.JobStatusFailed, snap.Job.Status)
	assert.Equal(t, 2, snap.Job.Failed)
	for _, item := range snap.Items {
		assert.Equal(t, models.ItemStatusFailed, item.Status)
		assert.Equal(t, "boom", item.ErrorText)
	}
}

func TestRunnerRejectsEmptyBatch(t *testing.T) {
	r := NewRunner(memory.NewRegistry())

	_, err := r.Create(context.Background(), CreateParams{UserID: "u1", Executor: succeedAll()})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = r.Create(context.Background(), CreateParams{UserID: "u1", Keys: []string{"a"}})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRunnerCancelStopsNewClaims(t *testing.T) {
	r := NewRunner(memory.NewRegistry())

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	exec := &funcExecutor{fn: func(ctx context.Context, item *models.Item, job *models.Job) (string, error) {
		once.Do(func() { close(started) })
		<-release
		return "ok", nil
	}}

	job, err := r.Create(context.Background(), CreateParams{
		UserID:      "u1",
		TaskType:    "text",
		Keys:        []string{"a", "b", "c", "d"},
		Concurrency: 1,
		Executor:    exec,
	})
	require.NoError(t, err)

	<-started
	assert.True(t, r.Cancel(context.Background(), job.ID))
	close(release)

	snap := waitTerminal(t, r, job.ID)
	assert.Equal(t, models.JobStatusCancelled, snap.Job.Status)
	// The in-flight item ran to completion; everything still queued was
	// marked cancelled instead of executing.
	assert.Equal(t, 1, snap.Job.Done)
	assert.Equal(t, 1, snap.Job.Succeeded)
	var cancelled int
	for _, item := range snap.Items {
		if item.Status == models.ItemStatusCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 3, cancelled)

	// Terminal jobs refuse further cancellation.
	assert.False(t, r.Cancel(context.Background(), job.ID))
}

func TestRunnerCancelUnknownJob(t *testing.T) {
	r := NewRunner(memory.NewRegistry())
	assert.False(t, r.Cancel(context.Background(), uuid.New()))
}

func TestRunnerRetryResetsOnlyFailedItems(t *testing.T) {
	r := NewRunner(memory.NewRegistry())

	// First pass: "b" and "d" fail. Second pass: everything succeeds.
	var mu sync.Mutex
	pass := 1
	exec := &funcExecutor{fn: func(ctx context.Context, item *models.Item, job *models.Job) (string, error) {
		mu.Lock()
		p := pass
		mu.Unlock()
		if p == 1 && (item.Key == "b" || item.Key == "d") {
			return "", errors.New("transient")
		}
		return "ref://" + item.Key, nil
	}}

	job, err := r.Create(context.Background(), CreateParams{
		UserID:      "u1",
		TaskType:    "text",
		Keys:        []string{"a", "b", "c", "d"},
		Concurrency: 2,
		Executor:    exec,
	})
	require.NoError(t, err)

	snap := waitTerminal(t, r, job.ID)
	require.Equal(t, 2, snap.Job.Failed)
	firstStarted := map[string]time.Time{}
	for _, item := range snap.Items {
		firstStarted[item.Key] = *item.StartedAt
	}

	mu.Lock()
	pass = 2
	mu.Unlock()
	require.True(t, r.Retry(context.Background(), job.ID, exec))

	snap = waitTerminal(t, r, job.ID)
	assert.Equal(t, models.JobStatusCompleted, snap.Job.Status)
	assert.Equal(t, 4, snap.Job.Done)
	assert.Equal(t, 4, snap.Job.Succeeded)
	assert.Equal(t, 0, snap.Job.Failed)
	for _, item := range snap.Items {
		assert.Equal(t, models.ItemStatusSucceeded, item.Status)
		if item.Key == "a" || item.Key == "c" {
			// Untouched by the retry.
			assert.Equal(t, firstStarted[item.Key], *item.StartedAt)
		} else {
			assert.True(t, item.StartedAt.After(firstStarted[item.Key]))
		}
	}

	// Nothing failed anymore, so a second retry is refused.
	assert.False(t, r.Retry(context.Background(), job.ID, exec))
}

func TestRunnerRetryRefusedWhileRunning(t *testing.T) {
	r := NewRunner(memory.NewRegistry())

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	exec := &funcExecutor{fn: func(ctx context.Context, item *models.Item, job *models.Job) (string, error) {
		once.Do(func() { close(started) })
		<-release
		return "ok", nil
	}}

	job, err := r.Create(context.Background(), CreateParams{
		UserID:      "u1",
		Keys:        []string{"a"},
		Concurrency: 1,
		Executor:    exec,
	})
	require.NoError(t, err)

	<-started
	assert.False(t, r.Retry(context.Background(), job.ID, exec))
	close(release)
	waitTerminal(t, r, job.ID)
}

func TestRunnerStatusReturnsDeepCopy(t *testing.T) {
	r := NewRunner(memory.NewRegistry())

	job, err := r.Create(context.Background(), CreateParams{
		UserID:   "u1",
		Keys:     []string{"a"},
		Executor: succeedAll(),
	})
	require.NoError(t, err)
	waitTerminal(t, r, job.ID)

	snap, err := r.Status(context.Background(), job.ID)
	require.NoError(t, err)
	snap.Job.Status = models.JobStatusPending
	snap.Items[0].ResultRef = "tampered"

	again, err := r.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, again.Job.Status)
	assert.Equal(t, "ref://a", again.Items[0].ResultRef)
}

func TestDeriveTerminalStatus(t *testing.T) {
	mk := func(statuses ...models.ItemStatus) []*models.Item {
		items := make([]*models.Item, len(statuses))
		for i, s := range statuses {
			items[i] = &models.Item{ID: uuid.New(), Status: s}
		}
		return items
	}

	assert.Equal(t, models.JobStatusCancelled,
		deriveTerminalStatus(mk(models.ItemStatusSucceeded), true))
	assert.Equal(t, models.JobStatusFailed,
		deriveTerminalStatus(mk(models.ItemStatusFailed, models.ItemStatusFailed), false))
	assert.Equal(t, models.JobStatusCompleted,
		deriveTerminalStatus(mk(models.ItemStatusSucceeded, models.ItemStatusFailed), false))
	assert.Equal(t, models.JobStatusCompleted,
		deriveTerminalStatus(mk(models.ItemStatusSucceeded, models.ItemStatusSucceeded), false))
	// A batch with no failures and no successes has nothing to report as
	// failed.
	assert.Equal(t, models.JobStatusCompleted, deriveTerminalStatus(nil, false))
}

func TestRunnerReleasesRunStateAfterFinish(t *testing.T) {
	r := NewRunner(memory.NewRegistry())

	for i := 0; i < 3; i++ {
		job, err := r.Create(context.Background(), CreateParams{
			UserID:   "u1",
			Keys:     []string{"a", "b"},
			Executor: succeedAll(),
		})
		require.NoError(t, err)
		waitTerminal(t, r, job.ID)
	}

	// Scheduling state does not accumulate across finished jobs. The entry
	// is removed just after the terminal status lands, so poll briefly.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		n := len(r.runs)
		r.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("run state still held after all jobs finished")
}

func TestRunnerConcurrencyClamped(t *testing.T) {
	r := NewRunner(memory.NewRegistry())

	job, err := r.Create(context.Background(), CreateParams{
		UserID:      "u1",
		Keys:        []string{"a"},
		Concurrency: -5,
		Executor:    succeedAll(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, job.Concurrency)
	waitTerminal(t, r, job.ID)
}
