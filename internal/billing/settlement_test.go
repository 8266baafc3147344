package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bragi/internal/batch"
	"bragi/internal/models"
	"bragi/internal/store/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcExecutor struct {
	fn func(ctx context.Context, item *models.Item, job *models.Job) (string, error)
}

func (e *funcExecutor) Name() string { return "test" }

func (e *funcExecutor) Execute(ctx context.Context, item *models.Item, job *models.Job) (string, error) {
	return e.fn(ctx, item, job)
}

func newHarness(t *testing.T) (*memory.Ledger, *batch.Runner, *Settlement) {
	t.Helper()
	ledger := memory.NewLedger()
	runner := batch.NewRunner(memory.NewRegistry())
	settlement := NewSettlement(ledger, runner, 5*time.Millisecond, 400)
	return ledger, runner, settlement
}

// waitReservation polls until the reservation leaves the held state.
func waitReservation(t *testing.T, ledger *memory.Ledger, jobID uuid.UUID) *models.Reservation {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res, ok := ledger.Reservation(RefTypeBatchJob, jobID)
		require.True(t, ok)
		if res.State != models.ReservationHeld {
			return res
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("reservation never settled")
	return nil
}

func TestRunMeteredFullSuccess(t *testing.T) {
	ledger, _, settlement := newHarness(t)
	ctx := context.Background()
	require.NoError(t, ledger.Grant(ctx, "u1", 30))

	exec := &funcExecutor{fn: func(ctx context.Context, item *models.Item, job *models.Job) (string, error) {
		return "ok", nil
	}}
	job, err := settlement.RunMetered(ctx, MeteredParams{
		UserID:      "u1",
		TaskType:    "text",
		Keys:        []string{"a", "b", "c", "d", "e"},
		Concurrency: 2,
		CostPerItem: 6,
	}, exec)
	require.NoError(t, err)

	// The full cost is held up front.
	balance, err := ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	res := waitReservation(t, ledger, job.ID)
	assert.Equal(t, models.ReservationFinalized, res.State)
	assert.Equal(t, int64(30), res.Amount)
	assert.Equal(t, int64(0), res.RefundedAmount)

	balance, err = ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestRunMeteredPartialFailureRefundsUnfulfilled(t *testing.T) {
	ledger, _, settlement := newHarness(t)
	ctx := context.Background()
	require.NoError(t, ledger.Grant(ctx, "u1", 30))

	exec := &funcExecutor{fn: func(ctx context.Context, item *models.Item, job *models.Job) (string, error) {
		if item.Key == "b" || item.Key == "d" {
			return "", errors.New("provider error")
		}
		return "ok", nil
	}}
	job, err := settlement.RunMetered(ctx, MeteredParams{
		UserID:      "u1",
		TaskType:    "text",
		Keys:        []string{"a", "b", "c", "d", "e"},
		Concurrency: 2,
		CostPerItem: 6,
	}, exec)
	require.NoError(t, err)

	res := waitReservation(t, ledger, job.ID)
	assert.Equal(t, models.ReservationFinalized, res.State)
	assert.Equal(t, int64(12), res.RefundedAmount)

	// Only the two failed items came back.
	balance, err := ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), balance)
}

func TestRunMeteredInsufficientCredits(t *testing.T) {
	ledger, runner, settlement := newHarness(t)
	ctx := context.Background()
	require.NoError(t, ledger.Grant(ctx, "u1", 10))

	var calls int
	var mu sync.Mutex
	exec := &funcExecutor{fn: func(ctx context.Context, item *models.Item, job *models.Job) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return "ok", nil
	}}

	job, err := settlement.RunMetered(ctx, MeteredParams{
		UserID:      "u1",
		TaskType:    "text",
		Keys:        []string{"a", "b", "c", "d", "e"},
		CostPerItem: 6,
	}, exec)
	assert.Nil(t, job)
	assert.ErrorIs(t, err, models.ErrInsufficientCredits)

	// Denied synchronously: no job exists, no executor ran, balance intact.
	_ = runner
	mu.Lock()
	assert.Equal(t, 0, calls)
	mu.Unlock()
	balance, err := ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestRunMeteredRejectsNegativeCost(t *testing.T) {
	_, _, settlement := newHarness(t)
	exec := &funcExecutor{fn: func(ctx context.Context, item *models.Item, job *models.Job) (string, error) {
		return "ok", nil
	}}
	_, err := settlement.RunMetered(context.Background(), MeteredParams{
		UserID:      "u1",
		Keys:        []string{"a"},
		CostPerItem: -1,
	}, exec)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRunMeteredBypassSkipsReservation(t *testing.T) {
	ledger, runner, settlement := newHarness(t)
	ctx := context.Background()
	require.NoError(t, ledger.Grant(ctx, "u1", 5))

	exec := &funcExecutor{fn: func(ctx context.Context, item *models.Item, job *models.Job) (string, error) {
		return "ok", nil
	}}
	job, err := settlement.RunMetered(ctx, MeteredParams{
		UserID:      "u1",
		TaskType:    "text",
		Keys:        []string{"a", "b", "c"},
		CostPerItem: 6,
		Bypass:      true,
	}, exec)
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := runner.Status(ctx, job.ID)
		require.NoError(t, err)
		if snap.Job.Status.Terminal() {
			assert.Equal(t, models.JobStatusCompleted, snap.Job.Status)
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	// No hold was ever taken.
	_, ok := ledger.Reservation(RefTypeBatchJob, job.ID)
	assert.False(t, ok)
	balance, err := ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
}

func TestRunMeteredCreateFailureReleasesHold(t *testing.T) {
	ledger, _, settlement := newHarness(t)
	ctx := context.Background()
	require.NoError(t, ledger.Grant(ctx, "u1", 30))

	// A nil executor makes the runner reject the job after the hold is taken.
	job, err := settlement.RunMetered(ctx, MeteredParams{
		UserID:      "u1",
		Keys:        []string{"a", "b"},
		CostPerItem: 6,
	}, nil)
	assert.Nil(t, job)
	assert.ErrorIs(t, err, models.ErrValidation)

	balance, err := ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)
}
