package memory

import (
	"context"
	"sync"
	"testing"

	"bragi/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const refType = "batch_job"

func TestLedgerReserveAndBalance(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	require.NoError(t, l.Grant(ctx, "u1", 100))

	refID := uuid.New()
	ok, err := l.Reserve(ctx, "u1", 60, refType, refID)
	require.NoError(t, err)
	assert.True(t, ok)

	balance, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)

	// A second hold over the remaining balance is denied without side
	// effects.
	ok, err = l.Reserve(ctx, "u1", 50, refType, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
	balance, err = l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)
}

func TestLedgerReserveIsIdempotentPerRef(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	require.NoError(t, l.Grant(ctx, "u1", 100))

	refID := uuid.New()
	for i := 0; i < 3; i++ {
		ok, err := l.Reserve(ctx, "u1", 60, refType, refID)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// Only one hold was taken.
	balance, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)
}

func TestLedgerConcurrentReservesNeverOverdraw(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	require.NoError(t, l.Grant(ctx, "u1", 50))

	// 20 workers racing for 10-credit holds against a 50-credit balance:
	// exactly 5 can win.
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Reserve(ctx, "u1", 10, refType, uuid.New())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, granted)
	balance, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestLedgerRefundAndFinalize(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	require.NoError(t, l.Grant(ctx, "u1", 30))

	refID := uuid.New()
	ok, err := l.Reserve(ctx, "u1", 30, refType, refID)
	require.NoError(t, err)
	require.True(t, ok)

	// Partial refund returns credit; the rest stays held.
	require.NoError(t, l.Refund(ctx, 12, refType, refID))
	balance, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), balance)

	// A repeated refund is a no-op, not a second credit.
	require.NoError(t, l.Refund(ctx, 12, refType, refID))
	balance, err = l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), balance)

	require.NoError(t, l.Finalize(ctx, refType, refID))
	res, found := l.Reservation(refType, refID)
	require.True(t, found)
	assert.Equal(t, models.ReservationFinalized, res.State)
	assert.Equal(t, int64(12), res.RefundedAmount)

	// Finalize is idempotent, and refunds after finalize change nothing.
	require.NoError(t, l.Finalize(ctx, refType, refID))
	require.NoError(t, l.Refund(ctx, 12, refType, refID))
	balance, err = l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), balance)
}

func TestLedgerFullRefundMarksRefunded(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	require.NoError(t, l.Grant(ctx, "u1", 30))

	refID := uuid.New()
	ok, err := l.Reserve(ctx, "u1", 30, refType, refID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Refund(ctx, 30, refType, refID))
	res, found := l.Reservation(refType, refID)
	require.True(t, found)
	assert.Equal(t, models.ReservationRefunded, res.State)

	balance, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)
}

func TestLedgerRefundValidation(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	require.NoError(t, l.Grant(ctx, "u1", 30))

	refID := uuid.New()
	ok, err := l.Reserve(ctx, "u1", 20, refType, refID)
	require.NoError(t, err)
	require.True(t, ok)

	err = l.Refund(ctx, 25, refType, refID)
	assert.ErrorIs(t, err, models.ErrValidation)

	err = l.Refund(ctx, 5, refType, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = l.Finalize(ctx, refType, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLedgerNegativeAmountsRejected(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	assert.ErrorIs(t, l.Grant(ctx, "u1", -1), models.ErrValidation)

	_, err := l.Reserve(ctx, "u1", -1, refType, uuid.New())
	assert.ErrorIs(t, err, models.ErrValidation)
}
