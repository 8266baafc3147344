package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bragi/internal/models"
	"bragi/internal/store"

	"github.com/google/uuid"
)

type reservationKey struct {
	refType string
	refID   uuid.UUID
}

// Ledger is a mutex-guarded in-memory implementation of store.Ledger. It is
// the default backend when no database DSN is configured, and the backend
// used by tests.
type Ledger struct {
	mu           sync.Mutex
	accounts     map[string]*models.CreditAccount
	reservations map[reservationKey]*models.Reservation
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		accounts:     make(map[string]*models.CreditAccount),
		reservations: make(map[reservationKey]*models.Reservation),
	}
}

func (l *Ledger) account(userID string) *models.CreditAccount {
	acct, ok := l.accounts[userID]
	if !ok {
		now := time.Now()
		acct = &models.CreditAccount{UserID: userID, CreatedAt: now, UpdatedAt: now}
		l.accounts[userID] = acct
	}
	return acct
}

// Reserve holds amount against the user's balance. The whole check-and-
// decrement happens under the ledger mutex, so concurrent reservations can
// never together exceed the balance.
func (l *Ledger) Reserve(ctx context.Context, userID string, amount int64, refType string, refID uuid.UUID) (bool, error) {
	if amount < 0 {
		return false, fmt.Errorf("reserve: negative amount %d: %w", amount, models.ErrValidation)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := reservationKey{refType: refType, refID: refID}
	if _, ok := l.reservations[key]; ok {
		// Already held by an earlier attempt; at-least-once safe.
		return true, nil
	}

	acct := l.account(userID)
	if acct.Balance < amount {
		return false, nil
	}

	now := time.Now()
	acct.Balance -= amount
	acct.UpdatedAt = now
	l.reservations[key] = &models.Reservation{
		RefType:   refType,
		RefID:     refID,
		UserID:    userID,
		Amount:    amount,
		State:     models.ReservationHeld,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return true, nil
}

// Finalize commits a held reservation as spent. No-op if already finalized.
func (l *Ledger) Finalize(ctx context.Context, refType string, refID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[reservationKey{refType: refType, refID: refID}]
	if !ok {
		return fmt.Errorf("finalize %s/%s: %w", refType, refID, models.ErrNotFound)
	}
	if res.State == models.ReservationFinalized {
		return nil
	}
	res.State = models.ReservationFinalized
	res.UpdatedAt = time.Now()
	return nil
}

// Refund releases amount back to the balance. A repeated refund for the same
// reservation is a no-op, so at-least-once retries from settlement are safe.
func (l *Ledger) Refund(ctx context.Context, amount int64, refType string, refID uuid.UUID) error {
	if amount < 0 {
		return fmt.Errorf("refund: negative amount %d: %w", amount, models.ErrValidation)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[reservationKey{refType: refType, refID: refID}]
	if !ok {
		return fmt.Errorf("refund %s/%s: %w", refType, refID, models.ErrNotFound)
	}
	if res.State != models.ReservationHeld || res.RefundedAmount > 0 {
		return nil
	}
	if amount > res.Amount {
		return fmt.Errorf("refund %s/%s: amount %d exceeds held %d: %w", refType, refID, amount, res.Amount, models.ErrValidation)
	}

	now := time.Now()
	res.RefundedAmount = amount
	res.UpdatedAt = now
	if amount == res.Amount {
		res.State = models.ReservationRefunded
	}
	acct := l.account(res.UserID)
	acct.Balance += amount
	acct.UpdatedAt = now
	return nil
}

// Balance returns the user's current balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account(userID).Balance, nil
}

// Grant adds amount to the user's balance.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("grant: negative amount %d: %w", amount, models.ErrValidation)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.account(userID)
	acct.Balance += amount
	acct.UpdatedAt = time.Now()
	return nil
}

// Reservation returns a copy of a reservation, mainly for tests and audits.
func (l *Ledger) Reservation(refType string, refID uuid.UUID) (*models.Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.reservations[reservationKey{refType: refType, refID: refID}]
	if !ok {
		return nil, false
	}
	cp := *res
	return &cp, true
}

var _ store.Ledger = (*Ledger)(nil)
