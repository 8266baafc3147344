package primary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bragi/internal/models"
	"bragi/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	log "github.com/sirupsen/logrus"
)

// --- Ledger Implementation ---

// Reserve holds amount against the user's balance inside a single
// transaction. The balance decrement uses a guarded UPDATE, so concurrent
// reservations can never together exceed the balance; the reservation row's
// primary key makes repeated attempts for the same (refType, refID) no-ops.
func (s *StoreImpl) Reserve(ctx context.Context, userID string, amount int64, refType string, refID uuid.UUID) (bool, error) {
	if amount < 0 {
		return false, fmt.Errorf("reserve: negative amount %d: %w", amount, models.ErrValidation)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("reserve: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lazily create the account so first-time users start at zero.
	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID); err != nil {
		return false, fmt.Errorf("reserve: ensure account %s: %w", userID, err)
	}

	// At-least-once safety: if the reservation already exists, an earlier
	// attempt already decremented the balance.
	var existing string
	err = tx.QueryRow(ctx,
		`SELECT state FROM credit_reservations WHERE ref_type = $1 AND ref_id = $2`,
		refType, refID).Scan(&existing)
	if err == nil {
		return true, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("reserve: check reservation %s/%s: %w", refType, refID, err)
	}

	cmdTag, err := tx.Exec(ctx,
		`UPDATE credit_accounts SET balance = balance - $1, updated_at = $2
		 WHERE user_id = $3 AND balance >= $1`,
		amount, time.Now(), userID)
	if err != nil {
		return false, fmt.Errorf("reserve: decrement balance for %s: %w", userID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		// Insufficient funds; the rollback leaves no side effects.
		return false, nil
	}

	now := time.Now()
	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_reservations (ref_type, ref_id, user_id, amount, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		refType, refID, userID, amount, models.ReservationHeld, now); err != nil {
		return false, fmt.Errorf("reserve: insert reservation %s/%s: %w", refType, refID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("reserve: commit: %w", err)
	}
	return true, nil
}

// Finalize commits a held reservation as spent. Already finalized or
// refunded reservations are left untouched.
func (s *StoreImpl) Finalize(ctx context.Context, refType string, refID uuid.UUID) error {
	cmdTag, err := s.db.Exec(ctx,
		`UPDATE credit_reservations SET state = $1, updated_at = $2
		 WHERE ref_type = $3 AND ref_id = $4 AND state = $5`,
		models.ReservationFinalized, time.Now(), refType, refID, models.ReservationHeld)
	if err != nil {
		return fmt.Errorf("finalize %s/%s: %w", refType, refID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		var state string
		err := s.db.QueryRow(ctx,
			`SELECT state FROM credit_reservations WHERE ref_type = $1 AND ref_id = $2`,
			refType, refID).Scan(&state)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("finalize %s/%s: %w", refType, refID, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("finalize %s/%s: %w", refType, refID, err)
		}
		log.Debugf("Finalize for %s/%s is a no-op, reservation state is %q", refType, refID, state)
	}
	return nil
}

// Refund releases amount back to the balance. The guarded UPDATE (held state,
// no prior refund) makes retries no-ops; the balance credit happens in the
// same transaction as the reservation mutation.
func (s *StoreImpl) Refund(ctx context.Context, amount int64, refType string, refID uuid.UUID) error {
	if amount < 0 {
		return fmt.Errorf("refund: negative amount %d: %w", amount, models.ErrValidation)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("refund: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	var refundUser string
	err = tx.QueryRow(ctx,
		`UPDATE credit_reservations
		 SET refunded_amount = $1,
		     state = CASE WHEN $1 = amount THEN $2 ELSE state END,
		     updated_at = $3
		 WHERE ref_type = $4 AND ref_id = $5 AND state = $6 AND refunded_amount = 0 AND amount >= $1
		 RETURNING user_id`,
		amount, models.ReservationRefunded, now, refType, refID, models.ReservationHeld).Scan(&refundUser)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either already refunded (retry) or not refundable; distinguish
		// the missing-reservation case for the caller.
		var state string
		checkErr := tx.QueryRow(ctx,
			`SELECT state FROM credit_reservations WHERE ref_type = $1 AND ref_id = $2`,
			refType, refID).Scan(&state)
		if errors.Is(checkErr, pgx.ErrNoRows) {
			return fmt.Errorf("refund %s/%s: %w", refType, refID, models.ErrNotFound)
		}
		if checkErr != nil {
			return fmt.Errorf("refund %s/%s: %w", refType, refID, checkErr)
		}
		log.Debugf("Refund for %s/%s is a no-op, reservation state is %q", refType, refID, state)
		return tx.Commit(ctx)
	}
	if err != nil {
		return fmt.Errorf("refund %s/%s: %w", refType, refID, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE credit_accounts SET balance = balance + $1, updated_at = $2 WHERE user_id = $3`,
		amount, now, refundUser); err != nil {
		return fmt.Errorf("refund %s/%s: credit balance for %s: %w", refType, refID, refundUser, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("refund: commit: %w", err)
	}
	return nil
}

// Balance returns the user's current balance, creating the account lazily.
func (s *StoreImpl) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO credit_accounts (user_id) VALUES ($1)
		 ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING balance`,
		userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("balance for %s: %w", userID, err)
	}
	return balance, nil
}

// Grant adds amount to the user's balance.
func (s *StoreImpl) Grant(ctx context.Context, userID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("grant: negative amount %d: %w", amount, models.ErrValidation)
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO credit_accounts (user_id, balance) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET balance = credit_accounts.balance + $2, updated_at = now()`,
		userID, amount)
	if err != nil {
		return fmt.Errorf("grant %d to %s: %w", amount, userID, err)
	}
	return nil
}

var _ store.Ledger = (*StoreImpl)(nil)
