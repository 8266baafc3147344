package primary

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StoreImpl implements the store interfaces (Ledger, BatchRegistry,
// UsageStore) on PostgreSQL.
type StoreImpl struct {
	db *pgxpool.Pool
}

// NewStore creates a new PostgreSQL store.
func NewStore(ctx context.Context, dsn string) (*StoreImpl, error) {
	if dsn == "" {
		return nil, errors.New("database DSN cannot be empty")
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database DSN: %w", err)
	}

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &StoreImpl{db: dbpool}, nil
}

// Ping checks the database connection.
func (s *StoreImpl) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the connection pool.
func (s *StoreImpl) Close() {
	s.db.Close()
}

// EnsureSchema creates the engine's tables when they do not exist yet.
func (s *StoreImpl) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS credit_accounts (
			user_id    TEXT PRIMARY KEY,
			balance    BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS credit_reservations (
			ref_type        TEXT NOT NULL,
			ref_id          UUID NOT NULL,
			user_id         TEXT NOT NULL REFERENCES credit_accounts(user_id),
			amount          BIGINT NOT NULL,
			refunded_amount BIGINT NOT NULL DEFAULT 0,
			state           TEXT NOT NULL DEFAULT 'held',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (ref_type, ref_id)
		)`,
		`CREATE TABLE IF NOT EXISTS batch_jobs (
			id           UUID PRIMARY KEY,
			project_id   TEXT NOT NULL,
			user_id      TEXT NOT NULL,
			task_type    TEXT NOT NULL,
			total_items  INT NOT NULL,
			done         INT NOT NULL DEFAULT 0,
			succeeded    INT NOT NULL DEFAULT 0,
			failed       INT NOT NULL DEFAULT 0,
			concurrency  INT NOT NULL,
			status       TEXT NOT NULL,
			continuation JSONB,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS batch_items (
			id           UUID PRIMARY KEY,
			job_id       UUID NOT NULL REFERENCES batch_jobs(id) ON DELETE CASCADE,
			position     INT NOT NULL,
			key          TEXT NOT NULL,
			status       TEXT NOT NULL,
			result_ref   TEXT NOT NULL DEFAULT '',
			error_text   TEXT NOT NULL DEFAULT '',
			started_at   TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS ai_usage_logs (
			id             BIGSERIAL PRIMARY KEY,
			timestamp      TIMESTAMPTZ NOT NULL,
			provider_name  TEXT NOT NULL,
			service_type   TEXT NOT NULL,
			model_name     TEXT NOT NULL,
			input_tokens   INT NOT NULL,
			output_tokens  INT NOT NULL,
			cost           DOUBLE PRECISION NOT NULL,
			related_job_id UUID
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
