package primary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bragi/internal/models"
	"bragi/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// --- Batch Registry Implementation ---

const jobColumns = `id, project_id, user_id, task_type, total_items, done, succeeded, failed,
	concurrency, status, continuation, created_at, updated_at`

const itemColumns = `id, job_id, key, status, result_ref, error_text, started_at, completed_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	job := &models.Job{}
	var continuation []byte
	err := row.Scan(
		&job.ID, &job.ProjectID, &job.UserID, &job.TaskType,
		&job.TotalItems, &job.Done, &job.Succeeded, &job.Failed,
		&job.Concurrency, &job.Status, &continuation,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(continuation) > 0 {
		job.Continuation = &models.Continuation{}
		if err := json.Unmarshal(continuation, job.Continuation); err != nil {
			return nil, fmt.Errorf("decode continuation for job %s: %w", job.ID, err)
		}
	}
	return job, nil
}

func continuationJSON(job *models.Job) ([]byte, error) {
	if job.Continuation == nil {
		return nil, nil
	}
	return json.Marshal(job.Continuation)
}

// Put inserts the job row and its items in one transaction.
func (s *StoreImpl) Put(ctx context.Context, job *models.Job, items []*models.Item) error {
	cont, err := continuationJSON(job)
	if err != nil {
		return fmt.Errorf("put job %s: encode continuation: %w", job.ID, err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("put job %s: begin tx: %w", job.ID, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO batch_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.ProjectID, job.UserID, job.TaskType,
		job.TotalItems, job.Done, job.Succeeded, job.Failed,
		job.Concurrency, job.Status, cont, job.CreatedAt, job.UpdatedAt); err != nil {
		return fmt.Errorf("put job %s: %w", job.ID, err)
	}

	batch := &pgx.Batch{}
	for i, it := range items {
		batch.Queue(
			`INSERT INTO batch_items (id, job_id, position, key, status, result_ref, error_text, started_at, completed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			it.ID, it.JobID, i, it.Key, it.Status, it.ResultRef, it.ErrorText, it.StartedAt, it.CompletedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("put job %s: insert items: %w", job.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("put job %s: commit: %w", job.ID, err)
	}
	return nil
}

func (s *StoreImpl) loadItems(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.Item, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+itemColumns+` FROM batch_items WHERE job_id = $1 ORDER BY position`,
		jobID)
	if err != nil {
		return nil, fmt.Errorf("query items for job %s: %w", jobID, err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Item, error) {
		it := &models.Item{}
		err := row.Scan(&it.ID, &it.JobID, &it.Key, &it.Status, &it.ResultRef,
			&it.ErrorText, &it.StartedAt, &it.CompletedAt)
		return it, err
	})
}

// Get returns the job and its items. Rows scanned from the database are
// fresh copies by construction.
func (s *StoreImpl) Get(ctx context.Context, jobID uuid.UUID) (*models.Job, []*models.Item, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("get job %s: begin tx: %w", jobID, err)
	}
	defer tx.Rollback(ctx)

	job, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM batch_jobs WHERE id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("get job %s: %w", jobID, err)
	}

	items, err := s.loadItems(ctx, tx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return job, items, tx.Commit(ctx)
}

// Update runs fn against a row-locked read of the job and writes the result
// back in the same transaction. The FOR UPDATE lock gives the same
// single-writer-per-job semantics the in-memory registry gets from its
// per-job mutex.
func (s *StoreImpl) Update(ctx context.Context, jobID uuid.UUID, fn func(job *models.Job, items []*models.Item) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("update job %s: begin tx: %w", jobID, err)
	}
	defer tx.Rollback(ctx)

	job, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM batch_jobs WHERE id = $1 FOR UPDATE`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
		}
		return fmt.Errorf("update job %s: %w", jobID, err)
	}

	items, err := s.loadItems(ctx, tx, jobID)
	if err != nil {
		return err
	}

	if err := fn(job, items); err != nil {
		return err
	}

	cont, err := continuationJSON(job)
	if err != nil {
		return fmt.Errorf("update job %s: encode continuation: %w", jobID, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE batch_jobs SET total_items = $1, done = $2, succeeded = $3, failed = $4,
		 concurrency = $5, status = $6, continuation = $7, updated_at = $8
		 WHERE id = $9`,
		job.TotalItems, job.Done, job.Succeeded, job.Failed,
		job.Concurrency, job.Status, cont, job.UpdatedAt, jobID); err != nil {
		return fmt.Errorf("update job %s: write job: %w", jobID, err)
	}

	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(
			`UPDATE batch_items SET status = $1, result_ref = $2, error_text = $3,
			 started_at = $4, completed_at = $5 WHERE id = $6`,
			it.Status, it.ResultRef, it.ErrorText, it.StartedAt, it.CompletedAt, it.ID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("update job %s: write items: %w", jobID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("update job %s: commit: %w", jobID, err)
	}
	return nil
}

// List returns jobs ordered by creation time, newest first.
func (s *StoreImpl) List(ctx context.Context, limit, offset int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM batch_jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Job, error) {
		return scanJob(row)
	})
}

// Evict deletes the job; items follow via ON DELETE CASCADE.
func (s *StoreImpl) Evict(ctx context.Context, jobID uuid.UUID) error {
	cmdTag, err := s.db.Exec(ctx, `DELETE FROM batch_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("evict job %s: %w", jobID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	return nil
}

var _ store.BatchRegistry = (*StoreImpl)(nil)
