package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sanyamjain04/plane/internal/domain"
	"github.com/sanyamjain04/plane/internal/storage"
)

// staleRunningAfter is how long a Running job may go without progress before
// a worker may reclaim it as abandoned.
const staleRunningAfter = 5 * time.Minute

type ImportJobStore struct {
	db *sqlx.DB
}

func NewImportJobStore(db *sqlx.DB) *ImportJobStore {
	return &ImportJobStore{db: db}
}

const jobColumns = `id, workspace_id, project_id, source_kind, source_config, total_items,
	processed, succeeded, failed, cursor, status, cancel_requested, created_by, created_at, completed_at`

type jobRow struct {
	ID              string          `db:"id"`
	WorkspaceID     string          `db:"workspace_id"`
	ProjectID       string          `db:"project_id"`
	SourceKind      string          `db:"source_kind"`
	SourceConfig    json.RawMessage `db:"source_config"`
	TotalItems      *int64          `db:"total_items"`
	Processed       int64           `db:"processed"`
	Succeeded       int64           `db:"succeeded"`
	Failed          int64           `db:"failed"`
	Cursor          string          `db:"cursor"`
	Status          string          `db:"status"`
	CancelRequested bool            `db:"cancel_requested"`
	CreatedBy       string          `db:"created_by"`
	CreatedAt       time.Time       `db:"created_at"`
	CompletedAt     *time.Time      `db:"completed_at"`
}

func (r jobRow) toDomain() *domain.ImportJob {
	return &domain.ImportJob{
		ID:              r.ID,
		WorkspaceID:     r.WorkspaceID,
		ProjectID:       r.ProjectID,
		SourceKind:      r.SourceKind,
		SourceConfig:    r.SourceConfig,
		TotalItems:      r.TotalItems,
		Processed:       r.Processed,
		Succeeded:       r.Succeeded,
		Failed:          r.Failed,
		Cursor:          r.Cursor,
		Status:          domain.JobStatus(r.Status),
		CancelRequested: r.CancelRequested,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
		CompletedAt:     r.CompletedAt,
	}
}

func (s *ImportJobStore) Create(ctx context.Context, job *domain.ImportJob) error {
	query := `
		INSERT INTO import_jobs (
			id, workspace_id, project_id, source_kind, source_config,
			cursor, status, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		job.ID,
		job.WorkspaceID,
		job.ProjectID,
		job.SourceKind,
		job.SourceConfig,
		job.Cursor,
		job.Status,
		job.CreatedBy,
		job.CreatedAt,
	)
	return err
}

func (s *ImportJobStore) Get(ctx context.Context, id string) (*domain.ImportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs WHERE id = $1`

	var row jobRow
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

// ClaimNextQueued atomically transitions the oldest claimable job to Running.
// Queued jobs are claimable, as are Running jobs abandoned by a dead worker
// (no progress for staleRunningAfter); those resume from their persisted
// cursor.
func (s *ImportJobStore) ClaimNextQueued(ctx context.Context) (*domain.ImportJob, error) {
	query := `
		UPDATE import_jobs
		SET status = 'running', updated_at = NOW()
		WHERE id = (
			SELECT id FROM import_jobs
			WHERE status = 'queued'
			   OR (status = 'running' AND updated_at < NOW() - $1::interval)
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns

	var row jobRow
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query, staleRunningAfter.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNoQueuedJob
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *ImportJobStore) NextBatchSeq(ctx context.Context, jobID string) (int64, error) {
	var seq int64
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &seq,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM import_batches WHERE job_id = $1`, jobID)
	return seq, err
}

// SealBatch writes the immutable batch record and advances the job's counts
// and cursor in one transaction, so the checkpoint never points past work
// that is not durably accounted for.
func (s *ImportJobStore) SealBatch(ctx context.Context, job *domain.ImportJob, batch *domain.ImportBatch) error {
	outcomes, err := json.Marshal(batch.Outcomes)
	if err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO import_batches (id, job_id, seq, item_count, outcomes, sealed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		batch.ID, batch.JobID, batch.Seq, batch.ItemCount, outcomes, batch.SealedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE import_jobs
		SET total_items = $1, processed = $2, succeeded = $3, failed = $4, cursor = $5, updated_at = NOW()
		WHERE id = $6`,
		job.TotalItems, job.Processed, job.Succeeded, job.Failed, job.Cursor, job.ID,
	)
	if err != nil {
		return fmt.Errorf("advance job: %w", err)
	}

	return tx.Commit()
}

func (s *ImportJobStore) Finish(ctx context.Context, jobID string, status domain.JobStatus, completedAt time.Time) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		UPDATE import_jobs
		SET status = $1, completed_at = $2, updated_at = NOW()
		WHERE id = $3`,
		status, completedAt, jobID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *ImportJobStore) IsCancelRequested(ctx context.Context, jobID string) (bool, error) {
	var cancelled bool
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &cancelled,
		`SELECT cancel_requested FROM import_jobs WHERE id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, storage.ErrNotFound
	}
	return cancelled, err
}

// RequestCancel flags a non-terminal job for cooperative cancellation; the
// worker observes the flag between batches. A job that exists but already
// reached a terminal status yields ErrJobNotCancellable, not ErrNotFound.
func (s *ImportJobStore) RequestCancel(ctx context.Context, jobID string) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		UPDATE import_jobs
		SET cancel_requested = TRUE, updated_at = NOW()
		WHERE id = $1 AND status IN ('queued', 'running')`,
		jobID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var status string
		err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &status,
			`SELECT status FROM import_jobs WHERE id = $1`, jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		return storage.ErrJobNotCancellable
	}
	return nil
}

// ListBatches returns a job's sealed batches in sequence order.
func (s *ImportJobStore) ListBatches(ctx context.Context, jobID string) ([]domain.ImportBatch, error) {
	type batchRow struct {
		ID        string    `db:"id"`
		JobID     string    `db:"job_id"`
		Seq       int64     `db:"seq"`
		ItemCount int       `db:"item_count"`
		Outcomes  []byte    `db:"outcomes"`
		SealedAt  time.Time `db:"sealed_at"`
	}

	var rows []batchRow
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, `
		SELECT id, job_id, seq, item_count, outcomes, sealed_at
		FROM import_batches
		WHERE job_id = $1
		ORDER BY seq`, jobID)
	if err != nil {
		return nil, err
	}

	batches := make([]domain.ImportBatch, 0, len(rows))
	for _, row := range rows {
		b := domain.ImportBatch{
			ID:        row.ID,
			JobID:     row.JobID,
			Seq:       row.Seq,
			ItemCount: row.ItemCount,
			SealedAt:  row.SealedAt,
		}
		if err := json.Unmarshal(row.Outcomes, &b.Outcomes); err != nil {
			return nil, fmt.Errorf("decode outcomes: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, nil
}
