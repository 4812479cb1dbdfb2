package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sanyamjain04/plane/internal/domain"
)

type CheckpointStore struct {
	db *sqlx.DB
}

func NewCheckpointStore(db *sqlx.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

func (s *CheckpointStore) Get(ctx context.Context, integrationID, repoRef string) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	query := `
		SELECT id, integration_id, repo_ref, cursor, last_synced_at, total_synced
		FROM sync_checkpoints
		WHERE integration_id = $1 AND repo_ref = $2`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &cp, query, integrationID, repoRef)
	if errors.Is(err, sql.ErrNoRows) {
		// Fresh pair: zero since-time means a full initial pull.
		return &domain.Checkpoint{
			IntegrationID: integrationID,
			RepoRef:       repoRef,
			LastSyncedAt:  time.Time{},
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// ListSyncTargets returns the (integration, repository) pairs that have
// synced at least once and whose integration is still enabled. The background
// sweep refreshes exactly these pairs.
func (s *CheckpointStore) ListSyncTargets(ctx context.Context) ([]domain.SyncTarget, error) {
	query := `
		SELECT c.integration_id, c.repo_ref
		FROM sync_checkpoints c
		JOIN integrations i ON i.id::text = c.integration_id
		WHERE i.enabled
		ORDER BY c.last_synced_at`

	var targets []domain.SyncTarget
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &targets, query)
	return targets, err
}

func (s *CheckpointStore) Update(ctx context.Context, cp *domain.Checkpoint) error {
	query := `
		INSERT INTO sync_checkpoints (integration_id, repo_ref, cursor, last_synced_at, total_synced)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (integration_id, repo_ref) DO UPDATE SET
			cursor = EXCLUDED.cursor,
			last_synced_at = EXCLUDED.last_synced_at,
			total_synced = EXCLUDED.total_synced`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		cp.IntegrationID,
		cp.RepoRef,
		cp.Cursor,
		cp.LastSyncedAt,
		cp.TotalSynced,
	)
	return err
}
