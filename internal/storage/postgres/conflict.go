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

type ConflictStore struct {
	db *sqlx.DB
}

func NewConflictStore(db *sqlx.DB) *ConflictStore {
	return &ConflictStore{db: db}
}

type conflictRow struct {
	ID               string         `db:"id"`
	MappingID        string         `db:"mapping_id"`
	InternalSnapshot []byte         `db:"internal_snapshot"`
	ExternalSnapshot []byte         `db:"external_snapshot"`
	DetectedAt       time.Time      `db:"detected_at"`
	Resolution       string         `db:"resolution"`
	ResolvedAt       *time.Time     `db:"resolved_at"`
	ResolvedBy       sql.NullString `db:"resolved_by"`
}

func (r conflictRow) toDomain() (*domain.Conflict, error) {
	c := &domain.Conflict{
		ID:         r.ID,
		MappingID:  r.MappingID,
		DetectedAt: r.DetectedAt,
		Resolution: domain.ConflictResolution(r.Resolution),
		ResolvedAt: r.ResolvedAt,
		ResolvedBy: r.ResolvedBy.String,
	}
	if err := json.Unmarshal(r.InternalSnapshot, &c.InternalSnapshot); err != nil {
		return nil, fmt.Errorf("decode internal snapshot: %w", err)
	}
	if err := json.Unmarshal(r.ExternalSnapshot, &c.ExternalSnapshot); err != nil {
		return nil, fmt.Errorf("decode external snapshot: %w", err)
	}
	return c, nil
}

func (s *ConflictStore) Create(ctx context.Context, c *domain.Conflict) error {
	internalSnap, err := json.Marshal(c.InternalSnapshot)
	if err != nil {
		return fmt.Errorf("encode internal snapshot: %w", err)
	}
	externalSnap, err := json.Marshal(c.ExternalSnapshot)
	if err != nil {
		return fmt.Errorf("encode external snapshot: %w", err)
	}

	query := `
		INSERT INTO sync_conflicts (id, mapping_id, internal_snapshot, external_snapshot, detected_at, resolution)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = GetExecutor(ctx, s.db).ExecContext(ctx, query,
		c.ID, c.MappingID, internalSnap, externalSnap, c.DetectedAt, c.Resolution)
	return err
}

func (s *ConflictStore) Get(ctx context.Context, id string) (*domain.Conflict, error) {
	query := `
		SELECT id, mapping_id, internal_snapshot, external_snapshot, detected_at, resolution, resolved_at, resolved_by
		FROM sync_conflicts
		WHERE id = $1`

	var row conflictRow
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// ListByIntegration returns the integration's conflicts, unresolved first,
// newest first within each group.
func (s *ConflictStore) ListByIntegration(ctx context.Context, integrationID string) ([]domain.Conflict, error) {
	query := `
		SELECT c.id, c.mapping_id, c.internal_snapshot, c.external_snapshot, c.detected_at, c.resolution, c.resolved_at, c.resolved_by
		FROM sync_conflicts c
		INNER JOIN sync_mappings m ON m.id = c.mapping_id
		WHERE m.integration_id = $1
		ORDER BY (c.resolution = 'unresolved') DESC, c.detected_at DESC`

	var rows []conflictRow
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query, integrationID); err != nil {
		return nil, err
	}

	conflicts := make([]domain.Conflict, 0, len(rows))
	for _, row := range rows {
		c, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, *c)
	}
	return conflicts, nil
}

// Resolve marks an unresolved conflict with the chosen resolution. Resolving
// an already-resolved conflict is rejected so the audit trail stays intact.
func (s *ConflictStore) Resolve(ctx context.Context, id string, resolution domain.ConflictResolution, resolvedBy string, at time.Time) error {
	query := `
		UPDATE sync_conflicts
		SET resolution = $1, resolved_at = $2, resolved_by = $3
		WHERE id = $4 AND resolution = 'unresolved'`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, resolution, at, resolvedBy, id)
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
