package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sanyamjain04/plane/internal/domain"
	"github.com/sanyamjain04/plane/internal/storage"
)

const pqUniqueViolation = "23505"

// MappingStore persists the identity bijection between internal entities and
// their external counterparts.
type MappingStore struct {
	db *sqlx.DB
}

func NewMappingStore(db *sqlx.DB) *MappingStore {
	return &MappingStore{db: db}
}

const mappingColumns = `id, integration_id, entity_type, internal_id, external_id, repo_ref,
	internal_revision, external_revision, last_synced_at, created_at`

func (s *MappingStore) ResolveInternal(ctx context.Context, integrationID string, entityType domain.EntityType, externalID string) (*domain.Mapping, error) {
	query := `SELECT ` + mappingColumns + `
		FROM sync_mappings
		WHERE integration_id = $1 AND entity_type = $2 AND external_id = $3`

	var m domain.Mapping
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &m, query, integrationID, entityType, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MappingStore) ResolveExternal(ctx context.Context, integrationID string, entityType domain.EntityType, internalID string) (*domain.Mapping, error) {
	query := `SELECT ` + mappingColumns + `
		FROM sync_mappings
		WHERE integration_id = $1 AND entity_type = $2 AND internal_id = $3`

	var m domain.Mapping
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &m, query, integrationID, entityType, internalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Upsert inserts the mapping or refreshes the revision markers of the
// existing one. Re-binding either side of an existing link to a different
// counterpart is rejected with ErrDuplicateBinding, never silently
// overwritten.
func (s *MappingStore) Upsert(ctx context.Context, m *domain.Mapping) error {
	exec := GetExecutor(ctx, s.db)

	existing, err := s.ResolveInternal(ctx, m.IntegrationID, m.EntityType, m.ExternalID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if existing != nil && existing.InternalID != m.InternalID {
		return fmt.Errorf("external id %s already bound to %s: %w", m.ExternalID, existing.InternalID, storage.ErrDuplicateBinding)
	}

	query := `
		INSERT INTO sync_mappings (
			id, integration_id, entity_type, internal_id, external_id, repo_ref,
			internal_revision, external_revision, last_synced_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (integration_id, entity_type, internal_id) DO UPDATE SET
			internal_revision = EXCLUDED.internal_revision,
			external_revision = EXCLUDED.external_revision,
			last_synced_at = EXCLUDED.last_synced_at
		WHERE sync_mappings.external_id = EXCLUDED.external_id`

	res, err := exec.ExecContext(ctx, query,
		m.ID,
		m.IntegrationID,
		m.EntityType,
		m.InternalID,
		m.ExternalID,
		m.RepoRef,
		m.InternalRevision,
		m.ExternalRevision,
		m.LastSyncedAt,
		m.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return fmt.Errorf("mapping for %s/%s: %w", m.EntityType, m.InternalID, storage.ErrDuplicateBinding)
		}
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	// Zero rows means the guarded update matched a row bound to a different
	// external id.
	if affected == 0 {
		return fmt.Errorf("internal id %s already bound elsewhere: %w", m.InternalID, storage.ErrDuplicateBinding)
	}
	return nil
}

func (s *MappingStore) CompareAndSwapRevisions(ctx context.Context, mappingID, oldInternal, oldExternal, newInternal, newExternal string, syncedAt time.Time) (bool, error) {
	query := `
		UPDATE sync_mappings
		SET internal_revision = $1, external_revision = $2, last_synced_at = $3
		WHERE id = $4 AND internal_revision = $5 AND external_revision = $6`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		newInternal, newExternal, syncedAt, mappingID, oldInternal, oldExternal)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *MappingStore) ListByIntegration(ctx context.Context, integrationID string) ([]domain.Mapping, error) {
	query := `SELECT ` + mappingColumns + `
		FROM sync_mappings
		WHERE integration_id = $1
		ORDER BY created_at`

	var mappings []domain.Mapping
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &mappings, query, integrationID)
	return mappings, err
}

// Delete removes a mapping. Callers are responsible for emitting the audit
// event; mappings are never deleted as a side effect of sync.
func (s *MappingStore) Delete(ctx context.Context, mappingID string) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`DELETE FROM sync_mappings WHERE id = $1`, mappingID)
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

func (s *MappingStore) Get(ctx context.Context, mappingID string) (*domain.Mapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM sync_mappings WHERE id = $1`

	var m domain.Mapping
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &m, query, mappingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
