package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/sanyamjain04/plane/internal/domain"
	"github.com/sanyamjain04/plane/internal/storage"
)

type IntegrationStore struct {
	db *sqlx.DB
}

func NewIntegrationStore(db *sqlx.DB) *IntegrationStore {
	return &IntegrationStore{db: db}
}

func (s *IntegrationStore) Get(ctx context.Context, id string) (*domain.Integration, error) {
	query := `
		SELECT id, workspace_id, provider, credential_ref, enabled, created_at, updated_at
		FROM integrations
		WHERE id = $1`

	var integ domain.Integration
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &integ, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &integ, nil
}

func (s *IntegrationStore) Create(ctx context.Context, integ *domain.Integration) error {
	query := `
		INSERT INTO integrations (id, workspace_id, provider, credential_ref, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		integ.ID,
		integ.WorkspaceID,
		integ.Provider,
		integ.CredentialRef,
		integ.Enabled,
		integ.CreatedAt,
		integ.UpdatedAt,
	)
	return err
}

func (s *IntegrationStore) ListByWorkspace(ctx context.Context, workspaceID string) ([]domain.Integration, error) {
	query := `
		SELECT id, workspace_id, provider, credential_ref, enabled, created_at, updated_at
		FROM integrations
		WHERE workspace_id = $1
		ORDER BY created_at`

	var integrations []domain.Integration
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &integrations, query, workspaceID)
	return integrations, err
}

// SetEnabled toggles the integration. Disabling halts future sync and import
// activity but leaves mappings in place.
func (s *IntegrationStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE integrations SET enabled = $1, updated_at = NOW() WHERE id = $2`, enabled, id)
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
