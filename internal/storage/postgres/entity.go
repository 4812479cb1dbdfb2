package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sanyamjain04/plane/internal/domain"
	"github.com/sanyamjain04/plane/internal/storage"
)

// EntityStore is the concrete persistence for the product entities the sync
// and import engines touch: issues, comments, repositories and modules.
type EntityStore struct {
	db *sqlx.DB
}

func NewEntityStore(db *sqlx.DB) *EntityStore {
	return &EntityStore{db: db}
}

type issueRow struct {
	ID               string          `db:"id"`
	WorkspaceID      string          `db:"workspace_id"`
	ProjectID        string          `db:"project_id"`
	Title            string          `db:"title"`
	Description      string          `db:"description"`
	State            string          `db:"state"`
	Labels           pq.StringArray  `db:"labels"`
	Revision         int64           `db:"revision"`
	ExternalMetadata json.RawMessage `db:"external_metadata"`
	CreatedBy        string          `db:"created_by"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

func (r issueRow) toDomain() *domain.Issue {
	return &domain.Issue{
		ID:               r.ID,
		WorkspaceID:      r.WorkspaceID,
		ProjectID:        r.ProjectID,
		Title:            r.Title,
		Description:      r.Description,
		State:            r.State,
		Labels:           r.Labels,
		Revision:         r.Revision,
		ExternalMetadata: r.ExternalMetadata,
		CreatedBy:        r.CreatedBy,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (s *EntityStore) GetIssue(ctx context.Context, id string) (*domain.Issue, error) {
	query := `
		SELECT id, workspace_id, project_id, title, description, state, labels,
			revision, external_metadata, created_by, created_at, updated_at
		FROM issues
		WHERE id = $1`

	var row issueRow
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *EntityStore) CreateIssue(ctx context.Context, issue *domain.Issue) error {
	query := `
		INSERT INTO issues (
			id, workspace_id, project_id, title, description, state, labels,
			revision, external_metadata, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		issue.ID,
		issue.WorkspaceID,
		issue.ProjectID,
		issue.Title,
		issue.Description,
		issue.State,
		pq.Array(issue.Labels),
		issue.Revision,
		nullableJSON(issue.ExternalMetadata),
		issue.CreatedBy,
		issue.CreatedAt,
		issue.UpdatedAt,
	)
	return err
}

func (s *EntityStore) UpdateIssue(ctx context.Context, issue *domain.Issue) error {
	query := `
		UPDATE issues
		SET title = $1, description = $2, state = $3, labels = $4,
			revision = $5, external_metadata = $6, updated_at = $7
		WHERE id = $8`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		issue.Title,
		issue.Description,
		issue.State,
		pq.Array(issue.Labels),
		issue.Revision,
		nullableJSON(issue.ExternalMetadata),
		issue.UpdatedAt,
		issue.ID,
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

func (s *EntityStore) GetComment(ctx context.Context, id string) (*domain.Comment, error) {
	query := `
		SELECT id, workspace_id, issue_id, body, author, revision, external_metadata, created_at, updated_at
		FROM issue_comments
		WHERE id = $1`

	var c domain.Comment
	var meta []byte
	row := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query, id)
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.IssueID, &c.Body, &c.Author, &c.Revision, &meta, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.ExternalMetadata = meta
	return &c, nil
}

func (s *EntityStore) CreateComment(ctx context.Context, comment *domain.Comment) error {
	query := `
		INSERT INTO issue_comments (id, workspace_id, issue_id, body, author, revision, external_metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		comment.ID,
		comment.WorkspaceID,
		comment.IssueID,
		comment.Body,
		comment.Author,
		comment.Revision,
		nullableJSON(comment.ExternalMetadata),
		comment.CreatedAt,
		comment.UpdatedAt,
	)
	return err
}

func (s *EntityStore) UpdateComment(ctx context.Context, comment *domain.Comment) error {
	query := `
		UPDATE issue_comments
		SET body = $1, revision = $2, external_metadata = $3, updated_at = $4
		WHERE id = $5`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		comment.Body,
		comment.Revision,
		nullableJSON(comment.ExternalMetadata),
		comment.UpdatedAt,
		comment.ID,
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

func (s *EntityStore) GetRepository(ctx context.Context, id string) (*domain.Repository, error) {
	query := `
		SELECT id, workspace_id, project_id, name, full_name, url, external_metadata, created_at, updated_at
		FROM repositories
		WHERE id = $1`

	var r domain.Repository
	var meta []byte
	row := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query, id)
	err := row.Scan(&r.ID, &r.WorkspaceID, &r.ProjectID, &r.Name, &r.FullName, &r.URL, &meta, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.ExternalMetadata = meta
	return &r, nil
}

func (s *EntityStore) CreateRepository(ctx context.Context, repo *domain.Repository) error {
	query := `
		INSERT INTO repositories (id, workspace_id, project_id, name, full_name, url, external_metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		repo.ID,
		repo.WorkspaceID,
		repo.ProjectID,
		repo.Name,
		repo.FullName,
		repo.URL,
		nullableJSON(repo.ExternalMetadata),
		repo.CreatedAt,
		repo.UpdatedAt,
	)
	return err
}

// EnsureModule creates the named module in the project if it does not exist
// and reports whether a new row was written.
func (s *EntityStore) EnsureModule(ctx context.Context, workspaceID, projectID, name string) (*domain.Module, bool, error) {
	exec := GetExecutor(ctx, s.db)

	insert := `
		INSERT INTO modules (id, workspace_id, project_id, name, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, NOW(), NOW())
		ON CONFLICT (project_id, name) DO NOTHING
		RETURNING id, workspace_id, project_id, name, description, created_at, updated_at`

	var module domain.Module
	var desc sql.NullString
	err := exec.QueryRowxContext(ctx, insert, workspaceID, projectID, name).
		Scan(&module.ID, &module.WorkspaceID, &module.ProjectID, &module.Name, &desc, &module.CreatedAt, &module.UpdatedAt)
	if err == nil {
		module.Description = desc.String
		return &module, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	query := `
		SELECT id, workspace_id, project_id, name, description, created_at, updated_at
		FROM modules
		WHERE project_id = $1 AND name = $2`
	err = exec.QueryRowxContext(ctx, query, projectID, name).
		Scan(&module.ID, &module.WorkspaceID, &module.ProjectID, &module.Name, &desc, &module.CreatedAt, &module.UpdatedAt)
	if err != nil {
		return nil, false, err
	}
	module.Description = desc.String
	return &module, false, nil
}

func (s *EntityStore) AddIssueToModule(ctx context.Context, moduleID, issueID string) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO module_issues (module_id, issue_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		moduleID, issueID,
	)
	return err
}

// nullableJSON maps an absent metadata blob to SQL NULL instead of an empty
// byte string, which jsonb rejects.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
