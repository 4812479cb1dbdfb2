package sync

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"github.com/sanyamjain04/plane/internal/domain"
	"github.com/sanyamjain04/plane/internal/provider"
)

type MappingStore interface {
	ResolveInternal(ctx context.Context, integrationID string, entityType domain.EntityType, externalID string) (*domain.Mapping, error)
	ResolveExternal(ctx context.Context, integrationID string, entityType domain.EntityType, internalID string) (*domain.Mapping, error)
	Upsert(ctx context.Context, mapping *domain.Mapping) error
	// CompareAndSwapRevisions atomically advances both revision markers iff
	// the stored markers still match the old values. Returns false when the
	// swap lost a race.
	CompareAndSwapRevisions(ctx context.Context, mappingID, oldInternal, oldExternal, newInternal, newExternal string, syncedAt time.Time) (bool, error)
}

type ConflictStore interface {
	Create(ctx context.Context, c *domain.Conflict) error
}

type CheckpointStore interface {
	Get(ctx context.Context, integrationID, repoRef string) (*domain.Checkpoint, error)
	Update(ctx context.Context, cp *domain.Checkpoint) error
}

// EntityStore is the narrow surface of the product's entity store the sync
// engine needs.
type EntityStore interface {
	GetIssue(ctx context.Context, id string) (*domain.Issue, error)
	CreateIssue(ctx context.Context, issue *domain.Issue) error
	UpdateIssue(ctx context.Context, issue *domain.Issue) error
	GetComment(ctx context.Context, id string) (*domain.Comment, error)
	CreateComment(ctx context.Context, comment *domain.Comment) error
	UpdateComment(ctx context.Context, comment *domain.Comment) error
	GetRepository(ctx context.Context, id string) (*domain.Repository, error)
	CreateRepository(ctx context.Context, repo *domain.Repository) error
}

type IntegrationStore interface {
	Get(ctx context.Context, id string) (*domain.Integration, error)
}

// ProviderClients yields a provider client for an integration.
type ProviderClients interface {
	ClientFor(ctx context.Context, integ *domain.Integration) (provider.Client, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}
