package api

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sanyamjain04/plane/internal/domain"
	"github.com/sanyamjain04/plane/internal/provider"
	"github.com/sanyamjain04/plane/internal/worker"
)

// SyncEngine runs pull and push passes for one integration.
type SyncEngine interface {
	Pull(ctx context.Context, integrationID, repoRef string) (*domain.SyncReport, error)
	Push(ctx context.Context, integrationID, repoRef string, entityType domain.EntityType, internalID string) error
}

// ImportEngine manages bulk-import jobs.
type ImportEngine interface {
	StartJob(ctx context.Context, workspaceID, projectID, sourceKind, actor string, sourceConfig json.RawMessage) (string, error)
	Cancel(ctx context.Context, jobID string) error
}

type JobReader interface {
	Get(ctx context.Context, id string) (*domain.ImportJob, error)
	ListBatches(ctx context.Context, jobID string) ([]domain.ImportBatch, error)
}

type IntegrationStore interface {
	Get(ctx context.Context, id string) (*domain.Integration, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]domain.Integration, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
}

type ConflictStore interface {
	Get(ctx context.Context, id string) (*domain.Conflict, error)
	ListByIntegration(ctx context.Context, integrationID string) ([]domain.Conflict, error)
	Resolve(ctx context.Context, id string, resolution domain.ConflictResolution, resolvedBy string, at time.Time) error
}

type MappingStore interface {
	Get(ctx context.Context, mappingID string) (*domain.Mapping, error)
	ListByIntegration(ctx context.Context, integrationID string) ([]domain.Mapping, error)
	Delete(ctx context.Context, mappingID string) error
}

// ProviderClients resolves a provider adapter for an integration.
type ProviderClients interface {
	ClientFor(ctx context.Context, integ *domain.Integration) (provider.Client, error)
}

type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// TaskSubmitter hands asynchronous work to the shared worker pool.
type TaskSubmitter interface {
	Submit(task worker.Task) error
}
