package importer

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"github.com/sanyamjain04/plane/internal/domain"
)

type JobStore interface {
	Create(ctx context.Context, job *domain.ImportJob) error
	Get(ctx context.Context, id string) (*domain.ImportJob, error)
	// ClaimNextQueued atomically moves the oldest runnable job to Running
	// and returns it, or storage.ErrNoQueuedJob.
	ClaimNextQueued(ctx context.Context) (*domain.ImportJob, error)
	NextBatchSeq(ctx context.Context, jobID string) (int64, error)
	// SealBatch persists the batch and the job's advanced counts and cursor
	// in one transaction. The cursor only moves once the batch is durable.
	SealBatch(ctx context.Context, job *domain.ImportJob, batch *domain.ImportBatch) error
	Finish(ctx context.Context, jobID string, status domain.JobStatus, completedAt time.Time) error
	IsCancelRequested(ctx context.Context, jobID string) (bool, error)
	RequestCancel(ctx context.Context, jobID string) error
}

type MappingStore interface {
	ResolveInternal(ctx context.Context, integrationID string, entityType domain.EntityType, externalID string) (*domain.Mapping, error)
	Upsert(ctx context.Context, mapping *domain.Mapping) error
	CompareAndSwapRevisions(ctx context.Context, mappingID, oldInternal, oldExternal, newInternal, newExternal string, syncedAt time.Time) (bool, error)
}

type EntityStore interface {
	GetIssue(ctx context.Context, id string) (*domain.Issue, error)
	CreateIssue(ctx context.Context, issue *domain.Issue) error
	UpdateIssue(ctx context.Context, issue *domain.Issue) error
	// EnsureModule creates the named module in the project if absent and
	// reports whether it was created.
	EnsureModule(ctx context.Context, workspaceID, projectID, name string) (*domain.Module, bool, error)
	AddIssueToModule(ctx context.Context, moduleID, issueID string) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}
