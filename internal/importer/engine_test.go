package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/sanyamjain04/plane/internal/config"
	"github.com/sanyamjain04/plane/internal/domain"
	"github.com/sanyamjain04/plane/internal/importer/mocks"
	"github.com/sanyamjain04/plane/internal/provider"
	"github.com/sanyamjain04/plane/internal/storage"
)

// fakeSource replays scripted pages and records the cursors it was asked for.
type fakeSource struct {
	pages   map[string]*Page
	cursors []string
	err     error
}

func (f *fakeSource) Kind() string { return "fake" }

func (f *fakeSource) FetchPage(_ context.Context, cursor string) (*Page, error) {
	f.cursors = append(f.cursors, cursor)
	if f.err != nil {
		return nil, f.err
	}
	page, ok := f.pages[cursor]
	if !ok {
		return nil, provider.Permanent("fake.fetch_page", errors.New("unknown cursor"))
	}
	return page, nil
}

type ImportEngineTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	jobs      *mocks.MockJobStore
	mappings  *mocks.MockMappingStore
	entities  *mocks.MockEntityStore
	txManager *mocks.MockTransactionManager
	publisher *mocks.MockPublisher

	engine *Engine
	source *fakeSource
	logger *slog.Logger
}

func (s *ImportEngineTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.jobs = mocks.NewMockJobStore(s.ctrl)
	s.mappings = mocks.NewMockMappingStore(s.ctrl)
	s.entities = mocks.NewMockEntityStore(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.engine = NewEngine(
		s.jobs,
		s.mappings,
		s.entities,
		s.txManager,
		s.publisher,
		s.logger,
		config.ImporterConfig{
			PollInterval: time.Second,
			Retry: config.RetryConfig{
				MaxAttempts:    2,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     time.Millisecond,
			},
		},
	)

	s.source = &fakeSource{pages: map[string]*Page{}}
	s.engine.RegisterSource("fake", func(_ context.Context, _ *domain.ImportJob) (Source, error) {
		return s.source, nil
	})
}

func (s *ImportEngineTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestImportEngineTestSuite(t *testing.T) {
	suite.Run(t, new(ImportEngineTestSuite))
}

func (s *ImportEngineTestSuite) newJob() *domain.ImportJob {
	return &domain.ImportJob{
		ID:          "job-1",
		WorkspaceID: "ws-1",
		ProjectID:   "proj-1",
		SourceKind:  "fake",
		Status:      domain.JobRunning,
		CreatedAt:   time.Now().UTC(),
	}
}

func (s *ImportEngineTestSuite) runTx() {
	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	).AnyTimes()
}

func (s *ImportEngineTestSuite) TestStartJob_UnknownSourceKind() {
	_, err := s.engine.StartJob(context.Background(), "ws-1", "proj-1", "nope", "user-1", nil)
	s.ErrorIs(err, ErrUnknownSource)
}

func (s *ImportEngineTestSuite) TestStartJob_QueuesJob() {
	ctx := context.Background()
	s.jobs.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, job *domain.ImportJob) error {
			s.Equal(domain.JobQueued, job.Status)
			s.Equal("fake", job.SourceKind)
			s.Equal("user-1", job.CreatedBy)
			return nil
		},
	)

	jobID, err := s.engine.StartJob(ctx, "ws-1", "proj-1", "fake", "user-1", json.RawMessage(`{}`))

	s.NoError(err)
	s.NotEmpty(jobID)
}

func (s *ImportEngineTestSuite) TestRunNext_NoQueuedJob() {
	ctx := context.Background()
	s.jobs.EXPECT().ClaimNextQueued(ctx).Return(nil, storage.ErrNoQueuedJob)

	err := s.engine.RunNext(ctx)

	s.ErrorIs(err, storage.ErrNoQueuedJob)
}

// One invalid record in a batch of ten fails alone; the rest import and the
// job ends partially failed.
func (s *ImportEngineTestSuite) TestRunNext_InvalidRecordDoesNotPoisonBatch() {
	ctx := context.Background()
	job := s.newJob()

	records := make([]Record, 0, 10)
	for i := 0; i < 10; i++ {
		rec := Record{
			DedupKey:    fmt.Sprintf("ext-%d", i),
			Fingerprint: fmt.Sprintf("fp-%d", i),
			Title:       fmt.Sprintf("issue %d", i),
		}
		if i == 4 {
			rec.Title = ""
		}
		records = append(records, rec)
	}
	s.source.pages[""] = &Page{Records: records, Done: true}

	s.jobs.EXPECT().ClaimNextQueued(ctx).Return(job, nil)
	s.jobs.EXPECT().NextBatchSeq(ctx, "job-1").Return(int64(0), nil)
	s.jobs.EXPECT().IsCancelRequested(ctx, "job-1").Return(false, nil)

	s.mappings.EXPECT().
		ResolveInternal(ctx, "import:fake:proj-1", domain.EntityIssue, gomock.Any()).
		Return(nil, storage.ErrNotFound).Times(9)
	s.runTx()
	s.entities.EXPECT().CreateIssue(gomock.Any(), gomock.Any()).Return(nil).Times(9)
	s.mappings.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil).Times(9)

	s.jobs.EXPECT().SealBatch(ctx, job, gomock.Any()).DoAndReturn(
		func(_ context.Context, job *domain.ImportJob, batch *domain.ImportBatch) error {
			s.Equal(int64(0), batch.Seq)
			s.Equal(10, batch.ItemCount)
			succeeded, failed := batch.Tally()
			s.Equal(int64(9), succeeded)
			s.Equal(int64(1), failed)
			s.Equal(domain.ItemFailed, batch.Outcomes[4].Result)
			s.Contains(batch.Outcomes[4].Reason, "title")
			return nil
		},
	)
	s.jobs.EXPECT().Finish(ctx, "job-1", domain.JobPartiallyFailed, gomock.Any()).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	err := s.engine.RunNext(ctx)

	s.NoError(err)
	s.Equal(int64(10), job.Processed)
	s.Equal(int64(9), job.Succeeded)
	s.Equal(int64(1), job.Failed)
}

// Re-running a page is idempotent: records whose fingerprint matches the
// stored mapping are skipped, not duplicated.
func (s *ImportEngineTestSuite) TestRunNext_DuplicateRecordsSkipped() {
	ctx := context.Background()
	job := s.newJob()

	s.source.pages[""] = &Page{
		Records: []Record{
			{DedupKey: "ext-1", Fingerprint: "fp-1", Title: "seen before"},
		},
		Done: true,
	}

	s.jobs.EXPECT().ClaimNextQueued(ctx).Return(job, nil)
	s.jobs.EXPECT().NextBatchSeq(ctx, "job-1").Return(int64(1), nil)
	s.jobs.EXPECT().IsCancelRequested(ctx, "job-1").Return(false, nil)

	s.mappings.EXPECT().
		ResolveInternal(ctx, "import:fake:proj-1", domain.EntityIssue, "ext-1").
		Return(&domain.Mapping{ID: "map-1", ExternalRevision: "fp-1"}, nil)

	s.jobs.EXPECT().SealBatch(ctx, job, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ *domain.ImportJob, batch *domain.ImportBatch) error {
			s.Equal(domain.ItemSkippedDuplicate, batch.Outcomes[0].Result)
			return nil
		},
	)
	s.jobs.EXPECT().Finish(ctx, "job-1", domain.JobCompleted, gomock.Any()).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	err := s.engine.RunNext(ctx)

	s.NoError(err)
	s.Equal(int64(1), job.Succeeded)
}

// A changed record under a known dedup key updates the existing issue in
// place instead of creating a second one.
func (s *ImportEngineTestSuite) TestRunNext_ChangedRecordUpdates() {
	ctx := context.Background()
	job := s.newJob()

	s.source.pages[""] = &Page{
		Records: []Record{
			{DedupKey: "ext-1", Fingerprint: "fp-2", Title: "new title"},
		},
		Done: true,
	}

	s.jobs.EXPECT().ClaimNextQueued(ctx).Return(job, nil)
	s.jobs.EXPECT().NextBatchSeq(ctx, "job-1").Return(int64(0), nil)
	s.jobs.EXPECT().IsCancelRequested(ctx, "job-1").Return(false, nil)

	mapping := &domain.Mapping{
		ID:               "map-1",
		InternalID:       "issue-1",
		InternalRevision: "1",
		ExternalRevision: "fp-1",
	}
	s.mappings.EXPECT().
		ResolveInternal(ctx, "import:fake:proj-1", domain.EntityIssue, "ext-1").
		Return(mapping, nil)
	s.entities.EXPECT().GetIssue(ctx, "issue-1").
		Return(&domain.Issue{ID: "issue-1", Title: "old title", Revision: 1}, nil)
	s.runTx()
	s.entities.EXPECT().UpdateIssue(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, issue *domain.Issue) error {
			s.Equal("new title", issue.Title)
			s.Equal(int64(2), issue.Revision)
			return nil
		},
	)
	s.mappings.EXPECT().
		CompareAndSwapRevisions(gomock.Any(), "map-1", "1", "fp-1", "2", "fp-2", gomock.Any()).
		Return(true, nil)

	s.jobs.EXPECT().SealBatch(ctx, job, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ *domain.ImportJob, batch *domain.ImportBatch) error {
			s.Equal(domain.ItemUpdated, batch.Outcomes[0].Result)
			return nil
		},
	)
	s.jobs.EXPECT().Finish(ctx, "job-1", domain.JobCompleted, gomock.Any()).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	err := s.engine.RunNext(ctx)

	s.NoError(err)
}

// A lost revision swap on the update path rolls the overwrite back and the
// record seals as failed, never as updated.
func (s *ImportEngineTestSuite) TestRunNext_LostRevisionRaceFailsRecord() {
	ctx := context.Background()
	job := s.newJob()

	s.source.pages[""] = &Page{
		Records: []Record{
			{DedupKey: "ext-1", Fingerprint: "fp-2", Title: "new title"},
		},
		Done: true,
	}

	s.jobs.EXPECT().ClaimNextQueued(ctx).Return(job, nil)
	s.jobs.EXPECT().NextBatchSeq(ctx, "job-1").Return(int64(0), nil)
	s.jobs.EXPECT().IsCancelRequested(ctx, "job-1").Return(false, nil)

	mapping := &domain.Mapping{
		ID:               "map-1",
		InternalID:       "issue-1",
		InternalRevision: "1",
		ExternalRevision: "fp-1",
	}
	s.mappings.EXPECT().
		ResolveInternal(ctx, "import:fake:proj-1", domain.EntityIssue, "ext-1").
		Return(mapping, nil)
	s.entities.EXPECT().GetIssue(ctx, "issue-1").
		Return(&domain.Issue{ID: "issue-1", Title: "old title", Revision: 1}, nil)

	// The swap loses: the transaction returns an error, so the issue update
	// rolls back with it.
	var txErr error
	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			txErr = fn(ctx)
			return txErr
		},
	)
	s.entities.EXPECT().UpdateIssue(gomock.Any(), gomock.Any()).Return(nil)
	s.mappings.EXPECT().
		CompareAndSwapRevisions(gomock.Any(), "map-1", "1", "fp-1", "2", "fp-2", gomock.Any()).
		Return(false, nil)

	s.jobs.EXPECT().SealBatch(ctx, job, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ *domain.ImportJob, batch *domain.ImportBatch) error {
			s.Equal(domain.ItemFailed, batch.Outcomes[0].Result)
			s.Contains(batch.Outcomes[0].Reason, "revision")
			return nil
		},
	)
	s.jobs.EXPECT().Finish(ctx, "job-1", domain.JobPartiallyFailed, gomock.Any()).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	err := s.engine.RunNext(ctx)

	s.NoError(err)
	s.ErrorIs(txErr, errRevisionRace)
	s.Equal(int64(1), job.Failed)
}

// The cursor advances with each sealed batch, so a later resume starts from
// the last durable page boundary.
func (s *ImportEngineTestSuite) TestRunNext_CursorAdvancesPerBatch() {
	ctx := context.Background()
	job := s.newJob()

	s.source.pages[""] = &Page{
		Records:    []Record{{DedupKey: "ext-1", Fingerprint: "fp-1", Title: "first"}},
		NextCursor: "page-2",
	}
	s.source.pages["page-2"] = &Page{
		Records: []Record{{DedupKey: "ext-2", Fingerprint: "fp-2", Title: "second"}},
		Done:    true,
	}

	s.jobs.EXPECT().ClaimNextQueued(ctx).Return(job, nil)
	s.jobs.EXPECT().NextBatchSeq(ctx, "job-1").Return(int64(0), nil)
	s.jobs.EXPECT().IsCancelRequested(ctx, "job-1").Return(false, nil).Times(2)

	s.mappings.EXPECT().
		ResolveInternal(ctx, "import:fake:proj-1", domain.EntityIssue, gomock.Any()).
		Return(nil, storage.ErrNotFound).Times(2)
	s.runTx()
	s.entities.EXPECT().CreateIssue(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	s.mappings.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	var sealedCursors []string
	s.jobs.EXPECT().SealBatch(ctx, job, gomock.Any()).DoAndReturn(
		func(_ context.Context, job *domain.ImportJob, _ *domain.ImportBatch) error {
			sealedCursors = append(sealedCursors, job.Cursor)
			return nil
		},
	).Times(2)
	s.jobs.EXPECT().Finish(ctx, "job-1", domain.JobCompleted, gomock.Any()).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	err := s.engine.RunNext(ctx)

	s.NoError(err)
	s.Equal([]string{"", "page-2"}, s.source.cursors)
	s.Equal([]string{"page-2", ""}, sealedCursors)
}

// Cancellation is cooperative: observed between batches, never mid-batch.
func (s *ImportEngineTestSuite) TestRunNext_CancelBetweenBatches() {
	ctx := context.Background()
	job := s.newJob()

	s.source.pages[""] = &Page{
		Records:    []Record{{DedupKey: "ext-1", Fingerprint: "fp-1", Title: "first"}},
		NextCursor: "page-2",
	}

	s.jobs.EXPECT().ClaimNextQueued(ctx).Return(job, nil)
	s.jobs.EXPECT().NextBatchSeq(ctx, "job-1").Return(int64(0), nil)
	gomock.InOrder(
		s.jobs.EXPECT().IsCancelRequested(ctx, "job-1").Return(false, nil),
		s.jobs.EXPECT().IsCancelRequested(ctx, "job-1").Return(true, nil),
	)

	s.mappings.EXPECT().
		ResolveInternal(ctx, "import:fake:proj-1", domain.EntityIssue, "ext-1").
		Return(nil, storage.ErrNotFound)
	s.runTx()
	s.entities.EXPECT().CreateIssue(gomock.Any(), gomock.Any()).Return(nil)
	s.mappings.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil)

	s.jobs.EXPECT().SealBatch(ctx, job, gomock.Any()).Return(nil)
	s.jobs.EXPECT().Finish(ctx, "job-1", domain.JobCancelled, gomock.Any()).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	err := s.engine.RunNext(ctx)

	s.NoError(err)
	s.Equal([]string{""}, s.source.cursors)
}

// A source that stays unreachable after retries fails the job; sealed batches
// are kept.
func (s *ImportEngineTestSuite) TestRunNext_SourceUnreachableFailsJob() {
	ctx := context.Background()
	job := s.newJob()
	s.source.err = provider.Transient("fake.fetch_page", errors.New("timeout"))

	s.jobs.EXPECT().ClaimNextQueued(ctx).Return(job, nil)
	s.jobs.EXPECT().NextBatchSeq(ctx, "job-1").Return(int64(0), nil)
	s.jobs.EXPECT().IsCancelRequested(ctx, "job-1").Return(false, nil)

	s.jobs.EXPECT().Finish(ctx, "job-1", domain.JobFailed, gomock.Any()).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	err := s.engine.RunNext(ctx)

	s.NoError(err)
	s.Len(s.source.cursors, 2)
}

// Records carrying a module create it once and attach the issue.
func (s *ImportEngineTestSuite) TestRunNext_ModuleRecordAndLink() {
	ctx := context.Background()
	job := s.newJob()

	s.source.pages[""] = &Page{
		Records: []Record{
			{Kind: RecordModule, DedupKey: "mod:Backlog", Module: "Backlog"},
			{DedupKey: "ext-1", Fingerprint: "fp-1", Title: "grouped", Module: "Backlog"},
		},
		Done: true,
	}

	s.jobs.EXPECT().ClaimNextQueued(ctx).Return(job, nil)
	s.jobs.EXPECT().NextBatchSeq(ctx, "job-1").Return(int64(0), nil)
	s.jobs.EXPECT().IsCancelRequested(ctx, "job-1").Return(false, nil)

	module := &domain.Module{ID: "mod-1", Name: "Backlog"}
	gomock.InOrder(
		s.entities.EXPECT().EnsureModule(gomock.Any(), "ws-1", "proj-1", "Backlog").
			Return(module, true, nil),
		s.entities.EXPECT().EnsureModule(gomock.Any(), "ws-1", "proj-1", "Backlog").
			Return(module, false, nil),
	)

	s.mappings.EXPECT().
		ResolveInternal(ctx, "import:fake:proj-1", domain.EntityIssue, "ext-1").
		Return(nil, storage.ErrNotFound)
	s.runTx()
	s.entities.EXPECT().CreateIssue(gomock.Any(), gomock.Any()).Return(nil)
	s.mappings.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil)
	s.entities.EXPECT().AddIssueToModule(gomock.Any(), "mod-1", gomock.Any()).Return(nil)

	s.jobs.EXPECT().SealBatch(ctx, job, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ *domain.ImportJob, batch *domain.ImportBatch) error {
			s.Equal(domain.ItemCreated, batch.Outcomes[0].Result)
			s.Equal(domain.ItemCreated, batch.Outcomes[1].Result)
			return nil
		},
	)
	s.jobs.EXPECT().Finish(ctx, "job-1", domain.JobCompleted, gomock.Any()).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	err := s.engine.RunNext(ctx)

	s.NoError(err)
	s.Equal(int64(2), job.Succeeded)
}

func (s *ImportEngineTestSuite) TestCancel_DelegatesToStore() {
	ctx := context.Background()
	s.jobs.EXPECT().RequestCancel(ctx, "job-1").Return(nil)

	s.NoError(s.engine.Cancel(ctx, "job-1"))
}
