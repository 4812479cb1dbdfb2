package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/sanyamjain04/plane/internal/api/mocks"
	"github.com/sanyamjain04/plane/internal/domain"
	"github.com/sanyamjain04/plane/internal/importer"
	"github.com/sanyamjain04/plane/internal/storage"
	"github.com/sanyamjain04/plane/internal/worker"
)

type ServerTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	syncEngine   *mocks.MockSyncEngine
	importEngine *mocks.MockImportEngine
	jobs         *mocks.MockJobReader
	integrations *mocks.MockIntegrationStore
	conflicts    *mocks.MockConflictStore
	mappings     *mocks.MockMappingStore
	clients      *mocks.MockProviderClients
	publisher    *mocks.MockPublisher
	pool         *mocks.MockTaskSubmitter

	handler http.Handler
}

func (s *ServerTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.syncEngine = mocks.NewMockSyncEngine(s.ctrl)
	s.importEngine = mocks.NewMockImportEngine(s.ctrl)
	s.jobs = mocks.NewMockJobReader(s.ctrl)
	s.integrations = mocks.NewMockIntegrationStore(s.ctrl)
	s.conflicts = mocks.NewMockConflictStore(s.ctrl)
	s.mappings = mocks.NewMockMappingStore(s.ctrl)
	s.clients = mocks.NewMockProviderClients(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.pool = mocks.NewMockTaskSubmitter(s.ctrl)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	server := NewServer(
		s.syncEngine,
		s.importEngine,
		s.jobs,
		s.integrations,
		s.conflicts,
		s.mappings,
		s.clients,
		s.publisher,
		s.pool,
		logger,
	)
	s.handler = server.Handler()
}

func (s *ServerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *ServerTestSuite) TestHealthz() {
	rec := s.do(http.MethodGet, "/healthz", nil, nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *ServerTestSuite) TestTriggerSync_Queues() {
	s.integrations.EXPECT().Get(gomock.Any(), "int-1").
		Return(&domain.Integration{ID: "int-1", Enabled: true}, nil)
	s.pool.EXPECT().Submit(gomock.Any()).DoAndReturn(func(task worker.Task) error {
		s.Equal("sync.pull", task.Name)
		return nil
	})

	rec := s.do(http.MethodPost, "/api/integrations/int-1/sync",
		map[string]string{"repository": "octo/repo"}, nil)

	s.Equal(http.StatusAccepted, rec.Code)
	s.Contains(rec.Body.String(), "queued")
}

func (s *ServerTestSuite) TestTriggerSync_DisabledIntegration() {
	s.integrations.EXPECT().Get(gomock.Any(), "int-1").
		Return(&domain.Integration{ID: "int-1", Enabled: false}, nil)

	rec := s.do(http.MethodPost, "/api/integrations/int-1/sync",
		map[string]string{"repository": "octo/repo"}, nil)

	s.Equal(http.StatusConflict, rec.Code)
}

func (s *ServerTestSuite) TestTriggerSync_MissingRepository() {
	rec := s.do(http.MethodPost, "/api/integrations/int-1/sync",
		map[string]string{}, nil)

	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerTestSuite) TestTriggerSync_QueueFull() {
	s.integrations.EXPECT().Get(gomock.Any(), "int-1").
		Return(&domain.Integration{ID: "int-1", Enabled: true}, nil)
	s.pool.EXPECT().Submit(gomock.Any()).Return(worker.ErrQueueFull)

	rec := s.do(http.MethodPost, "/api/integrations/int-1/sync",
		map[string]string{"repository": "octo/repo"}, nil)

	s.Equal(http.StatusServiceUnavailable, rec.Code)
}

func (s *ServerTestSuite) TestPush_DefaultsToIssue() {
	s.syncEngine.EXPECT().
		Push(gomock.Any(), "int-1", "octo/repo", domain.EntityIssue, "issue-1").
		Return(nil)

	rec := s.do(http.MethodPost, "/api/integrations/int-1/push",
		map[string]string{"repository": "octo/repo", "internalId": "issue-1"}, nil)

	s.Equal(http.StatusOK, rec.Code)
}

func (s *ServerTestSuite) TestStartImport() {
	s.importEngine.EXPECT().
		StartJob(gomock.Any(), "ws-1", "proj-1", "payload", "user-1", gomock.Any()).
		Return("job-1", nil)

	rec := s.do(http.MethodPost, "/api/imports", map[string]any{
		"projectId":    "proj-1",
		"sourceKind":   "payload",
		"sourceConfig": map[string]any{"issues": []any{}},
	}, map[string]string{
		"X-Workspace-ID": "ws-1",
		"X-Actor-ID":     "user-1",
	})

	s.Equal(http.StatusAccepted, rec.Code)
	s.Contains(rec.Body.String(), "job-1")
}

func (s *ServerTestSuite) TestStartImport_MissingWorkspaceHeader() {
	rec := s.do(http.MethodPost, "/api/imports", map[string]any{
		"projectId":  "proj-1",
		"sourceKind": "payload",
	}, nil)

	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerTestSuite) TestStartImport_UnknownKind() {
	s.importEngine.EXPECT().
		StartJob(gomock.Any(), "ws-1", "proj-1", "nope", "", gomock.Any()).
		Return("", importer.ErrUnknownSource)

	rec := s.do(http.MethodPost, "/api/imports", map[string]any{
		"projectId":  "proj-1",
		"sourceKind": "nope",
	}, map[string]string{"X-Workspace-ID": "ws-1"})

	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerTestSuite) TestGetImport() {
	s.jobs.EXPECT().Get(gomock.Any(), "job-1").Return(&domain.ImportJob{
		ID:        "job-1",
		Status:    domain.JobRunning,
		Processed: 40,
		Succeeded: 39,
		Failed:    1,
	}, nil)

	rec := s.do(http.MethodGet, "/api/imports/job-1", nil, nil)

	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "running")
}

func (s *ServerTestSuite) TestGetImport_NotFound() {
	s.jobs.EXPECT().Get(gomock.Any(), "missing").Return(nil, storage.ErrNotFound)

	rec := s.do(http.MethodGet, "/api/imports/missing", nil, nil)

	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ServerTestSuite) TestCancelImport() {
	s.importEngine.EXPECT().Cancel(gomock.Any(), "job-1").Return(nil)

	rec := s.do(http.MethodPost, "/api/imports/job-1/cancel", nil, nil)

	s.Equal(http.StatusAccepted, rec.Code)
}

func (s *ServerTestSuite) TestCancelImport_TerminalJobConflicts() {
	s.importEngine.EXPECT().Cancel(gomock.Any(), "job-1").
		Return(storage.ErrJobNotCancellable)

	rec := s.do(http.MethodPost, "/api/imports/job-1/cancel", nil, nil)

	s.Equal(http.StatusConflict, rec.Code)
}

func (s *ServerTestSuite) TestCancelImport_MissingJob() {
	s.importEngine.EXPECT().Cancel(gomock.Any(), "missing").
		Return(storage.ErrNotFound)

	rec := s.do(http.MethodPost, "/api/imports/missing/cancel", nil, nil)

	s.Equal(http.StatusNotFound, rec.Code)
}

// The queued pull runs under the worker's context: cancelling the pool
// cancels an in-flight pass instead of letting it run out its timeout.
func (s *ServerTestSuite) TestTriggerSync_PullStopsWithWorkerContext() {
	s.integrations.EXPECT().Get(gomock.Any(), "int-1").
		Return(&domain.Integration{ID: "int-1", Enabled: true}, nil)

	var task worker.Task
	s.pool.EXPECT().Submit(gomock.Any()).DoAndReturn(func(t worker.Task) error {
		task = t
		return nil
	})

	rec := s.do(http.MethodPost, "/api/integrations/int-1/sync",
		map[string]string{"repository": "octo/repo"}, nil)
	s.Require().Equal(http.StatusAccepted, rec.Code)

	s.syncEngine.EXPECT().Pull(gomock.Any(), "int-1", "octo/repo").DoAndReturn(
		func(ctx context.Context, _, _ string) (*domain.SyncReport, error) {
			s.ErrorIs(ctx.Err(), context.Canceled)
			return nil, ctx.Err()
		},
	)

	workerCtx, cancel := context.WithCancel(context.Background())
	cancel()
	task.Run(workerCtx)
}

func (s *ServerTestSuite) TestResolveConflict() {
	s.conflicts.EXPECT().
		Resolve(gomock.Any(), "conf-1", domain.ConflictKeepInternal, "user-1", gomock.Any()).
		Return(nil)

	rec := s.do(http.MethodPost, "/api/conflicts/conf-1/resolve",
		map[string]string{"resolution": "keep_internal"},
		map[string]string{"X-Actor-ID": "user-1"})

	s.Equal(http.StatusOK, rec.Code)
}

func (s *ServerTestSuite) TestResolveConflict_BadResolution() {
	rec := s.do(http.MethodPost, "/api/conflicts/conf-1/resolve",
		map[string]string{"resolution": "merge_somehow"}, nil)

	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerTestSuite) TestResolveConflict_AlreadyResolved() {
	s.conflicts.EXPECT().
		Resolve(gomock.Any(), "conf-1", domain.ConflictKeepExternal, "", gomock.Any()).
		Return(storage.ErrNotFound)

	rec := s.do(http.MethodPost, "/api/conflicts/conf-1/resolve",
		map[string]string{"resolution": "keep_external"}, nil)

	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ServerTestSuite) TestDeleteMapping_PublishesAuditEvent() {
	mapping := &domain.Mapping{
		ID:            "map-1",
		IntegrationID: "int-1",
		EntityType:    domain.EntityIssue,
		InternalID:    "issue-1",
		ExternalID:    "42",
	}
	s.mappings.EXPECT().Get(gomock.Any(), "map-1").Return(mapping, nil)
	s.mappings.EXPECT().Delete(gomock.Any(), "map-1").Return(nil)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, ev domain.Event) error {
			s.Equal(domain.EventMappingDeleted, ev.Kind)
			s.Equal("issue-1", ev.InternalID)
			s.Equal("42", ev.ExternalID)
			s.Equal("user-1", ev.Actor)
			return nil
		},
	)

	rec := s.do(http.MethodDelete, "/api/mappings/map-1", nil,
		map[string]string{"X-Actor-ID": "user-1"})

	s.Equal(http.StatusNoContent, rec.Code)
}
