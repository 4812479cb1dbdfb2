package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/sanyamjain04/plane/internal/domain"
	"github.com/sanyamjain04/plane/internal/scheduler/mocks"
)

type SchedulerTestSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	puller  *mocks.MockPuller
	targets *mocks.MockTargetLister
	sched   *Scheduler
}

func (s *SchedulerTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.puller = mocks.NewMockPuller(s.ctrl)
	s.targets = mocks.NewMockTargetLister(s.ctrl)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.sched = New(s.puller, s.targets, time.Minute, logger)
}

func (s *SchedulerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestSchedulerTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

func (s *SchedulerTestSuite) TestSweep_PullsEveryTarget() {
	s.targets.EXPECT().ListSyncTargets(gomock.Any()).Return([]domain.SyncTarget{
		{IntegrationID: "int-1", RepoRef: "octo/repo"},
		{IntegrationID: "int-2", RepoRef: "octo/other"},
	}, nil)

	s.puller.EXPECT().Pull(gomock.Any(), "int-1", "octo/repo").Return(&domain.SyncReport{}, nil)
	s.puller.EXPECT().Pull(gomock.Any(), "int-2", "octo/other").Return(&domain.SyncReport{}, nil)

	s.sched.runSweep(context.Background())
}

func (s *SchedulerTestSuite) TestSweep_FailingTargetDoesNotStopSweep() {
	s.targets.EXPECT().ListSyncTargets(gomock.Any()).Return([]domain.SyncTarget{
		{IntegrationID: "int-1", RepoRef: "octo/repo"},
		{IntegrationID: "int-2", RepoRef: "octo/other"},
	}, nil)

	s.puller.EXPECT().Pull(gomock.Any(), "int-1", "octo/repo").Return(nil, errors.New("rate limited"))
	s.puller.EXPECT().Pull(gomock.Any(), "int-2", "octo/other").Return(&domain.SyncReport{Updated: 1}, nil)

	s.sched.runSweep(context.Background())
}

func (s *SchedulerTestSuite) TestSweep_ListFailureSkipsPulls() {
	s.targets.EXPECT().ListSyncTargets(gomock.Any()).Return(nil, errors.New("db down"))

	s.sched.runSweep(context.Background())
}

func (s *SchedulerTestSuite) TestStart_StopsOnContextCancel() {
	s.targets.EXPECT().ListSyncTargets(gomock.Any()).Return(nil, nil).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.sched.Start(ctx)
	s.ErrorIs(err, context.Canceled)
}
