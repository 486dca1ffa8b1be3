package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	use_cases "integrations/internal/application/use-cases"
	"integrations/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubUseCase struct {
	use_cases.UseCaser
	reclaims atomic.Int32
	backlogs atomic.Int32
	panicky  bool
}

func (s *stubUseCase) ReclaimStaleEvents(ctx context.Context) {
	s.reclaims.Add(1)
	if s.panicky {
		panic("boom")
	}
}

func (s *stubUseCase) RefreshBacklog(ctx context.Context) {
	s.backlogs.Add(1)
}

func TestRegisterRejectsBadSchedule(t *testing.T) {
	c := NewController(context.Background(), zap.NewNop().Sugar())

	err := c.RegisterReclaimJob(&stubUseCase{}, config.Cron{ReclaimSchedule: "not a schedule"})
	assert.Error(t, err)
}

func TestScheduleTakesPriorityOverInterval(t *testing.T) {
	c := NewController(context.Background(), zap.NewNop().Sugar())

	// Interval невалиден, но используется Schedule
	err := c.RegisterReclaimJob(&stubUseCase{}, config.Cron{
		ReclaimSchedule: "*/1 * * * * *",
		ReclaimInterval: "garbage",
	})
	assert.NoError(t, err)
}

func TestJobsRun(t *testing.T) {
	uc := &stubUseCase{}
	c := NewController(context.Background(), zap.NewNop().Sugar())

	require.NoError(t, c.RegisterReclaimJob(uc, config.Cron{ReclaimInterval: "@every 1s"}))
	require.NoError(t, c.RegisterBacklogJob(uc, config.Cron{BacklogInterval: "@every 1s"}))

	c.Start()
	defer c.Stop()

	assert.Eventually(t, func() bool {
		return uc.reclaims.Load() > 0 && uc.backlogs.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestDefaultsWhenEmpty(t *testing.T) {
	c := NewController(context.Background(), zap.NewNop().Sugar())

	assert.NoError(t, c.RegisterReclaimJob(&stubUseCase{}, config.Cron{}))
	assert.NoError(t, c.RegisterBacklogJob(&stubUseCase{}, config.Cron{}))
}

func TestReclaimJobRecoversPanic(t *testing.T) {
	uc := &stubUseCase{panicky: true}
	job := NewReclaimJob(uc, zap.NewNop().Sugar())

	assert.NotPanics(t, func() { job.Run(context.Background()) })
	assert.EqualValues(t, 1, uc.reclaims.Load())
}
