package calendar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TradeWatch/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
	err     error
}

func (f *fakeController) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.starts++
	f.running = true
	return nil
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
}

func (f *fakeController) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeController) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestScheduler(t *testing.T, cfg models.ScheduleConfig, at string) (*Scheduler, *fakeController, *testClock) {
	ctrl := &fakeController{}
	clock := &testClock{now: shanghai(t, at)}
	s := NewScheduler(nil, ctrl, cfg, WithClock(clock.Now))
	return s, ctrl, clock
}

func TestScheduler_StartsAndStopsWithSession(t *testing.T) {
	cfg := cnConfig()
	cfg.AutoStop = true
	s, ctrl, _ := newTestScheduler(t, cfg, "2024-03-05 09:00")

	st := s.Evaluate(shanghai(t, "2024-03-05 09:00"))
	assert.Equal(t, models.SchedulerSuspended, st.State)
	assert.False(t, ctrl.IsRunning())

	st = s.Evaluate(shanghai(t, "2024-03-05 09:30"))
	assert.Equal(t, models.SchedulerActive, st.State)
	assert.True(t, st.MonitorRunning)
	assert.True(t, st.TradingDay)
	assert.True(t, st.WithinHours)

	s.Evaluate(shanghai(t, "2024-03-05 10:30"))
	starts, _ := ctrl.counts()
	assert.Equal(t, 1, starts)

	st = s.Evaluate(shanghai(t, "2024-03-05 12:00"))
	assert.Equal(t, models.SchedulerSuspended, st.State)
	assert.False(t, ctrl.IsRunning())
	require.NotNil(t, st.NextSessionStart)
	assert.True(t, shanghai(t, "2024-03-05 13:00").Equal(*st.NextSessionStart))

	s.Evaluate(shanghai(t, "2024-03-05 13:00"))
	starts, stops := ctrl.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, stops)
}

func TestScheduler_WithoutAutoStopKeepsRunning(t *testing.T) {
	cfg := cnConfig()
	cfg.AutoStop = false
	s, ctrl, _ := newTestScheduler(t, cfg, "2024-03-05 10:00")

	s.Evaluate(shanghai(t, "2024-03-05 10:00"))
	st := s.Evaluate(shanghai(t, "2024-03-05 16:00"))
	assert.Equal(t, models.SchedulerSuspended, st.State)
	assert.True(t, ctrl.IsRunning())
}

func TestScheduler_DisabledIsIdle(t *testing.T) {
	cfg := cnConfig()
	cfg.Enabled = false
	cfg.AutoStop = true
	s, ctrl, _ := newTestScheduler(t, cfg, "2024-03-05 10:00")

	st := s.Evaluate(shanghai(t, "2024-03-05 10:00"))
	assert.Equal(t, models.SchedulerIdle, st.State)
	assert.False(t, ctrl.IsRunning())

	require.NoError(t, ctrl.Start())
	st = s.Evaluate(shanghai(t, "2024-03-05 20:00"))
	assert.Equal(t, models.SchedulerIdle, st.State)
	assert.True(t, ctrl.IsRunning())
}

func TestScheduler_SetEnabledEvaluatesImmediately(t *testing.T) {
	cfg := cnConfig()
	cfg.Enabled = false
	s, ctrl, _ := newTestScheduler(t, cfg, "2024-03-05 14:00")

	st := s.SetEnabled(true)
	assert.Equal(t, models.SchedulerActive, st.State)
	assert.True(t, ctrl.IsRunning())
	assert.True(t, st.Enabled)

	st = s.SetEnabled(false)
	assert.Equal(t, models.SchedulerIdle, st.State)
	assert.True(t, ctrl.IsRunning())
}

func TestScheduler_ManualStopHoldsForSession(t *testing.T) {
	cfg := cnConfig()
	cfg.AutoStop = true
	s, ctrl, clock := newTestScheduler(t, cfg, "2024-03-05 10:00")

	s.Evaluate(clock.Now())
	require.True(t, ctrl.IsRunning())

	clock.Set(shanghai(t, "2024-03-05 10:05"))
	s.ManualStop()
	st := s.Evaluate(shanghai(t, "2024-03-05 10:10"))
	assert.False(t, ctrl.IsRunning())
	assert.Equal(t, "stop", st.Override)

	// lunch break flips trading off and clears the override
	st = s.Evaluate(shanghai(t, "2024-03-05 12:00"))
	assert.Empty(t, st.Override)

	s.Evaluate(shanghai(t, "2024-03-05 13:00"))
	assert.True(t, ctrl.IsRunning())
}

func TestScheduler_ManualStartHoldsOutsideSession(t *testing.T) {
	cfg := cnConfig()
	cfg.AutoStop = true
	s, ctrl, clock := newTestScheduler(t, cfg, "2024-03-05 20:00")

	require.NoError(t, s.ManualStart())
	st := s.Evaluate(clock.Now())
	assert.True(t, ctrl.IsRunning())
	assert.Equal(t, "start", st.Override)

	st = s.Evaluate(shanghai(t, "2024-03-05 22:00"))
	assert.True(t, ctrl.IsRunning())

	// next session opens, then closes: automatic stop applies again
	s.Evaluate(shanghai(t, "2024-03-06 09:30"))
	st = s.Evaluate(shanghai(t, "2024-03-06 11:45"))
	assert.Empty(t, st.Override)
	assert.False(t, ctrl.IsRunning())
}

func TestScheduler_ManualStartError(t *testing.T) {
	s, ctrl, _ := newTestScheduler(t, cnConfig(), "2024-03-05 20:00")
	ctrl.err = errors.New("no price source")
	assert.Error(t, s.ManualStart())
}

func TestScheduler_UpdateConfig(t *testing.T) {
	cfg := cnConfig()
	s, ctrl, _ := newTestScheduler(t, cfg, "2024-03-09 10:00")

	st := s.Evaluate(shanghai(t, "2024-03-09 10:00"))
	assert.Equal(t, models.SchedulerSuspended, st.State)

	bad := cfg
	bad.TradingDays = []int{9}
	_, err := s.UpdateConfig(bad)
	assert.True(t, errors.Is(err, models.ErrInvalidSchedule))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, s.Config().TradingDays)

	weekend := cfg
	weekend.TradingDays = []int{6, 7}
	st, err = s.UpdateConfig(weekend)
	require.NoError(t, err)
	assert.Equal(t, models.SchedulerActive, st.State)
	assert.True(t, ctrl.IsRunning())
}

func TestScheduler_MalformedInitialConfigFailsClosed(t *testing.T) {
	cfg := cnConfig()
	cfg.Market = "ZZ"
	s, ctrl, _ := newTestScheduler(t, cfg, "2024-03-05 10:00")

	st := s.Evaluate(shanghai(t, "2024-03-05 10:00"))
	assert.Equal(t, models.SchedulerSuspended, st.State)
	assert.NotEmpty(t, st.ConfigError)
	assert.False(t, ctrl.IsRunning())
}

func TestScheduler_LoopStartStop(t *testing.T) {
	cfg := cnConfig()
	ctrl := &fakeController{}
	at := shanghai(t, "2024-03-05 10:00")
	s := NewScheduler(nil, ctrl, cfg, WithClock(func() time.Time { return at }), WithInterval(5*time.Millisecond))

	s.Start()
	s.Start()
	require.Eventually(t, ctrl.IsRunning, time.Second, time.Millisecond)
	assert.True(t, s.Status().Running)

	s.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	assert.False(t, s.IsRunning())
	// stopping the scheduler leaves the monitor alone
	assert.True(t, ctrl.IsRunning())
}
