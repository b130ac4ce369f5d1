package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TradeWatch/internal/domain/models"
	"TradeWatch/pkg/logger"
)

// Controller is the loop the scheduler starts and stops.
type Controller interface {
	Start() error
	Stop()
	IsRunning() bool
}

type override string

const (
	overrideNone  override = ""
	overrideStart override = "start"
	overrideStop  override = "stop"
)

type action int

const (
	actionNone action = iota
	actionStart
	actionStop
)

// Scheduler starts the controller when a session opens and, with auto_stop,
// stops it when the session closes. A manual start or stop holds until the
// trading state next changes.
type Scheduler struct {
	logger   *logger.Logger
	target   Controller
	now      func() time.Time
	interval time.Duration

	mu          sync.Mutex
	cfg         models.ScheduleConfig
	cal         *Calendar
	cfgErr      error
	state       models.SchedulerState
	override    override
	lastTrading bool
	observed    bool
	lastEval    time.Time

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock injects the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithInterval sets the evaluation cadence.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewScheduler builds a scheduler for target. A malformed cfg is kept and
// reported in Status; it never counts as trading time.
func NewScheduler(l *logger.Logger, target Controller, cfg models.ScheduleConfig, opts ...SchedulerOption) *Scheduler {
	if l == nil {
		l = logger.Nop()
	}
	s := &Scheduler{
		logger:   l,
		target:   target,
		now:      time.Now,
		interval: time.Minute,
		state:    models.SchedulerIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg = cfg
	s.cal, s.cfgErr = Compile(cfg)
	if s.cfgErr != nil {
		s.logger.Warn("schedule config rejected, treating as closed", logger.Error(s.cfgErr))
	}
	return s
}

// Config returns the active schedule configuration.
func (s *Scheduler) Config() models.ScheduleConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// UpdateConfig replaces the configuration and evaluates immediately.
// A malformed config is rejected and the previous one stays active.
func (s *Scheduler) UpdateConfig(cfg models.ScheduleConfig) (models.SchedulerStatus, error) {
	cal, err := Compile(cfg)
	if err != nil {
		return s.Status(), err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.cal = cal
	s.cfgErr = nil
	s.observed = false
	s.mu.Unlock()

	s.logger.Info("schedule config updated",
		logger.String("market", cal.Market()),
		logger.Bool("enabled", cfg.Enabled),
		logger.Bool("auto_stop", cfg.AutoStop))
	return s.Evaluate(s.now()), nil
}

// SetEnabled switches automatic transitions on or off and evaluates immediately.
func (s *Scheduler) SetEnabled(enabled bool) models.SchedulerStatus {
	s.mu.Lock()
	s.cfg.Enabled = enabled
	s.observed = false
	s.mu.Unlock()
	s.logger.Info("scheduler toggled", logger.Bool("enabled", enabled))
	return s.Evaluate(s.now())
}

// ManualStart starts the controller and keeps it running through the rest of
// the current closed period.
func (s *Scheduler) ManualStart() error {
	s.setOverride(overrideStart)
	if err := s.target.Start(); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}
	s.logger.Info("monitor started manually")
	return nil
}

// ManualStop stops the controller and keeps it stopped through the rest of
// the current session.
func (s *Scheduler) ManualStop() {
	s.setOverride(overrideStop)
	s.target.Stop()
	s.logger.Info("monitor stopped manually")
}

func (s *Scheduler) setOverride(o override) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = o
	s.lastTrading = s.cal != nil && s.cal.IsTradingTime(now)
	s.observed = true
}

// Evaluate applies the schedule at now and returns the resulting status.
func (s *Scheduler) Evaluate(now time.Time) models.SchedulerStatus {
	s.mu.Lock()
	act := s.decideLocked(now)
	s.mu.Unlock()

	switch act {
	case actionStart:
		if err := s.target.Start(); err != nil {
			s.logger.Error("scheduled monitor start failed", logger.Error(err))
		} else {
			s.logger.Info("trading session open, monitor started", logger.Time("at", now))
		}
	case actionStop:
		s.target.Stop()
		s.logger.Info("trading session closed, monitor stopped", logger.Time("at", now))
	}
	return s.statusAt(now)
}

func (s *Scheduler) decideLocked(now time.Time) action {
	s.lastEval = now
	if !s.cfg.Enabled {
		s.state = models.SchedulerIdle
		return actionNone
	}

	trading := s.cal != nil && s.cal.IsTradingTime(now)
	if s.observed && trading != s.lastTrading && s.override != overrideNone {
		s.logger.Debug("manual override expired", logger.String("override", string(s.override)))
		s.override = overrideNone
	}
	s.lastTrading = trading
	s.observed = true

	running := s.target.IsRunning()
	if trading {
		s.state = models.SchedulerActive
		if !running && s.override != overrideStop {
			return actionStart
		}
		return actionNone
	}
	s.state = models.SchedulerSuspended
	if running && s.cfg.AutoStop && s.override != overrideStart {
		return actionStop
	}
	return actionNone
}

// Status reports the scheduler state at the current time.
func (s *Scheduler) Status() models.SchedulerStatus {
	return s.statusAt(s.now())
}

func (s *Scheduler) statusAt(now time.Time) models.SchedulerStatus {
	s.mu.Lock()
	st := models.SchedulerStatus{
		State:           s.state,
		Enabled:         s.cfg.Enabled,
		Market:          s.cfg.Market,
		Override:        string(s.override),
		LocalTime:       now,
		LastEvaluatedAt: s.lastEval,
	}
	if s.cfgErr != nil {
		st.ConfigError = s.cfgErr.Error()
	}
	if cal := s.cal; cal != nil {
		st.Market = cal.Market()
		st.LocalTime = now.In(cal.Location())
		st.TradingDay = cal.IsTradingDay(now)
		st.WithinHours = cal.IsWithinHours(now)
		if next, ok := cal.NextSessionStart(now); ok {
			st.NextSessionStart = &next
		}
	}
	s.mu.Unlock()

	st.MonitorRunning = s.target.IsRunning()
	st.Running = s.IsRunning()
	return st
}

// Start launches the evaluation loop. Starting twice is a no-op.
func (s *Scheduler) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop(s.stopCh, s.doneCh)
	s.logger.Info("scheduler started", logger.Duration("interval_ms", s.interval))
}

// Stop halts the evaluation loop without touching the controller.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	s.logger.Info("scheduler stopped")
}

// Wait blocks until the loop exits or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.runMu.Lock()
	done := s.doneCh
	s.runMu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the evaluation loop is active.
func (s *Scheduler) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Evaluate(s.now())
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Evaluate(s.now())
		}
	}
}
