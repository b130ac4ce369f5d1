package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"TradeWatch/internal/domain/models"
	domrepo "TradeWatch/internal/domain/repository"
	"TradeWatch/pkg/logger"
	"TradeWatch/pkg/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service tracks instruments against price thresholds and emits one event per crossing.
type Service struct {
	logger   *logger.Logger
	prices   domrepo.PriceSource
	sink     domrepo.ResultSink
	notifier domrepo.NotificationSink
	metrics  domrepo.Metrics
	now      func() time.Time

	tickInterval     time.Duration
	defaultCheck     time.Duration
	fetchConcurrency int
	fetchTimeout     time.Duration
	eventLimit       int

	// lock order: mu before entry.mu
	mu      sync.RWMutex
	entries map[string]*entry

	evMu   sync.Mutex
	events []*models.ThresholdEvent

	runMu      sync.Mutex
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	lastTickAt time.Time
}

type entry struct {
	mu      sync.Mutex
	inst    models.MonitoredInstrument
	removed bool
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval sets how often the background loop evaluates due instruments.
func WithTickInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithDefaultCheckInterval is used for instruments created without a check interval.
func WithDefaultCheckInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.defaultCheck = d
		}
	}
}

// WithFetchConcurrency bounds parallel price fetches per tick.
func WithFetchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.fetchConcurrency = n
		}
	}
}

// WithFetchTimeout bounds a single price fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithEventLimit caps the in-memory event history.
func WithEventLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.eventLimit = n
		}
	}
}

// WithSink persists emitted events.
func WithSink(sink domrepo.ResultSink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithNotifier delivers emitted events.
func WithNotifier(n domrepo.NotificationSink) Option {
	return func(s *Service) { s.notifier = n }
}

// New creates a monitor reading prices from prices.
func New(l *logger.Logger, prices domrepo.PriceSource, m domrepo.Metrics, opts ...Option) *Service {
	if l == nil {
		l = logger.Nop()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	s := &Service{
		logger:           l,
		prices:           prices,
		metrics:          m,
		now:              time.Now,
		tickInterval:     time.Minute,
		defaultCheck:     30 * time.Minute,
		fetchConcurrency: 4,
		fetchTimeout:     15 * time.Second,
		eventLimit:       1000,
		entries:          make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- registry ---

// AddInstrument registers a new instrument and returns its id.
func (s *Service) AddInstrument(spec models.InstrumentSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	e := s.newEntry(spec)

	s.mu.Lock()
	s.entries[e.inst.ID] = e
	s.mu.Unlock()

	s.logAdded(e)
	return e.inst.ID, nil
}

func (s *Service) newEntry(spec models.InstrumentSpec) *entry {
	now := s.now()
	e := &entry{inst: models.MonitoredInstrument{
		ID:        uuid.NewString(),
		CreatedAt: now,
	}}
	s.applySpec(&e.inst, spec, now)
	return e
}

func (s *Service) logAdded(e *entry) {
	s.logger.Info("instrument added",
		logger.String("id", e.inst.ID),
		logger.String("symbol", e.inst.Symbol),
		logger.Duration("check_interval_ms", e.inst.CheckInterval))
}

// UpdateInstrument replaces the editable fields of an instrument.
// Zone state is reset, so thresholds already past fire again on the next check.
func (s *Service) UpdateInstrument(id string, spec models.InstrumentSpec) (*models.MonitoredInstrument, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, fmt.Errorf("instrument %s: %w", id, models.ErrNotFound)
	}
	s.applySpec(&e.inst, spec, s.now())
	return cloneInstrument(&e.inst), nil
}

// UpsertBySymbol updates the instrument tracking spec.Symbol or creates one.
// The bool result reports whether a new instrument was created.
func (s *Service) UpsertBySymbol(spec models.InstrumentSpec) (string, bool, error) {
	if err := spec.Validate(); err != nil {
		return "", false, err
	}
	symbol := normalizeSymbol(spec.Symbol)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		e.mu.Lock()
		if e.inst.Symbol == symbol && !e.removed {
			s.applySpec(&e.inst, spec, s.now())
			id := e.inst.ID
			e.mu.Unlock()
			return id, false, nil
		}
		e.mu.Unlock()
	}

	e := s.newEntry(spec)
	s.entries[e.inst.ID] = e
	s.logAdded(e)
	return e.inst.ID, true, nil
}

// RemoveInstrument stops tracking an instrument.
func (s *Service) RemoveInstrument(id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("instrument %s: %w", id, models.ErrNotFound)
	}

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	s.logger.Info("instrument removed", logger.String("id", id))
	return nil
}

// Instrument returns a snapshot of one instrument.
func (s *Service) Instrument(id string) (*models.MonitoredInstrument, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneInstrument(&e.inst), nil
}

// Instruments returns snapshots of all instruments ordered by creation time.
func (s *Service) Instruments() []*models.MonitoredInstrument {
	s.mu.RLock()
	out := make([]*models.MonitoredInstrument, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		out = append(out, cloneInstrument(&e.inst))
		e.mu.Unlock()
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ToggleNotifications enables or suppresses event emission for an instrument.
// Zone state keeps updating while suppressed.
func (s *Service) ToggleNotifications(id string, enabled bool) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.inst.NotificationsEnabled = enabled
	e.inst.UpdatedAt = s.now()
	e.mu.Unlock()
	return nil
}

// ResetCrossingState re-arms every threshold of an instrument.
func (s *Service) ResetCrossingState(id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.inst.Zones = models.ZoneState{}
	e.inst.UpdatedAt = s.now()
	e.mu.Unlock()
	return nil
}

// --- evaluation ---

// TickSummary reports what one tick did.
type TickSummary struct {
	Due     int `json:"due"`
	Checked int `json:"checked"`
	Failed  int `json:"failed"`
	Events  int `json:"events"`
}

type fetchResult struct {
	entry  *entry
	symbol string
	price  decimal.Decimal
	err    error
}

// Tick checks every instrument that is due at now.
func (s *Service) Tick(ctx context.Context, now time.Time) TickSummary {
	due := s.dueEntries(now)
	summary := TickSummary{Due: len(due)}

	results := s.fetchAll(ctx, due)
	var emitted []*models.ThresholdEvent
	for _, r := range results {
		if r.err != nil {
			summary.Failed++
			continue
		}
		evs, applied := s.apply(r.entry, r.price, now)
		if applied {
			summary.Checked++
		}
		emitted = append(emitted, evs...)
	}
	s.dispatch(ctx, emitted)
	summary.Events = len(emitted)

	s.runMu.Lock()
	s.lastTickAt = now
	s.runMu.Unlock()

	if summary.Due > 0 {
		s.logger.Debug("monitor tick",
			logger.Int("due", summary.Due),
			logger.Int("checked", summary.Checked),
			logger.Int("failed", summary.Failed),
			logger.Int("events", summary.Events))
	}
	return summary
}

// ManualUpdate checks one instrument immediately regardless of its check interval.
func (s *Service) ManualUpdate(ctx context.Context, id string) (*models.MonitoredInstrument, []*models.ThresholdEvent, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	symbol := e.inst.Symbol
	e.mu.Unlock()

	now := s.now()
	price, err := s.fetch(ctx, symbol)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", symbol, err)
	}
	evs, _ := s.apply(e, price, now)
	s.dispatch(ctx, evs)

	e.mu.Lock()
	snap := cloneInstrument(&e.inst)
	e.mu.Unlock()

	out := make([]*models.ThresholdEvent, len(evs))
	for i, ev := range evs {
		cp := *ev
		out[i] = &cp
	}
	return snap, out, nil
}

func (s *Service) dueEntries(now time.Time) []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	due := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		if !e.removed && e.inst.Due(now) {
			due = append(due, e)
		}
		e.mu.Unlock()
	}
	return due
}

// fetchAll fetches prices for entries concurrently without holding any lock.
func (s *Service) fetchAll(ctx context.Context, entries []*entry) []fetchResult {
	results := make([]fetchResult, len(entries))
	sem := make(chan struct{}, s.fetchConcurrency)
	var wg sync.WaitGroup
	for i, e := range entries {
		e.mu.Lock()
		symbol := e.inst.Symbol
		e.mu.Unlock()

		results[i] = fetchResult{entry: e, symbol: symbol}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i].price, results[i].err = s.fetch(ctx, results[i].symbol)
		}(i)
	}
	wg.Wait()
	return results
}

func (s *Service) fetch(ctx context.Context, symbol string) (price decimal.Decimal, err error) {
	if s.prices == nil {
		return decimal.Zero, fmt.Errorf("no price source configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("price source panic: %v", p)
		}
		s.metrics.RecordLatency("price_fetch", time.Since(start).Seconds())
		if err != nil {
			s.metrics.RecordError("price_fetch")
			s.logger.Warn("price fetch failed", logger.String("symbol", symbol), logger.Error(err))
		}
	}()

	price, err = s.prices.GetCurrentPrice(ctx, symbol)
	if err == nil && !price.IsPositive() {
		err = fmt.Errorf("non-positive price %s", price)
	}
	return price, err
}

// apply evaluates price for e at time at. Results older than the last
// evaluation, or for removed instruments, are dropped.
func (s *Service) apply(e *entry, price decimal.Decimal, at time.Time) ([]*models.ThresholdEvent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.inst.LastCheckedAt.After(at) {
		return nil, false
	}

	zones, hits := evaluate(&e.inst, price)
	e.inst.Zones = zones
	p := price
	e.inst.LastPrice = &p
	e.inst.LastCheckedAt = at
	s.metrics.RecordLastPrice(e.inst.Symbol, price.InexactFloat64())

	if !e.inst.NotificationsEnabled || len(hits) == 0 {
		return nil, true
	}
	events := make([]*models.ThresholdEvent, 0, len(hits))
	for _, h := range hits {
		events = append(events, &models.ThresholdEvent{
			ID:           uuid.NewString(),
			InstrumentID: e.inst.ID,
			Symbol:       e.inst.Symbol,
			Name:         e.inst.Name,
			Kind:         h.kind,
			Price:        price,
			Threshold:    h.threshold,
			Message:      h.message,
			TriggeredAt:  at,
		})
	}
	return events, true
}

// dispatch records, persists and delivers events. Each event is sent at most once.
func (s *Service) dispatch(ctx context.Context, events []*models.ThresholdEvent) {
	for _, ev := range events {
		s.metrics.RecordThresholdEvent(string(ev.Kind))
		s.logger.Info("threshold crossed",
			logger.String("symbol", ev.Symbol),
			logger.String("kind", string(ev.Kind)),
			logger.String("price", ev.Price.String()),
			logger.String("threshold", ev.Threshold))

		s.evMu.Lock()
		s.events = append(s.events, ev)
		if over := len(s.events) - s.eventLimit; over > 0 {
			s.events = append([]*models.ThresholdEvent(nil), s.events[over:]...)
		}
		s.evMu.Unlock()

		cp := *ev
		if s.sink != nil {
			if _, err := s.sink.SaveMonitorEvent(ctx, &cp); err != nil {
				s.metrics.RecordError("save_event")
				s.logger.Warn("save monitor event failed", logger.String("id", ev.ID), logger.Error(err))
			}
		}
		if s.notifier == nil {
			continue
		}
		if err := s.notifier.Send(ctx, models.NewEventNotification(&cp)); err != nil {
			s.metrics.RecordError("notify")
			s.logger.Warn("notification failed", logger.String("id", ev.ID), logger.Error(err))
			continue
		}
		s.markSent(ev.ID)
	}
}

// --- events ---

// Events returns up to limit events, newest first. limit <= 0 returns all.
func (s *Service) Events(limit int) []*models.ThresholdEvent {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	n := len(s.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*models.ThresholdEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		cp := *s.events[i]
		out = append(out, &cp)
	}
	return out
}

// PendingEvents returns unsent events, oldest first.
func (s *Service) PendingEvents() []*models.ThresholdEvent {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	var out []*models.ThresholdEvent
	for _, ev := range s.events {
		if !ev.Sent {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out
}

// MarkAllSent flags every pending event as sent and returns how many changed.
func (s *Service) MarkAllSent() int {
	now := s.now()
	s.evMu.Lock()
	defer s.evMu.Unlock()
	n := 0
	for _, ev := range s.events {
		if !ev.Sent {
			ev.Sent = true
			t := now
			ev.SentAt = &t
			n++
		}
	}
	return n
}

// ClearEvents drops the in-memory event history and returns how many were removed.
func (s *Service) ClearEvents() int {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	n := len(s.events)
	s.events = nil
	return n
}

func (s *Service) markSent(id string) {
	now := s.now()
	s.evMu.Lock()
	defer s.evMu.Unlock()
	for _, ev := range s.events {
		if ev.ID == id && !ev.Sent {
			ev.Sent = true
			ev.SentAt = &now
			return
		}
	}
}

// --- loop ---

// Start launches the background loop. Starting a running monitor is a no-op.
func (s *Service) Start() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop(s.stopCh, s.doneCh)
	s.logger.Info("monitor started", logger.Duration("tick_interval_ms", s.tickInterval))
	return nil
}

// Stop signals the loop to halt after any in-flight tick. It does not block.
func (s *Service) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	s.logger.Info("monitor stopping")
}

// Wait blocks until the most recent loop has exited or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
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

// IsRunning reports whether the loop is active.
func (s *Service) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

// Status summarises the monitor.
func (s *Service) Status() models.MonitorStatus {
	s.mu.RLock()
	n := len(s.entries)
	s.mu.RUnlock()
	pending := len(s.PendingEvents())

	s.runMu.Lock()
	defer s.runMu.Unlock()
	return models.MonitorStatus{
		Running:       s.running,
		Instruments:   n,
		PendingEvents: pending,
		LastTickAt:    s.lastTickAt,
		TickInterval:  s.tickInterval.String(),
	}
}

func (s *Service) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	// ticks run on their own context so a stop never aborts one midway
	ctx := context.Background()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	s.Tick(ctx, s.now())
	for {
		select {
		case <-stop:
			s.logger.Info("monitor stopped")
			return
		case <-ticker.C:
			select {
			case <-stop:
				s.logger.Info("monitor stopped")
				return
			default:
			}
			s.Tick(ctx, s.now())
		}
	}
}

// --- helpers ---

func (s *Service) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("instrument %s: %w", id, models.ErrNotFound)
	}
	return e, nil
}

// applySpec copies spec onto inst and re-arms its zones. Caller holds the entry lock.
func (s *Service) applySpec(inst *models.MonitoredInstrument, spec models.InstrumentSpec, now time.Time) {
	inst.Symbol = normalizeSymbol(spec.Symbol)
	inst.Name = spec.Name
	inst.Rating = spec.Rating
	inst.EntryRange = cloneRange(spec.EntryRange)
	inst.TakeProfit = cloneDecimal(spec.TakeProfit)
	inst.StopLoss = cloneDecimal(spec.StopLoss)
	inst.CheckInterval = spec.CheckInterval
	if inst.CheckInterval == 0 {
		inst.CheckInterval = s.defaultCheck
	}
	inst.NotificationsEnabled = spec.NotificationsEnabled
	inst.Zones = models.ZoneState{}
	inst.UpdatedAt = now
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneRange(r *models.PriceRange) *models.PriceRange {
	if r == nil {
		return nil
	}
	v := *r
	return &v
}

func cloneInstrument(m *models.MonitoredInstrument) *models.MonitoredInstrument {
	cp := *m
	cp.EntryRange = cloneRange(m.EntryRange)
	cp.TakeProfit = cloneDecimal(m.TakeProfit)
	cp.StopLoss = cloneDecimal(m.StopLoss)
	cp.LastPrice = cloneDecimal(m.LastPrice)
	return &cp
}
