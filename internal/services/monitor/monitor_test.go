package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"TradeWatch/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	errs   map[string]error
	calls  map[string]int

	delay    time.Duration
	inFlight int32
	peak     int32
}

func newFakePrices() *fakePrices {
	return &fakePrices{
		prices: make(map[string]decimal.Decimal),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *fakePrices) set(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = decimal.NewFromFloat(price)
}

func (f *fakePrices) fail(symbol string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[symbol] = err
}

func (f *fakePrices) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func (f *fakePrices) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	if err := f.errs[symbol]; err != nil {
		return decimal.Zero, err
	}
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no quote for %s", symbol)
	}
	return p, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []*models.Notification
	err  error
}

func (n *fakeNotifier) Send(ctx context.Context, msg *models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakeSink struct {
	mu     sync.Mutex
	events []*models.ThresholdEvent
}

func (s *fakeSink) Init(ctx context.Context) error { return nil }
func (s *fakeSink) SaveResult(ctx context.Context, rec *models.AnalysisRecord) (string, error) {
	return rec.ID, nil
}
func (s *fakeSink) SaveMonitorEvent(ctx context.Context, ev *models.ThresholdEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return ev.ID, nil
}
func (s *fakeSink) Health(ctx context.Context) error { return nil }
func (s *fakeSink) Close() error                     { return nil }

func dec(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

var t0 = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func newTestService(prices *fakePrices, opts ...Option) *Service {
	clock := func() time.Time { return t0 }
	return New(nil, prices, nil, append([]Option{WithClock(clock)}, opts...)...)
}

func countKind(events []*models.ThresholdEvent, kind models.EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestAddInstrument_EntryRangeValidation(t *testing.T) {
	s := newTestService(newFakePrices())

	_, err := s.AddInstrument(models.InstrumentSpec{
		Symbol:     "AAPL",
		EntryRange: &models.PriceRange{Min: decimal.NewFromInt(10), Max: decimal.NewFromInt(5)},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidRange))

	_, err = s.AddInstrument(models.InstrumentSpec{
		Symbol:     "AAPL",
		EntryRange: &models.PriceRange{Min: decimal.NewFromInt(7), Max: decimal.NewFromInt(7)},
	})
	assert.True(t, errors.Is(err, models.ErrInvalidRange))

	id, err := s.AddInstrument(models.InstrumentSpec{
		Symbol:     "aapl",
		EntryRange: &models.PriceRange{Min: decimal.NewFromInt(5), Max: decimal.NewFromInt(10)},
	})
	require.NoError(t, err)

	inst, err := s.Instrument(id)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", inst.Symbol)
	assert.Equal(t, 30*time.Minute, inst.CheckInterval)
	assert.Len(t, s.Instruments(), 1)
}

func TestAddInstrument_RejectsBadArguments(t *testing.T) {
	s := newTestService(newFakePrices())
	cases := []models.InstrumentSpec{
		{Symbol: " "},
		{Symbol: "X", TakeProfit: dec(-1)},
		{Symbol: "X", StopLoss: dec(0)},
		{Symbol: "X", CheckInterval: -time.Minute},
	}
	for _, spec := range cases {
		_, err := s.AddInstrument(spec)
		assert.True(t, errors.Is(err, models.ErrInvalidArgument), "spec %+v", spec)
	}
}

func TestTick_TakeProfitFiresOncePerCrossing(t *testing.T) {
	prices := newFakePrices()
	s := newTestService(prices)
	_, err := s.AddInstrument(models.InstrumentSpec{
		Symbol:               "TSLA",
		TakeProfit:           dec(12),
		CheckInterval:        time.Minute,
		NotificationsEnabled: true,
	})
	require.NoError(t, err)

	now := t0
	prices.set("TSLA", 11)
	s.Tick(context.Background(), now)

	prices.set("TSLA", 13)
	for i := 0; i < 10; i++ {
		now = now.Add(time.Minute)
		s.Tick(context.Background(), now)
	}
	assert.Equal(t, 1, countKind(s.Events(0), models.EventTakeProfit))

	// fall back below and cross again
	now = now.Add(time.Minute)
	prices.set("TSLA", 11.5)
	s.Tick(context.Background(), now)
	now = now.Add(time.Minute)
	prices.set("TSLA", 12)
	s.Tick(context.Background(), now)

	assert.Equal(t, 2, countKind(s.Events(0), models.EventTakeProfit))
}

func TestTick_StopLossAndEntryEdges(t *testing.T) {
	prices := newFakePrices()
	s := newTestService(prices)
	_, err := s.AddInstrument(models.InstrumentSpec{
		Symbol:               "BABA",
		StopLoss:             dec(80),
		EntryRange:           &models.PriceRange{Min: decimal.NewFromInt(85), Max: decimal.NewFromInt(90)},
		CheckInterval:        time.Minute,
		NotificationsEnabled: true,
	})
	require.NoError(t, err)

	steps := []float64{95, 88, 87, 92, 89, 79, 78, 81, 80}
	now := t0
	for _, p := range steps {
		prices.set("BABA", p)
		s.Tick(context.Background(), now)
		now = now.Add(time.Minute)
	}

	events := s.Events(0)
	// 95 out, 88 enter, 87 stay, 92 exit, 89 enter again
	assert.Equal(t, 2, countKind(events, models.EventEntry))
	// 79 cross, 78 stay, 81 exit, 80 cross again (at the level counts)
	assert.Equal(t, 2, countKind(events, models.EventStopLoss))
	assert.Equal(t, 0, countKind(events, models.EventTakeProfit))
}

func TestTick_FirstEvaluationInsideZoneFiresOnce(t *testing.T) {
	prices := newFakePrices()
	s := newTestService(prices)
	_, err := s.AddInstrument(models.InstrumentSpec{
		Symbol:               "MSFT",
		TakeProfit:           dec(400),
		CheckInterval:        time.Minute,
		NotificationsEnabled: true,
	})
	require.NoError(t, err)

	prices.set("MSFT", 410)
	s.Tick(context.Background(), t0)
	s.Tick(context.Background(), t0.Add(time.Minute))
	assert.Equal(t, 1, countKind(s.Events(0), models.EventTakeProfit))
}

func TestTick_RespectsCheckInterval(t *testing.T) {
	prices := newFakePrices()
	s := newTestService(prices)
	id, err := s.AddInstrument(models.InstrumentSpec{Symbol: "NVDA", CheckInterval: 10 * time.Minute})
	require.NoError(t, err)
	prices.set("NVDA", 100)

	sum := s.Tick(context.Background(), t0)
	assert.Equal(t, 1, sum.Checked)

	sum = s.Tick(context.Background(), t0.Add(5*time.Minute))
	assert.Equal(t, 0, sum.Due)
	assert.Equal(t, 1, prices.callCount("NVDA"))

	inst, err := s.Instrument(id)
	require.NoError(t, err)
	assert.Equal(t, t0, inst.LastCheckedAt)
	assert.True(t, inst.LastPrice.Equal(decimal.NewFromInt(100)))

	sum = s.Tick(context.Background(), t0.Add(10*time.Minute))
	assert.Equal(t, 1, sum.Checked)
	assert.Equal(t, 2, prices.callCount("NVDA"))
}

func TestTick_FetchFailureIsIsolatedAndRetried(t *testing.T) {
	prices := newFakePrices()
	s := newTestService(prices)
	badID, err := s.AddInstrument(models.InstrumentSpec{Symbol: "BAD", CheckInterval: time.Hour})
	require.NoError(t, err)
	goodID, err := s.AddInstrument(models.InstrumentSpec{Symbol: "GOOD", CheckInterval: time.Hour})
	require.NoError(t, err)

	prices.fail("BAD", errors.New("upstream 502"))
	prices.set("GOOD", 50)

	sum := s.Tick(context.Background(), t0)
	assert.Equal(t, 2, sum.Due)
	assert.Equal(t, 1, sum.Checked)
	assert.Equal(t, 1, sum.Failed)

	bad, _ := s.Instrument(badID)
	good, _ := s.Instrument(goodID)
	assert.True(t, bad.LastCheckedAt.IsZero())
	assert.Nil(t, bad.LastPrice)
	assert.Equal(t, t0, good.LastCheckedAt)

	// next cycle retries only the failed one
	prices.fail("BAD", nil)
	prices.set("BAD", 10)
	sum = s.Tick(context.Background(), t0.Add(time.Minute))
	assert.Equal(t, 1, sum.Due)
	assert.Equal(t, 1, sum.Checked)
	bad, _ = s.Instrument(badID)
	assert.Equal(t, t0.Add(time.Minute), bad.LastCheckedAt)
}

func TestManualUpdate_BypassesInterval(t *testing.T) {
	prices := newFakePrices()
	now := t0
	s := New(nil, prices, nil, WithClock(func() time.Time { return now }))
	id, err := s.AddInstrument(models.InstrumentSpec{
		Symbol:               "AMD",
		StopLoss:             dec(100),
		CheckInterval:        time.Hour,
		NotificationsEnabled: true,
	})
	require.NoError(t, err)

	prices.set("AMD", 120)
	s.Tick(context.Background(), now)

	now = now.Add(time.Minute)
	prices.set("AMD", 95)
	inst, events, err := s.ManualUpdate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, now, inst.LastCheckedAt)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventStopLoss, events[0].Kind)
	assert.Equal(t, 2, prices.callCount("AMD"))

	_, _, err = s.ManualUpdate(context.Background(), "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	prices.fail("AMD", errors.New("timeout"))
	_, _, err = s.ManualUpdate(context.Background(), id)
	assert.Error(t, err)
	inst, _ = s.Instrument(id)
	assert.Equal(t, now, inst.LastCheckedAt)
}

func TestToggleNotifications_SuppressesWithoutResetting(t *testing.T) {
	prices := newFakePrices()
	s := newTestService(prices)
	id, err := s.AddInstrument(models.InstrumentSpec{
		Symbol:               "META",
		TakeProfit:           dec(500),
		CheckInterval:        time.Minute,
		NotificationsEnabled: true,
	})
	require.NoError(t, err)
	require.NoError(t, s.ToggleNotifications(id, false))

	now := t0
	prices.set("META", 490)
	s.Tick(context.Background(), now)
	now = now.Add(time.Minute)
	prices.set("META", 510)
	s.Tick(context.Background(), now)
	assert.Empty(t, s.Events(0))

	inst, _ := s.Instrument(id)
	assert.Equal(t, models.ZoneInside, inst.Zones.TakeProfit)

	// re-enabling while still above does not replay the crossing
	require.NoError(t, s.ToggleNotifications(id, true))
	now = now.Add(time.Minute)
	s.Tick(context.Background(), now)
	assert.Empty(t, s.Events(0))

	now = now.Add(time.Minute)
	prices.set("META", 495)
	s.Tick(context.Background(), now)
	now = now.Add(time.Minute)
	prices.set("META", 505)
	s.Tick(context.Background(), now)
	assert.Equal(t, 1, countKind(s.Events(0), models.EventTakeProfit))

	assert.True(t, errors.Is(s.ToggleNotifications("missing", true), models.ErrNotFound))
}

func TestUpdateAndReset_RearmZones(t *testing.T) {
	prices := newFakePrices()
	s := newTestService(prices)
	spec := models.InstrumentSpec{
		Symbol:               "GOOG",
		TakeProfit:           dec(150),
		CheckInterval:        time.Minute,
		NotificationsEnabled: true,
	}
	id, err := s.AddInstrument(spec)
	require.NoError(t, err)

	prices.set("GOOG", 155)
	now := t0
	s.Tick(context.Background(), now)
	require.Len(t, s.Events(0), 1)

	_, err = s.UpdateInstrument(id, spec)
	require.NoError(t, err)
	now = now.Add(time.Minute)
	s.Tick(context.Background(), now)
	assert.Len(t, s.Events(0), 2)

	require.NoError(t, s.ResetCrossingState(id))
	now = now.Add(time.Minute)
	s.Tick(context.Background(), now)
	assert.Len(t, s.Events(0), 3)

	now = now.Add(time.Minute)
	s.Tick(context.Background(), now)
	assert.Len(t, s.Events(0), 3)

	bad := spec
	bad.EntryRange = &models.PriceRange{Min: decimal.NewFromInt(10), Max: decimal.NewFromInt(1)}
	_, err = s.UpdateInstrument(id, bad)
	assert.True(t, errors.Is(err, models.ErrInvalidRange))
}

func TestUpsertBySymbol(t *testing.T) {
	s := newTestService(newFakePrices())
	id, created, err := s.UpsertBySymbol(models.InstrumentSpec{Symbol: "600519", Rating: "buy"})
	require.NoError(t, err)
	assert.True(t, created)

	id2, created, err := s.UpsertBySymbol(models.InstrumentSpec{Symbol: "600519", Rating: "hold", StopLoss: dec(1500)})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, id2)

	inst, _ := s.Instrument(id)
	assert.Equal(t, "hold", inst.Rating)
	require.NotNil(t, inst.StopLoss)
	assert.Len(t, s.Instruments(), 1)
}

func TestRemoveInstrument(t *testing.T) {
	prices := newFakePrices()
	s := newTestService(prices)
	id, err := s.AddInstrument(models.InstrumentSpec{Symbol: "IBM"})
	require.NoError(t, err)
	require.NoError(t, s.RemoveInstrument(id))
	assert.True(t, errors.Is(s.RemoveInstrument(id), models.ErrNotFound))

	sum := s.Tick(context.Background(), t0)
	assert.Zero(t, sum.Due)
	assert.Zero(t, prices.callCount("IBM"))
}

func TestDispatch_PersistsNotifiesAndMarksSent(t *testing.T) {
	prices := newFakePrices()
	sink := &fakeSink{}
	notifier := &fakeNotifier{}
	s := newTestService(prices, WithSink(sink), WithNotifier(notifier))
	_, err := s.AddInstrument(models.InstrumentSpec{
		Symbol:               "ORCL",
		TakeProfit:           dec(100),
		CheckInterval:        time.Minute,
		NotificationsEnabled: true,
	})
	require.NoError(t, err)

	prices.set("ORCL", 101)
	s.Tick(context.Background(), t0)

	assert.Equal(t, 1, notifier.count())
	assert.Len(t, sink.events, 1)
	assert.Empty(t, s.PendingEvents())
	events := s.Events(0)
	require.Len(t, events, 1)
	assert.True(t, events[0].Sent)
	assert.NotNil(t, events[0].SentAt)
}

func TestEvents_PendingMarkAndClear(t *testing.T) {
	prices := newFakePrices()
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	s := newTestService(prices, WithNotifier(notifier))
	for _, sym := range []string{"A", "B"} {
		_, err := s.AddInstrument(models.InstrumentSpec{
			Symbol:               sym,
			TakeProfit:           dec(10),
			CheckInterval:        time.Minute,
			NotificationsEnabled: true,
		})
		require.NoError(t, err)
		prices.set(sym, 11)
	}
	s.Tick(context.Background(), t0)

	assert.Len(t, s.PendingEvents(), 2)
	assert.Equal(t, 2, s.MarkAllSent())
	assert.Empty(t, s.PendingEvents())
	assert.Equal(t, 0, s.MarkAllSent())
	assert.Len(t, s.Events(1), 1)
	assert.Equal(t, 2, s.ClearEvents())
	assert.Empty(t, s.Events(0))
}

func TestTick_BoundsConcurrentFetches(t *testing.T) {
	prices := newFakePrices()
	prices.delay = 5 * time.Millisecond
	s := newTestService(prices, WithFetchConcurrency(2))
	for i := 0; i < 8; i++ {
		sym := fmt.Sprintf("S%d", i)
		prices.set(sym, 1)
		_, err := s.AddInstrument(models.InstrumentSpec{Symbol: sym})
		require.NoError(t, err)
	}
	sum := s.Tick(context.Background(), t0)
	assert.Equal(t, 8, sum.Checked)
	assert.LessOrEqual(t, atomic.LoadInt32(&prices.peak), int32(2))
}

func TestStartStop_LoopTicksUntilStopped(t *testing.T) {
	prices := newFakePrices()
	prices.set("LOOP", 1)
	s := New(nil, prices, nil, WithTickInterval(5*time.Millisecond))
	_, err := s.AddInstrument(models.InstrumentSpec{Symbol: "LOOP", CheckInterval: time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	require.Eventually(t, func() bool { return prices.callCount("LOOP") >= 2 }, time.Second, time.Millisecond)

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))

	calls := prices.callCount("LOOP")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, prices.callCount("LOOP"))

	st := s.Status()
	assert.False(t, st.Running)
	assert.Equal(t, 1, st.Instruments)
}
