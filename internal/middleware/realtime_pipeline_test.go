package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TradeWatch/internal/domain/models"
	"TradeWatch/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyProc struct {
	mu    sync.Mutex
	fail  bool
	seen  []*models.Trade
	calls int
}

func (f *flakyProc) Process(_ context.Context, t *models.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("downstream unavailable")
	}
	f.seen = append(f.seen, t)
	return nil
}

func (f *flakyProc) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakyProc) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func trade(sym string, price float64) *models.Trade {
	return &models.Trade{Symbol: sym, Timestamp: time.Now().Unix(), Price: price, Volume: 1}
}

func TestPipeline_Validation(t *testing.T) {
	p := NewRealtimePipeline(&flakyProc{}, metrics.Nop{})
	ctx := context.Background()
	for _, bad := range []*models.Trade{
		nil,
		{Timestamp: 1, Price: 1},
		{Symbol: "A", Price: 1},
		{Symbol: "A", Timestamp: 1, Price: 0},
		{Symbol: "A", Timestamp: 1, Price: 1, Volume: -1},
	} {
		assert.Error(t, p.Process(ctx, bad))
	}
}

func TestPipeline_ThrottlesPerSymbol(t *testing.T) {
	proc := &flakyProc{}
	p := NewRealtimePipeline(proc, metrics.Nop{}, WithMaxRPS(1))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, trade("AAPL", 1)))
	require.NoError(t, p.Process(ctx, trade("AAPL", 2)))
	require.NoError(t, p.Process(ctx, trade("MSFT", 3)))
	assert.Equal(t, 2, proc.count())
}

func TestPipeline_TransformRewritesSymbol(t *testing.T) {
	proc := &flakyProc{}
	p := NewRealtimePipeline(proc, metrics.Nop{}, WithTransform(func(tr *models.Trade) *models.Trade {
		cp := *tr
		cp.Symbol = "US." + tr.Symbol
		return &cp
	}))
	require.NoError(t, p.Process(context.Background(), trade("AAPL", 1)))
	require.Equal(t, 1, proc.count())
	assert.Equal(t, "US.AAPL", proc.seen[0].Symbol)
}

func TestPipeline_BuffersAndRetries(t *testing.T) {
	proc := &flakyProc{fail: true}
	p := NewRealtimePipeline(proc, metrics.Nop{}, WithMaxRPS(1000), WithBufferSize(2))
	ctx := context.Background()

	assert.Error(t, p.Process(ctx, trade("A", 1)))
	assert.Error(t, p.Process(ctx, trade("B", 1)))
	assert.Error(t, p.Process(ctx, trade("C", 1))) // buffer full, dropped
	assert.Equal(t, 2, p.Buffered())

	proc.setFail(false)
	p.Start(ctx)
	defer p.Stop()
	require.Eventually(t, func() bool { return proc.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, p.Buffered())
}
