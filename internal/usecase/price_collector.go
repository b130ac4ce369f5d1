package usecase

import (
	"context"
	"sync"
	"time"

	"TradeWatch/internal/domain/models"
	drepo "TradeWatch/internal/domain/repository"
	mid "TradeWatch/internal/middleware"
	"TradeWatch/pkg/logger"
)

// SymbolSubscriber is implemented by streams that accept new symbols while connected.
type SymbolSubscriber interface {
	AddSymbols(ctx context.Context, symbols ...string) error
}

// PriceCollector feeds streamed trades through the realtime pipeline into the
// price book. It also subscribes the stream to every monitored symbol.
type PriceCollector struct {
	stream    drepo.MarketStream
	pipe      *mid.RealtimePipeline
	watchlist Watchlist
	metrics   drepo.Metrics
	logger    *logger.Logger
	syncEvery time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPriceCollector(stream drepo.MarketStream, pipe *mid.RealtimePipeline, watchlist Watchlist, metrics drepo.Metrics, l *logger.Logger) *PriceCollector {
	if l == nil {
		l = logger.Nop()
	}
	return &PriceCollector{
		stream:    stream,
		pipe:      pipe,
		watchlist: watchlist,
		metrics:   metrics,
		logger:    l.With(logger.String("component", "price_collector")),
		syncEvery: 30 * time.Second,
	}
}

// IsConnected returns true if the market stream is connected.
func (c *PriceCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects the stream and begins consuming in the background.
func (c *PriceCollector) Start(ctx context.Context) error {
	c.syncWatchlist(ctx)
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.pipe.Start(ctx)
	c.wg.Add(2)
	go c.consume(ctx)
	go c.watch(ctx)
	return nil
}

func (c *PriceCollector) consume(ctx context.Context) {
	defer c.wg.Done()
	for ctx.Err() == nil {
		trCh, errCh := c.stream.Read(ctx)
		c.drain(ctx, trCh, errCh)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("stream")
		if err := c.stream.Reconnect(ctx); err != nil {
			c.logger.Warn("stream reconnect failed", logger.Error(err))
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
			}
		}
	}
}

// drain returns when the stream reports an error or closes.
func (c *PriceCollector) drain(ctx context.Context, trCh <-chan *models.Trade, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if ok && err != nil {
				c.logger.Warn("stream error", logger.Error(err))
			}
			return
		case t, ok := <-trCh:
			if !ok {
				return
			}
			if err := c.pipe.Process(ctx, t); err != nil {
				c.logger.Debug("trade not stored", logger.String("symbol", t.Symbol), logger.Error(err))
			}
		}
	}
}

func (c *PriceCollector) watch(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.syncEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.syncWatchlist(ctx)
		}
	}
}

func (c *PriceCollector) syncWatchlist(ctx context.Context) {
	sub, ok := c.stream.(SymbolSubscriber)
	if !ok || c.watchlist == nil {
		return
	}
	insts := c.watchlist.Instruments()
	symbols := make([]string, 0, len(insts))
	for _, inst := range insts {
		symbols = append(symbols, inst.Symbol)
	}
	if err := sub.AddSymbols(ctx, symbols...); err != nil {
		c.logger.Warn("subscribe monitored symbols failed", logger.Error(err))
	}
}

// Shutdown stops consuming, drains the pipeline and closes the stream.
func (c *PriceCollector) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := c.stream.Close()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.pipe.Stop()
	return err
}
