package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"TradeWatch/internal/domain/models"
	domrepo "TradeWatch/internal/domain/repository"
	"TradeWatch/pkg/cache"
	applogger "TradeWatch/pkg/logger"

	"github.com/shopspring/decimal"
)

const priceKeyPrefix = "tradewatch:price"

// PriceBook keeps the latest trade price per symbol in the cache.
// It is fed by the realtime pipeline and read by the monitor; prices older
// than maxAge are refreshed from the fallback source.
type PriceBook struct {
	cache    cache.Service
	fallback domrepo.PriceSource
	metrics  domrepo.Metrics
	l        *applogger.Logger
	ttl      time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

type PriceBookOption func(*PriceBook)

// WithPriceTTL sets how long cached prices live.
func WithPriceTTL(d time.Duration) PriceBookOption {
	return func(b *PriceBook) {
		if d > 0 {
			b.ttl = d
		}
	}
}

// WithMaxAge sets how old a cached price may be before the fallback is asked.
func WithMaxAge(d time.Duration) PriceBookOption {
	return func(b *PriceBook) {
		if d > 0 {
			b.maxAge = d
		}
	}
}

// WithFallback sets the source used on cache miss or stale price.
func WithFallback(src domrepo.PriceSource) PriceBookOption {
	return func(b *PriceBook) { b.fallback = src }
}

func NewPriceBook(c cache.Service, metrics domrepo.Metrics, l *applogger.Logger, opts ...PriceBookOption) *PriceBook {
	if l == nil {
		l = applogger.Nop()
	}
	b := &PriceBook{
		cache:   c,
		metrics: metrics,
		l:       l,
		ttl:     10 * time.Minute,
		maxAge:  time.Minute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func priceKey(symbol string) string {
	return cache.Key(priceKeyPrefix, strings.ToUpper(symbol))
}

// Process stores a streamed trade. It satisfies the realtime pipeline's Proc.
func (b *PriceBook) Process(ctx context.Context, t *models.Trade) error {
	if t == nil {
		return fmt.Errorf("trade is nil")
	}
	at := time.Unix(t.Timestamp, 0).UTC()
	return b.Put(ctx, &models.Quote{
		Symbol: strings.ToUpper(t.Symbol),
		Price:  decimal.NewFromFloat(t.Price),
		At:     at,
		Source: "stream",
	})
}

// Put stores a quote unless a newer one is already cached.
func (b *PriceBook) Put(ctx context.Context, q *models.Quote) error {
	if cur, err := b.Latest(ctx, q.Symbol); err == nil && cur.At.After(q.At) {
		return nil
	}
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode quote: %w", err)
	}
	if err := b.cache.Set(ctx, priceKey(q.Symbol), string(data), b.ttl); err != nil {
		return fmt.Errorf("cache quote %s: %w", q.Symbol, err)
	}
	return nil
}

// Latest returns the cached quote or cache.ErrCacheMiss.
func (b *PriceBook) Latest(ctx context.Context, symbol string) (*models.Quote, error) {
	var raw string
	if err := b.cache.Get(ctx, priceKey(symbol), &raw); err != nil {
		return nil, err
	}
	var q models.Quote
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return nil, fmt.Errorf("decode quote %s: %w", symbol, err)
	}
	return &q, nil
}

// GetCurrentPrice returns a fresh cached price, asking the fallback otherwise.
func (b *PriceBook) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q, err := b.Latest(ctx, symbol)
	switch {
	case err == nil && b.now().Sub(q.At) <= b.maxAge:
		return q.Price, nil
	case err != nil && !errors.Is(err, cache.ErrCacheMiss):
		b.metrics.RecordError("price_book_read")
		b.l.Warn("price book read failed", applogger.String("symbol", symbol), applogger.Error(err))
	}

	if b.fallback == nil {
		if q != nil {
			// no other source, serve the stale price
			return q.Price, nil
		}
		return decimal.Zero, fmt.Errorf("no price for %s: %w", symbol, models.ErrNotFound)
	}

	start := time.Now()
	p, ferr := b.fallback.GetCurrentPrice(ctx, symbol)
	b.metrics.RecordLatency("price_fallback", time.Since(start).Seconds())
	if ferr != nil {
		return decimal.Zero, ferr
	}
	if err := b.Put(ctx, &models.Quote{Symbol: strings.ToUpper(symbol), Price: p, At: b.now().UTC(), Source: "rest"}); err != nil {
		b.l.Debug("price book write failed", applogger.String("symbol", symbol), applogger.Error(err))
	}
	return p, nil
}

var _ domrepo.PriceSource = (*PriceBook)(nil)
