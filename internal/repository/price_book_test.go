package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"TradeWatch/internal/domain/models"
	"TradeWatch/pkg/cache"
	"TradeWatch/pkg/metrics"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubQuotes struct {
	price decimal.Decimal
	err   error
	calls int
}

func (s *stubQuotes) GetCurrentPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	s.calls++
	return s.price, s.err
}

func newTestBook(t *testing.T, now time.Time, opts ...PriceBookOption) *PriceBook {
	t.Helper()
	c := cache.NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })
	b := NewPriceBook(c, metrics.Nop{}, nil, opts...)
	b.now = func() time.Time { return now }
	return b
}

func TestPriceBook_StreamedTradeServedFresh(t *testing.T) {
	now := time.Date(2024, 3, 5, 14, 30, 10, 0, time.UTC)
	rest := &stubQuotes{price: decimal.NewFromInt(1)}
	b := newTestBook(t, now, WithFallback(rest), WithMaxAge(30*time.Second))
	ctx := context.Background()

	require.NoError(t, b.Process(ctx, &models.Trade{Symbol: "aapl", Timestamp: now.Add(-5 * time.Second).Unix(), Price: 187.5, Volume: 10}))

	p, err := b.GetCurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("187.5")))
	assert.Zero(t, rest.calls)

	q, err := b.Latest(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "stream", q.Source)
}

func TestPriceBook_OlderTradeDoesNotOverwrite(t *testing.T) {
	now := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	b := newTestBook(t, now)
	ctx := context.Background()

	require.NoError(t, b.Process(ctx, &models.Trade{Symbol: "MSFT", Timestamp: now.Unix(), Price: 400}))
	require.NoError(t, b.Process(ctx, &models.Trade{Symbol: "MSFT", Timestamp: now.Add(-time.Minute).Unix(), Price: 390}))

	q, err := b.Latest(ctx, "MSFT")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(400)))
}

func TestPriceBook_StaleOrMissingUsesFallback(t *testing.T) {
	now := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	rest := &stubQuotes{price: decimal.RequireFromString("10.25")}
	b := newTestBook(t, now, WithFallback(rest), WithMaxAge(time.Minute))
	ctx := context.Background()

	p, err := b.GetCurrentPrice(ctx, "600519")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("10.25")))
	assert.Equal(t, 1, rest.calls)

	// the fallback result is cached
	_, err = b.GetCurrentPrice(ctx, "600519")
	require.NoError(t, err)
	assert.Equal(t, 1, rest.calls)

	require.NoError(t, b.Process(ctx, &models.Trade{Symbol: "OLD", Timestamp: now.Add(-time.Hour).Unix(), Price: 5}))
	_, err = b.GetCurrentPrice(ctx, "OLD")
	require.NoError(t, err)
	assert.Equal(t, 2, rest.calls)
}

func TestPriceBook_Errors(t *testing.T) {
	now := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	ctx := context.Background()

	b := newTestBook(t, now)
	_, err := b.GetCurrentPrice(ctx, "NONE")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	// stale price is served when there is no fallback
	require.NoError(t, b.Process(ctx, &models.Trade{Symbol: "OLD", Timestamp: now.Add(-time.Hour).Unix(), Price: 5}))
	p, err := b.GetCurrentPrice(ctx, "OLD")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(5)))

	boom := errors.New("quote down")
	b = newTestBook(t, now, WithFallback(&stubQuotes{err: boom}))
	_, err = b.GetCurrentPrice(ctx, "X")
	assert.ErrorIs(t, err, boom)

	assert.Error(t, b.Process(ctx, nil))
}
