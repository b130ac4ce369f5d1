package finnhub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"TradeWatch/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Finnhub-Token"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("symbol") {
		case "AAPL":
			_, _ = w.Write([]byte(`{"c":187.25,"pc":186.1,"t":1709650800}`))
		case "PRE":
			_, _ = w.Write([]byte(`{"c":0,"pc":42.5,"t":0}`))
		case "NONE":
			_, _ = w.Write([]byte(`{"c":0,"pc":0,"t":0}`))
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	q := NewQuoteClient("secret", srv.URL+"/", nil)
	ctx := context.Background()

	p, err := q.GetCurrentPrice(ctx, "aapl")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("187.25")))

	p, err = q.GetCurrentPrice(ctx, "PRE")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("42.5")))

	_, err = q.GetCurrentPrice(ctx, "NONE")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = q.GetCurrentPrice(ctx, "LIMIT")
	assert.Error(t, err)
}
