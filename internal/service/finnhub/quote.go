package finnhub

import (
	"context"
	"fmt"
	"strings"

	"TradeWatch/internal/domain/models"
	drepo "TradeWatch/internal/domain/repository"
	xhttp "TradeWatch/pkg/http"

	"github.com/shopspring/decimal"
)

// QuoteClient implements PriceSource with the Finnhub REST quote endpoint.
type QuoteClient struct {
	apiKey  string
	baseURL string
	client  *xhttp.Client
}

// NewQuoteClient builds the REST quote source. baseURL defaults to the public API.
func NewQuoteClient(apiKey, baseURL string, client *xhttp.Client) *QuoteClient {
	if baseURL == "" {
		baseURL = "https://finnhub.io/api/v1"
	}
	if client == nil {
		client = xhttp.NewClient()
	}
	return &QuoteClient{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type fhQuote struct {
	C  float64 `json:"c"`  // current
	PC float64 `json:"pc"` // previous close
	T  int64   `json:"t"`
}

// GetCurrentPrice returns the last price, or the previous close when the
// market has not traded yet today.
func (q *QuoteClient) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var out fhQuote
	err := q.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    q.baseURL + "/quote",
		Headers: map[string]string{
			"X-Finnhub-Token": q.apiKey,
		},
		QueryParams: map[string][]string{"symbol": {strings.ToUpper(symbol)}},
	}, &out)
	if err != nil {
		return decimal.Zero, fmt.Errorf("finnhub quote %s: %w", symbol, err)
	}
	price := out.C
	if price <= 0 {
		price = out.PC
	}
	if price <= 0 {
		return decimal.Zero, fmt.Errorf("finnhub quote %s: %w", symbol, models.ErrNotFound)
	}
	return decimal.NewFromFloat(price), nil
}

var _ drepo.PriceSource = (*QuoteClient)(nil)
