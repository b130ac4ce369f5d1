package repository

import (
	"context"

	"TradeWatch/internal/domain/models"

	"github.com/shopspring/decimal"
)

type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Trade, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// PriceSource returns the current price of a symbol.
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// ResultSink persists analysis results and monitor events.
type ResultSink interface {
	Init(ctx context.Context) error
	SaveResult(ctx context.Context, rec *models.AnalysisRecord) (string, error)
	SaveMonitorEvent(ctx context.Context, ev *models.ThresholdEvent) (string, error)
	Health(ctx context.Context) error
	Close() error
}

// ResultReader lists persisted analysis results and monitor events, newest first.
type ResultReader interface {
	RecentResults(ctx context.Context, q models.HistoryQuery) ([]*models.AnalysisRecord, error)
	RecentEvents(ctx context.Context, q models.HistoryQuery) ([]*models.ThresholdEvent, error)
}

// NotificationSink delivers alerts and summaries to users.
type NotificationSink interface {
	Send(ctx context.Context, n *models.Notification) error
}

type Metrics interface {
	RecordMessageSent(backend, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordJob(status string, seconds float64)
	RecordThresholdEvent(kind string)
}
