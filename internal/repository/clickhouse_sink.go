package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TradeWatch/internal/domain/models"
	domrepo "TradeWatch/internal/domain/repository"
	pkgch "TradeWatch/pkg/clickhouse"
	applogger "TradeWatch/pkg/logger"

	"github.com/shopspring/decimal"
)

// ClickHouseSchema creates the result tables. Statements are idempotent.
func ClickHouseSchema(database string) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, database),
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s.analysis_results (
            id         String,
            batch_id   String,
            job_id     String,
            symbol     LowCardinality(String),
            name       String,
            rating     LowCardinality(String),
            summary    String,
            payload    String,
            created_at DateTime64(3, 'UTC')
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMM(created_at)
        ORDER BY (symbol, created_at)`, database),
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s.monitor_events (
            id            String,
            instrument_id String,
            symbol        LowCardinality(String),
            name          String,
            kind          LowCardinality(String),
            price         Decimal(18, 4),
            threshold     String,
            message       String,
            triggered_at  DateTime64(3, 'UTC')
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMM(triggered_at)
        ORDER BY (symbol, triggered_at)`, database),
	}
}

// ClickHouseSink stores analysis results and monitor events in ClickHouse.
type ClickHouseSink struct {
	client   *pkgch.Client
	db       *sql.DB
	database string
	l        *applogger.Logger
}

func NewClickHouseSink(client *pkgch.Client, database string, l *applogger.Logger) *ClickHouseSink {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseSink{client: client, db: client.DB(), database: database, l: l}
}

func (s *ClickHouseSink) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, ClickHouseSchema(s.database))
}

func (s *ClickHouseSink) SaveResult(ctx context.Context, rec *models.AnalysisRecord) (string, error) {
	q := fmt.Sprintf(`INSERT INTO %s.analysis_results
        (id, batch_id, job_id, symbol, name, rating, summary, payload, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.database)
	_, err := s.db.ExecContext(ctx, q,
		rec.ID,
		rec.BatchID,
		rec.JobID,
		rec.Symbol,
		rec.Name,
		rec.Rating,
		rec.Summary,
		rec.Payload,
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		s.l.Error("clickhouse save_result error",
			applogger.String("symbol", rec.Symbol),
			applogger.String("batch_id", rec.BatchID),
			applogger.Error(err),
		)
		return "", fmt.Errorf("save result: %w", err)
	}
	return rec.ID, nil
}

func (s *ClickHouseSink) SaveMonitorEvent(ctx context.Context, ev *models.ThresholdEvent) (string, error) {
	q := fmt.Sprintf(`INSERT INTO %s.monitor_events
        (id, instrument_id, symbol, name, kind, price, threshold, message, triggered_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.database)
	_, err := s.db.ExecContext(ctx, q,
		ev.ID,
		ev.InstrumentID,
		ev.Symbol,
		ev.Name,
		string(ev.Kind),
		ev.Price,
		ev.Threshold,
		ev.Message,
		ev.TriggeredAt.UTC(),
	)
	if err != nil {
		s.l.Error("clickhouse save_event error",
			applogger.String("symbol", ev.Symbol),
			applogger.String("kind", string(ev.Kind)),
			applogger.Error(err),
		)
		return "", fmt.Errorf("save monitor event: %w", err)
	}
	return ev.ID, nil
}

func (s *ClickHouseSink) RecentResults(ctx context.Context, q models.HistoryQuery) ([]*models.AnalysisRecord, error) {
	stmt := fmt.Sprintf(`
        SELECT id, batch_id, job_id, symbol, name, rating, summary, payload, created_at
        FROM %s.analysis_results
        WHERE (? = '' OR symbol = ?) AND created_at >= ?
        ORDER BY created_at DESC
        LIMIT ?`, s.database)
	rows, err := s.db.QueryContext(ctx, stmt, q.Symbol, q.Symbol, sinceTime(q.Since), clampLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("recent results: %w", err)
	}
	defer rows.Close()

	var out []*models.AnalysisRecord
	for rows.Next() {
		var r models.AnalysisRecord
		if err := rows.Scan(&r.ID, &r.BatchID, &r.JobID, &r.Symbol, &r.Name, &r.Rating, &r.Summary, &r.Payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *ClickHouseSink) RecentEvents(ctx context.Context, q models.HistoryQuery) ([]*models.ThresholdEvent, error) {
	stmt := fmt.Sprintf(`
        SELECT id, instrument_id, symbol, name, kind, price, threshold, message, triggered_at
        FROM %s.monitor_events
        WHERE (? = '' OR symbol = ?) AND triggered_at >= ?
        ORDER BY triggered_at DESC
        LIMIT ?`, s.database)
	rows, err := s.db.QueryContext(ctx, stmt, q.Symbol, q.Symbol, sinceTime(q.Since), clampLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	var out []*models.ThresholdEvent
	for rows.Next() {
		var (
			ev    models.ThresholdEvent
			kind  string
			price decimal.Decimal
			at    time.Time
		)
		if err := rows.Scan(&ev.ID, &ev.InstrumentID, &ev.Symbol, &ev.Name, &kind, &price, &ev.Threshold, &ev.Message, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = models.EventKind(kind)
		ev.Price = price
		ev.TriggeredAt = at
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *ClickHouseSink) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *ClickHouseSink) Close() error {
	return nil // Managed by pkg
}

// sinceTime maps the zero time to the epoch; DateTime64 cannot hold year 1.
func sinceTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return t.UTC()
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

var (
	_ domrepo.ResultSink   = (*ClickHouseSink)(nil)
	_ domrepo.ResultReader = (*ClickHouseSink)(nil)
)
