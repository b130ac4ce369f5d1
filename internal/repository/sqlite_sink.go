package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TradeWatch/internal/domain/models"
	domrepo "TradeWatch/internal/domain/repository"
	applogger "TradeWatch/pkg/logger"
	pkgsqlite "TradeWatch/pkg/sqlite"

	"github.com/shopspring/decimal"
)

// SQLiteSchema creates the result tables. Timestamps are unix milliseconds.
var SQLiteSchema = []string{
	`CREATE TABLE IF NOT EXISTS analysis_results (
        id         TEXT PRIMARY KEY,
        batch_id   TEXT NOT NULL,
        job_id     TEXT NOT NULL,
        symbol     TEXT NOT NULL,
        name       TEXT NOT NULL DEFAULT '',
        rating     TEXT NOT NULL DEFAULT '',
        summary    TEXT NOT NULL DEFAULT '',
        payload    TEXT NOT NULL,
        created_at INTEGER NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_results_symbol ON analysis_results (symbol, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS monitor_events (
        id            TEXT PRIMARY KEY,
        instrument_id TEXT NOT NULL,
        symbol        TEXT NOT NULL,
        name          TEXT NOT NULL DEFAULT '',
        kind          TEXT NOT NULL,
        price         TEXT NOT NULL,
        threshold     TEXT NOT NULL,
        message       TEXT NOT NULL,
        triggered_at  INTEGER NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_monitor_events_symbol ON monitor_events (symbol, triggered_at DESC)`,
}

// SQLiteSink stores analysis results and monitor events in an embedded database.
type SQLiteSink struct {
	client *pkgsqlite.Client
	db     *sql.DB
	l      *applogger.Logger
}

func NewSQLiteSink(client *pkgsqlite.Client, l *applogger.Logger) *SQLiteSink {
	if l == nil {
		l = applogger.Nop()
	}
	return &SQLiteSink{client: client, db: client.DB(), l: l}
}

func (s *SQLiteSink) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, SQLiteSchema)
}

func (s *SQLiteSink) SaveResult(ctx context.Context, rec *models.AnalysisRecord) (string, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO analysis_results
        (id, batch_id, job_id, symbol, name, rating, summary, payload, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.BatchID, rec.JobID, rec.Symbol, rec.Name, rec.Rating, rec.Summary, rec.Payload,
		rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		s.l.Error("sqlite save_result error",
			applogger.String("symbol", rec.Symbol),
			applogger.String("batch_id", rec.BatchID),
			applogger.Error(err))
		return "", fmt.Errorf("save result: %w", err)
	}
	return rec.ID, nil
}

func (s *SQLiteSink) SaveMonitorEvent(ctx context.Context, ev *models.ThresholdEvent) (string, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO monitor_events
        (id, instrument_id, symbol, name, kind, price, threshold, message, triggered_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.InstrumentID, ev.Symbol, ev.Name, string(ev.Kind), ev.Price.String(), ev.Threshold, ev.Message,
		ev.TriggeredAt.UnixMilli(),
	)
	if err != nil {
		s.l.Error("sqlite save_event error",
			applogger.String("symbol", ev.Symbol),
			applogger.String("kind", string(ev.Kind)),
			applogger.Error(err))
		return "", fmt.Errorf("save monitor event: %w", err)
	}
	return ev.ID, nil
}

func (s *SQLiteSink) RecentResults(ctx context.Context, q models.HistoryQuery) ([]*models.AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, batch_id, job_id, symbol, name, rating, summary, payload, created_at
        FROM analysis_results
        WHERE (? = '' OR symbol = ?) AND created_at >= ?
        ORDER BY created_at DESC, rowid DESC
        LIMIT ?`, q.Symbol, q.Symbol, sinceMillis(q.Since), clampLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("recent results: %w", err)
	}
	defer rows.Close()

	var out []*models.AnalysisRecord
	for rows.Next() {
		var (
			r  models.AnalysisRecord
			ms int64
		)
		if err := rows.Scan(&r.ID, &r.BatchID, &r.JobID, &r.Symbol, &r.Name, &r.Rating, &r.Summary, &r.Payload, &ms); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.CreatedAt = time.UnixMilli(ms).UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLiteSink) RecentEvents(ctx context.Context, q models.HistoryQuery) ([]*models.ThresholdEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, instrument_id, symbol, name, kind, price, threshold, message, triggered_at
        FROM monitor_events
        WHERE (? = '' OR symbol = ?) AND triggered_at >= ?
        ORDER BY triggered_at DESC, rowid DESC
        LIMIT ?`, q.Symbol, q.Symbol, sinceMillis(q.Since), clampLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	var out []*models.ThresholdEvent
	for rows.Next() {
		var (
			ev    models.ThresholdEvent
			kind  string
			price string
			ms    int64
		)
		if err := rows.Scan(&ev.ID, &ev.InstrumentID, &ev.Symbol, &ev.Name, &kind, &price, &ev.Threshold, &ev.Message, &ms); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("event %s price %q: %w", ev.ID, price, err)
		}
		ev.Kind = models.EventKind(kind)
		ev.Price = p
		ev.TriggeredAt = time.UnixMilli(ms).UTC()
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func sinceMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func (s *SQLiteSink) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *SQLiteSink) Close() error {
	return nil // Managed by pkg
}

var (
	_ domrepo.ResultSink   = (*SQLiteSink)(nil)
	_ domrepo.ResultReader = (*SQLiteSink)(nil)
)
