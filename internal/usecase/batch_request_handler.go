package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"TradeWatch/internal/domain/models"
	domrepo "TradeWatch/internal/domain/repository"
	pkghttp "TradeWatch/pkg/http"
	pkgkafka "TradeWatch/pkg/kafka"
	"TradeWatch/pkg/logger"
)

// BatchRequestHandler starts analysis batches from Kafka messages.
//
// Message schema:
//
//	{"request_id": "...", "symbols": "600519,000001" | ["600519"], "mode": "parallel",
//	 "max_workers": 3, "timeout_seconds": 300, "period": "1y", "sync_to_monitor": true}
type BatchRequestHandler struct {
	topic    string
	analysis *AnalysisUsecase
	metrics  domrepo.Metrics
	logger   *logger.Logger
}

func NewBatchRequestHandler(topic string, analysis *AnalysisUsecase, metrics domrepo.Metrics, l *logger.Logger) *BatchRequestHandler {
	if l == nil {
		l = logger.Nop()
	}
	return &BatchRequestHandler{topic: topic, analysis: analysis, metrics: metrics, logger: l}
}

func (h *BatchRequestHandler) Topic() string { return h.topic }

type batchMessage struct {
	RequestID      string          `json:"request_id"`
	Symbols        json.RawMessage `json:"symbols"`
	Mode           string          `json:"mode"`
	MaxWorkers     int             `json:"max_workers"`
	TimeoutSeconds int             `json:"timeout_seconds"`
	Period         string          `json:"period"`
	Analysts       []string        `json:"analysts"`
	SyncToMonitor  bool            `json:"sync_to_monitor"`
}

// Handle starts the batch and returns once it is accepted. Malformed messages
// are dropped without error so the consumer does not retry them.
func (h *BatchRequestHandler) Handle(ctx context.Context, b []byte) error {
	req, err := decodeBatchMessage(ctx, b)
	if err != nil {
		h.metrics.RecordError("batch_request_decode")
		h.logger.Warn("dropping malformed batch request", logger.Error(err))
		return nil
	}
	spec, err := h.analysis.SpecFromRequest(req)
	if err != nil {
		h.metrics.RecordError("batch_request_invalid")
		h.logger.Warn("dropping invalid batch request", logger.Error(err))
		return nil
	}
	id, err := h.analysis.StartBatch(ctx, spec)
	if err != nil {
		if errors.Is(err, models.ErrInvalidArgument) {
			h.logger.Warn("dropping invalid batch request", logger.Error(err))
			return nil
		}
		return err
	}
	h.metrics.RecordMessageSent("kafka_batch", h.topic)
	h.logger.Info("batch request accepted",
		logger.String("batch_id", id),
		logger.String("trace_id", pkgkafka.TraceIDFrom(ctx)),
		logger.Int("symbols", len(spec.Symbols)))
	return nil
}

func decodeBatchMessage(ctx context.Context, b []byte) (models.BatchRequest, error) {
	var m batchMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return models.BatchRequest{}, fmt.Errorf("unmarshal: %w", err)
	}

	var symbols string
	var list []string
	switch {
	case len(m.Symbols) == 0:
	case json.Unmarshal(m.Symbols, &symbols) == nil:
	case json.Unmarshal(m.Symbols, &list) == nil:
		symbols = strings.Join(list, ",")
	default:
		return models.BatchRequest{}, fmt.Errorf("symbols must be a string or a list")
	}

	req := models.BatchRequest{
		Symbols:        symbols,
		Mode:           m.Mode,
		MaxWorkers:     m.MaxWorkers,
		TimeoutSeconds: m.TimeoutSeconds,
		Period:         m.Period,
		Analysts:       m.Analysts,
		SyncToMonitor:  m.SyncToMonitor,
	}
	if err := pkghttp.ApplyDefaultsAndValidate(ctx, &req); err != nil {
		return models.BatchRequest{}, err
	}
	return req, nil
}

var _ pkgkafka.MessageHandler = (*BatchRequestHandler)(nil)
