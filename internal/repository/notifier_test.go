package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"TradeWatch/internal/domain/models"
	domrepo "TradeWatch/internal/domain/repository"
	pkgkafka "TradeWatch/pkg/kafka"
	applogger "TradeWatch/pkg/logger"
	"TradeWatch/pkg/metrics"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	topic   string
	key     []byte
	value   interface{}
	headers map[string]string
	count   int
	err     error
}

func (p *capturePublisher) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	p.topic, p.key, p.value, p.count = topic, key, value, 1
	return p.err
}

func (p *capturePublisher) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	p.topic, p.count = topic, len(msgs)
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		p.key, p.value, p.headers = last.Key, last.Value, last.Headers
	}
	return p.err
}

type captureQueue struct {
	msgType string
	payload interface{}
	err     error
}

func (q *captureQueue) Enqueue(_ context.Context, msgType string, payload interface{}) error {
	q.msgType, q.payload = msgType, payload
	return q.err
}

type sinkFunc func(context.Context, *models.Notification) error

func (f sinkFunc) Send(ctx context.Context, n *models.Notification) error { return f(ctx, n) }

func testEventNotification() *models.Notification {
	return models.NewEventNotification(&models.ThresholdEvent{
		ID:          "e1",
		Symbol:      "AAPL",
		Kind:        models.EventStopLoss,
		Price:       decimal.NewFromInt(170),
		Message:     "stop loss hit",
		TriggeredAt: time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC),
	})
}

func TestKafkaNotifier(t *testing.T) {
	p := &capturePublisher{}
	n := NewKafkaNotifier(p, "monitor.notifications", metrics.Nop{})

	msg := testEventNotification()
	require.NoError(t, n.Send(context.Background(), msg))
	assert.Equal(t, "monitor.notifications", p.topic)
	assert.Equal(t, []byte("AAPL"), p.key)
	assert.Same(t, msg, p.value)
	assert.Equal(t, msg.ID, p.headers[pkgkafka.TraceHeader])

	summary := &models.Notification{ID: "n2", Kind: models.NotifyBatchSummary, Batch: &models.BatchSummary{BatchID: "b9"}}
	require.NoError(t, n.Send(context.Background(), summary))
	assert.Equal(t, []byte("b9"), p.key)

	p.err = errors.New("broker down")
	assert.ErrorIs(t, n.Send(context.Background(), msg), p.err)
}

func TestQueueNotifier(t *testing.T) {
	q := &captureQueue{}
	n := NewQueueNotifier(q, metrics.Nop{})
	msg := testEventNotification()
	require.NoError(t, n.Send(context.Background(), msg))
	assert.Equal(t, WebhookMessageType, q.msgType)
	assert.Same(t, msg, q.payload)
}

func TestFanoutNotifier(t *testing.T) {
	var got []string
	ok := sinkFunc(func(_ context.Context, n *models.Notification) error {
		got = append(got, n.ID)
		return nil
	})
	boom := errors.New("webhook down")
	bad := sinkFunc(func(context.Context, *models.Notification) error { return boom })

	f := NewFanoutNotifier(ok, nil, bad, ok)
	assert.Equal(t, 3, f.Len())
	err := f.Send(context.Background(), testEventNotification())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"e1", "e1"}, got)

	assert.NoError(t, NewFanoutNotifier().Send(context.Background(), testEventNotification()))
	assert.NoError(t, NewLogNotifier(nil).Send(context.Background(), testEventNotification()))

	var _ domrepo.NotificationSink = f
}

func TestLogShipper(t *testing.T) {
	p := &capturePublisher{}
	s := NewLogShipper(p)
	require.NoError(t, s.PublishMessage(context.Background(), "tradewatch.logs", []string{"x"}))
	assert.Equal(t, "tradewatch.logs", p.topic)
	assert.Nil(t, p.key)
	assert.Equal(t, []string{"x"}, p.value)

	entries := []applogger.AggregatedLogEntry{
		{Level: "error", Message: "price fetch failed", Count: 3},
		{Level: "warn", Message: "queue full", Count: 1},
	}
	require.NoError(t, s.PublishMessage(context.Background(), "tradewatch.logs", entries))
	assert.Equal(t, 2, p.count)
	assert.Equal(t, []byte("warn"), p.key)
	assert.Equal(t, entries[1], p.value)

	p.err = errors.New("broker down")
	assert.Error(t, s.PublishMessage(context.Background(), "tradewatch.logs", nil))
}
