package repository

import (
	"context"
	"errors"
	"fmt"

	"TradeWatch/internal/domain/models"
	domrepo "TradeWatch/internal/domain/repository"
	pkgkafka "TradeWatch/pkg/kafka"
	applogger "TradeWatch/pkg/logger"
	"TradeWatch/pkg/queue"
)

// WebhookMessageType is the queue message type of outbound webhook deliveries.
const WebhookMessageType = "notification.webhook"

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	l *applogger.Logger
}

func NewLogNotifier(l *applogger.Logger) *LogNotifier {
	if l == nil {
		l = applogger.Nop()
	}
	return &LogNotifier{l: l.With(applogger.String("component", "notifier"))}
}

func (n *LogNotifier) Send(_ context.Context, msg *models.Notification) error {
	fields := []applogger.Field{
		applogger.String("id", msg.ID),
		applogger.String("kind", string(msg.Kind)),
		applogger.String("title", msg.Title),
		applogger.String("body", msg.Body),
	}
	if msg.Event != nil {
		fields = append(fields,
			applogger.String("symbol", msg.Event.Symbol),
			applogger.String("event", string(msg.Event.Kind)),
			applogger.String("price", msg.Event.Price.String()))
	}
	n.l.Info("notification", fields...)
	return nil
}

// Publisher is the subset of the Kafka producer used by the notifiers.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// KafkaNotifier publishes notifications as JSON to a topic, keyed by symbol
// for threshold alerts and by batch id for summaries.
type KafkaNotifier struct {
	producer Publisher
	topic    string
	metrics  domrepo.Metrics
}

func NewKafkaNotifier(producer Publisher, topic string, metrics domrepo.Metrics) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic, metrics: metrics}
}

func (n *KafkaNotifier) Send(ctx context.Context, msg *models.Notification) error {
	err := n.producer.PublishBatch(ctx, n.topic, []pkgkafka.Message{{
		Key:     notificationKey(msg),
		Value:   msg,
		Headers: map[string]string{pkgkafka.TraceHeader: msg.ID},
	}})
	if err != nil {
		n.metrics.RecordError("notify_kafka")
		return fmt.Errorf("publish notification: %w", err)
	}
	n.metrics.RecordMessageSent("kafka", n.topic)
	return nil
}

func notificationKey(msg *models.Notification) []byte {
	switch {
	case msg.Event != nil:
		return []byte(msg.Event.Symbol)
	case msg.Batch != nil:
		return []byte(msg.Batch.BatchID)
	default:
		return []byte(msg.ID)
	}
}

// QueueNotifier puts notifications on the Redis queue; the webhook job
// delivers them with retries and a dead-letter list.
type QueueNotifier struct {
	queue   queue.Enqueuer
	metrics domrepo.Metrics
}

func NewQueueNotifier(q queue.Enqueuer, metrics domrepo.Metrics) *QueueNotifier {
	return &QueueNotifier{queue: q, metrics: metrics}
}

func (n *QueueNotifier) Send(ctx context.Context, msg *models.Notification) error {
	if err := n.queue.Enqueue(ctx, WebhookMessageType, msg); err != nil {
		n.metrics.RecordError("notify_queue")
		return fmt.Errorf("enqueue notification: %w", err)
	}
	n.metrics.RecordMessageSent("queue", WebhookMessageType)
	return nil
}

// FanoutNotifier sends to every sink. It fails when any sink fails so the
// event stays pending; the other sinks still receive it.
type FanoutNotifier struct {
	sinks []domrepo.NotificationSink
}

func NewFanoutNotifier(sinks ...domrepo.NotificationSink) *FanoutNotifier {
	out := make([]domrepo.NotificationSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &FanoutNotifier{sinks: out}
}

func (f *FanoutNotifier) Send(ctx context.Context, msg *models.Notification) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len reports how many sinks are attached.
func (f *FanoutNotifier) Len() int { return len(f.sinks) }

var (
	_ domrepo.NotificationSink = (*LogNotifier)(nil)
	_ domrepo.NotificationSink = (*KafkaNotifier)(nil)
	_ domrepo.NotificationSink = (*QueueNotifier)(nil)
	_ domrepo.NotificationSink = (*FanoutNotifier)(nil)
)

// LogShipper forwards aggregated error logs to a Kafka topic, one record
// per aggregated entry keyed by level.
type LogShipper struct {
	producer Publisher
}

func NewLogShipper(producer Publisher) *LogShipper {
	return &LogShipper{producer: producer}
}

func (s *LogShipper) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	entries, ok := payload.([]applogger.AggregatedLogEntry)
	if !ok {
		return s.producer.Publish(ctx, topic, nil, payload)
	}
	msgs := make([]pkgkafka.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, pkgkafka.Message{Key: []byte(e.Level), Value: e})
	}
	return s.producer.PublishBatch(ctx, topic, msgs)
}

var _ applogger.Publisher = (*LogShipper)(nil)
