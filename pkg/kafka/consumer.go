package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"TradeWatch/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// MessageHandler consumes one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// reader is the part of *kafka.Reader the consumer uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads registered topics in a consumer group and hands messages
// to a fixed set of workers. A partition always maps to the same worker, so
// messages of one partition are handled in order. Offsets are committed
// after the handler succeeds or the message reached the DLQ.
type Consumer struct {
	cfg      ConsumerConfig
	handlers map[string]MessageHandler
	hook     ConsumerHook
	logger   *logger.Logger

	newReader func(topic string) reader
	dlq       writer

	readers map[string]reader
	lanes   []chan kafka.Message
	cancel  context.CancelFunc
	readWG  sync.WaitGroup
	workWG  sync.WaitGroup
	started bool
	stop    sync.Once
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := ConsumerConfig{
		GroupID:     "tradewatch",
		WorkerCount: 1,
		BufferSize:  16,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: brokers are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	c := &Consumer{
		cfg:      cfg,
		handlers: make(map[string]MessageHandler),
		hook:     NoopHook{},
		logger:   cfg.Logger.With(logger.String("component", "kafka_consumer")),
	}
	c.newReader = func(topic string) reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    topic,
			GroupID:  cfg.GroupID,
			MinBytes: cfg.MinBytes,
			MaxBytes: cfg.MaxBytes,
		})
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.Hash{}}
	}
	registerConsumerMetrics()
	return c, nil
}

// RegisterHandler adds a handler. The first handler for a topic wins.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	topic := h.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.logger.Warn("handler already registered", logger.String("topic", topic))
		return
	}
	c.handlers[topic] = h
}

// WithConsumerHook installs hooks around every handler call.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start opens one reader per registered topic and starts the workers.
func (c *Consumer) Start() error {
	if c.started {
		return errors.New("kafka consumer: already started")
	}
	c.started = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.readers = make(map[string]reader, len(c.handlers))
	for topic := range c.handlers {
		c.readers[topic] = c.newReader(topic)
	}

	c.lanes = make([]chan kafka.Message, c.cfg.WorkerCount)
	for i := range c.lanes {
		c.lanes[i] = make(chan kafka.Message, c.cfg.BufferSize)
		c.workWG.Add(1)
		go c.work(ctx, i, c.lanes[i])
	}
	for topic, r := range c.readers {
		c.readWG.Add(1)
		go c.read(ctx, topic, r)
	}

	c.logger.Info("kafka consumer started",
		logger.Int("topics", len(c.handlers)),
		logger.Int("workers", c.cfg.WorkerCount),
		logger.String("group", c.cfg.GroupID))
	return nil
}

// Stop cancels reads, lets workers finish the message in hand and closes
// readers. Buffered messages that were never handled are not committed and
// will be redelivered.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stop.Do(func() {
		if !c.started {
			return
		}
		c.cancel()

		done := make(chan struct{})
		go func() {
			c.readWG.Wait()
			for _, lane := range c.lanes {
				close(lane)
			}
			c.workWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.logger.Warn("close reader", logger.String("topic", topic), logger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.logger.Warn("close dlq writer", logger.Error(cerr))
			}
		}
		c.logger.Info("kafka consumer stopped")
	})
	return err
}

func (c *Consumer) read(ctx context.Context, topic string, r reader) {
	defer c.readWG.Done()
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("fetch message", logger.String("topic", topic), logger.Error(err))
			if !sleepCtx(ctx, c.cfg.BackoffMin) {
				return
			}
			continue
		}
		if msg.Topic == "" {
			msg.Topic = topic
		}

		lane := c.lanes[laneFor(msg.Topic, msg.Partition, len(c.lanes))]
		select {
		case lane <- msg:
			consumerLag.WithLabelValues(topic).Set(float64(len(lane)))
		case <-ctx.Done():
			return
		}
	}
}

// laneFor pins a partition to one worker.
func laneFor(topic string, partition, lanes int) int {
	h := fnv.New32a()
	h.Write([]byte(topic))
	h.Write([]byte(strconv.Itoa(partition)))
	return int(h.Sum32() % uint32(lanes))
}

func (c *Consumer) work(ctx context.Context, id int, lane <-chan kafka.Message) {
	defer c.workWG.Done()
	for msg := range lane {
		if ctx.Err() != nil {
			// drain without handling; uncommitted messages come back
			continue
		}
		c.process(ctx, msg)
	}
	c.logger.Debug("worker stopped", logger.Int("worker", id))
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	start := time.Now()
	h := c.handlers[msg.Topic]
	if h == nil {
		return
	}

	err := c.handleWithRetry(ctx, h, msg)
	if err != nil && ctx.Err() != nil {
		// interrupted by Stop; leave it for redelivery
		return
	}
	outcome := "ok"
	commit := err == nil
	if err != nil {
		outcome = "failed"
		c.hook.OnError(ctx, msg.Topic, msg, msg.Value, err)
		c.logger.Error("handle message failed",
			logger.String("topic", msg.Topic),
			logger.Int("partition", msg.Partition),
			logger.Int64("offset", msg.Offset),
			logger.Error(err))
		if c.deadLetter(msg, err) {
			outcome = "dead_letter"
			commit = true
		}
	}
	consumerHandled.WithLabelValues(msg.Topic, outcome).Inc()
	consumerLatency.WithLabelValues(msg.Topic).Observe(time.Since(start).Seconds())

	if commit {
		c.commit(msg)
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, h MessageHandler, msg kafka.Message) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = c.handleOnce(ctx, h, msg)
		if err == nil || attempt > c.cfg.RetryMax || ctx.Err() != nil {
			return err
		}
		if !sleepCtx(ctx, jitteredBackoff(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return err
		}
	}
}

func (c *Consumer) handleOnce(ctx context.Context, h MessageHandler, msg kafka.Message) (err error) {
	hctx, hmsg, data, err := c.hook.BeforeHandle(ctx, msg.Topic, msg, msg.Value)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		c.hook.AfterHandle(hctx, msg.Topic, hmsg, data, err)
	}()
	return h.Handle(hctx, data)
}

func (c *Consumer) deadLetter(msg kafka.Message, cause error) bool {
	if c.dlq == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	headers := append([]kafka.Header{
		{Key: "source_topic", Value: []byte(msg.Topic)},
		{Key: "source_partition", Value: []byte(strconv.Itoa(msg.Partition))},
		{Key: "source_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		{Key: "error", Value: []byte(cause.Error())},
	}, msg.Headers...)
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		c.logger.Error("dlq write failed", logger.String("topic", c.cfg.DLQTopic), logger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(msg kafka.Message) {
	r := c.readers[msg.Topic]
	if r == nil {
		return
	}
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, msg)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(jitteredBackoff(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.logger.Warn("commit failed",
		logger.String("topic", msg.Topic),
		logger.Int64("offset", msg.Offset),
		logger.Error(err))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// jitteredBackoff doubles from min up to max and takes off up to half.
func jitteredBackoff(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	d := max
	if attempt < 31 {
		if exp := min << uint(attempt-1); exp > 0 && exp < max {
			d = exp
		}
	}
	if half := int64(d) / 2; half > 0 {
		d -= time.Duration(rand.Int63n(half))
	}
	return d
}

var (
	consumerHandled *prometheus.CounterVec
	consumerLatency *prometheus.HistogramVec
	consumerLag     *prometheus.GaugeVec
	consumerOnce    sync.Once
)

func registerConsumerMetrics() {
	consumerOnce.Do(func() {
		consumerHandled = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tradewatch_kafka_consumer_messages_total",
			Help: "Consumed messages by outcome.",
		}, []string{"topic", "outcome"})
		consumerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name: "tradewatch_kafka_consumer_handle_seconds",
			Help: "Time spent handling one message, retries included.",
		}, []string{"topic"})
		consumerLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradewatch_kafka_consumer_buffered",
			Help: "Messages fetched but not yet handled.",
		}, []string{"topic"})
	})
}
