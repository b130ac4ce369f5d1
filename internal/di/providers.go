package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	domrepo "TradeWatch/internal/domain/repository"
	"TradeWatch/internal/handler/api"
	mid "TradeWatch/internal/middleware"
	internalrepo "TradeWatch/internal/repository"
	"TradeWatch/internal/service/finnhub"
	"TradeWatch/internal/service/ratelimit"
	"TradeWatch/internal/services/analytics"
	"TradeWatch/internal/services/calendar"
	"TradeWatch/internal/services/monitor"
	"TradeWatch/internal/services/runner"
	"TradeWatch/internal/usecase"
	"TradeWatch/pkg/cache"
	pkgch "TradeWatch/pkg/clickhouse"
	"TradeWatch/pkg/config"
	xhttp "TradeWatch/pkg/http"
	pkgkafka "TradeWatch/pkg/kafka"
	"TradeWatch/pkg/logger"
	"TradeWatch/pkg/metrics"
	"TradeWatch/pkg/queue"
	"TradeWatch/pkg/server"
	pkgsqlite "TradeWatch/pkg/sqlite"
)

// ResultStore is the persistence backend selected by storage.type.
type ResultStore interface {
	domrepo.ResultSink
	domrepo.ResultReader
}

// ProvideKafkaProducer creates a Kafka producer, or nil when kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithAutoCreateTopics(cfg.Kafka.Producer.AutoCreateTopics),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the application logger. Error logs are aggregated and
// shipped to the logs topic when kafka is enabled and the topic is set.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if producer != nil && cfg.Kafka.Topics.Logs != "" {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.Topics.Logs,
			Publisher:      internalrepo.NewLogShipper(producer),
		})
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config) domrepo.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New()
}

// ProvideRedisCache connects to Redis, or returns nil when it is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache layers a local LRU over Redis when available, otherwise
// everything stays in process.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if rc != nil {
		return cache.NewLayeredCache(rc,
			cache.WithLayeredMemorySize(cfg.Redis.LocalSize),
			cache.WithLayeredLocalTTL(cfg.Redis.LocalTTL))
	}
	return cache.NewMemoryCache(
		cache.WithMemoryMaxSize(cfg.Redis.LocalSize),
		cache.WithMemoryCleanup(time.Minute))
}

// ProvideResultStore opens the configured backend and ensures its schema.
// storage.type "none" yields a nil store.
func ProvideResultStore(cfg *config.Config, l *logger.Logger) (ResultStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var store ResultStore
	switch cfg.Storage.Type {
	case "clickhouse":
		client, err := pkgch.NewClient(
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		store = internalrepo.NewClickHouseSink(client, cfg.ClickHouse.Database, l)
	case "sqlite":
		client, err := pkgsqlite.NewClient(
			pkgsqlite.WithPath(cfg.SQLite.Path),
			pkgsqlite.WithBusyTimeout(cfg.SQLite.BusyTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite client: %w", err)
		}
		store = internalrepo.NewSQLiteSink(client, l)
	default:
		return nil, nil
	}

	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("%s schema: %w", cfg.Storage.Type, err)
	}
	l.Info("result store ready", logger.String("type", cfg.Storage.Type))
	return store, nil
}

// ProvideQuoteClient creates the Finnhub REST quote client used as the
// price fallback. It is nil without an API key.
func ProvideQuoteClient(cfg *config.Config) *finnhub.QuoteClient {
	if cfg.Finnhub.APIKey == "" {
		return nil
	}
	return finnhub.NewQuoteClient(cfg.Finnhub.APIKey, cfg.Finnhub.RestURL,
		xhttp.NewClient(xhttp.WithTimeout(cfg.Finnhub.QuoteTimeout)))
}

// ProvidePriceBook creates the cached price source read by the monitor.
func ProvidePriceBook(cfg *config.Config, c cache.Service, quotes *finnhub.QuoteClient, m domrepo.Metrics, l *logger.Logger) *internalrepo.PriceBook {
	opts := []internalrepo.PriceBookOption{
		internalrepo.WithPriceTTL(cfg.Finnhub.PriceTTL),
		internalrepo.WithMaxAge(cfg.Finnhub.MaxAge),
	}
	if quotes != nil {
		opts = append(opts, internalrepo.WithFallback(quotes))
	}
	return internalrepo.NewPriceBook(c, m, l, opts...)
}

// ProvideWebhookJob creates the webhook delivery job, or nil without a URL.
func ProvideWebhookJob(cfg *config.Config, m domrepo.Metrics, l *logger.Logger) *usecase.WebhookJob {
	wh := cfg.Notifications.Webhook
	if wh.URL == "" {
		return nil
	}
	return usecase.NewWebhookJob(usecase.WebhookConfig{
		URL:     wh.URL,
		Type:    wh.Type,
		Keyword: wh.Keyword,
	}, xhttp.NewClient(xhttp.WithTimeout(wh.Timeout)), m, l)
}

// ProvideRedisQueue creates the webhook delivery queue. It needs both Redis
// and a webhook; otherwise webhooks are sent inline.
func ProvideRedisQueue(cfg *config.Config, rc *cache.RedisCache, job *usecase.WebhookJob, l *logger.Logger) *queue.RedisQueue {
	if rc == nil || job == nil {
		return nil
	}
	q := queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		QueueSize:  cfg.Queue.QueueSize,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
		JobTimeout: cfg.Queue.JobTimeout,
	}, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
	q.RegisterJob(job)
	return q
}

// ProvideNotifier fans notifications out to every configured channel.
// With no channel it returns nil and events stay pending.
func ProvideNotifier(
	cfg *config.Config,
	producer *pkgkafka.Producer,
	q *queue.RedisQueue,
	job *usecase.WebhookJob,
	m domrepo.Metrics,
	l *logger.Logger,
) domrepo.NotificationSink {
	var sinks []domrepo.NotificationSink
	if cfg.Notifications.Log {
		sinks = append(sinks, internalrepo.NewLogNotifier(l))
	}
	if cfg.Notifications.Kafka && producer != nil {
		sinks = append(sinks, internalrepo.NewKafkaNotifier(producer, cfg.Kafka.Topics.Notifications, m))
	}
	switch {
	case q != nil:
		sinks = append(sinks, internalrepo.NewQueueNotifier(q, m))
	case job != nil:
		sinks = append(sinks, job)
	}
	f := internalrepo.NewFanoutNotifier(sinks...)
	if f.Len() == 0 {
		return nil
	}
	return f
}

// ProvideMonitor creates the threshold monitor.
func ProvideMonitor(
	cfg *config.Config,
	prices *internalrepo.PriceBook,
	store ResultStore,
	notifier domrepo.NotificationSink,
	m domrepo.Metrics,
	l *logger.Logger,
) *monitor.Service {
	opts := []monitor.Option{
		monitor.WithTickInterval(cfg.Monitor.TickInterval),
		monitor.WithDefaultCheckInterval(cfg.Monitor.DefaultCheckInterval),
		monitor.WithFetchConcurrency(cfg.Monitor.FetchConcurrency),
		monitor.WithFetchTimeout(cfg.Monitor.FetchTimeout),
		monitor.WithEventLimit(cfg.Monitor.EventLimit),
		monitor.WithNotifier(notifier),
	}
	if store != nil {
		opts = append(opts, monitor.WithSink(store))
	}
	return monitor.New(l.With(logger.String("component", "monitor")), prices, m, opts...)
}

// ProvideScheduler creates the trading calendar scheduler driving the monitor.
func ProvideScheduler(cfg *config.Config, mon *monitor.Service, l *logger.Logger) *calendar.Scheduler {
	return calendar.NewScheduler(l.With(logger.String("component", "scheduler")), mon,
		cfg.Scheduler.Schedule(), calendar.WithInterval(cfg.Scheduler.Interval))
}

// ProvideRunner creates the batch job runner.
func ProvideRunner(cfg *config.Config, m domrepo.Metrics, l *logger.Logger) *runner.Runner {
	return runner.New(l.With(logger.String("component", "runner")), m,
		runner.WithTracker(runner.NewTracker(cfg.Runner.TrackedBatches)))
}

// ProvideAnalysisClient creates the HTTP client of the analysis service.
func ProvideAnalysisClient(cfg *config.Config, l *logger.Logger) *analytics.AnalysisClient {
	return analytics.NewAnalysisClient(cfg.Analysis.ServiceURL, cfg.Analysis.Timeout, cfg.Analysis.Attempts, l)
}

// ProvideAnalysisUsecase wires single and batch analysis.
func ProvideAnalysisUsecase(
	cfg *config.Config,
	r *runner.Runner,
	client *analytics.AnalysisClient,
	store ResultStore,
	notifier domrepo.NotificationSink,
	mon *monitor.Service,
	l *logger.Logger,
) *usecase.AnalysisUsecase {
	var sink domrepo.ResultSink
	if store != nil {
		sink = store
	}
	return usecase.NewAnalysisUsecase(r, client, sink, notifier, mon, l, usecase.AnalysisOptions{
		DefaultConcurrency: cfg.Analysis.DefaultConcurrency,
		MaxConcurrency:     cfg.Analysis.MaxConcurrency,
		DefaultTimeout:     cfg.Analysis.DefaultTimeout,
		Period:             cfg.Analysis.Period,
		AutoSync:           cfg.Analysis.AutoSync,
		NotifySummary:      cfg.Analysis.NotifySummary,
	})
}

// ProvidePortfolioScheduler creates the daily re-analysis schedule. The cache
// lock keeps several instances from running the same portfolio.
func ProvidePortfolioScheduler(
	cfg *config.Config,
	u *usecase.AnalysisUsecase,
	mon *monitor.Service,
	locker cache.Service,
	l *logger.Logger,
) (*usecase.PortfolioScheduler, error) {
	p, err := usecase.NewPortfolioScheduler(u, mon, locker, l.With(logger.String("component", "portfolio")), usecase.PortfolioOptions{
		Enabled:    cfg.Portfolio.Enabled,
		Times:      cfg.Portfolio.Times,
		Timezone:   cfg.Portfolio.Timezone,
		Symbols:    cfg.Portfolio.Symbols,
		Sequential: cfg.Portfolio.Sequential,
		MaxWorkers: cfg.Portfolio.MaxWorkers,
		Timeout:    cfg.Portfolio.Timeout,
		Sync:       cfg.Portfolio.Sync,
	})
	if err != nil {
		return nil, fmt.Errorf("portfolio schedule: %w", err)
	}
	return p, nil
}

// ProvideFinnhubStream creates the Finnhub WebSocket stream, or nil when disabled.
func ProvideFinnhubStream(cfg *config.Config, l *logger.Logger) *finnhub.Client {
	if !cfg.Finnhub.Enabled {
		return nil
	}
	return finnhub.New(
		cfg.Finnhub.APIKey,
		cfg.Finnhub.WebSocketURL,
		cfg.Finnhub.Symbols,
		cfg.Finnhub.ReconnectDelay,
		cfg.Finnhub.PingInterval,
		l.With(logger.String("component", "finnhub")),
	)
}

// ProvidePriceCollector feeds streamed trades into the price book.
func ProvidePriceCollector(
	cfg *config.Config,
	stream *finnhub.Client,
	book *internalrepo.PriceBook,
	mon *monitor.Service,
	m domrepo.Metrics,
	l *logger.Logger,
) *usecase.PriceCollector {
	if stream == nil {
		return nil
	}
	// Build middleware pipeline between WebSocket and the price book
	pipe := mid.NewRealtimePipeline(book, m,
		mid.WithMaxRPS(cfg.Finnhub.MaxRPS),
		mid.WithBufferSize(cfg.Finnhub.BufferSize),
		mid.WithPipelineLogger(l),
	)
	return usecase.NewPriceCollector(stream, pipe, mon, m, l)
}

// ProvideKafkaConsumer creates a Kafka consumer, or nil when kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, m domrepo.Metrics, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.Topics.BatchRequests == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.TraceHook(),
		pkgkafka.LatencyHook(func(topic string, elapsed time.Duration, err error) {
			m.RecordLatency("kafka_"+topic, elapsed.Seconds())
			if err != nil {
				m.RecordError("kafka_consume")
			}
		}),
	))
	return consumer, nil
}

// ProvideBatchRequestHandler handles analysis requests arriving on Kafka.
func ProvideBatchRequestHandler(cfg *config.Config, u *usecase.AnalysisUsecase, m domrepo.Metrics, l *logger.Logger) *usecase.BatchRequestHandler {
	return usecase.NewBatchRequestHandler(cfg.Kafka.Topics.BatchRequests, u, m, l)
}

// ProvideRefreshLimiter throttles manual price refreshes per instrument.
func ProvideRefreshLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Monitor.RefreshBurst, cfg.Monitor.RefreshPerSecond)
}

// ProvideHTTPHandler groups the REST handlers and the health probes.
func ProvideHTTPHandler(
	l *logger.Logger,
	u *usecase.AnalysisUsecase,
	store ResultStore,
	mon *monitor.Service,
	limiter *ratelimit.Limiter,
	sched *calendar.Scheduler,
	portfolio *usecase.PortfolioScheduler,
	stream *finnhub.Client,
	rc *cache.RedisCache,
	q *queue.RedisQueue,
) xhttp.Handler {
	var results domrepo.ResultReader
	checks := map[string]api.HealthCheck{}
	if store != nil {
		results = store
		checks["store"] = store.Health
	}
	if stream != nil {
		checks["stream"] = func(context.Context) error {
			if !stream.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
	}
	if rc != nil {
		checks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx) }
	}
	if q != nil {
		checks["webhook_queue"] = func(ctx context.Context) error {
			st, err := q.Stats(ctx)
			if err != nil {
				return err
			}
			if st.DeadLetter > 0 {
				l.Warn("webhook notifications dead-lettered", logger.Int64("count", st.DeadLetter))
			}
			return nil
		}
	}
	return xhttp.Handlers{
		api.NewHealthEchoHandler(checks),
		api.NewAnalysisEchoHandler(l, u, results),
		api.NewMonitorEchoHandler(l, mon, limiter),
		api.NewSchedulerEchoHandler(l, sched, mon, portfolio),
	}
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	handler xhttp.Handler,
	mon *monitor.Service,
	sched *calendar.Scheduler,
	portfolio *usecase.PortfolioScheduler,
	r *runner.Runner,
	collector *usecase.PriceCollector,
	consumer *pkgkafka.Consumer,
	bh *usecase.BatchRequestHandler,
	q *queue.RedisQueue,
	producer *pkgkafka.Producer,
	store ResultStore,
	c cache.Service,
) *server.App {
	var sink domrepo.ResultSink
	if store != nil {
		sink = store
	}
	return server.New(cfg, l, server.Deps{
		Handler:         handler,
		Monitor:         mon,
		Scheduler:       sched,
		Portfolio:       portfolio,
		Runner:          r,
		Collector:       collector,
		Consumer:        consumer,
		ConsumerHandler: bh,
		Queue:           q,
		Producer:        producer,
		Store:           sink,
		Cache:           c,
	})
}
