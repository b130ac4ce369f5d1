package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	domrepo "TradeWatch/internal/domain/repository"
	"TradeWatch/internal/services/calendar"
	"TradeWatch/internal/services/monitor"
	"TradeWatch/internal/services/runner"
	"TradeWatch/internal/usecase"
	"TradeWatch/pkg/cache"
	"TradeWatch/pkg/config"
	xhttp "TradeWatch/pkg/http"
	pkgkafka "TradeWatch/pkg/kafka"
	applogger "TradeWatch/pkg/logger"
	"TradeWatch/pkg/queue"
)

// Deps are the components the App starts and stops. Optional ones are nil
// when their feature is disabled.
type Deps struct {
	Handler   xhttp.Handler
	Monitor   *monitor.Service
	Scheduler *calendar.Scheduler
	Portfolio *usecase.PortfolioScheduler
	Runner    *runner.Runner

	Collector       *usecase.PriceCollector
	Consumer        *pkgkafka.Consumer
	ConsumerHandler pkgkafka.MessageHandler
	Queue           *queue.RedisQueue
	Producer        *pkgkafka.Producer
	Store           domrepo.ResultSink
	Cache           cache.Service
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	deps       Deps
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, deps Deps) *App {
	if l == nil {
		l = applogger.Nop()
	}
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return &App{
		cfg:    cfg,
		logger: l,
		deps:   deps,
		httpServer: xhttp.NewServer(deps.Handler,
			xhttp.WithHost(cfg.Server.Host),
			xhttp.WithPort(cfg.Server.Port),
			xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
			xhttp.WithCORS(cfg.Server.CORS, cfg.Server.CORSOrigins...),
			xhttp.WithSlowRequest(cfg.Server.SlowRequest),
			xhttp.WithMetricsPath(metricsPath),
			xhttp.WithLogger(l),
		),
	}
}

// HTTPServer exposes the HTTP server, mainly for tests.
func (a *App) HTTPServer() *xhttp.Server { return a.httpServer }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()
	a.logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	a.Shutdown(shutdownCtx)
	return nil
}

// Start launches every background component and the HTTP server.
func (a *App) Start(ctx context.Context) error {
	d := a.deps

	if d.Queue != nil {
		if err := d.Queue.Start(); err != nil {
			return err
		}
	}

	if d.Collector != nil {
		if err := d.Collector.Start(ctx); err != nil {
			// the monitor still has the REST fallback
			a.logger.Error("price collector start failed", applogger.Error(err))
		}
	}

	// The calendar scheduler owns the monitor loop when enabled.
	d.Scheduler.Start()
	st := d.Scheduler.Status()
	a.logger.Info("scheduler started",
		applogger.Bool("enabled", st.Enabled),
		applogger.String("market", st.Market),
		applogger.String("state", string(st.State)))
	if !st.Enabled {
		if err := d.Monitor.Start(); err != nil {
			return err
		}
	}

	d.Portfolio.Start()

	if d.Consumer != nil && d.ConsumerHandler != nil {
		d.Consumer.RegisterHandler(d.ConsumerHandler)
		if err := d.Consumer.Start(); err != nil {
			return err
		}
	}

	return a.httpServer.Start()
}

// Shutdown stops components in reverse dependency order. It logs failures
// and keeps going so every resource gets a chance to close.
func (a *App) Shutdown(ctx context.Context) {
	d := a.deps
	a.logger.Info("shutting down")

	if err := a.httpServer.Stop(ctx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
	}
	if d.Consumer != nil {
		if err := d.Consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	d.Portfolio.Stop(ctx)
	// background batches still save into Store
	if d.Runner != nil {
		if err := d.Runner.Wait(ctx); err != nil {
			a.logger.Warn("analysis batches still running", applogger.Error(err))
		}
	}
	d.Scheduler.Stop()
	if err := d.Scheduler.Wait(ctx); err != nil {
		a.logger.Warn("scheduler stop timed out", applogger.Error(err))
	}
	d.Monitor.Stop()
	if err := d.Monitor.Wait(ctx); err != nil {
		a.logger.Warn("monitor stop timed out", applogger.Error(err))
	}

	if d.Collector != nil {
		if err := d.Collector.Shutdown(ctx); err != nil {
			a.logger.Warn("collector stop error", applogger.Error(err))
		}
	}
	if d.Queue != nil {
		if err := d.Queue.Stop(ctx); err != nil {
			a.logger.Warn("queue stop error", applogger.Error(err))
		}
	}

	// Close infrastructure clients
	var errs []error
	if d.Producer != nil {
		errs = append(errs, d.Producer.Close())
	}
	if d.Store != nil {
		errs = append(errs, d.Store.Close())
	}
	if closer, ok := d.Cache.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("close error", applogger.Error(err))
	}

	a.logger.Info("shutdown complete")
	a.logger.RemoveCollector()
}
