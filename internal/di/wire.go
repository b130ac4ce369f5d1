//go:build wireinject
// +build wireinject

package di

import (
	"TradeWatch/pkg/config"
	"TradeWatch/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideRedisCache,
		ProvideCache,
		ProvideResultStore,
		ProvideKafkaConsumer,
		ProvideRedisQueue,

		// Prices
		ProvideQuoteClient,
		ProvidePriceBook,
		ProvideFinnhubStream,

		// Notifications
		ProvideWebhookJob,
		ProvideNotifier,

		// Services
		ProvideMonitor,
		ProvideScheduler,
		ProvideRunner,
		ProvideAnalysisClient,

		// Use cases
		ProvideAnalysisUsecase,
		ProvidePortfolioScheduler,
		ProvidePriceCollector,
		ProvideBatchRequestHandler,

		// HTTP
		ProvideRefreshLimiter,
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
