//go:build wireinject
// +build wireinject

package di

import (
	"CryptoAlert/pkg/config"
	"CryptoAlert/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,
		ProvideRedisCache,
		ProvideCache,
		ProvidePostgresClient,
		ProvideClickHouseClient,

		// Repositories
		ProvideAlertStore,
		ProvidePriceHistory,
		ProvideEventPublisher,
		ProvidePriceFeed,

		// Use cases
		ProvideDispatcher,
		ProvideEngine,

		// HTTP
		ProvideLimiter,
		ProvideRouter,
		ProvideHTTPServer,

		// Application server
		ProvideResources,
		ProvideApp,
	)
	return &server.App{}, nil
}
