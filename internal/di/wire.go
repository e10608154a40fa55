//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"SignalGate/pkg/config"
	"SignalGate/pkg/server"
)

// InitializeApp wires the brain, its Kafka edges and the ops server.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideRedisClient,
		ProvideIntentPublisher,

		// Domain services
		ProvideRiskManager,
		ProvideTimeframeManager,
		ProvideBrain,

		// Transport
		ProvideSignalLimiter,
		ProvideSignalHandler,
		ProvidePortfolioHandler,
		ProvideKafkaConsumer,
		ProvideOpsHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return &server.App{}, nil
}
