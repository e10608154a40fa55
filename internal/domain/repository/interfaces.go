package repository

import (
	"context"

	"SignalGate/internal/domain/models"
)

// IntentPublisher is the outbound side: order intents to the order manager,
// ledger/breaker notifications to the risk topic.
type IntentPublisher interface {
	PublishIntent(ctx context.Context, intent *models.OrderIntent) error
	PublishRiskEvent(ctx context.Context, event *models.RiskEvent) error
	Close() error
}

type Metrics interface {
	RecordSignal(path, outcome string)
	RecordCorrelation(strategy string, score float64)
	RecordRejection(layer string)
	RecordSizingFailure(method string)
	RecordBreakerTrip(scope, name string)
	RecordMargin(available, used float64)
	RecordExpired(n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
