package repository

import (
	"context"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
)

// KeyedProducer is the part of pkg/kafka.Producer the publisher needs.
type KeyedProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value any) error
	Close() error
}

// KafkaIntentPublisher writes intents and risk events as JSON, keyed by
// symbol so one symbol's events stay ordered within a partition.
type KafkaIntentPublisher struct {
	producer    KeyedProducer
	intentTopic string
	riskTopic   string
}

func NewKafkaIntentPublisher(producer KeyedProducer, intentTopic, riskTopic string) *KafkaIntentPublisher {
	return &KafkaIntentPublisher{producer: producer, intentTopic: intentTopic, riskTopic: riskTopic}
}

func (p *KafkaIntentPublisher) PublishIntent(ctx context.Context, intent *models.OrderIntent) error {
	return p.producer.Publish(ctx, p.intentTopic, []byte(intent.Symbol), intent)
}

// PublishRiskEvent writes to the risk topic, or to the intent topic when no
// separate risk topic is configured.
func (p *KafkaIntentPublisher) PublishRiskEvent(ctx context.Context, event *models.RiskEvent) error {
	topic := p.riskTopic
	if topic == "" {
		topic = p.intentTopic
	}
	return p.producer.Publish(ctx, topic, []byte(event.Symbol), event)
}

func (p *KafkaIntentPublisher) Close() error { return p.producer.Close() }

var _ domrepo.IntentPublisher = (*KafkaIntentPublisher)(nil)
