package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
)

func testIntent() *models.OrderIntent {
	return &models.OrderIntent{
		ID:           "intent-1",
		Source:       "brain.test",
		StrategyName: "trend",
		Symbol:       "ACME",
		Timeframe:    models.TF1h,
		SignalType:   models.SignalBuy,
		Quantity:     200,
		Price:        100,
		LockID:       "lock-1",
		CreatedAt:    time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
	}
}

type sentMessage struct {
	topic string
	key   string
	value any
}

type fakeProducer struct {
	sent   []sentMessage
	err    error
	closed bool
}

func (p *fakeProducer) Publish(_ context.Context, topic string, key []byte, value any) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sentMessage{topic: topic, key: string(key), value: value})
	return nil
}

func (p *fakeProducer) Close() error {
	p.closed = true
	return nil
}

func TestKafkaIntentPublisherRoutesByTopic(t *testing.T) {
	prod := &fakeProducer{}
	pub := NewKafkaIntentPublisher(prod, "order-intents", "risk-events")
	ctx := context.Background()

	require.NoError(t, pub.PublishIntent(ctx, testIntent()))
	require.NoError(t, pub.PublishRiskEvent(ctx, &models.RiskEvent{Type: models.RiskEventMarginLocked, Symbol: "ACME"}))
	require.NoError(t, pub.Close())

	require.Len(t, prod.sent, 2)
	assert.Equal(t, "order-intents", prod.sent[0].topic)
	assert.Equal(t, "ACME", prod.sent[0].key)
	assert.Equal(t, "risk-events", prod.sent[1].topic)
	assert.True(t, prod.closed)
}

func TestKafkaIntentPublisherRiskEventsFallBackToIntentTopic(t *testing.T) {
	prod := &fakeProducer{}
	pub := NewKafkaIntentPublisher(prod, "order-intents", "")

	require.NoError(t, pub.PublishRiskEvent(context.Background(), &models.RiskEvent{Type: models.RiskEventMarginReleased}))

	assert.Equal(t, "order-intents", prod.sent[0].topic)
}

func TestRedisIntentPublisherAppendsToStream(t *testing.T) {
	db, mock := redismock.NewClientMock()
	pub := NewRedisIntentPublisher(db, "signalgate:intents", "signalgate:risk", 1000)
	intent := testIntent()
	payload, err := json.Marshal(intent)
	require.NoError(t, err)

	mock.ExpectXAdd(streamArgs("signalgate:intents", 1000, "order_intent", "intent-1", "ACME", payload)).SetVal("1-0")

	require.NoError(t, pub.PublishIntent(context.Background(), intent))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisIntentPublisherWrapsErrors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	pub := NewRedisIntentPublisher(db, "signalgate:intents", "", 0)
	event := &models.RiskEvent{Type: models.RiskEventMarginLocked, Symbol: "ACME", LockID: "lock-1"}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	mock.ExpectXAdd(streamArgs("signalgate:intents", 0, "margin_locked", "lock-1", "ACME", payload)).
		SetErr(errors.New("READONLY"))

	err = pub.PublishRiskEvent(context.Background(), event)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "xadd signalgate:intents")
	assert.NoError(t, mock.ExpectationsWereMet())
}

type countingPublisher struct {
	calls int
	err   error
}

func (c *countingPublisher) PublishIntent(context.Context, *models.OrderIntent) error {
	c.calls++
	return c.err
}

func (c *countingPublisher) PublishRiskEvent(context.Context, *models.RiskEvent) error {
	c.calls++
	return c.err
}

func (c *countingPublisher) Close() error { return nil }

func TestGuardedPublisherOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &countingPublisher{err: errors.New("broker down")}
	g := NewGuardedPublisher(inner, BreakerSettings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, ConsecutiveFailures: 3}, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := g.PublishIntent(ctx, testIntent())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrPublisherUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	err := g.PublishIntent(ctx, testIntent())
	assert.ErrorIs(t, err, ErrPublisherUnavailable)
	assert.Equal(t, 3, inner.calls)

	require.Error(t, g.PublishRiskEvent(ctx, &models.RiskEvent{}))
	assert.Equal(t, 4, inner.calls, "risk events have their own breaker")
}

func TestFanoutPublisherIgnoresMirrorFailures(t *testing.T) {
	primary := &countingPublisher{}
	mirror := &countingPublisher{err: errors.New("redis down")}
	f := NewFanoutPublisher(nil, primary, mirror)

	require.NoError(t, f.PublishIntent(context.Background(), testIntent()))
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, mirror.calls)

	primary.err = errors.New("kafka down")
	require.Error(t, f.PublishIntent(context.Background(), testIntent()))
	assert.Equal(t, 1, mirror.calls)
}
