package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
)

// RedisIntentPublisher appends intents and risk events to Redis streams.
// Streams are trimmed approximately to maxLen entries.
type RedisIntentPublisher struct {
	client       redis.Cmdable
	intentStream string
	riskStream   string
	maxLen       int64
	closer       func() error
}

func NewRedisIntentPublisher(client redis.Cmdable, intentStream, riskStream string, maxLen int64) *RedisIntentPublisher {
	p := &RedisIntentPublisher{
		client:       client,
		intentStream: intentStream,
		riskStream:   riskStream,
		maxLen:       maxLen,
		closer:       func() error { return nil },
	}
	if c, ok := client.(interface{ Close() error }); ok {
		p.closer = c.Close
	}
	return p
}

func (p *RedisIntentPublisher) PublishIntent(ctx context.Context, intent *models.OrderIntent) error {
	return p.append(ctx, p.intentStream, "order_intent", intent.ID, intent.Symbol, intent)
}

func (p *RedisIntentPublisher) PublishRiskEvent(ctx context.Context, event *models.RiskEvent) error {
	stream := p.riskStream
	if stream == "" {
		stream = p.intentStream
	}
	return p.append(ctx, stream, string(event.Type), event.LockID, event.Symbol, event)
}

func (p *RedisIntentPublisher) append(ctx context.Context, stream, kind, id, symbol string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	err = p.client.XAdd(ctx, streamArgs(stream, p.maxLen, kind, id, symbol, payload)).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}

func streamArgs(stream string, maxLen int64, kind, id, symbol string, payload []byte) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: maxLen > 0,
		Values: []any{"kind", kind, "id", id, "symbol", symbol, "payload", string(payload)},
	}
}

func (p *RedisIntentPublisher) Close() error { return p.closer() }

var _ domrepo.IntentPublisher = (*RedisIntentPublisher)(nil)
