package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type funcHandler struct {
	topic string
	calls int
	fn    func(ctx context.Context, data []byte) error
}

func (h *funcHandler) Topic() string { return h.topic }

func (h *funcHandler) Handle(ctx context.Context, data []byte) error {
	h.calls++
	return h.fn(ctx, data)
}

func newTestConsumer(t *testing.T, h MessageHandler, opts ...ConsumerOption) (*Consumer, *fakeReader) {
	t.Helper()
	opts = append([]ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, time.Millisecond),
		WithConsumerRegisterer(prometheus.NewRegistry()),
	}, opts...)
	c, err := NewConsumer(opts...)
	require.NoError(t, err)
	require.NoError(t, c.RegisterHandler(h))
	r := &fakeReader{}
	c.readers[h.Topic()] = r
	return c, r
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer()
	assert.ErrorIs(t, err, ErrNoBrokers)
}

func TestRegisterHandlerRejectsDuplicateTopic(t *testing.T) {
	h := &funcHandler{topic: "signals", fn: func(context.Context, []byte) error { return nil }}
	c, _ := newTestConsumer(t, h)

	assert.Error(t, c.RegisterHandler(h))
}

func TestProcessRetriesThenCommits(t *testing.T) {
	h := &funcHandler{topic: "signals"}
	h.fn = func(context.Context, []byte) error {
		if h.calls < 2 {
			return errors.New("transient")
		}
		return nil
	}
	c, r := newTestConsumer(t, h)

	c.process(message{topic: "signals", km: kafka.Message{Offset: 7, Value: []byte(`{}`)}})

	assert.Equal(t, 2, h.calls)
	assert.Equal(t, []int64{7}, r.committed)
}

func TestProcessPermanentFailureGoesToDLQ(t *testing.T) {
	h := &funcHandler{topic: "signals", fn: func(context.Context, []byte) error {
		return fmt.Errorf("decode: %w", ErrPermanent)
	}}
	c, r := newTestConsumer(t, h, WithConsumerDLQ("signals.dlq"))
	dlq := &fakeWriter{}
	c.dlq = dlq

	c.process(message{topic: "signals", km: kafka.Message{Offset: 3, Value: []byte(`bad`)}})

	assert.Equal(t, 1, h.calls)
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, "signals.dlq", dlq.msgs[0].Topic)
	assert.Equal(t, []byte(`bad`), dlq.msgs[0].Value)
	assert.Equal(t, []int64{3}, r.committed)
}

func TestProcessFailureWithoutDLQIsNotCommitted(t *testing.T) {
	h := &funcHandler{topic: "signals", fn: func(context.Context, []byte) error { return errors.New("down") }}
	c, r := newTestConsumer(t, h)

	c.process(message{topic: "signals", km: kafka.Message{Offset: 1}})

	assert.Equal(t, 3, h.calls)
	assert.Empty(t, r.committed)
}

func TestProcessRecoversHandlerPanic(t *testing.T) {
	h := &funcHandler{topic: "signals", fn: func(context.Context, []byte) error { panic("boom") }}
	c, _ := newTestConsumer(t, h)

	assert.NotPanics(t, func() {
		c.process(message{topic: "signals", km: kafka.Message{Offset: 1}})
	})
	assert.Equal(t, 1, h.calls)
}

func TestTraceHookPropagatesTraceID(t *testing.T) {
	var seen string
	h := &funcHandler{topic: "signals", fn: func(ctx context.Context, _ []byte) error {
		seen = TraceID(ctx)
		return nil
	}}
	c, _ := newTestConsumer(t, h)
	c.SetHook(NewHookChain(NewTraceHook(nil, 0)))

	c.process(message{topic: "signals", km: kafka.Message{
		Headers: []kafka.Header{{Key: TraceIDHeader, Value: []byte("abc-123")}},
	}})

	assert.Equal(t, "abc-123", seen)
}

func TestHookChainConvertsPanicToError(t *testing.T) {
	var errs int
	chain := NewHookChain(
		HookFuncs{Err: func(context.Context, string, kafka.Message, []byte, error) { errs++ }},
		HookFuncs{Before: func(context.Context, string, kafka.Message, []byte) (context.Context, []byte, error) {
			panic("bad hook")
		}},
	)

	_, _, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, nil)

	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "ERR_PANIC", hookErr.Code)
	assert.Equal(t, 1, errs)
}

func TestProducerPublishEncodesJSONAndKeys(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, &ProducerConfig{Compression: "snappy", registerer: prometheus.NewRegistry()})

	err := p.Publish(context.Background(), "intents", []byte("ACME"), map[string]int{"quantity": 10})

	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "intents", w.msgs[0].Topic)
	assert.Equal(t, []byte("ACME"), w.msgs[0].Key)
	assert.JSONEq(t, `{"quantity":10}`, string(w.msgs[0].Value))
}

func TestProducerPublishWrapsWriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newProducer(w, &ProducerConfig{registerer: prometheus.NewRegistry()})

	err := p.Publish(context.Background(), "intents", nil, []byte("x"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "intents")
	assert.ErrorIs(t, err, w.err)
}
