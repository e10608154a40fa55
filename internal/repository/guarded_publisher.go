package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/pkg/logger"
)

// ErrPublisherUnavailable is returned while the breaker is open.
var ErrPublisherUnavailable = errors.New("intent publisher unavailable")

type BreakerSettings struct {
	MaxRequests         uint32        `yaml:"max_requests" default:"1"`
	Interval            time.Duration `yaml:"interval" default:"60s"`
	Timeout             time.Duration `yaml:"timeout" default:"30s"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" default:"5"`
}

// GuardedPublisher trips after consecutive publish failures and fails fast
// until the breaker half-opens. Intents and risk events have separate
// breakers so a noisy event stream cannot block intents.
type GuardedPublisher struct {
	next    domrepo.IntentPublisher
	intents *gobreaker.CircuitBreaker
	events  *gobreaker.CircuitBreaker
}

func NewGuardedPublisher(next domrepo.IntentPublisher, s BreakerSettings, log *logger.Logger, rec domrepo.Metrics) *GuardedPublisher {
	if log == nil {
		log = logger.Nop()
	}
	build := func(name string) *gobreaker.CircuitBreaker {
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: s.MaxRequests,
			Interval:    s.Interval,
			Timeout:     s.Timeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= s.ConsecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("publisher breaker state change",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()))
				if to == gobreaker.StateOpen && rec != nil {
					rec.RecordBreakerTrip("publisher", name)
				}
			},
		})
	}
	return &GuardedPublisher{
		next:    next,
		intents: build("order_intents"),
		events:  build("risk_events"),
	}
}

func (g *GuardedPublisher) PublishIntent(ctx context.Context, intent *models.OrderIntent) error {
	return guard(g.intents, func() error { return g.next.PublishIntent(ctx, intent) })
}

func (g *GuardedPublisher) PublishRiskEvent(ctx context.Context, event *models.RiskEvent) error {
	return guard(g.events, func() error { return g.next.PublishRiskEvent(ctx, event) })
}

func (g *GuardedPublisher) Close() error { return g.next.Close() }

// State reports the intent breaker's state.
func (g *GuardedPublisher) State() gobreaker.State { return g.intents.State() }

func guard(cb *gobreaker.CircuitBreaker, fn func() error) error {
	_, err := cb.Execute(func() (interface{}, error) { return nil, fn() })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrPublisherUnavailable, err)
	}
	return err
}

var _ domrepo.IntentPublisher = (*GuardedPublisher)(nil)

// FanoutPublisher publishes to a primary and mirrors to secondaries. Only the
// primary's error is returned; mirror failures are logged.
type FanoutPublisher struct {
	primary domrepo.IntentPublisher
	mirrors []domrepo.IntentPublisher
	log     *logger.Logger
}

func NewFanoutPublisher(log *logger.Logger, primary domrepo.IntentPublisher, mirrors ...domrepo.IntentPublisher) *FanoutPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &FanoutPublisher{primary: primary, mirrors: mirrors, log: log}
}

func (f *FanoutPublisher) PublishIntent(ctx context.Context, intent *models.OrderIntent) error {
	if err := f.primary.PublishIntent(ctx, intent); err != nil {
		return err
	}
	for _, m := range f.mirrors {
		if err := m.PublishIntent(ctx, intent); err != nil {
			f.log.Warn("intent mirror failed", logger.String("intent_id", intent.ID), logger.Error(err))
		}
	}
	return nil
}

func (f *FanoutPublisher) PublishRiskEvent(ctx context.Context, event *models.RiskEvent) error {
	if err := f.primary.PublishRiskEvent(ctx, event); err != nil {
		return err
	}
	for _, m := range f.mirrors {
		if err := m.PublishRiskEvent(ctx, event); err != nil {
			f.log.Warn("risk event mirror failed", logger.String("type", string(event.Type)), logger.Error(err))
		}
	}
	return nil
}

func (f *FanoutPublisher) Close() error {
	errs := []error{f.primary.Close()}
	for _, m := range f.mirrors {
		errs = append(errs, m.Close())
	}
	return errors.Join(errs...)
}

var _ domrepo.IntentPublisher = (*FanoutPublisher)(nil)
