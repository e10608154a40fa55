package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/service/ratelimit"
	pkgkafka "SignalGate/pkg/kafka"
	"SignalGate/pkg/logger"
	"SignalGate/pkg/metrics"
)

// SignalProcessor is the part of Brain the signal handler drives.
type SignalProcessor interface {
	ProcessSignal(ctx context.Context, in models.InboundSignal) (Decision, error)
}

// SignalHandler decodes strategy signals from Kafka, validates and throttles
// them per strategy, and passes them to the brain.
type SignalHandler struct {
	topic    string
	brain    SignalProcessor
	limiter  *ratelimit.Limiter
	validate *validator.Validate
	log      *logger.Logger
	metrics  domrepo.Metrics
}

func NewSignalHandler(topic string, brain SignalProcessor, limiter *ratelimit.Limiter, log *logger.Logger, rec domrepo.Metrics) (*SignalHandler, error) {
	if log == nil {
		log = logger.Nop()
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	return &SignalHandler{
		topic:    topic,
		brain:    brain,
		limiter:  limiter,
		validate: v,
		log:      log.With(logger.String("handler", "signals")),
		metrics:  rec,
	}, nil
}

func (h *SignalHandler) Topic() string { return h.topic }

// Handle returns a pkgkafka.ErrPermanent-wrapped error for payloads that can
// never succeed. Declines are not errors.
func (h *SignalHandler) Handle(ctx context.Context, b []byte) error {
	var in models.InboundSignal
	if err := json.Unmarshal(b, &in); err != nil {
		h.metrics.RecordError("signal_decode")
		return fmt.Errorf("%w: decode signal: %v", pkgkafka.ErrPermanent, err)
	}
	in.SignalType = models.SignalType(strings.ToUpper(string(in.SignalType)))
	if err := h.validate.Struct(in); err != nil {
		h.metrics.RecordError("signal_validate")
		return fmt.Errorf("%w: %v", pkgkafka.ErrPermanent, err)
	}

	if h.limiter != nil && !h.limiter.Allow(in.StrategyName) {
		h.metrics.RecordRejection("rate_limit")
		h.log.Warn("signal throttled",
			logger.String("strategy", in.StrategyName),
			logger.String("symbol", in.Symbol),
			logger.String("trace_id", pkgkafka.TraceID(ctx)))
		return nil
	}

	d, err := h.brain.ProcessSignal(ctx, in)
	if err != nil {
		return err
	}
	h.log.Debug("signal processed",
		logger.String("strategy", in.StrategyName),
		logger.String("symbol", in.Symbol),
		logger.Bool("accepted", d.Accepted),
		logger.String("reason", d.Reason),
		logger.String("trace_id", pkgkafka.TraceID(ctx)))
	return nil
}

var _ pkgkafka.MessageHandler = (*SignalHandler)(nil)

// Feedback kinds carried on the portfolio topic.
const (
	FeedbackPortfolio = "portfolio_state"
	FeedbackFunds     = "funds_update"
	FeedbackExecution = "trade_execution"
)

// FeedbackEnvelope is one message on the portfolio topic. Exactly the field
// matching Kind is set.
type FeedbackEnvelope struct {
	Kind      string                    `json:"kind" validate:"required,oneof=portfolio_state funds_update trade_execution"`
	Portfolio *models.PortfolioFeedback `json:"portfolio,omitempty" validate:"required_if=Kind portfolio_state"`
	Funds     *models.FundsUpdate       `json:"funds,omitempty" validate:"required_if=Kind funds_update"`
	Execution *models.Execution         `json:"execution,omitempty" validate:"required_if=Kind trade_execution"`
}

// PortfolioSink receives portfolio and funds snapshots.
type PortfolioSink interface {
	UpdatePortfolioState(ctx context.Context, fb models.PortfolioFeedback)
	HandleFundsUpdate(ctx context.Context, f models.FundsUpdate)
}

// ExecutionSink settles or releases the margin of an executed approval.
type ExecutionSink interface {
	ProcessTradeExecution(ctx context.Context, exec models.Execution) error
}

// PortfolioHandler applies portfolio feedback, funds refreshes and trade
// executions from the portfolio service.
type PortfolioHandler struct {
	topic      string
	portfolio  PortfolioSink
	executions ExecutionSink
	validate   *validator.Validate
	log        *logger.Logger
	metrics    domrepo.Metrics
}

func NewPortfolioHandler(topic string, portfolio PortfolioSink, executions ExecutionSink, log *logger.Logger, rec domrepo.Metrics) (*PortfolioHandler, error) {
	if log == nil {
		log = logger.Nop()
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	return &PortfolioHandler{
		topic:      topic,
		portfolio:  portfolio,
		executions: executions,
		validate:   v,
		log:        log.With(logger.String("handler", "portfolio")),
		metrics:    rec,
	}, nil
}

func (h *PortfolioHandler) Topic() string { return h.topic }

func (h *PortfolioHandler) Handle(ctx context.Context, b []byte) error {
	var env FeedbackEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		h.metrics.RecordError("feedback_decode")
		return fmt.Errorf("%w: decode feedback: %v", pkgkafka.ErrPermanent, err)
	}
	if err := h.validate.Struct(env); err != nil {
		h.metrics.RecordError("feedback_validate")
		return fmt.Errorf("%w: %v", pkgkafka.ErrPermanent, err)
	}

	switch env.Kind {
	case FeedbackPortfolio:
		h.portfolio.UpdatePortfolioState(ctx, *env.Portfolio)
	case FeedbackFunds:
		h.portfolio.HandleFundsUpdate(ctx, *env.Funds)
	case FeedbackExecution:
		if err := h.executions.ProcessTradeExecution(ctx, *env.Execution); err != nil {
			if errors.Is(err, models.ErrLedgerInconsistency) {
				h.metrics.RecordError("ledger_inconsistency")
				return fmt.Errorf("%w: %w", pkgkafka.ErrPermanent, err)
			}
			return err
		}
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*PortfolioHandler)(nil)

func newValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := models.RegisterTimeframeValidation(v); err != nil {
		return nil, err
	}
	return v, nil
}
