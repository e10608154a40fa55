package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/services/risk"
	"SignalGate/internal/services/timeframe"
	"SignalGate/pkg/logger"
	"SignalGate/pkg/metrics"
)

// Decision layers, reported with every decline.
const (
	LayerRegistry    = "registry"
	LayerValidation  = "validation"
	LayerCorrelation = "correlation"
	LayerSizing      = "sizing"
	LayerApproval    = "approval"
	LayerPublish     = "publish"
)

const (
	pathMultiTimeframe = "multi_timeframe"
	pathSingle         = "single_timeframe"
)

// SignalCorrelator is the multi-timeframe stage.
type SignalCorrelator interface {
	HasConfig(strategy, symbol string) bool
	RegisterStrategyConfig(cfg models.MultiTimeframeStrategyConfig) error
	ProcessTimeframeSignal(ctx context.Context, in timeframe.SignalInput) (models.MultiTimeframeSignal, error)
}

// RiskGate is the sizing, approval and ledger stage.
type RiskGate interface {
	EnsureStrategy(name string, tf models.Timeframe)
	CalculatePositionSize(ctx context.Context, req risk.SizeRequest) risk.SizingResult
	ApproveTrade(ctx context.Context, req risk.TradeRequest) risk.Approval
	ReleaseLock(ctx context.Context, lockID, reason string) error
	UpdatePortfolioState(ctx context.Context, fb models.PortfolioFeedback)
	UpdateFunds(ctx context.Context, f models.FundsUpdate)
}

// SignalValidator replaces the default signal check for one strategy key.
type SignalValidator func(sig models.TimeframeSignal) (bool, string)

type StrategyState struct {
	Name             string           `json:"name"`
	Timeframe        models.Timeframe `json:"timeframe"`
	Symbol           string           `json:"symbol"`
	Active           bool             `json:"active"`
	Parameters       map[string]any   `json:"parameters,omitempty"`
	SignalsGenerated int              `json:"signals_generated"`
	LastSignalAt     time.Time        `json:"last_signal_at,omitempty"`
}

// Decision is the outcome of ProcessSignal. Declines carry the layer and
// reason; acceptances carry the emitted intent.
type Decision struct {
	Accepted       bool                         `json:"accepted"`
	Layer          string                       `json:"layer,omitempty"`
	Reason         string                       `json:"reason"`
	Intent         *models.OrderIntent          `json:"intent,omitempty"`
	MultiTimeframe *models.MultiTimeframeSignal `json:"multi_timeframe,omitempty"`
}

// MultiTimeframeRegistration describes a strategy registered on several
// timeframes at once.
type MultiTimeframeRegistration struct {
	StrategyName           string
	Symbol                 string
	PrimaryTimeframe       models.Timeframe
	ConfirmationTimeframes []models.Timeframe
	FilterTimeframes       []models.Timeframe
	RequireConfirmation    bool
	RequireFilterAgreement bool
	Parameters             map[string]any
}

type BrainState struct {
	ID               string                             `json:"id"`
	SignalsProcessed int                                `json:"signals_processed"`
	Strategies       map[string]StrategyState           `json:"strategies"`
	Positions        map[string]models.PositionSnapshot `json:"positions"`
	TotalEquity      float64                            `json:"total_equity"`
	AvailableMargin  float64                            `json:"available_margin"`
	UsedMargin       float64                            `json:"used_margin"`
	UpdatedAt        time.Time                          `json:"updated_at"`
}

type BrainOption func(*Brain)

func WithBrainClock(now func() time.Time) BrainOption { return func(b *Brain) { b.now = now } }

func WithBrainLogger(log *logger.Logger) BrainOption { return func(b *Brain) { b.log = log } }

func WithBrainMetrics(rec domrepo.Metrics) BrainOption { return func(b *Brain) { b.metrics = rec } }

// WithIDGenerator overrides intent ID generation.
func WithIDGenerator(fn func() string) BrainOption { return func(b *Brain) { b.newID = fn } }

// Brain routes each strategy signal through correlation, sizing and approval
// and emits exactly one order intent for every signal it accepts.
type Brain struct {
	id         string
	correlator SignalCorrelator
	risk       RiskGate
	publisher  domrepo.IntentPublisher
	pubTimeout time.Duration
	now        func() time.Time
	newID      func() string
	log        *logger.Logger
	metrics    domrepo.Metrics

	mu         sync.RWMutex
	strategies map[string]*StrategyState
	validators map[string]SignalValidator
	state      BrainState
}

func NewBrain(id string, correlator SignalCorrelator, gate RiskGate, publisher domrepo.IntentPublisher, publishTimeout time.Duration, opts ...BrainOption) *Brain {
	b := &Brain{
		id:         id,
		correlator: correlator,
		risk:       gate,
		publisher:  publisher,
		pubTimeout: publishTimeout,
		now:        time.Now,
		newID:      uuid.NewString,
		strategies: make(map[string]*StrategyState),
		validators: make(map[string]SignalValidator),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.Nop()
	}
	if b.metrics == nil {
		b.metrics = metrics.Noop{}
	}
	if b.pubTimeout <= 0 {
		b.pubTimeout = 5 * time.Second
	}
	b.log = b.log.With(logger.String("brain_id", id))
	b.state = BrainState{ID: id, Positions: map[string]models.PositionSnapshot{}}
	return b
}

// RegisterStrategy registers a single-timeframe strategy. It starts active.
func (b *Brain) RegisterStrategy(name string, tf models.Timeframe, symbol string, params map[string]any) {
	key := models.StrategyKey(name, tf, symbol)

	b.mu.Lock()
	b.strategies[key] = &StrategyState{
		Name:       name,
		Timeframe:  tf,
		Symbol:     symbol,
		Active:     true,
		Parameters: params,
	}
	b.mu.Unlock()

	b.risk.EnsureStrategy(name, tf)
	b.log.Info("strategy registered",
		logger.String("strategy", name),
		logger.String("timeframe", string(tf)),
		logger.String("symbol", symbol))
}

// RegisterMultiTimeframeStrategy installs the correlation config with the
// standard role settings and registers every timeframe individually.
func (b *Brain) RegisterMultiTimeframeStrategy(reg MultiTimeframeRegistration) error {
	cfg := models.NewMultiTimeframeStrategyConfig(reg.StrategyName, reg.Symbol, reg.PrimaryTimeframe, reg.ConfirmationTimeframes, reg.FilterTimeframes)
	cfg.RequireConfirmation = reg.RequireConfirmation
	cfg.RequireFilterAgreement = reg.RequireFilterAgreement
	for i := range cfg.Confirmations {
		cfg.Confirmations[i].Parameters = reg.Parameters
	}
	for i := range cfg.Filters {
		cfg.Filters[i].Parameters = reg.Parameters
	}
	if err := b.correlator.RegisterStrategyConfig(cfg); err != nil {
		return fmt.Errorf("register %s:%s: %w", reg.StrategyName, reg.Symbol, err)
	}

	for _, tf := range cfg.Timeframes() {
		b.RegisterStrategy(reg.StrategyName, tf, reg.Symbol, reg.Parameters)
	}
	return nil
}

func (b *Brain) setActive(name string, tf models.Timeframe, symbol string, active bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.strategies[models.StrategyKey(name, tf, symbol)]
	if !ok {
		return false
	}
	st.Active = active
	return true
}

// ActivateStrategy reports false when the strategy is unknown.
func (b *Brain) ActivateStrategy(name string, tf models.Timeframe, symbol string) bool {
	return b.setActive(name, tf, symbol, true)
}

// DeactivateStrategy reports false when the strategy is unknown.
func (b *Brain) DeactivateStrategy(name string, tf models.Timeframe, symbol string) bool {
	return b.setActive(name, tf, symbol, false)
}

// RegisterStrategyValidator replaces the default validation for one key.
func (b *Brain) RegisterStrategyValidator(name string, tf models.Timeframe, symbol string, v SignalValidator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.validators[models.StrategyKey(name, tf, symbol)] = v
}

// Strategy returns a copy of a registered strategy's state.
func (b *Brain) Strategy(name string, tf models.Timeframe, symbol string) (StrategyState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.strategies[models.StrategyKey(name, tf, symbol)]
	if !ok {
		return StrategyState{}, false
	}
	return *st, true
}

// ProcessSignal runs one inbound signal through the pipeline. Declines are
// returned as a Decision with a nil error; the error is reserved for
// transport failures and cancellation.
func (b *Brain) ProcessSignal(ctx context.Context, in models.InboundSignal) (Decision, error) {
	start := b.now()
	key := models.StrategyKey(in.StrategyName, in.Timeframe, in.Symbol)

	b.mu.RLock()
	st, registered := b.strategies[key]
	active := registered && st.Active
	validator := b.validators[key]
	b.mu.RUnlock()

	if !registered {
		return b.decline(pathSingle, LayerRegistry, fmt.Sprintf("strategy %s not registered", key), nil), nil
	}
	if !active {
		return b.decline(pathSingle, LayerRegistry, fmt.Sprintf("strategy %s is not active", key), nil), nil
	}

	multi := b.correlator.HasConfig(in.StrategyName, in.Symbol)
	var (
		d   Decision
		err error
	)
	switch {
	case in.Quantity <= 0:
		// Checked before correlation: blending floors quantity at one and
		// would hide a non-positive request.
		path := pathSingle
		if multi {
			path = pathMultiTimeframe
		}
		d = b.decline(path, LayerValidation, fmt.Sprintf("invalid quantity %d", in.Quantity), nil)
	case multi:
		d, err = b.processMultiTimeframe(ctx, in, validator)
	default:
		d, err = b.processSingle(ctx, in, validator)
	}

	b.metrics.RecordLatency("process_signal", b.now().Sub(start).Seconds())
	if err != nil {
		return d, err
	}

	b.mu.Lock()
	b.state.SignalsProcessed++
	if d.Accepted {
		if st, ok := b.strategies[key]; ok {
			st.SignalsGenerated++
			st.LastSignalAt = b.now()
		}
	}
	b.mu.Unlock()
	return d, nil
}

func (b *Brain) processMultiTimeframe(ctx context.Context, in models.InboundSignal, validator SignalValidator) (Decision, error) {
	mtf, err := b.correlator.ProcessTimeframeSignal(ctx, timeframe.SignalInput{
		Symbol:       in.Symbol,
		StrategyName: in.StrategyName,
		Timeframe:    in.Timeframe,
		SignalType:   in.SignalType,
		Quantity:     in.Quantity,
		Price:        in.Price,
		Confidence:   in.ConfidenceOrDefault(),
		Parameters:   in.Parameters,
	})
	if err != nil {
		var cfgErr *models.ConfigurationError
		if errors.As(err, &cfgErr) {
			return b.decline(pathMultiTimeframe, LayerRegistry, err.Error(), nil), nil
		}
		return Decision{Layer: LayerCorrelation, Reason: err.Error()}, err
	}
	if !mtf.Approved() {
		return b.decline(pathMultiTimeframe, LayerCorrelation, mtf.ValidationReason, &mtf), nil
	}

	meta := &models.CorrelationMetadata{
		CorrelationType:   mtf.CorrelationType,
		CorrelationScore:  mtf.CorrelationScore,
		ConfirmationCount: len(mtf.Confirmations),
		FilterCount:       len(mtf.Filters),
		PrimaryTimeframe:  mtf.Primary.Timeframe,
	}
	d, err := b.sizeApproveEmit(ctx, pathMultiTimeframe, in, *mtf.FinalSignal, validator, meta)
	d.MultiTimeframe = &mtf
	return d, err
}

func (b *Brain) processSingle(ctx context.Context, in models.InboundSignal, validator SignalValidator) (Decision, error) {
	sig := models.TimeframeSignal{
		Timeframe:  in.Timeframe,
		SignalType: in.SignalType,
		Quantity:   in.Quantity,
		Price:      in.Price,
		Confidence: in.ConfidenceOrDefault(),
		Timestamp:  b.now(),
		Parameters: in.Parameters,
	}
	return b.sizeApproveEmit(ctx, pathSingle, in, sig, validator, nil)
}

// sizeApproveEmit is shared by both paths: validate, size, approve, publish.
// A publish failure releases the margin the approval locked.
func (b *Brain) sizeApproveEmit(ctx context.Context, path string, in models.InboundSignal, sig models.TimeframeSignal, validator SignalValidator, meta *models.CorrelationMetadata) (Decision, error) {
	if ok, reason := b.validate(sig, validator); !ok {
		return b.decline(path, LayerValidation, reason, nil), nil
	}

	sized := b.risk.CalculatePositionSize(ctx, risk.SizeRequest{
		StrategyName:      in.StrategyName,
		Timeframe:         in.Timeframe,
		Symbol:            in.Symbol,
		SignalType:        sig.SignalType,
		SuggestedQuantity: sig.Quantity,
		Price:             sig.Price,
	})
	if !sized.Success {
		return b.decline(path, LayerSizing, sized.Error, nil), nil
	}

	approval := b.risk.ApproveTrade(ctx, risk.TradeRequest{
		StrategyName:  in.StrategyName,
		Timeframe:     in.Timeframe,
		Symbol:        in.Symbol,
		SignalType:    sig.SignalType,
		Quantity:      sized.FinalQuantity,
		Price:         sig.Price,
		EstimatedCost: sized.EstimatedCost,
	})
	if !approval.Approved {
		return b.decline(path, LayerApproval, approval.Reason, nil), nil
	}

	intent := &models.OrderIntent{
		ID:               b.newID(),
		Source:           "brain." + b.id,
		StrategyName:     in.StrategyName,
		Symbol:           in.Symbol,
		Timeframe:        in.Timeframe,
		SignalType:       sig.SignalType,
		Quantity:         sized.FinalQuantity,
		Price:            sig.Price,
		Confidence:       sig.Confidence,
		OriginalQuantity: in.Quantity,
		EstimatedCost:    sized.EstimatedCost,
		SizingMethod:     string(sized.Method),
		RiskPercentage:   sized.RiskPercentage,
		LockID:           approval.Lock.ID,
		MultiTimeframe:   meta,
		CreatedAt:        b.now(),
	}

	pubCtx, cancel := context.WithTimeout(ctx, b.pubTimeout)
	err := b.publisher.PublishIntent(pubCtx, intent)
	cancel()
	if err != nil {
		if relErr := b.risk.ReleaseLock(context.WithoutCancel(ctx), approval.Lock.ID, "intent publish failed"); relErr != nil {
			b.log.Error("margin release after publish failure", logger.String("lock_id", approval.Lock.ID), logger.Error(relErr))
		}
		b.metrics.RecordError("publish_intent")
		b.metrics.RecordSignal(path, "failed")
		return Decision{Layer: LayerPublish, Reason: err.Error()}, fmt.Errorf("publish intent %s: %w", intent.ID, err)
	}

	b.metrics.RecordSignal(path, "accepted")
	b.log.Info("order intent emitted",
		logger.String("intent_id", intent.ID),
		logger.String("strategy", intent.StrategyName),
		logger.String("symbol", intent.Symbol),
		logger.String("signal_type", string(intent.SignalType)),
		logger.Int("quantity", intent.Quantity),
		logger.Int("original_quantity", intent.OriginalQuantity),
		logger.String("path", path))

	return Decision{Accepted: true, Reason: "accepted", Intent: intent}, nil
}

func (b *Brain) validate(sig models.TimeframeSignal, custom SignalValidator) (bool, string) {
	if custom != nil {
		return custom(sig)
	}
	if sig.Quantity <= 0 {
		return false, fmt.Sprintf("invalid quantity %d", sig.Quantity)
	}
	if !sig.SignalType.Valid() {
		return false, fmt.Sprintf("invalid signal type %q", sig.SignalType)
	}
	return true, ""
}

func (b *Brain) decline(path, layer, reason string, mtf *models.MultiTimeframeSignal) Decision {
	b.metrics.RecordSignal(path, "declined")
	b.metrics.RecordRejection(layer)
	b.log.Info("signal declined",
		logger.String("path", path),
		logger.String("layer", layer),
		logger.String("reason", reason))
	return Decision{Layer: layer, Reason: reason, MultiTimeframe: mtf}
}

// UpdatePortfolioState records the portfolio snapshot and forwards it to risk.
func (b *Brain) UpdatePortfolioState(ctx context.Context, fb models.PortfolioFeedback) {
	b.mu.Lock()
	positions := make(map[string]models.PositionSnapshot, len(fb.Positions))
	for s, p := range fb.Positions {
		positions[s] = p
	}
	b.state.Positions = positions
	b.state.TotalEquity = fb.TotalEquity
	b.state.AvailableMargin = fb.CashBalance
	b.state.UsedMargin = fb.TotalEquity - fb.CashBalance
	b.state.UpdatedAt = b.now()
	b.mu.Unlock()

	b.risk.UpdatePortfolioState(ctx, fb)
}

// HandleFundsUpdate records a margin refresh and forwards it to risk.
func (b *Brain) HandleFundsUpdate(ctx context.Context, f models.FundsUpdate) {
	b.mu.Lock()
	b.state.TotalEquity = f.TotalEquity
	b.state.AvailableMargin = f.AvailableMargin
	b.state.UsedMargin = f.UsedMargin
	b.state.UpdatedAt = b.now()
	b.mu.Unlock()

	b.risk.UpdateFunds(ctx, f)
}

// State returns a snapshot of the brain's counters, strategies and positions.
func (b *Brain) State() BrainState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := b.state
	out.Strategies = make(map[string]StrategyState, len(b.strategies))
	for k, st := range b.strategies {
		out.Strategies[k] = *st
	}
	out.Positions = make(map[string]models.PositionSnapshot, len(b.state.Positions))
	for k, p := range b.state.Positions {
		out.Positions[k] = p
	}
	return out
}
