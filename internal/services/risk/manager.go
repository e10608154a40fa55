package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
	"SignalGate/pkg/logger"
	"SignalGate/pkg/metrics"
)

// Scope names a breaker family for ResetCircuitBreaker.
type Scope string

const (
	ScopePortfolio Scope = "portfolio"
	ScopeStrategy  Scope = "strategy"
	ScopeLimits    Scope = "limits"
)

type ManagerConfig struct {
	Sizing           SizingParams       `yaml:"sizing" json:"sizing"`
	DefaultLotSize   int                `yaml:"default_lot_size" json:"default_lot_size" default:"1"`
	LotSizes         map[string]int     `yaml:"lot_sizes" json:"lot_sizes"`
	Limits           LimitsConfig       `yaml:"limits" json:"limits"`
	Portfolio        PortfolioConfig    `yaml:"portfolio" json:"portfolio"`
	StrategyDefaults StrategyRiskConfig `yaml:"strategy_defaults" json:"strategy_defaults"`
	NotifyTimeout    time.Duration      `yaml:"notify_timeout" json:"notify_timeout" default:"2s"`
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Sizing:           DefaultSizingParams(),
		DefaultLotSize:   1,
		Limits:           DefaultLimitsConfig(),
		Portfolio:        DefaultPortfolioConfig(),
		StrategyDefaults: DefaultStrategyRiskConfig("", ""),
		NotifyTimeout:    2 * time.Second,
	}
}

// RiskNotifier receives informational ledger events.
type RiskNotifier interface {
	PublishRiskEvent(ctx context.Context, event *models.RiskEvent) error
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithLogger(log *logger.Logger) Option { return func(m *Manager) { m.log = log } }

func WithMetrics(rec repository.Metrics) Option { return func(m *Manager) { m.metrics = rec } }

func WithNotifier(n RiskNotifier) Option { return func(m *Manager) { m.notifier = n } }

// SizeRequest asks for a risk-adjusted quantity.
type SizeRequest struct {
	StrategyName      string
	Timeframe         models.Timeframe
	Symbol            string
	SignalType        models.SignalType
	SuggestedQuantity int
	Price             float64
	LotSize           int
}

// TradeRequest asks for final approval of a sized trade.
type TradeRequest struct {
	StrategyName  string
	Timeframe     models.Timeframe
	Symbol        string
	SignalType    models.SignalType
	Quantity      int
	Price         float64
	EstimatedCost float64
}

type Approval struct {
	Approved bool
	Reason   string
	Lock     MarginLock
}

// Manager composes the sizer and the three risk layers and owns the margin
// ledger. Every ledger mutation happens under mu.
type Manager struct {
	cfg        ManagerConfig
	sizer      *PositionSizer
	limits     *Limits
	portfolio  *PortfolioManager
	strategies *StrategyManager

	now      func() time.Time
	log      *logger.Logger
	metrics  repository.Metrics
	notifier RiskNotifier

	mu             sync.Mutex
	ledger         *ledger
	lastRealized   float64
	lastUnrealized float64
	lotSizes       map[string]int
}

func NewManager(cfg ManagerConfig, opts ...Option) *Manager {
	m := &Manager{cfg: cfg, now: time.Now, ledger: newLedger(), lotSizes: make(map[string]int)}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Nop()
	}
	if m.metrics == nil {
		m.metrics = metrics.Noop{}
	}
	if m.cfg.DefaultLotSize <= 0 {
		m.cfg.DefaultLotSize = 1
	}
	if m.cfg.NotifyTimeout <= 0 {
		m.cfg.NotifyTimeout = 2 * time.Second
	}
	for s, n := range cfg.LotSizes {
		m.lotSizes[s] = n
	}

	m.sizer = NewPositionSizer()
	m.limits = NewLimits(cfg.Limits, m.now)
	m.portfolio = NewPortfolioManager(cfg.Portfolio, m.now)
	m.strategies = NewStrategyManager(m.now)

	m.portfolio.OnTrip(func(name, reason string) { m.breakerTripped(ScopePortfolio, name, reason) })
	m.strategies.OnTrip(func(name, reason string) { m.breakerTripped(ScopeStrategy, name, reason) })
	return m
}

func (m *Manager) breakerTripped(scope Scope, name, reason string) {
	m.metrics.RecordBreakerTrip(string(scope), name)
	m.log.Warn("circuit breaker tripped",
		logger.String("scope", string(scope)),
		logger.String("name", name),
		logger.String("reason", reason))
}

// Limits, Portfolio and Strategies expose the layers for inspection.
func (m *Manager) Limits() *Limits              { return m.limits }
func (m *Manager) Portfolio() *PortfolioManager { return m.portfolio }
func (m *Manager) Strategies() *StrategyManager { return m.strategies }

// SetLotSize sets the lot size for one symbol.
func (m *Manager) SetLotSize(symbol string, lot int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lotSizes[symbol] = lot
}

func (m *Manager) lotSizeLocked(symbol string, requested int) int {
	if requested > 0 {
		return requested
	}
	if n, ok := m.lotSizes[symbol]; ok && n > 0 {
		return n
	}
	return m.cfg.DefaultLotSize
}

// RegisterStrategy installs a strategy risk config.
func (m *Manager) RegisterStrategy(cfg StrategyRiskConfig) {
	m.strategies.Register(cfg)
	m.log.Info("strategy risk registered",
		logger.String("strategy", cfg.Name),
		logger.String("timeframe", string(cfg.Timeframe)),
		logger.Float64("risk_per_trade", cfg.RiskPerTrade))
}

// EnsureStrategy registers the default strategy config when name is unknown.
func (m *Manager) EnsureStrategy(name string, tf models.Timeframe) {
	if m.strategies.IsRegistered(name) {
		return
	}
	cfg := m.cfg.StrategyDefaults
	if cfg.RiskPerTrade == 0 {
		cfg = DefaultStrategyRiskConfig(name, tf)
	}
	cfg.Name = name
	cfg.Timeframe = tf
	m.RegisterStrategy(cfg)
}

func (m *Manager) gates(strategy, symbol string, sig models.SignalType, qty int, price float64) (bool, string) {
	if ok, reason := m.portfolio.IsTradingAllowed(); !ok {
		return false, "Portfolio risk: " + reason
	}
	if ok, reason := m.strategies.CheckLimits(strategy, symbol); !ok {
		return false, "Strategy risk: " + reason
	}
	if ok, reason := m.limits.CheckOrder(symbol, sig, qty, price); !ok {
		return false, "Risk limits: " + reason
	}
	return true, ""
}

// CalculatePositionSize runs the risk gates on the suggested quantity and,
// if they pass, sizes the trade against the live ledger.
func (m *Manager) CalculatePositionSize(ctx context.Context, req SizeRequest) SizingResult {
	if err := ctx.Err(); err != nil {
		return failed(m.cfg.Sizing.Method, err.Error())
	}

	if ok, reason := m.gates(req.StrategyName, req.Symbol, req.SignalType, req.SuggestedQuantity, req.Price); !ok {
		return failed(m.cfg.Sizing.Method, reason)
	}

	m.mu.Lock()
	equity, available := m.ledger.totalEquity, m.ledger.available
	lot := m.lotSizeLocked(req.Symbol, req.LotSize)
	m.mu.Unlock()

	res := m.sizer.Calculate(SizingRequest{
		Symbol:            req.Symbol,
		SignalType:        req.SignalType,
		SuggestedQuantity: req.SuggestedQuantity,
		Price:             req.Price,
		LotSize:           lot,
		AvailableMargin:   available,
		TotalEquity:       equity,
		Params:            m.strategies.SizingParams(req.StrategyName, m.cfg.Sizing),
	})
	if !res.Success {
		m.metrics.RecordSizingFailure(string(res.Method))
	}
	return res
}

// ApproveTrade re-checks every gate with the final quantity, checks margin
// and locks it. The check and the lock are atomic.
func (m *Manager) ApproveTrade(ctx context.Context, req TradeRequest) Approval {
	if err := ctx.Err(); err != nil {
		return Approval{Reason: err.Error()}
	}
	if req.Quantity <= 0 {
		return Approval{Reason: "Invalid quantity"}
	}

	m.mu.Lock()

	if ok, reason := m.gates(req.StrategyName, req.Symbol, req.SignalType, req.Quantity, req.Price); !ok {
		m.mu.Unlock()
		return Approval{Reason: reason}
	}

	cost := req.EstimatedCost
	if cost <= 0 {
		cost = float64(req.Quantity) * req.Price
	}
	if cost > m.ledger.available {
		reason := fmt.Sprintf("Insufficient margin: %.2f > %.2f", cost, m.ledger.available)
		m.mu.Unlock()
		return Approval{Reason: reason}
	}

	lk := m.ledger.lock(req.Symbol, cost, m.now())
	event := m.eventLocked(models.RiskEventMarginLocked, lk, "")
	m.mu.Unlock()

	m.notify(ctx, event)
	return Approval{Approved: true, Reason: "Trade approved", Lock: lk}
}

// ReleaseLock returns an approval's margin when no order will follow it.
func (m *Manager) ReleaseLock(ctx context.Context, lockID, reason string) error {
	m.mu.Lock()
	lk, err := m.ledger.lookup(lockID, "")
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.ledger.release(lk)
	event := m.eventLocked(models.RiskEventMarginReleased, lk, reason)
	m.mu.Unlock()

	m.notify(ctx, event)
	return nil
}

// ProcessTradeExecution reconciles an approved trade with its outcome.
// An execution whose lock is unknown leaves all state untouched.
func (m *Manager) ProcessTradeExecution(ctx context.Context, exec models.Execution) error {
	m.mu.Lock()
	lk, err := m.ledger.lookup(exec.LockID, exec.Symbol)
	if err != nil {
		m.mu.Unlock()
		m.metrics.RecordError("ledger_inconsistency")
		return err
	}

	m.limits.RecordOrder()
	if exec.Success {
		m.limits.UpdateExposure(exec.Symbol, exec.SignalType, exec.Quantity, exec.Price)
	}
	if m.strategies.IsRegistered(exec.StrategyName) {
		if err := m.strategies.UpdateTrade(exec.StrategyName, TradeRecord{
			Symbol:     exec.Symbol,
			SignalType: exec.SignalType,
			Quantity:   exec.Quantity,
			Price:      exec.Price,
			PnL:        exec.RealizedPnL,
			Success:    exec.Success,
		}); err != nil {
			m.metrics.RecordError("strategy_update")
			m.log.Warn("strategy trade not recorded",
				logger.String("strategy", exec.StrategyName),
				logger.String("lock_id", exec.LockID),
				logger.Error(err))
		}
	}

	var event *models.RiskEvent
	if exec.Success {
		m.ledger.settle(lk, exec.ActualCost)
		if exec.ActualCost > 0 {
			lk.Amount = exec.ActualCost
		}
		event = m.eventLocked(models.RiskEventMarginSettled, lk, "")
	} else {
		m.ledger.release(lk)
		event = m.eventLocked(models.RiskEventMarginReleased, lk, "execution failed")
	}
	m.mu.Unlock()

	m.notify(ctx, event)
	return nil
}

// UpdatePortfolioState refreshes the ledger, P&L windows and exposure
// metrics from a portfolio snapshot.
func (m *Manager) UpdatePortfolioState(ctx context.Context, fb models.PortfolioFeedback) {
	realized, unrealized := fb.TotalPnL()

	m.mu.Lock()
	dRealized := realized - m.lastRealized
	dUnrealized := unrealized - m.lastUnrealized
	m.lastRealized, m.lastUnrealized = realized, unrealized
	m.ledger.sync(fb.TotalEquity, fb.CashBalance)
	available, used := m.ledger.available, m.ledger.used
	m.mu.Unlock()

	m.metrics.RecordMargin(available, used)

	if dRealized != 0 || dUnrealized != 0 {
		m.portfolio.UpdatePnL(dRealized, dUnrealized)
		if m.limits.UpdatePnL(dRealized, dUnrealized) {
			m.breakerTripped(ScopeLimits, "order_limits", m.limits.ExposureSummary().CircuitBreaker.Reason)
		}
	}
	m.portfolio.UpdatePortfolioState(fb.Positions, fb.CashBalance, fb.TotalEquity)
}

// UpdateFunds applies an explicit equity/margin refresh.
func (m *Manager) UpdateFunds(_ context.Context, f models.FundsUpdate) {
	m.mu.Lock()
	m.ledger.setFunds(f.TotalEquity, f.AvailableMargin)
	available, used := m.ledger.available, m.ledger.used
	m.mu.Unlock()
	m.metrics.RecordMargin(available, used)
}

// Margin returns total equity, available and used margin.
func (m *Manager) Margin() (equity, available, used float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.totalEquity, m.ledger.available, m.ledger.used
}

// OutstandingLocks lists locks awaiting an execution outcome.
func (m *Manager) OutstandingLocks() []MarginLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MarginLock, 0, len(m.ledger.locks))
	for _, lk := range m.ledger.locks {
		out = append(out, lk)
	}
	return out
}

// ResetCircuitBreaker clears a breaker in the given scope. For portfolio the
// id is the breaker name ("all" clears every one); for strategy it is the
// strategy name; limits ignores it.
func (m *Manager) ResetCircuitBreaker(scope Scope, id string) error {
	switch scope {
	case ScopePortfolio:
		if id == "all" {
			m.portfolio.ResetAll()
			return nil
		}
		return m.portfolio.ResetCircuitBreaker(id)
	case ScopeStrategy:
		return m.strategies.ResetCircuitBreaker(id)
	case ScopeLimits:
		m.limits.ResetCircuitBreaker()
		return nil
	default:
		return fmt.Errorf("unknown breaker scope %q", scope)
	}
}

type LedgerSummary struct {
	TotalEquity     float64 `json:"total_equity"`
	AvailableMargin float64 `json:"available_margin"`
	UsedMargin      float64 `json:"used_margin"`
	OutstandingLock int     `json:"outstanding_locks"`
}

type Summary struct {
	Ledger     LedgerSummary        `json:"ledger"`
	Portfolio  PortfolioRiskSummary `json:"portfolio"`
	Limits     ExposureSummary      `json:"limits"`
	Strategies []StrategySummary    `json:"strategies"`
}

func (m *Manager) RiskSummary() Summary {
	m.mu.Lock()
	ls := LedgerSummary{
		TotalEquity:     m.ledger.totalEquity,
		AvailableMargin: m.ledger.available,
		UsedMargin:      m.ledger.used,
		OutstandingLock: len(m.ledger.locks),
	}
	m.mu.Unlock()

	return Summary{
		Ledger:     ls,
		Portfolio:  m.portfolio.RiskSummary(),
		Limits:     m.limits.ExposureSummary(),
		Strategies: m.strategies.AllSummaries(),
	}
}

func (m *Manager) eventLocked(t models.RiskEventType, lk MarginLock, reason string) *models.RiskEvent {
	return &models.RiskEvent{
		Type:      t,
		Symbol:    lk.Symbol,
		LockID:    lk.ID,
		Amount:    lk.Amount,
		Available: m.ledger.available,
		Used:      m.ledger.used,
		Reason:    reason,
		Timestamp: m.now(),
	}
}

func (m *Manager) notify(ctx context.Context, event *models.RiskEvent) {
	m.metrics.RecordMargin(event.Available, event.Used)
	if m.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.NotifyTimeout)
	defer cancel()
	if err := m.notifier.PublishRiskEvent(ctx, event); err != nil {
		m.log.Warn("risk event not delivered",
			logger.String("type", string(event.Type)),
			logger.String("lock_id", event.LockID),
			logger.Error(err))
	}
}
