package risk

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
)

const (
	tradeHistoryCap        = 100
	adaptiveMinTrades      = 10
	adaptiveWindow         = 20
	winRateBreakerMinTrade = 20
	winRateGateMinTrades   = 10
)

type StrategyRiskConfig struct {
	Name      string           `yaml:"name" json:"name"`
	Timeframe models.Timeframe `yaml:"timeframe" json:"timeframe"`

	SizingMethod      SizingMethod `yaml:"sizing_method" json:"sizing_method" default:"percent_of_equity"`
	RiskPerTrade      float64      `yaml:"risk_per_trade" json:"risk_per_trade" default:"0.02"`
	MaxPositionSize   float64      `yaml:"max_position_size" json:"max_position_size" default:"0.05"`
	FixedCashPerTrade float64      `yaml:"fixed_cash_per_trade" json:"fixed_cash_per_trade" default:"10000"`

	MaxConcurrentPositions int `yaml:"max_concurrent_positions" json:"max_concurrent_positions" default:"10"`
	MaxPositionsPerSymbol  int `yaml:"max_positions_per_symbol" json:"max_positions_per_symbol" default:"1"`

	MaxDailyLoss     float64 `yaml:"max_daily_loss" json:"max_daily_loss" default:"10000"`
	MaxDrawdown      float64 `yaml:"max_drawdown" json:"max_drawdown" default:"0.10"`
	WinRateThreshold float64 `yaml:"win_rate_threshold" json:"win_rate_threshold" default:"0.35"`
	MaxTradesPerDay  int     `yaml:"max_trades_per_day" json:"max_trades_per_day" default:"20"`
	MaxTradesPerWeek int     `yaml:"max_trades_per_week" json:"max_trades_per_week" default:"100"`

	// FixedRisk disables performance-based risk adjustment.
	FixedRisk            bool    `yaml:"fixed_risk" json:"fixed_risk"`
	RiskAdjustmentFactor float64 `yaml:"risk_adjustment_factor" json:"risk_adjustment_factor" default:"0.5"`
}

func DefaultStrategyRiskConfig(name string, tf models.Timeframe) StrategyRiskConfig {
	return StrategyRiskConfig{
		Name:                   name,
		Timeframe:              tf,
		SizingMethod:           MethodPercentOfEquity,
		RiskPerTrade:           0.02,
		MaxPositionSize:        0.05,
		FixedCashPerTrade:      10000,
		MaxConcurrentPositions: 10,
		MaxPositionsPerSymbol:  1,
		MaxDailyLoss:           10000,
		MaxDrawdown:            0.10,
		WinRateThreshold:       0.35,
		MaxTradesPerDay:        20,
		MaxTradesPerWeek:       100,
		RiskAdjustmentFactor:   0.5,
	}
}

type TradeRecord struct {
	Symbol     string            `json:"symbol"`
	SignalType models.SignalType `json:"signal_type"`
	Quantity   int               `json:"quantity"`
	Price      float64           `json:"price"`
	PnL        float64           `json:"pnl"`
	Success    bool              `json:"success"`
	At         time.Time         `json:"at"`
}

type strategyState struct {
	cfg         StrategyRiskConfig
	baseRisk    float64
	currentRisk float64

	dailyPnL   float64
	totalPnL   float64
	peakPnL    float64
	drawdown   float64
	tradesDay  int
	tradesWeek int
	day        time.Time
	weekYear   int
	week       int

	positions map[string]int
	history   []TradeRecord
	winRate   float64
	breaker   BreakerState
}

// StrategyManager enforces per-strategy limits and tracks each strategy's
// trade performance.
type StrategyManager struct {
	now func() time.Time

	mu         sync.Mutex
	strategies map[string]*strategyState

	onTrip func(name, reason string)
}

func NewStrategyManager(now func() time.Time) *StrategyManager {
	if now == nil {
		now = time.Now
	}
	return &StrategyManager{now: now, strategies: make(map[string]*strategyState)}
}

// OnTrip registers a callback invoked (under the manager's lock) for every trip.
func (s *StrategyManager) OnTrip(fn func(name, reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTrip = fn
}

// Register adds or replaces a strategy's config. Replacing keeps its history.
func (s *StrategyManager) Register(cfg StrategyRiskConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.strategies[cfg.Name]; ok {
		st.cfg = cfg
		st.baseRisk = cfg.RiskPerTrade
		st.currentRisk = math.Min(st.currentRisk, cfg.RiskPerTrade)
		return
	}
	now := s.now()
	wy, w := now.ISOWeek()
	s.strategies[cfg.Name] = &strategyState{
		cfg:         cfg,
		baseRisk:    cfg.RiskPerTrade,
		currentRisk: cfg.RiskPerTrade,
		day:         dayOf(now),
		weekYear:    wy,
		week:        w,
		positions:   make(map[string]int),
	}
}

// IsRegistered reports whether name has a risk config.
func (s *StrategyManager) IsRegistered(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.strategies[name]
	return ok
}

func (st *strategyState) rollLocked(now time.Time) {
	if today := dayOf(now); today.After(st.day) {
		st.day = today
		st.dailyPnL = 0
		st.tradesDay = 0
	}
	if wy, w := now.ISOWeek(); wy != st.weekYear || w != st.week {
		st.weekYear, st.week = wy, w
		st.tradesWeek = 0
	}
}

// CheckLimits gates a new trade for strategy name on symbol.
func (s *StrategyManager) CheckLimits(name, symbol string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.strategies[name]
	if !ok {
		return false, fmt.Sprintf("Strategy %s not registered", name)
	}
	st.rollLocked(s.now())
	cfg := st.cfg

	if st.breaker.Active {
		return false, "Strategy circuit breaker active: " + st.breaker.Reason
	}
	if -st.dailyPnL > cfg.MaxDailyLoss {
		return false, fmt.Sprintf("Daily loss limit exceeded: %.2f > %.2f", -st.dailyPnL, cfg.MaxDailyLoss)
	}
	if st.tradesDay >= cfg.MaxTradesPerDay {
		return false, fmt.Sprintf("Daily trade limit exceeded: %d", cfg.MaxTradesPerDay)
	}
	if st.tradesWeek >= cfg.MaxTradesPerWeek {
		return false, fmt.Sprintf("Weekly trade limit exceeded: %d", cfg.MaxTradesPerWeek)
	}
	if len(st.positions) >= cfg.MaxConcurrentPositions {
		if _, held := st.positions[symbol]; !held {
			return false, fmt.Sprintf("Max concurrent positions exceeded: %d", cfg.MaxConcurrentPositions)
		}
	}
	if st.positions[symbol] >= cfg.MaxPositionsPerSymbol {
		return false, fmt.Sprintf("Max positions per symbol exceeded for %s: %d", symbol, cfg.MaxPositionsPerSymbol)
	}
	if len(st.history) >= winRateGateMinTrades && st.winRate < cfg.WinRateThreshold {
		return false, fmt.Sprintf("Win rate too low: %.2f%% < %.2f%%", st.winRate*100, cfg.WinRateThreshold*100)
	}
	if st.drawdown > cfg.MaxDrawdown {
		return false, fmt.Sprintf("Max drawdown exceeded: %.2f%% > %.2f%%", st.drawdown*100, cfg.MaxDrawdown*100)
	}
	return true, "Strategy limits check passed"
}

// SizingParams returns the strategy's sizing knobs with the current adaptive
// risk per trade.
func (s *StrategyManager) SizingParams(name string, fallback SizingParams) SizingParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[name]
	if !ok {
		return fallback
	}
	p := fallback
	if st.cfg.SizingMethod != "" {
		p.Method = st.cfg.SizingMethod
	}
	if st.currentRisk > 0 {
		p.RiskPerTrade = st.currentRisk
	}
	if st.cfg.MaxPositionSize > 0 {
		p.MaxPositionSize = st.cfg.MaxPositionSize
	}
	if st.cfg.FixedCashPerTrade > 0 {
		p.FixedCashPerTrade = st.cfg.FixedCashPerTrade
	}
	return p
}

// UpdateTrade records a trade outcome, adjusts position tracking and adaptive
// risk, then re-evaluates the strategy breaker.
func (s *StrategyManager) UpdateTrade(name string, tr TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.strategies[name]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrStrategyNotRegistered, name)
	}
	now := s.now()
	st.rollLocked(now)
	if tr.At.IsZero() {
		tr.At = now
	}

	st.tradesDay++
	st.tradesWeek++
	st.dailyPnL += tr.PnL
	st.totalPnL += tr.PnL
	st.peakPnL = math.Max(st.peakPnL, st.totalPnL)
	if st.peakPnL > 0 {
		st.drawdown = (st.peakPnL - st.totalPnL) / st.peakPnL
	}

	st.history = append(st.history, tr)
	if len(st.history) > tradeHistoryCap {
		st.history = append([]TradeRecord(nil), st.history[len(st.history)-tradeHistoryCap:]...)
	}
	wins := 0
	for _, h := range st.history {
		if h.PnL > 0 {
			wins++
		}
	}
	st.winRate = float64(wins) / float64(len(st.history))

	if tr.Success && tr.Quantity > 0 {
		if tr.SignalType.Opens() {
			st.positions[tr.Symbol]++
		} else if st.positions[tr.Symbol] > 0 {
			st.positions[tr.Symbol]--
			if st.positions[tr.Symbol] == 0 {
				delete(st.positions, tr.Symbol)
			}
		}
	}

	if !st.cfg.FixedRisk {
		st.adjustRiskLocked()
	}
	s.checkBreakerLocked(name, st, now)
	return nil
}

func (st *strategyState) adjustRiskLocked() {
	if len(st.history) < adaptiveMinTrades {
		return
	}
	recent := st.history
	if len(recent) > adaptiveWindow {
		recent = recent[len(recent)-adaptiveWindow:]
	}
	wins := 0
	var pnl float64
	for _, h := range recent {
		if h.PnL > 0 {
			wins++
		}
		pnl += h.PnL
	}
	rate := float64(wins) / float64(len(recent))

	switch {
	case rate < 0.3 || pnl < 0:
		st.currentRisk *= st.cfg.RiskAdjustmentFactor
	case rate > 0.7 && pnl > 0:
		st.currentRisk = math.Min(st.currentRisk*1.1, st.baseRisk)
	}
}

func (s *StrategyManager) checkBreakerLocked(name string, st *strategyState, now time.Time) {
	if st.breaker.Active {
		return
	}
	var reason string
	switch {
	case -st.dailyPnL > st.cfg.MaxDailyLoss:
		reason = fmt.Sprintf("Daily loss limit exceeded: %.2f > %.2f", -st.dailyPnL, st.cfg.MaxDailyLoss)
	case st.drawdown > st.cfg.MaxDrawdown:
		reason = fmt.Sprintf("Max drawdown exceeded: %.2f%% > %.2f%%", st.drawdown*100, st.cfg.MaxDrawdown*100)
	case len(st.history) > winRateBreakerMinTrade && st.winRate < st.cfg.WinRateThreshold:
		reason = fmt.Sprintf("Win rate too low: %.2f%% < %.2f%%", st.winRate*100, st.cfg.WinRateThreshold*100)
	default:
		return
	}
	st.breaker = BreakerState{Active: true, Reason: reason, TrippedAt: now}
	if s.onTrip != nil {
		s.onTrip(name, reason)
	}
}

// ResetCircuitBreaker clears one strategy's breaker.
func (s *StrategyManager) ResetCircuitBreaker(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[name]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrStrategyNotRegistered, name)
	}
	st.breaker = BreakerState{}
	return nil
}

type StrategySummary struct {
	Name           string         `json:"name"`
	Timeframe      string         `json:"timeframe"`
	BaseRisk       float64        `json:"base_risk_per_trade"`
	CurrentRisk    float64        `json:"current_risk_per_trade"`
	DailyPnL       float64        `json:"daily_pnl"`
	TotalPnL       float64        `json:"total_pnl"`
	Drawdown       float64        `json:"drawdown"`
	WinRate        float64        `json:"win_rate"`
	TotalTrades    int            `json:"total_trades"`
	TradesToday    int            `json:"trades_today"`
	TradesThisWeek int            `json:"trades_this_week"`
	OpenPositions  map[string]int `json:"open_positions"`
	CircuitBreaker BreakerState   `json:"circuit_breaker"`
}

func (s *StrategyManager) Summary(name string) (StrategySummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[name]
	if !ok {
		return StrategySummary{}, false
	}
	return summarize(name, st), true
}

func (s *StrategyManager) AllSummaries() []StrategySummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StrategySummary, 0, len(s.strategies))
	for name, st := range s.strategies {
		out = append(out, summarize(name, st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func summarize(name string, st *strategyState) StrategySummary {
	positions := make(map[string]int, len(st.positions))
	for k, v := range st.positions {
		positions[k] = v
	}
	return StrategySummary{
		Name:           name,
		Timeframe:      string(st.cfg.Timeframe),
		BaseRisk:       st.baseRisk,
		CurrentRisk:    st.currentRisk,
		DailyPnL:       st.dailyPnL,
		TotalPnL:       st.totalPnL,
		Drawdown:       st.drawdown,
		WinRate:        st.winRate,
		TotalTrades:    len(st.history),
		TradesToday:    st.tradesDay,
		TradesThisWeek: st.tradesWeek,
		OpenPositions:  positions,
		CircuitBreaker: st.breaker,
	}
}
