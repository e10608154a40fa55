package timeframe

import (
	"context"
	"sort"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
	"SignalGate/pkg/logger"
	"SignalGate/pkg/metrics"
)

const (
	defaultHistoryCap    = 1000
	defaultSweepInterval = time.Minute
	defaultMaxSignalAge  = 2 * time.Hour
)

// SignalInput is one per-timeframe signal handed to the manager.
type SignalInput struct {
	Symbol       string
	StrategyName string
	Timeframe    models.Timeframe
	SignalType   models.SignalType
	Quantity     int
	Price        float64
	Confidence   float64
	Parameters   map[string]any
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithLogger(log *logger.Logger) Option { return func(m *Manager) { m.log = log } }

func WithMetrics(rec repository.Metrics) Option { return func(m *Manager) { m.metrics = rec } }

func WithHistoryCap(n int) Option { return func(m *Manager) { m.historyCap = n } }

func WithSweepInterval(d time.Duration) Option { return func(m *Manager) { m.sweepInterval = d } }

func WithDefaultMaxAge(d time.Duration) Option { return func(m *Manager) { m.defaultMaxAge = d } }

// Manager keeps the latest signal per (symbol, timeframe), correlates new
// signals with their confirmation and filter timeframes, and records every
// outcome in a bounded history.
type Manager struct {
	now           func() time.Time
	log           *logger.Logger
	metrics       repository.Metrics
	historyCap    int
	sweepInterval time.Duration
	defaultMaxAge time.Duration

	mu      sync.RWMutex
	configs map[string]*models.MultiTimeframeStrategyConfig
	active  map[string]map[models.Timeframe]models.TimeframeSignal
	history []models.MultiTimeframeSignal

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		now:           time.Now,
		historyCap:    defaultHistoryCap,
		sweepInterval: defaultSweepInterval,
		defaultMaxAge: defaultMaxSignalAge,
		configs:       make(map[string]*models.MultiTimeframeStrategyConfig),
		active:        make(map[string]map[models.Timeframe]models.TimeframeSignal),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Nop()
	}
	if m.metrics == nil {
		m.metrics = metrics.Noop{}
	}
	if m.historyCap <= 0 {
		m.historyCap = defaultHistoryCap
	}
	return m
}

// RegisterStrategyConfig installs cfg, replacing any config with the same
// strategy and symbol.
func (m *Manager) RegisterStrategyConfig(cfg models.MultiTimeframeStrategyConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Confirmations = append([]models.TimeframeConfig(nil), cfg.Confirmations...)
	cfg.Filters = append([]models.TimeframeConfig(nil), cfg.Filters...)

	m.mu.Lock()
	_, replaced := m.configs[cfg.Key()]
	m.configs[cfg.Key()] = &cfg
	m.mu.Unlock()

	m.log.Info("multi-timeframe strategy registered",
		logger.String("strategy", cfg.StrategyName),
		logger.String("symbol", cfg.Symbol),
		logger.String("primary", string(cfg.PrimaryTimeframe)),
		logger.Int("confirmations", len(cfg.Confirmations)),
		logger.Int("filters", len(cfg.Filters)),
		logger.Bool("replaced", replaced))
	return nil
}

// StrategyConfig returns a copy of the config for strategy and symbol.
func (m *Manager) StrategyConfig(strategy, symbol string) (models.MultiTimeframeStrategyConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[models.StrategySymbolKey(strategy, symbol)]
	if !ok {
		return models.MultiTimeframeStrategyConfig{}, false
	}
	return *cfg, true
}

// HasConfig reports whether a config exists for strategy and symbol.
func (m *Manager) HasConfig(strategy, symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.configs[models.StrategySymbolKey(strategy, symbol)]
	return ok
}

// ProcessTimeframeSignal stores the signal as the latest for its timeframe,
// then correlates, validates and (on approval) blends it. The whole step is
// atomic with respect to the expiry sweep.
func (m *Manager) ProcessTimeframeSignal(ctx context.Context, in SignalInput) (models.MultiTimeframeSignal, error) {
	if err := ctx.Err(); err != nil {
		return models.MultiTimeframeSignal{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[models.StrategySymbolKey(in.StrategyName, in.Symbol)]
	if !ok {
		return models.MultiTimeframeSignal{}, &models.ConfigurationError{Strategy: in.StrategyName, Symbol: in.Symbol}
	}

	now := m.now()
	primary := models.TimeframeSignal{
		Timeframe:  in.Timeframe,
		SignalType: in.SignalType,
		Quantity:   in.Quantity,
		Price:      in.Price,
		Confidence: in.Confidence,
		Timestamp:  now,
		Parameters: copyParams(in.Parameters),
	}

	bySymbol, ok := m.active[in.Symbol]
	if !ok {
		bySymbol = make(map[models.Timeframe]models.TimeframeSignal)
		m.active[in.Symbol] = bySymbol
	}
	bySymbol[in.Timeframe] = primary

	sig := models.MultiTimeframeSignal{
		Symbol:           in.Symbol,
		StrategyName:     in.StrategyName,
		Primary:          primary,
		Confirmations:    m.gatherLocked(bySymbol, cfg.Confirmations, in.Timeframe, now),
		Filters:          m.gatherLocked(bySymbol, cfg.Filters, in.Timeframe, now),
		ValidationStatus: models.ValidationPending,
		CreatedAt:        now,
	}
	sig.CorrelationType, sig.CorrelationScore = Correlate(primary, sig.Confirmations, sig.Filters)

	approved, reason := validate(cfg, &sig)
	sig.ValidationReason = reason
	if approved {
		sig.ValidationStatus = models.ValidationApproved
		final := blend(cfg, &sig)
		sig.FinalSignal = &final
	} else {
		sig.ValidationStatus = models.ValidationRejected
	}

	m.appendHistoryLocked(sig)
	m.metrics.RecordCorrelation(in.StrategyName, sig.CorrelationScore)

	m.log.Debug("timeframe signal correlated",
		logger.String("strategy", in.StrategyName),
		logger.String("symbol", in.Symbol),
		logger.String("timeframe", string(in.Timeframe)),
		logger.String("correlation", string(sig.CorrelationType)),
		logger.Float64("score", sig.CorrelationScore),
		logger.String("status", string(sig.ValidationStatus)),
		logger.String("reason", reason))

	return sig, nil
}

// gatherLocked returns the active signals for the role's timeframes that are
// within the role timeout. The incoming signal's own timeframe never counts
// as support for itself.
func (m *Manager) gatherLocked(bySymbol map[models.Timeframe]models.TimeframeSignal, role []models.TimeframeConfig, own models.Timeframe, now time.Time) []models.TimeframeSignal {
	var out []models.TimeframeSignal
	for _, tc := range role {
		if tc.Timeframe == own {
			continue
		}
		s, ok := bySymbol[tc.Timeframe]
		if !ok {
			continue
		}
		if s.Age(now) > tc.SignalTimeout {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (m *Manager) appendHistoryLocked(sig models.MultiTimeframeSignal) {
	m.history = append(m.history, sig)
	if over := len(m.history) - m.historyCap; over > 0 {
		kept := make([]models.MultiTimeframeSignal, m.historyCap, m.historyCap+1)
		copy(kept, m.history[over:])
		m.history = kept
	}
}

// ActiveSignals returns a copy of the latest signal per timeframe for symbol.
func (m *Manager) ActiveSignals(symbol string) map[models.Timeframe]models.TimeframeSignal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[models.Timeframe]models.TimeframeSignal, len(m.active[symbol]))
	for tf, s := range m.active[symbol] {
		out[tf] = s
	}
	return out
}

// SignalHistory returns up to limit most recent outcomes, newest last.
// Empty symbol or strategy match everything; limit <= 0 means no limit.
func (m *Manager) SignalHistory(symbol, strategy string, limit int) []models.MultiTimeframeSignal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.MultiTimeframeSignal
	for i := len(m.history) - 1; i >= 0; i-- {
		h := m.history[i]
		if symbol != "" && h.Symbol != symbol {
			continue
		}
		if strategy != "" && h.StrategyName != strategy {
			continue
		}
		out = append(out, h)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// RoleStatus describes one confirmation or filter timeframe in a summary.
type RoleStatus struct {
	Timeframe     models.Timeframe  `json:"timeframe"`
	HasSignal     bool              `json:"has_signal"`
	SignalType    models.SignalType `json:"signal_type,omitempty"`
	Age           time.Duration     `json:"signal_age"`
	WithinTimeout bool              `json:"within_timeout"`
}

type CorrelationAnalysis struct {
	Type              models.CorrelationType `json:"correlation_type"`
	Score             float64                `json:"correlation_score"`
	ConfirmationCount int                    `json:"confirmation_count"`
	FilterCount       int                    `json:"filter_count"`
}

type Summary struct {
	Symbol           string                  `json:"symbol"`
	StrategyName     string                  `json:"strategy_name"`
	PrimaryTimeframe models.Timeframe        `json:"primary_timeframe"`
	PrimarySignal    *models.TimeframeSignal `json:"primary_signal,omitempty"`
	Confirmations    []RoleStatus            `json:"confirmations"`
	Filters          []RoleStatus            `json:"filters"`
	Correlation      *CorrelationAnalysis    `json:"correlation_analysis,omitempty"`
}

// TimeframeSummary reports the current state of every timeframe of a
// strategy and a fresh correlation of the primary against the supporting
// signals currently within their timeouts. It does not touch history.
func (m *Manager) TimeframeSummary(symbol, strategy string) (Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[models.StrategySymbolKey(strategy, symbol)]
	if !ok {
		return Summary{}, &models.ConfigurationError{Strategy: strategy, Symbol: symbol}
	}

	now := m.now()
	bySymbol := m.active[symbol]
	sum := Summary{Symbol: symbol, StrategyName: strategy, PrimaryTimeframe: cfg.PrimaryTimeframe}

	role := func(tcs []models.TimeframeConfig) []RoleStatus {
		out := make([]RoleStatus, 0, len(tcs))
		for _, tc := range tcs {
			st := RoleStatus{Timeframe: tc.Timeframe}
			if s, ok := bySymbol[tc.Timeframe]; ok {
				st.HasSignal = true
				st.SignalType = s.SignalType
				st.Age = s.Age(now)
				st.WithinTimeout = st.Age <= tc.SignalTimeout
			}
			out = append(out, st)
		}
		return out
	}
	sum.Confirmations = role(cfg.Confirmations)
	sum.Filters = role(cfg.Filters)

	if p, ok := bySymbol[cfg.PrimaryTimeframe]; ok {
		primary := p
		sum.PrimarySignal = &primary
		confs := m.gatherLocked(bySymbol, cfg.Confirmations, cfg.PrimaryTimeframe, now)
		filts := m.gatherLocked(bySymbol, cfg.Filters, cfg.PrimaryTimeframe, now)
		ct, score := Correlate(primary, confs, filts)
		sum.Correlation = &CorrelationAnalysis{
			Type:              ct,
			Score:             score,
			ConfirmationCount: len(confs),
			FilterCount:       len(filts),
		}
	}
	return sum, nil
}

// Strategies lists registered (strategy, symbol) keys in sorted order.
func (m *Manager) Strategies() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.configs))
	for k := range m.configs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
