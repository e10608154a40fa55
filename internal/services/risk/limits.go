package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
)

// ExposureLimits bound one symbol's projected position.
type ExposureLimits struct {
	MaxLots          float64 `yaml:"max_lots" json:"max_lots" default:"100"`
	MaxNotional      float64 `yaml:"max_notional" json:"max_notional" default:"1000000"`
	MaxNetQuantity   int     `yaml:"max_net_quantity" json:"max_net_quantity" default:"1000"`
	MaxLongQuantity  int     `yaml:"max_long_quantity" json:"max_long_quantity" default:"1000"`
	MaxShortQuantity int     `yaml:"max_short_quantity" json:"max_short_quantity" default:"1000"`
}

type LimitsConfig struct {
	Default      ExposureLimits            `yaml:"default" json:"default"`
	Symbols      map[string]ExposureLimits `yaml:"symbols" json:"symbols"`
	SharesPerLot int                       `yaml:"shares_per_lot" json:"shares_per_lot" default:"100"`

	MaxTotalExposure float64 `yaml:"max_total_exposure" json:"max_total_exposure" default:"5000000"`
	MaxOpenPositions int     `yaml:"max_open_positions" json:"max_open_positions" default:"50"`

	MaxOrdersPerMinute int `yaml:"max_orders_per_minute" json:"max_orders_per_minute" default:"10"`
	MaxOrdersPerHour   int `yaml:"max_orders_per_hour" json:"max_orders_per_hour" default:"100"`
	MaxOrdersPerDay    int `yaml:"max_orders_per_day" json:"max_orders_per_day" default:"500"`

	DailyLossLimit float64 `yaml:"daily_loss_limit" json:"daily_loss_limit" default:"50000"`
	MaxDrawdown    float64 `yaml:"max_drawdown" json:"max_drawdown" default:"0.05"`
}

func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		Default: ExposureLimits{
			MaxLots:          100,
			MaxNotional:      1_000_000,
			MaxNetQuantity:   1000,
			MaxLongQuantity:  1000,
			MaxShortQuantity: 1000,
		},
		SharesPerLot:       100,
		MaxTotalExposure:   5_000_000,
		MaxOpenPositions:   50,
		MaxOrdersPerMinute: 10,
		MaxOrdersPerHour:   100,
		MaxOrdersPerDay:    500,
		DailyLossLimit:     50_000,
		MaxDrawdown:        0.05,
	}
}

// SymbolExposure is the committed exposure for one symbol.
type SymbolExposure struct {
	NetQuantity   int     `json:"net_quantity"`
	LongQuantity  int     `json:"long_quantity"`
	ShortQuantity int     `json:"short_quantity"`
	Lots          float64 `json:"lots"`
	Notional      float64 `json:"notional"`
	LastPrice     float64 `json:"last_price"`
}

func (e SymbolExposure) project(sig models.SignalType, qty int, price float64, sharesPerLot int) SymbolExposure {
	next := e
	if sig.Direction() > 0 {
		next.LongQuantity += qty
		next.NetQuantity += qty
	} else {
		next.ShortQuantity += qty
		next.NetQuantity -= qty
	}
	next.LastPrice = price
	abs := math.Abs(float64(next.NetQuantity))
	next.Lots = abs / float64(sharesPerLot)
	next.Notional = abs * price
	return next
}

// BreakerState is a tripped-or-not flag with the reason it tripped.
type BreakerState struct {
	Active    bool      `json:"active"`
	Reason    string    `json:"reason,omitempty"`
	TrippedAt time.Time `json:"tripped_at,omitempty"`
}

// Limits enforces order-level exposure, rate and loss limits.
type Limits struct {
	cfg LimitsConfig
	now func() time.Time

	mu          sync.Mutex
	exposure    map[string]SymbolExposure
	orderTimes  []time.Time
	dailyOrders int
	day         time.Time

	dailyLoss float64
	dailyPnL  float64
	peakPnL   float64
	troughPnL float64
	breaker   BreakerState
}

func NewLimits(cfg LimitsConfig, now func() time.Time) *Limits {
	if now == nil {
		now = time.Now
	}
	if cfg.SharesPerLot <= 0 {
		cfg.SharesPerLot = 100
	}
	return &Limits{
		cfg:      cfg,
		now:      now,
		exposure: make(map[string]SymbolExposure),
		day:      dayOf(now()),
	}
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// rollDayLocked resets daily counters and P&L tracking on a new calendar day.
// A tripped breaker survives the rollover.
func (l *Limits) rollDayLocked(now time.Time) {
	today := dayOf(now)
	if !today.After(l.day) {
		return
	}
	l.day = today
	l.dailyOrders = 0
	l.dailyLoss = 0
	l.dailyPnL = 0
	l.peakPnL = 0
	l.troughPnL = 0
}

func (l *Limits) limitsFor(symbol string) ExposureLimits {
	if lim, ok := l.cfg.Symbols[symbol]; ok {
		return lim
	}
	return l.cfg.Default
}

// SetSymbolLimits overrides the exposure limits for one symbol.
func (l *Limits) SetSymbolLimits(symbol string, lim ExposureLimits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cfg.Symbols == nil {
		l.cfg.Symbols = make(map[string]ExposureLimits)
	}
	l.cfg.Symbols[symbol] = lim
}

// CheckOrder evaluates an order without committing it.
func (l *Limits) CheckOrder(symbol string, sig models.SignalType, qty int, price float64) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollDayLocked(now)

	if l.breaker.Active {
		return false, "Circuit breaker active: " + l.breaker.Reason
	}

	perMinute, perHour := l.recentOrdersLocked(now)
	if perMinute >= l.cfg.MaxOrdersPerMinute {
		return false, "Orders per minute limit exceeded"
	}
	if perHour >= l.cfg.MaxOrdersPerHour {
		return false, "Orders per hour limit exceeded"
	}
	if l.dailyOrders >= l.cfg.MaxOrdersPerDay {
		return false, "Orders per day limit exceeded"
	}

	lim := l.limitsFor(symbol)
	cur := l.exposure[symbol]
	next := cur.project(sig, qty, price, l.cfg.SharesPerLot)

	if next.Lots > lim.MaxLots {
		return false, fmt.Sprintf("Symbol lot limit exceeded: %.2f > %.2f", next.Lots, lim.MaxLots)
	}
	if next.Notional > lim.MaxNotional {
		return false, fmt.Sprintf("Symbol notional limit exceeded: %.2f > %.2f", next.Notional, lim.MaxNotional)
	}
	if absInt(next.NetQuantity) > lim.MaxNetQuantity {
		return false, fmt.Sprintf("Net quantity limit exceeded: %d > %d", absInt(next.NetQuantity), lim.MaxNetQuantity)
	}
	if next.LongQuantity > lim.MaxLongQuantity {
		return false, fmt.Sprintf("Long quantity limit exceeded: %d > %d", next.LongQuantity, lim.MaxLongQuantity)
	}
	if next.ShortQuantity > lim.MaxShortQuantity {
		return false, fmt.Sprintf("Short quantity limit exceeded: %d > %d", next.ShortQuantity, lim.MaxShortQuantity)
	}

	total := l.totalExposureLocked() - cur.Notional + next.Notional
	if total > l.cfg.MaxTotalExposure {
		return false, fmt.Sprintf("Portfolio exposure limit exceeded: %.2f > %.2f", total, l.cfg.MaxTotalExposure)
	}

	if cur.NetQuantity == 0 && next.NetQuantity != 0 && l.openPositionsLocked()+1 > l.cfg.MaxOpenPositions {
		return false, "Max open positions limit exceeded"
	}

	return true, "Order limits check passed"
}

func (l *Limits) recentOrdersLocked(now time.Time) (perMinute, perHour int) {
	cutoff := now.Add(-time.Hour)
	keep := l.orderTimes[:0]
	for _, t := range l.orderTimes {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	l.orderTimes = keep
	minute := now.Add(-time.Minute)
	for _, t := range l.orderTimes {
		if t.After(minute) {
			perMinute++
		}
	}
	return perMinute, len(l.orderTimes)
}

func (l *Limits) totalExposureLocked() float64 {
	var total float64
	for _, e := range l.exposure {
		total += e.Notional
	}
	return total
}

func (l *Limits) openPositionsLocked() int {
	n := 0
	for _, e := range l.exposure {
		if e.NetQuantity != 0 {
			n++
		}
	}
	return n
}

// RecordOrder counts an order against the rate windows.
func (l *Limits) RecordOrder() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.rollDayLocked(now)
	l.orderTimes = append(l.orderTimes, now)
	l.dailyOrders++
}

// UpdateExposure commits a filled order's projection.
func (l *Limits) UpdateExposure(symbol string, sig models.SignalType, qty int, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exposure[symbol] = l.exposure[symbol].project(sig, qty, price, l.cfg.SharesPerLot)
}

// UpdatePnL folds a P&L increment into the day's loss and drawdown tracking.
// It returns true when this update tripped the breaker.
func (l *Limits) UpdatePnL(realized, unrealized float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollDayLocked(now)

	l.dailyLoss += math.Min(0, realized)
	l.dailyPnL += realized + unrealized
	l.peakPnL = math.Max(l.peakPnL, l.dailyPnL)
	l.troughPnL = math.Min(l.troughPnL, l.dailyPnL)

	if l.breaker.Active {
		return false
	}
	if -l.dailyLoss > l.cfg.DailyLossLimit {
		l.trip(now, fmt.Sprintf("Daily loss limit exceeded: %.2f > %.2f", -l.dailyLoss, l.cfg.DailyLossLimit))
		return true
	}
	if l.peakPnL > 0 {
		dd := (l.peakPnL - l.dailyPnL) / l.peakPnL
		if dd > l.cfg.MaxDrawdown {
			l.trip(now, fmt.Sprintf("Max drawdown exceeded: %.2f%% > %.2f%%", dd*100, l.cfg.MaxDrawdown*100))
			return true
		}
	}
	return false
}

func (l *Limits) trip(now time.Time, reason string) {
	l.breaker = BreakerState{Active: true, Reason: reason, TrippedAt: now}
}

// ResetCircuitBreaker clears the order-level breaker.
func (l *Limits) ResetCircuitBreaker() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.breaker = BreakerState{}
}

type ExposureSummary struct {
	Symbols        map[string]SymbolExposure `json:"symbols"`
	TotalExposure  float64                   `json:"total_exposure"`
	OpenPositions  int                       `json:"open_positions"`
	OrdersLastMin  int                       `json:"orders_last_minute"`
	OrdersLastHour int                       `json:"orders_last_hour"`
	OrdersToday    int                       `json:"orders_today"`
	DailyLoss      float64                   `json:"daily_loss"`
	DailyPnL       float64                   `json:"daily_pnl"`
	CircuitBreaker BreakerState              `json:"circuit_breaker"`
}

func (l *Limits) ExposureSummary() ExposureSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.rollDayLocked(now)
	perMinute, perHour := l.recentOrdersLocked(now)
	symbols := make(map[string]SymbolExposure, len(l.exposure))
	for k, v := range l.exposure {
		symbols[k] = v
	}
	return ExposureSummary{
		Symbols:        symbols,
		TotalExposure:  l.totalExposureLocked(),
		OpenPositions:  l.openPositionsLocked(),
		OrdersLastMin:  perMinute,
		OrdersLastHour: perHour,
		OrdersToday:    l.dailyOrders,
		DailyLoss:      l.dailyLoss,
		DailyPnL:       l.dailyPnL,
		CircuitBreaker: l.breaker,
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
