package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
)

// Portfolio breaker names, in evaluation order.
const (
	BreakerDailyLoss     = "daily_loss"
	BreakerWeeklyLoss    = "weekly_loss"
	BreakerMonthlyLoss   = "monthly_loss"
	BreakerDrawdown      = "drawdown"
	BreakerLeverage      = "leverage"
	BreakerConcentration = "concentration"
)

var portfolioBreakerOrder = []string{
	BreakerDailyLoss,
	BreakerWeeklyLoss,
	BreakerMonthlyLoss,
	BreakerDrawdown,
	BreakerLeverage,
	BreakerConcentration,
}

// softBreakers may auto-reset after AutoResetAfter when enabled.
var softBreakers = map[string]bool{
	BreakerDailyLoss: true,
	BreakerDrawdown:  true,
}

const unknownSector = "Unknown"

type PortfolioConfig struct {
	DailyLossLimit       float64 `yaml:"daily_loss_limit" json:"daily_loss_limit" default:"50000"`
	WeeklyLossLimit      float64 `yaml:"weekly_loss_limit" json:"weekly_loss_limit" default:"200000"`
	MonthlyLossLimit     float64 `yaml:"monthly_loss_limit" json:"monthly_loss_limit" default:"500000"`
	MaxIntradayDrawdown  float64 `yaml:"max_intraday_drawdown" json:"max_intraday_drawdown" default:"0.03"`
	MaxPortfolioDrawdown float64 `yaml:"max_portfolio_drawdown" json:"max_portfolio_drawdown" default:"0.10"`

	MaxGrossLeverage        float64 `yaml:"max_gross_leverage" json:"max_gross_leverage" default:"2.0"`
	MaxNetLeverage          float64 `yaml:"max_net_leverage" json:"max_net_leverage" default:"1.5"`
	MaxSinglePositionWeight float64 `yaml:"max_single_position_weight" json:"max_single_position_weight" default:"0.15"`
	MaxSectorConcentration  float64 `yaml:"max_sector_concentration" json:"max_sector_concentration" default:"0.25"`

	// AutoResetSoftBreakers lets the daily-loss and drawdown breakers clear
	// themselves after AutoResetAfter. The other breakers always need an
	// explicit reset.
	AutoResetSoftBreakers bool          `yaml:"auto_reset_soft_breakers" json:"auto_reset_soft_breakers"`
	AutoResetAfter        time.Duration `yaml:"auto_reset_after" json:"auto_reset_after" default:"1h"`
}

func DefaultPortfolioConfig() PortfolioConfig {
	return PortfolioConfig{
		DailyLossLimit:          50_000,
		WeeklyLossLimit:         200_000,
		MonthlyLossLimit:        500_000,
		MaxIntradayDrawdown:     0.03,
		MaxPortfolioDrawdown:    0.10,
		MaxGrossLeverage:        2.0,
		MaxNetLeverage:          1.5,
		MaxSinglePositionWeight: 0.15,
		MaxSectorConcentration:  0.25,
		AutoResetAfter:          time.Hour,
	}
}

type PortfolioMetrics struct {
	TotalEquity     float64            `json:"total_equity"`
	CashBalance     float64            `json:"cash_balance"`
	GrossExposure   float64            `json:"gross_exposure"`
	NetExposure     float64            `json:"net_exposure"`
	GrossLeverage   float64            `json:"gross_leverage"`
	NetLeverage     float64            `json:"net_leverage"`
	DailyPnL        float64            `json:"daily_pnl"`
	WeeklyPnL       float64            `json:"weekly_pnl"`
	MonthlyPnL      float64            `json:"monthly_pnl"`
	CumulativePnL   float64            `json:"cumulative_pnl"`
	PeakPnL         float64            `json:"peak_pnl"`
	Drawdown        float64            `json:"drawdown"`
	MaxDrawdown     float64            `json:"max_drawdown"`
	PositionWeights map[string]float64 `json:"position_weights"`
	SectorWeights   map[string]float64 `json:"sector_weights"`
}

// PortfolioManager owns the portfolio-wide loss, drawdown, leverage and
// concentration breakers.
type PortfolioManager struct {
	cfg PortfolioConfig
	now func() time.Time

	mu       sync.Mutex
	m        PortfolioMetrics
	breakers map[string]BreakerState
	day      time.Time
	weekYear int
	week     int
	month    time.Month
	year     int

	onTrip func(name, reason string)
}

func NewPortfolioManager(cfg PortfolioConfig, now func() time.Time) *PortfolioManager {
	if now == nil {
		now = time.Now
	}
	t := now()
	wy, w := t.ISOWeek()
	p := &PortfolioManager{
		cfg:      cfg,
		now:      now,
		breakers: make(map[string]BreakerState, len(portfolioBreakerOrder)),
		day:      dayOf(t),
		weekYear: wy,
		week:     w,
		month:    t.Month(),
		year:     t.Year(),
	}
	p.m.PositionWeights = map[string]float64{}
	p.m.SectorWeights = map[string]float64{}
	return p
}

// OnTrip registers a callback invoked (under the manager's lock) for every trip.
func (p *PortfolioManager) OnTrip(fn func(name, reason string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrip = fn
}

func (p *PortfolioManager) rollWindowsLocked(now time.Time) {
	if today := dayOf(now); today.After(p.day) {
		p.day = today
		p.m.DailyPnL = 0
	}
	if wy, w := now.ISOWeek(); wy != p.weekYear || w != p.week {
		p.weekYear, p.week = wy, w
		p.m.WeeklyPnL = 0
	}
	if now.Year() != p.year || now.Month() != p.month {
		p.year, p.month = now.Year(), now.Month()
		p.m.MonthlyPnL = 0
	}
}

// UpdatePortfolioState recomputes exposure, leverage and concentration and
// re-checks every breaker.
func (p *PortfolioManager) UpdatePortfolioState(positions map[string]models.PositionSnapshot, cash, equity float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.rollWindowsLocked(now)

	p.m.TotalEquity = equity
	p.m.CashBalance = cash

	var long, short float64
	notionals := make(map[string]float64, len(positions))
	sectors := make(map[string]float64)
	for symbol, pos := range positions {
		n := pos.Notional()
		if n == 0 {
			continue
		}
		if pos.NetQuantity > 0 {
			long += n
		} else {
			short += n
		}
		notionals[symbol] = n
		sector := pos.Sector
		if sector == "" {
			sector = unknownSector
		}
		sectors[sector] += n
	}

	p.m.GrossExposure = long + short
	p.m.NetExposure = math.Abs(long - short)
	p.m.PositionWeights = make(map[string]float64, len(notionals))
	p.m.SectorWeights = make(map[string]float64, len(sectors))
	if equity > 0 {
		p.m.GrossLeverage = p.m.GrossExposure / equity
		p.m.NetLeverage = p.m.NetExposure / equity
		for s, n := range notionals {
			p.m.PositionWeights[s] = n / equity
		}
		for s, n := range sectors {
			p.m.SectorWeights[s] = n / equity
		}
	} else {
		p.m.GrossLeverage = 0
		p.m.NetLeverage = 0
	}

	p.checkAllLocked(now)
}

// UpdatePnL folds a P&L increment into the daily, weekly and monthly windows
// and the running drawdown.
func (p *PortfolioManager) UpdatePnL(realized, unrealized float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.rollWindowsLocked(now)

	delta := realized + unrealized
	p.m.DailyPnL += delta
	p.m.WeeklyPnL += delta
	p.m.MonthlyPnL += delta
	p.m.CumulativePnL += delta
	p.m.PeakPnL = math.Max(p.m.PeakPnL, p.m.CumulativePnL)
	if p.m.PeakPnL > 0 {
		p.m.Drawdown = (p.m.PeakPnL - p.m.CumulativePnL) / p.m.PeakPnL
	} else {
		p.m.Drawdown = 0
	}
	p.m.MaxDrawdown = math.Max(p.m.MaxDrawdown, p.m.Drawdown)

	p.checkAllLocked(now)
}

func (p *PortfolioManager) checkAllLocked(now time.Time) {
	if loss := -p.m.DailyPnL; loss > p.cfg.DailyLossLimit {
		p.tripLocked(now, BreakerDailyLoss, fmt.Sprintf("Daily loss limit exceeded: %.2f > %.2f", loss, p.cfg.DailyLossLimit))
	}
	if loss := -p.m.WeeklyPnL; loss > p.cfg.WeeklyLossLimit {
		p.tripLocked(now, BreakerWeeklyLoss, fmt.Sprintf("Weekly loss limit exceeded: %.2f > %.2f", loss, p.cfg.WeeklyLossLimit))
	}
	if loss := -p.m.MonthlyPnL; loss > p.cfg.MonthlyLossLimit {
		p.tripLocked(now, BreakerMonthlyLoss, fmt.Sprintf("Monthly loss limit exceeded: %.2f > %.2f", loss, p.cfg.MonthlyLossLimit))
	}
	if p.m.Drawdown > p.cfg.MaxIntradayDrawdown {
		p.tripLocked(now, BreakerDrawdown, fmt.Sprintf("Intraday drawdown exceeded: %.2f%% > %.2f%%", p.m.Drawdown*100, p.cfg.MaxIntradayDrawdown*100))
	} else if p.m.MaxDrawdown > p.cfg.MaxPortfolioDrawdown {
		p.tripLocked(now, BreakerDrawdown, fmt.Sprintf("Portfolio drawdown exceeded: %.2f%% > %.2f%%", p.m.MaxDrawdown*100, p.cfg.MaxPortfolioDrawdown*100))
	}
	if p.m.GrossLeverage > p.cfg.MaxGrossLeverage {
		p.tripLocked(now, BreakerLeverage, fmt.Sprintf("Gross leverage exceeded: %.2f > %.2f", p.m.GrossLeverage, p.cfg.MaxGrossLeverage))
	} else if p.m.NetLeverage > p.cfg.MaxNetLeverage {
		p.tripLocked(now, BreakerLeverage, fmt.Sprintf("Net leverage exceeded: %.2f > %.2f", p.m.NetLeverage, p.cfg.MaxNetLeverage))
	}
	for symbol, w := range p.m.PositionWeights {
		if w > p.cfg.MaxSinglePositionWeight {
			p.tripLocked(now, BreakerConcentration, fmt.Sprintf("Single position concentration exceeded: %s %.2f%% > %.2f%%", symbol, w*100, p.cfg.MaxSinglePositionWeight*100))
			return
		}
	}
	for sector, w := range p.m.SectorWeights {
		if w > p.cfg.MaxSectorConcentration {
			p.tripLocked(now, BreakerConcentration, fmt.Sprintf("Sector concentration exceeded: %s %.2f%% > %.2f%%", sector, w*100, p.cfg.MaxSectorConcentration*100))
			return
		}
	}
}

func (p *PortfolioManager) tripLocked(now time.Time, name, reason string) {
	if p.breakers[name].Active {
		return
	}
	p.breakers[name] = BreakerState{Active: true, Reason: reason, TrippedAt: now}
	if p.onTrip != nil {
		p.onTrip(name, reason)
	}
}

// IsTradingAllowed returns the first active breaker's reason, if any.
func (p *PortfolioManager) IsTradingAllowed() (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.cfg.AutoResetSoftBreakers {
		for name, st := range p.breakers {
			if st.Active && softBreakers[name] && now.Sub(st.TrippedAt) >= p.cfg.AutoResetAfter {
				delete(p.breakers, name)
			}
		}
	}

	for _, name := range portfolioBreakerOrder {
		if st := p.breakers[name]; st.Active {
			return false, st.Reason
		}
	}
	return true, "Trading allowed"
}

// ResetCircuitBreaker clears one named breaker.
func (p *PortfolioManager) ResetCircuitBreaker(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	known := false
	for _, n := range portfolioBreakerOrder {
		if n == name {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown portfolio circuit breaker %q", name)
	}
	delete(p.breakers, name)
	return nil
}

// ResetAll clears every portfolio breaker.
func (p *PortfolioManager) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breakers = make(map[string]BreakerState, len(portfolioBreakerOrder))
}

type PortfolioRiskSummary struct {
	Metrics         PortfolioMetrics        `json:"metrics"`
	CircuitBreakers map[string]BreakerState `json:"circuit_breakers"`
	TradingAllowed  bool                    `json:"trading_allowed"`
	Limits          PortfolioConfig         `json:"limits"`
}

func (p *PortfolioManager) RiskSummary() PortfolioRiskSummary {
	allowed, _ := p.IsTradingAllowed()

	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.m
	m.PositionWeights = copyWeights(p.m.PositionWeights)
	m.SectorWeights = copyWeights(p.m.SectorWeights)
	breakers := make(map[string]BreakerState, len(portfolioBreakerOrder))
	for _, n := range portfolioBreakerOrder {
		breakers[n] = p.breakers[n]
	}
	return PortfolioRiskSummary{Metrics: m, CircuitBreakers: breakers, TradingAllowed: allowed, Limits: p.cfg}
}

func copyWeights(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
