package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
)

func TestPortfolioDailyLossBreaker(t *testing.T) {
	p := NewPortfolioManager(DefaultPortfolioConfig(), newFakeClock().Now)

	p.UpdatePnL(-60_000, 0)

	ok, reason := p.IsTradingAllowed()
	assert.False(t, ok)
	assert.Contains(t, reason, "Daily loss")
	assert.True(t, p.RiskSummary().CircuitBreakers[BreakerDailyLoss].Active)
}

func TestPortfolioProfitsNeverTripLossBreakers(t *testing.T) {
	p := NewPortfolioManager(DefaultPortfolioConfig(), newFakeClock().Now)

	p.UpdatePnL(900_000, 0)

	ok, _ := p.IsTradingAllowed()
	assert.True(t, ok)
}

func TestPortfolioLeverageAndConcentration(t *testing.T) {
	tests := []struct {
		name      string
		equity    float64
		positions map[string]models.PositionSnapshot
		want      string
	}{
		{
			name:   "gross leverage",
			equity: 100_000,
			positions: map[string]models.PositionSnapshot{
				"AAA": {NetQuantity: 1_000, AveragePrice: 250},
			},
			want: "Gross leverage exceeded",
		},
		{
			name:   "single position",
			equity: 1_000_000,
			positions: map[string]models.PositionSnapshot{
				"AAA": {NetQuantity: 1_000, AveragePrice: 200, Sector: "Energy"},
			},
			want: "Single position concentration exceeded",
		},
		{
			name:   "sector",
			equity: 1_000_000,
			positions: map[string]models.PositionSnapshot{
				"AAA": {NetQuantity: 1_000, AveragePrice: 140, Sector: "Banks"},
				"BBB": {NetQuantity: -1_000, AveragePrice: 140, Sector: "Banks"},
			},
			want: "Sector concentration exceeded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPortfolioManager(DefaultPortfolioConfig(), newFakeClock().Now)
			p.UpdatePortfolioState(tt.positions, tt.equity/2, tt.equity)

			ok, reason := p.IsTradingAllowed()
			assert.False(t, ok)
			assert.Contains(t, reason, tt.want)
		})
	}
}

func TestPortfolioSoftBreakerAutoReset(t *testing.T) {
	tests := []struct {
		name    string
		breaker string
		pnl     []float64
		want    string
	}{
		{name: "daily loss", breaker: BreakerDailyLoss, pnl: []float64{-60_000}, want: "Daily loss"},
		{name: "drawdown", breaker: BreakerDrawdown, pnl: []float64{10_000, -1_000}, want: "drawdown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			cfg := DefaultPortfolioConfig()
			cfg.AutoResetSoftBreakers = true
			cfg.AutoResetAfter = time.Minute
			p := NewPortfolioManager(cfg, clock.Now)

			for _, v := range tt.pnl {
				p.UpdatePnL(v, 0)
			}
			ok, reason := p.IsTradingAllowed()
			assert.False(t, ok)
			assert.Contains(t, reason, tt.want)

			clock.Advance(2 * time.Hour)
			ok, reason = p.IsTradingAllowed()
			assert.True(t, ok, reason)
			assert.False(t, p.RiskSummary().CircuitBreakers[tt.breaker].Active)
		})
	}
}

func TestPortfolioHardBreakerIgnoresAutoReset(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultPortfolioConfig()
	cfg.AutoResetSoftBreakers = true
	cfg.AutoResetAfter = time.Minute
	p := NewPortfolioManager(cfg, clock.Now)

	p.UpdatePortfolioState(map[string]models.PositionSnapshot{
		"AAA": {NetQuantity: 1_000, AveragePrice: 200},
	}, 500_000, 1_000_000)

	clock.Advance(2 * time.Hour)
	ok, reason := p.IsTradingAllowed()
	assert.False(t, ok)
	assert.Contains(t, reason, "concentration")

	require.NoError(t, p.ResetCircuitBreaker(BreakerConcentration))
	ok, _ = p.IsTradingAllowed()
	assert.True(t, ok)
}

func TestPortfolioManualResetRequiredByDefault(t *testing.T) {
	clock := newFakeClock()
	p := NewPortfolioManager(DefaultPortfolioConfig(), clock.Now)
	p.UpdatePortfolioState(map[string]models.PositionSnapshot{
		"AAA": {NetQuantity: 1_000, AveragePrice: 200},
	}, 500_000, 1_000_000)

	clock.Advance(48 * time.Hour)
	ok, _ := p.IsTradingAllowed()
	assert.False(t, ok)

	p.ResetAll()
	ok, _ = p.IsTradingAllowed()
	assert.True(t, ok)
}

func TestPortfolioDrawdown(t *testing.T) {
	p := NewPortfolioManager(DefaultPortfolioConfig(), newFakeClock().Now)

	p.UpdatePnL(10_000, 0)
	p.UpdatePnL(-500, 0)

	sum := p.RiskSummary()
	assert.InDelta(t, 0.05, sum.Metrics.Drawdown, 1e-9)
	ok, reason := p.IsTradingAllowed()
	assert.False(t, ok)
	assert.Contains(t, reason, "Intraday drawdown exceeded")
}

func TestPortfolioResetUnknownBreaker(t *testing.T) {
	p := NewPortfolioManager(DefaultPortfolioConfig(), nil)
	assert.Error(t, p.ResetCircuitBreaker("volcano"))
}

func TestPortfolioWeeklyWindowRolls(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultPortfolioConfig()
	cfg.DailyLossLimit = 1e12
	p := NewPortfolioManager(cfg, clock.Now)

	p.UpdatePnL(-150_000, 0)
	clock.Advance(8 * 24 * time.Hour)
	p.UpdatePnL(-100_000, 0)

	assert.InDelta(t, -100_000, p.RiskSummary().Metrics.WeeklyPnL, 1e-9)
	assert.False(t, p.RiskSummary().CircuitBreakers[BreakerWeeklyLoss].Active)
}
