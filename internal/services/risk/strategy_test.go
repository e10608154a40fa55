package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
)

func newStrategyManager(t *testing.T, clock *fakeClock, mutate func(*StrategyRiskConfig)) *StrategyManager {
	t.Helper()
	s := NewStrategyManager(clock.Now)
	cfg := DefaultStrategyRiskConfig("trend", models.TF1h)
	if mutate != nil {
		mutate(&cfg)
	}
	s.Register(cfg)
	return s
}

func trade(symbol string, sig models.SignalType, pnl float64) TradeRecord {
	return TradeRecord{Symbol: symbol, SignalType: sig, Quantity: 10, Price: 100, PnL: pnl, Success: true}
}

func TestStrategyUnregistered(t *testing.T) {
	s := NewStrategyManager(nil)
	ok, reason := s.CheckLimits("ghost", "ACME")
	assert.False(t, ok)
	assert.Equal(t, "Strategy ghost not registered", reason)
	assert.ErrorIs(t, s.UpdateTrade("ghost", trade("ACME", models.SignalBuy, 0)), models.ErrStrategyNotRegistered)
}

func TestStrategyPositionsPerSymbol(t *testing.T) {
	s := newStrategyManager(t, newFakeClock(), nil)

	require.NoError(t, s.UpdateTrade("trend", trade("ACME", models.SignalBuy, 0)))
	ok, reason := s.CheckLimits("trend", "ACME")
	assert.False(t, ok)
	assert.Contains(t, reason, "Max positions per symbol exceeded")

	ok, _ = s.CheckLimits("trend", "OTHER")
	assert.True(t, ok)

	require.NoError(t, s.UpdateTrade("trend", trade("ACME", models.SignalSell, 5)))
	ok, _ = s.CheckLimits("trend", "ACME")
	assert.True(t, ok)
}

func TestStrategyAdaptiveRiskDecreasesOnLosses(t *testing.T) {
	s := newStrategyManager(t, newFakeClock(), nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.UpdateTrade("trend", trade("ACME", models.SignalSell, -10)))
	}

	sum, ok := s.Summary("trend")
	require.True(t, ok)
	assert.InDelta(t, 0.01, sum.CurrentRisk, 1e-12)
	assert.InDelta(t, 0.01, s.SizingParams("trend", DefaultSizingParams()).RiskPerTrade, 1e-12)

	allowed, reason := s.CheckLimits("trend", "ACME")
	assert.False(t, allowed)
	assert.Contains(t, reason, "Win rate too low")
}

func TestStrategyAdaptiveRiskIncreaseIsCapped(t *testing.T) {
	s := newStrategyManager(t, newFakeClock(), nil)

	for i := 0; i < 12; i++ {
		require.NoError(t, s.UpdateTrade("trend", trade("ACME", models.SignalSell, 50)))
	}

	sum, _ := s.Summary("trend")
	assert.InDelta(t, 0.02, sum.CurrentRisk, 1e-12)
	assert.InDelta(t, 1.0, sum.WinRate, 1e-12)
}

func TestStrategyFixedRiskIgnoresPerformance(t *testing.T) {
	s := newStrategyManager(t, newFakeClock(), func(c *StrategyRiskConfig) { c.FixedRisk = true })

	for i := 0; i < 10; i++ {
		require.NoError(t, s.UpdateTrade("trend", trade("ACME", models.SignalSell, -10)))
	}
	sum, _ := s.Summary("trend")
	assert.InDelta(t, 0.02, sum.CurrentRisk, 1e-12)
}

func TestStrategyDailyLossBreaker(t *testing.T) {
	s := newStrategyManager(t, newFakeClock(), nil)

	require.NoError(t, s.UpdateTrade("trend", trade("ACME", models.SignalSell, -20_000)))

	ok, reason := s.CheckLimits("trend", "ACME")
	assert.False(t, ok)
	assert.Contains(t, reason, "Strategy circuit breaker active")

	require.NoError(t, s.ResetCircuitBreaker("trend"))
	ok, reason = s.CheckLimits("trend", "ACME")
	assert.False(t, ok)
	assert.Contains(t, reason, "Daily loss limit exceeded")
}

func TestStrategyTradeCountersRoll(t *testing.T) {
	clock := newFakeClock()
	s := newStrategyManager(t, clock, func(c *StrategyRiskConfig) {
		c.MaxTradesPerDay = 2
		c.MaxTradesPerWeek = 3
	})

	require.NoError(t, s.UpdateTrade("trend", trade("ACME", models.SignalSell, 1)))
	require.NoError(t, s.UpdateTrade("trend", trade("ACME", models.SignalSell, 1)))
	ok, reason := s.CheckLimits("trend", "ACME")
	assert.False(t, ok)
	assert.Contains(t, reason, "Daily trade limit exceeded")

	clock.Advance(24 * time.Hour)
	ok, _ = s.CheckLimits("trend", "ACME")
	assert.True(t, ok)

	require.NoError(t, s.UpdateTrade("trend", trade("ACME", models.SignalSell, 1)))
	ok, reason = s.CheckLimits("trend", "ACME")
	assert.False(t, ok)
	assert.Contains(t, reason, "Weekly trade limit exceeded")

	clock.Advance(7 * 24 * time.Hour)
	ok, _ = s.CheckLimits("trend", "ACME")
	assert.True(t, ok)
}

func TestStrategyAllSummariesSorted(t *testing.T) {
	s := NewStrategyManager(nil)
	s.Register(DefaultStrategyRiskConfig("zeta", models.TF5m))
	s.Register(DefaultStrategyRiskConfig("alpha", models.TF1h))

	all := s.AllSummaries()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, "zeta", all[1].Name)
}
