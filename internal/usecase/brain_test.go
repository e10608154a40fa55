package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/risk"
	"SignalGate/internal/services/timeframe"
)

type fakePublisher struct {
	mu      sync.Mutex
	intents []models.OrderIntent
	events  []models.RiskEvent
	err     error
}

func (p *fakePublisher) PublishIntent(_ context.Context, in *models.OrderIntent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.intents = append(p.intents, *in)
	return nil
}

func (p *fakePublisher) PublishRiskEvent(_ context.Context, e *models.RiskEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *e)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) published() []models.OrderIntent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.OrderIntent(nil), p.intents...)
}

type fixture struct {
	now   time.Time
	brain *Brain
	risk  *risk.Manager
	tf    *timeframe.Manager
	pub   *fakePublisher
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T, equity float64) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), pub: &fakePublisher{}}
	f.risk = risk.NewManager(risk.DefaultManagerConfig(), risk.WithClock(f.clock), risk.WithNotifier(f.pub))
	f.tf = timeframe.NewManager(timeframe.WithClock(f.clock))
	f.brain = NewBrain("test", f.tf, f.risk, f.pub, time.Second, WithBrainClock(f.clock))
	f.brain.HandleFundsUpdate(context.Background(), models.FundsUpdate{TotalEquity: equity, AvailableMargin: equity})
	return f
}

func inbound(tf models.Timeframe, sig models.SignalType, qty int, price float64) models.InboundSignal {
	return models.InboundSignal{
		StrategyName: "trend",
		Symbol:       "ACME",
		Timeframe:    tf,
		SignalType:   sig,
		Quantity:     qty,
		Price:        price,
	}
}

func withConfidence(in models.InboundSignal, c float64) models.InboundSignal {
	in.Confidence = &c
	return in
}

func TestBrainDeclinesUnregisteredStrategy(t *testing.T) {
	f := newFixture(t, 1_000_000)

	d, err := f.brain.ProcessSignal(context.Background(), inbound(models.TF1h, models.SignalBuy, 10, 100))

	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, LayerRegistry, d.Layer)
	assert.Contains(t, d.Reason, "not registered")
	assert.Empty(t, f.pub.published())
}

func TestBrainDeclinesInactiveStrategy(t *testing.T) {
	f := newFixture(t, 1_000_000)
	f.brain.RegisterStrategy("trend", models.TF1h, "ACME", nil)
	require.True(t, f.brain.DeactivateStrategy("trend", models.TF1h, "ACME"))
	assert.False(t, f.brain.DeactivateStrategy("trend", models.TF4h, "ACME"))

	d, err := f.brain.ProcessSignal(context.Background(), inbound(models.TF1h, models.SignalBuy, 10, 100))

	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Contains(t, d.Reason, "not active")

	require.True(t, f.brain.ActivateStrategy("trend", models.TF1h, "ACME"))
	d, err = f.brain.ProcessSignal(context.Background(), inbound(models.TF1h, models.SignalBuy, 10, 100))
	require.NoError(t, err)
	assert.True(t, d.Accepted, d.Reason)
}

func TestBrainSingleTimeframeEmitsSizedIntent(t *testing.T) {
	f := newFixture(t, 1_000_000)
	f.brain.RegisterStrategy("trend", models.TF1h, "ACME", map[string]any{"fast": 10})

	d, err := f.brain.ProcessSignal(context.Background(), inbound(models.TF1h, models.SignalBuy, 50, 100))

	require.NoError(t, err)
	require.True(t, d.Accepted, d.Reason)
	require.NotNil(t, d.Intent)
	assert.Equal(t, 200, d.Intent.Quantity)
	assert.Equal(t, 50, d.Intent.OriginalQuantity)
	assert.Equal(t, "brain.test", d.Intent.Source)
	assert.NotEmpty(t, d.Intent.ID)
	assert.NotEmpty(t, d.Intent.LockID)
	assert.Nil(t, d.Intent.MultiTimeframe)

	intents := f.pub.published()
	require.Len(t, intents, 1)
	assert.Equal(t, d.Intent.ID, intents[0].ID)

	_, available, used := f.risk.Margin()
	assert.InDelta(t, 980_000, available, 1e-6)
	assert.InDelta(t, 20_000, used, 1e-6)

	st, ok := f.brain.Strategy("trend", models.TF1h, "ACME")
	require.True(t, ok)
	assert.Equal(t, 1, st.SignalsGenerated)
	assert.Equal(t, 1, f.brain.State().SignalsProcessed)
}

func TestBrainDeclinesMissingPriceAtSizing(t *testing.T) {
	f := newFixture(t, 1_000_000)
	f.brain.RegisterStrategy("trend", models.TF1h, "ACME", nil)

	d, err := f.brain.ProcessSignal(context.Background(), inbound(models.TF1h, models.SignalBuy, 50, 0))

	require.NoError(t, err)
	assert.Equal(t, LayerSizing, d.Layer)
	assert.Equal(t, "invalid price for position sizing", d.Reason)
	assert.Empty(t, f.pub.published())
}

func TestBrainValidation(t *testing.T) {
	f := newFixture(t, 1_000_000)
	f.brain.RegisterStrategy("trend", models.TF1h, "ACME", nil)

	d, err := f.brain.ProcessSignal(context.Background(), inbound(models.TF1h, models.SignalBuy, 0, 100))
	require.NoError(t, err)
	assert.Equal(t, LayerValidation, d.Layer)

	d, err = f.brain.ProcessSignal(context.Background(), inbound(models.TF1h, "HOLD", 10, 100))
	require.NoError(t, err)
	assert.Equal(t, LayerValidation, d.Layer)
	assert.Contains(t, d.Reason, "invalid signal type")

	f.brain.RegisterStrategyValidator("trend", models.TF1h, "ACME", func(sig models.TimeframeSignal) (bool, string) {
		if sig.Price > 50 {
			return false, "price above band"
		}
		return true, ""
	})
	d, err = f.brain.ProcessSignal(context.Background(), inbound(models.TF1h, models.SignalBuy, 10, 100))
	require.NoError(t, err)
	assert.Equal(t, "price above band", d.Reason)
	assert.Empty(t, f.pub.published())
}

func TestBrainInsufficientMarginDeclinesAtApproval(t *testing.T) {
	f := newFixture(t, 1_000_000)
	f.brain.RegisterStrategy("trend", models.TF1h, "ACME", nil)
	f.risk.UpdateFunds(context.Background(), models.FundsUpdate{TotalEquity: 1_000_000, AvailableMargin: 50})

	d, err := f.brain.ProcessSignal(context.Background(), inbound(models.TF1h, models.SignalBuy, 10, 100))

	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, LayerSizing, d.Layer)
	assert.Contains(t, d.Reason, "cannot afford one lot")
}

func TestBrainPublishFailureReleasesMargin(t *testing.T) {
	f := newFixture(t, 1_000_000)
	f.brain.RegisterStrategy("trend", models.TF1h, "ACME", nil)
	f.pub.err = errors.New("broker down")

	d, err := f.brain.ProcessSignal(context.Background(), inbound(models.TF1h, models.SignalBuy, 50, 100))

	require.Error(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, LayerPublish, d.Layer)

	_, available, used := f.risk.Margin()
	assert.InDelta(t, 1_000_000, available, 1e-6)
	assert.InDelta(t, 0, used, 1e-6)
	assert.Empty(t, f.risk.OutstandingLocks())
}

func TestBrainMultiTimeframeRegistration(t *testing.T) {
	f := newFixture(t, 1_000_000)

	err := f.brain.RegisterMultiTimeframeStrategy(MultiTimeframeRegistration{
		StrategyName:           "trend",
		Symbol:                 "ACME",
		PrimaryTimeframe:       models.TF1h,
		ConfirmationTimeframes: []models.Timeframe{models.TF4h},
		FilterTimeframes:       []models.Timeframe{models.TF15m},
		RequireConfirmation:    true,
	})
	require.NoError(t, err)

	for _, tf := range []models.Timeframe{models.TF1h, models.TF4h, models.TF15m} {
		_, ok := f.brain.Strategy("trend", tf, "ACME")
		assert.True(t, ok, tf)
	}
	cfg, ok := f.tf.StrategyConfig("trend", "ACME")
	require.True(t, ok)
	assert.True(t, cfg.RequireConfirmation)
	assert.False(t, cfg.RequireFilterAgreement)
}

func TestBrainMultiTimeframeConfluenceEmitsIntentWithMetadata(t *testing.T) {
	f := newFixture(t, 1_000_000)
	require.NoError(t, f.brain.RegisterMultiTimeframeStrategy(MultiTimeframeRegistration{
		StrategyName:           "trend",
		Symbol:                 "ACME",
		PrimaryTimeframe:       models.TF1h,
		ConfirmationTimeframes: []models.Timeframe{models.TF4h},
		FilterTimeframes:       []models.Timeframe{models.TF15m},
		RequireConfirmation:    true,
	}))
	ctx := context.Background()

	d, err := f.brain.ProcessSignal(ctx, withConfidence(inbound(models.TF4h, models.SignalBuy, 120, 100), 0.9))
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, LayerCorrelation, d.Layer)
	_, err = f.brain.ProcessSignal(ctx, withConfidence(inbound(models.TF15m, models.SignalBuy, 100, 100), 0.9))
	require.NoError(t, err)

	f.now = f.now.Add(5 * time.Minute)
	d, err = f.brain.ProcessSignal(ctx, withConfidence(inbound(models.TF1h, models.SignalBuy, 100, 100), 0.8))

	require.NoError(t, err)
	require.True(t, d.Accepted, d.Reason)
	require.NotNil(t, d.MultiTimeframe)
	assert.Equal(t, 137, d.MultiTimeframe.FinalSignal.Quantity)

	require.NotNil(t, d.Intent.MultiTimeframe)
	assert.Equal(t, models.CorrelationBullishConfluence, d.Intent.MultiTimeframe.CorrelationType)
	assert.Equal(t, 1, d.Intent.MultiTimeframe.ConfirmationCount)
	assert.Equal(t, 1, d.Intent.MultiTimeframe.FilterCount)
	assert.Equal(t, models.TF1h, d.Intent.MultiTimeframe.PrimaryTimeframe)
	assert.Equal(t, 100, d.Intent.OriginalQuantity)
	assert.InDelta(t, 0.9504, d.Intent.Confidence, 1e-9)
	assert.Len(t, f.pub.published(), 1)
}

func TestBrainMultiTimeframeOpposingConfirmationDeclined(t *testing.T) {
	f := newFixture(t, 1_000_000)
	require.NoError(t, f.brain.RegisterMultiTimeframeStrategy(MultiTimeframeRegistration{
		StrategyName:           "trend",
		Symbol:                 "ACME",
		PrimaryTimeframe:       models.TF1h,
		ConfirmationTimeframes: []models.Timeframe{models.TF4h},
		RequireConfirmation:    true,
	}))
	ctx := context.Background()
	_, err := f.brain.ProcessSignal(ctx, withConfidence(inbound(models.TF4h, models.SignalSell, 100, 100), 0.8))
	require.NoError(t, err)

	d, err := f.brain.ProcessSignal(ctx, withConfidence(inbound(models.TF1h, models.SignalBuy, 100, 100), 0.8))

	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, LayerCorrelation, d.Layer)
	assert.Equal(t, "Conflicting signals across timeframes", d.Reason)
	assert.Empty(t, f.pub.published())
}

func TestBrainMultiTimeframeRejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture(t, 1_000_000)
	require.NoError(t, f.brain.RegisterMultiTimeframeStrategy(MultiTimeframeRegistration{
		StrategyName:     "trend",
		Symbol:           "ACME",
		PrimaryTimeframe: models.TF1h,
	}))

	for _, qty := range []int{0, -3} {
		d, err := f.brain.ProcessSignal(context.Background(), inbound(models.TF1h, models.SignalBuy, qty, 100))

		require.NoError(t, err)
		assert.False(t, d.Accepted)
		assert.Equal(t, LayerValidation, d.Layer)
		assert.Equal(t, fmt.Sprintf("invalid quantity %d", qty), d.Reason)
		assert.Nil(t, d.MultiTimeframe)
	}
	assert.Empty(t, f.tf.ActiveSignals("ACME"))
	assert.Empty(t, f.pub.published())
}

func TestBrainPortfolioFeedbackUpdatesState(t *testing.T) {
	f := newFixture(t, 1_000_000)

	f.brain.UpdatePortfolioState(context.Background(), models.PortfolioFeedback{
		Positions: map[string]models.PositionSnapshot{
			"ACME": {Symbol: "ACME", NetQuantity: 100, AveragePrice: 100},
		},
		CashBalance: 990_000,
		TotalEquity: 1_000_000,
	})

	st := f.brain.State()
	assert.Contains(t, st.Positions, "ACME")
	assert.InDelta(t, 990_000, st.AvailableMargin, 1e-9)
	assert.InDelta(t, 10_000, st.UsedMargin, 1e-9)

	_, available, _ := f.risk.Margin()
	assert.InDelta(t, 990_000, available, 1e-9)
}
