package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/service/ratelimit"
	pkgkafka "SignalGate/pkg/kafka"
)

type recordingProcessor struct {
	signals []models.InboundSignal
	err     error
}

func (p *recordingProcessor) ProcessSignal(_ context.Context, in models.InboundSignal) (Decision, error) {
	p.signals = append(p.signals, in)
	return Decision{Accepted: true}, p.err
}

func TestSignalHandlerDecodesAndNormalises(t *testing.T) {
	p := &recordingProcessor{}
	h, err := NewSignalHandler("signals", p, nil, nil, nil)
	require.NoError(t, err)

	err = h.Handle(context.Background(), []byte(`{
		"strategy_name": "trend", "symbol": "ACME", "timeframe": "1h",
		"signal_type": "buy", "quantity": 10, "price": 101.5, "confidence": 0.8
	}`))

	require.NoError(t, err)
	require.Len(t, p.signals, 1)
	got := p.signals[0]
	assert.Equal(t, models.SignalBuy, got.SignalType)
	assert.Equal(t, models.TF1h, got.Timeframe)
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 0.8, *got.Confidence, 1e-12)
}

func TestSignalHandlerRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{`},
		{"missing strategy", `{"symbol":"ACME","timeframe":"1h","signal_type":"BUY","quantity":1}`},
		{"unknown timeframe", `{"strategy_name":"t","symbol":"ACME","timeframe":"7m","signal_type":"BUY","quantity":1}`},
		{"negative price", `{"strategy_name":"t","symbol":"ACME","timeframe":"1h","signal_type":"BUY","quantity":1,"price":-1}`},
		{"confidence above one", `{"strategy_name":"t","symbol":"ACME","timeframe":"1h","signal_type":"BUY","quantity":1,"confidence":1.5}`},
		{"missing quantity", `{"strategy_name":"t","symbol":"ACME","timeframe":"1h","signal_type":"BUY","price":1}`},
		{"zero quantity", `{"strategy_name":"t","symbol":"ACME","timeframe":"1h","signal_type":"BUY","quantity":0,"price":1}`},
		{"negative quantity", `{"strategy_name":"t","symbol":"ACME","timeframe":"1h","signal_type":"BUY","quantity":-5,"price":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &recordingProcessor{}
			h, err := NewSignalHandler("signals", p, nil, nil, nil)
			require.NoError(t, err)

			err = h.Handle(context.Background(), []byte(tt.payload))

			assert.ErrorIs(t, err, pkgkafka.ErrPermanent)
			assert.Empty(t, p.signals)
		})
	}
}

func TestSignalHandlerThrottlesPerStrategy(t *testing.T) {
	p := &recordingProcessor{}
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	limiter := ratelimit.New(1, 1).WithClock(func() time.Time { return now })
	h, err := NewSignalHandler("signals", p, limiter, nil, nil)
	require.NoError(t, err)
	msg := func(strategy string) []byte {
		return []byte(fmt.Sprintf(`{"strategy_name":%q,"symbol":"ACME","timeframe":"1h","signal_type":"BUY","quantity":1,"price":1}`, strategy))
	}

	require.NoError(t, h.Handle(context.Background(), msg("trend")))
	require.NoError(t, h.Handle(context.Background(), msg("trend")))
	require.NoError(t, h.Handle(context.Background(), msg("meanrev")))

	require.Len(t, p.signals, 2)
	assert.Equal(t, "meanrev", p.signals[1].StrategyName)
}

func TestSignalHandlerSurfacesTransportErrors(t *testing.T) {
	p := &recordingProcessor{err: errors.New("broker down")}
	h, err := NewSignalHandler("signals", p, nil, nil, nil)
	require.NoError(t, err)

	err = h.Handle(context.Background(), []byte(`{"strategy_name":"t","symbol":"ACME","timeframe":"1h","signal_type":"BUY","quantity":1}`))

	require.Error(t, err)
	assert.NotErrorIs(t, err, pkgkafka.ErrPermanent)
}

type recordingPortfolio struct {
	feedback   []models.PortfolioFeedback
	funds      []models.FundsUpdate
	executions []models.Execution
	execErr    error
}

func (r *recordingPortfolio) UpdatePortfolioState(_ context.Context, fb models.PortfolioFeedback) {
	r.feedback = append(r.feedback, fb)
}

func (r *recordingPortfolio) HandleFundsUpdate(_ context.Context, f models.FundsUpdate) {
	r.funds = append(r.funds, f)
}

func (r *recordingPortfolio) ProcessTradeExecution(_ context.Context, e models.Execution) error {
	r.executions = append(r.executions, e)
	return r.execErr
}

func TestPortfolioHandlerRoutesByKind(t *testing.T) {
	r := &recordingPortfolio{}
	h, err := NewPortfolioHandler("portfolio", r, r, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, []byte(`{"kind":"portfolio_state","portfolio":{"positions":{"ACME":{"symbol":"ACME","net_quantity":10}},"cash_balance":900,"total_equity":1000}}`)))
	require.NoError(t, h.Handle(ctx, []byte(`{"kind":"funds_update","funds":{"total_equity":1000,"available_margin":800,"used_margin":200}}`)))
	require.NoError(t, h.Handle(ctx, []byte(`{"kind":"trade_execution","execution":{"lock_id":"l1","symbol":"ACME","signal_type":"BUY","quantity":10,"price":10,"success":true}}`)))

	require.Len(t, r.feedback, 1)
	assert.Equal(t, 10, r.feedback[0].Positions["ACME"].NetQuantity)
	require.Len(t, r.funds, 1)
	assert.InDelta(t, 800, r.funds[0].AvailableMargin, 1e-9)
	require.Len(t, r.executions, 1)
	assert.Equal(t, "l1", r.executions[0].LockID)
}

func TestPortfolioHandlerRejectsMismatchedEnvelope(t *testing.T) {
	r := &recordingPortfolio{}
	h, err := NewPortfolioHandler("portfolio", r, r, nil, nil)
	require.NoError(t, err)

	err = h.Handle(context.Background(), []byte(`{"kind":"funds_update"}`))
	assert.ErrorIs(t, err, pkgkafka.ErrPermanent)

	err = h.Handle(context.Background(), []byte(`{"kind":"rebalance"}`))
	assert.ErrorIs(t, err, pkgkafka.ErrPermanent)
}

func TestPortfolioHandlerLedgerInconsistencyIsPermanent(t *testing.T) {
	r := &recordingPortfolio{execErr: fmt.Errorf("lock x: %w", models.ErrLedgerInconsistency)}
	h, err := NewPortfolioHandler("portfolio", r, r, nil, nil)
	require.NoError(t, err)

	err = h.Handle(context.Background(), []byte(`{"kind":"trade_execution","execution":{"lock_id":"x","symbol":"ACME"}}`))

	assert.ErrorIs(t, err, pkgkafka.ErrPermanent)
	assert.ErrorIs(t, err, models.ErrLedgerInconsistency)
}
