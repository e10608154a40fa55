package models

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTimeframeValidation(t *testing.T) {
	v := validator.New(validator.WithRequiredStructEnabled())
	require.NoError(t, RegisterTimeframeValidation(v))

	type payload struct {
		Timeframe string   `validate:"required,timeframe"`
		Extra     []string `validate:"dive,timeframe"`
	}
	assert.NoError(t, v.Struct(payload{Timeframe: "1h", Extra: []string{"4h", "15m"}}))
	assert.Error(t, v.Struct(payload{Timeframe: "7m"}))
	assert.Error(t, v.Struct(payload{Timeframe: "1h", Extra: []string{"2w"}}))
}

func TestInboundSignalRequiresPositiveQuantity(t *testing.T) {
	v := validator.New(validator.WithRequiredStructEnabled())
	require.NoError(t, RegisterTimeframeValidation(v))
	sig := InboundSignal{StrategyName: "trend", Symbol: "ACME", Timeframe: TF1h, SignalType: SignalBuy, Quantity: 10}

	require.NoError(t, v.Struct(sig))
	for _, qty := range []int{0, -1} {
		sig.Quantity = qty
		var verrs validator.ValidationErrors
		require.ErrorAs(t, v.Struct(sig), &verrs)
		assert.Equal(t, "Quantity", verrs[0].Field())
		assert.Equal(t, "gt", verrs[0].Tag())
	}
}
