package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/services/risk"
)

func noEnv(string) string { return "" }

const minimal = `
kafka:
  brokers: ["localhost:9092"]
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimal), noEnv)
	require.NoError(t, err)

	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "strategy-signals", c.Kafka.Topics.Signals)
	assert.Equal(t, -1, c.Kafka.Producer.RequiredAcks)
	assert.Equal(t, "kafka", c.Publisher.Backend)
	assert.Equal(t, 5*time.Second, c.Publisher.Timeout)
	assert.Equal(t, uint32(5), c.Publisher.Breaker.ConsecutiveFailures)
	assert.Equal(t, 5*time.Minute, c.Brain.SweepInterval)

	assert.Equal(t, risk.MethodPercentOfEquity, c.Risk.Sizing.Method)
	assert.InDelta(t, 0.02, c.Risk.Sizing.RiskPerTrade, 1e-12)
	assert.Equal(t, 10, c.Risk.Limits.MaxOrdersPerMinute)
	assert.InDelta(t, 0.10, c.Risk.Portfolio.MaxPortfolioDrawdown, 1e-12)
	assert.Equal(t, 2*time.Second, c.Risk.NotifyTimeout)
}

func TestParseStrategies(t *testing.T) {
	c, err := Parse([]byte(minimal+`
strategies:
  single:
    - {name: scalp, timeframe: 5m, symbol: ACME}
  multi_timeframe:
    - name: trend
      symbol: ACME
      primary: 1h
      confirmations: [4h, 1d]
      filters: [15m]
      require_confirmation: false
`), noEnv)
	require.NoError(t, err)

	require.Len(t, c.Strategies.Single, 1)
	require.Len(t, c.Strategies.MultiTimeframe, 1)
	mtf := c.Strategies.MultiTimeframe[0]
	assert.False(t, mtf.RequiresConfirmation())
	assert.False(t, mtf.RequiresFilterAgreement())
	assert.Equal(t, []string{"4h", "1d"}, mtf.Confirmations)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no brokers", `environment: production`},
		{"bad timeframe", minimal + `
strategies:
  single:
    - {name: scalp, timeframe: 7m, symbol: ACME}
`},
		{"redis backend without redis", minimal + `
publisher:
  backend: redis
`},
		{"bad log level", minimal + `
logging:
  level: loud
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), noEnv)
			assert.Error(t, err)
		})
	}
}

func TestParseEnvOverrides(t *testing.T) {
	env := map[string]string{
		"KAFKA_BROKERS":     "k1:9092,k2:9092",
		"REDIS_PORT":        "6380",
		"PUBLISHER_BACKEND": "kafka",
		"BRAIN_ID":          "gate-7",
	}
	c, err := Parse([]byte(minimal), func(k string) string { return env[k] })
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, 6380, c.Redis.Port)
	assert.Equal(t, "gate-7", c.Brain.ID)

	env["REDIS_PORT"] = "not-a-port"
	_, err = Parse([]byte(minimal), func(k string) string { return env[k] })
	assert.Error(t, err)
}
