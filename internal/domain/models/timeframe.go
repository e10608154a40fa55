package models

import (
	"fmt"
	"time"
)

// Timeframe is a chart resolution label such as "5m" or "1d".
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF3m  Timeframe = "3m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF2h  Timeframe = "2h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
	TF1M  Timeframe = "1M"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF3m:  3 * time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF2h:  2 * time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
	TF1w:  7 * 24 * time.Hour,
	TF1M:  30 * 24 * time.Hour,
}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// ParseTimeframe rejects labels outside the supported set.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !IsValidTimeframe(tf) {
		return "", fmt.Errorf("%w: unknown timeframe %q", ErrInvalidSignal, s)
	}
	return tf, nil
}

// Duration is the nominal bar length; zero for unknown labels.
func (tf Timeframe) Duration() time.Duration { return timeframeDurations[tf] }

// TimeframePriority is the role a timeframe plays for a strategy.
type TimeframePriority string

const (
	PriorityPrimary      TimeframePriority = "primary"
	PriorityConfirmation TimeframePriority = "confirmation"
	PriorityFilter       TimeframePriority = "filter"
)

// TimeframeConfig describes one confirmation or filter timeframe of a strategy.
type TimeframeConfig struct {
	Timeframe            Timeframe         `yaml:"timeframe" json:"timeframe"`
	Priority             TimeframePriority `yaml:"priority" json:"priority"`
	Weight               float64           `yaml:"weight" json:"weight"`
	SignalTimeout        time.Duration     `yaml:"signal_timeout" json:"signal_timeout"`
	MaxSignalAge         time.Duration     `yaml:"max_signal_age" json:"max_signal_age"`
	CorrelationThreshold float64           `yaml:"correlation_threshold" json:"correlation_threshold"`
	MinConfirmations     int               `yaml:"min_confirmations" json:"min_confirmations"`
	MaxConfirmations     int               `yaml:"max_confirmations" json:"max_confirmations"`

	RiskMultiplier       float64        `yaml:"risk_multiplier" json:"risk_multiplier"`
	PositionSizeFactor   float64        `yaml:"position_size_factor" json:"position_size_factor"`
	StopLossMultiplier   float64        `yaml:"stop_loss_multiplier" json:"stop_loss_multiplier"`
	TakeProfitMultiplier float64        `yaml:"take_profit_multiplier" json:"take_profit_multiplier"`
	Parameters           map[string]any `yaml:"parameters" json:"parameters,omitempty"`
}

// NewConfirmationConfig returns the standard confirmation role settings.
func NewConfirmationConfig(tf Timeframe) TimeframeConfig {
	return TimeframeConfig{
		Timeframe:            tf,
		Priority:             PriorityConfirmation,
		Weight:               1.0,
		SignalTimeout:        30 * time.Minute,
		MaxSignalAge:         60 * time.Minute,
		CorrelationThreshold: 0.7,
		MinConfirmations:     1,
		MaxConfirmations:     3,
		RiskMultiplier:       1.0,
		PositionSizeFactor:   1.0,
		StopLossMultiplier:   1.0,
		TakeProfitMultiplier: 1.0,
	}
}

// NewFilterConfig returns the standard filter role settings.
func NewFilterConfig(tf Timeframe) TimeframeConfig {
	return TimeframeConfig{
		Timeframe:            tf,
		Priority:             PriorityFilter,
		Weight:               0.8,
		SignalTimeout:        45 * time.Minute,
		MaxSignalAge:         90 * time.Minute,
		CorrelationThreshold: 0.6,
		MinConfirmations:     0,
		MaxConfirmations:     2,
		RiskMultiplier:       1.0,
		PositionSizeFactor:   1.0,
		StopLossMultiplier:   1.0,
		TakeProfitMultiplier: 1.0,
	}
}

// MultiTimeframeStrategyConfig binds a strategy and symbol to a primary
// timeframe plus its confirmation and filter timeframes.
type MultiTimeframeStrategyConfig struct {
	StrategyName     string            `yaml:"strategy_name" json:"strategy_name"`
	Symbol           string            `yaml:"symbol" json:"symbol"`
	PrimaryTimeframe Timeframe         `yaml:"primary_timeframe" json:"primary_timeframe"`
	Confirmations    []TimeframeConfig `yaml:"confirmations" json:"confirmations"`
	Filters          []TimeframeConfig `yaml:"filters" json:"filters"`

	RequireConfirmation    bool          `yaml:"require_confirmation" json:"require_confirmation"`
	RequireFilterAgreement bool          `yaml:"require_filter_agreement" json:"require_filter_agreement"`
	MaxTimeframeDivergence time.Duration `yaml:"max_timeframe_divergence" json:"max_timeframe_divergence"`
	CorrelationWeight      float64       `yaml:"correlation_weight" json:"correlation_weight"`

	DynamicSizing     bool    `yaml:"dynamic_sizing" json:"dynamic_sizing"`
	ScalingFactor     float64 `yaml:"scaling_factor" json:"scaling_factor"`
	MinRiskMultiplier float64 `yaml:"min_risk_multiplier" json:"min_risk_multiplier"`
	MaxRiskMultiplier float64 `yaml:"max_risk_multiplier" json:"max_risk_multiplier"`
}

// NewMultiTimeframeStrategyConfig returns a config with the standard
// confirmation/filter roles for the given timeframes.
func NewMultiTimeframeStrategyConfig(strategy, symbol string, primary Timeframe, confirmations, filters []Timeframe) MultiTimeframeStrategyConfig {
	cfg := MultiTimeframeStrategyConfig{
		StrategyName:           strategy,
		Symbol:                 symbol,
		PrimaryTimeframe:       primary,
		RequireConfirmation:    true,
		RequireFilterAgreement: true,
		MaxTimeframeDivergence: 4 * time.Hour,
		CorrelationWeight:      0.5,
		DynamicSizing:          true,
		ScalingFactor:          0.1,
		MinRiskMultiplier:      0.5,
		MaxRiskMultiplier:      2.0,
	}
	for _, tf := range confirmations {
		cfg.Confirmations = append(cfg.Confirmations, NewConfirmationConfig(tf))
	}
	for _, tf := range filters {
		cfg.Filters = append(cfg.Filters, NewFilterConfig(tf))
	}
	return cfg
}

// Key is the registry key "strategy:symbol".
func (c MultiTimeframeStrategyConfig) Key() string {
	return StrategySymbolKey(c.StrategyName, c.Symbol)
}

// Timeframes lists primary, confirmations and filters in that order.
func (c MultiTimeframeStrategyConfig) Timeframes() []Timeframe {
	out := make([]Timeframe, 0, 1+len(c.Confirmations)+len(c.Filters))
	out = append(out, c.PrimaryTimeframe)
	for _, tc := range c.Confirmations {
		out = append(out, tc.Timeframe)
	}
	for _, tc := range c.Filters {
		out = append(out, tc.Timeframe)
	}
	return out
}

// Validate checks the fields the correlation engine depends on.
func (c MultiTimeframeStrategyConfig) Validate() error {
	if c.StrategyName == "" || c.Symbol == "" {
		return fmt.Errorf("%w: strategy name and symbol are required", ErrInvalidConfig)
	}
	if c.PrimaryTimeframe == "" {
		return fmt.Errorf("%w: primary timeframe is required", ErrInvalidConfig)
	}
	if c.CorrelationWeight < 0 || c.CorrelationWeight > 1 {
		return fmt.Errorf("%w: correlation weight %.2f outside [0,1]", ErrInvalidConfig, c.CorrelationWeight)
	}
	if c.MinRiskMultiplier > c.MaxRiskMultiplier {
		return fmt.Errorf("%w: risk multiplier range inverted", ErrInvalidConfig)
	}
	for _, tc := range append(append([]TimeframeConfig(nil), c.Confirmations...), c.Filters...) {
		if tc.Timeframe == "" {
			return fmt.Errorf("%w: timeframe config without timeframe", ErrInvalidConfig)
		}
		if tc.SignalTimeout < 0 || tc.MaxSignalAge < 0 {
			return fmt.Errorf("%w: negative window on %s", ErrInvalidConfig, tc.Timeframe)
		}
	}
	return nil
}

func StrategySymbolKey(strategy, symbol string) string {
	return strategy + ":" + symbol
}

// StrategyKey is the Brain registry key "name:timeframe:symbol".
func StrategyKey(name string, tf Timeframe, symbol string) string {
	return name + ":" + string(tf) + ":" + symbol
}
