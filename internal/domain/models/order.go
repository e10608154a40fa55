package models

import "time"

// CorrelationMetadata is attached to intents produced by the multi-timeframe path.
type CorrelationMetadata struct {
	CorrelationType   CorrelationType `json:"correlation_type"`
	CorrelationScore  float64         `json:"correlation_score"`
	ConfirmationCount int             `json:"confirmation_count"`
	FilterCount       int             `json:"filter_count"`
	PrimaryTimeframe  Timeframe       `json:"primary_timeframe"`
}

// OrderIntent is the single outbound event emitted for an accepted signal.
type OrderIntent struct {
	ID               string               `json:"id"`
	Source           string               `json:"source"`
	StrategyName     string               `json:"strategy_name"`
	Symbol           string               `json:"symbol"`
	Timeframe        Timeframe            `json:"timeframe"`
	SignalType       SignalType           `json:"signal_type"`
	Quantity         int                  `json:"quantity"`
	Price            float64              `json:"price"`
	Confidence       float64              `json:"confidence"`
	OriginalQuantity int                  `json:"original_quantity"`
	EstimatedCost    float64              `json:"estimated_cost"`
	SizingMethod     string               `json:"sizing_method"`
	RiskPercentage   float64              `json:"risk_percentage"`
	LockID           string               `json:"lock_id"`
	MultiTimeframe   *CorrelationMetadata `json:"multi_timeframe_analysis,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
}

type RiskEventType string

const (
	RiskEventMarginLocked   RiskEventType = "margin_locked"
	RiskEventMarginReleased RiskEventType = "margin_released"
	RiskEventMarginSettled  RiskEventType = "margin_settled"
	RiskEventBreakerTripped RiskEventType = "circuit_breaker_tripped"
)

// RiskEvent is an informational notification about ledger or breaker changes.
type RiskEvent struct {
	Type      RiskEventType `json:"type"`
	Symbol    string        `json:"symbol,omitempty"`
	LockID    string        `json:"lock_id,omitempty"`
	Amount    float64       `json:"amount,omitempty"`
	Available float64       `json:"available_margin"`
	Used      float64       `json:"used_margin"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Execution is the outcome of a previously approved trade.
type Execution struct {
	LockID       string     `json:"lock_id"`
	StrategyName string     `json:"strategy_name"`
	Symbol       string     `json:"symbol"`
	SignalType   SignalType `json:"signal_type"`
	Quantity     int        `json:"quantity"`
	Price        float64    `json:"price"`
	ActualCost   float64    `json:"actual_cost"`
	RealizedPnL  float64    `json:"realized_pnl"`
	Success      bool       `json:"success"`
}
