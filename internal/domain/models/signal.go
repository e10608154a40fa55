package models

import "time"

type SignalType string

const (
	SignalBuy   SignalType = "BUY"
	SignalSell  SignalType = "SELL"
	SignalShort SignalType = "SHORT"
	SignalCover SignalType = "COVER"
)

// Valid reports whether t is one of BUY, SELL, SHORT, COVER.
func (t SignalType) Valid() bool {
	switch t {
	case SignalBuy, SignalSell, SignalShort, SignalCover:
		return true
	}
	return false
}

// Direction is +1 for BUY and COVER, -1 for everything else.
func (t SignalType) Direction() int {
	if t == SignalBuy || t == SignalCover {
		return 1
	}
	return -1
}

// Opens reports whether the signal opens (rather than closes) a position.
func (t SignalType) Opens() bool { return t == SignalBuy || t == SignalShort }

// TimeframeSignal is one directional signal on one timeframe.
// A zero Price means no price was supplied.
type TimeframeSignal struct {
	Timeframe  Timeframe      `json:"timeframe"`
	SignalType SignalType     `json:"signal_type"`
	Quantity   int            `json:"quantity"`
	Price      float64        `json:"price,omitempty"`
	Confidence float64        `json:"confidence"`
	Timestamp  time.Time      `json:"timestamp"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Age is the signal's age at now.
func (s TimeframeSignal) Age(now time.Time) time.Duration { return now.Sub(s.Timestamp) }

type CorrelationType string

const (
	CorrelationBullishConfluence CorrelationType = "bullish_confluence"
	CorrelationBearishConfluence CorrelationType = "bearish_confluence"
	CorrelationBullishDivergence CorrelationType = "bullish_divergence"
	CorrelationBearishDivergence CorrelationType = "bearish_divergence"
	CorrelationNeutral           CorrelationType = "neutral"
	CorrelationConflicting       CorrelationType = "conflicting"
)

// Confluence reports whether c is a bullish or bearish confluence.
func (c CorrelationType) Confluence() bool {
	return c == CorrelationBullishConfluence || c == CorrelationBearishConfluence
}

// Divergence reports whether c is a bullish or bearish divergence.
func (c CorrelationType) Divergence() bool {
	return c == CorrelationBullishDivergence || c == CorrelationBearishDivergence
}

type ValidationStatus string

const (
	ValidationPending  ValidationStatus = "pending"
	ValidationApproved ValidationStatus = "approved"
	ValidationRejected ValidationStatus = "rejected"
)

// MultiTimeframeSignal is the outcome of correlating a primary signal with
// its confirmation and filter timeframes.
type MultiTimeframeSignal struct {
	Symbol           string            `json:"symbol"`
	StrategyName     string            `json:"strategy_name"`
	Primary          TimeframeSignal   `json:"primary"`
	Confirmations    []TimeframeSignal `json:"confirmations"`
	Filters          []TimeframeSignal `json:"filters"`
	CorrelationType  CorrelationType   `json:"correlation_type"`
	CorrelationScore float64           `json:"correlation_score"`
	ValidationStatus ValidationStatus  `json:"validation_status"`
	ValidationReason string            `json:"validation_reason"`
	FinalSignal      *TimeframeSignal  `json:"final_signal,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Approved reports whether validation passed and a final signal exists.
func (m MultiTimeframeSignal) Approved() bool {
	return m.ValidationStatus == ValidationApproved && m.FinalSignal != nil
}

// InboundSignal is a raw strategy signal as received from the wire.
type InboundSignal struct {
	StrategyName string         `json:"strategy_name" validate:"required"`
	Symbol       string         `json:"symbol" validate:"required"`
	Timeframe    Timeframe      `json:"timeframe" validate:"required,timeframe"`
	SignalType   SignalType     `json:"signal_type" validate:"required"`
	Quantity     int            `json:"quantity" validate:"gt=0"`
	Price        float64        `json:"price" validate:"gte=0"`
	Confidence   *float64       `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Timestamp    time.Time      `json:"timestamp"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

// ConfidenceOrDefault returns the supplied confidence or 1.0.
func (s InboundSignal) ConfidenceOrDefault() float64 {
	if s.Confidence == nil {
		return 1.0
	}
	return *s.Confidence
}
