package models

import "math"

// PositionSnapshot is the portfolio's view of one symbol.
type PositionSnapshot struct {
	Symbol        string  `json:"symbol"`
	NetQuantity   int     `json:"net_quantity"`
	AveragePrice  float64 `json:"average_price"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Sector        string  `json:"sector,omitempty"`
}

// Notional is |net quantity × average price|.
func (p PositionSnapshot) Notional() float64 {
	return math.Abs(float64(p.NetQuantity) * p.AveragePrice)
}

// PortfolioFeedback is pushed by the portfolio service after fills and marks.
type PortfolioFeedback struct {
	Positions   map[string]PositionSnapshot `json:"positions"`
	CashBalance float64                     `json:"cash_balance"`
	TotalEquity float64                     `json:"total_equity"`
}

// TotalPnL sums realized and unrealized P&L across positions.
func (f PortfolioFeedback) TotalPnL() (realized, unrealized float64) {
	for _, p := range f.Positions {
		realized += p.RealizedPnL
		unrealized += p.UnrealizedPnL
	}
	return realized, unrealized
}

// FundsUpdate is a margin/equity refresh without position detail.
type FundsUpdate struct {
	TotalEquity     float64 `json:"total_equity"`
	AvailableMargin float64 `json:"available_margin"`
	UsedMargin      float64 `json:"used_margin"`
}
