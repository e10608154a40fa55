package risk

import (
	"fmt"
	"math"

	"SignalGate/internal/domain/models"
)

type SizingMethod string

const (
	MethodPercentOfEquity    SizingMethod = "percent_of_equity"
	MethodFixedCash          SizingMethod = "fixed_cash"
	MethodVolatilityAdjusted SizingMethod = "volatility_adjusted"
	MethodATRBased           SizingMethod = "atr_based"
)

// extensionPositionCap bounds the volatility and ATR methods until they get
// their own market-data inputs.
const extensionPositionCap = 0.10

// SizingParams are the per-strategy sizing knobs.
type SizingParams struct {
	Method            SizingMethod `yaml:"method" json:"method" default:"percent_of_equity"`
	RiskPerTrade      float64      `yaml:"risk_per_trade" json:"risk_per_trade" default:"0.02"`
	MaxPositionSize   float64      `yaml:"max_position_size" json:"max_position_size" default:"0.1"`
	FixedCashPerTrade float64      `yaml:"fixed_cash_per_trade" json:"fixed_cash_per_trade" default:"10000"`
}

// DefaultSizingParams mirrors the struct-tag defaults.
func DefaultSizingParams() SizingParams {
	return SizingParams{
		Method:            MethodPercentOfEquity,
		RiskPerTrade:      0.02,
		MaxPositionSize:   0.1,
		FixedCashPerTrade: 10000,
	}
}

type SizingRequest struct {
	Symbol            string
	SignalType        models.SignalType
	SuggestedQuantity int
	Price             float64
	LotSize           int
	AvailableMargin   float64
	TotalEquity       float64
	Params            SizingParams
	MarketData        map[string]float64
}

type SizingResult struct {
	FinalQuantity  int          `json:"final_quantity"`
	NumLots        int          `json:"num_lots"`
	LotSize        int          `json:"lot_size"`
	EstimatedCost  float64      `json:"estimated_cost"`
	Method         SizingMethod `json:"method"`
	Rationale      string       `json:"rationale"`
	RiskAmount     float64      `json:"risk_amount"`
	RiskPercentage float64      `json:"risk_percentage"`
	MarginUsed     float64      `json:"margin_used"`
	Success        bool         `json:"success"`
	Error          string       `json:"error,omitempty"`
}

type sizingFunc func(req SizingRequest) SizingResult

// PositionSizer converts a suggested quantity into a lot-rounded quantity
// that fits available margin. It holds no state.
type PositionSizer struct {
	methods map[SizingMethod]sizingFunc
}

func NewPositionSizer() *PositionSizer {
	return &PositionSizer{
		methods: map[SizingMethod]sizingFunc{
			MethodPercentOfEquity:    sizePercentOfEquity,
			MethodFixedCash:          sizeFixedCash,
			MethodVolatilityAdjusted: sizeCappedExtension(MethodVolatilityAdjusted),
			MethodATRBased:           sizeCappedExtension(MethodATRBased),
		},
	}
}

// Calculate sizes req. On success FinalQuantity is a positive multiple of the
// lot size and EstimatedCost does not exceed AvailableMargin.
func (s *PositionSizer) Calculate(req SizingRequest) SizingResult {
	method := req.Params.Method
	fn, ok := s.methods[method]
	if !ok {
		method = MethodPercentOfEquity
		fn = s.methods[method]
	}

	if req.Price <= 0 {
		return failed(method, "invalid price for position sizing")
	}
	if req.LotSize <= 0 {
		return failed(method, "invalid lot size for position sizing")
	}

	res := fn(req)
	res.Method = method
	res.LotSize = req.LotSize

	if res.FinalQuantity < req.LotSize {
		oneLot := float64(req.LotSize) * req.Price
		if oneLot > req.AvailableMargin {
			return failed(method, fmt.Sprintf("cannot afford one lot: lot cost %.2f > available margin %.2f", oneLot, req.AvailableMargin))
		}
		res.FinalQuantity = req.LotSize
		res.NumLots = 1
		res.EstimatedCost = oneLot
		res.Rationale = fmt.Sprintf("Single lot override: %s", res.Rationale)
	}

	res.MarginUsed = res.EstimatedCost
	if req.TotalEquity > 0 {
		res.RiskPercentage = res.EstimatedCost / req.TotalEquity
	}
	res.Success = true
	res.Error = ""
	return res
}

func failed(method SizingMethod, msg string) SizingResult {
	return SizingResult{Method: method, Success: false, Error: msg}
}

// affordableLots is the largest whole number of lots whose cost stays within amount.
func affordableLots(amount, price float64, lot int) int {
	if amount <= 0 {
		return 0
	}
	lots := int(math.Floor(amount/(price*float64(lot)) + 1e-9))
	for lots > 0 && float64(lots*lot)*price > amount {
		lots--
	}
	return lots
}

func fillResult(lots int, req SizingRequest) SizingResult {
	qty := lots * req.LotSize
	return SizingResult{
		FinalQuantity: qty,
		NumLots:       lots,
		EstimatedCost: float64(qty) * req.Price,
	}
}

// sizePercentOfEquity sizes on the smaller of the risk amount and the
// position-size cap, then falls back to available margin.
func sizePercentOfEquity(req SizingRequest) SizingResult {
	riskAmount := req.TotalEquity * req.Params.RiskPerTrade
	budget := riskAmount
	capped := false
	if req.Params.MaxPositionSize > 0 {
		if maxValue := req.TotalEquity * req.Params.MaxPositionSize; maxValue < budget {
			budget = maxValue
			capped = true
		}
	}
	lots := affordableLots(budget, req.Price, req.LotSize)
	res := fillResult(lots, req)

	if res.EstimatedCost > req.AvailableMargin {
		lots = affordableLots(req.AvailableMargin, req.Price, req.LotSize)
		res = fillResult(lots, req)
		res.Rationale = fmt.Sprintf("Margin-limited: %d lots (%d shares) using available margin %.2f",
			lots, res.FinalQuantity, req.AvailableMargin)
	} else if capped {
		res.Rationale = fmt.Sprintf("Position-capped: %.1f%% of equity (%.2f) = %d lots (%d shares)",
			req.Params.MaxPositionSize*100, budget, lots, res.FinalQuantity)
	} else {
		res.Rationale = fmt.Sprintf("Risk-based: %.1f%% of equity (%.2f) = %d lots (%d shares)",
			req.Params.RiskPerTrade*100, riskAmount, lots, res.FinalQuantity)
	}
	res.RiskAmount = riskAmount
	return res
}

func sizeFixedCash(req SizingRequest) SizingResult {
	cash := math.Min(req.Params.FixedCashPerTrade, req.AvailableMargin)
	lots := affordableLots(cash, req.Price, req.LotSize)
	res := fillResult(lots, req)
	res.RiskAmount = cash
	res.Rationale = fmt.Sprintf("Fixed cash: %.2f = %d lots (%d shares)", cash, lots, res.FinalQuantity)
	return res
}

// sizeCappedExtension delegates to percent-of-equity with the position size
// capped at extensionPositionCap of equity.
func sizeCappedExtension(method SizingMethod) sizingFunc {
	return func(req SizingRequest) SizingResult {
		capped := req
		capped.Params.RiskPerTrade = math.Min(req.Params.RiskPerTrade, extensionPositionCap)
		if req.Params.MaxPositionSize > 0 {
			capped.Params.RiskPerTrade = math.Min(capped.Params.RiskPerTrade, req.Params.MaxPositionSize)
		}
		res := sizePercentOfEquity(capped)
		res.Rationale = fmt.Sprintf("%s (percent-of-equity fallback): %s", method, res.Rationale)
		return res
	}
}
