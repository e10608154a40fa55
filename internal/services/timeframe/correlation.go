package timeframe

import (
	"fmt"
	"math"

	"SignalGate/internal/domain/models"
)

const (
	confirmationWeight = 0.7
	filterWeight       = 0.3

	confluenceThreshold = 0.7
	neutralBand         = 0.3
	filterAgreementMin  = 0.6
)

// Correlate scores how well confirmations and filters agree with the primary
// signal. Each signal contributes direction(s)·direction(primary)·confidence;
// each role is averaged and the score is 0.7·confirmations + 0.3·filters.
// An empty role contributes zero.
func Correlate(primary models.TimeframeSignal, confirmations, filters []models.TimeframeSignal) (models.CorrelationType, float64) {
	if len(confirmations) == 0 && len(filters) == 0 {
		return models.CorrelationNeutral, 0
	}

	dir := float64(primary.SignalType.Direction())
	roleScore := func(sigs []models.TimeframeSignal) float64 {
		if len(sigs) == 0 {
			return 0
		}
		var sum float64
		for _, s := range sigs {
			sum += float64(s.SignalType.Direction()) * dir * s.Confidence
		}
		return sum / float64(len(sigs))
	}

	score := confirmationWeight*roleScore(confirmations) + filterWeight*roleScore(filters)
	score = math.Max(-1, math.Min(1, score))

	return classify(primary.SignalType, score), score
}

func classify(primary models.SignalType, score float64) models.CorrelationType {
	long := primary.Direction() > 0
	switch {
	case score > confluenceThreshold:
		if long {
			return models.CorrelationBullishConfluence
		}
		return models.CorrelationBearishConfluence
	case score < -confluenceThreshold:
		if long {
			return models.CorrelationBearishDivergence
		}
		return models.CorrelationBullishDivergence
	case math.Abs(score) < neutralBand:
		return models.CorrelationNeutral
	default:
		return models.CorrelationConflicting
	}
}

// validate applies the strategy's acceptance rules in order and returns the
// first failing reason.
func validate(cfg *models.MultiTimeframeStrategyConfig, sig *models.MultiTimeframeSignal) (bool, string) {
	if cfg.RequireConfirmation && len(sig.Confirmations) == 0 {
		return false, "No confirmation signals available"
	}
	if cfg.RequireConfirmation && len(cfg.Confirmations) > 0 {
		required := cfg.Confirmations[0].MinConfirmations
		for _, tc := range cfg.Confirmations[1:] {
			if tc.MinConfirmations < required {
				required = tc.MinConfirmations
			}
		}
		if len(sig.Confirmations) < required {
			return false, fmt.Sprintf("Insufficient confirmation signals (required: %d)", required)
		}
	}

	if cfg.RequireFilterAgreement && len(sig.Filters) > 0 {
		dir := sig.Primary.SignalType.Direction()
		agree := 0
		for _, f := range sig.Filters {
			if f.SignalType.Direction() == dir {
				agree++
			}
		}
		if float64(agree)/float64(len(sig.Filters)) < filterAgreementMin {
			return false, "Filter signals do not agree"
		}
	}

	if math.Abs(sig.CorrelationScore) < cfg.CorrelationWeight {
		return false, fmt.Sprintf("Correlation score too low (required: %.2f, actual: %.2f)", cfg.CorrelationWeight, sig.CorrelationScore)
	}

	if sig.CorrelationType == models.CorrelationConflicting {
		return false, "Conflicting signals across timeframes"
	}

	return true, "All validation checks passed"
}

// blend builds the final signal from the primary and its supporting signals.
func blend(cfg *models.MultiTimeframeStrategyConfig, sig *models.MultiTimeframeSignal) models.TimeframeSignal {
	p := sig.Primary
	final := models.TimeframeSignal{
		Timeframe:  p.Timeframe,
		SignalType: p.SignalType,
		Quantity:   p.Quantity,
		Price:      p.Price,
		Confidence: p.Confidence,
		Timestamp:  p.Timestamp,
		Parameters: copyParams(p.Parameters),
	}
	qty := float64(p.Quantity)

	if n := len(sig.Confirmations); n > 0 {
		var confSum, qtySum float64
		for _, c := range sig.Confirmations {
			confSum += c.Confidence
			qtySum += float64(c.Quantity)
		}
		factor := math.Min(confSum/float64(n)*(1+0.1*float64(n)), 1.5)
		final.Confidence = p.Confidence * factor
		qty = math.Round((qty + qtySum/float64(n)) / 2 * factor)
	}

	if len(sig.Filters) > 0 {
		var confSum float64
		for _, f := range sig.Filters {
			confSum += f.Confidence
		}
		avg := confSum / float64(len(sig.Filters))
		factor := 0.8
		switch {
		case avg > 0.8:
			factor = 1.2
		case avg > 0.6:
			factor = 1.0
		}
		final.Confidence *= factor
		qty = math.Round(qty * factor)
	}

	if cfg.DynamicSizing {
		risk := 1.0
		switch {
		case sig.CorrelationType.Confluence():
			risk += cfg.ScalingFactor
		case sig.CorrelationType.Divergence():
			risk -= cfg.ScalingFactor
		}
		risk *= final.Confidence
		risk = math.Max(cfg.MinRiskMultiplier, math.Min(cfg.MaxRiskMultiplier, risk))
		qty = math.Round(qty * risk)
	}

	final.Quantity = int(math.Max(1, qty))
	final.Confidence = math.Min(1, final.Confidence)
	return final
}

func copyParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
