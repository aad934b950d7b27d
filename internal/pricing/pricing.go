// Package pricing converts wholesale day-ahead prices to the retail
// cents-per-kWh figures shown to users.
package pricing

import (
	"fmt"
	"math"
)

// Band thresholds in cents/kWh including VAT.
const (
	LowBand  = 5.0
	HighBand = 15.0
)

// Margin bounds in cents/kWh.
const (
	MinMarginCents = -5.0
	MaxMarginCents = 5.0
)

// CentsPerKWh converts EUR/MWh to cents/kWh including VAT.
func CentsPerKWh(eurPerMWh, vatRate float64) float64 {
	return eurPerMWh / 1000.0 * 100.0 * (1.0 + vatRate)
}

// TotalCents is the displayed total: negative spot or margin components are
// floored at zero, matching the retail bill.
func TotalCents(spotCents, marginCents float64) float64 {
	return math.Max(0, spotCents) + math.Max(0, marginCents)
}

// ColorFor maps a VAT-inclusive spot price to its display band.
func ColorFor(spotCents float64) string {
	switch {
	case spotCents < LowBand:
		return "green"
	case spotCents < HighBand:
		return "yellow"
	default:
		return "red"
	}
}

// ValidateMargin checks a caller-supplied margin against the allowed range.
func ValidateMargin(marginCents float64) error {
	if marginCents < MinMarginCents {
		return fmt.Errorf("margin cannot be less than %.1f cents per kWh", MinMarginCents)
	}
	if marginCents > MaxMarginCents {
		return fmt.Errorf("margin cannot be greater than %.1f cents per kWh", MaxMarginCents)
	}
	return nil
}
