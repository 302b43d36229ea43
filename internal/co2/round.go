package co2

import (
	"math"

	"github.com/shopspring/decimal"
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// round2 rounds half away from zero to two decimal places.
func round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// Round2 rounds v half away from zero to two decimal places, working on the
// shortest decimal v prints as, so 2.675 rounds to 2.68.
func Round2(v float64) float64 {
	if !finite(v) {
		return v
	}

	return round2(decimal.NewFromFloat(v))
}
