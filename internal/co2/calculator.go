package co2

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Calculator derives a task's emissions from its category and estimated hours.
type Calculator struct {
	rates RateTable
}

func NewCalculator(rates RateTable) *Calculator {
	return &Calculator{rates: rates}
}

func (c *Calculator) Rates() RateTable {
	return c.rates
}

// Compute returns round2(rate(category) * hours). The product is taken in exact
// decimal arithmetic before rounding.
func (c *Calculator) Compute(category Category, hours float64) (float64, error) {
	rate, err := c.rates.Rate(category)
	if err != nil {
		return 0, err
	}
	if !finite(hours) {
		return 0, fmt.Errorf("%w: estimated hours must be a finite number, got %v", ErrInvalidDuration, hours)
	}
	if hours < 0 {
		return 0, fmt.Errorf("%w: estimated hours must not be negative, got %v", ErrInvalidDuration, hours)
	}
	if hours == 0 {
		return 0, nil
	}

	return round2(decimal.NewFromFloat(rate).Mul(decimal.NewFromFloat(hours))), nil
}

// Aggregate sums already-rounded task emissions and rounds the result to two
// decimal places. An empty input yields 0 and a non-finite input yields NaN.
func Aggregate(emissions []float64) float64 {
	sum := decimal.Zero
	for _, e := range emissions {
		if !finite(e) {
			return math.NaN()
		}
		sum = sum.Add(decimal.NewFromFloat(e))
	}

	return round2(sum)
}
