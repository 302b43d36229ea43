// Package co2 holds the emission accounting rules: the per-category rate table,
// the task emission calculator, the severity classifier and the project aggregator.
// Everything here is pure and safe for concurrent use.
package co2

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

type Category string

const (
	Light     Category = "LIGHT"
	Technical Category = "TECHNICAL"
	Intensive Category = "INTENSIVE"
)

// Default rates in kg CO2 per hour.
const (
	DefaultLightRate     = 0.1
	DefaultTechnicalRate = 1.0
	DefaultIntensiveRate = 3.5
)

func Categories() []Category {
	return []Category{Light, Technical, Intensive}
}

func (c Category) Valid() bool {
	switch c {
	case Light, Technical, Intensive:
		return true
	default:
		return false
	}
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory accepts the canonical upper-case names. Anything else is rejected.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}

	return c, nil
}

// RateTable maps every category to a positive kg-CO2-per-hour coefficient.
// The zero value is empty and rejects every lookup; build one with NewRateTable
// or DefaultRateTable.
type RateTable struct {
	rates map[Category]float64
}

func DefaultRateTable() RateTable {
	return RateTable{rates: map[Category]float64{
		Light:     DefaultLightRate,
		Technical: DefaultTechnicalRate,
		Intensive: DefaultIntensiveRate,
	}}
}

// NewRateTable copies rates into an immutable table. It requires exactly one
// positive entry for each category.
func NewRateTable(rates map[Category]float64) (RateTable, error) {
	table := make(map[Category]float64, len(rates))
	for c, r := range rates {
		if !c.Valid() {
			return RateTable{}, fmt.Errorf("%w: %q", ErrUnknownCategory, string(c))
		}
		if !(r > 0) || math.IsInf(r, 0) {
			return RateTable{}, fmt.Errorf("%w: %s has rate %v", ErrInvalidRate, c, r)
		}
		table[c] = r
	}

	var missing []string
	for _, c := range Categories() {
		if _, ok := table[c]; !ok {
			missing = append(missing, string(c))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return RateTable{}, fmt.Errorf("%w: missing %s", ErrInvalidRate, strings.Join(missing, ", "))
	}

	return RateTable{rates: table}, nil
}

func (t RateTable) Rate(c Category) (float64, error) {
	r, ok := t.rates[c]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, string(c))
	}

	return r, nil
}

// Entries returns a copy of the table.
func (t RateTable) Entries() map[Category]float64 {
	out := make(map[Category]float64, len(t.rates))
	for c, r := range t.rates {
		out[c] = r
	}

	return out
}
