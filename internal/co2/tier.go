package co2

import (
	"fmt"
	"math"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type Tier string

const (
	TierLow    Tier = "LOW"
	TierMedium Tier = "MEDIUM"
	TierHigh   Tier = "HIGH"
)

// Tier upper bounds in kg CO2, inclusive.
const (
	LowCeiling    = 1.0
	MediumCeiling = 5.0
)

// Unit is appended to every human-readable emissions value.
const Unit = "kg CO₂"

//nolint:gochecknoglobals
var printer = message.NewPrinter(language.English)

// Classify maps an emissions quantity to a severity tier. Boundaries belong to
// the lower tier. Negative input is out of domain and is treated as LOW.
func Classify(emissions float64) Tier {
	switch {
	case emissions <= LowCeiling:
		return TierLow
	case emissions <= MediumCeiling:
		return TierMedium
	default:
		return TierHigh
	}
}

func (t Tier) rank() int {
	switch t {
	case TierMedium:
		return 1
	case TierHigh:
		return 2
	default:
		return 0
	}
}

// Exceeds reports whether t is a strictly higher tier than other.
func (t Tier) Exceeds(other Tier) bool {
	return t.rank() > other.rank()
}

// Format renders emissions as "5.00 kg CO₂".
func Format(emissions float64) string {
	return fmt.Sprintf("%.2f %s", Round2(emissions), Unit)
}

// Humanize is Format with thousands separators, e.g. "12,345.60 kg CO₂".
func Humanize(emissions float64) string {
	rounded := Round2(emissions)
	formatted := strconv.FormatFloat(math.Abs(rounded), 'f', 2, 64)
	intPart, fracPart := formatted[:len(formatted)-3], formatted[len(formatted)-2:]

	n, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return Format(emissions)
	}

	sign := ""
	if rounded < 0 {
		sign = "-"
	}

	return sign + printer.Sprintf("%d", n) + "." + fracPart + " " + Unit
}
