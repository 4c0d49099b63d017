package services

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var currencyPrinter = message.NewPrinter(language.AmericanEnglish)

// ParseNumeric converts a broker value such as "$1,234.56" to a float.
// Malformed input yields 0.
func ParseNumeric(value string) float64 {
	clean := strings.TrimSpace(value)
	clean = strings.ReplaceAll(clean, "$", "")
	clean = strings.ReplaceAll(clean, ",", "")
	if clean == "" {
		return 0
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// FormatCurrency renders value with thousands grouping and two decimals,
// e.g. "$1,234.56" or "1,234.56" without the symbol.
func FormatCurrency(value float64, includeSymbol bool) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		value = 0
	}

	rounded, _ := decimal.NewFromFloat(value).Round(2).Float64()
	sign := ""
	if rounded < 0 {
		sign = "-"
		rounded = -rounded
	}

	body := currencyPrinter.Sprintf("%.2f", rounded)
	if includeSymbol {
		return sign + "$" + body
	}
	return sign + body
}

// finiteOrZero maps NaN and infinities to 0 so values stay JSON encodable
func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
