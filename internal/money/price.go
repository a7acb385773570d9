package money

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	currencyPrefix = regexp.MustCompile(`(?i)r\$\s*`)
	nonNumeric     = regexp.MustCompile(`[^0-9,.\-]`)
)

// NormalizePrice converts a price stored as a number, a Brazilian or US formatted
// string, or a currency-prefixed string into a float. It never returns NaN or Inf;
// anything it cannot read becomes 0. Numbers are returned as-is, without clamping.
func NormalizePrice(value any) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return finite(v)
	case float32:
		return finite(float64(v))
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case *float64:
		if v == nil {
			return 0
		}
		return finite(*v)
	case json.Number:
		return normalizeString(v.String())
	case decimal.Decimal:
		f, _ := v.Float64()
		return finite(f)
	case string:
		return normalizeString(v)
	default:
		return 0
	}
}

func normalizeString(s string) float64 {
	cleaned := currencyPrefix.ReplaceAllString(s, "")
	cleaned = nonNumeric.ReplaceAllString(cleaned, "")
	if cleaned == "" {
		return 0
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	if lastComma >= 0 && lastComma > lastDot {
		// pt-BR: "3.794,00"
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	} else {
		// en-US: "3,794.00"
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return finite(f)
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// FormatPrice renders an amount as Brazilian currency, e.g. "R$ 3.794,00".
func FormatPrice(value float64) string {
	p := message.NewPrinter(language.BrazilianPortuguese)
	return "R$ " + p.Sprintf("%.2f", Round(value))
}

// Round rounds half away from zero to cents.
func Round(value float64) float64 {
	f, _ := decimal.NewFromFloat(finite(value)).Round(2).Float64()
	return f
}

// SubtractFloor returns max(a-b, 0) computed in decimal and rounded to cents.
func SubtractFloor(a, b float64) float64 {
	diff := decimal.NewFromFloat(finite(a)).Sub(decimal.NewFromFloat(finite(b)))
	if diff.IsNegative() {
		return 0
	}
	f, _ := diff.Round(2).Float64()
	return f
}
