package cart

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/content-checkout/internal/selection"
)

// LinePricing is the per-unit price split of a line item.
type LinePricing struct {
	NichePrice   float64
	ContentPrice float64
	WordCount    int
	Quantity     int
}

// PriceLine reads the niche and package selections of item.
func PriceLine(item LineItem) LinePricing {
	niche, _ := selection.ExtractNicheRecord(item.NicheSelection)
	svc, _ := selection.ExtractServiceRecord(item.ServiceSelection)

	qty := item.Quantity
	if qty < 1 {
		qty = 1
	}

	return LinePricing{
		NichePrice:   niche.Price,
		ContentPrice: ContentPrice(svc),
		WordCount:    svc.WordCount,
		Quantity:     qty,
	}
}

// ContentPrice is what the chosen package costs per unit. Free and "none"
// packages cost nothing; per-word packages are priced by their word count.
func ContentPrice(svc selection.ServiceRecord) float64 {
	if svc.IsFree || selection.IsNoneService(svc.Title) {
		return 0
	}
	if svc.PricePerWord > 0 && svc.WordCount > 0 {
		f, _ := decimal.NewFromFloat(svc.PricePerWord).Mul(decimal.NewFromInt(int64(svc.WordCount))).Round(2).Float64()
		return f
	}
	return svc.Price
}

// ComputeItemTotal is (niche price + content price) * quantity, rounded to cents.
func ComputeItemTotal(item LineItem) float64 {
	p := PriceLine(item)
	unit := decimal.NewFromFloat(p.NichePrice).Add(decimal.NewFromFloat(p.ContentPrice))
	f, _ := unit.Mul(decimal.NewFromInt(int64(p.Quantity))).Round(2).Float64()
	return f
}

// StripScheme removes the URI scheme; product URLs are stored without it.
func StripScheme(rawURL string) string {
	u := strings.TrimSpace(rawURL)
	lower := strings.ToLower(u)
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, prefix) {
			return u[len(prefix):]
		}
	}
	return u
}

// normalizeSelection makes raw storable as jsonb: valid JSON passes through,
// anything else is stored as a JSON string, empty input becomes the
// NoSelection marker.
func normalizeSelection(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		b, _ := json.Marshal(selection.NoSelection)
		return b
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	b, _ := json.Marshal(trimmed)
	return b
}
