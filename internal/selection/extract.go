// Package selection normalizes the niche and content-package choices stored on cart
// line items. Over time these columns were written as bare strings, JSON-encoded
// strings, arrays of records and single records; every reader goes through here.
package selection

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/vasiliy-maslov/content-checkout/internal/money"
)

const (
	nicheField   = "niche"
	serviceField = "title"
)

// NicheRecord is the canonical niche choice.
type NicheRecord struct {
	Niche string  `json:"niche"`
	Price float64 `json:"price"`
}

// ServiceRecord is the canonical content-package choice.
type ServiceRecord struct {
	Title        string   `json:"title"`
	Price        float64  `json:"price"`
	PricePerWord float64  `json:"pricePerWord"`
	WordCount    int      `json:"wordCount"`
	IsFree       bool     `json:"isFree"`
	Benefits     []string `json:"benefits"`
}

// ExtractNiche returns the chosen niche name, or false when nothing was chosen.
func ExtractNiche(raw any) (string, bool) {
	return extract(raw, nicheField)
}

// ExtractService returns the chosen package title, or false when nothing was chosen.
func ExtractService(raw any) (string, bool) {
	return extract(raw, serviceField)
}

// ExtractNicheRecord is ExtractNiche plus the niche price.
func ExtractNicheRecord(raw any) (NicheRecord, bool) {
	sel, ok := canonical(raw)
	if !ok {
		return NicheRecord{}, false
	}

	switch v := sel.(type) {
	case string:
		return NicheRecord{Niche: v}, true
	case map[string]any:
		name, ok := present(v[nicheField])
		if !ok {
			return NicheRecord{}, false
		}
		return NicheRecord{Niche: name, Price: money.NormalizePrice(v["price"])}, true
	}
	return NicheRecord{}, false
}

// ExtractServiceRecord is ExtractService plus the package pricing fields. Both the
// camelCase keys written by the storefront and snake_case keys are read.
func ExtractServiceRecord(raw any) (ServiceRecord, bool) {
	sel, ok := canonical(raw)
	if !ok {
		return ServiceRecord{}, false
	}

	switch v := sel.(type) {
	case string:
		return ServiceRecord{Title: v}, true
	case map[string]any:
		title, ok := present(v[serviceField])
		if !ok {
			return ServiceRecord{}, false
		}
		return ServiceRecord{
			Title:        title,
			Price:        money.NormalizePrice(v["price"]),
			PricePerWord: money.NormalizePrice(lookup(v, "pricePerWord", "price_per_word")),
			WordCount:    int(money.NormalizePrice(lookup(v, "wordCount", "word_count"))),
			IsFree:       truthy(lookup(v, "isFree", "is_free")),
			Benefits:     stringList(v["benefits"]),
		}, true
	}
	return ServiceRecord{}, false
}

func extract(raw any, field string) (string, bool) {
	sel, ok := canonical(raw)
	if !ok {
		return "", false
	}

	switch v := sel.(type) {
	case string:
		return v, true
	case map[string]any:
		return present(v[field])
	}
	return "", false
}

// canonical walks the historical encodings in order (JSON text, array, object,
// bare string) and returns the first selection as either a trimmed name or a
// record map. Only element 0 of an array is ever consulted.
func canonical(raw any) (any, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, false
	case string:
		return canonicalString(v)
	case json.RawMessage:
		return canonicalBytes(v)
	case []byte:
		return canonicalBytes(v)
	case []any:
		if len(v) == 0 {
			return nil, false
		}
		return canonicalElement(v[0])
	case []string:
		if len(v) == 0 {
			return nil, false
		}
		return present(v[0])
	case []map[string]any:
		if len(v) == 0 {
			return nil, false
		}
		return v[0], true
	case map[string]any:
		return v, true
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return m, true
	case NicheRecord:
		return v.fields(), true
	case []NicheRecord:
		if len(v) == 0 {
			return nil, false
		}
		return v[0].fields(), true
	case ServiceRecord:
		return v.fields(), true
	case []ServiceRecord:
		if len(v) == 0 {
			return nil, false
		}
		return v[0].fields(), true
	}
	return nil, false
}

func (n NicheRecord) fields() map[string]any {
	return map[string]any{nicheField: n.Niche, "price": n.Price}
}

func (s ServiceRecord) fields() map[string]any {
	benefits := make([]any, 0, len(s.Benefits))
	for _, b := range s.Benefits {
		benefits = append(benefits, b)
	}
	return map[string]any{
		serviceField:   s.Title,
		"price":        s.Price,
		"pricePerWord": s.PricePerWord,
		"wordCount":    s.WordCount,
		"isFree":       s.IsFree,
		"benefits":     benefits,
	}
}

func canonicalString(s string) (any, bool) {
	trimmed := strings.TrimSpace(s)
	if unset(trimmed) {
		return nil, false
	}

	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
		return canonical(parsed)
	}

	// A half-written array or object is garbage, not a niche name.
	if trimmed[0] == '[' || trimmed[0] == '{' {
		return nil, false
	}
	return trimmed, true
}

func canonicalBytes(b []byte) (any, bool) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return nil, false
	}

	var parsed any
	if err := json.Unmarshal(trimmed, &parsed); err == nil {
		return canonical(parsed)
	}
	return canonicalString(string(trimmed))
}

func canonicalElement(elem any) (any, bool) {
	switch e := elem.(type) {
	case string:
		return present(e)
	case map[string]any:
		return e, true
	}
	return nil, false
}

func present(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if unset(s) {
		return "", false
	}
	return s, true
}

func unset(s string) bool {
	return s == "" || s == "null" || s == "undefined"
}

func lookup(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(strings.TrimSpace(b), "true")
	}
	return false
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
