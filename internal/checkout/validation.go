package checkout

import (
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/content-checkout/internal/cart"
	"github.com/vasiliy-maslov/content-checkout/internal/selection"
)

const (
	FieldNiche   = "niche"
	FieldService = "service"
)

type ValidationOptions struct {
	RequireNiche   bool
	RequireService bool
	// Rules defaults to selection.DefaultRules when it lists no placeholders.
	Rules selection.Rules
}

func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		RequireNiche:   true,
		RequireService: true,
		Rules:          selection.DefaultRules(),
	}
}

// ItemValidation is the outcome for one line item. Index is 1-based.
type ItemValidation struct {
	Index   int       `json:"index"`
	ItemID  uuid.UUID `json:"item_id"`
	Niche   string    `json:"niche,omitempty"`
	Service string    `json:"service,omitempty"`
	Missing []string  `json:"missing"`
	Valid   bool      `json:"valid"`
}

type ValidationResult struct {
	IsValid bool             `json:"is_valid"`
	Errors  []string         `json:"errors"`
	Items   []ItemValidation `json:"items"`
}

// ValidateCheckout reports which items still lack a required selection. An
// empty cart is valid.
func ValidateCheckout(items []cart.LineItem, opts ValidationOptions) ValidationResult {
	rules := opts.Rules
	if len(rules.Placeholders) == 0 {
		rules = selection.DefaultRules()
	}

	result := ValidationResult{
		IsValid: true,
		Errors:  []string{},
		Items:   make([]ItemValidation, 0, len(items)),
	}

	for i, item := range items {
		niche, _ := selection.ExtractNiche(item.NicheSelection)
		service, _ := selection.ExtractService(item.ServiceSelection)

		iv := ItemValidation{
			Index:   i + 1,
			ItemID:  item.ID,
			Niche:   niche,
			Service: service,
			Missing: []string{},
		}
		if opts.RequireNiche && !rules.ValidNiche(niche) {
			iv.Missing = append(iv.Missing, FieldNiche)
		}
		if opts.RequireService && !rules.ValidService(service) {
			iv.Missing = append(iv.Missing, FieldService)
		}
		iv.Valid = len(iv.Missing) == 0

		if !iv.Valid {
			result.IsValid = false
			result.Errors = append(result.Errors, fmt.Sprintf("item %d: missing selection for %s", iv.Index, strings.Join(iv.Missing, ", ")))
		}
		result.Items = append(result.Items, iv)
	}

	return result
}
