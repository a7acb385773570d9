package selection

import "strings"

const (
	// NoSelection is written when a line item is created before the customer picks anything.
	NoSelection = "__no_selection__"

	NichePlaceholder   = "Confirme o tipo de conteúdo"
	ServicePlaceholder = "Escolher..."

	// ServiceNone means the customer supplies their own content. It is a real choice.
	ServiceNone       = "Nenhum - eu vou fornecer o conteúdo"
	ServiceNoneLegacy = "Nenhum - eu vou fornecer o conteudo"
)

// Rules decides whether an extracted value is a conscious choice or a placeholder.
type Rules struct {
	Placeholders []string
}

// DefaultRules rejects the storefront placeholder labels.
func DefaultRules() Rules {
	return Rules{Placeholders: []string{NichePlaceholder, ServicePlaceholder}}
}

// WithPlaceholders returns a copy of r that also rejects the given labels.
func (r Rules) WithPlaceholders(labels ...string) Rules {
	out := Rules{Placeholders: make([]string, 0, len(r.Placeholders)+len(labels))}
	out.Placeholders = append(out.Placeholders, r.Placeholders...)
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			out.Placeholders = append(out.Placeholders, l)
		}
	}
	return out
}

func (r Rules) ValidNiche(value string) bool {
	return r.valid(value)
}

// ValidService accepts ServiceNone and its legacy spelling.
func (r Rules) ValidService(value string) bool {
	if IsNoneService(value) {
		return true
	}
	return r.valid(value)
}

func (r Rules) valid(value string) bool {
	v := strings.TrimSpace(value)
	if unset(v) || v == NoSelection {
		return false
	}
	for _, p := range r.Placeholders {
		if v == p {
			return false
		}
	}
	return true
}

var defaultRules = DefaultRules()

// IsValidNiche reports whether value is a chosen niche. Pass "" for "nothing extracted".
func IsValidNiche(value string) bool {
	return defaultRules.ValidNiche(value)
}

// IsValidService reports whether value is a chosen package, including the "none" package.
func IsValidService(value string) bool {
	return defaultRules.ValidService(value)
}

// IsNoneService reports whether the customer declined a content package.
func IsNoneService(value string) bool {
	v := strings.TrimSpace(value)
	return v == ServiceNone || v == ServiceNoneLegacy
}
