package cart

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
)

// LineItem is one row of a user's cart as persisted for checkout. The selection
// columns are raw jsonb and may hold any historical encoding; read them through
// package selection.
type LineItem struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	UserID           uuid.UUID       `json:"user_id" db:"user_id"`
	EntryID          uuid.UUID       `json:"entry_id" db:"entry_id"`
	ProductURL       string          `json:"product_url" db:"product_url"`
	Quantity         int             `json:"quantity" db:"quantity"`
	NicheSelection   json.RawMessage `json:"niche_selected" db:"niche_selected"`
	ServiceSelection json.RawMessage `json:"service_selected" db:"service_selected"`
	ItemTotal        *float64        `json:"item_total" db:"item_total"` // nil until first priced
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	Quantity         *int
	NicheSelection   json.RawMessage
	ServiceSelection json.RawMessage
	ItemTotal        *float64
}

func (p Patch) IsEmpty() bool {
	return p.Quantity == nil && p.NicheSelection == nil && p.ServiceSelection == nil && p.ItemTotal == nil
}

// NewItem is what a caller supplies when adding entries to the cart.
type NewItem struct {
	EntryID          uuid.UUID
	ProductURL       string
	Quantity         int
	NicheSelection   json.RawMessage
	ServiceSelection json.RawMessage
}
