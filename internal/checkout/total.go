package checkout

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/content-checkout/internal/cart"
)

// CartReader is satisfied by cart.Service.
type CartReader interface {
	ListItems(ctx context.Context, userID uuid.UUID) ([]cart.LineItem, error)
}

// Totals is one snapshot of a cart. Subtotal sums the persisted line totals;
// the other fields are re-derived from the selections.
type Totals struct {
	ItemCount    int     `json:"item_count"`
	ProductPrice float64 `json:"product_price"`
	ContentPrice float64 `json:"content_price"`
	WordCount    int     `json:"word_count"`
	Subtotal     float64 `json:"subtotal"`
}

// TotalAggregator derives totals from the cart reader on every call.
// Concurrent reads are coalesced by the reader, per cart version.
type TotalAggregator struct {
	items CartReader
}

func NewTotalAggregator(items CartReader) *TotalAggregator {
	return &TotalAggregator{items: items}
}

// ComputeCheckoutTotal sums the line totals of the user's cart. A missing line
// total counts as 0; a failed fetch is returned as an error, never as 0.
func (a *TotalAggregator) ComputeCheckoutTotal(ctx context.Context, userID uuid.UUID) (float64, error) {
	t, err := a.Breakdown(ctx, userID)
	if err != nil {
		return 0, err
	}
	return t.Subtotal, nil
}

func (a *TotalAggregator) Breakdown(ctx context.Context, userID uuid.UUID) (Totals, error) {
	items, err := a.items.ListItems(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to compute checkout total")
		return Totals{}, fmt.Errorf("service: failed to compute checkout total: %w", err)
	}
	return Summarize(items), nil
}

// Summarize aggregates already-fetched items.
func Summarize(items []cart.LineItem) Totals {
	subtotal := decimal.Zero
	product := decimal.Zero
	content := decimal.Zero
	words := 0

	for _, item := range items {
		if item.ItemTotal != nil {
			subtotal = subtotal.Add(decimal.NewFromFloat(*item.ItemTotal))
		}
		p := cart.PriceLine(item)
		qty := decimal.NewFromInt(int64(p.Quantity))
		product = product.Add(decimal.NewFromFloat(p.NichePrice).Mul(qty))
		content = content.Add(decimal.NewFromFloat(p.ContentPrice).Mul(qty))
		words += p.WordCount * p.Quantity
	}

	return Totals{
		ItemCount:    len(items),
		ProductPrice: toFloat(product),
		ContentPrice: toFloat(content),
		WordCount:    words,
		Subtotal:     toFloat(subtotal),
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}
