package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/content-checkout/internal/coupon"
	"github.com/vasiliy-maslov/content-checkout/internal/events"
	"github.com/vasiliy-maslov/content-checkout/internal/ordertotal"
)

const defaultRefreshTimeout = 10 * time.Second

// Summary is the result of one pass through the pipeline.
type Summary struct {
	Totals     Totals                 `json:"totals"`
	Coupon     coupon.Resolution      `json:"coupon"`
	OrderTotal *ordertotal.OrderTotal `json:"order_total"`
}

// Pipeline derives the order total of a user: cart totals, then the coupon
// discount against the fresh subtotal, then the write.
type Pipeline struct {
	totals  *TotalAggregator
	coupons coupon.Service
	orders  ordertotal.Service

	refreshTimeout time.Duration
	wg             sync.WaitGroup
}

func NewPipeline(totals *TotalAggregator, coupons coupon.Service, orders ordertotal.Service) *Pipeline {
	return &Pipeline{
		totals:         totals,
		coupons:        coupons,
		orders:         orders,
		refreshTimeout: defaultRefreshTimeout,
	}
}

// WithRefreshTimeout bounds each event-triggered refresh. Non-positive values
// keep the default.
func (p *Pipeline) WithRefreshTimeout(d time.Duration) *Pipeline {
	if d > 0 {
		p.refreshTimeout = d
	}
	return p
}

// Recalculate applies couponCode to the current cart and saves the result. An
// empty code removes any applied coupon. A code that does not apply is
// reported in Summary.Coupon and the total is saved without discount.
func (p *Pipeline) Recalculate(ctx context.Context, userID uuid.UUID, couponCode string) (*Summary, error) {
	totals, err := p.totals.Breakdown(ctx, userID)
	if err != nil {
		return nil, err
	}

	res, err := p.coupons.ResolveDiscount(ctx, couponCode, totals.Subtotal)
	if err != nil {
		return nil, err
	}

	return p.save(ctx, userID, totals, res)
}

// Refresh re-derives the total after a cart change, re-applying the coupon
// the user selected against the new subtotal. A coupon that does not apply to
// this subtotal stays selected and is tried again on the next change.
func (p *Pipeline) Refresh(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	totals, err := p.totals.Breakdown(ctx, userID)
	if err != nil {
		return nil, err
	}

	var res coupon.Resolution
	current, err := p.orders.GetLatest(ctx, userID)
	switch {
	case err == nil:
		if selected := selectedCoupon(current); selected.Valid {
			res, err = p.coupons.Reapply(ctx, selected.UUID, totals.Subtotal)
			if err != nil {
				return nil, err
			}
		}
	case !errors.Is(err, ordertotal.ErrOrderTotalNotFound):
		return nil, err
	}

	return p.save(ctx, userID, totals, res)
}

// selectedCoupon falls back to the applied coupon for rows written before
// selections were stored.
func selectedCoupon(t *ordertotal.OrderTotal) uuid.NullUUID {
	if t.SelectedCouponID.Valid {
		return t.SelectedCouponID
	}
	return t.AppliedCouponID
}

func (p *Pipeline) save(ctx context.Context, userID uuid.UUID, totals Totals, res coupon.Resolution) (*Summary, error) {
	saved, err := p.orders.SaveOrderTotal(ctx, ordertotal.SaveInput{
		UserID:           userID,
		ProductPrice:     totals.ProductPrice,
		ContentPrice:     totals.ContentPrice,
		RawFinalPrice:    totals.Subtotal,
		WordCount:        totals.WordCount,
		DiscountValue:    res.DiscountValue,
		CouponID:         res.AppliedCouponID(),
		SelectedCouponID: res.SelectedCouponID(),
	})
	if err != nil {
		return nil, fmt.Errorf("service: failed to recalculate order total: %w", err)
	}

	return &Summary{Totals: totals, Coupon: res, OrderTotal: saved}, nil
}

// Watch refreshes a user's order total whenever their cart changes. Refreshes
// run in their own goroutines; the returned func unsubscribes and waits for
// the ones in flight.
func (p *Pipeline) Watch(ctx context.Context, sub events.Subscriber) func() {
	var (
		mu      sync.RWMutex
		stopped bool
	)

	unsubscribe := sub.Subscribe(func(e events.Event) {
		if e.UserID == uuid.Nil {
			return
		}
		mu.RLock()
		defer mu.RUnlock()
		if stopped {
			return
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.refreshInBackground(ctx, e)
		}()
	}, events.CartTopics...)

	return func() {
		unsubscribe()
		mu.Lock()
		stopped = true
		mu.Unlock()
		p.wg.Wait()
	}
}

func (p *Pipeline) refreshInBackground(ctx context.Context, e events.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic_value", r).Stringer("user_id", e.UserID).Msg("service: panic while refreshing order total")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.refreshTimeout)
	defer cancel()

	if _, err := p.Refresh(ctx, e.UserID); err != nil {
		log.Error().Err(err).Stringer("user_id", e.UserID).Stringer("topic", e.Topic).Msg("service: failed to refresh order total")
	}
}
