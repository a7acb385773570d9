package checkout_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/content-checkout/internal/cart"
	"github.com/vasiliy-maslov/content-checkout/internal/coupon"
	"github.com/vasiliy-maslov/content-checkout/internal/ordertotal"
)

// fakeCart serves a mutable item list. hook runs after the items are read,
// before they are returned.
type fakeCart struct {
	mu    sync.Mutex
	items []cart.LineItem
	err   error
	calls int
	hook  func(call int)
}

func (f *fakeCart) ListItems(_ context.Context, _ uuid.UUID) ([]cart.LineItem, error) {
	f.mu.Lock()
	f.calls++
	call, items, err, hook := f.calls, f.items, f.err, f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return items, err
}

func (f *fakeCart) set(items []cart.LineItem, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
	f.err = err
}

func (f *fakeCart) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func lineItem(niche, service string, qty int, total float64) cart.LineItem {
	item := cart.LineItem{
		ID:               uuid.Must(uuid.NewV4()),
		Quantity:         qty,
		NicheSelection:   json.RawMessage(niche),
		ServiceSelection: json.RawMessage(service),
	}
	if total >= 0 {
		item.ItemTotal = &total
	}
	return item
}

type couponStore struct {
	byID map[uuid.UUID]*coupon.Coupon
}

func newCouponStore(coupons ...*coupon.Coupon) *couponStore {
	s := &couponStore{byID: make(map[uuid.UUID]*coupon.Coupon)}
	for _, c := range coupons {
		s.byID[c.ID] = c
	}
	return s
}

func (s *couponStore) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	for _, c := range s.byID {
		if strings.EqualFold(c.Code, code) {
			return c, nil
		}
	}
	return nil, coupon.ErrCouponNotFound
}

func (s *couponStore) FindByID(_ context.Context, id uuid.UUID) (*coupon.Coupon, error) {
	if c, ok := s.byID[id]; ok {
		return c, nil
	}
	return nil, coupon.ErrCouponNotFound
}

type totalStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]ordertotal.OrderTotal
}

func newTotalStore() *totalStore {
	return &totalStore{rows: make(map[uuid.UUID]ordertotal.OrderTotal)}
}

func (s *totalStore) FetchLatestByUser(_ context.Context, userID uuid.UUID) (*ordertotal.OrderTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[userID]
	if !ok {
		return nil, ordertotal.ErrOrderTotalNotFound
	}
	return &row, nil
}

func (s *totalStore) Insert(_ context.Context, row *ordertotal.OrderTotal) (*ordertotal.OrderTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[row.UserID]; ok {
		return nil, ordertotal.ErrDuplicateOrderTotal
	}
	saved := *row
	saved.ID = uuid.Must(uuid.NewV4())
	s.rows[row.UserID] = saved
	return &saved, nil
}

func (s *totalStore) Update(_ context.Context, id uuid.UUID, row *ordertotal.OrderTotal) (*ordertotal.OrderTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, existing := range s.rows {
		if existing.ID == id {
			saved := *row
			saved.ID = id
			saved.UserID = userID
			s.rows[userID] = saved
			return &saved, nil
		}
	}
	return nil, ordertotal.ErrOrderTotalNotFound
}

func (s *totalStore) get(userID uuid.UUID) (ordertotal.OrderTotal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[userID]
	return row, ok
}
