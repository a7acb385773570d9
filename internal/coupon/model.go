package coupon

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

func (dt DiscountType) String() string {
	return string(dt)
}

// Coupon is owned by the coupon-management service; checkout only reads it.
type Coupon struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Code          string          `json:"code" db:"code"`
	Name          string          `json:"name" db:"name"`
	DiscountType  DiscountType    `json:"discount_type" db:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value" db:"discount_value"`
	MinOrderValue decimal.Decimal `json:"min_order_value" db:"min_order_value"`
	ValidFrom     *time.Time      `json:"valid_from,omitempty" db:"valid_from"`
	ValidTo       *time.Time      `json:"valid_to,omitempty" db:"valid_to"`
	MaxUses       *int            `json:"max_uses,omitempty" db:"max_uses"`
	UsedCount     int             `json:"used_count" db:"used_count"`
	Active        bool            `json:"active" db:"active"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Resolution is the outcome of applying a code to a base amount. Error is a
// user-facing message; it never carries I/O failures. SelectedCoupon is the
// coupon the code names, set even when it does not currently apply.
type Resolution struct {
	DiscountValue  float64 `json:"discount_value"`
	AppliedCoupon  *Coupon `json:"applied_coupon"`
	SelectedCoupon *Coupon `json:"selected_coupon,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// AppliedCouponID is NULL when no coupon applies.
func (r Resolution) AppliedCouponID() uuid.NullUUID {
	return nullID(r.AppliedCoupon)
}

// SelectedCouponID is NULL when the code named no existing coupon.
func (r Resolution) SelectedCouponID() uuid.NullUUID {
	return nullID(r.SelectedCoupon)
}

func nullID(c *Coupon) uuid.NullUUID {
	if c == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: c.ID, Valid: true}
}
