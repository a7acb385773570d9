package ordertotal

import (
	"time"

	"github.com/gofrs/uuid"
)

// OrderTotal is the single live checkout total of a user. TotalFinalPrice is
// already discount-adjusted.
type OrderTotal struct {
	ID                uuid.UUID     `json:"id" db:"id"`
	UserID            uuid.UUID     `json:"user_id" db:"user_id"`
	TotalProductPrice float64       `json:"total_product_price" db:"total_product_price"`
	TotalContentPrice float64       `json:"total_content_price" db:"total_content_price"`
	TotalFinalPrice   float64       `json:"total_final_price" db:"total_final_price"`
	TotalWordCount    int           `json:"total_word_count" db:"total_word_count"`
	AppliedCouponID   uuid.NullUUID `json:"applied_coupon_id" db:"applied_coupon_id"`
	SelectedCouponID  uuid.NullUUID `json:"selected_coupon_id" db:"selected_coupon_id"`
	DiscountValue     float64       `json:"discount_value" db:"discount_value"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// SaveInput carries the undiscounted totals and the discount to persist.
// CouponID is the applied coupon; SelectedCouponID is the coupon the user
// chose, applied or not.
type SaveInput struct {
	UserID           uuid.UUID
	ProductPrice     float64
	ContentPrice     float64
	RawFinalPrice    float64
	WordCount        int
	DiscountValue    float64
	CouponID         uuid.NullUUID
	SelectedCouponID uuid.NullUUID
}
