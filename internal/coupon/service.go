package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// User-facing reasons a code does not apply.
const (
	MsgNotFound     = "Cupom inválido"
	MsgInactive     = "Cupom inativo"
	MsgNotYetValid  = "Cupom ainda não está válido"
	MsgExpired      = "Cupom expirado"
	MsgUsageLimit   = "Cupom atingiu o limite de uso"
	MsgUnknownType  = "Cupom com regra de desconto inválida"
	msgBelowMinimum = "Valor mínimo do pedido para este cupom: %s"
)

type Service interface {
	// ResolveDiscount applies code to base. An empty code yields a zero
	// resolution. The error return is reserved for store failures.
	ResolveDiscount(ctx context.Context, code string, base float64) (Resolution, error)
	// Reapply re-resolves a previously selected coupon against a new base.
	Reapply(ctx context.Context, couponID uuid.UUID, base float64) (Resolution, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) Service {
	return &service{repo: repo, now: time.Now}
}

func (s *service) ResolveDiscount(ctx context.Context, code string, base float64) (Resolution, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Resolution{}, nil
	}

	c, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			log.Info().Str("code", code).Msg("service: coupon code not found")
			return Resolution{Error: MsgNotFound}, nil
		}
		log.Error().Err(err).Str("code", code).Msg("service: failed to fetch coupon by code")
		return Resolution{}, fmt.Errorf("service: failed to resolve coupon: %w", err)
	}

	return s.apply(c, base), nil
}

func (s *service) Reapply(ctx context.Context, couponID uuid.UUID, base float64) (Resolution, error) {
	if couponID == uuid.Nil {
		return Resolution{}, nil
	}

	c, err := s.repo.FindByID(ctx, couponID)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			log.Warn().Stringer("coupon_id", couponID).Msg("service: applied coupon no longer exists")
			return Resolution{Error: MsgNotFound}, nil
		}
		log.Error().Err(err).Stringer("coupon_id", couponID).Msg("service: failed to fetch coupon by id")
		return Resolution{}, fmt.Errorf("service: failed to reapply coupon: %w", err)
	}

	return s.apply(c, base), nil
}

func (s *service) apply(c *Coupon, base float64) Resolution {
	if msg := s.inapplicable(c, base); msg != "" {
		return Resolution{SelectedCoupon: c, Error: msg}
	}

	discount, ok := Discount(c.DiscountType, c.DiscountValue, base)
	if !ok {
		log.Warn().Stringer("coupon_id", c.ID).Stringer("discount_type", c.DiscountType).Msg("service: unsupported coupon discount type")
		return Resolution{SelectedCoupon: c, Error: MsgUnknownType}
	}

	return Resolution{DiscountValue: discount, AppliedCoupon: c, SelectedCoupon: c}
}

func (s *service) inapplicable(c *Coupon, base float64) string {
	now := s.now()
	switch {
	case !c.Active:
		return MsgInactive
	case c.ValidFrom != nil && now.Before(*c.ValidFrom):
		return MsgNotYetValid
	case c.ValidTo != nil && now.After(*c.ValidTo):
		return MsgExpired
	case c.MaxUses != nil && c.UsedCount >= *c.MaxUses:
		return MsgUsageLimit
	case decimal.NewFromFloat(base).LessThan(c.MinOrderValue):
		return fmt.Sprintf(msgBelowMinimum, c.MinOrderValue.StringFixed(2))
	}
	return ""
}

// Discount computes the discount a rule grants on base, clamped to [0, base]
// and rounded to cents. ok is false for unknown rule types.
func Discount(dt DiscountType, value decimal.Decimal, base float64) (float64, bool) {
	b := decimal.NewFromFloat(base)
	if b.IsNegative() {
		b = decimal.Zero
	}

	var d decimal.Decimal
	switch dt {
	case DiscountPercentage:
		d = b.Mul(value).Div(decimal.NewFromInt(100))
	case DiscountFixed:
		d = value
	default:
		return 0, false
	}

	if d.IsNegative() {
		d = decimal.Zero
	}
	if d.GreaterThan(b) {
		d = b
	}

	f, _ := d.Round(2).Float64()
	return f, true
}
