package coupon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrCouponNotFound = errors.New("coupon not found")

const couponColumns = `id, code, name, discount_type, discount_value, min_order_value, valid_from, valid_to, max_uses, used_count, active, created_at, updated_at`

type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Coupon, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

// FindByCode matches codes case-insensitively.
func (r *postgresRepository) FindByCode(ctx context.Context, code string) (*Coupon, error) {
	var c Coupon
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE UPPER(code) = UPPER($1) LIMIT 1`
	err := r.db.GetContext(ctx, &c, query, strings.TrimSpace(code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("repository: failed to select coupon by code: %w", err)
	}
	return &c, nil
}

func (r *postgresRepository) FindByID(ctx context.Context, id uuid.UUID) (*Coupon, error) {
	var c Coupon
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`
	err := r.db.GetContext(ctx, &c, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("repository: failed to select coupon by id %s: %w", id, err)
	}
	return &c, nil
}
