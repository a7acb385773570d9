package ordertotal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrOrderTotalNotFound  = errors.New("order total not found")
	ErrDuplicateOrderTotal = errors.New("order total already exists for user")
)

const totalColumns = `id, user_id, total_product_price, total_content_price, total_final_price, total_word_count, applied_coupon_id, selected_coupon_id, discount_value, created_at, updated_at`

type Repository interface {
	FetchLatestByUser(ctx context.Context, userID uuid.UUID) (*OrderTotal, error)
	Insert(ctx context.Context, row *OrderTotal) (*OrderTotal, error)
	// Update overwrites the price, word count and coupon columns of row id.
	Update(ctx context.Context, id uuid.UUID, row *OrderTotal) (*OrderTotal, error)
}

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type postgresRepository struct {
	db DB
}

func NewRepository(db DB) Repository {
	return &postgresRepository{db: db}
}

func scanTotal(row pgx.Row) (*OrderTotal, error) {
	var t OrderTotal
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.TotalProductPrice,
		&t.TotalContentPrice,
		&t.TotalFinalPrice,
		&t.TotalWordCount,
		&t.AppliedCouponID,
		&t.SelectedCouponID,
		&t.DiscountValue,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *postgresRepository) FetchLatestByUser(ctx context.Context, userID uuid.UUID) (*OrderTotal, error) {
	query := `
		SELECT ` + totalColumns + `
		FROM order_totals
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`

	t, err := scanTotal(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderTotalNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order total for user id %s: %w", userID, err)
	}
	return t, nil
}

func (r *postgresRepository) Insert(ctx context.Context, row *OrderTotal) (*OrderTotal, error) {
	if row.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, fmt.Errorf("repository: failed to generate order total ID: %w", err)
		}
		row.ID = id
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO order_totals (` + totalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING ` + totalColumns

	t, err := scanTotal(r.db.QueryRow(ctx, query,
		row.ID,
		row.UserID,
		row.TotalProductPrice,
		row.TotalContentPrice,
		row.TotalFinalPrice,
		row.TotalWordCount,
		row.AppliedCouponID,
		row.SelectedCouponID,
		row.DiscountValue,
		now,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrDuplicateOrderTotal
		}
		return nil, fmt.Errorf("repository: failed to insert order total for user id %s: %w", row.UserID, err)
	}
	return t, nil
}

func (r *postgresRepository) Update(ctx context.Context, id uuid.UUID, row *OrderTotal) (*OrderTotal, error) {
	query := `
		UPDATE order_totals
		SET total_product_price = $1,
			total_content_price = $2,
			total_final_price = $3,
			total_word_count = $4,
			applied_coupon_id = $5,
			selected_coupon_id = $6,
			discount_value = $7,
			updated_at = $8
		WHERE id = $9
		RETURNING ` + totalColumns

	t, err := scanTotal(r.db.QueryRow(ctx, query,
		row.TotalProductPrice,
		row.TotalContentPrice,
		row.TotalFinalPrice,
		row.TotalWordCount,
		row.AppliedCouponID,
		row.SelectedCouponID,
		row.DiscountValue,
		time.Now().UTC(),
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderTotalNotFound
		}
		return nil, fmt.Errorf("repository: failed to update order total %s: %w", id, err)
	}
	return t, nil
}
