package coupon_test

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/content-checkout/internal/coupon"
)

var db *sqlx.DB

func TestMain(m *testing.M) {
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		var err error
		db, err = sqlx.Connect("postgres", dsn)
		if err != nil {
			log.Fatalf("Failed to connect to test database: %v", err)
		}
	}

	exitCode := m.Run()

	if db != nil {
		db.Close()
	}
	os.Exit(exitCode)
}

func setupRepo(t *testing.T) coupon.Repository {
	t.Helper()
	if db == nil {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	truncate := func() {
		if _, err := db.Exec("TRUNCATE TABLE coupons"); err != nil {
			t.Fatalf("Failed to truncate table: %v", err)
		}
	}
	truncate()
	t.Cleanup(truncate)

	return coupon.NewRepository(db)
}

func insertCoupon(t *testing.T, code string, maxUses *int) uuid.UUID {
	t.Helper()
	id := uuid.Must(uuid.NewV4())
	_, err := db.Exec(`
		INSERT INTO coupons (id, code, name, discount_type, discount_value, min_order_value, max_uses, used_count, active)
		VALUES ($1, $2, $3, 'percentage', 12.5, 100, $4, 0, TRUE)`,
		id, code, "Test coupon", maxUses)
	require.NoError(t, err)
	return id
}

func TestPostgresRepository_FindByCode(t *testing.T) {
	repo := setupRepo(t)
	limit := 3
	id := insertCoupon(t, "WELCOME10", &limit)

	c, err := repo.FindByCode(context.Background(), " welcome10 ")
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
	assert.Equal(t, coupon.DiscountPercentage, c.DiscountType)
	assert.True(t, c.DiscountValue.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, c.MinOrderValue.Equal(decimal.NewFromInt(100)))
	require.NotNil(t, c.MaxUses)
	assert.Equal(t, 3, *c.MaxUses)
	assert.Nil(t, c.ValidTo)

	_, err = repo.FindByCode(context.Background(), "MISSING")
	assert.ErrorIs(t, err, coupon.ErrCouponNotFound)
}

func TestPostgresRepository_FindByID(t *testing.T) {
	repo := setupRepo(t)
	id := insertCoupon(t, "BLACKFRIDAY", nil)

	c, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "BLACKFRIDAY", c.Code)
	assert.Nil(t, c.MaxUses)

	_, err = repo.FindByID(context.Background(), uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, coupon.ErrCouponNotFound)
}
