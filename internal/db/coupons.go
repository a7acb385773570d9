package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ConnectCoupons opens the coupon-management database. It may be the checkout
// database itself.
func ConnectCoupons(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coupon database: %w", err)
	}

	log.Info().Msg("Connected to coupon database")
	return db, nil
}
