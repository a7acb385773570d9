package ordertotal

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/content-checkout/internal/events"
	"github.com/vasiliy-maslov/content-checkout/internal/money"
)

var ErrInvalidAmount = errors.New("amounts must not be negative")

type Service interface {
	// SaveOrderTotal persists the discounted total as the user's single live
	// row and announces it on the bus.
	SaveOrderTotal(ctx context.Context, in SaveInput) (*OrderTotal, error)
	GetLatest(ctx context.Context, userID uuid.UUID) (*OrderTotal, error)
}

type service struct {
	repo Repository
	bus  events.Publisher
}

func NewService(repo Repository, bus events.Publisher) Service {
	return &service{repo: repo, bus: bus}
}

func (s *service) SaveOrderTotal(ctx context.Context, in SaveInput) (*OrderTotal, error) {
	if in.UserID == uuid.Nil {
		return nil, errors.New("service: user id cannot be nil")
	}
	if in.ProductPrice < 0 || in.ContentPrice < 0 || in.RawFinalPrice < 0 || in.DiscountValue < 0 || in.WordCount < 0 {
		return nil, ErrInvalidAmount
	}

	row := &OrderTotal{
		UserID:            in.UserID,
		TotalProductPrice: money.Round(in.ProductPrice),
		TotalContentPrice: money.Round(in.ContentPrice),
		TotalFinalPrice:   money.SubtractFloor(in.RawFinalPrice, in.DiscountValue),
		TotalWordCount:    in.WordCount,
		AppliedCouponID:   in.CouponID,
		SelectedCouponID:  in.SelectedCouponID,
		DiscountValue:     money.Round(in.DiscountValue),
	}

	saved, err := s.upsert(ctx, row)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", in.UserID).Msg("service: failed to save order total")
		return nil, fmt.Errorf("service: failed to save order total: %w", err)
	}

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Topic:      events.TopicOrderTotalUpdated,
			UserID:     saved.UserID,
			FinalPrice: saved.TotalFinalPrice,
		})
	}
	log.Debug().Stringer("user_id", saved.UserID).Float64("total_final_price", saved.TotalFinalPrice).Msg("service: order total saved")

	return saved, nil
}

// upsert updates the latest row of the user or inserts the first one. Losing an
// insert race to another writer falls back to updating the winner's row.
func (s *service) upsert(ctx context.Context, row *OrderTotal) (*OrderTotal, error) {
	existing, err := s.repo.FetchLatestByUser(ctx, row.UserID)
	switch {
	case err == nil:
		return s.repo.Update(ctx, existing.ID, row)
	case !errors.Is(err, ErrOrderTotalNotFound):
		return nil, err
	}

	inserted, err := s.repo.Insert(ctx, row)
	if !errors.Is(err, ErrDuplicateOrderTotal) {
		return inserted, err
	}

	log.Warn().Stringer("user_id", row.UserID).Msg("service: concurrent order total insert, updating instead")
	existing, err = s.repo.FetchLatestByUser(ctx, row.UserID)
	if err != nil {
		return nil, err
	}
	return s.repo.Update(ctx, existing.ID, row)
}

func (s *service) GetLatest(ctx context.Context, userID uuid.UUID) (*OrderTotal, error) {
	t, err := s.repo.FetchLatestByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrOrderTotalNotFound) {
			return nil, ErrOrderTotalNotFound
		}
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to fetch order total")
		return nil, fmt.Errorf("service: failed to fetch order total: %w", err)
	}
	return t, nil
}
