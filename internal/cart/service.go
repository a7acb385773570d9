package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/content-checkout/internal/events"
	"golang.org/x/sync/singleflight"
)

type Service interface {
	ListItems(ctx context.Context, userID uuid.UUID) ([]LineItem, error)
	AddItems(ctx context.Context, userID uuid.UUID, items []NewItem) ([]LineItem, error)
	SetNiche(ctx context.Context, userID, itemID uuid.UUID, raw json.RawMessage) (*LineItem, error)
	SetService(ctx context.Context, userID, itemID uuid.UUID, raw json.RawMessage) (*LineItem, error)
	SetQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*LineItem, error)
	RemoveItem(ctx context.Context, userID, itemID uuid.UUID) error
	Reload(ctx context.Context, userID uuid.UUID) ([]LineItem, error)
}

// listTimeout bounds a shared cart fetch, which outlives any single caller.
const listTimeout = 10 * time.Second

type service struct {
	repo  Repository
	cache ResumeCache
	bus   events.Publisher
	sfg   singleflight.Group

	mu       sync.Mutex
	versions map[uuid.UUID]uint64
}

func NewService(repo Repository, cache ResumeCache, bus events.Publisher) Service {
	if cache == nil {
		cache = NoopCache{}
	}
	return &service{repo: repo, cache: cache, bus: bus, versions: make(map[uuid.UUID]uint64)}
}

// ListItems coalesces concurrent reads of the same cart version. A read that
// started before a write is never joined by readers arriving after it, and its
// result is not cached.
func (s *service) ListItems(ctx context.Context, userID uuid.UUID) ([]LineItem, error) {
	version := s.version(userID)
	key := userID.String() + ":" + strconv.FormatUint(version, 10)

	v, err, _ := s.sfg.Do(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listTimeout)
		defer cancel()

		items, err := s.cache.Get(fetchCtx, userID)
		if err == nil {
			return items, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			log.Warn().Err(err).Stringer("user_id", userID).Msg("service: resume cache read failed")
		}

		items, err = s.repo.FetchByUser(fetchCtx, userID)
		if err != nil {
			return nil, err
		}

		s.remember(fetchCtx, userID, version, items)
		return items, nil
	})
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to fetch cart items")
		return nil, fmt.Errorf("service: failed to fetch cart items: %w", err)
	}

	return v.([]LineItem), nil
}

func (s *service) AddItems(ctx context.Context, userID uuid.UUID, newItems []NewItem) ([]LineItem, error) {
	if len(newItems) == 0 {
		return nil, ErrNoItems
	}

	now := time.Now().UTC()
	items := make([]LineItem, 0, len(newItems))
	for _, n := range newItems {
		qty := n.Quantity
		if qty == 0 {
			qty = 1
		}
		if qty < 1 {
			return nil, ErrInvalidQuantity
		}
		if n.EntryID == uuid.Nil {
			return nil, errors.New("service: entry id in cart item cannot be nil")
		}

		id, err := uuid.NewV4()
		if err != nil {
			return nil, fmt.Errorf("service: failed to generate cart item ID: %w", err)
		}

		item := LineItem{
			ID:               id,
			UserID:           userID,
			EntryID:          n.EntryID,
			ProductURL:       StripScheme(n.ProductURL),
			Quantity:         qty,
			NicheSelection:   normalizeSelection(n.NicheSelection),
			ServiceSelection: normalizeSelection(n.ServiceSelection),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		total := ComputeItemTotal(item)
		item.ItemTotal = &total
		items = append(items, item)
	}

	if err := s.repo.InsertMany(ctx, items); err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to insert cart items")
		return nil, fmt.Errorf("service: failed to add cart items: %w", err)
	}

	s.invalidate(userID)
	s.publish(events.Event{Topic: events.TopicCartReloaded, UserID: userID})
	log.Info().Stringer("user_id", userID).Int("count", len(items)).Msg("service: cart items added")

	return items, nil
}

func (s *service) SetNiche(ctx context.Context, userID, itemID uuid.UUID, raw json.RawMessage) (*LineItem, error) {
	return s.edit(ctx, userID, itemID, events.TopicNicheChanged, func(item *LineItem, patch *Patch) error {
		item.NicheSelection = normalizeSelection(raw)
		patch.NicheSelection = item.NicheSelection
		return nil
	})
}

func (s *service) SetService(ctx context.Context, userID, itemID uuid.UUID, raw json.RawMessage) (*LineItem, error) {
	return s.edit(ctx, userID, itemID, events.TopicServiceChanged, func(item *LineItem, patch *Patch) error {
		item.ServiceSelection = normalizeSelection(raw)
		patch.ServiceSelection = item.ServiceSelection
		return nil
	})
}

func (s *service) SetQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*LineItem, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	return s.edit(ctx, userID, itemID, events.TopicCartReloaded, func(item *LineItem, patch *Patch) error {
		item.Quantity = quantity
		patch.Quantity = &quantity
		return nil
	})
}

// edit loads an owned item, applies mutate, re-prices it and persists only the
// touched columns plus the new total.
func (s *service) edit(ctx context.Context, userID, itemID uuid.UUID, topic events.Topic, mutate func(*LineItem, *Patch) error) (*LineItem, error) {
	item, err := s.owned(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}

	var patch Patch
	if err := mutate(item, &patch); err != nil {
		return nil, err
	}
	total := ComputeItemTotal(*item)
	patch.ItemTotal = &total

	updated, err := s.repo.Update(ctx, itemID, patch)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, ErrItemNotFound
		}
		log.Error().Err(err).Stringer("item_id", itemID).Stringer("topic", topic).Msg("service: failed to update cart item")
		return nil, fmt.Errorf("service: failed to update cart item: %w", err)
	}

	s.invalidate(userID)
	s.publish(events.Event{Topic: topic, UserID: userID, ItemID: itemID})

	return updated, nil
}

func (s *service) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) error {
	if _, err := s.owned(ctx, userID, itemID); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, itemID); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return ErrItemNotFound
		}
		log.Error().Err(err).Stringer("item_id", itemID).Msg("service: failed to delete cart item")
		return fmt.Errorf("service: failed to delete cart item: %w", err)
	}

	s.invalidate(userID)
	s.publish(events.Event{Topic: events.TopicCartReloaded, UserID: userID})
	return nil
}

// Reload drops the cached resume rows and tells every reader to refetch.
func (s *service) Reload(ctx context.Context, userID uuid.UUID) ([]LineItem, error) {
	s.invalidate(userID)

	items, err := s.ListItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.publish(events.Event{Topic: events.TopicCartReloaded, UserID: userID})
	return items, nil
}

func (s *service) owned(ctx context.Context, userID, itemID uuid.UUID) (*LineItem, error) {
	item, err := s.repo.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, ErrItemNotFound
		}
		log.Error().Err(err).Stringer("item_id", itemID).Msg("service: failed to get cart item")
		return nil, fmt.Errorf("service: failed to get cart item: %w", err)
	}
	if item.UserID != userID {
		log.Warn().Stringer("item_id", itemID).Stringer("user_id", userID).Msg("service: cart item belongs to another user")
		return nil, ErrItemNotFound
	}
	return item, nil
}

func (s *service) version(userID uuid.UUID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[userID]
}

// remember caches items fetched at version. A write that lands while the
// cache is being filled bumps the version, and the entry is dropped again.
func (s *service) remember(ctx context.Context, userID uuid.UUID, version uint64, items []LineItem) {
	if s.version(userID) != version {
		log.Debug().Stringer("user_id", userID).Msg("service: cart changed during fetch, not caching")
		return
	}
	if err := s.cache.Set(ctx, userID, items); err != nil {
		log.Warn().Err(err).Stringer("user_id", userID).Msg("service: resume cache write failed")
		return
	}
	if s.version(userID) != version {
		if err := s.cache.Delete(ctx, userID); err != nil {
			log.Warn().Err(err).Stringer("user_id", userID).Msg("service: failed to drop stale resume cache entry")
		}
	}
}

func (s *service) invalidate(userID uuid.UUID) {
	s.mu.Lock()
	s.versions[userID]++
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		log.Warn().Err(err).Stringer("user_id", userID).Msg("service: failed to invalidate resume cache")
	}
}

func (s *service) publish(e events.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}
