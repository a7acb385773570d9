// Package events is the in-process notification bus that tells checkout components
// a user's cart or order total changed.
package events

import (
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

type Topic string

const (
	TopicCartReloaded      Topic = "cart-reloaded"
	TopicNicheChanged      Topic = "niche-changed"
	TopicServiceChanged    Topic = "service-changed"
	TopicOrderTotalUpdated Topic = "order-total-updated"
)

func (t Topic) String() string {
	return string(t)
}

// CartTopics are the topics after which a cart must be re-read.
var CartTopics = []Topic{TopicCartReloaded, TopicNicheChanged, TopicServiceChanged}

// Event is published after a write has been persisted.
type Event struct {
	Topic  Topic     `json:"topic"`
	UserID uuid.UUID `json:"user_id"`
	// ItemID is set for niche-changed and service-changed.
	ItemID uuid.UUID `json:"item_id"`
	// FinalPrice is set for order-total-updated.
	FinalPrice float64   `json:"final_price,omitempty"`
	At         time.Time `json:"at"`
}

type Handler func(Event)

type Publisher interface {
	Publish(Event)
}

type Subscriber interface {
	// Subscribe registers h for the given topics. The returned func must be called on teardown.
	Subscribe(h Handler, topics ...Topic) (unsubscribe func())
}

type Bus interface {
	Publisher
	Subscriber
}

type subscription struct {
	id      uint64
	handler Handler
}

type bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic][]subscription
}

func NewBus() Bus {
	return &bus{subs: make(map[Topic][]subscription)}
}

// Publish delivers e synchronously to every subscriber of its topic. A panicking
// handler is logged and does not stop delivery to the others.
func (b *bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Topic]))
	for _, s := range b.subs[e.Topic] {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		deliver(h, e)
	}
}

func deliver(h Handler, e Event) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Stringer("topic", e.Topic).Stringer("user_id", e.UserID).Msg("events: subscriber panicked")
		}
	}()
	h(e)
}

func (b *bus) Subscribe(h Handler, topics ...Topic) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], subscription{id: id, handler: h})
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, t := range topics {
				kept := make([]subscription, 0, len(b.subs[t]))
				for _, s := range b.subs[t] {
					if s.id != id {
						kept = append(kept, s)
					}
				}
				if len(kept) == 0 {
					delete(b.subs, t)
				} else {
					b.subs[t] = kept
				}
			}
		})
	}
}
