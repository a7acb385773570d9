package checkout

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/content-checkout/internal/events"
)

type Status int

const (
	StatusLoading Status = iota
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "loading":
		*s = StatusLoading
	case "ready":
		*s = StatusReady
	default:
		return fmt.Errorf("unknown validation status %q", text)
	}
	return nil
}

// ValidationState is what the checkout gate reads. IsValid is only meaningful
// once Status is StatusReady.
type ValidationState struct {
	Status    Status           `json:"status"`
	IsValid   bool             `json:"is_valid"`
	Result    ValidationResult `json:"result"`
	Error     string           `json:"error,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// CanProceed is true only for a finished, passing validation.
func (s ValidationState) CanProceed() bool {
	return s.Status == StatusReady && s.IsValid
}

const eventRevalidateTimeout = 10 * time.Second

// ValidationController keeps the checkout validity of one user current. It
// revalidates on cart events until closed. Any failure leaves it ready and
// invalid.
type ValidationController struct {
	userID uuid.UUID
	items  CartReader
	sub    events.Subscriber
	opts   ValidationOptions

	mu      sync.RWMutex
	state   ValidationState
	latest  uint64
	seq     atomic.Uint64
	unsub   func()
	started bool
	closed  bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewValidationController(userID uuid.UUID, items CartReader, sub events.Subscriber, opts ValidationOptions) *ValidationController {
	ctx, cancel := context.WithCancel(context.Background())
	return &ValidationController{
		userID: userID,
		items:  items,
		sub:    sub,
		opts:   opts,
		state:  ValidationState{Status: StatusLoading, Result: ValidationResult{Errors: []string{}, Items: []ItemValidation{}}},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the cart topics and runs the first validation.
func (c *ValidationController) Start(ctx context.Context) ValidationState {
	c.mu.Lock()
	if !c.started && !c.closed {
		c.started = true
		if c.sub != nil {
			c.unsub = c.sub.Subscribe(c.onEvent, events.CartTopics...)
		}
	}
	c.mu.Unlock()

	return c.Revalidate(ctx)
}

func (c *ValidationController) onEvent(e events.Event) {
	if e.UserID != c.userID {
		return
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	c.wg.Add(1)
	c.mu.RUnlock()

	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, eventRevalidateTimeout)
		defer cancel()
		c.Revalidate(ctx)
	}()
}

// Revalidate re-fetches the cart and validates it. A response to a request
// that has since been superseded is dropped and the current state, possibly
// still loading, is returned instead.
func (c *ValidationController) Revalidate(ctx context.Context) ValidationState {
	seq := c.seq.Add(1)

	c.mu.Lock()
	c.latest = seq
	c.state.Status = StatusLoading
	c.mu.Unlock()

	next := c.run(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.latest {
		log.Debug().Stringer("user_id", c.userID).Uint64("seq", seq).Msg("service: dropping superseded validation")
		return c.state
	}
	c.state = next
	return c.state
}

func (c *ValidationController) run(ctx context.Context) (state ValidationState) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic_value", r).Stringer("user_id", c.userID).Msg("service: panic during checkout validation")
			state = failed(fmt.Sprintf("validation panicked: %v", r))
		}
	}()

	items, err := c.items.ListItems(ctx, c.userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", c.userID).Msg("service: failed to fetch cart for validation")
		return failed(err.Error())
	}

	result := ValidateCheckout(items, c.opts)
	return ValidationState{
		Status:    StatusReady,
		IsValid:   result.IsValid,
		Result:    result,
		UpdatedAt: time.Now().UTC(),
	}
}

func failed(reason string) ValidationState {
	return ValidationState{
		Status:    StatusReady,
		IsValid:   false,
		Result:    ValidationResult{Errors: []string{}, Items: []ItemValidation{}},
		Error:     reason,
		UpdatedAt: time.Now().UTC(),
	}
}

func (c *ValidationController) State() ValidationState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *ValidationController) UserID() uuid.UUID {
	return c.userID
}

// Close unsubscribes and waits for event-triggered revalidations. It is safe
// to call more than once.
func (c *ValidationController) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		unsub := c.unsub
		c.unsub = nil
		c.mu.Unlock()

		if unsub != nil {
			unsub()
		}
		c.cancel()
		c.wg.Wait()
	})
}

// ControllerRegistry hands out one started ValidationController per user.
// Controllers not fetched for longer than the idle TTL are closed by the
// eviction loop, see StartEviction.
type ControllerRegistry struct {
	items CartReader
	sub   events.Subscriber
	opts  ValidationOptions

	mu          sync.Mutex
	controllers map[uuid.UUID]*registryEntry
	closed      bool

	stop     chan struct{}
	stopOnce sync.Once
	loop     sync.WaitGroup
}

type registryEntry struct {
	controller *ValidationController
	lastUsed   time.Time
}

func NewControllerRegistry(items CartReader, sub events.Subscriber, opts ValidationOptions) *ControllerRegistry {
	return &ControllerRegistry{
		items:       items,
		sub:         sub,
		opts:        opts,
		controllers: make(map[uuid.UUID]*registryEntry),
		stop:        make(chan struct{}),
	}
}

// Get returns the user's controller, starting one on first use. ok is false
// once the registry is closed.
func (r *ControllerRegistry) Get(ctx context.Context, userID uuid.UUID) (*ValidationController, bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, false
	}
	e, exists := r.controllers[userID]
	if !exists {
		e = &registryEntry{controller: NewValidationController(userID, r.items, r.sub, r.opts)}
		r.controllers[userID] = e
	}
	e.lastUsed = time.Now()
	c := e.controller
	r.mu.Unlock()

	if !exists {
		c.Start(ctx)
	}
	return c, true
}

// Release closes and forgets the user's controller.
func (r *ControllerRegistry) Release(userID uuid.UUID) {
	r.mu.Lock()
	e, ok := r.controllers[userID]
	delete(r.controllers, userID)
	r.mu.Unlock()

	if ok {
		e.controller.Close()
	}
}

// EvictIdle closes the controllers not fetched within ttl and returns how
// many were closed.
func (r *ControllerRegistry) EvictIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	r.mu.Lock()
	var idle []*ValidationController
	for userID, e := range r.controllers {
		if e.lastUsed.Before(cutoff) {
			idle = append(idle, e.controller)
			delete(r.controllers, userID)
		}
	}
	r.mu.Unlock()

	for _, c := range idle {
		c.Close()
	}
	if len(idle) > 0 {
		log.Debug().Int("count", len(idle)).Dur("idle_ttl", ttl).Msg("service: idle validation controllers evicted")
	}
	return len(idle)
}

// StartEviction runs EvictIdle every half ttl until Close. A non-positive ttl
// disables eviction.
func (r *ControllerRegistry) StartEviction(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	interval := max(ttl/2, time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.loop.Add(1)
	go func() {
		defer r.loop.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.EvictIdle(ttl)
			}
		}
	}()
}

func (r *ControllerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

// Close stops the eviction loop and closes every controller.
func (r *ControllerRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	controllers := r.controllers
	r.controllers = make(map[uuid.UUID]*registryEntry)
	r.mu.Unlock()

	r.stopOnce.Do(func() { close(r.stop) })
	r.loop.Wait()

	for _, e := range controllers {
		e.controller.Close()
	}
	log.Info().Int("count", len(controllers)).Msg("service: validation controllers closed")
}
