package checkout_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/content-checkout/internal/cart"
	"github.com/vasiliy-maslov/content-checkout/internal/checkout"
	"github.com/vasiliy-maslov/content-checkout/internal/events"
)

func validItems() []cart.LineItem {
	return []cart.LineItem{lineItem(`"Finance"`, `"Pacote"`, 1, 10)}
}

func invalidItems() []cart.LineItem {
	return []cart.LineItem{lineItem(`"Confirme o tipo de conteúdo"`, `"Pacote"`, 1, 10)}
}

func TestValidationController_StartsLoadingThenReady(t *testing.T) {
	fc := &fakeCart{}
	fc.set(validItems(), nil)
	c := checkout.NewValidationController(uuid.Must(uuid.NewV4()), fc, nil, checkout.DefaultValidationOptions())
	defer c.Close()

	assert.Equal(t, checkout.StatusLoading, c.State().Status)
	assert.False(t, c.State().CanProceed())

	state := c.Start(context.Background())
	assert.Equal(t, checkout.StatusReady, state.Status)
	assert.True(t, state.IsValid)
	assert.True(t, c.State().CanProceed())
}

func TestValidationController_FailsClosed(t *testing.T) {
	t.Run("fetch error", func(t *testing.T) {
		fc := &fakeCart{}
		fc.set(validItems(), errors.New("connection refused"))
		c := checkout.NewValidationController(uuid.Must(uuid.NewV4()), fc, nil, checkout.DefaultValidationOptions())
		defer c.Close()

		state := c.Start(context.Background())
		assert.Equal(t, checkout.StatusReady, state.Status)
		assert.False(t, state.IsValid)
		assert.Contains(t, state.Error, "connection refused")
	})

	t.Run("panic", func(t *testing.T) {
		fc := &fakeCart{hook: func(int) { panic("boom") }}
		c := checkout.NewValidationController(uuid.Must(uuid.NewV4()), fc, nil, checkout.DefaultValidationOptions())
		defer c.Close()

		state := c.Revalidate(context.Background())
		assert.Equal(t, checkout.StatusReady, state.Status)
		assert.False(t, state.IsValid)
		assert.False(t, state.CanProceed())
	})

	t.Run("valid then error", func(t *testing.T) {
		fc := &fakeCart{}
		fc.set(validItems(), nil)
		c := checkout.NewValidationController(uuid.Must(uuid.NewV4()), fc, nil, checkout.DefaultValidationOptions())
		defer c.Close()

		require.True(t, c.Start(context.Background()).IsValid)
		fc.set(nil, errors.New("timeout"))
		assert.False(t, c.Revalidate(context.Background()).IsValid)
	})
}

func TestValidationController_RevalidatesOnCartEvents(t *testing.T) {
	bus := events.NewBus()
	userID := uuid.Must(uuid.NewV4())
	fc := &fakeCart{}
	fc.set(invalidItems(), nil)
	c := checkout.NewValidationController(userID, fc, bus, checkout.DefaultValidationOptions())
	defer c.Close()

	require.False(t, c.Start(context.Background()).IsValid)
	calls := fc.callCount()

	bus.Publish(events.Event{Topic: events.TopicNicheChanged, UserID: uuid.Must(uuid.NewV4())})
	bus.Publish(events.Event{Topic: events.TopicOrderTotalUpdated, UserID: userID})
	assert.Equal(t, calls, fc.callCount(), "other users and other topics are ignored")

	fc.set(validItems(), nil)
	bus.Publish(events.Event{Topic: events.TopicNicheChanged, UserID: userID})

	assert.Eventually(t, func() bool {
		return c.State().CanProceed()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestValidationController_DropsSupersededResponse(t *testing.T) {
	release := make(chan struct{})
	fc := &fakeCart{}
	fc.set(invalidItems(), nil)
	fc.hook = func(call int) {
		if call == 1 {
			<-release
		}
	}
	c := checkout.NewValidationController(uuid.Must(uuid.NewV4()), fc, nil, checkout.DefaultValidationOptions())
	defer c.Close()

	done := make(chan checkout.ValidationState)
	go func() {
		done <- c.Revalidate(context.Background())
	}()
	require.Eventually(t, func() bool { return fc.callCount() == 1 }, time.Second, 5*time.Millisecond)

	fc.set(validItems(), nil)
	second := c.Revalidate(context.Background())
	require.True(t, second.IsValid)

	close(release)
	first := <-done

	assert.True(t, first.IsValid, "stale response must not be applied")
	assert.True(t, c.State().IsValid)
}

func TestValidationController_CloseUnsubscribes(t *testing.T) {
	bus := events.NewBus()
	userID := uuid.Must(uuid.NewV4())
	fc := &fakeCart{}
	fc.set(validItems(), nil)
	c := checkout.NewValidationController(userID, fc, bus, checkout.DefaultValidationOptions())
	c.Start(context.Background())

	c.Close()
	c.Close()

	calls := fc.callCount()
	bus.Publish(events.Event{Topic: events.TopicCartReloaded, UserID: userID})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, fc.callCount())
}

func TestValidationState_JSON(t *testing.T) {
	b, err := json.Marshal(checkout.ValidationState{Status: checkout.StatusReady, IsValid: true})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"status":"ready"`)
}

func TestControllerRegistry(t *testing.T) {
	bus := events.NewBus()
	fc := &fakeCart{}
	fc.set(validItems(), nil)
	reg := checkout.NewControllerRegistry(fc, bus, checkout.DefaultValidationOptions())

	alice := uuid.Must(uuid.NewV4())
	bob := uuid.Must(uuid.NewV4())

	a1, ok := reg.Get(context.Background(), alice)
	require.True(t, ok)
	assert.True(t, a1.State().CanProceed(), "controllers are started on first use")

	a2, _ := reg.Get(context.Background(), alice)
	assert.Same(t, a1, a2)

	_, _ = reg.Get(context.Background(), bob)
	assert.Equal(t, 2, reg.Len())

	reg.Release(bob)
	assert.Equal(t, 1, reg.Len())

	reg.Close()
	assert.Equal(t, 0, reg.Len())
	_, ok = reg.Get(context.Background(), alice)
	assert.False(t, ok)
}

func TestControllerRegistry_EvictIdleClosesAndUnsubscribes(t *testing.T) {
	bus := events.NewBus()
	fc := &fakeCart{}
	fc.set(validItems(), nil)
	reg := checkout.NewControllerRegistry(fc, bus, checkout.DefaultValidationOptions())
	defer reg.Close()

	userID := uuid.Must(uuid.NewV4())
	first, ok := reg.Get(context.Background(), userID)
	require.True(t, ok)
	require.Equal(t, 1, fc.callCount())

	assert.Zero(t, reg.EvictIdle(time.Hour), "recently used controllers stay")
	assert.Equal(t, 1, reg.Len())

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, reg.EvictIdle(time.Millisecond))
	assert.Equal(t, 0, reg.Len())

	bus.Publish(events.Event{Topic: events.TopicNicheChanged, UserID: userID})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, fc.callCount(), "an evicted controller no longer revalidates")

	second, ok := reg.Get(context.Background(), userID)
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, fc.callCount())
}

func TestControllerRegistry_EvictionLoop(t *testing.T) {
	bus := events.NewBus()
	fc := &fakeCart{}
	fc.set(validItems(), nil)
	reg := checkout.NewControllerRegistry(fc, bus, checkout.DefaultValidationOptions())

	reg.StartEviction(10 * time.Millisecond)
	_, ok := reg.Get(context.Background(), uuid.Must(uuid.NewV4()))
	require.True(t, ok)

	assert.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 5*time.Millisecond)

	reg.Close()
	reg.StartEviction(10 * time.Millisecond)
	_, ok = reg.Get(context.Background(), uuid.Must(uuid.NewV4()))
	assert.False(t, ok)
}
