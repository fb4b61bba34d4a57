package provider

import (
	"errors"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/benbjohnson/clock"
	"github.com/evcc-io/idconnect/api"
)

var bus = EventBus.New()

const reset = "reset"

// ResetCached invalidates all cached values, e.g. after a new login
func ResetCached() {
	bus.Publish(reset)
}

// Cache wraps a getter with a cache
type Cache[T any] struct {
	mux     sync.Mutex
	clock   clock.Clock
	updated time.Time
	cache   time.Duration
	getter  func() (T, error)
	val     T
	err     error
}

// Cached wraps a getter with a cache. The cache is invalidated by ResetCached.
func Cached[T any](g func() (T, error), cache time.Duration) *Cache[T] {
	return CachedWithClock(g, cache, clock.New())
}

// CachedWithClock is Cached using the given clock
func CachedWithClock[T any](g func() (T, error), cache time.Duration, clock clock.Clock) *Cache[T] {
	c := &Cache[T]{
		clock:  clock,
		cache:  cache,
		getter: g,
	}

	_ = bus.Subscribe(reset, c.Reset)

	return c
}

// Get returns the cached value or updates it if expired
func (c *Cache[T]) Get() (T, error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.mustUpdate() {
		c.val, c.err = c.getter()
		c.updated = c.clock.Now()
	}

	return c.val, c.err
}

// Reset invalidates the cached value
func (c *Cache[T]) Reset() {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.updated = time.Time{}
}

func (c *Cache[T]) mustUpdate() bool {
	return c.updated.IsZero() || c.clock.Since(c.updated) > c.cache || c.err != nil && errors.Is(c.err, api.ErrMustRetry)
}
