package util

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Waiter is a readiness gate built from named completion flags.
// It resolves once every required flag has been set.
type Waiter struct {
	mu       sync.Mutex
	clock    clock.Clock
	interval time.Duration
	required []string
	done     map[string]bool
}

// NewWaiter creates a gate requiring all given flags
func NewWaiter(clock clock.Clock, flags ...string) *Waiter {
	return &Waiter{
		clock:    clock,
		interval: time.Second,
		required: flags,
		done:     make(map[string]bool),
	}
}

// Require replaces the set of required flags
func (w *Waiter) Require(flags ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.required = flags
}

// Set marks flag as completed
func (w *Waiter) Set(flag string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done[flag] = true
}

// Reset clears all completion flags
func (w *Waiter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done = make(map[string]bool)
}

// Done returns true if all required flags are set
func (w *Waiter) Done() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, flag := range w.required {
		if !w.done[flag] {
			return false
		}
	}

	return true
}

// Wait blocks until the gate resolves or the context is cancelled
func (w *Waiter) Wait(ctx context.Context) error {
	if w.Done() {
		return nil
	}

	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if w.Done() {
				return nil
			}
		}
	}
}
