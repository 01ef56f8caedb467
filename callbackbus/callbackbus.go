// Package callbackbus implements a typed publish/subscribe mechanism:
// components register interest in named events
// ("new_transaction", "status", "updated", "interfaces") and the bus fans
// each trigger out to every registered handler under a snapshot taken while
// holding the lock, so a slow or panicking handler never blocks registration
// or another trigger.
package callbackbus

import (
	"reflect"
	"sync"
)

// Handler is either Sync(fn), run on the triggering goroutine in order with
// every other sync handler, or Async(fn), run in its own goroutine. This
// mirrors the distinction the original draws between UI callbacks (must run
// on the caller's thread) and background work (logging, persistence).
type Handler struct {
	fn    func(event string, args ...interface{})
	async bool
}

// Sync wraps fn as a handler invoked synchronously, in registration order,
// on the goroutine that called Trigger.
func Sync(fn func(event string, args ...interface{})) Handler {
	return Handler{fn: fn, async: false}
}

// Async wraps fn as a handler invoked in its own goroutine, unordered with
// respect to other handlers.
func Async(fn func(event string, args ...interface{})) Handler {
	return Handler{fn: fn, async: true}
}

// Bus is a typed event bus. The zero value is not usable; use New.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler

	statusMu sync.RWMutex
	status   map[string]interface{}
}

// New returns an empty, ready-to-use Bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		status:   make(map[string]interface{}),
	}
}

// Register adds h as a subscriber for event. It corresponds to the
// original's register_callback.
func (b *Bus) Register(event string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], h)
}

// Unregister removes every handler previously registered for event whose fn
// pointer matches h's. Handlers don't support equality in general, so this
// compares by identity; callers that need to unregister a specific handler
// should keep the Handler value they passed to Register.
func (b *Bus) Unregister(event string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[event]
	out := subs[:0]
	for _, s := range subs {
		if funcEqual(s.fn, h.fn) {
			continue
		}
		out = append(out, s)
	}
	b.handlers[event] = out
}

// UnregisterAll removes every handler registered for event, corresponding to
// the original's unregister_callback(callback) which drops the callback from
// every event it was registered under — here scoped per event since Handler
// identity is per-registration, not global.
func (b *Bus) UnregisterAll(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, event)
}

// Trigger fans event out to every handler registered for it, passing args
// through unchanged. Sync handlers run in registration order on the calling
// goroutine before Trigger returns; async handlers are started and Trigger
// does not wait for them.
func (b *Bus) Trigger(event string, args ...interface{}) {
	b.mu.RLock()
	subs := append([]Handler(nil), b.handlers[event]...)
	b.mu.RUnlock()

	for _, h := range subs {
		if h.async {
			go h.fn(event, args...)
		} else {
			h.fn(event, args...)
		}
	}
}

// SetStatus records the current value for a status key (e.g. "status",
// "updated", "new_transaction"), so a late subscriber or a synchronous poller
// can read the latest value without having caught the corresponding Trigger.
// This mirrors the original's self._last_status dict feeding get_status_value.
func (b *Bus) SetStatus(key string, value interface{}) {
	b.statusMu.Lock()
	defer b.statusMu.Unlock()
	b.status[key] = value
}

// GetStatusValue returns the last value recorded for key via SetStatus, and
// whether one has been recorded at all.
func (b *Bus) GetStatusValue(key string) (interface{}, bool) {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	v, ok := b.status[key]
	return v, ok
}

// funcEqual compares two handler functions for identity. Go doesn't allow
// comparing func values directly; reflect.ValueOf(...).Pointer() is the
// standard workaround for "is this literally the same function value".
func funcEqual(a, b func(event string, args ...interface{})) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
