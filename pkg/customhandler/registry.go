// Package customhandler implements a reference custom-rule dispatcher:
// a registry keyed by the custom_id a rule is configured with (spec §3,
// §4.3, §6), whose Dispatch method takes the same arguments as
// router.EventHandler.HandleCustomEvent. Registry does not itself
// implement router.EventHandler. The router itself only
// knows custom_id as an opaque integer; something downstream has to
// decide what each id means, and this package is that something for
// callers who want simple id -> callback dispatch instead of writing
// their own switch statement.
package customhandler

import (
	"sync"

	"github.com/geekfunklabs/sbmidi/pkg/midievent"
)

// Func handles a single custom event. It must not mutate ev (spec
// §4.3: "Must not mutate the event") and, like every router.EventHandler
// callout, must not block indefinitely — it runs with the router's
// rule-list mutex held.
type Func func(ev midievent.Event)

// Registry dispatches custom events to per-id handlers. It is safe for
// concurrent registration and dispatch, independent of whatever
// locking the router that calls it is doing.
type Registry struct {
	mu       sync.RWMutex
	handlers map[int]Func
	fallback Func
}

// NewRegistry creates an empty custom-event registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[int]Func)}
}

// Register installs fn as the handler for customID, replacing any
// previous registration.
func (reg *Registry) Register(customID int, fn Func) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.handlers[customID] = fn
}

// Unregister removes the handler for customID, if any.
func (reg *Registry) Unregister(customID int) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.handlers, customID)
}

// SetFallback installs a handler invoked for custom ids (including -1,
// the non-voice bypass id) with no registered handler. A nil fallback
// (the default) silently drops unrecognized ids.
func (reg *Registry) SetFallback(fn Func) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.fallback = fn
}

// Dispatch looks up customID and invokes its handler, or the fallback
// if none is registered. Intended to be called from a
// router.EventHandler.HandleCustomEvent implementation.
func (reg *Registry) Dispatch(ev midievent.Event, customID int) {
	reg.mu.RLock()
	fn, ok := reg.handlers[customID]
	fallback := reg.fallback
	reg.mu.RUnlock()

	if ok {
		fn(ev)
		return
	}
	if fallback != nil {
		fallback(ev)
	}
}
