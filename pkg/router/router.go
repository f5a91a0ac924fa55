// Package router implements the MIDI event router engine: given a
// stream of normalized MIDI events and a mutable, ordered list of
// rules, it matches, transforms, and dispatches events to downstream
// handlers while tracking per-rule held state so rule retirement never
// leaves a dangling note-on or stuck pedal.
package router

import (
	"errors"

	"github.com/geekfunklabs/sbmidi/pkg/midievent"
	"github.com/geekfunklabs/sbmidi/pkg/rule"
)

// ErrNilHandler is returned by New when handler is nil.
var ErrNilHandler = errors.New("router: nil event handler")

// ErrNilRule is returned by AddRule when passed a nil rule.
var ErrNilRule = rule.ErrNilRule

// EventHandler is the router's boundary-adapter contract (spec §4.3,
// §6, §9): the two raw callback-pointer-plus-void-context parameters
// of the C source (fluid_handler, custom_handler) become two methods
// on a single interface. Implementations must not mutate the event
// they are given and must not block indefinitely or call back into
// the Router that invoked them — both methods run with the router's
// rule-list mutex held (spec §5).
type EventHandler interface {
	// HandleRoutedEvent receives a transformed event produced by a
	// matching, non-custom rule (or an unmodified voice/non-voice
	// event under the unity rule / non-voice bypass). Its return
	// value, if any, is for the handler's own bookkeeping — the
	// router never inspects it (spec §7 "Handler errors").
	HandleRoutedEvent(ev midievent.Event)
	// HandleCustomEvent receives the unmodified event for a custom
	// rule match (customID is the rule's configured id) or for a
	// non-voice bypass event (customID is -1).
	HandleCustomEvent(ev midievent.Event, customID int)
}

// NoOpEventHandler provides no-op implementations of EventHandler, to
// be embedded by handlers that only care about one of the two
// callbacks (mirrors the teacher corpus's embeddable no-op handler
// pattern for partial interface implementations).
type NoOpEventHandler struct{}

func (NoOpEventHandler) HandleRoutedEvent(midievent.Event)        {}
func (NoOpEventHandler) HandleCustomEvent(midievent.Event, int)   {}

// MIDIOutFanout is the opt-in "MIDI-out sender" boundary adapter named
// in spec §9: a router configured with one receives every routed
// output event in addition to the primary EventHandler. It is never
// wired in silently — see WithMIDIOutFanout.
type MIDIOutFanout interface {
	SendEvent(ev midievent.Event)
}

// DropObserver is notified, outside the event-handling contract, when
// a rule's transform drops an event (spec §7: the router itself never
// reports per-rule drops through HandleEvent's return value). It is
// purely diagnostic; a nil DropObserver (the default) costs nothing.
type DropObserver interface {
	OnDrop(ruleIndex int, ev midievent.Event, reason string)
}

// Router is a concurrent, rule-driven MIDI event router. The zero
// value is not usable; construct with New.
type Router struct {
	handler EventHandler
	list    *rule.List
	fanout  MIDIOutFanout
	drops   DropObserver
}

// Option configures optional Router behavior at construction time.
type Option func(*Router)

// WithMIDIOutFanout enables the opt-in external MIDI-out fan-out (spec
// §9): every routed output event is also sent to fanout, in addition
// to being delivered to the primary EventHandler. Never enabled by
// default.
func WithMIDIOutFanout(fanout MIDIOutFanout) Option {
	return func(r *Router) {
		r.fanout = fanout
	}
}

// WithDropObserver attaches a diagnostic callback invoked whenever a
// rule's transform drops an event (spec §7: HandleEvent itself never
// reports per-rule drops). Off by default.
func WithDropObserver(obs DropObserver) Option {
	return func(r *Router) {
		r.drops = obs
	}
}

// New creates a router with the given event handler and no rules. Call
// DefaultRules to install the unity rule before routing events, or
// AddRule to build a custom rule set from scratch.
func New(handler EventHandler, opts ...Option) (*Router, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	r := &Router{
		handler: handler,
		list:    rule.NewList(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// SetMIDIDevice records the channel count of the downstream MIDI
// device, used by the channel-transform range check (spec §4.2d). A
// channels value <= 0 is a no-op, mirroring the C source's null-device
// guard (spec §4.1 "Set MIDI device").
func (r *Router) SetMIDIDevice(channels int) {
	r.list.SetChannels(channels)
}

// DefaultRules resets the router to a single unity rule, retiring (not
// dropping) any rule with outstanding held state (spec §4.1, §4.2
// state machine).
func (r *Router) DefaultRules() error {
	return r.list.DefaultRules()
}

// ClearRules empties the rule list. A cleared router drops every voice
// event until a rule is added, except that rules retired into the
// waiting state still drain their outstanding negative events (spec
// §4.1 "Clear").
func (r *Router) ClearRules() error {
	return r.list.Clear()
}

// AddRule prepends rule to the router's rule list, transferring
// ownership of it to the router (spec §4.1 "Add", §6).
func (r *Router) AddRule(rl *rule.Rule) error {
	return r.list.Add(rl)
}

// Rules returns a snapshot of the router's current rule list, most
// recently added first. Intended for diagnostics and tests.
func (r *Router) Rules() []*rule.Rule {
	return r.list.Snapshot()
}

// HandleEvent routes a single input event through the router's rule
// list, exactly implementing spec §4.2. It canonicalizes note-offs,
// bypasses rule evaluation for non-voice events (dispatching them
// unmodified to both handler callbacks), and otherwise walks the rule
// list head-to-tail applying every matching rule. It always returns
// nil under normal operation (spec §7: "handle_event returns success
// unconditionally"); the error return exists for interface symmetry
// with the rest of the package and to leave room for a future
// caller-detectable failure mode without a breaking signature change.
func (r *Router) HandleEvent(ev midievent.Event) error {
	ev.Canonicalize()

	if !ev.Type.IsVoice() {
		r.list.Bypass(func() {
			r.handler.HandleCustomEvent(ev, -1)
			r.handler.HandleRoutedEvent(ev)
		})
		return nil
	}

	var onDrop func(int, midievent.Event, string)
	if r.drops != nil {
		onDrop = r.drops.OnDrop
	}

	r.list.Dispatch(ev, ev.Type.HasParam2(),
		func(customEv midievent.Event, customID int) {
			r.handler.HandleCustomEvent(customEv, customID)
		},
		func(out midievent.Event) {
			r.handler.HandleRoutedEvent(out)
			if r.fanout != nil {
				r.fanout.SendEvent(out)
			}
		},
		onDrop,
	)
	return nil
}
