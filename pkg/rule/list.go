package rule

import (
	"errors"
	"sync"

	"github.com/geekfunklabs/sbmidi/pkg/midievent"
)

// ErrNilRule is returned by List.Add when passed a nil rule.
var ErrNilRule = errors.New("rule: nil rule")

// List is the router's mutex-protected, head-first rule list plus its
// deferred-free queue (spec §3 "Rule list", §4.1). The same mutex also
// guards every rule's held-state fields and is held for the duration
// of event dispatch (spec §5) so that held-state transitions and
// handler callouts stay atomic with respect to concurrent rule
// mutation.
type List struct {
	mu    sync.Mutex
	rules []*Rule // index 0 is the most recently added rule
	free  []*Rule // retired rules drained of held state, harvested by Add

	// channels is the output device's channel count, used by the
	// channel-transform range check (spec §4.2d). Zero means no
	// device has been configured, in which case the channel transform
	// never drops a rule for being out of range (matches the
	// original C router before set_midi_device has ever been called:
	// there is no meaningful channel count to validate against yet).
	channels int
}

// NewList creates an empty rule list with no device configured and no
// rules. Callers typically follow up with DefaultRules to install the
// unity rule.
func NewList() *List {
	return &List{}
}

// SetChannels records the output device's channel count. Zero or
// negative values are ignored, mirroring sbmidi_router_set_midi_device's
// null-device no-op (spec §4.1).
func (l *List) SetChannels(n int) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	l.channels = n
	l.mu.Unlock()
}

// DefaultRules replaces the rule list with a single fresh unity rule,
// retiring (or freeing, if idle) every existing rule (spec §4.1
// "Create default"). Rules with outstanding held state are marked
// waiting rather than dropped, so in-flight notes/pedals still drain
// correctly on later events.
func (l *List) DefaultRules() error {
	return l.reset(New())
}

// Clear empties the rule list. Unlike DefaultRules it does not install
// a replacement, so a cleared router drops every voice event until a
// rule is added (spec §4.1 "Clear") — though any rule retained in a
// waiting state still observes negative events until it drains.
func (l *List) Clear() error {
	return l.reset(nil)
}

// reset implements the shared bookkeeping behind DefaultRules and
// Clear: split the current rule list into rules to keep waiting and
// rules to free immediately, optionally prepend a replacement, and
// free the detached rules outside the lock.
func (l *List) reset(replacement *Rule) error {
	l.mu.Lock()

	var kept []*Rule
	var toFree []*Rule
	for _, r := range l.rules {
		if r.PendingEvents() == 0 {
			toFree = append(toFree, r)
		} else {
			r.markWaiting()
			kept = append(kept, r)
		}
	}

	if replacement != nil {
		kept = append([]*Rule{replacement}, kept...)
	}
	l.rules = kept

	l.mu.Unlock()

	_ = toFree // freed by GC; kept only to document the detach-then-free split from the C source
	return nil
}

// Add prepends rule to the list, transferring ownership to it, and
// harvests any rules accumulated in the free queue since the last Add
// (spec §4.1 "Add"). The free queue only ever holds rules with
// PendingEvents()==0, so there is nothing further to wait for; in Go
// there is nothing left to actually do with them (the garbage
// collector reclaims them once unreferenced) but harvesting keeps the
// free queue from growing unboundedly between Add calls, mirroring
// the C source's "free outside the lock" contract.
func (l *List) Add(r *Rule) error {
	if r == nil {
		return ErrNilRule
	}

	l.mu.Lock()
	harvested := l.free
	l.free = nil
	l.rules = append([]*Rule{r}, l.rules...)
	l.mu.Unlock()

	_ = harvested
	return nil
}

// Bypass runs fn under List's mutex without evaluating any rule,
// preserving the lock discipline of spec §5 ("invoke downstream
// handlers under the lock") for callers that skip rule evaluation
// entirely — non-voice events, which spec §4.2 step 2 dispatches
// straight to the handler callbacks rather than walking the rule list.
func (l *List) Bypass(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

// Snapshot returns a defensive copy of the live rule list for
// inspection (tests, diagnostics). It does not include waiting rules
// any differently than active ones — callers needing that distinction
// should check Rule.Waiting().
func (l *List) Snapshot() []*Rule {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Rule, len(l.rules))
	copy(out, l.rules)
	return out
}

// Dispatch applies every matching rule in the list to ev, in
// head-to-tail (most-recently-added-first) order, exactly implementing
// the per-event walk in spec §4.2 steps 3-5k. onCustom is invoked with
// the unmodified event for custom rules (spec §4.2c); onRouted is
// invoked with each transformed output event for normal rules that
// reach emission (spec §4.2k). Both callbacks run with List's mutex
// held, per spec §5's "invoke downstream handlers under the lock"
// constraint — callbacks must not block indefinitely and must not
// call back into this List.
func (l *List) Dispatch(ev midievent.Event, eventHasParam2 bool, onCustom func(ev midievent.Event, customID int), onRouted func(out midievent.Event), onDrop func(ruleIndex int, ev midievent.Event, reason string)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	drop := func(i int, reason string) {
		if onDrop != nil {
			onDrop(i, ev, reason)
		}
	}

	for i := 0; i < len(l.rules); i++ {
		r := l.rules[i]

		if r.Type != midievent.Any && r.Type != ev.Type {
			continue
		}
		if !r.Chan.Matches(ev.Channel) {
			continue
		}
		if !r.Param1.Matches(ev.Param1) {
			continue
		}
		if eventHasParam2 && !r.Param2.Matches(ev.Param2) {
			continue
		}

		if r.IsCustom() {
			onCustom(ev, r.CustomID)
			continue
		}

		chan_ := r.Chan.Transform(ev.Channel)
		if chan_ < 0 || (l.channels > 0 && chan_ >= l.channels) {
			drop(i, "channel out of range")
			continue
		}

		newType := r.NewType
		if newType == midievent.Any {
			newType = ev.Type
		}
		newHasParam2 := newType.HasParam2()

		var par1, par2 int
		switch {
		case eventHasParam2 && newHasParam2:
			par1 = r.Param1.Transform(ev.Param1)
			par2 = r.Param2.Transform(ev.Param2)
		case eventHasParam2 && !newHasParam2:
			par1 = r.Param2.Transform(ev.Param2)
		case !eventHasParam2 && !newHasParam2:
			par1 = r.Param1.Transform(ev.Param1)
		default: // !eventHasParam2 && newHasParam2
			// Codified quirk from the source router (spec §9 Open
			// Question): par1 seeds from the configured Param2.Min
			// literal rather than zero or Param2.Add. Preserved
			// exactly rather than "fixed".
			par1 = r.Param2.Min
			par2 = r.Param1.Transform(ev.Param1)
		}

		switch newType {
		case midievent.ControlChange, midievent.ProgramChange:
			if par1 < 0 || par1 > 127 {
				drop(i, "param1 out of range")
				continue
			}
		case midievent.PitchBend:
			par1 = clamp(par1, 0, 16383)
		default:
			par1 = clamp(par1, 0, 127)
		}
		if newHasParam2 {
			par2 = clamp(par2, 0, 127)
		}

		isPositive := (newType == midievent.NoteOn && par2 > 0) ||
			(newType == midievent.ControlChange && isSwitchCC(par1) && par2 >= 64)
		isNegative := (newType == midievent.NoteOn && par2 == 0) ||
			(newType == midievent.ControlChange && isSwitchCC(par1) && par2 < 64)

		switch {
		case isPositive:
			if r.waiting {
				continue
			}
			r.notePositive(par1)
		case isNegative:
			if r.noteNegative(par1) && r.drained() {
				l.retireLocked(i)
				i-- // retireLocked removes l.rules[i]; re-visit this index next iteration
			}
		default:
			if r.waiting {
				continue
			}
		}

		onRouted(midievent.Event{
			Type:    newType,
			Channel: chan_,
			Param1:  par1,
			Param2:  param2IfHas(newHasParam2, par2),
		})
	}
}

// retireLocked splices l.rules[i] out of the live list and appends it
// to the free queue. Must be called with l.mu held.
func (l *List) retireLocked(i int) {
	r := l.rules[i]
	l.rules = append(l.rules[:i], l.rules[i+1:]...)
	l.free = append(l.free, r)
}

func isSwitchCC(controller int) bool {
	return controller == midievent.SustainController || controller == midievent.SostenutoController
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func param2IfHas(has bool, v int) int {
	if has {
		return v
	}
	return 0
}
