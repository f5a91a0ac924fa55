// Package rule implements router rules: bounded match windows, affine
// transforms, and the per-rule held-state bookkeeping that keeps note
// and pedal events symmetric across rule retirement.
package rule

import "github.com/geekfunklabs/sbmidi/pkg/midievent"

// defaultMax mirrors the C source's 999999 sentinel for "no upper
// bound configured" — large enough that no legitimate MIDI value ever
// reaches it.
const defaultMax = 999999

// Window is a match range plus the affine transform applied to values
// that fall inside it. Min > Max inverts the window: it then matches
// everything outside the open interval (Max, Min), including Max and
// Min themselves (spec §3, §4.2 tie-breaks).
type Window struct {
	Min, Max int
	Mul      float64
	Add      int
}

func newWindow() Window {
	return Window{Min: 0, Max: defaultMax, Mul: 1.0, Add: 0}
}

// Matches reports whether v falls inside w, honoring inversion.
func (w Window) Matches(v int) bool {
	if w.Min > w.Max {
		return !(v > w.Max && v < w.Min)
	}
	return !(v > w.Max || v < w.Min)
}

// Transform applies w's affine map with half-up rounding: (int)(x+0.5),
// truncating toward zero exactly as the C source does. This is
// negative-unsafe for negative products (spec §9 design note); router
// rule windows are built from non-negative MIDI values, and Mul is
// expected non-negative, so this only matters for the resulting sum
// (Add can be negative and is applied after rounding, which is safe).
func (w Window) Transform(v int) int {
	return w.Add + int(float64(v)*w.Mul+0.5)
}

// Rule is a single router rule: an optional type filter, three match
// windows (channel, param1, param2), an optional output-type remap or
// custom-handler short circuit, and the held-state counters used to
// track outstanding note-ons / pedal-downs this rule has emitted.
type Rule struct {
	// Type is the input event type to match; Any (zero) matches every
	// voice event.
	Type midievent.Type
	// NewType is the output event type; Any (zero) means "same as
	// input type".
	NewType midievent.Type

	Chan   Window
	Param1 Window
	Param2 Window

	// CustomID, when >= 0, makes this a custom rule: matching events
	// are dispatched unmodified to the custom handler and never
	// transformed (spec §4.2c).
	CustomID int

	// keysCC tracks, per note number / switch-CC number, whether this
	// rule currently has an outstanding (unmatched) positive event.
	// Invariant: PendingEvents == count of true entries (spec §3
	// invariant 1).
	keysCC        [128]bool
	pendingEvents int
	// waiting is set once a retirement (DefaultRules/ClearRules) is
	// requested while PendingEvents > 0. A waiting rule matches only
	// negative (note-off / pedal-up) events until it drains to zero.
	waiting bool
}

// New creates a rule with the unity defaults: full-range windows,
// identity transform, no type remap, not a custom rule. A router whose
// only rule is a fresh New() forwards every voice event unmodified.
func New() *Rule {
	return &Rule{
		Chan:     newWindow(),
		Param1:   newWindow(),
		Param2:   newWindow(),
		CustomID: -1,
	}
}

// SetChan configures the channel match window and transform.
func (r *Rule) SetChan(min, max int, mul float64, add int) *Rule {
	r.Chan = Window{Min: min, Max: max, Mul: mul, Add: add}
	return r
}

// SetParam1 configures the first-parameter match window and transform.
func (r *Rule) SetParam1(min, max int, mul float64, add int) *Rule {
	r.Param1 = Window{Min: min, Max: max, Mul: mul, Add: add}
	return r
}

// SetParam2 configures the second-parameter match window and transform.
func (r *Rule) SetParam2(min, max int, mul float64, add int) *Rule {
	r.Param2 = Window{Min: min, Max: max, Mul: mul, Add: add}
	return r
}

// SetType restricts the rule to a specific input event type. Any
// (the default) matches every voice event.
func (r *Rule) SetType(t midievent.Type) *Rule {
	r.Type = t
	return r
}

// SetNewType remaps the output event type. Any (the default) leaves
// the input's type unchanged.
func (r *Rule) SetNewType(t midievent.Type) *Rule {
	r.NewType = t
	return r
}

// SetCustom marks the rule as a custom rule dispatching to the given
// id. Pass a negative id to clear custom-rule status.
func (r *Rule) SetCustom(id int) *Rule {
	r.CustomID = id
	return r
}

// IsCustom reports whether this rule short-circuits to the custom
// handler instead of transforming events.
func (r *Rule) IsCustom() bool {
	return r.CustomID >= 0
}

// PendingEvents returns the number of outstanding held notes/pedals
// this rule is tracking.
func (r *Rule) PendingEvents() int {
	return r.pendingEvents
}

// Waiting reports whether this rule has been retired but is still
// draining held state.
func (r *Rule) Waiting() bool {
	return r.waiting
}

// markWaiting transitions an active rule with outstanding held state
// into the waiting state. Called only by list retirement operations
// under the list's lock.
func (r *Rule) markWaiting() {
	r.waiting = true
}

// notePositive records a positive (note-on / pedal-down) transition
// for key k, returning true if it was a genuine 0->1 transition (and
// so should be re-emitted as a fresh hold) as opposed to a re-trigger
// of an already-held key.
func (r *Rule) notePositive(k int) bool {
	if r.keysCC[k] {
		return false
	}
	r.keysCC[k] = true
	r.pendingEvents++
	return true
}

// noteNegative records a negative (note-off / pedal-up) transition for
// key k, returning true if it matched an outstanding hold (as opposed
// to an untracked negative event that should still be forwarded but
// must not underflow PendingEvents).
func (r *Rule) noteNegative(k int) bool {
	if !r.keysCC[k] {
		return false
	}
	r.keysCC[k] = false
	r.pendingEvents--
	return true
}

// drained reports whether a waiting rule has no more outstanding held
// state and can be retired.
func (r *Rule) drained() bool {
	return r.waiting && r.pendingEvents == 0
}
