// Package routerconfig loads a router's rule set from a YAML file,
// the Go-native, user-editable replacement for original_source's
// static, compiled-in default rule set. Loading rules at startup is
// not the router persisting rules itself (spec §1/§7 Non-goals still
// hold — the router has no corresponding Save operation).
package routerconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/geekfunklabs/sbmidi/pkg/midievent"
	"github.com/geekfunklabs/sbmidi/pkg/rule"
)

// defaultWindowMax mirrors rule's unexported defaultMax sentinel for "no
// upper bound configured".
const defaultWindowMax = 999999

// WindowSpec is the YAML shape of a rule.Window. Fields are pointers so
// an omitted field can inherit rule.New()'s unity-window default (Min 0,
// Max defaultMax, Mul 1.0, Add 0) while an explicit zero — a window that
// matches only channel/value 0, or a transform that zeroes its output —
// is honored rather than silently widened.
type WindowSpec struct {
	Min *int     `yaml:"min"`
	Max *int     `yaml:"max"`
	Mul *float64 `yaml:"mul"`
	Add *int     `yaml:"add"`
}

func (w WindowSpec) resolve() (min, max int, mul float64, add int) {
	max = defaultWindowMax
	mul = 1.0
	if w.Min != nil {
		min = *w.Min
	}
	if w.Max != nil {
		max = *w.Max
	}
	if w.Mul != nil {
		mul = *w.Mul
	}
	if w.Add != nil {
		add = *w.Add
	}
	return min, max, mul, add
}

// RuleSpec is the YAML shape of a single rule.
type RuleSpec struct {
	Type     string      `yaml:"type"`
	NewType  string      `yaml:"newtype"`
	Channel  *WindowSpec `yaml:"channel"`
	Param1   *WindowSpec `yaml:"param1"`
	Param2   *WindowSpec `yaml:"param2"`
	CustomID *int        `yaml:"custom_id"`
}

// Spec is the top-level YAML document: an ordered list of rules. Load
// returns them in file order; installed through ApplyTo, the first
// entry in the file is matched first (see Load's and ApplyTo's doc
// comments).
type Spec struct {
	Rules []RuleSpec `yaml:"rules"`
}

var typeNames = map[string]midievent.Type{
	"":                 midievent.Any,
	"note_on":          midievent.NoteOn,
	"note_off":         midievent.NoteOff,
	"key_pressure":     midievent.KeyPressure,
	"control_change":   midievent.ControlChange,
	"program_change":   midievent.ProgramChange,
	"channel_pressure": midievent.ChannelPressure,
	"pitch_bend":       midievent.PitchBend,
}

func parseType(name string) (midievent.Type, error) {
	t, ok := typeNames[name]
	if !ok {
		return 0, fmt.Errorf("routerconfig: unknown event type %q", name)
	}
	return t, nil
}

// Load parses a YAML rule-set file into a slice of *rule.Rule, in file
// order (index 0 first). Callers wanting the file's first entry to be
// the router's highest-priority (most-recently-added) rule should add
// them in reverse, or simply call Router.AddRule across the slice in
// reverse: since AddRule prepends, adding file-order front-to-back
// ends up with the LAST file entry matched first. ApplyTo does this
// reversal for callers who want file order to mean match-priority
// order.
func Load(path string) ([]*rule.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("routerconfig: read %s: %w", path, err)
	}

	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("routerconfig: parse %s: %w", path, err)
	}

	rules := make([]*rule.Rule, 0, len(spec.Rules))
	for i, rs := range spec.Rules {
		r, err := rs.build()
		if err != nil {
			return nil, fmt.Errorf("routerconfig: rule %d: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (rs RuleSpec) build() (*rule.Rule, error) {
	r := rule.New()

	t, err := parseType(rs.Type)
	if err != nil {
		return nil, err
	}
	r.SetType(t)

	nt, err := parseType(rs.NewType)
	if err != nil {
		return nil, err
	}
	r.SetNewType(nt)

	if rs.Channel != nil {
		r.SetChan(rs.Channel.resolve())
	}
	if rs.Param1 != nil {
		r.SetParam1(rs.Param1.resolve())
	}
	if rs.Param2 != nil {
		r.SetParam2(rs.Param2.resolve())
	}
	if rs.CustomID != nil {
		r.SetCustom(*rs.CustomID)
	}
	return r, nil
}

// ApplyTo adds every rule from Load's result to r, in file order of
// match priority: the first rule in the YAML file matches first. This
// is the inverse of AddRule's own prepend order, so ApplyTo adds the
// slice back-to-front.
func ApplyTo(r RuleAdder, rules []*rule.Rule) error {
	for i := len(rules) - 1; i >= 0; i-- {
		if err := r.AddRule(rules[i]); err != nil {
			return err
		}
	}
	return nil
}

// RuleAdder is the subset of *router.Router that ApplyTo needs.
type RuleAdder interface {
	AddRule(r *rule.Rule) error
}
