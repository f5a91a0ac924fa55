package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/geekfunklabs/sbmidi/pkg/midievent"
)

func noteOn(ch, note, vel int) midievent.Event {
	return midievent.Event{Type: midievent.NoteOn, Channel: ch, Param1: note, Param2: vel}
}

func dispatch(t *testing.T, l *List, ev midievent.Event) (custom []midievent.Event, routed []midievent.Event) {
	t.Helper()
	l.Dispatch(ev, ev.Type.HasParam2(),
		func(e midievent.Event, _ int) { custom = append(custom, e) },
		func(e midievent.Event) { routed = append(routed, e) },
		nil,
	)
	return
}

func TestUnityPassthrough(t *testing.T) {
	// S1
	l := NewList()
	require.NoError(t, l.DefaultRules())

	_, routed := dispatch(t, l, noteOn(0, 60, 100))
	require.Len(t, routed, 1)
	assert.Equal(t, noteOn(0, 60, 100), routed[0])
}

func TestChannelSplit(t *testing.T) {
	// S2
	l := NewList()
	l.SetChannels(16)
	require.NoError(t, l.Add(New().SetChan(0, 0, 1, 5)))

	_, routed := dispatch(t, l, noteOn(0, 60, 100))
	require.Len(t, routed, 1)
	assert.Equal(t, 5, routed[0].Channel)

	_, routed2 := dispatch(t, l, noteOn(1, 60, 100))
	assert.Empty(t, routed2)
}

func TestCCToPitchBendRemap(t *testing.T) {
	// S3
	l := NewList()
	r := New().SetType(midievent.ControlChange).SetNewType(midievent.PitchBend)
	r.Param2 = Window{Min: 0, Max: defaultMax, Mul: 129.0, Add: 0}
	require.NoError(t, l.Add(r))

	ev := midievent.Event{Type: midievent.ControlChange, Channel: 0, Param1: 7, Param2: 64}
	_, routed := dispatch(t, l, ev)
	require.Len(t, routed, 1)
	assert.Equal(t, midievent.PitchBend, routed[0].Type)
	assert.Equal(t, 8256, routed[0].Param1)
}

func TestNoteOffSymmetryAcrossRetire(t *testing.T) {
	// S4
	l := NewList()
	l.SetChannels(16)
	require.NoError(t, l.DefaultRules())
	require.NoError(t, l.Add(New().SetParam1(0, 127, 1, 12)))

	_, routed := dispatch(t, l, noteOn(0, 60, 100))
	// Both the unity rule and the +12 rule match.
	require.Len(t, routed, 2)
	assert.Contains(t, routed, noteOn(0, 60, 100))
	assert.Contains(t, routed, noteOn(0, 72, 100))

	transposeRule := l.Snapshot()[0]
	assert.Equal(t, 1, transposeRule.PendingEvents())

	require.NoError(t, l.DefaultRules())
	assert.True(t, transposeRule.Waiting())
	assert.Equal(t, 1, transposeRule.PendingEvents())

	_, routed2 := dispatch(t, l, noteOn(0, 60, 0))
	assert.Contains(t, routed2, noteOn(0, 72, 0))
	assert.Equal(t, 0, transposeRule.PendingEvents())

	// The retired rule is no longer in the live list.
	for _, r := range l.Snapshot() {
		assert.NotSame(t, transposeRule, r)
	}
}

func TestSustainPedalTracking(t *testing.T) {
	// S5
	l := NewList()
	l.SetChannels(16)
	require.NoError(t, l.DefaultRules())

	sustainOn := midievent.Event{Type: midievent.ControlChange, Channel: 0, Param1: midievent.SustainController, Param2: 127}
	_, routed := dispatch(t, l, sustainOn)
	require.Len(t, routed, 1)
	assert.Equal(t, sustainOn, routed[0])

	r := l.Snapshot()[0]
	assert.Equal(t, 1, r.PendingEvents())

	require.NoError(t, l.Clear())
	assert.True(t, r.Waiting())

	sustainOff := midievent.Event{Type: midievent.ControlChange, Channel: 0, Param1: midievent.SustainController, Param2: 0}
	_, routed2 := dispatch(t, l, sustainOff)
	require.Len(t, routed2, 1)
	assert.Equal(t, 0, r.PendingEvents())
}

func TestInversionWindow(t *testing.T) {
	// S6
	l := NewList()
	l.SetChannels(16)
	require.NoError(t, l.Add(New().SetChan(10, 5, 1, 0)))

	_, routed := dispatch(t, l, noteOn(6, 60, 100))
	assert.Empty(t, routed)

	_, routed2 := dispatch(t, l, noteOn(5, 60, 100))
	assert.Len(t, routed2, 1)

	_, routed3 := dispatch(t, l, noteOn(11, 60, 100))
	assert.Len(t, routed3, 1)
}

func TestClearDropsVoiceEventsUntilRuleAdded(t *testing.T) {
	l := NewList()
	require.NoError(t, l.DefaultRules())
	require.NoError(t, l.Clear())

	_, routed := dispatch(t, l, noteOn(0, 60, 100))
	assert.Empty(t, routed)

	require.NoError(t, l.Add(New()))
	_, routed2 := dispatch(t, l, noteOn(0, 60, 100))
	assert.Len(t, routed2, 1)
}

func TestAddDoesNotDisturbOtherRulesHeldState(t *testing.T) {
	l := NewList()
	l.SetChannels(16)
	require.NoError(t, l.DefaultRules())

	dispatch(t, l, noteOn(0, 60, 100))
	r := l.Snapshot()[0]
	require.Equal(t, 1, r.PendingEvents())

	require.NoError(t, l.Add(New().SetChan(0, 0, 1, 1)))
	assert.Equal(t, 1, r.PendingEvents())
}

// TestPendingEventsMatchesHeldKeys is a property-based check of spec.md
// §8 universal invariant 1: PendingEvents always equals the number of
// held keys for every rule, across arbitrary sequences of note
// on/off pairs.
func TestPendingEventsMatchesHeldKeys(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New()
		held := map[int]bool{}

		n := rapid.IntRange(1, 40).Draw(t, "n")
		for i := 0; i < n; i++ {
			note := rapid.IntRange(0, 127).Draw(t, "note")
			positive := rapid.Bool().Draw(t, "positive")
			if positive {
				r.notePositive(note)
				held[note] = true
			} else {
				r.noteNegative(note)
				delete(held, note)
			}

			want := 0
			for _, v := range held {
				if v {
					want++
				}
			}
			if r.PendingEvents() != want {
				t.Fatalf("pending events %d != held count %d after step %d", r.PendingEvents(), want, i)
			}
		}
	})
}

// TestNoteOffCanonicalizationEquivalence checks spec.md §8 property 3:
// feeding a NoteOff produces the same routing outcome as feeding the
// equivalent zero-velocity NoteOn.
func TestNoteOffCanonicalizationEquivalence(t *testing.T) {
	build := func() *List {
		l := NewList()
		l.SetChannels(16)
		_ = l.DefaultRules()
		_ = l.Add(New().SetParam1(0, 127, 1, 12))
		return l
	}

	l1 := build()
	dispatch(t, l1, noteOn(0, 60, 100))
	offEv := midievent.Event{Type: midievent.NoteOff, Channel: 0, Param1: 60, Param2: 64}
	offEv.Canonicalize()
	_, routedOff := dispatch(t, l1, offEv)

	l2 := build()
	dispatch(t, l2, noteOn(0, 60, 100))
	_, routedOn := dispatch(t, l2, noteOn(0, 60, 0))

	assert.Equal(t, routedOn, routedOff)
}
