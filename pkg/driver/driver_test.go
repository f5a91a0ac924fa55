package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/geekfunklabs/sbmidi/pkg/midievent"
)

func TestDecodeNoteOnComposesPortIntoChannel(t *testing.T) {
	ev, ok := decode(midi.NoteOn(3, 60, 100), 2)
	require.True(t, ok)
	assert.Equal(t, midievent.NoteOn, ev.Type)
	assert.Equal(t, 2*16+3, ev.Channel)
	assert.Equal(t, 60, ev.Param1)
	assert.Equal(t, 100, ev.Param2)
}

func TestDecodeProgramChangeHasNoParam2(t *testing.T) {
	ev, ok := decode(midi.ProgramChange(0, 5), 0)
	require.True(t, ok)
	assert.Equal(t, midievent.ProgramChange, ev.Type)
	assert.Equal(t, 5, ev.Param1)
	assert.Equal(t, 0, ev.Param2)
}

func TestDecodePitchBendCombines14Bits(t *testing.T) {
	ev, ok := decode(midi.Pitchbend(0, 0), 0)
	require.True(t, ok)
	assert.Equal(t, midievent.PitchBend, ev.Type)
	assert.Equal(t, 8192, ev.Param1)
}

func TestDecodeRejectsEmptyMessage(t *testing.T) {
	_, ok := decode(midi.Message{}, 0)
	assert.False(t, ok)
}

func TestDecodeRejectsDataByte(t *testing.T) {
	_, ok := decode(midi.Message{0x01, 0x02}, 0)
	assert.False(t, ok)
}

func TestIsTransportClassifiesRealtimeMessages(t *testing.T) {
	assert.True(t, isTransport(midievent.Start))
	assert.True(t, isTransport(midievent.Stop))
	assert.False(t, isTransport(midievent.NoteOn))
}

type fakeRouter struct {
	handled []midievent.Event
}

func (r *fakeRouter) HandleEvent(ev midievent.Event) error {
	r.handled = append(r.handled, ev)
	return nil
}

func newTestDriver() (*Driver, *fakeRouter) {
	fr := &fakeRouter{}
	d := &Driver{
		router: fr,
		events: make(chan midievent.Event, queueDepth),
		done:   make(chan struct{}),
	}
	return d, fr
}

func TestOnMessageQueuesDecodedEvent(t *testing.T) {
	d, _ := newTestDriver()
	d.onMessage(midi.NoteOn(0, 60, 100))

	require.Len(t, d.events, 1)
	ev := <-d.events
	assert.Equal(t, midievent.NoteOn, ev.Type)
}

func TestOnMessageDropsWhenQueueFull(t *testing.T) {
	fr := &fakeRouter{}
	d := &Driver{router: fr, events: make(chan midievent.Event, 1), done: make(chan struct{})}

	d.onMessage(midi.NoteOn(0, 60, 100))
	d.onMessage(midi.NoteOn(0, 61, 100)) // queue full, dropped silently (no logger configured)

	assert.Len(t, d.events, 1)
}

func TestOnMessageEchoesTransportEvents(t *testing.T) {
	d, _ := newTestDriver()
	var echoed []midi.Message
	d.echo = append(d.echo, func(m midi.Message) error {
		echoed = append(echoed, m)
		return nil
	})

	d.onMessage(midi.Message{byte(midievent.Start)})
	require.Len(t, echoed, 1)
}

func TestOnMessageDoesNotEchoVoiceEvents(t *testing.T) {
	d, _ := newTestDriver()
	called := false
	d.echo = append(d.echo, func(m midi.Message) error {
		called = true
		return nil
	})

	d.onMessage(midi.NoteOn(0, 60, 100))
	assert.False(t, called)
}

func TestDrainBatchForwardsEventsInOrderAndReportsQuit(t *testing.T) {
	d, fr := newTestDriver()
	d.events <- midievent.Event{Type: midievent.NoteOn, Param1: 1}
	d.events <- midievent.Event{Type: midievent.NoteOn, Param1: 2}

	assert.False(t, d.drainBatch())
	require.Len(t, fr.handled, 2)
	assert.Equal(t, 1, fr.handled[0].Param1)
	assert.Equal(t, 2, fr.handled[1].Param1)

	d.quit.Store(true)
	assert.True(t, d.drainBatch())
}

func TestStopSignalsQuitAndClosesDone(t *testing.T) {
	d, _ := newTestDriver()
	d.Stop()

	assert.True(t, d.quit.Load())
	select {
	case <-d.done:
	default:
		t.Fatal("done channel was not closed")
	}
}
