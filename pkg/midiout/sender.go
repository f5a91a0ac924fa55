// Package midiout implements the router's opt-in "MIDI-out sender"
// boundary adapter (spec §4.3, §9): it translates a routed event back
// into wire-format MIDI and broadcasts it to a subscribed output port,
// the direct replacement for original_source/patcher/src/sbmidi_alsa.c's
// sbmidi_alsaseq_sendevent, built against gitlab.com/gomidi/midi/v2
// instead of ALSA sequencer.
package midiout

import (
	"github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"

	"github.com/geekfunklabs/sbmidi/pkg/midievent"
)

// Sender implements router.MIDIOutFanout by sending routed events to a
// real MIDI output port. Like the C original, it silently refuses
// non-voice events and anything it cannot encode (e.g. a channel that
// no longer fits in a single MIDI status byte once the port's 16
// channels are exhausted) rather than erroring.
type Sender struct {
	send func(midi.Message) error
	log  *log.Logger
}

// New wraps send (typically the function returned by
// gitlab.com/gomidi/midi/v2's midi.SendTo for an opened output port)
// as a router.MIDIOutFanout.
func New(send func(midi.Message) error, logger *log.Logger) *Sender {
	return &Sender{send: send, log: logger}
}

// SendEvent encodes ev as a MIDI 1.0 message and sends it. An event
// that cannot be encoded is dropped without logging; a transport
// failure is logged (when a logger is set), never panicked on or
// returned — the router treats the fan-out as fire-and-forget (spec §9:
// "not invoked by the engine itself by default").
func (s *Sender) SendEvent(ev midievent.Event) {
	msg, ok := encode(ev)
	if !ok {
		return
	}
	if err := s.send(msg); err != nil && s.log != nil {
		s.log.Warn("midiout: send failed", "err", err, "type", ev.Type)
	}
}

// encode translates ev into a wire MIDI message, or reports ok=false
// for anything the sender doesn't know how to represent: non-voice
// events, and channels outside a single cable's 0-15 range (the
// driver's port*16+channel composition can exceed that; the sender
// can only address one physical MIDI channel).
func encode(ev midievent.Event) (midi.Message, bool) {
	if !ev.Type.IsVoice() {
		return nil, false
	}
	if ev.Channel < 0 || ev.Channel > 15 {
		return nil, false
	}
	ch := uint8(ev.Channel)

	switch ev.Type {
	case midievent.NoteOn:
		if ev.Param2 == 0 {
			return midi.NoteOff(ch, uint8(ev.Param1)), true
		}
		return midi.NoteOn(ch, uint8(ev.Param1), uint8(ev.Param2)), true
	case midievent.NoteOff:
		return midi.NoteOff(ch, uint8(ev.Param1)), true
	case midievent.KeyPressure:
		return midi.PolyAfterTouch(ch, uint8(ev.Param1), uint8(ev.Param2)), true
	case midievent.ControlChange:
		return midi.ControlChange(ch, uint8(ev.Param1), uint8(ev.Param2)), true
	case midievent.ProgramChange:
		return midi.ProgramChange(ch, uint8(ev.Param1)), true
	case midievent.ChannelPressure:
		return midi.AfterTouch(ch, uint8(ev.Param1)), true
	case midievent.PitchBend:
		return midi.Pitchbend(ch, int16(ev.Param1-8192)), true
	default:
		return nil, false
	}
}

