// Package driver adapts a real MIDI input port, opened through
// gitlab.com/gomidi/midi/v2 and gitlab.com/gomidi/midi/v2/drivers, to
// the router's poll-loop-plus-quit-signal contract (spec §5). It is
// the idiomatic Go replacement for the ALSA-sequencer-specific driver
// named as an out-of-scope external collaborator in spec §1: the
// router core never imports this package or gomidi at all, it only
// receives decoded midievent.Event values through Router.HandleEvent.
package driver

import (
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/geekfunklabs/sbmidi/pkg/midievent"
	"github.com/geekfunklabs/sbmidi/pkg/router"
)

// pollInterval is the quit-flag check cadence named in spec §5: "the
// driver polls with a 100ms timeout purely to check the quit flag;
// there is no per-event timeout and no cancellation of in-flight
// events."
const pollInterval = 100 * time.Millisecond

// queueDepth bounds the batch of events buffered between gomidi's
// listener callback (which runs on its own goroutine) and the poll
// loop that drains it. It is generous relative to realistic MIDI
// traffic bursts (a 1ms-resolution full keyboard roll is well under
// this in a 100ms window).
const queueDepth = 4096

// Router is the subset of *router.Router the driver needs, so the
// driver can be tested against a fake without depending on the real
// rule-list machinery.
type Router interface {
	HandleEvent(ev midievent.Event) error
}

var _ Router = (*router.Router)(nil)

// Driver reads decoded MIDI events from one physical input port and
// feeds them to a Router, on its own thread, honoring a cooperative
// quit signal (spec §5: "Quit signal is an atomic integer read by the
// driver thread's poll loop").
type Driver struct {
	in         drivers.In
	portIndex  int
	router     Router
	log        *log.Logger
	echo       []func(midi.Message) error

	quit   atomic.Bool
	events chan midievent.Event
	done   chan struct{}
}

// Option configures a Driver at construction time.
type Option func(*Driver)

// WithEcho registers output senders that transport events (start,
// continue, stop, clock sync, system reset) are echoed to before being
// forwarded to the router, matching the "echoes non-voice transport
// events back to its own output ports" behavior named as a driver
// concern in spec §4.3.
func WithEcho(senders ...func(midi.Message) error) Option {
	return func(d *Driver) {
		d.echo = append(d.echo, senders...)
	}
}

// WithLogger attaches a logger for decode failures and lifecycle
// events. A nil logger (the default) disables driver logging.
func WithLogger(logger *log.Logger) Option {
	return func(d *Driver) {
		d.log = logger
	}
}

// New wires a Driver for the given input port, delivering decoded
// events to r. portIndex composes into the channel space as
// portIndex*16 + midiChannel (spec §3), so a process routing several
// physical inputs through one Router should give each Driver a
// distinct portIndex.
func New(in drivers.In, portIndex int, r Router, opts ...Option) *Driver {
	d := &Driver{
		in:        in,
		portIndex: portIndex,
		router:    r,
		events:    make(chan midievent.Event, queueDepth),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run opens the input port's listener and blocks, draining decoded
// events into the router every pollInterval, until Stop is called or
// the listener itself fails. It is meant to run on its own goroutine
// (spec §5: "driver thread").
func (d *Driver) Run() error {
	stopListen, err := midi.ListenTo(d.in, func(msg midi.Message, _ int32) {
		d.onMessage(msg)
	})
	if err != nil {
		return err
	}
	defer stopListen()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if d.drainBatch() {
				return nil
			}
		case <-d.done:
			d.drainBatch()
			return nil
		}
	}
}

// drainBatch empties whatever events have queued since the last tick,
// forwarding each to the router in arrival order (spec §5: "Across
// input events on the driver thread, outputs preserve arrival order").
// It returns true if the quit flag is set and the queue is now empty,
// signaling Run to exit.
func (d *Driver) drainBatch() bool {
	for {
		select {
		case ev := <-d.events:
			if err := d.router.HandleEvent(ev); err != nil && d.log != nil {
				d.log.Error("driver: HandleEvent failed", "err", err)
			}
		default:
			return d.quit.Load()
		}
	}
}

// Stop requests the poll loop exit after draining any events already
// queued. Safe to call from any goroutine; must only be followed by
// joining Run's goroutine before the Router it feeds is discarded
// (spec §5: "delete_router must only be called after the driver
// thread has been joined").
func (d *Driver) Stop() {
	d.quit.Store(true)
	close(d.done)
}

func (d *Driver) onMessage(msg midi.Message) {
	ev, ok := decode(msg, d.portIndex)
	if !ok {
		return
	}
	if isTransport(ev.Type) {
		for _, send := range d.echo {
			if err := send(msg); err != nil && d.log != nil {
				d.log.Warn("driver: echo failed", "err", err)
			}
		}
	}

	select {
	case d.events <- ev:
	default:
		if d.log != nil {
			d.log.Warn("driver: event queue full, dropping event", "type", ev.Type)
		}
	}
}

func isTransport(t midievent.Type) bool {
	switch t {
	case midievent.Start, midievent.Continue, midievent.Stop, midievent.Sync, midievent.SystemReset:
		return true
	default:
		return false
	}
}

// decode translates a raw gomidi message into a midievent.Event,
// composing channel as portIndex*16+midiChannel (spec §3). It reports
// ok=false for anything it cannot classify (a bare data byte, an
// unrecognized status).
func decode(msg midi.Message, portIndex int) (midievent.Event, bool) {
	if len(msg) == 0 {
		return midievent.Event{}, false
	}
	status := msg[0]
	if status < 0x80 {
		return midievent.Event{}, false
	}

	if status >= 0xF8 {
		switch midievent.Type(status) {
		case midievent.Start, midievent.Continue, midievent.Stop, midievent.Sync, midievent.SystemReset:
			return midievent.Event{Type: midievent.Type(status)}, true
		default:
			return midievent.Event{}, false
		}
	}

	if status == byte(midievent.Sysex) {
		return midievent.Event{Type: midievent.Sysex, SysexData: append([]byte(nil), msg...)}, true
	}

	t := midievent.Type(status & 0xF0)
	channel := portIndex*16 + int(status&0x0F)

	switch t {
	case midievent.NoteOn, midievent.NoteOff, midievent.KeyPressure, midievent.ControlChange:
		if len(msg) < 3 {
			return midievent.Event{}, false
		}
		return midievent.Event{Type: t, Channel: channel, Param1: int(msg[1]), Param2: int(msg[2])}, true
	case midievent.ProgramChange, midievent.ChannelPressure:
		if len(msg) < 2 {
			return midievent.Event{}, false
		}
		return midievent.Event{Type: t, Channel: channel, Param1: int(msg[1])}, true
	case midievent.PitchBend:
		if len(msg) < 3 {
			return midievent.Event{}, false
		}
		bend := int(msg[1]) | (int(msg[2]) << 7)
		return midievent.Event{Type: t, Channel: channel, Param1: bend}, true
	default:
		return midievent.Event{}, false
	}
}
