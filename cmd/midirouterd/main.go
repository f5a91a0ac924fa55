// Command midirouterd wires a real MIDI input port, the router
// engine, and a synth/custom/midi-out handler set together: driver ->
// router.HandleEvent -> (synth handler, custom handler) with an
// optional MIDI-out fan-out, configured from the command line and an
// optional YAML rule file.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"github.com/spf13/pflag"

	"github.com/geekfunklabs/sbmidi/internal/rlog"
	"github.com/geekfunklabs/sbmidi/pkg/customhandler"
	"github.com/geekfunklabs/sbmidi/pkg/driver"
	"github.com/geekfunklabs/sbmidi/pkg/midievent"
	"github.com/geekfunklabs/sbmidi/pkg/midiout"
	"github.com/geekfunklabs/sbmidi/pkg/router"
	"github.com/geekfunklabs/sbmidi/pkg/routerconfig"
)

// synthHandler is the reference EventHandler used when no real synth
// is wired in: it just logs routed events at debug level. A real
// deployment supplies its own EventHandler (e.g. one that forwards to
// a software synthesizer) in place of this.
type synthHandler struct {
	log     *log.Logger
	custom  *customhandler.Registry
}

func (h *synthHandler) HandleRoutedEvent(ev midievent.Event) {
	h.log.Debug("routed", "type", ev.Type, "chan", ev.Channel, "p1", ev.Param1, "p2", ev.Param2)
}

func (h *synthHandler) HandleCustomEvent(ev midievent.Event, customID int) {
	h.custom.Dispatch(ev, customID)
}

func main() {
	inputDevice := pflag.StringP("input-device", "i", "", "Name of the MIDI input port to route from (required)")
	outputDevice := pflag.StringP("output-device", "o", "", "Name of a MIDI output port to fan routed events out to (optional)")
	rulesFile := pflag.StringP("rules-file", "r", "", "YAML rule-set file to load at startup (optional; defaults to the unity rule)")
	logLevel := pflag.StringP("log-level", "l", "info", "Log level: debug, info, warn, error")
	channels := pflag.IntP("channels", "c", 16, "Downstream device channel count used by the channel-transform range check")
	pflag.Parse()

	logger := rlog.New("midirouterd", rlog.ParseLevel(*logLevel))

	if *inputDevice == "" {
		logger.Error("--input-device is required")
		os.Exit(1)
	}

	if err := run(logger, *inputDevice, *outputDevice, *rulesFile, *channels); err != nil {
		logger.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(logger *log.Logger, inputDeviceName, outputDeviceName, rulesFile string, channels int) error {
	drv, err := rtmididrv.New()
	if err != nil {
		return fmt.Errorf("open MIDI driver: %w", err)
	}
	defer drv.Close()

	in, err := findInput(drv, inputDeviceName)
	if err != nil {
		return err
	}

	custom := customhandler.NewRegistry()
	handler := &synthHandler{log: logger, custom: custom}

	var opts []router.Option
	if outputDeviceName != "" {
		out, err := findOutput(drv, outputDeviceName)
		if err != nil {
			return err
		}
		sender, err := midi.SendTo(out)
		if err != nil {
			return fmt.Errorf("open MIDI-out sender: %w", err)
		}
		opts = append(opts, router.WithMIDIOutFanout(midiout.New(sender, logger)))
	}

	r, err := router.New(handler, opts...)
	if err != nil {
		return err
	}
	r.SetMIDIDevice(channels)

	if rulesFile != "" {
		rules, err := routerconfig.Load(rulesFile)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		if err := routerconfig.ApplyTo(r, rules); err != nil {
			return fmt.Errorf("apply rules: %w", err)
		}
		logger.Info("loaded rules", "file", rulesFile, "count", len(rules))
	} else {
		if err := r.DefaultRules(); err != nil {
			return fmt.Errorf("install default rules: %w", err)
		}
	}

	d := driver.New(in, 0, r, driver.WithLogger(logger))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	logger.Info("routing", "input", inputDeviceName)
	select {
	case <-sigCh:
		logger.Info("shutting down")
		d.Stop()
		return <-done
	case err := <-done:
		return err
	}
}

func findInput(drv *rtmididrv.Driver, name string) (drivers.In, error) {
	ins, err := drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("list MIDI inputs: %w", err)
	}
	for _, in := range ins {
		if in.String() == name {
			return in, nil
		}
	}
	return nil, fmt.Errorf("input device not found: %s", name)
}

func findOutput(drv *rtmididrv.Driver, name string) (drivers.Out, error) {
	outs, err := drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("list MIDI outputs: %w", err)
	}
	for _, out := range outs {
		if out.String() == name {
			return out, nil
		}
	}
	return nil, fmt.Errorf("output device not found: %s", name)
}
