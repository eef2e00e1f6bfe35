package midi

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/urtextpiano-dev/urtext-sub005/logging"
	"github.com/urtextpiano-dev/urtext-sub005/model"
)

// Input forwards note messages from a live MIDI port as input events.
type Input struct {
	port    drivers.In
	stop    func()
	logger  *slog.Logger
	dropped atomic.Uint64
}

// InPorts lists the names of the available input ports.
func InPorts() []string {
	var res []string
	for _, in := range midi.GetInPorts() {
		res = append(res, in.String())
	}
	return res
}

// OpenInput opens the named port, or port number num when name is empty.
func OpenInput(name string, num int, logger *slog.Logger) (*Input, error) {
	var in drivers.In
	var err error
	if name != "" {
		in, err = midi.FindInPort(name)
	} else {
		in, err = midi.InPort(num)
	}
	if err != nil {
		return nil, fmt.Errorf("find midi input: %w", err)
	}
	return &Input{port: in, logger: logging.OrDiscard(logger)}, nil
}

// Listen starts delivering events to out in arrival order. The driver is
// never blocked: events that find out full are dropped and counted.
func (i *Input) Listen(out chan<- model.InputEvent) error {
	stop, err := midi.ListenTo(i.port, func(msg midi.Message, timestampms int32) {
		i.deliver(out, msg, time.Duration(timestampms)*time.Millisecond)
	}, midi.HandleError(func(listenErr error) {
		i.logger.Warn("midi: listener error", "port", i.portName(), "err", listenErr)
	}))
	if err != nil {
		return fmt.Errorf("listen %q: %w", i.portName(), err)
	}
	i.stop = stop
	i.logger.Info("midi: listening", "port", i.portName())
	return nil
}

func (i *Input) deliver(out chan<- model.InputEvent, msg midi.Message, at time.Duration) {
	ev, ok := Translate(msg, at)
	if !ok {
		i.logger.Debug("midi: unhandled message", "msg", msg.String())
		return
	}
	select {
	case out <- ev:
	default:
		n := i.dropped.Add(1)
		i.logger.Warn("midi: input queue full, dropping event",
			"midi_value", ev.MIDIValue, "type", ev.Type, "dropped", n)
	}
}

// Dropped is the number of events lost to a full queue.
func (i *Input) Dropped() uint64 {
	return i.dropped.Load()
}

func (i *Input) portName() string {
	if i.port == nil {
		return ""
	}
	return i.port.String()
}

// Translate maps note start and end messages onto input events.
func Translate(msg midi.Message, at time.Duration) (model.InputEvent, bool) {
	var ch, key, vel uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		return model.InputEvent{Type: model.NoteOn, MIDIValue: key, Velocity: vel, Timestamp: at}, true
	case msg.GetNoteEnd(&ch, &key):
		return model.InputEvent{Type: model.NoteOff, MIDIValue: key, Timestamp: at}, true
	default:
		return model.InputEvent{}, false
	}
}

func (i *Input) Close() error {
	if i.stop != nil {
		i.stop()
		i.stop = nil
	}
	return i.port.Close()
}
