// Package highlight delivers note highlighting commands to whatever renders
// them.
package highlight

import (
	"log/slog"
	"sync"

	"github.com/urtextpiano-dev/urtext-sub005/logging"
	"github.com/urtextpiano-dev/urtext-sub005/model"
)

type Sink interface {
	Highlight(cmd model.HighlightCommand)
}

type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logging.OrDiscard(logger)}
}

func (s *LogSink) Highlight(cmd model.HighlightCommand) {
	s.logger.Debug("highlight: note", "midi", cmd.MIDIValue, "kind", cmd.Kind)
}

// Multi fans a command out to every sink.
type Multi []Sink

func (m Multi) Highlight(cmd model.HighlightCommand) {
	for _, s := range m {
		if s != nil {
			s.Highlight(cmd)
		}
	}
}

// Recorder keeps the most recent commands and broadcasts new ones to
// subscribers. Slow subscribers miss commands rather than block the caller.
type Recorder struct {
	mu      sync.Mutex
	limit   int
	history []model.HighlightCommand
	subs    map[chan model.HighlightCommand]struct{}
}

func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 64
	}
	return &Recorder{limit: limit, subs: make(map[chan model.HighlightCommand]struct{})}
}

func (r *Recorder) Highlight(cmd model.HighlightCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, cmd)
	if len(r.history) > r.limit {
		r.history = r.history[len(r.history)-r.limit:]
	}
	for ch := range r.subs {
		select {
		case ch <- cmd:
		default:
		}
	}
}

func (r *Recorder) History() []model.HighlightCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.HighlightCommand(nil), r.history...)
}

// Subscribe returns a channel of future commands and a function that ends
// the subscription.
func (r *Recorder) Subscribe(buffer int) (<-chan model.HighlightCommand, func()) {
	ch := make(chan model.HighlightCommand, buffer)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, ch)
			r.mu.Unlock()
			close(ch)
		})
	}
}
