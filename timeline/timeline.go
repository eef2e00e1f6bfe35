// Package timeline builds a flat, seekable list of score positions out of a
// score graph. Repeats and jumps are detected and logged, never honored: the
// timeline is always one linear pass.
package timeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/urtextpiano-dev/urtext-sub005/logging"
	"github.com/urtextpiano-dev/urtext-sub005/model"
	"github.com/urtextpiano-dev/urtext-sub005/score"
)

var (
	ErrScoreStructure = errors.New("malformed measure")
	ErrSeek           = errors.New("seek failed")
)

type Timeline struct {
	mu        sync.RWMutex
	logger    *slog.Logger
	built     bool
	positions []model.ScorePosition
	// source measure index -> logical index
	bySource   map[int]int
	hasRepeats bool
	skipped    int
}

func New(logger *slog.Logger) *Timeline {
	return &Timeline{logger: logging.OrDiscard(logger)}
}

// Build walks the measure list once. Calling it again on a built timeline
// does nothing.
func (t *Timeline) Build(g *score.Graph) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.built {
		t.logger.Debug("timeline: already built, ignoring rebuild", "measures", len(t.positions))
		return
	}
	if g == nil {
		t.logger.Warn("timeline: no score graph, timeline is unusable")
		return
	}

	positions := make([]model.ScorePosition, 0, len(g.Measures))
	bySource := make(map[int]int, len(g.Measures))
	repeats := 0
	for i, m := range g.Measures {
		pos, err := positionFor(i, m)
		if err != nil {
			t.skipped++
			t.logger.Warn("timeline: skipping measure", "source_index", i, "err", err)
			continue
		}
		if m.HasRepeat() {
			repeats++
		}
		pos.MeasureIndex = len(positions)
		bySource[pos.SourceIndex] = pos.MeasureIndex
		positions = append(positions, pos)
	}

	if repeats > 0 {
		t.hasRepeats = true
		t.logger.Warn("timeline: score contains repeats or jumps, building a linear timeline",
			"repeat_measures", repeats)
	}

	t.positions = positions
	t.bySource = bySource
	t.built = true
	t.logger.Info("timeline: built", "measures", len(positions), "skipped", t.skipped)
}

func positionFor(i int, m *score.Measure) (model.ScorePosition, error) {
	part, duration, err := m.Layout()
	if err != nil {
		return model.ScorePosition{}, fmt.Errorf("%w: %v", ErrScoreStructure, err)
	}
	return model.ScorePosition{
		SourceIndex:     i,
		PartIndex:       part,
		DurationInBeats: duration,
	}, nil
}

func (t *Timeline) CanHandleScore() bool {
	return t.MeasureCount() > 0
}

func (t *Timeline) MeasureCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions)
}

func (t *Timeline) MeasureInfo(index int) (model.ScorePosition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.positions) {
		return model.ScorePosition{}, false
	}
	return t.positions[index], true
}

// MeasureForSource maps a graph measure index to its timeline index.
func (t *Timeline) MeasureForSource(source int) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.bySource[source]
	return idx, ok
}

func (t *Timeline) HasRepeats() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hasRepeats
}

func (t *Timeline) Skipped() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.skipped
}

func (t *Timeline) Positions() []model.ScorePosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]model.ScorePosition(nil), t.positions...)
}

// SeekToMeasure moves cursor to the source position of index. Invalid
// indices and cursor failures (errors or panics) are logged and reported as
// false; the cursor is left untouched for invalid indices.
func (t *Timeline) SeekToMeasure(index int, cursor score.Cursor) bool {
	pos, ok := t.MeasureInfo(index)
	if !ok {
		t.logger.Warn("timeline: seek out of range", "index", index, "measures", t.MeasureCount())
		return false
	}
	if cursor == nil {
		t.logger.Warn("timeline: seek without a cursor", "index", index)
		return false
	}
	if err := moveCursor(cursor, pos.SourceIndex); err != nil {
		t.logger.Error("timeline: seek failed", "index", index, "source_index", pos.SourceIndex, "err", err)
		return false
	}
	return true
}

func moveCursor(cursor score.Cursor, source int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: cursor panic: %v", ErrSeek, r)
		}
	}()
	if err := cursor.Reset(); err != nil {
		return fmt.Errorf("%w: reset: %v", ErrSeek, err)
	}
	if err := cursor.SkipToPosition(source); err != nil {
		return fmt.Errorf("%w: skip to %d: %v", ErrSeek, source, err)
	}
	return nil
}
