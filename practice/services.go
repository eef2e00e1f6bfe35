package practice

import (
	"errors"
	"fmt"
	"time"

	"github.com/urtextpiano-dev/urtext-sub005/highlight"
	"github.com/urtextpiano-dev/urtext-sub005/model"
	"github.com/urtextpiano-dev/urtext-sub005/scheduler"
	"github.com/urtextpiano-dev/urtext-sub005/score"
	"github.com/urtextpiano-dev/urtext-sub005/settings"
)

var ErrMissingService = errors.New("missing practice service")

type Timeline interface {
	HasRepeats() bool
	MeasureForSource(source int) (int, bool)
	SeekToMeasure(index int, cursor score.Cursor) bool
}

type TempoResolver interface {
	ComputeDelay(durationInBeats float64, noteID string) time.Duration
	SetMeasure(source int)
}

// Scheduler runs callbacks later. Implementations must not run fn before
// ScheduleCallback returns.
type Scheduler interface {
	ScheduleCallback(fn func(), delay time.Duration) scheduler.Handle
}

// Evaluator hands out practice steps in order and matches played notes.
type Evaluator interface {
	StepCount() int
	Step(i int) (model.PracticeStep, bool)
	Match(held []uint8, expected model.PracticeStep) model.MatchResult
}

// Services are the collaborators of a Machine. The composition root owns
// their lifecycle, including starting and closing the scheduler session.
type Services struct {
	Timeline    Timeline
	Tempo       TempoResolver
	Scheduler   Scheduler
	Evaluator   Evaluator
	Cursor      score.Cursor
	Settings    settings.Provider
	Highlighter highlight.Sink
}

func (s *Services) validate() error {
	switch {
	case s.Timeline == nil:
		return fmt.Errorf("%w: timeline", ErrMissingService)
	case s.Tempo == nil:
		return fmt.Errorf("%w: tempo resolver", ErrMissingService)
	case s.Scheduler == nil:
		return fmt.Errorf("%w: scheduler", ErrMissingService)
	case s.Evaluator == nil:
		return fmt.Errorf("%w: evaluator", ErrMissingService)
	case s.Cursor == nil:
		return fmt.Errorf("%w: cursor", ErrMissingService)
	}
	if s.Settings == nil {
		s.Settings = settings.Static(model.DefaultDifficultySettings())
	}
	if s.Highlighter == nil {
		s.Highlighter = highlight.Multi{}
	}
	return nil
}
