// Package evaluate turns a score graph into the ordered practice steps a
// learner plays through and matches played notes against them.
package evaluate

import (
	"log/slog"
	"time"

	"github.com/urtextpiano-dev/urtext-sub005/chord"
	"github.com/urtextpiano-dev/urtext-sub005/constants"
	"github.com/urtextpiano-dev/urtext-sub005/logging"
	"github.com/urtextpiano-dev/urtext-sub005/model"
	"github.com/urtextpiano-dev/urtext-sub005/score"
	"github.com/urtextpiano-dev/urtext-sub005/util"
)

type Provider struct {
	steps []model.PracticeStep
}

// NewProvider builds steps from g. Simultaneous notes of all staves collapse
// into one chord step and rest onsets become rest steps. Measures without a
// usable duration are left out, matching the timeline.
func NewProvider(g *score.Graph, logger *slog.Logger) *Provider {
	logger = logging.OrDiscard(logger)
	p := &Provider{}
	if g == nil {
		logger.Warn("evaluate: no score graph")
		return p
	}

	bpm := constants.DefaultBPM
	if util.IsFinitePositive(g.DefaultBPM) {
		bpm = g.DefaultBPM
	}
	beat := time.Duration(60000.0 / bpm * float64(time.Millisecond))

	var measureStart float64
	for i, m := range g.Measures {
		if _, _, err := m.Layout(); err != nil {
			logger.Debug("evaluate: skipping measure", "source_index", i, "err", err)
			continue
		}
		for _, o := range m.Onsets() {
			p.steps = append(p.steps, newStep(i, o, time.Duration((measureStart+o.OffsetBeats)*float64(beat))))
		}
		measureStart += m.Duration()
	}
	logger.Debug("evaluate: built practice steps", "count", len(p.steps))
	return p
}

func newStep(measure int, o score.Onset, at time.Duration) model.PracticeStep {
	step := model.PracticeStep{
		IsRest:          o.IsRest,
		MeasureIndex:    measure,
		Timestamp:       at,
		NoteID:          score.NoteID(measure, o.Index),
		DurationInBeats: o.DurationInBeats,
	}
	for _, v := range o.Pitches() {
		name, octave := score.PitchName(v)
		step.Notes = append(step.Notes, model.StepNote{MIDIValue: v, PitchName: name, Octave: octave})
	}
	step.IsChord = len(step.Notes) > 1
	return step
}

func (p *Provider) StepCount() int {
	return len(p.steps)
}

func (p *Provider) Step(i int) (model.PracticeStep, bool) {
	if i < 0 || i >= len(p.steps) {
		return model.PracticeStep{}, false
	}
	return p.steps[i], true
}

// Steps returns a copy of every step.
func (p *Provider) Steps() []model.PracticeStep {
	return append([]model.PracticeStep(nil), p.steps...)
}

func (p *Provider) Match(held []uint8, expected model.PracticeStep) model.MatchResult {
	if expected.IsRest {
		return model.ResultNone
	}
	return chord.Match(held, expected.MIDIValues())
}
