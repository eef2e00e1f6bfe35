package practice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urtextpiano-dev/urtext-sub005/evaluate"
	"github.com/urtextpiano-dev/urtext-sub005/highlight"
	"github.com/urtextpiano-dev/urtext-sub005/model"
	"github.com/urtextpiano-dev/urtext-sub005/scheduler"
	"github.com/urtextpiano-dev/urtext-sub005/score"
	"github.com/urtextpiano-dev/urtext-sub005/settings"
	"github.com/urtextpiano-dev/urtext-sub005/tempo"
	"github.com/urtextpiano-dev/urtext-sub005/timeline"
)

// fakeScheduler never fires on its own; tests fire tasks explicitly.
type fakeScheduler struct {
	mu     sync.Mutex
	calls  []string
	tasks  []*fakeTask
	panics bool
}

type fakeTask struct {
	owner     *fakeScheduler
	fn        func()
	delay     time.Duration
	cancelled bool
	fired     bool
}

func (t *fakeTask) Cancel() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	t.owner.calls = append(t.owner.calls, "cancel")
	was := !t.cancelled && !t.fired
	t.cancelled = true
	return was
}

func (s *fakeScheduler) ScheduleCallback(fn func(), delay time.Duration) scheduler.Handle {
	if s.panics {
		panic("clock gone")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "schedule")
	t := &fakeTask{owner: s, fn: fn, delay: delay}
	s.tasks = append(s.tasks, t)
	return t
}

func (s *fakeScheduler) pending() []*fakeTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*fakeTask
	for _, t := range s.tasks {
		if !t.cancelled && !t.fired {
			res = append(res, t)
		}
	}
	return res
}

func (s *fakeScheduler) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// fire runs the only pending task.
func (s *fakeScheduler) fire(t *testing.T) time.Duration {
	pending := s.pending()
	require.Len(t, pending, 1)
	task := pending[0]
	s.mu.Lock()
	task.fired = true
	s.mu.Unlock()
	task.fn()
	return task.delay
}

type failingCursor struct {
	*score.GraphCursor
	failAt int
}

func (c *failingCursor) SkipToPosition(i int) error {
	if i == c.failAt {
		return errors.New("renderer refused")
	}
	return c.GraphCursor.SkipToPosition(i)
}

type panickingTempo struct{}

func (panickingTempo) ComputeDelay(float64, string) time.Duration { panic("bad tempo map") }
func (panickingTempo) SetMeasure(int)                            {}

type panickingEvaluator struct {
	*evaluate.Provider
	at int
}

func (e panickingEvaluator) Step(i int) (model.PracticeStep, bool) {
	if i == e.at {
		panic("step lookup exploded")
	}
	return e.Provider.Step(i)
}

type panickingMatcher struct {
	*evaluate.Provider
}

func (panickingMatcher) Match([]uint8, model.PracticeStep) model.MatchResult {
	panic("matcher exploded")
}

// flakyHighlighter panics on the nth command of the given kind.
type flakyHighlighter struct {
	kind model.HighlightKind
	nth  int
	seen int
}

func (f *flakyHighlighter) Highlight(cmd model.HighlightCommand) {
	if cmd.Kind != f.kind {
		return
	}
	f.seen++
	if f.seen == f.nth {
		panic("renderer gone")
	}
}

// recordingTempo remembers every measure the machine moves the resolver to.
type recordingTempo struct {
	*tempo.Resolver
	measures []int
}

func (r *recordingTempo) SetMeasure(source int) {
	r.measures = append(r.measures, source)
	r.Resolver.SetMeasure(source)
}

func quarter(midi uint8) []*score.Staff {
	return []*score.Staff{{DurationInBeats: 1, Notes: []score.Note{{MIDIValue: midi, DurationInBeats: 1}}}}
}

func linearGraph(n int) *score.Graph {
	g := &score.Graph{}
	for i := 0; i < n; i++ {
		g.Measures = append(g.Measures, &score.Measure{Index: i, Staves: quarter(uint8(60 + i))})
	}
	g.Measures[0].TempoBPM = 120
	return g
}

type harness struct {
	machine   *Machine
	sched     *fakeScheduler
	cursor    *score.GraphCursor
	highlight *highlight.Recorder
	services  Services
}

func newHarness(t *testing.T, g *score.Graph, edit func(*Services), opts ...Option) *harness {
	tl := timeline.New(nil)
	tl.Build(g)
	h := &harness{
		sched:     &fakeScheduler{},
		cursor:    score.NewGraphCursor(g, nil),
		highlight: highlight.NewRecorder(32),
	}
	h.services = Services{
		Timeline:    tl,
		Tempo:       tempo.NewResolver(tempo.WithTempoEvents(tempo.Extract(g))),
		Scheduler:   h.sched,
		Evaluator:   evaluate.NewProvider(g, nil),
		Cursor:      h.cursor,
		Settings:    settings.Static(model.DefaultDifficultySettings()),
		Highlighter: h.highlight,
	}
	if edit != nil {
		edit(&h.services)
	}
	m, err := New(h.services, opts...)
	require.NoError(t, err)
	h.machine = m
	return h
}

func (h *harness) status() model.Status {
	return h.machine.Snapshot().Status
}

func TestNewRequiresServices(t *testing.T) {
	_, err := New(Services{})
	assert.ErrorIs(t, err, ErrMissingService)
}

func TestStartEntersListening(t *testing.T) {
	h := newHarness(t, linearGraph(3), nil)
	h.machine.Dispatch(Start())

	s := h.machine.Snapshot()
	assert := assert.New(t)
	assert.Equal(model.StatusListening, s.Status)
	assert.NotEmpty(s.SessionID)
	require.NotNil(t, s.CurrentStep)
	assert.Equal(0, s.CurrentStep.MeasureIndex)
	assert.Equal(0, h.cursor.CurrentPosition())
	assert.Equal([]model.HighlightCommand{{MIDIValue: 60, Kind: model.HighlightExpected}}, h.highlight.History())
}

func TestEndToEndAdvance(t *testing.T) {
	h := newHarness(t, linearGraph(3), nil)
	h.machine.Dispatch(Start())
	h.machine.Dispatch(NotePlayed(60, 90))

	assert := assert.New(t)
	assert.Equal(model.StatusFeedbackCorrect, h.status())
	assert.Equal(model.ResultCorrect, h.machine.Snapshot().LastResult)

	delay := h.sched.fire(t)
	assert.Equal(540*time.Millisecond, delay)

	s := h.machine.Snapshot()
	assert.Equal(model.StatusListening, s.Status)
	assert.Equal(1, h.cursor.CurrentPosition())
	assert.Equal(1, s.StepIndex)
	assert.Equal(uint8(61), s.CurrentStep.Notes[0].MIDIValue)
}

func TestRapidCorrectNotesKeepOnePending(t *testing.T) {
	h := newHarness(t, linearGraph(3), nil)
	h.machine.Dispatch(Start())
	for i := 0; i < 3; i++ {
		h.machine.Dispatch(NotePlayed(60, 100))
	}

	assert.Equal(t, []string{"schedule", "cancel", "schedule", "cancel", "schedule"}, h.sched.callLog())
	assert.Len(t, h.sched.pending(), 1)
	assert.Equal(t, model.StatusFeedbackCorrect, h.status())
}

func TestStaleTimeoutIsDropped(t *testing.T) {
	h := newHarness(t, linearGraph(3), nil)
	h.machine.Dispatch(Start())
	h.machine.Dispatch(NotePlayed(60, 100))
	first := h.sched.pending()[0]
	h.machine.Dispatch(NotePlayed(60, 100))

	// a timer that fired just before being cancelled
	first.fn()

	assert := assert.New(t)
	assert.Equal(model.StatusFeedbackCorrect, h.status())
	assert.Equal(0, h.machine.Snapshot().StepIndex)

	h.sched.fire(t)
	assert.Equal(1, h.machine.Snapshot().StepIndex)
}

func TestSeekFailureKeepsCurrentStep(t *testing.T) {
	g := linearGraph(3)
	var cursor *failingCursor
	h := newHarness(t, g, func(s *Services) {
		cursor = &failingCursor{GraphCursor: score.NewGraphCursor(g, nil), failAt: 1}
		s.Cursor = cursor
	})
	h.machine.Dispatch(Start())
	h.machine.Dispatch(NotePlayed(60, 100))
	h.sched.fire(t)

	s := h.machine.Snapshot()
	assert := assert.New(t)
	assert.Equal(model.StatusListening, s.Status)
	assert.Equal(0, s.StepIndex)
	assert.Equal(uint8(60), s.CurrentStep.Notes[0].MIDIValue)
	assert.Equal(0, cursor.CurrentPosition())
}

func TestWrongNote(t *testing.T) {
	h := newHarness(t, linearGraph(3), nil)
	h.machine.Dispatch(Start())
	h.machine.Dispatch(NotePlayed(61, 100))

	s := h.machine.Snapshot()
	assert := assert.New(t)
	assert.Equal(model.StatusFeedbackIncorrect, s.Status)
	assert.Equal(model.ResultWrongNotes, s.LastResult)
	assert.Equal(1, s.AttemptCount)
	assert.Empty(h.sched.pending())
	assert.Contains(h.highlight.History(), model.HighlightCommand{MIDIValue: 61, Kind: model.HighlightIncorrect})

	h.machine.Dispatch(NoteReleased(61))
	assert.Equal(model.StatusListening, h.status())

	h.machine.Dispatch(NotePlayed(60, 100))
	assert.Equal(model.StatusFeedbackCorrect, h.status())
	assert.Equal(1, h.machine.Snapshot().AttemptCount)
}

func TestWrongNoteAdvancesWhenNotWaiting(t *testing.T) {
	h := newHarness(t, linearGraph(3), func(s *Services) {
		d := model.DefaultDifficultySettings()
		d.WaitForCorrectNote = false
		s.Settings = settings.Static(d)
	})
	h.machine.Dispatch(Start())
	h.machine.Dispatch(NotePlayed(70, 100))

	assert.Equal(t, model.StatusFeedbackIncorrect, h.status())
	h.sched.fire(t)
	assert.Equal(t, 1, h.machine.Snapshot().StepIndex)
}

func TestChordPartialMatch(t *testing.T) {
	g := &score.Graph{Measures: []*score.Measure{
		{Staves: []*score.Staff{
			{DurationInBeats: 1, Notes: []score.Note{{MIDIValue: 64, DurationInBeats: 1}}},
			{PartIndex: 1, DurationInBeats: 1, Notes: []score.Note{{MIDIValue: 48, DurationInBeats: 1}}},
		}},
	}}
	h := newHarness(t, g, nil)
	h.machine.Dispatch(Start())
	h.machine.Dispatch(NotePlayed(48, 80))

	s := h.machine.Snapshot()
	assert := assert.New(t)
	assert.Equal(model.StatusListening, s.Status)
	assert.Equal(model.ResultPartialMatch, s.LastResult)
	assert.Equal(0, s.AttemptCount)

	h.machine.Dispatch(NotePlayed(64, 80))
	assert.Equal(model.StatusFeedbackCorrect, h.status())

	h.sched.fire(t)
	assert.Equal(model.StatusComplete, h.status())
}

func TestStopCancelsPending(t *testing.T) {
	h := newHarness(t, linearGraph(3), nil)
	h.machine.Dispatch(Start())
	h.machine.Dispatch(NotePlayed(60, 100))
	task := h.sched.pending()[0]

	h.machine.Dispatch(Stop())

	assert := assert.New(t)
	assert.Equal(model.StatusIdle, h.status())
	assert.True(task.cancelled)
	assert.Empty(h.sched.pending())

	task.fn()
	assert.Equal(model.StatusIdle, h.status())
}

func TestCloseCancelsPending(t *testing.T) {
	h := newHarness(t, linearGraph(3), nil)
	h.machine.Dispatch(Start())
	h.machine.Dispatch(NotePlayed(60, 100))

	h.machine.Close()
	assert.Empty(t, h.sched.pending())

	h.machine.Dispatch(Start())
	assert.Equal(t, model.StatusFeedbackCorrect, h.status())
}

func TestDelayPanicFallsBack(t *testing.T) {
	h := newHarness(t, linearGraph(3), func(s *Services) {
		s.Tempo = panickingTempo{}
	})
	h.machine.Dispatch(Start())
	h.machine.Dispatch(NotePlayed(60, 100))

	assert.Equal(t, model.StatusFeedbackCorrect, h.status())
	assert.Equal(t, 500*time.Millisecond, h.sched.fire(t))
	assert.Equal(t, 1, h.machine.Snapshot().StepIndex)
}

func TestSchedulerPanicFallsBack(t *testing.T) {
	var delays []time.Duration
	fallback := func(d time.Duration, fn func()) scheduler.Handle {
		delays = append(delays, d)
		return &fakeTask{owner: &fakeScheduler{}, fn: fn, delay: d}
	}
	h := newHarness(t, linearGraph(3), func(s *Services) {
		s.Scheduler = &fakeScheduler{panics: true}
	}, WithFallbackTimer(fallback))

	h.machine.Dispatch(Start())
	assert.NotPanics(t, func() { h.machine.Dispatch(NotePlayed(60, 100)) })

	assert.Equal(t, model.StatusFeedbackCorrect, h.status())
	assert.Equal(t, []time.Duration{540 * time.Millisecond}, delays)
}

func TestAdvancePanicIsRecovered(t *testing.T) {
	g := linearGraph(3)
	h := newHarness(t, g, func(s *Services) {
		s.Evaluator = panickingEvaluator{Provider: evaluate.NewProvider(g, nil), at: 1}
	})
	h.machine.Dispatch(Start())
	h.machine.Dispatch(NotePlayed(60, 100))
	assert.NotPanics(t, func() { h.sched.fire(t) })

	s := h.machine.Snapshot()
	assert.Equal(t, model.StatusListening, s.Status)
	assert.Equal(t, 0, s.StepIndex)
	assert.Equal(t, 0, h.cursor.CurrentPosition())
}

// snapshotWithin fails the test instead of hanging when the machine lock is
// never released.
func snapshotWithin(t *testing.T, m *Machine) model.PracticeState {
	done := make(chan model.PracticeState, 1)
	go func() { done <- m.Snapshot() }()
	select {
	case s := <-done:
		return s
	case <-time.After(time.Second):
		t.Fatal("machine lock still held")
		return model.PracticeState{}
	}
}

func TestEvaluatorPanicIsContained(t *testing.T) {
	g := linearGraph(3)
	h := newHarness(t, g, func(s *Services) {
		s.Evaluator = panickingMatcher{Provider: evaluate.NewProvider(g, nil)}
	})
	h.machine.Dispatch(Start())
	assert.NotPanics(t, func() { h.machine.Dispatch(NotePlayed(60, 100)) })

	assert := assert.New(t)
	s := snapshotWithin(t, h.machine)
	assert.Equal(model.StatusListening, s.Status)
	assert.Equal(0, s.StepIndex)
	assert.Empty(h.sched.pending())

	h.machine.Dispatch(Stop())
	assert.Equal(model.StatusIdle, snapshotWithin(t, h.machine).Status)
}

func TestHighlighterPanicIsContained(t *testing.T) {
	h := newHarness(t, linearGraph(3), func(s *Services) {
		s.Highlighter = &flakyHighlighter{kind: model.HighlightCorrect, nth: 1}
	})
	h.machine.Dispatch(Start())
	assert.NotPanics(t, func() { h.machine.Dispatch(NotePlayed(60, 100)) })

	s := snapshotWithin(t, h.machine)
	assert.Equal(t, model.StatusListening, s.Status)
	assert.Empty(t, h.sched.pending())

	// the second correct press goes through
	h.machine.Dispatch(NoteReleased(60))
	h.machine.Dispatch(NotePlayed(60, 100))
	assert.Equal(t, model.StatusFeedbackCorrect, h.status())
	h.sched.fire(t)
	assert.Equal(t, 1, h.machine.Snapshot().StepIndex)
}

func TestStartPanicStaysIdle(t *testing.T) {
	h := newHarness(t, linearGraph(2), func(s *Services) {
		s.Highlighter = &flakyHighlighter{kind: model.HighlightExpected, nth: 1}
	})
	assert.NotPanics(t, func() { h.machine.Dispatch(Start()) })
	assert.Equal(t, model.StatusIdle, snapshotWithin(t, h.machine).Status)

	h.machine.Dispatch(Start())
	assert.Equal(t, model.StatusListening, h.status())
}

func TestPanicAfterSeekRestoresCursorAndTempo(t *testing.T) {
	g := linearGraph(3)
	var rec *recordingTempo
	h := newHarness(t, g, func(s *Services) {
		rec = &recordingTempo{Resolver: tempo.NewResolver(tempo.WithTempoEvents(tempo.Extract(g)))}
		s.Tempo = rec
		s.Highlighter = &flakyHighlighter{kind: model.HighlightExpected, nth: 2}
	})
	h.machine.Dispatch(Start())
	h.machine.Dispatch(NotePlayed(60, 100))
	assert.NotPanics(t, func() { h.sched.fire(t) })

	assert := assert.New(t)
	s := snapshotWithin(t, h.machine)
	assert.Equal(model.StatusListening, s.Status)
	assert.Equal(0, s.StepIndex)
	assert.Equal(0, s.CurrentStep.MeasureIndex)
	assert.Equal(0, h.cursor.CurrentPosition())
	assert.Equal([]int{0, 1, 0}, rec.measures)
	assert.Empty(h.sched.pending())

	// practice resumes from the restored step
	h.machine.Dispatch(NoteReleased(60))
	h.machine.Dispatch(NotePlayed(60, 100))
	h.sched.fire(t)
	assert.Equal(1, h.machine.Snapshot().StepIndex)
	assert.Equal(1, h.cursor.CurrentPosition())
}

func TestRepeatWarning(t *testing.T) {
	g := linearGraph(2)
	g.Measures[1].RepeatEnd = true
	h := newHarness(t, g, nil)

	h.machine.Dispatch(Start())
	assert := assert.New(t)
	assert.Equal(model.StatusRepeatWarning, h.status())

	h.machine.Dispatch(NotePlayed(60, 100))
	assert.Equal(model.StatusRepeatWarning, h.status())

	h.machine.Dispatch(DismissRepeatWarning())
	assert.Equal(model.StatusListening, h.status())

	h.machine.Dispatch(Stop())
	h.machine.Dispatch(Start())
	assert.Equal(model.StatusListening, h.status(), "dismissal lasts for the machine's lifetime")
}

func TestCompletesAfterLastStep(t *testing.T) {
	h := newHarness(t, linearGraph(1), nil)
	h.machine.Dispatch(Start())
	h.machine.Dispatch(NotePlayed(60, 100))
	h.sched.fire(t)

	assert.Equal(t, model.StatusComplete, h.status())

	h.machine.Dispatch(Start())
	assert.Equal(t, model.StatusListening, h.status())
}

func TestAutoAdvanceRests(t *testing.T) {
	g := linearGraph(3)
	g.Measures[1].Staves = []*score.Staff{{DurationInBeats: 1, Notes: []score.Note{{IsRest: true, DurationInBeats: 1}}}}
	h := newHarness(t, g, nil)
	h.machine.Dispatch(Start())
	h.machine.Dispatch(NotePlayed(60, 100))
	h.sched.fire(t)

	s := h.machine.Snapshot()
	assert := assert.New(t)
	require.True(t, s.CurrentStep.IsRest)
	assert.Equal(model.StatusListening, s.Status)
	assert.Len(h.sched.pending(), 1)

	h.sched.fire(t)
	assert.Equal(2, h.machine.Snapshot().StepIndex)
	assert.Equal(2, h.cursor.CurrentPosition())
}

func TestSectionLooping(t *testing.T) {
	h := newHarness(t, linearGraph(3), func(s *Services) {
		d := model.DefaultDifficultySettings()
		d.SectionLooping = true
		s.Settings = settings.Static(d)
	})
	h.machine.Dispatch(Start())
	h.machine.Dispatch(ToggleSectionRepeat())

	s := h.machine.Snapshot()
	require.True(t, s.RepeatActive)
	assert.Equal(t, 0, s.RepeatMeasure)

	h.machine.Dispatch(NotePlayed(60, 100))
	h.sched.fire(t)
	assert.Equal(t, 0, h.machine.Snapshot().StepIndex)
	assert.Equal(t, 0, h.cursor.CurrentPosition())

	h.machine.Dispatch(ToggleSectionRepeat())
	h.machine.Dispatch(NotePlayed(60, 100))
	h.sched.fire(t)
	assert.Equal(t, 1, h.machine.Snapshot().StepIndex)
}

func TestPlaybackSpeedScalesDelay(t *testing.T) {
	h := newHarness(t, linearGraph(3), func(s *Services) {
		d := model.DefaultDifficultySettings()
		d.PlaybackSpeed = 2
		s.Settings = settings.Static(d)
	})
	h.machine.Dispatch(Start())
	h.machine.Dispatch(NotePlayed(60, 100))

	assert.Equal(t, 270*time.Millisecond, h.sched.fire(t))
}

func TestHintsAfterAttempts(t *testing.T) {
	h := newHarness(t, linearGraph(2), func(s *Services) {
		d := model.DefaultDifficultySettings()
		d.HighlightExpectedNotes = false
		d.ShowHintsAfterAttempts = 2
		s.Settings = settings.Static(d)
	})
	expected := model.HighlightCommand{MIDIValue: 60, Kind: model.HighlightExpected}

	h.machine.Dispatch(Start())
	h.machine.Dispatch(NotePlayed(62, 100))
	h.machine.Dispatch(NoteReleased(62))
	assert.NotContains(t, h.highlight.History(), expected)

	h.machine.Dispatch(NotePlayed(62, 100))
	h.machine.Dispatch(NoteReleased(62))
	assert.Contains(t, h.highlight.History(), expected)
}

func TestObserversAndLatency(t *testing.T) {
	var mu sync.Mutex
	var seen []model.Status
	clock := time.Unix(0, 0)
	h := newHarness(t, linearGraph(2), nil, WithNow(func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}))
	h.machine.OnChange(func(s model.PracticeState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.Status)
	})

	h.machine.Dispatch(Start())
	h.machine.Dispatch(NotePlayed(60, 100))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []model.Status{model.StatusListening, model.StatusFeedbackCorrect}, seen)
	assert.Equal(t, uint8(60), h.machine.Snapshot().LastNote.MIDIValue)
}

func TestRun(t *testing.T) {
	h := newHarness(t, linearGraph(2), nil)
	h.machine.Dispatch(Start())

	in := make(chan model.InputEvent, 3)
	in <- model.InputEvent{Type: model.NoteOn, MIDIValue: 62, Velocity: 90}
	in <- model.InputEvent{Type: model.NoteOn, MIDIValue: 62, Velocity: 0}
	in <- model.InputEvent{Type: model.NoteOn, MIDIValue: 60, Velocity: 90}
	close(in)

	require.NoError(t, h.machine.Run(context.Background(), in))
	s := h.machine.Snapshot()
	assert.Equal(t, model.StatusFeedbackCorrect, s.Status)
	assert.Equal(t, 1, s.AttemptCount)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.machine.Run(ctx, make(chan model.InputEvent)), context.Canceled)
}
