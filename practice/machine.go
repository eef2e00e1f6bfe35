// Package practice drives a practice session: it listens for played notes,
// compares them with the expected step and paces cursor advancement.
package practice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/urtextpiano-dev/urtext-sub005/chord"
	"github.com/urtextpiano-dev/urtext-sub005/constants"
	"github.com/urtextpiano-dev/urtext-sub005/logging"
	"github.com/urtextpiano-dev/urtext-sub005/model"
	"github.com/urtextpiano-dev/urtext-sub005/scheduler"
	"github.com/urtextpiano-dev/urtext-sub005/tempo"
	"github.com/urtextpiano-dev/urtext-sub005/util"
)

type Option func(*Machine)

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = l
	}
}

// WithFallbackTimer replaces the plain timer used when the scheduler panics.
func WithFallbackTimer(fn func(time.Duration, func()) scheduler.Handle) Option {
	return func(m *Machine) {
		m.fallback = fn
	}
}

func WithNow(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// Machine is the practice state machine. Input events and timer firings are
// serialized through Dispatch.
type Machine struct {
	mu     sync.Mutex
	svc    Services
	logger *slog.Logger
	state  model.PracticeState
	held   *chord.Held

	repeatDismissed bool
	pending         scheduler.Handle
	generation      uint64
	closed          bool

	observers []func(model.PracticeState)
	fallback  func(time.Duration, func()) scheduler.Handle
	now       func() time.Time
}

func New(svc Services, opts ...Option) (*Machine, error) {
	if err := svc.validate(); err != nil {
		return nil, err
	}
	m := &Machine{
		svc:      svc,
		held:     chord.NewHeld(),
		fallback: afterFunc,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrDiscard(m.logger)
	return m, nil
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() model.PracticeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// OnChange registers fn to receive a snapshot after every dispatched event.
// fn runs outside the machine lock.
func (m *Machine) OnChange(fn func(model.PracticeState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Machine) Dispatch(ev Event) {
	start := m.now()

	snap, observers, ok := m.apply(ev)
	if !ok {
		return
	}

	if ev.Type == EventNotePlayed {
		if elapsed := m.now().Sub(start); elapsed > constants.NoteToFeedbackBudget {
			m.logger.Warn("practice: note to feedback over budget",
				"elapsed", elapsed, "budget", constants.NoteToFeedbackBudget)
		}
	}
	for _, fn := range observers {
		fn(snap)
	}
}

// apply handles ev under the lock. It reports false once the machine is
// closed.
func (m *Machine) apply(ev Event) (model.PracticeState, []func(model.PracticeState), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.PracticeState{}, nil, false
	}
	m.handleContained(ev)
	return m.state.Clone(), append([]func(model.PracticeState){}, m.observers...), true
}

// handleContained runs handle and rolls back to the state before ev if a
// collaborator panics.
func (m *Machine) handleContained(ev Event) {
	saved := m.state.Clone()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("practice: event handling failed, rolling back",
				"event", ev.Type, "panic", r, "step", saved.StepIndex)
			m.rollback(saved)
		}
	}()
	m.handle(ev)
}

// rollback restores saved and moves the tempo resolver and cursor back to its
// step. Nothing stays pending, and a running session resumes listening.
func (m *Machine) rollback(saved model.PracticeState) {
	m.cancelPending()
	m.held.Reset()
	m.state = saved
	switch saved.Status {
	case model.StatusIdle, model.StatusComplete, model.StatusRepeatWarning:
	default:
		m.state.Status = model.StatusListening
	}
	step := saved.CurrentStep
	if step == nil {
		return
	}
	m.guard("restore tempo", func() {
		m.svc.Tempo.SetMeasure(step.MeasureIndex)
	})
	m.guard("restore cursor", func() {
		if !m.seek(*step) {
			m.logger.Warn("practice: could not restore cursor", "measure", step.MeasureIndex)
		}
	})
}

// guard runs fn and logs instead of propagating a panic.
func (m *Machine) guard(action string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("practice: collaborator panicked", "action", action, "panic", r)
		}
	}()
	fn()
}

// Run feeds input events to the machine in delivery order until ctx is done
// or in is closed.
func (m *Machine) Run(ctx context.Context, in <-chan model.InputEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			m.Dispatch(FromInput(ev))
		}
	}
}

// Close cancels any pending advancement. Later events are ignored.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelPending()
	m.closed = true
}

func (m *Machine) handle(ev Event) {
	switch ev.Type {
	case EventStartPractice:
		m.start()
	case EventStopPractice:
		m.stop()
	case EventNotePlayed:
		m.notePlayed(ev.Note)
	case EventNoteReleased:
		m.noteReleased(ev.Note)
	case EventFeedbackTimeout:
		m.feedbackTimeout(ev.token)
	case EventDismissRepeatWarning:
		if m.state.Status == model.StatusRepeatWarning {
			m.repeatDismissed = true
			m.held.Reset()
			m.logger.Info("practice: repeat warning dismissed")
			m.enterListening()
		}
	case EventToggleSectionRepeat:
		m.toggleSectionRepeat()
	default:
		m.logger.Warn("practice: unknown event", "event", ev.Type)
	}
}

func (m *Machine) settings() model.DifficultySettings {
	return m.svc.Settings.Settings()
}

func (m *Machine) start() {
	switch m.state.Status {
	case model.StatusIdle, model.StatusComplete:
	default:
		m.logger.Debug("practice: already running", "status", m.state.Status)
		return
	}

	m.cancelPending()
	m.held.Reset()
	m.state = model.PracticeState{SessionID: uuid.NewString()}

	step, ok := m.svc.Evaluator.Step(0)
	if !ok {
		m.logger.Warn("practice: nothing to practice")
		m.state.Status = model.StatusComplete
		return
	}
	m.state.CurrentStep = &step
	m.svc.Tempo.SetMeasure(step.MeasureIndex)
	if !m.seek(step) {
		m.logger.Warn("practice: could not move cursor to first step", "measure", step.MeasureIndex)
	}
	m.logger.Info("practice: session started", "session", m.state.SessionID, "steps", m.svc.Evaluator.StepCount())

	if m.svc.Timeline.HasRepeats() && !m.repeatDismissed {
		m.state.Status = model.StatusRepeatWarning
		return
	}
	m.enterListening()
}

func (m *Machine) stop() {
	m.cancelPending()
	m.held.Reset()
	if m.state.Status != model.StatusIdle {
		m.logger.Info("practice: session stopped", "session", m.state.SessionID, "step", m.state.StepIndex)
	}
	m.state = model.PracticeState{}
}

func (m *Machine) enterListening() {
	m.state.Status = model.StatusListening
	step := m.state.CurrentStep
	if step == nil {
		return
	}
	s := m.settings()
	if s.HighlightExpectedNotes || m.hintDue(s) {
		for _, n := range step.Notes {
			m.svc.Highlighter.Highlight(model.HighlightCommand{MIDIValue: n.MIDIValue, Kind: model.HighlightExpected})
		}
	}
	if step.IsRest && s.AutoAdvanceRests {
		m.scheduleAdvance()
	}
}

func (m *Machine) hintDue(s model.DifficultySettings) bool {
	return s.ShowHintsAfterAttempts > 0 && m.state.AttemptCount >= s.ShowHintsAfterAttempts
}

func (m *Machine) notePlayed(note model.InputEvent) {
	note.Type = model.NoteOn
	m.state.LastNote = &note
	switch m.state.Status {
	case model.StatusIdle, model.StatusComplete, model.StatusRepeatWarning:
		return
	}
	m.held.Press(note.MIDIValue)

	switch m.state.Status {
	case model.StatusListening, model.StatusFeedbackIncorrect:
		m.evaluate(note)
	case model.StatusFeedbackCorrect:
		// replaying the step while its advancement is pending restarts the wait
		if m.match() == model.ResultCorrect {
			m.enterFeedbackCorrect()
		}
	}
}

func (m *Machine) noteReleased(note model.InputEvent) {
	m.held.Release(note.MIDIValue)
	if m.state.Status == model.StatusFeedbackIncorrect && len(m.held.Notes()) == 0 {
		m.enterListening()
	}
}

func (m *Machine) match() model.MatchResult {
	step := m.state.CurrentStep
	if step == nil {
		return model.ResultNone
	}
	if step.IsRest {
		// any key acknowledges a rest that is not auto-advanced
		return model.ResultCorrect
	}
	return m.svc.Evaluator.Match(m.held.Notes(), *step)
}

func (m *Machine) evaluate(note model.InputEvent) {
	if m.state.CurrentStep == nil {
		return
	}
	m.state.Status = model.StatusEvaluating
	result := m.match()
	m.state.LastResult = result

	switch result {
	case model.ResultCorrect:
		for _, n := range m.held.Notes() {
			m.svc.Highlighter.Highlight(model.HighlightCommand{MIDIValue: n, Kind: model.HighlightCorrect})
		}
		m.enterFeedbackCorrect()
	case model.ResultPartialMatch:
		m.svc.Highlighter.Highlight(model.HighlightCommand{MIDIValue: note.MIDIValue, Kind: model.HighlightCorrect})
		m.state.Status = model.StatusListening
	case model.ResultWrongNotes:
		m.state.AttemptCount++
		m.state.Status = model.StatusFeedbackIncorrect
		m.svc.Highlighter.Highlight(model.HighlightCommand{MIDIValue: note.MIDIValue, Kind: model.HighlightIncorrect})
		m.logger.Debug("practice: wrong note", "midi", note.MIDIValue, "attempts", m.state.AttemptCount)
		if !m.settings().WaitForCorrectNote {
			m.scheduleAdvance()
		}
	default:
		m.state.Status = model.StatusListening
	}
}

func (m *Machine) enterFeedbackCorrect() {
	m.state.Status = model.StatusFeedbackCorrect
	m.scheduleAdvance()
}

// scheduleAdvance cancels any pending advancement before scheduling a new
// one, so at most one is ever pending.
func (m *Machine) scheduleAdvance() {
	m.cancelPending()

	delay := m.delayFor(m.state.CurrentStep)
	m.generation++
	token := m.generation
	fire := func() {
		m.guard("feedback timeout", func() {
			m.Dispatch(Event{Type: EventFeedbackTimeout, token: token})
		})
	}
	m.pending = m.schedule(fire, delay)
}

func (m *Machine) delayFor(step *model.PracticeStep) (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("practice: delay computation failed, using fallback",
				"err", fmt.Errorf("%w: %v", tempo.ErrTempoCalculation, r),
				"delay", constants.FallbackAdvanceDelay)
			delay = constants.FallbackAdvanceDelay
		}
	}()
	delay = m.svc.Tempo.ComputeDelay(step.DurationInBeats, step.NoteID)
	if speed := m.settings().PlaybackSpeed; util.IsFinitePositive(speed) && speed != 1 {
		delay = util.Max(time.Duration(float64(delay)/speed), constants.MinDelay)
	}
	return delay
}

func (m *Machine) schedule(fn func(), delay time.Duration) (h scheduler.Handle) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("practice: scheduler failed, using plain timer",
				"err", fmt.Errorf("%w: %v", scheduler.ErrScheduling, r))
			h = m.fallback(delay, fn)
		}
	}()
	h = m.svc.Scheduler.ScheduleCallback(fn, delay)
	if h == nil {
		panic("scheduler returned no handle")
	}
	return h
}

func (m *Machine) cancelPending() {
	if m.pending == nil {
		return
	}
	h := m.pending
	m.pending = nil
	m.generation++
	func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Warn("practice: cancel panicked", "panic", r)
			}
		}()
		h.Cancel()
	}()
}

func (m *Machine) feedbackTimeout(token uint64) {
	if m.pending == nil || token != m.generation {
		m.logger.Debug("practice: stale feedback timeout dropped", "token", token)
		return
	}
	m.pending = nil
	switch m.state.Status {
	case model.StatusIdle, model.StatusComplete, model.StatusRepeatWarning:
		return
	}
	m.advance()
}

// advance moves to the next step. A panic part way through is rolled back by
// handleContained, cursor and tempo included.
func (m *Machine) advance() {
	next := m.nextIndex()
	if next >= m.svc.Evaluator.StepCount() {
		m.state.Status = model.StatusComplete
		m.logger.Info("practice: session complete", "session", m.state.SessionID)
		return
	}
	step, ok := m.svc.Evaluator.Step(next)
	if !ok {
		m.logger.Error("practice: evaluator has no step", "step", next)
		m.state.Status = model.StatusListening
		return
	}
	if m.state.CurrentStep == nil || step.MeasureIndex != m.state.CurrentStep.MeasureIndex {
		if !m.seek(step) {
			m.logger.Warn("practice: could not advance cursor, staying on step",
				"step", m.state.StepIndex, "measure", step.MeasureIndex)
			m.state.Status = model.StatusListening
			return
		}
	}

	m.state.StepIndex = next
	m.state.CurrentStep = &step
	m.state.AttemptCount = 0
	m.state.LastResult = model.ResultNone
	m.held.Reset()
	m.svc.Tempo.SetMeasure(step.MeasureIndex)
	m.enterListening()
}

// nextIndex is the following step, or the first step of the looped measure
// when section looping is active and the next step would leave it.
func (m *Machine) nextIndex() int {
	next := m.state.StepIndex + 1
	if !m.state.RepeatActive || !m.settings().SectionLooping {
		return next
	}
	if step, ok := m.svc.Evaluator.Step(next); ok && step.MeasureIndex == m.state.RepeatMeasure {
		return next
	}
	for i := 0; i < m.svc.Evaluator.StepCount(); i++ {
		if step, ok := m.svc.Evaluator.Step(i); ok && step.MeasureIndex == m.state.RepeatMeasure {
			return i
		}
	}
	return next
}

func (m *Machine) seek(step model.PracticeStep) bool {
	index, ok := m.svc.Timeline.MeasureForSource(step.MeasureIndex)
	if !ok {
		return false
	}
	return m.svc.Timeline.SeekToMeasure(index, m.svc.Cursor)
}

func (m *Machine) toggleSectionRepeat() {
	if m.state.CurrentStep == nil || m.state.Status == model.StatusIdle {
		return
	}
	if !m.settings().SectionLooping {
		m.logger.Info("practice: section looping disabled in settings")
		return
	}
	m.state.RepeatActive = !m.state.RepeatActive
	m.state.RepeatMeasure = m.state.CurrentStep.MeasureIndex
	m.logger.Info("practice: section repeat toggled", "active", m.state.RepeatActive, "measure", m.state.RepeatMeasure)
}

type timerHandle struct {
	t *time.Timer
}

func (h timerHandle) Cancel() bool {
	return h.t.Stop()
}

func afterFunc(d time.Duration, fn func()) scheduler.Handle {
	return timerHandle{t: time.AfterFunc(d, fn)}
}
