package model

import (
	"fmt"
	"time"
)

type Status int

const (
	StatusIdle Status = iota
	StatusListening
	StatusEvaluating
	StatusFeedbackCorrect
	StatusFeedbackIncorrect
	StatusRepeatWarning
	StatusComplete
)

var statusNames = map[Status]string{
	StatusIdle:              "idle",
	StatusListening:         "listening",
	StatusEvaluating:        "evaluating",
	StatusFeedbackCorrect:   "feedback_correct",
	StatusFeedbackIncorrect: "feedback_incorrect",
	StatusRepeatWarning:     "repeat_warning",
	StatusComplete:          "complete",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PracticeState is owned by the practice machine. Everything handed out is a copy.
type PracticeState struct {
	Status        Status        `json:"status"`
	CurrentStep   *PracticeStep `json:"current_step"`
	StepIndex     int           `json:"step_index"`
	LastResult    MatchResult   `json:"last_result"`
	AttemptCount  int           `json:"attempt_count"`
	RepeatActive  bool          `json:"repeat_active"`
	RepeatMeasure int           `json:"repeat_measure"`
	LastNote      *InputEvent   `json:"last_note,omitempty"`
	SessionID     string        `json:"session_id"`
}

func (s PracticeState) Clone() PracticeState {
	res := s
	if s.CurrentStep != nil {
		step := *s.CurrentStep
		step.Notes = append([]StepNote(nil), s.CurrentStep.Notes...)
		res.CurrentStep = &step
	}
	if s.LastNote != nil {
		note := *s.LastNote
		res.LastNote = &note
	}
	return res
}

type DifficultySettings struct {
	WaitForCorrectNote     bool    `json:"wait_for_correct_note" yaml:"wait_for_correct_note"`
	ShowHintsAfterAttempts int     `json:"show_hints_after_attempts" yaml:"show_hints_after_attempts"`
	HighlightExpectedNotes bool    `json:"highlight_expected_notes" yaml:"highlight_expected_notes"`
	PlaybackSpeed          float64 `json:"playback_speed" yaml:"playback_speed"`
	SectionLooping         bool    `json:"section_looping" yaml:"section_looping"`
	AutoAdvanceRests       bool    `json:"auto_advance_rests" yaml:"auto_advance_rests"`
}

func DefaultDifficultySettings() DifficultySettings {
	return DifficultySettings{
		WaitForCorrectNote:     true,
		ShowHintsAfterAttempts: 3,
		HighlightExpectedNotes: true,
		PlaybackSpeed:          1.0,
		AutoAdvanceRests:       true,
	}
}

type InputType int

const (
	NoteOn InputType = iota
	NoteOff
)

func (t InputType) String() string {
	if t == NoteOff {
		return "noteOff"
	}
	return "noteOn"
}

type InputEvent struct {
	Type      InputType     `json:"type"`
	MIDIValue uint8         `json:"midi_value"`
	Velocity  uint8         `json:"velocity"`
	Timestamp time.Duration `json:"timestamp"`
}

type HighlightKind int

const (
	HighlightExpected HighlightKind = iota
	HighlightCorrect
	HighlightIncorrect
)

func (k HighlightKind) String() string {
	switch k {
	case HighlightCorrect:
		return "correct"
	case HighlightIncorrect:
		return "incorrect"
	default:
		return "expected"
	}
}

func (k HighlightKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

type HighlightCommand struct {
	MIDIValue uint8         `json:"midi_value"`
	Kind      HighlightKind `json:"kind"`
}
