package model

import "time"

type Notes = []uint8

type StepNote struct {
	MIDIValue uint8  `json:"midi_value"`
	PitchName string `json:"pitch_name"`
	Octave    int    `json:"octave"`
}

// PracticeStep is the next note or chord the learner has to play.
type PracticeStep struct {
	Notes           []StepNote    `json:"notes"`
	IsChord         bool          `json:"is_chord"`
	IsRest          bool          `json:"is_rest"`
	MeasureIndex    int           `json:"measure_index"`
	Timestamp       time.Duration `json:"timestamp"`
	NoteID          string        `json:"note_id"`
	DurationInBeats float64       `json:"duration_in_beats"`
}

func (s *PracticeStep) MIDIValues() Notes {
	res := make(Notes, 0, len(s.Notes))
	for _, n := range s.Notes {
		res = append(res, n.MIDIValue)
	}
	return res
}

type MatchResult int

const (
	ResultNone MatchResult = iota
	ResultCorrect
	ResultWrongNotes
	ResultPartialMatch
)

func (r MatchResult) String() string {
	switch r {
	case ResultCorrect:
		return "correct"
	case ResultWrongNotes:
		return "wrong_notes"
	case ResultPartialMatch:
		return "partial_match"
	default:
		return "none"
	}
}

func (r MatchResult) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
