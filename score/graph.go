// Package score holds the parsed score graph the engine practices against
// and the narrow cursor handle used to move through it.
package score

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrUnplayableMeasure = errors.New("unplayable measure")

type Note struct {
	MIDIValue uint8
	// offset from the start of the measure
	OffsetBeats     float64
	DurationInBeats float64
	IsRest          bool
	Fermata         bool
	PhraseEnd       bool
}

// Staff is one stave (or part) of a measure. Multi-part scores repeat a
// measure once per staff.
type Staff struct {
	PartIndex       int
	DurationInBeats float64
	Notes           []Note
}

type Measure struct {
	Index  int
	Staves []*Staff

	RepeatStart bool
	RepeatEnd   bool
	// D.C., D.S., Fine, Coda and friends
	Jumps []string

	Fermata   bool
	PhraseEnd bool
	// metronome mark, 0 when absent
	TempoBPM float64
	// free text such as "Allegro"
	TempoText  string
	Expression string
}

func (m *Measure) HasRepeat() bool {
	return m.RepeatStart || m.RepeatEnd || len(m.Jumps) > 0
}

// Layout returns the part index of the first staff and the duration of m,
// or why m cannot be laid out. Timeline and steps both skip such measures.
func (m *Measure) Layout() (part int, duration float64, err error) {
	if m == nil {
		return 0, 0, fmt.Errorf("%w: nil measure", ErrUnplayableMeasure)
	}
	part = -1
	for _, s := range m.Staves {
		if s != nil {
			part = s.PartIndex
			break
		}
	}
	if part < 0 {
		return 0, 0, fmt.Errorf("%w: no staves", ErrUnplayableMeasure)
	}
	duration = m.Duration()
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return 0, 0, fmt.Errorf("%w: duration %v", ErrUnplayableMeasure, duration)
	}
	return part, duration, nil
}

// Duration returns the longest staff duration. Multi-stave duplicates
// collapse into one value.
func (m *Measure) Duration() float64 {
	var res float64
	for _, s := range m.Staves {
		if s != nil && s.DurationInBeats > res {
			res = s.DurationInBeats
		}
	}
	return res
}

type Graph struct {
	Title    string
	Measures []*Measure
	// heuristic tempo when the source carries no mark, 0 when unknown
	DefaultBPM float64
}

func IsJumpText(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, j := range []string{"d.c.", "d.s.", "da capo", "dal segno", "fine", "coda", "to coda"} {
		if strings.HasPrefix(t, j) {
			return true
		}
	}
	return false
}
