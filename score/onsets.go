package score

import (
	"fmt"
	"math"
	"sort"
)

// Onset groups every note of a measure that starts at the same beat,
// across all staves.
type Onset struct {
	Index           int
	OffsetBeats     float64
	DurationInBeats float64
	Notes           []Note
	IsRest          bool
	Fermata         bool
	PhraseEnd       bool
}

// Pitches returns the distinct sounding MIDI values of the onset.
func (o Onset) Pitches() []uint8 {
	seen := make(map[uint8]bool, len(o.Notes))
	var res []uint8
	for _, n := range o.Notes {
		if n.IsRest || seen[n.MIDIValue] {
			continue
		}
		seen[n.MIDIValue] = true
		res = append(res, n.MIDIValue)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

const offsetEpsilon = 1e-6

// Onsets orders a measure's notes by start beat. An onset is a rest only
// when every note starting there is a rest. Its duration is the shortest
// sounding note, or the shortest rest for rest onsets.
func (m *Measure) Onsets() []Onset {
	var notes []Note
	for _, s := range m.Staves {
		if s == nil {
			continue
		}
		notes = append(notes, s.Notes...)
	}
	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].OffsetBeats < notes[j].OffsetBeats
	})

	var res []Onset
	for _, n := range notes {
		if math.IsNaN(n.OffsetBeats) || math.IsNaN(n.DurationInBeats) {
			continue
		}
		last := len(res) - 1
		if last < 0 || math.Abs(res[last].OffsetBeats-n.OffsetBeats) > offsetEpsilon {
			res = append(res, Onset{Index: len(res), OffsetBeats: n.OffsetBeats, IsRest: true})
			last++
		}
		o := &res[last]
		o.Notes = append(o.Notes, n)
		o.Fermata = o.Fermata || n.Fermata
		o.PhraseEnd = o.PhraseEnd || n.PhraseEnd
		switch {
		case !n.IsRest && o.IsRest:
			o.IsRest = false
			o.DurationInBeats = n.DurationInBeats
		case n.IsRest != o.IsRest:
		case o.DurationInBeats == 0 || n.DurationInBeats < o.DurationInBeats:
			o.DurationInBeats = n.DurationInBeats
		}
	}
	return res
}

// NoteID names the onset at index onset of source measure measure.
func NoteID(measure, onset int) string {
	return fmt.Sprintf("m%d-n%d", measure, onset)
}

var pitchNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// PitchName splits a MIDI value into a pitch class name and octave, with
// middle C (60) as C4.
func PitchName(midiValue uint8) (string, int) {
	return pitchNames[midiValue%12], int(midiValue)/12 - 1
}
