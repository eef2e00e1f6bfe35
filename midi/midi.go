// Package midi reads Standard MIDI Files into score graphs and listens to
// live MIDI input.
package midi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/urtextpiano-dev/urtext-sub005/score"
)

var ErrUnsupportedTimeFormat = errors.New("unsupported SMF time format")

func ReadMidiFile(filepath string) (s *smf.SMF, e error) {
	var blank smf.SMF

	// handle panics
	// https://github.com/gomidi/midi/issues/20
	defer func() {
		if r := recover(); r != nil {
			s, e = &blank, fmt.Errorf("parsing midi file panicked: %v", r)
		}
	}()

	dat, err := os.ReadFile(filepath)
	if err != nil {
		return &blank, fmt.Errorf("reading midi file: %w", err)
	}
	res, err := smf.ReadFrom(bytes.NewReader(dat))
	if err != nil {
		return &blank, fmt.Errorf("parsing midi file: %w", err)
	}
	return res, nil
}

// ReadScore loads an SMF from disk as a score graph.
func ReadScore(filepath string) (*score.Graph, error) {
	s, err := ReadMidiFile(filepath)
	if err != nil {
		return nil, err
	}
	return FromSMF(s)
}

func ReadScoreFrom(r io.Reader) (g *score.Graph, e error) {
	defer func() {
		if rec := recover(); rec != nil {
			g, e = nil, fmt.Errorf("parsing midi data panicked: %v", rec)
		}
	}()
	s, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("parsing midi data: %w", err)
	}
	return FromSMF(s)
}

type meterChange struct {
	tick       int64
	num, denom uint8
}

type metaText struct {
	tick int64
	text string
}

type tempoChange struct {
	tick int64
	bpm  float64
}

type sounding struct {
	start, end int64
	key        uint8
}

// FromSMF converts a metric-time SMF into a graph: one staff per track that
// carries notes, measures cut by the time signature (4/4 when absent), and
// gaps filled with rests.
func FromSMF(s *smf.SMF) (*score.Graph, error) {
	if s == nil {
		return nil, errors.New("no midi data")
	}
	ticks, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok || ticks == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedTimeFormat, s.TimeFormat)
	}
	ppq := float64(ticks)

	g := &score.Graph{}
	var meters []meterChange
	var tempos []tempoChange
	var texts []metaText
	var tracks [][]sounding
	var last int64

	for ti, track := range s.Tracks {
		var abs int64
		open := make(map[[2]uint8][]int64)
		var notes []sounding
		for _, ev := range track {
			abs += int64(ev.Delta)
			var ch, key, vel, num, denom uint8
			var bpm float64
			var text string
			switch {
			case ev.Message.GetNoteOn(&ch, &key, &vel) && vel > 0:
				k := [2]uint8{ch, key}
				open[k] = append(open[k], abs)
			case ev.Message.GetNoteOn(&ch, &key, &vel), ev.Message.GetNoteOff(&ch, &key, &vel):
				k := [2]uint8{ch, key}
				if starts := open[k]; len(starts) > 0 {
					notes = append(notes, sounding{start: starts[0], end: abs, key: key})
					open[k] = starts[1:]
				}
			case ev.Message.GetMetaTempo(&bpm):
				tempos = append(tempos, tempoChange{tick: abs, bpm: bpm})
			case ev.Message.GetMetaMeter(&num, &denom):
				meters = append(meters, meterChange{tick: abs, num: num, denom: denom})
			case ev.Message.GetMetaMarker(&text), ev.Message.GetMetaText(&text):
				texts = append(texts, metaText{tick: abs, text: text})
			case ti == 0 && g.Title == "" && ev.Message.GetMetaTrackName(&text):
				g.Title = text
			}
		}
		if abs > last {
			last = abs
		}
		if len(notes) > 0 {
			sort.SliceStable(notes, func(i, j int) bool { return notes[i].start < notes[j].start })
			tracks = append(tracks, notes)
		}
	}

	bounds := measureBounds(meters, last, ppq)
	for i, b := range bounds {
		m := &score.Measure{Index: i}
		beats := float64(b[1]-b[0]) / ppq
		for part, notes := range tracks {
			m.Staves = append(m.Staves, staffFor(part, notes, b[0], b[1], ppq, beats))
		}
		for _, tc := range tempos {
			if tc.tick >= b[0] && tc.tick < b[1] {
				m.TempoBPM = tc.bpm
			}
		}
		for _, mt := range texts {
			if mt.tick >= b[0] && mt.tick < b[1] {
				annotate(m, mt.text)
			}
		}
		g.Measures = append(g.Measures, m)
	}
	return g, nil
}

// measureBounds returns [start, end) ticks of every measure up to last.
func measureBounds(meters []meterChange, last int64, ppq float64) [][2]int64 {
	sort.SliceStable(meters, func(i, j int) bool { return meters[i].tick < meters[j].tick })
	num, denom := uint8(4), uint8(4)
	var res [][2]int64
	var start int64
	mi := 0
	for start < last || len(res) == 0 {
		for mi < len(meters) && meters[mi].tick <= start {
			if meters[mi].num > 0 && meters[mi].denom > 0 {
				num, denom = meters[mi].num, meters[mi].denom
			}
			mi++
		}
		length := int64(float64(num) * 4 / float64(denom) * ppq)
		if length <= 0 {
			length = int64(4 * ppq)
		}
		res = append(res, [2]int64{start, start + length})
		start += length
		if last == 0 {
			break
		}
	}
	return res
}

func staffFor(part int, notes []sounding, from, to int64, ppq, beats float64) *score.Staff {
	st := &score.Staff{PartIndex: part, DurationInBeats: beats}
	cursor := from
	for _, n := range notes {
		if n.start < from || n.start >= to {
			continue
		}
		if n.start > cursor {
			st.Notes = append(st.Notes, score.Note{
				IsRest:          true,
				OffsetBeats:     float64(cursor-from) / ppq,
				DurationInBeats: float64(n.start-cursor) / ppq,
			})
		}
		end := n.end
		if end > to {
			end = to
		}
		st.Notes = append(st.Notes, score.Note{
			MIDIValue:       n.key,
			OffsetBeats:     float64(n.start-from) / ppq,
			DurationInBeats: float64(end-n.start) / ppq,
		})
		if end > cursor {
			cursor = end
		}
	}
	if cursor < to {
		st.Notes = append(st.Notes, score.Note{
			IsRest:          true,
			OffsetBeats:     float64(cursor-from) / ppq,
			DurationInBeats: float64(to-cursor) / ppq,
		})
	}
	return st
}

func annotate(m *score.Measure, text string) {
	lower := strings.ToLower(text)
	switch {
	case score.IsJumpText(text):
		m.Jumps = append(m.Jumps, text)
	case strings.Contains(lower, "fermata"):
		m.Fermata = true
	case strings.Contains(lower, "phrase"), strings.Contains(lower, "breath"):
		m.PhraseEnd = true
	case strings.Contains(lower, "|:"), strings.Contains(lower, "repeat start"):
		m.RepeatStart = true
	case strings.Contains(lower, ":|"), strings.Contains(lower, "repeat end"):
		m.RepeatEnd = true
	default:
		if m.TempoText == "" {
			m.TempoText = text
		}
		m.Expression = text
	}
}
