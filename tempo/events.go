package tempo

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/urtextpiano-dev/urtext-sub005/model"
	"github.com/urtextpiano-dev/urtext-sub005/score"
	"github.com/urtextpiano-dev/urtext-sub005/util"
)

const (
	explicitConfidence  = 1.0
	textMarkConfidence  = 0.9
	textWordConfidence  = 0.6
	heuristicConfidence = 0.2
)

// tempo words and a representative metronome value for each
var textTempos = []struct {
	word string
	bpm  float64
}{
	{"prestissimo", 200},
	{"presto", 170},
	{"vivace", 150},
	{"allegretto", 112},
	{"allegro", 130},
	{"moderato", 108},
	{"andantino", 96},
	{"andante", 84},
	{"adagietto", 76},
	{"adagio", 70},
	{"larghetto", 64},
	{"lento", 56},
	{"largo", 50},
	{"grave", 40},
}

var metronomeMark = regexp.MustCompile(`=\s*(\d{2,3}(?:\.\d+)?)`)

// ParseTempoText reads a tempo from free text such as "Allegro" or
// "Andante (q = 76)".
func ParseTempoText(text string) (model.TempoEvent, bool) {
	if m := metronomeMark.FindStringSubmatch(text); m != nil {
		if bpm, err := strconv.ParseFloat(m[1], 64); err == nil && util.IsFinitePositive(bpm) {
			return model.TempoEvent{BPM: bpm, Confidence: textMarkConfidence, Source: model.SourceText}, true
		}
	}
	lower := strings.ToLower(text)
	for _, tt := range textTempos {
		if strings.Contains(lower, tt.word) {
			return model.TempoEvent{BPM: tt.bpm, Confidence: textWordConfidence, Source: model.SourceText}, true
		}
	}
	return model.TempoEvent{}, false
}

// Extract collects every tempo indication of the graph, keyed by source
// measure index.
func Extract(g *score.Graph) []model.TempoEvent {
	if g == nil {
		return nil
	}
	var events []model.TempoEvent
	if util.IsFinitePositive(g.DefaultBPM) {
		events = append(events, model.TempoEvent{
			MeasureIndex: 0,
			BPM:          g.DefaultBPM,
			Confidence:   heuristicConfidence,
			Source:       model.SourceHeuristic,
		})
	}
	for i, m := range g.Measures {
		if m == nil {
			continue
		}
		if util.IsFinitePositive(m.TempoBPM) {
			events = append(events, model.TempoEvent{
				MeasureIndex: i,
				BPM:          m.TempoBPM,
				Confidence:   explicitConfidence,
				Source:       model.SourceExplicit,
			})
		}
		if m.TempoText != "" {
			if ev, ok := ParseTempoText(m.TempoText); ok {
				ev.MeasureIndex = i
				events = append(events, ev)
			}
		}
	}
	return events
}

// ResolveEvents picks one event per measure: higher confidence first, then
// source priority explicit > text > heuristic. Events identical in both keep
// the one that came first.
func ResolveEvents(events []model.TempoEvent) map[int]model.TempoEvent {
	res := make(map[int]model.TempoEvent)
	for _, ev := range events {
		if !util.IsFinitePositive(ev.BPM) {
			continue
		}
		cur, ok := res[ev.MeasureIndex]
		if !ok || outranks(ev, cur) {
			res[ev.MeasureIndex] = ev
		}
	}
	return res
}

func outranks(challenger, incumbent model.TempoEvent) bool {
	if challenger.Confidence != incumbent.Confidence {
		return challenger.Confidence > incumbent.Confidence
	}
	return challenger.Source.Priority() > incumbent.Source.Priority()
}

// TempoMap resolves events and sorts them by measure.
func TempoMap(events []model.TempoEvent) []model.TempoEvent {
	resolved := ResolveEvents(events)
	res := make([]model.TempoEvent, 0, len(resolved))
	for _, k := range util.SortedKeys(resolved) {
		res = append(res, resolved[k])
	}
	return res
}
