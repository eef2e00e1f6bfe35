// Package analysis derives per-note musical context (phrase ends, fermatas,
// barline ends, following rests) from a score graph ahead of practice.
package analysis

import (
	"log/slog"
	"sync"

	"github.com/urtextpiano-dev/urtext-sub005/logging"
	"github.com/urtextpiano-dev/urtext-sub005/model"
	"github.com/urtextpiano-dev/urtext-sub005/score"
)

type Analyzer struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	contexts map[string]model.NoteContext
	ready    bool
}

func NewAnalyzer(logger *slog.Logger) *Analyzer {
	return &Analyzer{
		logger:   logging.OrDiscard(logger),
		contexts: make(map[string]model.NoteContext),
	}
}

type located struct {
	measure int
	last    bool
	onset   score.Onset
	marks   *score.Measure
}

// Preload analyzes every sounding onset of g and returns how many contexts
// were stored. Lookups stay unavailable until it succeeds.
func (a *Analyzer) Preload(g *score.Graph) int {
	if g == nil {
		a.logger.Warn("analysis: no score graph to preload")
		return 0
	}

	var flat []located
	for i, m := range g.Measures {
		if m == nil {
			continue
		}
		onsets := m.Onsets()
		for j, o := range onsets {
			flat = append(flat, located{measure: i, last: j == len(onsets)-1, onset: o, marks: m})
		}
	}

	contexts := make(map[string]model.NoteContext)
	lastSounding := -1
	for i := len(flat) - 1; i >= 0; i-- {
		if !flat[i].onset.IsRest {
			lastSounding = i
			break
		}
	}

	for i, l := range flat {
		if l.onset.IsRest {
			continue
		}
		ctx := model.NoteContext{
			NoteID:       score.NoteID(l.measure, l.onset.Index),
			MeasureIndex: l.measure,
			HasFermata:   l.onset.Fermata,
			IsPhraseEnd:  l.onset.PhraseEnd || i == lastSounding,
			IsBarlineEnd: lastSoundingInMeasure(flat, i),
		}
		if ctx.IsBarlineEnd {
			ctx.HasFermata = ctx.HasFermata || l.marks.Fermata
			ctx.IsPhraseEnd = ctx.IsPhraseEnd || l.marks.PhraseEnd
		}
		if rest, ok := restAfter(flat, i); ok {
			ctx.RestDurationAfter = &rest
			ctx.IsPhraseEnd = true
		}
		contexts[ctx.NoteID] = ctx
	}

	a.mu.Lock()
	a.contexts = contexts
	a.ready = true
	a.mu.Unlock()

	a.logger.Info("analysis: preloaded note contexts", "count", len(contexts))
	return len(contexts)
}

func lastSoundingInMeasure(flat []located, i int) bool {
	for j := i + 1; j < len(flat) && flat[j].measure == flat[i].measure; j++ {
		if !flat[j].onset.IsRest {
			return false
		}
	}
	return true
}

// restAfter sums the rests that directly follow onset i, across barlines.
func restAfter(flat []located, i int) (float64, bool) {
	var total float64
	found := false
	for j := i + 1; j < len(flat) && flat[j].onset.IsRest; j++ {
		total += flat[j].onset.DurationInBeats
		found = true
	}
	return total, found
}

func (a *Analyzer) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ready
}

func (a *Analyzer) Lookup(noteID string) (model.NoteContext, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ctx, ok := a.contexts[noteID]
	return ctx, ok
}

func (a *Analyzer) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.contexts)
}
