// Package tempo resolves the current tempo of a practice session and turns
// note durations into pacing delays.
package tempo

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/urtextpiano-dev/urtext-sub005/constants"
	"github.com/urtextpiano-dev/urtext-sub005/logging"
	"github.com/urtextpiano-dev/urtext-sub005/model"
	"github.com/urtextpiano-dev/urtext-sub005/store"
	"github.com/urtextpiano-dev/urtext-sub005/util"
)

var (
	ErrInvalidBPM         = errors.New("invalid bpm")
	ErrTempoCalculation   = errors.New("tempo calculation failed")
	ErrContextUnavailable = errors.New("musical context unavailable")
)

// ContextProvider supplies per-note musical context. Implementations may be
// absent, not ready, or panic; the resolver degrades to the baseline in all
// three cases.
type ContextProvider interface {
	Ready() bool
	Lookup(noteID string) (model.NoteContext, bool)
}

type Option func(*Resolver)

func WithOverrideStore(slot store.Slot) Option {
	return func(r *Resolver) {
		r.slot = slot
	}
}

func WithContextProvider(p ContextProvider) Option {
	return func(r *Resolver) {
		r.provider = p
	}
}

func WithTempoEvents(events []model.TempoEvent) Option {
	return func(r *Resolver) {
		r.tempoMap = TempoMap(events)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

type Resolver struct {
	mu          sync.RWMutex
	logger      *slog.Logger
	slot        store.Slot
	override    float64
	hasOverride bool
	tempoMap    []model.TempoEvent
	measure     int
	provider    ContextProvider
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDiscard(r.logger)
	r.loadOverride()
	return r
}

func (r *Resolver) loadOverride() {
	if r.slot == nil {
		return
	}
	bpm, ok, err := r.slot.Get()
	if err != nil {
		r.logger.Warn("tempo: could not read stored override", "err", err)
		return
	}
	if ok && util.IsFinitePositive(bpm) {
		r.override, r.hasOverride = bpm, true
		r.logger.Info("tempo: restored manual override", "bpm", bpm)
	}
}

// SetContextProvider swaps the optional provider; nil removes it.
func (r *Resolver) SetContextProvider(p ContextProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provider = p
}

func (r *Resolver) SetTempoEvents(events []model.TempoEvent) {
	m := TempoMap(events)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tempoMap = m
}

// SetMeasure moves the point at which extracted tempo is looked up. The
// index is a score graph (source) measure index.
func (r *Resolver) SetMeasure(source int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.measure = source
}

// SetManualOverride stores bpm as the manual override, or clears it when bpm
// is nil. The in-memory value changes even if persisting fails.
func (r *Resolver) SetManualOverride(bpm *float64) error {
	if bpm != nil && !util.IsFinitePositive(*bpm) {
		return fmt.Errorf("%w: %v", ErrInvalidBPM, *bpm)
	}

	r.mu.Lock()
	if bpm == nil {
		r.override, r.hasOverride = 0, false
	} else {
		r.override, r.hasOverride = *bpm, true
	}
	slot := r.slot
	r.mu.Unlock()

	if slot == nil {
		return nil
	}
	var err error
	if bpm == nil {
		err = slot.Clear()
	} else {
		err = slot.Set(*bpm)
	}
	if err != nil {
		r.logger.Warn("tempo: override not persisted", "err", err)
		return fmt.Errorf("persist override: %w", err)
	}
	return nil
}

func (r *Resolver) ManualOverride() (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.override, r.hasOverride && util.IsFinitePositive(r.override)
}

// CurrentBPM applies the precedence manual override, extracted tempo, 90.
func (r *Resolver) CurrentBPM() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentBPMLocked()
}

func (r *Resolver) currentBPMLocked() float64 {
	if r.hasOverride && util.IsFinitePositive(r.override) {
		return r.override
	}
	if bpm, ok := r.extractedLocked(); ok {
		return bpm
	}
	return constants.DefaultBPM
}

func (r *Resolver) extractedLocked() (float64, bool) {
	// tempoMap is sorted by measure; take the last event at or before it
	i := sort.Search(len(r.tempoMap), func(i int) bool {
		return r.tempoMap[i].MeasureIndex > r.measure
	})
	for i--; i >= 0; i-- {
		if util.IsFinitePositive(r.tempoMap[i].BPM) {
			return r.tempoMap[i].BPM, true
		}
	}
	return 0, false
}

// ComputeDelay returns how long to wait before advancing past a note of
// durationInBeats. Non-positive or non-finite durations yield the floor.
func (r *Resolver) ComputeDelay(durationInBeats float64, noteID string) time.Duration {
	if !util.IsFinitePositive(durationInBeats) {
		return constants.MinDelay
	}

	r.mu.RLock()
	bpm := r.currentBPMLocked()
	provider := r.provider
	r.mu.RUnlock()

	room, err := breathingRoom(provider, noteID)
	if err != nil {
		// The baseline honours a manual override: an override always wins
		// over score tempo, with or without context.
		return BaselineDelay(bpm, durationInBeats)
	}
	return floor(beatDelay(bpm, durationInBeats) + room)
}

// BaselineDelay is the context-free pacing: one beat at bpm times the
// duration plus the default 40ms, floored at 50ms.
func BaselineDelay(bpm, durationInBeats float64) time.Duration {
	if !util.IsFinitePositive(durationInBeats) || !util.IsFinitePositive(bpm) {
		return constants.MinDelay
	}
	return floor(beatDelay(bpm, durationInBeats) + constants.DefaultBreathingRoom)
}

func beatDelay(bpm, durationInBeats float64) time.Duration {
	return time.Duration(60000.0 / bpm * durationInBeats * float64(time.Millisecond))
}

func floor(d time.Duration) time.Duration {
	return util.Max(d, constants.MinDelay)
}

func breathingRoom(p ContextProvider, noteID string) (room time.Duration, err error) {
	if p == nil || noteID == "" {
		return 0, ErrContextUnavailable
	}
	defer func() {
		if rec := recover(); rec != nil {
			room, err = 0, fmt.Errorf("%w: provider panic: %v", ErrContextUnavailable, rec)
		}
	}()
	if !p.Ready() {
		return 0, ErrContextUnavailable
	}
	ctx, ok := p.Lookup(noteID)
	if !ok {
		return constants.DefaultBreathingRoom, nil
	}
	switch {
	case ctx.HasFermata:
		return constants.FermataBreathingRoom, nil
	case ctx.IsPhraseEnd:
		return constants.PhraseBreathingRoom, nil
	case ctx.IsBarlineEnd:
		return constants.BarlineBreathingRoom, nil
	default:
		return constants.DefaultBreathingRoom, nil
	}
}
