package chord

import (
	"fmt"
	"sort"

	"github.com/urtextpiano-dev/urtext-sub005/model"
)

type OnNotes = map[uint8]bool

// CreateChordKey keys a note set independently of order and duplicates.
// The input slice is left untouched.
func CreateChordKey(notes []uint8) string {
	sorted := normalize(notes)
	var res string
	for i, note := range sorted {
		res += fmt.Sprintf("%v", note)
		if i < len(sorted)-1 {
			res += "-"
		}
	}
	return res
}

func normalize(notes []uint8) []uint8 {
	seen := make(OnNotes, len(notes))
	res := make([]uint8, 0, len(notes))
	for _, n := range notes {
		if !seen[n] {
			seen[n] = true
			res = append(res, n)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i] < res[j]
	})
	return res
}

// Match compares the notes currently held against an expected note set.
// A held set that is a strict, non-empty subset of a chord is a partial
// match; anything outside the expected set is wrong.
func Match(held, expected []uint8) model.MatchResult {
	want := normalize(expected)
	got := normalize(held)
	if len(want) == 0 || len(got) == 0 {
		return model.ResultNone
	}

	expectedSet := make(OnNotes, len(want))
	for _, n := range want {
		expectedSet[n] = true
	}
	for _, n := range got {
		if !expectedSet[n] {
			return model.ResultWrongNotes
		}
	}
	if len(got) < len(want) {
		return model.ResultPartialMatch
	}
	return model.ResultCorrect
}

// Held tracks which keys are down, in press order.
type Held struct {
	on    OnNotes
	order []uint8
}

func NewHeld() *Held {
	return &Held{on: make(OnNotes)}
}

func (h *Held) Press(note uint8) {
	if h.on[note] {
		return
	}
	h.on[note] = true
	h.order = append(h.order, note)
}

func (h *Held) Release(note uint8) {
	if !h.on[note] {
		return
	}
	delete(h.on, note)
	for i, n := range h.order {
		if n == note {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

func (h *Held) Notes() []uint8 {
	return append([]uint8(nil), h.order...)
}

func (h *Held) Reset() {
	h.on = make(OnNotes)
	h.order = nil
}
