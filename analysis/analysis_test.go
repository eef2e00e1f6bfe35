package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urtextpiano-dev/urtext-sub005/score"
)

func staff(notes ...score.Note) []*score.Staff {
	return []*score.Staff{{DurationInBeats: 4, Notes: notes}}
}

func note(midi uint8, offset, dur float64) score.Note {
	return score.Note{MIDIValue: midi, OffsetBeats: offset, DurationInBeats: dur}
}

func rest(offset, dur float64) score.Note {
	return score.Note{IsRest: true, OffsetBeats: offset, DurationInBeats: dur}
}

func testGraph() *score.Graph {
	fermata := note(67, 2, 2)
	fermata.Fermata = true
	return &score.Graph{Measures: []*score.Measure{
		{Staves: staff(note(60, 0, 1), note(62, 1, 1), rest(2, 2))},
		nil,
		{Staves: staff(note(64, 0, 1), note(65, 1, 1), fermata)},
		{Staves: staff(note(60, 0, 4)), PhraseEnd: true},
	}}
}

func TestPreload(t *testing.T) {
	a := NewAnalyzer(nil)
	require.False(t, a.Ready())

	n := a.Preload(testGraph())

	assert := assert.New(t)
	assert.Equal(6, n)
	assert.True(a.Ready())

	first, ok := a.Lookup(score.NoteID(0, 0))
	assert.True(ok)
	assert.False(first.IsPhraseEnd)
	assert.False(first.IsBarlineEnd)

	beforeRest, _ := a.Lookup(score.NoteID(0, 1))
	assert.True(beforeRest.IsPhraseEnd)
	assert.True(beforeRest.IsBarlineEnd)
	require.NotNil(t, beforeRest.RestDurationAfter)
	assert.Equal(2.0, *beforeRest.RestDurationAfter)

	held, _ := a.Lookup(score.NoteID(2, 2))
	assert.True(held.HasFermata)
	assert.True(held.IsBarlineEnd)
	assert.Nil(held.RestDurationAfter)

	final, _ := a.Lookup(score.NoteID(3, 0))
	assert.True(final.IsPhraseEnd)
	assert.Equal(3, final.MeasureIndex)

	_, ok = a.Lookup(score.NoteID(0, 2))
	assert.False(ok, "rests carry no context")
}

func TestPreloadNilGraph(t *testing.T) {
	a := NewAnalyzer(nil)

	assert.Equal(t, 0, a.Preload(nil))
	assert.False(t, a.Ready())
	_, ok := a.Lookup("m0-n0")
	assert.False(t, ok)
}
