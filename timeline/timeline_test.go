package timeline

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urtextpiano-dev/urtext-sub005/logging"
	"github.com/urtextpiano-dev/urtext-sub005/score"
)

type fakeCursor struct {
	position  int
	resets    int
	skipErr   error
	skipPanic bool
}

func (c *fakeCursor) Reset() error {
	c.resets++
	c.position = 0
	return nil
}

func (c *fakeCursor) SkipToPosition(index int) error {
	if c.skipPanic {
		panic("renderer exploded")
	}
	if c.skipErr != nil {
		return c.skipErr
	}
	c.position = index
	return nil
}

func (c *fakeCursor) CurrentPosition() int { return c.position }

func measure(i int, beats float64, staves int) *score.Measure {
	m := &score.Measure{Index: i}
	for p := 0; p < staves; p++ {
		m.Staves = append(m.Staves, &score.Staff{PartIndex: p, DurationInBeats: beats})
	}
	return m
}

func linearGraph(n int) *score.Graph {
	g := &score.Graph{}
	for i := 0; i < n; i++ {
		g.Measures = append(g.Measures, measure(i, 4, 2))
	}
	return g
}

func TestBuildCountsMeasures(t *testing.T) {
	for _, n := range []int{0, 1, 3, 250} {
		t.Run(fmt.Sprintf("%d measures", n), func(t *testing.T) {
			tl := New(nil)
			tl.Build(linearGraph(n))

			assert := assert.New(t)
			assert.Equal(n, tl.MeasureCount())
			assert.Equal(n > 0, tl.CanHandleScore())
		})
	}
}

func TestBuildCollapsesStaves(t *testing.T) {
	g := &score.Graph{Measures: []*score.Measure{
		{Staves: []*score.Staff{nil, {PartIndex: 1, DurationInBeats: 3}, {PartIndex: 2, DurationInBeats: 4}}},
	}}
	tl := New(nil)
	tl.Build(g)

	pos, ok := tl.MeasureInfo(0)
	assert := assert.New(t)
	assert.True(ok)
	assert.Equal(1, tl.MeasureCount())
	assert.Equal(1, pos.PartIndex)
	assert.Equal(4.0, pos.DurationInBeats)
}

func TestBuildSkipsMalformedMeasures(t *testing.T) {
	g := &score.Graph{Measures: []*score.Measure{
		measure(0, 4, 1),
		nil,
		{Index: 2},
		measure(3, 0, 1),
		measure(4, 3, 1),
	}}
	tl := New(nil)
	tl.Build(g)

	assert := assert.New(t)
	assert.Equal(2, tl.MeasureCount())
	assert.Equal(3, tl.Skipped())
	pos, _ := tl.MeasureInfo(1)
	assert.Equal(4, pos.SourceIndex)
	assert.Equal(1, pos.MeasureIndex)
	idx, ok := tl.MeasureForSource(4)
	assert.True(ok)
	assert.Equal(1, idx)
}

func TestBuildNilGraph(t *testing.T) {
	tl := New(nil)
	tl.Build(nil)

	assert := assert.New(t)
	assert.False(tl.CanHandleScore())
	assert.False(tl.SeekToMeasure(0, &fakeCursor{}))

	// a real graph can still be built afterwards
	tl.Build(linearGraph(2))
	assert.Equal(2, tl.MeasureCount())
}

func TestBuildIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&logging.Config{Level: logging.LevelDebug}, &buf)
	tl := New(logger)
	tl.Build(linearGraph(3))
	tl.Build(linearGraph(7))

	assert := assert.New(t)
	assert.Equal(3, tl.MeasureCount())
	assert.Contains(buf.String(), "already built")
}

func TestBuildDetectsRepeatsButStaysLinear(t *testing.T) {
	g := linearGraph(4)
	g.Measures[1].RepeatStart = true
	g.Measures[2].RepeatEnd = true
	g.Measures[3].Jumps = []string{"D.C. al Fine"}
	tl := New(nil)
	tl.Build(g)

	assert := assert.New(t)
	assert.True(tl.HasRepeats())
	assert.Equal(4, tl.MeasureCount())
}

func TestSeekToMeasureBounds(t *testing.T) {
	tl := New(nil)
	tl.Build(linearGraph(3))

	for i := -1; i <= 3; i++ {
		c := &fakeCursor{position: 42}
		ok := tl.SeekToMeasure(i, c)
		assert.Equal(t, i >= 0 && i < 3, ok, "index %d", i)
		if !ok {
			assert.Equal(t, 42, c.position, "cursor must be untouched for index %d", i)
			assert.Equal(t, 0, c.resets)
		}
	}
}

func TestSeekToMeasureInvalidLeavesCountUnchanged(t *testing.T) {
	tl := New(nil)
	tl.Build(linearGraph(3))
	c := &fakeCursor{}

	assert := assert.New(t)
	assert.False(tl.SeekToMeasure(-1, c))
	assert.False(tl.SeekToMeasure(999, c))
	assert.Equal(3, tl.MeasureCount())
}

func TestSeekToMeasureUsesSourceIndex(t *testing.T) {
	g := linearGraph(3)
	g.Measures[0] = nil
	tl := New(nil)
	tl.Build(g)
	c := &fakeCursor{}

	assert := assert.New(t)
	assert.True(tl.SeekToMeasure(1, c))
	assert.Equal(2, c.position)
	assert.Equal(1, c.resets)
}

func TestSeekToMeasureCursorFailures(t *testing.T) {
	tl := New(nil)
	tl.Build(linearGraph(3))

	assert := assert.New(t)
	assert.False(tl.SeekToMeasure(1, &fakeCursor{skipErr: errors.New("detached")}))
	assert.False(tl.SeekToMeasure(1, &fakeCursor{skipPanic: true}))
	assert.False(tl.SeekToMeasure(1, nil))
}

func TestUnbuiltTimelineNeverSeeks(t *testing.T) {
	tl := New(nil)
	assert.False(t, tl.SeekToMeasure(0, &fakeCursor{}))
}

func BenchmarkSeekToMeasure(b *testing.B) {
	tl := New(nil)
	tl.Build(linearGraph(800))
	c := &fakeCursor{}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tl.SeekToMeasure(i%800, c)
	}
}
