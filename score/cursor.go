package score

import (
	"fmt"
	"sync"
)

// Cursor is the renderer's playback location, kept behind the three
// operations the engine needs.
type Cursor interface {
	Reset() error
	SkipToPosition(index int) error
	CurrentPosition() int
}

// GraphCursor is a Cursor over a Graph's source measures.
type GraphCursor struct {
	mu       sync.Mutex
	size     int
	position int
	onMove   func(position int)
}

func NewGraphCursor(g *Graph, onMove func(position int)) *GraphCursor {
	size := 0
	if g != nil {
		size = len(g.Measures)
	}
	return &GraphCursor{size: size, onMove: onMove}
}

func (c *GraphCursor) Reset() error {
	c.mu.Lock()
	c.position = 0
	c.mu.Unlock()
	return nil
}

func (c *GraphCursor) SkipToPosition(index int) error {
	c.mu.Lock()
	if index < 0 || index >= c.size {
		c.mu.Unlock()
		return fmt.Errorf("cursor position %d outside [0, %d)", index, c.size)
	}
	c.position = index
	onMove := c.onMove
	c.mu.Unlock()
	if onMove != nil {
		onMove(index)
	}
	return nil
}

func (c *GraphCursor) CurrentPosition() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}
