// Package store persists the single manual tempo override slot.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/urtextpiano-dev/urtext-sub005/util"
)

const maxBPM = 1000

var ErrInvalidValue = errors.New("invalid override value")

// Slot is a persisted key-value slot holding one BPM value.
type Slot interface {
	Get() (bpm float64, ok bool, err error)
	Set(bpm float64) error
	Clear() error
}

type Memory struct {
	mu  sync.Mutex
	bpm float64
	ok  bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Get() (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bpm, m.ok, nil
}

func (m *Memory) Set(bpm float64) error {
	if err := validate(bpm); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bpm, m.ok = bpm, true
	return nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bpm, m.ok = 0, false
	return nil
}

func validate(bpm float64) error {
	if !util.IsFinitePositive(bpm) || bpm > maxBPM {
		return fmt.Errorf("%w: %v", ErrInvalidValue, bpm)
	}
	return nil
}
