// Package sink persists finished recordings.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/petems/meeting-tray/internal/mixer"
)

// ErrPersistFailed wraps every storage failure.
var ErrPersistFailed = errors.New("persist failed")

// Sink stores one waveform under a name and returns where it went.
type Sink interface {
	Persist(ctx context.Context, w mixer.Waveform, name string) (string, error)
}

// Memory keeps waveforms in memory.
type Memory struct {
	mu    sync.Mutex
	saved map[string]mixer.Waveform
	order []string
	// Err, when set, is returned (wrapped) by Persist.
	Err error
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{saved: make(map[string]mixer.Waveform)}
}

func (m *Memory) Persist(ctx context.Context, w mixer.Waveform, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	if m.Err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistFailed, m.Err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[name] = w
	m.order = append(m.order, name)
	return "mem://" + name, nil
}

// Get returns the waveform persisted under name.
func (m *Memory) Get(name string) (mixer.Waveform, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.saved[name]
	return w, ok
}

// Names lists persisted names in order.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}
