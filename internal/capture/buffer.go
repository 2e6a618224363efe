// Package capture runs one capture loop per audio source and accumulates
// its mono chunks.
package capture

import (
	"sync"
	"sync/atomic"
)

// Buffer is an append-only sequence of mono chunks with a single writer.
// Once sealed it accepts no more chunks, which lets a reader consume it
// even while an abandoned writer may still be running.
type Buffer struct {
	mu      sync.Mutex
	chunks  [][]float32
	sealed  bool
	samples atomic.Int64
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds chunk and reports whether it was accepted.
func (b *Buffer) Append(chunk []float32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return false
	}
	b.chunks = append(b.chunks, chunk)
	b.samples.Add(int64(len(chunk)))
	return true
}

// Seal stops further appends.
func (b *Buffer) Seal() {
	b.mu.Lock()
	b.sealed = true
	b.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (b *Buffer) Sealed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sealed
}

// Len returns the number of samples appended so far. Safe to call while
// the writer is running.
func (b *Buffer) Len() int {
	return int(b.samples.Load())
}

// Chunks returns the number of chunks appended.
func (b *Buffer) Chunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Samples concatenates all chunks into one contiguous sequence.
func (b *Buffer) Samples() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float32, 0, b.samples.Load())
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}
