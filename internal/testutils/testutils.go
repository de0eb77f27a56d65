// Package testutils provides simplified testing utilities and helper functions
package testutils

import (
	"bytes"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ConcurrencyTracker records how many tasks are running at once
type ConcurrencyTracker struct {
	current atomic.Int64
	peak    atomic.Int64
}

// Enter marks a task as running and returns a func that marks it finished
func (c *ConcurrencyTracker) Enter() func() {
	n := c.current.Add(1)
	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return func() { c.current.Add(-1) }
}

// Peak returns the highest number of tasks observed running at once
func (c *ConcurrencyTracker) Peak() int64 {
	return c.peak.Load()
}

// OrderLog is an append-only log guarded by a mutex
type OrderLog[T any] struct {
	mu      sync.Mutex
	entries []T
}

// Append adds v to the end of the log
func (l *OrderLog[T]) Append(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, v)
}

// Entries returns a copy of the log
func (l *OrderLog[T]) Entries() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, len(l.entries))
	copy(out, l.entries)
	return out
}

// SyncBuffer is a bytes.Buffer safe for concurrent writers
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewBufferLogger returns a debug-level text logger writing into a SyncBuffer
func NewBufferLogger() (*slog.Logger, *SyncBuffer) {
	buf := &SyncBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, buf
}
