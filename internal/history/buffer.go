// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package history keeps the most recent live samples in a fixed ring.
package history

import (
	"github.com/relabs-tech/tilt_monitor/internal/orientation"
)

// DefaultCapacity holds roughly half a minute of a 60 Hz stream.
const DefaultCapacity = 2000

// Buffer is a fixed-capacity ring of samples, oldest overwritten first.
// It is not safe for concurrent use.
type Buffer struct {
	data []orientation.Sample
	head int // next write position
	size int
}

// New returns an empty buffer. A non-positive capacity falls back to
// DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{data: make([]orientation.Sample, capacity)}
}

// Add stores s, evicting the oldest sample when full.
func (b *Buffer) Add(s orientation.Sample) {
	b.data[b.head] = s
	b.head = (b.head + 1) % len(b.data)
	if b.size < len(b.data) {
		b.size++
	}
}

// At returns the i-th oldest sample, or the zero Sample when i is out of range.
func (b *Buffer) At(i int) orientation.Sample {
	if i < 0 || i >= b.size {
		return orientation.Sample{}
	}
	c := len(b.data)
	return b.data[(b.head-b.size+i+c)%c]
}

// Len reports the number of stored samples.
func (b *Buffer) Len() int { return b.size }

// Cap reports the capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Newest returns the most recently added sample.
func (b *Buffer) Newest() (orientation.Sample, bool) {
	if b.size == 0 {
		return orientation.Sample{}, false
	}
	return b.At(b.size - 1), true
}

// Range copies out the samples within durationMs of the newest one,
// oldest first.
func (b *Buffer) Range(durationMs int64) orientation.Samples {
	newest, ok := b.Newest()
	if !ok {
		return nil
	}
	from := newest.Timestamp - durationMs
	first := b.size
	for first > 0 && b.At(first-1).Timestamp >= from {
		first--
	}
	out := make(orientation.Samples, 0, b.size-first)
	for i := first; i < b.size; i++ {
		out = append(out, b.At(i))
	}
	return out
}

// Clear empties the buffer, keeping its storage.
func (b *Buffer) Clear() {
	b.head = 0
	b.size = 0
}
