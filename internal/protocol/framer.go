// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package protocol turns the device byte stream into validated samples:
// Framer cuts newline-terminated records, Decoder parses and checks them.
package protocol

import (
	"bytes"

	"go.uber.org/zap"
)

const (
	// MaxPending is the most bytes kept between feeds.
	MaxPending = 2048
	// KeepPending is roughly how much of an oversized buffer survives truncation.
	KeepPending = 1024
	// MaxRecordsPerFeed bounds the work done for a single burst.
	MaxRecordsPerFeed = 100
)

// Framer accumulates bytes and yields complete, trimmed, non-empty records.
// It is not safe for concurrent use.
type Framer struct {
	pending []byte
	log     *zap.Logger
}

// NewFramer returns an empty framer. A nil logger is allowed.
func NewFramer(log *zap.Logger) *Framer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Framer{
		pending: make([]byte, 0, MaxPending),
		log:     log,
	}
}

// Feed appends chunk and returns the complete records now available, at most
// MaxRecordsPerFeed of them. Records beyond the cap stay pending and are
// returned by the next call (Feed(nil) drains without new input).
func (f *Framer) Feed(chunk []byte) []string {
	f.pending = append(f.pending, chunk...)

	var records []string
	consumed := 0
	for len(records) < MaxRecordsPerFeed {
		nl := bytes.IndexByte(f.pending[consumed:], '\n')
		if nl < 0 {
			break
		}
		line := bytes.TrimSpace(f.pending[consumed : consumed+nl])
		consumed += nl + 1
		if len(line) == 0 {
			continue
		}
		records = append(records, string(line))
	}
	f.pending = append(f.pending[:0], f.pending[consumed:]...)

	// Neither a runaway tail nor a deferred backlog may grow past MaxPending.
	// The oldest bytes go first; the cut moves to the next record boundary
	// when one exists so no half record is left at the front.
	if len(f.pending) > MaxPending {
		cut := len(f.pending) - KeepPending
		if f.pending[cut-1] != '\n' {
			if nl := bytes.IndexByte(f.pending[cut:], '\n'); nl >= 0 {
				cut += nl + 1
			}
		}
		f.pending = append(f.pending[:0], f.pending[cut:]...)
		f.log.Debug("framer: pending data too large, dropped oldest bytes", zap.Int("dropped", cut))
	}
	return records
}

// Pending reports how many bytes are buffered, deferred records included.
func (f *Framer) Pending() int { return len(f.pending) }

// Buffered reports whether a complete record is already waiting, i.e. a
// Feed(nil) would return something.
func (f *Framer) Buffered() bool { return bytes.IndexByte(f.pending, '\n') >= 0 }

// Reset forgets any buffered bytes.
func (f *Framer) Reset() { f.pending = f.pending[:0] }
