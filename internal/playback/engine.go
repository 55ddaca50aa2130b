// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package playback replays a loaded log against the wall clock.
package playback

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/relabs-tech/tilt_monitor/internal/logfile"
	"github.com/relabs-tech/tilt_monitor/internal/orientation"
	"github.com/relabs-tech/tilt_monitor/internal/timeutil"
)

var (
	// ErrEmpty is returned by Load for a log without samples.
	ErrEmpty = errors.New("log has no samples")
	// ErrNotLoaded is returned by Play before any log was loaded.
	ErrNotLoaded = errors.New("no log loaded")
)

// State is the transport state of the engine.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText accepts the names written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "stopped":
		*s = Stopped
	case "playing":
		*s = Playing
	case "paused":
		*s = Paused
	default:
		return fmt.Errorf("unknown playback state %q", b)
	}
	return nil
}

// TickResult tells the caller what a Tick did.
type TickResult int

const (
	// Idle means no new sample was reached (or the engine is not playing).
	Idle TickResult = iota
	// Advanced means the returned sample is newly current.
	Advanced
	// Finished means the end was reached and the engine stopped.
	Finished
)

// Status is a copy of the engine position.
type Status struct {
	Loaded       bool  `json:"loaded"`
	State        State `json:"state"`
	CurrentTime  int64 `json:"current_time"`
	TotalTime    int64 `json:"total_time"`
	CurrentIndex int   `json:"current_index"`
}

// Engine maps wall time onto log time. It is not safe for concurrent use.
type Engine struct {
	clock timeutil.Clock

	samples orientation.Samples
	meta    logfile.Metadata

	state       State
	index       int
	currentTime int64
	totalTime   int64

	startWall time.Time
	startLog  int64
}

// New returns an engine with nothing loaded.
func New(clock timeutil.Clock) *Engine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Engine{clock: clock}
}

// Load replaces the current log and rewinds. On error nothing changes.
func (e *Engine) Load(samples orientation.Samples, meta logfile.Metadata) error {
	if len(samples) == 0 {
		return ErrEmpty
	}
	e.samples = samples
	e.meta = meta
	e.totalTime = samples[len(samples)-1].Timestamp
	e.rewind()
	return nil
}

// Unload forgets the log, e.g. when switching back to a live source.
func (e *Engine) Unload() {
	e.samples = nil
	e.meta = logfile.Metadata{}
	e.totalTime = 0
	e.rewind()
}

func (e *Engine) rewind() {
	e.state = Stopped
	e.index = 0
	e.currentTime = 0
}

// Loaded reports whether a log is present.
func (e *Engine) Loaded() bool { return len(e.samples) > 0 }

// Play starts or resumes from the current time.
func (e *Engine) Play() error {
	if !e.Loaded() {
		return ErrNotLoaded
	}
	if e.state == Playing {
		return nil
	}
	e.state = Playing
	e.anchor()
	return nil
}

func (e *Engine) anchor() {
	e.startWall = e.clock.Now()
	e.startLog = e.currentTime
}

// Pause freezes the current time. It reports whether the state changed;
// callers recompute derived values once when it did.
func (e *Engine) Pause() bool {
	if e.state != Playing {
		return false
	}
	e.state = Paused
	return true
}

// Stop rewinds to the start and returns the first sample for display.
func (e *Engine) Stop() (orientation.Sample, bool) {
	e.rewind()
	if !e.Loaded() {
		return orientation.Sample{}, false
	}
	return e.samples[0], true
}

// Seek moves to t (clamped to the log) and returns the sample now current.
// Playing continues from the new position.
func (e *Engine) Seek(t int64) orientation.Sample {
	if !e.Loaded() {
		return orientation.Sample{}
	}
	if t < 0 {
		t = 0
	}
	if t > e.totalTime {
		t = e.totalTime
	}
	e.currentTime = t
	e.index = sort.Search(len(e.samples), func(i int) bool { return e.samples[i].Timestamp >= t })
	if e.state == Playing {
		e.anchor()
	}
	return e.Current()
}

// Tick advances to the wall-clock position. The end of the log is noticed
// on the tick after the last sample was emitted, which stops the engine.
func (e *Engine) Tick() (orientation.Sample, TickResult) {
	if e.state != Playing {
		return orientation.Sample{}, Idle
	}
	if e.index >= len(e.samples) {
		first, _ := e.Stop()
		return first, Finished
	}

	target := e.startLog + e.clock.Since(e.startWall).Milliseconds()
	reached := -1
	for e.index < len(e.samples) && e.samples[e.index].Timestamp <= target {
		reached = e.index
		e.index++
	}
	e.currentTime = min(target, e.totalTime)

	if reached < 0 {
		return orientation.Sample{}, Idle
	}
	return e.samples[reached], Advanced
}

// Current is the sample at the current index, or the last one at the end.
func (e *Engine) Current() orientation.Sample {
	if !e.Loaded() {
		return orientation.Sample{}
	}
	if e.index >= len(e.samples) {
		return e.samples[len(e.samples)-1]
	}
	return e.samples[e.index]
}

// Status copies the position.
func (e *Engine) Status() Status {
	return Status{
		Loaded:       e.Loaded(),
		State:        e.state,
		CurrentTime:  e.currentTime,
		TotalTime:    e.totalTime,
		CurrentIndex: e.index,
	}
}

// State is the transport state.
func (e *Engine) State() State { return e.state }

// CurrentTime is the log time in ms.
func (e *Engine) CurrentTime() int64 { return e.currentTime }

// Samples exposes the loaded series for velocity and graph windows.
func (e *Engine) Samples() orientation.Samples { return e.samples }

// Metadata is the header of the loaded log.
func (e *Engine) Metadata() logfile.Metadata { return e.meta }
