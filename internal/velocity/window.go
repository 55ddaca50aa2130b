// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package velocity

import (
	"fmt"
	"sort"

	"github.com/relabs-tech/tilt_monitor/internal/orientation"
)

// Log tuning ranges.
const (
	MinLogWindow    = 0.1
	MaxLogWindow    = 3.0
	MinLogFrequency = 0.1
	MaxLogFrequency = 10.0
)

// LogConfig tunes the time-window estimator used during playback.
type LogConfig struct {
	// WindowSeconds is the span speeds are measured over (0.1-3 s).
	WindowSeconds float64 `yaml:"window_seconds" json:"window_seconds"`
	// FrequencyHz is how often speeds are recomputed while playing (0.1-10 Hz).
	FrequencyHz float64 `yaml:"frequency_hz" json:"frequency_hz"`
	// MaxSpeed clamps the estimate, deg/s.
	MaxSpeed float64 `yaml:"max_speed" json:"max_speed"`
}

// DefaultLogConfig returns the playback defaults.
func DefaultLogConfig() LogConfig {
	return LogConfig{WindowSeconds: 0.5, FrequencyHz: 4, MaxSpeed: 180}
}

// Validate checks the documented ranges.
func (c LogConfig) Validate() error {
	if c.WindowSeconds < MinLogWindow || c.WindowSeconds > MaxLogWindow {
		return fmt.Errorf("log window must be %.1f-%.1f s, got %g", MinLogWindow, MaxLogWindow, c.WindowSeconds)
	}
	if c.FrequencyHz < MinLogFrequency || c.FrequencyHz > MaxLogFrequency {
		return fmt.Errorf("log frequency must be %.1f-%.1f Hz, got %g", MinLogFrequency, MaxLogFrequency, c.FrequencyHz)
	}
	if c.MaxSpeed <= 0 {
		return fmt.Errorf("log max speed must be positive, got %g", c.MaxSpeed)
	}
	return nil
}

// WindowMs is the configured window in milliseconds.
func (c LogConfig) WindowMs() int64 {
	return int64(c.WindowSeconds * 1000)
}

// TimeWindowSpeed estimates the speed of axis around time t from a sorted
// series. The window is centred on t, or pinned to [0, w] near the start,
// and never extends past the last sample.
func TimeWindowSpeed(series orientation.Series, t, windowMs int64, axis orientation.Axis, maxSpeed float64) float64 {
	n := series.Len()
	if n < 2 || windowMs <= 0 {
		return 0
	}

	half := windowMs / 2
	start, end := t-half, t+half
	if t < half {
		start, end = 0, windowMs
	}
	if last := series.At(n - 1).Timestamp; end > last {
		end = last
	}
	if start < 0 {
		start = 0
	}

	lo := sort.Search(n, func(i int) bool { return series.At(i).Timestamp >= start })
	hi := sort.Search(n, func(i int) bool { return series.At(i).Timestamp > end }) - 1
	if lo >= n || hi <= lo {
		return 0
	}

	first, last := series.At(lo), series.At(hi)
	return Between(
		Observation{Timestamp: first.Timestamp, Angle: first.Get(axis)},
		Observation{Timestamp: last.Timestamp, Angle: last.Get(axis)},
		maxSpeed,
	)
}

// LogEstimator computes all three axes over a time window.
type LogEstimator struct {
	cfg  LogConfig
	last Speeds
}

// NewLogEstimator validates cfg.
func NewLogEstimator(cfg LogConfig) (*LogEstimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &LogEstimator{cfg: cfg}, nil
}

// Compute returns the speeds at playback time t and remembers them.
func (e *LogEstimator) Compute(series orientation.Series, t int64) Speeds {
	var out Speeds
	for _, a := range orientation.Axes {
		out.set(a, TimeWindowSpeed(series, t, e.cfg.WindowMs(), a, e.cfg.MaxSpeed))
	}
	e.last = out
	return out
}

// Last returns the most recent result of Compute.
func (e *LogEstimator) Last() Speeds { return e.last }

// Config returns the active configuration.
func (e *LogEstimator) Config() LogConfig { return e.cfg }

// Configure applies cfg. Callers recompute right after.
func (e *LogEstimator) Configure(cfg LogConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	return nil
}

// Reset forgets the cached result.
func (e *LogEstimator) Reset() { e.last = Speeds{} }
