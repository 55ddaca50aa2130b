// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package velocity

import (
	"fmt"

	"github.com/relabs-tech/tilt_monitor/internal/orientation"
)

// Live tuning ranges.
const (
	MinLivePoints    = 2
	MaxLivePoints    = 60
	MinLiveFrequency = 0.1
	MaxLiveFrequency = 15.0
)

// LiveConfig tunes the point-window estimator used for streaming sources.
type LiveConfig struct {
	// Points is the window length in observations (2-60).
	Points int `yaml:"points" json:"points"`
	// FrequencyHz is how often speeds are republished (0.1-15 Hz).
	FrequencyHz float64 `yaml:"frequency_hz" json:"frequency_hz"`
	// MaxSpeed clamps the estimate, deg/s.
	MaxSpeed float64 `yaml:"max_speed" json:"max_speed"`
}

// DefaultLiveConfig matches a ~60 Hz device stream.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{Points: 6, FrequencyHz: 4, MaxSpeed: 720}
}

// Validate checks the documented ranges.
func (c LiveConfig) Validate() error {
	if c.Points < MinLivePoints || c.Points > MaxLivePoints {
		return fmt.Errorf("live points must be %d-%d, got %d", MinLivePoints, MaxLivePoints, c.Points)
	}
	if c.FrequencyHz < MinLiveFrequency || c.FrequencyHz > MaxLiveFrequency {
		return fmt.Errorf("live frequency must be %.1f-%.1f Hz, got %g", MinLiveFrequency, MaxLiveFrequency, c.FrequencyHz)
	}
	if c.MaxSpeed <= 0 {
		return fmt.Errorf("live max speed must be positive, got %g", c.MaxSpeed)
	}
	return nil
}

// PointWindow keeps the newest observations of one axis, FIFO.
type PointWindow struct {
	limit    int
	maxSpeed float64
	obs      []Observation
}

// NewPointWindow returns a window holding at most limit observations.
func NewPointWindow(limit int, maxSpeed float64) *PointWindow {
	if limit < MinLivePoints {
		limit = MinLivePoints
	}
	return &PointWindow{
		limit:    limit,
		maxSpeed: maxSpeed,
		obs:      make([]Observation, 0, limit),
	}
}

// Observe records an angle and returns the updated speed. Observations
// older than the newest one are ignored.
func (w *PointWindow) Observe(angle float64, ts int64) float64 {
	if n := len(w.obs); n > 0 && ts < w.obs[n-1].Timestamp {
		return w.Speed()
	}
	w.obs = append(w.obs, Observation{Timestamp: ts, Angle: angle})
	w.evict()
	return w.Speed()
}

// Speed is the wrapped delta between the oldest and newest observation.
func (w *PointWindow) Speed() float64 {
	if len(w.obs) < 2 {
		return 0
	}
	return Between(w.obs[0], w.obs[len(w.obs)-1], w.maxSpeed)
}

// SetLimit changes the window length, evicting the oldest entries if needed.
func (w *PointWindow) SetLimit(limit int) {
	if limit < MinLivePoints {
		limit = MinLivePoints
	}
	w.limit = limit
	w.evict()
}

// SetMaxSpeed changes the clamp.
func (w *PointWindow) SetMaxSpeed(v float64) { w.maxSpeed = v }

// Len reports the number of observations held.
func (w *PointWindow) Len() int { return len(w.obs) }

// Reset drops every observation.
func (w *PointWindow) Reset() { w.obs = w.obs[:0] }

func (w *PointWindow) evict() {
	if extra := len(w.obs) - w.limit; extra > 0 {
		w.obs = append(w.obs[:0], w.obs[extra:]...)
	}
}

// LiveEstimator runs one PointWindow per axis.
type LiveEstimator struct {
	cfg     LiveConfig
	windows [3]*PointWindow
}

// NewLiveEstimator validates cfg and builds the per-axis windows.
func NewLiveEstimator(cfg LiveConfig) (*LiveEstimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &LiveEstimator{cfg: cfg}
	for i := range e.windows {
		e.windows[i] = NewPointWindow(cfg.Points, cfg.MaxSpeed)
	}
	return e, nil
}

// Observe feeds every axis of s and returns the new speeds.
func (e *LiveEstimator) Observe(s orientation.Sample) Speeds {
	for _, a := range orientation.Axes {
		e.windows[a].Observe(s.Get(a), s.Timestamp)
	}
	return e.Speeds()
}

// Speeds returns the current estimate without new input.
func (e *LiveEstimator) Speeds() Speeds {
	var out Speeds
	for _, a := range orientation.Axes {
		out.set(a, e.windows[a].Speed())
	}
	return out
}

// Config returns the active configuration.
func (e *LiveEstimator) Config() LiveConfig { return e.cfg }

// Configure applies cfg and re-derives the speeds from the retained window.
func (e *LiveEstimator) Configure(cfg LiveConfig) (Speeds, error) {
	if err := cfg.Validate(); err != nil {
		return e.Speeds(), err
	}
	e.cfg = cfg
	for _, w := range e.windows {
		w.SetLimit(cfg.Points)
		w.SetMaxSpeed(cfg.MaxSpeed)
	}
	return e.Speeds(), nil
}

// Reset clears every axis window.
func (e *LiveEstimator) Reset() {
	for _, w := range e.windows {
		w.Reset()
	}
}
