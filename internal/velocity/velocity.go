// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package velocity estimates angular speed per axis, either over the last N
// live observations or over a time window of a recorded series.
package velocity

import (
	"github.com/relabs-tech/tilt_monitor/internal/orientation"
)

// MinElapsedMs is the shortest span a speed is computed over. Anything
// shorter reads as 0 to keep timestamp jitter from producing spikes.
const MinElapsedMs = 10

// Speeds holds angular speeds in degrees per second.
type Speeds struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`
}

// Get returns the speed for axis a.
func (s Speeds) Get(a orientation.Axis) float64 {
	switch a {
	case orientation.Pitch:
		return s.Pitch
	case orientation.Roll:
		return s.Roll
	default:
		return s.Yaw
	}
}

func (s *Speeds) set(a orientation.Axis, v float64) {
	switch a {
	case orientation.Pitch:
		s.Pitch = v
	case orientation.Roll:
		s.Roll = v
	default:
		s.Yaw = v
	}
}

// Observation is one (timestamp, angle) pair of a velocity window.
type Observation struct {
	Timestamp int64
	Angle     float64
}

// Between returns the signed speed from first to last in deg/s. The ±180°
// wrap is resolved on the angle delta before dividing by time, and the
// result is clamped to [-maxSpeed, maxSpeed].
func Between(first, last Observation, maxSpeed float64) float64 {
	elapsed := last.Timestamp - first.Timestamp
	if elapsed < MinElapsedMs {
		return 0
	}
	speed := orientation.WrapDelta(first.Angle, last.Angle) / (float64(elapsed) / 1000)
	return clamp(speed, maxSpeed)
}

func clamp(v, limit float64) float64 {
	if limit <= 0 {
		return v
	}
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
