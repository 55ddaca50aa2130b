// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"
	"math"
)

// Pose is the canonical representation of head orientation, in degrees.
type Pose struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`
}

// Axis selects one angle of a Pose.
type Axis int

const (
	Pitch Axis = iota
	Roll
	Yaw
)

// Axes lists every axis in display order.
var Axes = [...]Axis{Pitch, Roll, Yaw}

func (a Axis) String() string {
	switch a {
	case Pitch:
		return "pitch"
	case Roll:
		return "roll"
	case Yaw:
		return "yaw"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// Get returns the angle for axis a.
func (p Pose) Get(a Axis) float64 {
	switch a {
	case Pitch:
		return p.Pitch
	case Roll:
		return p.Roll
	default:
		return p.Yaw
	}
}

// Sub returns p - o per axis. Used to apply calibration offsets.
func (p Pose) Sub(o Pose) Pose {
	return Pose{Pitch: p.Pitch - o.Pitch, Roll: p.Roll - o.Roll, Yaw: p.Yaw - o.Yaw}
}

// Add returns p + o per axis.
func (p Pose) Add(o Pose) Pose {
	return Pose{Pitch: p.Pitch + o.Pitch, Roll: p.Roll + o.Roll, Yaw: p.Yaw + o.Yaw}
}

// Normalized folds every angle into [-180, 180].
func (p Pose) Normalized() Pose {
	return Pose{
		Pitch: NormalizeAngle(p.Pitch),
		Roll:  NormalizeAngle(p.Roll),
		Yaw:   NormalizeAngle(p.Yaw),
	}
}

// Sample is one decoded telemetry observation.
// Timestamp is in milliseconds and never decreases within one source.
type Sample struct {
	Timestamp    int64 `json:"time"`
	Pose         `json:"pose"`
	PatientDizzy bool `json:"patient_dizzy"`
	DoctorDizzy  bool `json:"doctor_dizzy"`
}

// Series is a timestamp-ordered, indexable run of samples.
type Series interface {
	Len() int
	At(i int) Sample
}

// Samples is a Series backed by a slice, e.g. a loaded log file.
type Samples []Sample

func (s Samples) Len() int { return len(s) }

func (s Samples) At(i int) Sample {
	if i < 0 || i >= len(s) {
		return Sample{}
	}
	return s[i]
}

// Source is anything that can provide samples over time.
type Source interface {
	Next() (Sample, error)
}

// NormalizeAngle folds deg into [-180, 180] by whole turns. The result is
// congruent to deg modulo 360. Non-finite input is returned unchanged.
func NormalizeAngle(deg float64) float64 {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return deg
	}
	if deg >= -180 && deg <= 180 {
		return deg
	}
	// Bulk reduction first so huge values do not loop.
	deg = math.Mod(deg, 360)
	for deg > 180 {
		deg -= 360
	}
	for deg < -180 {
		deg += 360
	}
	return deg
}

// WrapDelta returns to - from, corrected for crossing the ±180° seam.
func WrapDelta(from, to float64) float64 {
	d := to - from
	if d > 180 {
		d -= 360
	} else if d < -180 {
		d += 360
	}
	return d
}
