// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
	"time"
)

type mockSource struct {
	start time.Time
	now   func() time.Time
}

// NewMockSource creates a mock orientation source that generates smooth
// changing values, a yaw that keeps turning through the ±180° seam, and
// short dizziness episodes for both flags.
func NewMockSource() Source {
	return NewMockSourceAt(time.Now)
}

// NewMockSourceAt is NewMockSource with an injectable time function.
func NewMockSourceAt(now func() time.Time) Source {
	return &mockSource{start: now(), now: now}
}

func (m *mockSource) Next() (Sample, error) {
	elapsed := m.now().Sub(m.start)
	sec := elapsed.Seconds()

	return Sample{
		Timestamp: elapsed.Milliseconds(),
		Pose: Pose{
			Pitch: 15 * math.Cos(sec*0.7),
			Roll:  20 * math.Sin(sec),
			Yaw:   NormalizeAngle(sec * 30),
		},
		// patient episode 3s out of every 20s, doctor confirms 1s later
		PatientDizzy: math.Mod(sec, 20) >= 10 && math.Mod(sec, 20) < 13,
		DoctorDizzy:  math.Mod(sec, 20) >= 11 && math.Mod(sec, 20) < 13,
	}, nil
}
