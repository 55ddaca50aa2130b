// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/relabs-tech/tilt_monitor/internal/orientation"
)

// Rejection reasons. A *RejectError wraps exactly one of them.
var (
	ErrTooFewFields     = errors.New("too few fields")
	ErrBadNumber        = errors.New("unparsable number")
	ErrNotFinite        = errors.New("angle is NaN or infinite")
	ErrBadTimestamp     = errors.New("missing or invalid timestamp")
	ErrUnsupportedShape = errors.New("unsupported record shape")
)

// RejectError describes why a record produced no sample.
type RejectError struct {
	Record string
	Field  string
	Reason error
}

func (e *RejectError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("record %q rejected: %s: %v", e.Record, e.Field, e.Reason)
	}
	return fmt.Sprintf("record %q rejected: %v", e.Record, e.Reason)
}

func (e *RejectError) Unwrap() error { return e.Reason }

// Source tells the decoder where a record came from.
type Source int

const (
	// Live records arrive over serial or TCP.
	Live Source = iota
	// Log records are data lines of a recorded file.
	Log
)

// minDelimited is the field count of "ts;pitch;roll;yaw;patient;doctor".
const minDelimited = 6

// legacyLogFields marks log lines carrying speed columns:
// time;pitch;roll;yaw;speedPitch;speedRoll;speedYaw;dizziness[;doctorDizziness]
const legacyLogFields = 8

// Context carries the per-call state the decoder needs. The decoder itself
// holds none; calibration offsets belong to the caller.
type Context struct {
	Source Source
	// ElapsedMs is the time since the source started, used when the record
	// has no usable timestamp.
	ElapsedMs int64
	// RelativeTime allows ElapsedMs to stand in for a missing timestamp.
	RelativeTime bool
	// Offset is subtracted from the raw angles before normalization.
	Offset orientation.Pose
}

// Decoder parses text records into samples.
type Decoder struct{}

// Decode parses one record. On success every angle is in [-180, 180].
func (Decoder) Decode(record string, ctx Context) (orientation.Sample, error) {
	switch {
	case strings.Contains(record, ";"):
		return decodeDelimited(record, ctx)
	case strings.Contains(record, ",") && ctx.Source == Live:
		return decodeCSV(record, ctx)
	default:
		return orientation.Sample{}, &RejectError{Record: record, Reason: ErrUnsupportedShape}
	}
}

func decodeDelimited(record string, ctx Context) (orientation.Sample, error) {
	clean := keepNumeric(record)
	fields := strings.Split(clean, ";")
	if len(fields) < minDelimited {
		return orientation.Sample{}, &RejectError{Record: record, Reason: ErrTooFewFields}
	}

	var raw [3]float64
	for i := range raw {
		v, err := parseNumber(fields[i+1])
		if err != nil {
			return orientation.Sample{}, &RejectError{Record: record, Field: orientation.Axes[i].String(), Reason: err}
		}
		raw[i] = v
	}

	patientIdx, doctorIdx := 4, 5
	if ctx.Source == Log && len(fields) >= legacyLogFields {
		for i := 4; i < 7; i++ {
			if _, err := parseNumber(fields[i]); err != nil {
				return orientation.Sample{}, &RejectError{Record: record, Field: "speed", Reason: err}
			}
		}
		patientIdx, doctorIdx = 7, 8
	}

	ts, err := parseTimestamp(fields[0], ctx)
	if err != nil {
		return orientation.Sample{}, &RejectError{Record: record, Field: "time", Reason: err}
	}

	pose, err := calibrate(raw, ctx.Offset)
	if err != nil {
		return orientation.Sample{}, &RejectError{Record: record, Reason: err}
	}

	return orientation.Sample{
		Timestamp:    ts,
		Pose:         pose,
		PatientDizzy: flagAt(fields, patientIdx),
		DoctorDizzy:  flagAt(fields, doctorIdx),
	}, nil
}

func decodeCSV(record string, ctx Context) (orientation.Sample, error) {
	fields := strings.Split(keepNumeric(record), ",")
	if len(fields) < 3 {
		return orientation.Sample{}, &RejectError{Record: record, Reason: ErrTooFewFields}
	}
	var raw [3]float64
	for i := range raw {
		v, err := parseNumber(fields[i])
		if err != nil {
			return orientation.Sample{}, &RejectError{Record: record, Field: orientation.Axes[i].String(), Reason: err}
		}
		raw[i] = v
	}
	pose, err := calibrate(raw, ctx.Offset)
	if err != nil {
		return orientation.Sample{}, &RejectError{Record: record, Reason: err}
	}
	return orientation.Sample{Timestamp: ctx.ElapsedMs, Pose: pose}, nil
}

// keepNumeric drops line noise: anything but digits and ";.,-".
func keepNumeric(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == ';', r == '.', r == ',', r == '-':
			return r
		default:
			return -1
		}
	}, s)
}

// parseNumber accepts a decimal comma.
func parseNumber(field string) (float64, error) {
	field = strings.ReplaceAll(strings.TrimSpace(field), ",", ".")
	if field == "" {
		return 0, ErrBadNumber
	}
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, ErrBadNumber
	}
	return v, nil
}

func parseTimestamp(field string, ctx Context) (int64, error) {
	v, err := parseNumber(field)
	if err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 && v < math.MaxInt64 {
		return int64(v), nil
	}
	if ctx.RelativeTime {
		return ctx.ElapsedMs, nil
	}
	return 0, ErrBadTimestamp
}

func calibrate(raw [3]float64, offset orientation.Pose) (orientation.Pose, error) {
	for _, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return orientation.Pose{}, ErrNotFinite
		}
	}
	p := orientation.Pose{Pitch: raw[0], Roll: raw[1], Yaw: raw[2]}
	return p.Sub(offset).Normalized(), nil
}

func flagAt(fields []string, i int) bool {
	if i >= len(fields) {
		return false
	}
	return strings.TrimSpace(fields[i]) == "1"
}

// Encode renders a sample in the delimited stream shape.
func Encode(s orientation.Sample) string {
	return fmt.Sprintf("%d;%.2f;%.2f;%.2f;%s;%s",
		s.Timestamp, s.Pitch, s.Roll, s.Yaw, flag(s.PatientDizzy), flag(s.DoctorDizzy))
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
