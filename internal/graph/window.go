// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package graph cuts a display window out of a sample series: a bounded
// number of points per axis plus the dizziness intervals inside it.
package graph

import (
	"sort"

	"github.com/relabs-tech/tilt_monitor/internal/orientation"
)

// DefaultBudget is the point budget per axis.
const DefaultBudget = 250

// Point is one plotted value at a time relative to the window start.
type Point struct {
	T int64   `json:"t"`
	V float64 `json:"v"`
}

// Interval is a run of a raised dizziness flag, relative to the window
// start. Active marks an interval still open at the right edge.
type Interval struct {
	Start  int64 `json:"start"`
	End    int64 `json:"end"`
	Active bool  `json:"active,omitempty"`
}

// Window is everything a chart needs for one redraw.
type Window struct {
	Start   int64      `json:"start"`
	End     int64      `json:"end"`
	Width   int64      `json:"width"`
	Pitch   []Point    `json:"pitch"`
	Roll    []Point    `json:"roll"`
	Yaw     []Point    `json:"yaw"`
	Patient []Interval `json:"patient"`
	Doctor  []Interval `json:"doctor"`
}

// Series returns the points of axis a.
func (w *Window) Series(a orientation.Axis) []Point {
	switch a {
	case orientation.Pitch:
		return w.Pitch
	case orientation.Roll:
		return w.Roll
	default:
		return w.Yaw
	}
}

// Build windows series to [anchorMs-widthMs, anchorMs]. A non-positive
// budget means DefaultBudget.
func Build(series orientation.Series, anchorMs, widthMs int64, budget int) *Window {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if widthMs < 0 {
		widthMs = 0
	}
	w := &Window{Start: anchorMs - widthMs, End: anchorMs, Width: widthMs}

	n := series.Len()
	lo := sort.Search(n, func(i int) bool { return series.At(i).Timestamp >= w.Start })
	hi := sort.Search(n, func(i int) bool { return series.At(i).Timestamp > w.End })
	if lo >= hi {
		return w
	}

	picked := downsample(series, lo, hi, budget)
	w.Pitch = make([]Point, len(picked))
	w.Roll = make([]Point, len(picked))
	w.Yaw = make([]Point, len(picked))
	for i, idx := range picked {
		s := series.At(idx)
		t := w.rel(s.Timestamp)
		w.Pitch[i] = Point{T: t, V: s.Pitch}
		w.Roll[i] = Point{T: t, V: s.Roll}
		w.Yaw[i] = Point{T: t, V: s.Yaw}
	}

	w.Patient = intervals(series, lo, hi, w, func(s orientation.Sample) bool { return s.PatientDizzy })
	w.Doctor = intervals(series, lo, hi, w, func(s orientation.Sample) bool { return s.DoctorDizzy })
	return w
}

func (w *Window) rel(ts int64) int64 {
	return min(max(ts-w.Start, 0), w.Width)
}

// downsample picks at most budget indices from [lo, hi). Targets are spread
// evenly in time and each resolves to the nearest real sample. The first
// and last sample are always kept and equal timestamps are never repeated.
func downsample(series orientation.Series, lo, hi, budget int) []int {
	count := hi - lo
	if count <= budget {
		out := make([]int, count)
		for i := range out {
			out[i] = lo + i
		}
		return out
	}
	if budget < 2 {
		return []int{hi - 1}
	}

	first := series.At(lo).Timestamp
	last := series.At(hi - 1).Timestamp
	out := make([]int, 0, budget)
	out = append(out, lo)
	prevTS := first

	for k := 1; k < budget-1; k++ {
		target := first + (last-first)*int64(k)/int64(budget-1)
		idx := nearest(series, lo, hi, target)
		if idx <= out[len(out)-1] || idx == hi-1 {
			continue
		}
		ts := series.At(idx).Timestamp
		if ts == prevTS {
			continue
		}
		out = append(out, idx)
		prevTS = ts
	}

	if len(out) > 1 && series.At(hi-1).Timestamp == prevTS {
		// same x as the previous pick: keep the newer value
		out[len(out)-1] = hi - 1
	} else {
		out = append(out, hi-1)
	}
	return out
}

func nearest(series orientation.Series, lo, hi int, target int64) int {
	i := lo + sort.Search(hi-lo, func(k int) bool { return series.At(lo+k).Timestamp >= target })
	if i >= hi {
		return hi - 1
	}
	if i > lo && target-series.At(i-1).Timestamp <= series.At(i).Timestamp-target {
		return i - 1
	}
	return i
}

// intervals run-length encodes flag over every sample in [lo, hi).
func intervals(series orientation.Series, lo, hi int, w *Window, flag func(orientation.Sample) bool) []Interval {
	var (
		out   []Interval
		open  bool
		start int64
	)
	for i := lo; i < hi; i++ {
		s := series.At(i)
		on := flag(s)
		switch {
		case on && !open:
			open, start = true, w.rel(s.Timestamp)
		case !on && open:
			open = false
			if end := w.rel(s.Timestamp); end > start {
				out = append(out, Interval{Start: start, End: end})
			}
		}
	}
	// a flag that rose on the newest sample still shows, zero length
	if open {
		out = append(out, Interval{Start: start, End: w.Width, Active: true})
	}
	return out
}
