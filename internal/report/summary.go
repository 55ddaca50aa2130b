// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package report turns a recorded session into numbers and charts.
package report

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/tilt_monitor/internal/graph"
	"github.com/relabs-tech/tilt_monitor/internal/logfile"
	"github.com/relabs-tech/tilt_monitor/internal/orientation"
	"github.com/relabs-tech/tilt_monitor/internal/velocity"
)

// AxisStats describes one angle over a session.
type AxisStats struct {
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"std_dev"`
	PeakSpeed float64 `json:"peak_speed"` // deg/s, largest magnitude
}

// FlagStats describes one dizziness flag.
type FlagStats struct {
	Episodes int   `json:"episodes"`
	TotalMs  int64 `json:"total_ms"`
}

// Summary is the overview printed by the summary command.
type Summary struct {
	Title      string                         `json:"title"`
	Samples    int                            `json:"samples"`
	DurationMs int64                          `json:"duration_ms"`
	Axes       map[orientation.Axis]AxisStats `json:"-"`
	Patient    FlagStats                      `json:"patient"`
	Doctor     FlagStats                      `json:"doctor"`
}

// Summarize computes per-axis statistics. Speeds use the playback
// estimator with cfg so the numbers match what replay displays.
func Summarize(l *logfile.Log, cfg velocity.LogConfig) Summary {
	s := Summary{
		Title:      l.Metadata.Title(),
		Samples:    len(l.Samples),
		DurationMs: l.TotalTime(),
		Axes:       make(map[orientation.Axis]AxisStats, len(orientation.Axes)),
	}
	if len(l.Samples) == 0 {
		return s
	}

	values := make([]float64, len(l.Samples))
	speeds := make([]float64, len(l.Samples))
	for _, a := range orientation.Axes {
		for i, smp := range l.Samples {
			values[i] = smp.Get(a)
			speeds[i] = math.Abs(velocity.TimeWindowSpeed(l.Samples, smp.Timestamp, cfg.WindowMs(), a, cfg.MaxSpeed))
		}
		mean, std := stat.MeanStdDev(values, nil)
		if math.IsNaN(std) {
			std = 0
		}
		s.Axes[a] = AxisStats{
			Min:       floats.Min(values),
			Max:       floats.Max(values),
			Mean:      mean,
			StdDev:    std,
			PeakSpeed: floats.Max(speeds),
		}
	}

	first := l.Samples[0].Timestamp
	total := l.TotalTime()
	w := graph.Build(l.Samples, total, total-first, len(l.Samples))
	s.Patient = flagStats(w.Patient)
	s.Doctor = flagStats(w.Doctor)
	return s
}

func flagStats(iv []graph.Interval) FlagStats {
	var f FlagStats
	for _, i := range iv {
		f.Episodes++
		f.TotalMs += i.End - i.Start
	}
	return f
}

// WriteSummary prints s as an aligned table.
func WriteSummary(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\n", s.Title)
	fmt.Fprintf(tw, "samples\t%d\n", s.Samples)
	fmt.Fprintf(tw, "duration\t%s\n", FormatResearchTime(s.DurationMs))
	fmt.Fprintf(tw, "\naxis\tmin\tmax\tmean\tstd\tpeak °/s\n")
	for _, a := range orientation.Axes {
		st := s.Axes[a]
		fmt.Fprintf(tw, "%s\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\n", a, st.Min, st.Max, st.Mean, st.StdDev, st.PeakSpeed)
	}
	fmt.Fprintf(tw, "\nflag\tepisodes\ttotal\n")
	fmt.Fprintf(tw, "patient\t%d\t%s\n", s.Patient.Episodes, FormatResearchTime(s.Patient.TotalMs))
	fmt.Fprintf(tw, "doctor\t%d\t%s\n", s.Doctor.Episodes, FormatResearchTime(s.Doctor.TotalMs))
	return tw.Flush()
}

// FormatResearchTime renders ms as hh:mm:ss:mmm.
func FormatResearchTime(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d:%03d",
		ms/3_600_000, ms%3_600_000/60_000, ms%60_000/1000, ms%1000)
}
