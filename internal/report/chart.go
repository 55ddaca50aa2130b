// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/relabs-tech/tilt_monitor/internal/graph"
	"github.com/relabs-tech/tilt_monitor/internal/logfile"
	"github.com/relabs-tech/tilt_monitor/internal/orientation"
)

// RenderChart writes a standalone HTML page with the angles of l and its
// dizziness episodes, downsampled to budget points per axis.
func RenderChart(w io.Writer, l *logfile.Log, budget int) error {
	if len(l.Samples) == 0 {
		return logfile.ErrNoData
	}
	first := l.Samples[0].Timestamp
	total := l.TotalTime()
	win := graph.Build(l.Samples, total, total-first, budget)

	page := components.NewPage()
	page.PageTitle = l.Metadata.Title()
	page.AddCharts(anglesChart(win, l.Metadata), flagsChart(win))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

func anglesChart(win *graph.Window, meta logfile.Metadata) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: meta.Title(), Width: "100%", Height: "520px"}),
		charts.WithTitleOpts(opts.Title{Title: "Head orientation", Subtitle: meta.Title()}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "s"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "deg", Min: -180, Max: 180}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	for _, a := range orientation.Axes {
		items := make([]opts.LineData, 0, len(win.Series(a)))
		for _, p := range win.Series(a) {
			items = append(items, opts.LineData{Value: []interface{}{seconds(p.T), p.V}})
		}
		line.AddSeries(a.String(), items)
	}
	line.SetSeriesOptions(charts.WithLineStyleOpts(opts.LineStyle{Width: 1}))
	return line
}

func flagsChart(win *graph.Window) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "220px"}),
		charts.WithTitleOpts(opts.Title{Title: "Dizziness"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "s", Min: 0, Max: seconds(win.Width)}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: 0, Max: 1}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.AddSeries("patient", stepSeries(win.Patient, win.Width))
	line.AddSeries("doctor", stepSeries(win.Doctor, win.Width))
	return line
}

// stepSeries draws intervals as a 0/1 square wave over [0, width].
func stepSeries(iv []graph.Interval, width int64) []opts.LineData {
	items := []opts.LineData{{Value: []interface{}{0.0, 0}}}
	for _, i := range iv {
		items = append(items,
			opts.LineData{Value: []interface{}{seconds(i.Start), 0}},
			opts.LineData{Value: []interface{}{seconds(i.Start), 1}},
			opts.LineData{Value: []interface{}{seconds(i.End), 1}},
			opts.LineData{Value: []interface{}{seconds(i.End), 0}},
		)
	}
	return append(items, opts.LineData{Value: []interface{}{seconds(width), 0}})
}

func seconds(ms int64) float64 { return float64(ms) / 1000 }
