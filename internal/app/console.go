// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_monitor/internal/config"
	"github.com/relabs-tech/tilt_monitor/internal/playback"
	"github.com/relabs-tech/tilt_monitor/internal/report"
	"github.com/relabs-tech/tilt_monitor/internal/timeutil"
	"github.com/relabs-tech/tilt_monitor/internal/transport"
)

// ConsolePrinter is an Observer writing one line per frame, at most once
// per interval. Notices and state changes are always printed.
type ConsolePrinter struct {
	w        io.Writer
	clock    timeutil.Clock
	interval time.Duration

	mu        sync.Mutex
	lastPrint time.Time
	lastKey   string
}

// NewConsolePrinter prints to w. An interval of 0 prints every frame.
func NewConsolePrinter(w io.Writer, clock timeutil.Clock, interval time.Duration) *ConsolePrinter {
	return &ConsolePrinter{w: w, clock: clock, interval: interval}
}

func (p *ConsolePrinter) OnFrame(f Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := f.Mode.String() + "/" + f.Link + "/" + f.Playback.State.String()
	now := p.clock.Now()
	if key == p.lastKey && now.Sub(p.lastPrint) < p.interval {
		return
	}
	p.lastKey = key
	p.lastPrint = now
	fmt.Fprintln(p.w, FormatFrame(f))
}

func (p *ConsolePrinter) OnNotice(n Notice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%-5s] %s\n", n.Level, n.Message)
}

// FormatFrame renders f as a single console line.
func FormatFrame(f Frame) string {
	s := f.Sample
	var head string
	if f.Mode == ModeLog {
		head = fmt.Sprintf("[LOG  ] %s / %s %-7s",
			report.FormatResearchTime(f.Playback.CurrentTime),
			report.FormatResearchTime(f.Playback.TotalTime),
			f.Playback.State)
	} else {
		head = fmt.Sprintf("[LIVE ] %s %-13s", report.FormatResearchTime(s.Timestamp), f.Link)
	}
	if !f.HasData {
		return head + "  no data"
	}
	return fmt.Sprintf("%s  PITCH=%7.2f ROLL=%7.2f YAW=%7.2f  dP=%7.1f dR=%7.1f dY=%7.1f  patient=%s doctor=%s",
		head,
		s.Pitch, s.Roll, s.Yaw,
		f.Speed.Pitch, f.Speed.Roll, f.Speed.Yaw,
		dizzyMark(s.PatientDizzy), dizzyMark(s.DoctorDizzy),
	)
}

func dizzyMark(b bool) string {
	if b {
		return "*"
	}
	return "-"
}

// finishWatcher cancels once playback that was running comes to a stop.
type finishWatcher struct {
	cancel context.CancelFunc
	played bool
}

func (w *finishWatcher) OnFrame(f Frame) {
	switch f.Playback.State {
	case playback.Playing:
		w.played = true
	case playback.Stopped:
		if w.played {
			w.cancel()
		}
	}
}

func (w *finishWatcher) OnNotice(Notice) {}

// RunReplay plays the log at path to out in real time and returns when it
// ends or ctx is cancelled.
func RunReplay(ctx context.Context, cfg *config.Config, path string, out io.Writer, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	replayCfg := *cfg
	replayCfg.Source.AutoReconnect = false

	clock := timeutil.RealClock{}
	dialer, err := transport.NewDialer(replayCfg.Source, clock)
	if err != nil {
		return err
	}
	obs := Observers{
		NewConsolePrinter(out, clock, 100*time.Millisecond),
		&finishWatcher{cancel: cancel},
	}
	ctrl, err := NewController(&replayCfg, dialer, clock, obs, log)
	if err != nil {
		return err
	}

	// Run is not started yet, so the controller may be driven directly.
	if err := ctrl.LoadLog(path); err != nil {
		return err
	}
	if err := ctrl.Play(); err != nil {
		return err
	}
	return ctrl.Run(ctx)
}
