// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"time"

	"github.com/relabs-tech/tilt_monitor/internal/graph"
	"github.com/relabs-tech/tilt_monitor/internal/logfile"
	"github.com/relabs-tech/tilt_monitor/internal/orientation"
	"github.com/relabs-tech/tilt_monitor/internal/playback"
	"github.com/relabs-tech/tilt_monitor/internal/velocity"
)

// Mode is where samples come from.
type Mode int

const (
	ModeLive Mode = iota
	ModeLog
)

func (m Mode) String() string {
	if m == ModeLog {
		return "log"
	}
	return "live"
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "live":
		*m = ModeLive
	case "log":
		*m = ModeLog
	default:
		return fmt.Errorf("unknown mode %q", b)
	}
	return nil
}

// Frame is the state pushed to observers after every change. Graph is only
// set on recompute ticks and on explicit position changes.
type Frame struct {
	Time        time.Time          `json:"time"`
	Mode        Mode               `json:"mode"`
	Link        string             `json:"link"`
	Connected   bool               `json:"connected"`
	HasData     bool               `json:"has_data"`
	Sample      orientation.Sample `json:"sample"`
	Speed       velocity.Speeds    `json:"speed"`
	Playback    playback.Status    `json:"playback"`
	Study       logfile.Metadata   `json:"study"`
	Recording   string             `json:"recording,omitempty"`
	Calibration orientation.Pose   `json:"calibration"`
	Graph       *graph.Window      `json:"graph,omitempty"`
}

// NoticeLevel grades a Notice.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

// Notice is a user-facing message.
type Notice struct {
	Time    time.Time   `json:"time"`
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Observer receives copies of controller output on the controller
// goroutine. Implementations must not block.
type Observer interface {
	OnFrame(Frame)
	OnNotice(Notice)
}

// Observers fans out to every member.
type Observers []Observer

func (o Observers) OnFrame(f Frame) {
	for _, ob := range o {
		ob.OnFrame(f)
	}
}

func (o Observers) OnNotice(n Notice) {
	for _, ob := range o {
		ob.OnNotice(n)
	}
}
