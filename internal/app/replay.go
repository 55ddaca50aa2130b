// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"github.com/relabs-tech/tilt_monitor/internal/logfile"
	"github.com/relabs-tech/tilt_monitor/internal/orientation"
	"github.com/relabs-tech/tilt_monitor/internal/playback"
	"github.com/relabs-tech/tilt_monitor/internal/velocity"
)

// LoadLog parses path and switches to log mode. On any error the current
// mode and playback state are left as they were.
func (c *Controller) LoadLog(path string) error {
	l, err := logfile.Load(path, c.log.Named("logfile"))
	if err != nil {
		c.notify(NoticeError, "cannot load log: %v", err)
		return err
	}
	if err := c.engine.Load(l.Samples, l.Metadata); err != nil {
		c.notify(NoticeError, "cannot load log: %v", err)
		return err
	}

	if c.mode == ModeLive {
		c.wantConnected = false
		c.cancelReconnect()
		c.teardown()
	}
	c.setMode(ModeLog)
	c.logVel.Reset()

	c.last = l.Samples[0]
	c.hasData = true
	c.recompute()
	c.notify(NoticeInfo, "log loaded: %d records", l.Stats.Accepted)
	if l.Stats.Rejected > 0 {
		c.notify(NoticeWarn, "%d lines skipped", l.Stats.Rejected)
	}
	c.emit(true)
	return nil
}

// Play starts or resumes playback.
func (c *Controller) Play() error {
	if c.mode != ModeLog {
		return ErrWrongMode
	}
	if err := c.engine.Play(); err != nil {
		c.notify(NoticeWarn, "nothing to play: %v", err)
		return err
	}
	c.resetTimers()
	c.emit(false)
	return nil
}

// Pause freezes playback and recomputes once at the frozen time.
func (c *Controller) Pause() error {
	if c.mode != ModeLog {
		return ErrWrongMode
	}
	if c.engine.Pause() {
		c.resetTimers()
		c.recompute()
	}
	c.emit(true)
	return nil
}

// Stop rewinds to the first sample.
func (c *Controller) Stop() error {
	if c.mode != ModeLog {
		return ErrWrongMode
	}
	first, ok := c.engine.Stop()
	c.rewound(first, ok)
	return nil
}

func (c *Controller) rewound(first orientation.Sample, ok bool) {
	c.resetTimers()
	c.logVel.Reset()
	c.speeds = velocity.Speeds{}
	if ok {
		c.last = first
	}
	c.window = nil
	if c.engine.Loaded() {
		c.window = c.logWindow()
	}
	c.emit(true)
}

// Seek jumps to t ms. Playback keeps running if it was.
func (c *Controller) Seek(t int64) error {
	if c.mode != ModeLog {
		return ErrWrongMode
	}
	if !c.engine.Loaded() {
		return playback.ErrNotLoaded
	}
	c.last = c.engine.Seek(t)
	c.recompute()
	c.emit(true)
	return nil
}

func (c *Controller) onPlayTick() {
	s, res := c.engine.Tick()
	switch res {
	case playback.Advanced:
		c.last = s
		c.emit(false)
	case playback.Finished:
		c.notify(NoticeInfo, "playback finished")
		c.rewound(s, true)
	}
}

// SetLogVelocity retunes the playback estimator and recomputes at once.
func (c *Controller) SetLogVelocity(cfg velocity.LogConfig) error {
	if err := c.logVel.Configure(cfg); err != nil {
		c.notify(NoticeError, "log velocity: %v", err)
		return err
	}
	if c.mode == ModeLog {
		c.recompute()
		c.resetTimers()
	}
	c.emit(true)
	return nil
}

// SwitchToLive leaves log mode and, with auto-reconnect on, dials again.
func (c *Controller) SwitchToLive() error {
	if c.mode == ModeLive {
		return nil
	}
	c.engine.Unload()
	c.logVel.Reset()
	c.history.Clear()
	c.hasData = false
	c.last = orientation.Sample{}
	c.speeds = velocity.Speeds{}
	c.window = nil
	c.setMode(ModeLive)
	c.notify(NoticeInfo, "switched to live source")
	if c.cfg.Source.AutoReconnect {
		return c.Connect()
	}
	c.emit(false)
	return nil
}
