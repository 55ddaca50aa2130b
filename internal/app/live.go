// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"

	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_monitor/internal/orientation"
	"github.com/relabs-tech/tilt_monitor/internal/protocol"
	"github.com/relabs-tech/tilt_monitor/internal/transport"
	"github.com/relabs-tech/tilt_monitor/internal/velocity"
)

// Connect starts dialing the live source.
func (c *Controller) Connect() error {
	if c.mode != ModeLive {
		return ErrWrongMode
	}
	c.wantConnected = true
	c.cancelReconnect()
	if _, err := c.link.Open(c.ctx); err != nil {
		if errors.Is(err, transport.ErrBusy) {
			return nil
		}
		return err
	}
	c.emit(false)
	return nil
}

// Disconnect drops the live connection and disables auto-reconnect until
// the next Connect.
func (c *Controller) Disconnect() error {
	c.wantConnected = false
	c.cancelReconnect()
	c.teardown()
	c.notify(NoticeInfo, "disconnected")
	return nil
}

// teardown is the single path that ends a connection, whether asked for or
// caused by a transport failure.
func (c *Controller) teardown() {
	if c.rec.Active() {
		c.StopRecording()
	}
	if err := c.link.Close(); err != nil {
		c.log.Warn("controller: close link", zap.Error(err))
	}
	c.framer.Reset()
	c.history.Clear()
	c.liveVel.Reset()
	if c.mode == ModeLive {
		c.hasData = false
		c.last = orientation.Sample{}
		c.speeds = velocity.Speeds{}
		c.window = nil
	}
	c.emit(false)
}

func (c *Controller) handleLinkEvent(ev transport.Event) {
	if !c.link.Accept(ev) {
		c.log.Debug("controller: stale link event", zap.Stringer("kind", ev.Kind), zap.Uint64("gen", ev.Gen))
		return
	}
	switch ev.Kind {
	case transport.EventConnected:
		c.framer.Reset()
		c.history.Clear()
		c.liveVel.Reset()
		c.connStart = c.clock.Now()
		c.rejected = 0
		c.notify(NoticeInfo, "connected")
		c.emit(false)
	case transport.EventData:
		c.feed(ev.Data)
	case transport.EventFailed:
		c.notify(NoticeError, "connection failed: %v", ev.Err)
		c.teardown()
		c.scheduleReconnect()
	}
}

// feed frames chunk and ingests what is complete. A burst past the per-feed
// cap leaves records buffered; Run comes back for them via backlogC before
// blocking on the link again.
func (c *Controller) feed(chunk []byte) {
	for _, rec := range c.framer.Feed(chunk) {
		c.ingestRecord(rec)
	}
}

func (c *Controller) ingestRecord(record string) {
	s, err := c.decoder.Decode(record, protocol.Context{
		Source:       protocol.Live,
		ElapsedMs:    c.clock.Since(c.connStart).Milliseconds(),
		RelativeTime: c.cfg.Source.RelativeTime,
		Offset:       c.offset,
	})
	if err != nil {
		c.rejected++
		c.log.Debug("controller: record rejected", zap.Error(err))
		return
	}
	c.ingest(s)
}

func (c *Controller) ingest(s orientation.Sample) {
	if newest, ok := c.history.Newest(); ok && s.Timestamp < newest.Timestamp {
		c.rejected++
		c.log.Debug("controller: sample older than history", zap.Int64("time", s.Timestamp))
		return
	}
	c.history.Add(s)
	c.liveVel.Observe(s)
	c.last = s
	c.hasData = true

	if c.rec.Active() {
		if err := c.rec.Write(s); err != nil {
			c.notify(NoticeError, "recording stopped: %v", err)
			c.StopRecording()
		}
	}
	c.emit(false)
}

func (c *Controller) scheduleReconnect() {
	if !c.cfg.Source.AutoReconnect || !c.wantConnected || c.mode != ModeLive {
		return
	}
	if c.reconnect == nil {
		c.reconnect = c.clock.NewTimer(c.cfg.Source.ReconnectInterval)
	} else {
		c.reconnect.Reset(c.cfg.Source.ReconnectInterval)
	}
}

func (c *Controller) cancelReconnect() {
	if c.reconnect != nil {
		c.reconnect.Stop()
	}
}

func (c *Controller) onReconnect() {
	if !c.wantConnected || c.mode != ModeLive || c.link.State() != transport.Disconnected {
		return
	}
	c.log.Info("controller: reconnecting")
	if _, err := c.link.Open(c.ctx); err != nil {
		c.log.Warn("controller: reconnect", zap.Error(err))
		c.scheduleReconnect()
	}
}

// Calibrate takes the current head position as the new zero.
func (c *Controller) Calibrate() error {
	if c.mode != ModeLive {
		return ErrWrongMode
	}
	if !c.hasData {
		return ErrNoData
	}
	// c.last already has the old offset removed
	c.offset = c.last.Pose.Add(c.offset).Normalized()
	c.notify(NoticeInfo, "calibrated: pitch %.1f, roll %.1f, yaw %.1f", c.offset.Pitch, c.offset.Roll, c.offset.Yaw)
	c.emit(false)
	return nil
}

// ResetCalibration removes the offset.
func (c *Controller) ResetCalibration() error {
	c.offset = orientation.Pose{}
	c.notify(NoticeInfo, "calibration reset")
	c.emit(false)
	return nil
}

// StartRecording opens a new session file for live samples.
func (c *Controller) StartRecording() error {
	if c.mode != ModeLive {
		return ErrWrongMode
	}
	path, err := c.rec.Start()
	if err != nil {
		c.notify(NoticeError, "cannot start recording: %v", err)
		return err
	}
	c.notify(NoticeInfo, "recording to %s", path)
	c.emit(false)
	return nil
}

// StopRecording closes the session file.
func (c *Controller) StopRecording() error {
	path, err := c.rec.Stop()
	if err != nil {
		c.notify(NoticeError, "stop recording: %v", err)
		return err
	}
	c.notify(NoticeInfo, "recording saved: %s", path)
	c.emit(false)
	return nil
}

// SetLiveVelocity retunes the live estimator and republishes at once.
func (c *Controller) SetLiveVelocity(cfg velocity.LiveConfig) error {
	speeds, err := c.liveVel.Configure(cfg)
	if err != nil {
		c.notify(NoticeError, "live velocity: %v", err)
		return err
	}
	if c.mode == ModeLive {
		c.speeds = speeds
		c.resetTimers()
	}
	c.emit(false)
	return nil
}
