// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_monitor/internal/config"
	"github.com/relabs-tech/tilt_monitor/internal/graph"
	"github.com/relabs-tech/tilt_monitor/internal/history"
	"github.com/relabs-tech/tilt_monitor/internal/orientation"
	"github.com/relabs-tech/tilt_monitor/internal/playback"
	"github.com/relabs-tech/tilt_monitor/internal/protocol"
	"github.com/relabs-tech/tilt_monitor/internal/recorder"
	"github.com/relabs-tech/tilt_monitor/internal/timeutil"
	"github.com/relabs-tech/tilt_monitor/internal/transport"
	"github.com/relabs-tech/tilt_monitor/internal/velocity"
)

var (
	// ErrStopped is returned by Do once Run has returned.
	ErrStopped = errors.New("controller stopped")
	// ErrWrongMode rejects an operation that needs the other mode.
	ErrWrongMode = errors.New("operation not available in this mode")
	// ErrNoData rejects calibration before any sample arrived.
	ErrNoData = errors.New("no data received yet")
)

type command struct {
	fn   func(*Controller) error
	done chan error
}

// Controller owns the whole pipeline. Every field is touched only by the
// goroutine running Run, or by the caller when Run is not running; other
// goroutines go through Do.
type Controller struct {
	cfg   *config.Config
	clock timeutil.Clock
	log   *zap.Logger
	obs   Observer

	link    *transport.Link
	framer  *protocol.Framer
	decoder protocol.Decoder
	history *history.Buffer
	liveVel *velocity.LiveEstimator
	logVel  *velocity.LogEstimator
	engine  *playback.Engine
	rec     *recorder.Recorder

	cmds    chan command
	stopped chan struct{}
	ctx     context.Context

	mode          Mode
	wantConnected bool
	connStart     time.Time
	offset        orientation.Pose

	last     orientation.Sample
	hasData  bool
	speeds   velocity.Speeds
	window   *graph.Window
	rejected int

	playTicker   timeutil.Ticker
	recalcTicker timeutil.Ticker
	reconnect    timeutil.Timer
}

// NewController wires the pipeline for cfg. The dialer decides where live
// data comes from; obs may be nil.
func NewController(cfg *config.Config, dialer transport.Dialer, clock timeutil.Clock, obs Observer, log *zap.Logger) (*Controller, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if obs == nil {
		obs = Observers(nil)
	}

	liveVel, err := velocity.NewLiveEstimator(cfg.Velocity.Live)
	if err != nil {
		return nil, fmt.Errorf("live velocity: %w", err)
	}
	logVel, err := velocity.NewLogEstimator(cfg.Velocity.Log)
	if err != nil {
		return nil, fmt.Errorf("log velocity: %w", err)
	}
	rec, err := recorder.New(cfg.Recording.Directory, clock, log.Named("recorder"))
	if err != nil {
		return nil, err
	}

	return &Controller{
		cfg:     cfg,
		clock:   clock,
		log:     log,
		obs:     obs,
		link:    transport.NewLink(dialer, log.Named("link")),
		framer:  protocol.NewFramer(log.Named("framer")),
		history: history.New(cfg.History.Capacity),
		liveVel: liveVel,
		logVel:  logVel,
		engine:  playback.New(clock),
		rec:     rec,
		cmds:    make(chan command),
		stopped: make(chan struct{}),
		ctx:     context.Background(),
		mode:    ModeLive,
	}, nil
}

// Run is the event loop. It returns when ctx is done, after tearing the
// live connection down and closing any recording.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.stopped)
	defer c.shutdown()

	if c.mode == ModeLive && c.cfg.Source.AutoReconnect {
		c.wantConnected = true
		if err := c.Connect(); err != nil {
			c.log.Warn("controller: initial connect failed", zap.Error(err))
		}
	}
	c.resetTimers()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.link.Events():
			c.handleLinkEvent(ev)
		case cmd := <-c.cmds:
			cmd.done <- cmd.fn(c)
		case <-tickerC(c.playTicker):
			c.onPlayTick()
		case <-tickerC(c.recalcTicker):
			c.onRecalcTick()
		case <-timerC(c.reconnect):
			c.onReconnect()
		case <-c.backlogC():
			c.feed(nil)
		}
	}
}

// Do runs fn on the controller goroutine and returns its error.
func (c *Controller) Do(ctx context.Context, fn func(*Controller) error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) shutdown() {
	c.stopTimers()
	c.cancelReconnect()
	c.wantConnected = false
	if c.rec.Active() {
		c.StopRecording()
	}
	if err := c.link.Close(); err != nil {
		c.log.Warn("controller: close link", zap.Error(err))
	}
}

// Mode returns the active mode.
func (c *Controller) Mode() Mode { return c.mode }

// Snapshot builds a frame of the current state including the last graph.
func (c *Controller) Snapshot() Frame {
	f := c.frame()
	f.Graph = c.window
	return f
}

func (c *Controller) frame() Frame {
	f := Frame{
		Time:        c.clock.Now(),
		Mode:        c.mode,
		Link:        c.link.State().String(),
		Connected:   c.link.State() == transport.Connected,
		HasData:     c.hasData,
		Sample:      c.last,
		Speed:       c.speeds,
		Playback:    c.engine.Status(),
		Study:       c.engine.Metadata(),
		Recording:   c.rec.Path(),
		Calibration: c.offset,
	}
	return f
}

func (c *Controller) emit(withGraph bool) {
	f := c.frame()
	if withGraph {
		f.Graph = c.window
	}
	c.obs.OnFrame(f)
}

func (c *Controller) notify(level NoticeLevel, format string, args ...any) {
	n := Notice{Time: c.clock.Now(), Level: level, Message: fmt.Sprintf(format, args...)}
	switch level {
	case NoticeError:
		c.log.Warn("notice: " + n.Message)
	default:
		c.log.Info("notice: " + n.Message)
	}
	c.obs.OnNotice(n)
}

// resetTimers makes the running tickers match the current mode and state.
// Only one mode's timers ever exist at a time.
func (c *Controller) resetTimers() {
	c.stopTimers()
	switch c.mode {
	case ModeLive:
		c.recalcTicker = c.clock.NewTicker(hzPeriod(c.liveVel.Config().FrequencyHz))
	case ModeLog:
		if c.engine.State() == playback.Playing {
			c.playTicker = c.clock.NewTicker(c.cfg.Playback.TickInterval)
			c.recalcTicker = c.clock.NewTicker(hzPeriod(c.logVel.Config().FrequencyHz))
		}
	}
}

func (c *Controller) stopTimers() {
	if c.playTicker != nil {
		c.playTicker.Stop()
		c.playTicker = nil
	}
	if c.recalcTicker != nil {
		c.recalcTicker.Stop()
		c.recalcTicker = nil
	}
}

func (c *Controller) setMode(m Mode) {
	c.mode = m
	c.resetTimers()
}

func (c *Controller) onRecalcTick() {
	c.recompute()
	c.emit(true)
}

// recompute refreshes speeds and the graph window for the current mode.
func (c *Controller) recompute() {
	switch c.mode {
	case ModeLive:
		c.speeds = c.liveVel.Speeds()
		windowMs := c.cfg.GraphWindowMs()
		anchor := int64(0)
		if newest, ok := c.history.Newest(); ok {
			anchor = newest.Timestamp
		}
		c.window = graph.Build(c.history.Range(windowMs), anchor, windowMs, c.cfg.Graph.MaxPoints)
	case ModeLog:
		if !c.engine.Loaded() {
			return
		}
		c.speeds = c.logVel.Compute(c.engine.Samples(), c.engine.CurrentTime())
		c.window = c.logWindow()
	}
}

// logWindow anchors the graph at the playback position, but never before
// one full window so the start of a log fills the plot.
func (c *Controller) logWindow() *graph.Window {
	windowMs := c.cfg.GraphWindowMs()
	t := c.engine.CurrentTime()
	return graph.Build(c.engine.Samples(), max(t, windowMs), windowMs, c.cfg.Graph.MaxPoints)
}

func hzPeriod(hz float64) time.Duration {
	return time.Duration(float64(time.Second) / hz)
}

func tickerC(t timeutil.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}

var ready = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// backlogC is ready while the framer holds complete records it deferred.
func (c *Controller) backlogC() <-chan struct{} {
	if c.framer.Buffered() {
		return ready
	}
	return nil
}

func timerC(t timeutil.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}
