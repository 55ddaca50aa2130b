// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/tilt_monitor/internal/config"
	"github.com/relabs-tech/tilt_monitor/internal/graph"
	"github.com/relabs-tech/tilt_monitor/internal/logfile"
	"github.com/relabs-tech/tilt_monitor/internal/orientation"
	"github.com/relabs-tech/tilt_monitor/internal/playback"
	"github.com/relabs-tech/tilt_monitor/internal/protocol"
	"github.com/relabs-tech/tilt_monitor/internal/recorder"
	"github.com/relabs-tech/tilt_monitor/internal/timeutil"
	"github.com/relabs-tech/tilt_monitor/internal/transport"
	"github.com/relabs-tech/tilt_monitor/internal/velocity"
)

var epoch = time.Date(2026, 5, 4, 9, 30, 0, 0, time.Local)

type pipeDialer struct {
	device chan net.Conn
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{device: make(chan net.Conn, 4)}
}

func (d *pipeDialer) Dial(context.Context) (io.ReadWriteCloser, error) {
	client, device := net.Pipe()
	d.device <- device
	return client, nil
}

func (d *pipeDialer) String() string { return "pipe" }

// sink collects everything a controller emits.
type sink struct {
	mu      sync.Mutex
	frames  []Frame
	notices []Notice
}

func (s *sink) OnFrame(f Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
}

func (s *sink) OnNotice(n Notice) {
	s.mu.Lock()
	s.notices = append(s.notices, n)
	s.mu.Unlock()
}

func (s *sink) lastFrame() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return Frame{}
	}
	return s.frames[len(s.frames)-1]
}

func (s *sink) hasNotice(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notices {
		if strings.Contains(n.Message, substr) {
			return true
		}
	}
	return false
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Source.AutoReconnect = false
	cfg.Recording.Directory = t.TempDir()
	return cfg
}

func newTestController(t *testing.T, cfg *config.Config, d transport.Dialer) (*Controller, *timeutil.MockClock, *sink) {
	t.Helper()
	clock := timeutil.NewMockClock(epoch)
	out := &sink{}
	c, err := NewController(cfg, d, clock, out, nil)
	require.NoError(t, err)
	return c, clock, out
}

// pump handles link events until cond holds.
func pump(t *testing.T, c *Controller, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case ev := <-c.link.Events():
			c.handleLinkEvent(ev)
		case <-c.backlogC():
			c.feed(nil)
		case <-deadline:
			t.Fatal("condition not reached")
		}
	}
}

func connect(t *testing.T, c *Controller, d *pipeDialer) net.Conn {
	t.Helper()
	require.NoError(t, c.Connect())
	pump(t, c, func() bool { return c.link.State() == transport.Connected })
	select {
	case dev := <-d.device:
		return dev
	case <-time.After(2 * time.Second):
		t.Fatal("no device end")
		return nil
	}
}

func send(t *testing.T, c *Controller, dev net.Conn, line string, ts int64) {
	t.Helper()
	_, err := dev.Write([]byte(line + "\n"))
	require.NoError(t, err)
	pump(t, c, func() bool { return c.hasData && c.last.Timestamp == ts })
}

func writeLog(t *testing.T, samples orientation.Samples) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("##########\n# Исследование № 000007\n# 2026-05-01 12:00:00\n##########\n")
	for _, s := range samples {
		fmt.Fprintf(&b, "%010d;%.2f;%.2f;%.2f;0;0\n", s.Timestamp, s.Pitch, s.Roll, s.Yaw)
	}
	path := filepath.Join(t.TempDir(), "Research_000007_2026_05_01_12_00_00.txt")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func ramp(n int, stepMs int64, degPerStep float64) orientation.Samples {
	out := make(orientation.Samples, n)
	for i := range out {
		out[i] = orientation.Sample{
			Timestamp: int64(i) * stepMs,
			Pose:      orientation.Pose{Pitch: float64(i) * degPerStep},
		}
	}
	return out
}

func TestLiveIngestAndCalibration(t *testing.T) {
	d := newPipeDialer()
	c, _, out := newTestController(t, testConfig(t), d)
	dev := connect(t, c, d)
	defer dev.Close()
	assert.True(t, out.hasNotice("connected"))

	send(t, c, dev, "100;10;20;30;1;0", 100)
	assert.Equal(t, orientation.Pose{Pitch: 10, Roll: 20, Yaw: 30}, c.last.Pose)
	assert.True(t, c.last.PatientDizzy)
	assert.Equal(t, 1, c.history.Len())

	// garbage between records is only counted
	_, err := dev.Write([]byte("noise\n"))
	require.NoError(t, err)

	require.NoError(t, c.Calibrate())
	send(t, c, dev, "200;15;20;-170;0;0", 200)
	assert.InDelta(t, 5.0, c.last.Pitch, 1e-9)
	assert.InDelta(t, 0.0, c.last.Roll, 1e-9)
	assert.InDelta(t, 160.0, c.last.Yaw, 1e-9)
	assert.Equal(t, 1, c.rejected)

	f := out.lastFrame()
	assert.Equal(t, ModeLive, f.Mode)
	assert.True(t, f.Connected)
	assert.Equal(t, orientation.Pose{Pitch: 10, Roll: 20, Yaw: 30}, f.Calibration)

	require.NoError(t, c.ResetCalibration())
	send(t, c, dev, "300;15;20;30;0;0", 300)
	assert.Equal(t, 15.0, c.last.Pitch)
}

func TestCalibrateNeedsData(t *testing.T) {
	c, _, _ := newTestController(t, testConfig(t), newPipeDialer())
	assert.ErrorIs(t, c.Calibrate(), ErrNoData)
}

func TestOlderLiveSampleIsDropped(t *testing.T) {
	d := newPipeDialer()
	c, _, _ := newTestController(t, testConfig(t), d)
	dev := connect(t, c, d)
	defer dev.Close()

	send(t, c, dev, "500;1;0;0;0;0", 500)
	_, err := dev.Write([]byte("400;2;0;0;0;0\n600;3;0;0;0;0\n"))
	require.NoError(t, err)
	pump(t, c, func() bool { return c.last.Timestamp == 600 })
	assert.Equal(t, 2, c.history.Len())
	assert.Equal(t, 1, c.rejected)
}

func TestTransportFailureTearsDownAndReconnects(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.AutoReconnect = true
	d := newPipeDialer()
	c, clock, out := newTestController(t, cfg, d)
	dev := connect(t, c, d)

	send(t, c, dev, "100;1;2;3;0;0", 100)
	require.NoError(t, c.StartRecording())

	require.NoError(t, dev.Close())
	pump(t, c, func() bool { return c.link.State() == transport.Disconnected })
	assert.False(t, c.hasData)
	assert.Zero(t, c.history.Len())
	assert.False(t, c.rec.Active(), "recording must stop with the connection")
	assert.True(t, out.hasNotice("connection failed"))

	// a second failure path must not run twice
	c.teardown()
	assert.Equal(t, transport.Disconnected, c.link.State())

	require.NotNil(t, c.reconnect)
	clock.Advance(cfg.Source.ReconnectInterval)
	select {
	case <-c.reconnect.C():
		c.onReconnect()
	case <-time.After(time.Second):
		t.Fatal("reconnect timer did not fire")
	}
	pump(t, c, func() bool { return c.link.State() == transport.Connected })
	(<-d.device).Close()
}

func TestDisconnectStopsReconnecting(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.AutoReconnect = true
	d := newPipeDialer()
	c, _, _ := newTestController(t, cfg, d)
	dev := connect(t, c, d)
	defer dev.Close()

	require.NoError(t, c.Disconnect())
	assert.Equal(t, transport.Disconnected, c.link.State())
	c.scheduleReconnect()
	assert.Nil(t, c.reconnect)
}

func TestRecordingLiveSession(t *testing.T) {
	cfg := testConfig(t)
	d := newPipeDialer()
	c, _, _ := newTestController(t, cfg, d)
	dev := connect(t, c, d)
	defer dev.Close()

	require.NoError(t, c.StartRecording())
	assert.ErrorIs(t, c.StartRecording(), recorder.ErrAlreadyRecording)
	send(t, c, dev, "1000;1.5;0;0;1;0", 1000)
	send(t, c, dev, "1100;2.5;0;0;0;1", 1100)
	path := c.rec.Path()
	require.NoError(t, c.StopRecording())

	l, err := logfile.Load(path, nil)
	require.NoError(t, err)
	require.Len(t, l.Samples, 2)
	assert.Equal(t, int64(0), l.Samples[0].Timestamp)
	assert.Equal(t, int64(100), l.Samples[1].Timestamp)
	assert.True(t, l.Samples[0].PatientDizzy)
	assert.True(t, l.Samples[1].DoctorDizzy)
	assert.Equal(t, "000001", l.Metadata.ResearchNumber)
}

func TestLogPlaybackToTheEnd(t *testing.T) {
	c, clock, out := newTestController(t, testConfig(t), newPipeDialer())
	path := writeLog(t, ramp(3, 100, 10))

	require.NoError(t, c.LoadLog(path))
	assert.Equal(t, ModeLog, c.Mode())
	assert.Equal(t, int64(0), c.last.Timestamp)
	assert.True(t, out.hasNotice("log loaded: 3 records"))
	f := out.lastFrame()
	require.NotNil(t, f.Graph)
	assert.Equal(t, "000007", f.Study.ResearchNumber)
	assert.Nil(t, c.playTicker)

	require.NoError(t, c.Play())
	assert.NotNil(t, c.playTicker)
	assert.NotNil(t, c.recalcTicker)

	clock.Advance(150 * time.Millisecond)
	c.onPlayTick()
	assert.Equal(t, 10.0, c.last.Pitch)

	clock.Advance(100 * time.Millisecond)
	c.onPlayTick()
	assert.Equal(t, 20.0, c.last.Pitch)
	assert.Equal(t, playback.Playing, c.engine.State())

	c.onPlayTick()
	assert.Equal(t, playback.Stopped, c.engine.State())
	assert.Equal(t, 0.0, c.last.Pitch)
	assert.Equal(t, velocity.Speeds{}, c.speeds)
	assert.Nil(t, c.playTicker)
	assert.True(t, out.hasNotice("playback finished"))
}

func TestPauseSeekAndStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Graph.WindowSeconds = 1
	c, clock, _ := newTestController(t, cfg, newPipeDialer())
	require.NoError(t, c.LoadLog(writeLog(t, ramp(50, 100, 1))))

	require.NoError(t, c.Play())
	clock.Advance(2 * time.Second)
	c.onPlayTick()
	require.NoError(t, c.Pause())
	assert.Nil(t, c.playTicker)
	assert.InDelta(t, 10.0, c.speeds.Pitch, 1e-9)

	require.NoError(t, c.Seek(4000))
	assert.Equal(t, int64(4000), c.engine.CurrentTime())
	assert.Equal(t, 40.0, c.last.Pitch)
	require.NotNil(t, c.window)
	assert.Equal(t, int64(4000), c.window.End)
	assert.Equal(t, int64(3000), c.window.Start)

	// near the start the graph still spans a full window
	require.NoError(t, c.Seek(200))
	assert.Equal(t, int64(1000), c.window.End)

	require.NoError(t, c.Stop())
	assert.Equal(t, playback.Stopped, c.engine.State())
	assert.Equal(t, int64(0), c.last.Timestamp)
	assert.Equal(t, velocity.Speeds{}, c.speeds)
}

func TestSetLogVelocityRecomputes(t *testing.T) {
	c, _, _ := newTestController(t, testConfig(t), newPipeDialer())
	require.NoError(t, c.LoadLog(writeLog(t, ramp(50, 100, 1))))
	require.NoError(t, c.Seek(2000))
	assert.InDelta(t, 10.0, c.speeds.Pitch, 1e-9)

	cfg := velocity.DefaultLogConfig()
	cfg.MaxSpeed = 4
	require.NoError(t, c.SetLogVelocity(cfg))
	assert.Equal(t, 4.0, c.speeds.Pitch)

	cfg.WindowSeconds = 10
	assert.Error(t, c.SetLogVelocity(cfg))
	assert.Equal(t, 4.0, c.logVel.Config().MaxSpeed)
}

func TestLoadLogFailureKeepsState(t *testing.T) {
	c, _, out := newTestController(t, testConfig(t), newPipeDialer())
	require.NoError(t, c.LoadLog(writeLog(t, ramp(3, 100, 10))))
	require.NoError(t, c.Seek(100))

	err := c.LoadLog(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.True(t, out.hasNotice("cannot load log"))
	assert.Equal(t, ModeLog, c.Mode())
	assert.Equal(t, int64(100), c.engine.CurrentTime())
}

func TestLiveOperationsNeedLiveMode(t *testing.T) {
	c, _, _ := newTestController(t, testConfig(t), newPipeDialer())
	assert.ErrorIs(t, c.Play(), ErrWrongMode)

	require.NoError(t, c.LoadLog(writeLog(t, ramp(3, 100, 10))))
	assert.ErrorIs(t, c.Connect(), ErrWrongMode)
	assert.ErrorIs(t, c.Calibrate(), ErrWrongMode)
	assert.ErrorIs(t, c.StartRecording(), ErrWrongMode)

	require.NoError(t, c.SwitchToLive())
	assert.Equal(t, ModeLive, c.Mode())
	assert.False(t, c.engine.Loaded())
	assert.NotNil(t, c.recalcTicker)
	assert.Nil(t, c.playTicker)
}

func TestLiveRecalcPublishesGraph(t *testing.T) {
	d := newPipeDialer()
	c, _, out := newTestController(t, testConfig(t), d)
	dev := connect(t, c, d)
	defer dev.Close()

	for i := int64(0); i < 6; i++ {
		send(t, c, dev, fmt.Sprintf("%d;%d;0;0;0;0", i*100, i*10), i*100)
	}
	c.onRecalcTick()
	f := out.lastFrame()
	require.NotNil(t, f.Graph)
	assert.Equal(t, int64(500), f.Graph.End)
	assert.InDelta(t, 100.0, f.Speed.Pitch, 1e-9)

	cfg := velocity.DefaultLiveConfig()
	cfg.MaxSpeed = 50
	require.NoError(t, c.SetLiveVelocity(cfg))
	assert.Equal(t, 50.0, c.speeds.Pitch)
}

func TestLiveGraphCoversOnlyTheWindow(t *testing.T) {
	cfg := testConfig(t)
	cfg.Graph.WindowSeconds = 1
	d := newPipeDialer()
	c, _, out := newTestController(t, cfg, d)
	dev := connect(t, c, d)
	defer dev.Close()

	for i := int64(0); i < 30; i++ {
		send(t, c, dev, fmt.Sprintf("%d;%d;0;0;0;0", i*100, i), i*100)
	}
	require.Equal(t, 30, c.history.Len())
	c.onRecalcTick()

	g := out.lastFrame().Graph
	require.NotNil(t, g)
	assert.Equal(t, int64(1900), g.Start)
	assert.Equal(t, int64(2900), g.End)
	require.Len(t, g.Pitch, 11)
	assert.Equal(t, graph.Point{T: 0, V: 19}, g.Pitch[0])
}

func burst(from, n int) []byte {
	var b strings.Builder
	for i := from; i < from+n; i++ {
		fmt.Fprintf(&b, "%d;0;0;0;0;0\n", i*10)
	}
	return []byte(b.String())
}

func TestBurstPastFeedCapIsDrained(t *testing.T) {
	d := newPipeDialer()
	c, _, _ := newTestController(t, testConfig(t), d)
	dev := connect(t, c, d)
	defer dev.Close()

	c.feed(burst(0, protocol.MaxRecordsPerFeed+30))
	assert.Equal(t, protocol.MaxRecordsPerFeed, c.history.Len())
	assert.NotNil(t, c.backlogC())

	c.feed(nil)
	assert.Equal(t, protocol.MaxRecordsPerFeed+30, c.history.Len())
	assert.Nil(t, c.backlogC())
	assert.Equal(t, int64((protocol.MaxRecordsPerFeed+29)*10), c.last.Timestamp)
}

func TestRunDrainsBacklogWithoutNewInput(t *testing.T) {
	d := newPipeDialer()
	c, _, _ := newTestController(t, testConfig(t), d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.NoError(t, c.Do(ctx, func(c *Controller) error { return c.Connect() }))
	var dev net.Conn
	select {
	case dev = <-d.device:
	case <-time.After(2 * time.Second):
		t.Fatal("no device end")
	}
	defer dev.Close()

	// one write, then silence: the deferred records must still arrive
	total := protocol.MaxRecordsPerFeed + 30
	_, err := dev.Write(burst(0, total))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var n int
		_ = c.Do(ctx, func(c *Controller) error {
			n = c.history.Len()
			return nil
		})
		return n == total
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunServesCommands(t *testing.T) {
	c, _, _ := newTestController(t, testConfig(t), newPipeDialer())
	path := writeLog(t, ramp(3, 100, 10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.NoError(t, c.Do(ctx, func(c *Controller) error { return c.LoadLog(path) }))
	var mode Mode
	require.NoError(t, c.Do(ctx, func(c *Controller) error {
		mode = c.Mode()
		return nil
	}))
	assert.Equal(t, ModeLog, mode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	err := c.Do(context.Background(), func(*Controller) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
}
