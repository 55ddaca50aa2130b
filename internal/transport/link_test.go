// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/tilt_monitor/internal/config"
	"github.com/relabs-tech/tilt_monitor/internal/protocol"
	"github.com/relabs-tech/tilt_monitor/internal/timeutil"
)

// pipeDialer hands out the client end of a net.Pipe and keeps the device end.
type pipeDialer struct {
	device chan net.Conn
	err    error
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{device: make(chan net.Conn, 4)}
}

func (d *pipeDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if d.err != nil {
		return nil, d.err
	}
	client, device := net.Pipe()
	d.device <- device
	return client, nil
}

func (d *pipeDialer) String() string { return "pipe" }

func nextEvent(t *testing.T, l *Link) Event {
	t.Helper()
	select {
	case ev := <-l.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestLinkDeliversData(t *testing.T) {
	d := newPipeDialer()
	l := NewLink(d, nil)

	gen, err := l.Open(context.Background())
	require.NoError(t, err)

	ev := nextEvent(t, l)
	require.Equal(t, EventConnected, ev.Kind)
	assert.Equal(t, gen, ev.Gen)
	assert.True(t, l.Accept(ev))
	assert.Equal(t, Connected, l.State())

	device := <-d.device
	go device.Write([]byte("1;2;3;4;0;0\n"))

	ev = nextEvent(t, l)
	require.Equal(t, EventData, ev.Kind)
	assert.Equal(t, "1;2;3;4;0;0\n", string(ev.Data))
	assert.True(t, l.Accept(ev))

	_, err = l.Open(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, l.Close())
	assert.Equal(t, Disconnected, l.State())
	// stale now
	assert.False(t, l.Accept(ev))
}

func TestLinkReadFailure(t *testing.T) {
	d := newPipeDialer()
	l := NewLink(d, nil)
	_, err := l.Open(context.Background())
	require.NoError(t, err)
	require.Equal(t, EventConnected, nextEvent(t, l).Kind)

	device := <-d.device
	device.Close()

	ev := nextEvent(t, l)
	require.Equal(t, EventFailed, ev.Kind)
	assert.Error(t, ev.Err)
	assert.True(t, l.Accept(ev))

	// the failure's own teardown and a second one are both safe
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.False(t, l.Accept(ev))
}

func TestLinkDialFailure(t *testing.T) {
	d := newPipeDialer()
	d.err = errors.New("no such device")
	l := NewLink(d, nil)

	_, err := l.Open(context.Background())
	require.NoError(t, err)
	ev := nextEvent(t, l)
	require.Equal(t, EventFailed, ev.Kind)
	assert.ErrorContains(t, ev.Err, "no such device")
	assert.Equal(t, Connecting, l.State())

	require.NoError(t, l.Close())
	assert.Equal(t, Disconnected, l.State())

	// reopen works after teardown
	d.err = nil
	gen, err := l.Open(context.Background())
	require.NoError(t, err)
	ev = nextEvent(t, l)
	assert.Equal(t, gen, ev.Gen)
	assert.Equal(t, EventConnected, ev.Kind)
	require.NoError(t, l.Close())
}

// quietConn behaves like a serial port with no traffic. With stuck unset it
// times out every few milliseconds, as VTIME does; with stuck set its Read
// blocks until release, ignoring Close like some USB drivers.
type quietConn struct {
	stuck   bool
	release chan struct{}
}

func newQuietConn(stuck bool) *quietConn {
	return &quietConn{stuck: stuck, release: make(chan struct{})}
}

func (c *quietConn) Read([]byte) (int, error) {
	if c.stuck {
		<-c.release
		return 0, io.EOF
	}
	time.Sleep(10 * time.Millisecond)
	return 0, nil
}

func (c *quietConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *quietConn) Close() error                { return nil }

// connDialer hands out the queued connections in order.
type connDialer chan io.ReadWriteCloser

func dialing(conns ...io.ReadWriteCloser) connDialer {
	d := make(connDialer, len(conns))
	for _, c := range conns {
		d <- c
	}
	return d
}

func (d connDialer) Dial(context.Context) (io.ReadWriteCloser, error) { return <-d, nil }
func (d connDialer) String() string                                   { return "queued" }

func TestLinkCloseStopsTimingOutReader(t *testing.T) {
	l := NewLink(dialing(newQuietConn(false)), nil)
	l.closeWait = time.Hour
	_, err := l.Open(context.Background())
	require.NoError(t, err)
	require.Equal(t, EventConnected, nextEvent(t, l).Kind)

	closed := make(chan error, 1)
	go func() { closed <- l.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close waited on a reader that should have seen the cancel")
	}
	assert.Equal(t, Disconnected, l.State())
}

func TestLinkCloseGivesUpOnStuckReader(t *testing.T) {
	conn := newQuietConn(true)
	defer close(conn.release)
	l := NewLink(dialing(conn, newQuietConn(false)), nil)
	l.closeWait = 50 * time.Millisecond
	_, err := l.Open(context.Background())
	require.NoError(t, err)
	ev := nextEvent(t, l)
	require.Equal(t, EventConnected, ev.Kind)

	closed := make(chan error, 1)
	go func() { closed <- l.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung on a stuck reader")
	}
	assert.Equal(t, Disconnected, l.State())
	assert.False(t, l.Accept(ev))

	// the link is usable again
	gen, err := l.Open(context.Background())
	require.NoError(t, err)
	ev = nextEvent(t, l)
	assert.Equal(t, gen, ev.Gen)
	assert.Equal(t, EventConnected, ev.Kind)
	require.NoError(t, l.Close())
}

type readResult struct {
	n   int
	err error
}

type scriptedPort struct {
	io.ReadWriteCloser
	reads []readResult
}

func (p *scriptedPort) Read([]byte) (int, error) {
	r := p.reads[0]
	p.reads = p.reads[1:]
	return r.n, r.err
}

func TestSerialPortMapsTimeoutEOF(t *testing.T) {
	eio := errors.New("input/output error")
	port := serialPort{&scriptedPort{reads: []readResult{
		{0, io.EOF},
		{3, io.EOF},
		{0, eio},
	}}}
	buf := make([]byte, 8)

	n, err := port.Read(buf)
	assert.Zero(t, n)
	assert.NoError(t, err)

	n, err = port.Read(buf)
	assert.Equal(t, 3, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = port.Read(buf)
	assert.ErrorIs(t, err, eio)
}

func TestMockDialerEmitsRecords(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	conn, err := MockDialer{Clock: clock, Interval: 10 * time.Millisecond}.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := conn.Read(buf)
		got <- string(buf[:n])
	}()

	// the writer goroutine may not have subscribed to the ticker yet
	deadline := time.After(2 * time.Second)
	for {
		clock.Advance(10 * time.Millisecond)
		select {
		case line := <-got:
			require.True(t, strings.HasSuffix(line, "\n"))
			_, err := protocol.Decoder{}.Decode(strings.TrimSpace(line), protocol.Context{})
			assert.NoError(t, err)
			return
		case <-deadline:
			t.Fatal("mock device wrote nothing")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestNewDialer(t *testing.T) {
	d, err := NewDialer(config.SourceConfig{Kind: config.SourceTCP, TCP: config.TCPConfig{Address: "h:1"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "tcp h:1", d.String())

	d, err = NewDialer(config.SourceConfig{Kind: config.SourceSerial, Serial: config.SerialConfig{Port: "/dev/x", BaudRate: 9600}}, nil)
	require.NoError(t, err)
	assert.IsType(t, SerialDialer{}, d)

	_, err = NewDialer(config.SourceConfig{Kind: "carrier pigeon"}, nil)
	assert.Error(t, err)
}
