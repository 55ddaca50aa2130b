// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport opens the byte stream coming from the head sensor,
// over a serial line, a TCP socket or a synthetic in-process device.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/tilt_monitor/internal/config"
	"github.com/relabs-tech/tilt_monitor/internal/orientation"
	"github.com/relabs-tech/tilt_monitor/internal/protocol"
	"github.com/relabs-tech/tilt_monitor/internal/timeutil"
)

// Dialer opens a fresh connection to the device.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

// SerialDialer opens a serial port with 8N1 framing.
type SerialDialer struct {
	Port     string
	BaudRate int
}

func (d SerialDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := serial.OpenOptions{
		PortName:   d.Port,
		BaudRate:   uint(d.BaudRate),
		DataBits:   8,
		StopBits:   1,
		ParityMode: serial.PARITY_NONE,
		// VMIN=0 VTIME=1: Read returns after 100ms of silence so the
		// reader can notice a cancelled link.
		MinimumReadSize:       0,
		InterCharacterTimeout: serialReadTimeout,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", d.Port, err)
	}
	return serialPort{port}, nil
}

// serialReadTimeout is in milliseconds, rounded by the driver to 100ms steps.
const serialReadTimeout = 100

// serialPort turns the empty read of an expired VTIME, which *os.File
// reports as io.EOF, back into a plain timeout. An unplugged adapter
// fails with a real error instead.
type serialPort struct {
	io.ReadWriteCloser
}

func (p serialPort) Read(b []byte) (int, error) {
	n, err := p.ReadWriteCloser.Read(b)
	if n == 0 && err == io.EOF {
		return 0, nil
	}
	return n, err
}

func (d SerialDialer) String() string {
	return fmt.Sprintf("serial %s @ %d baud", d.Port, d.BaudRate)
}

// TCPDialer connects to a device exposing the stream on a TCP socket,
// typically over the device's own WiFi access point.
type TCPDialer struct {
	Address string
	Timeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", d.Address, err)
	}
	return conn, nil
}

func (d TCPDialer) String() string { return "tcp " + d.Address }

// MockDialer produces a synthetic device that writes one record per
// Interval using the mock orientation source.
type MockDialer struct {
	Clock    timeutil.Clock
	Interval time.Duration
}

func (d MockDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clock := d.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := d.Interval
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}

	pr, pw := io.Pipe()
	m := &mockConn{r: pr, w: pw}
	go m.run(clock, interval, orientation.NewMockSourceAt(clock.Now))
	return m, nil
}

func (d MockDialer) String() string { return "mock device" }

type mockConn struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (m *mockConn) run(clock timeutil.Clock, interval time.Duration, src orientation.Source) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C() {
		s, err := src.Next()
		if err != nil {
			m.w.CloseWithError(err)
			return
		}
		if _, err := io.WriteString(m.w, protocol.Encode(s)+"\n"); err != nil {
			return
		}
	}
}

func (m *mockConn) Read(p []byte) (int, error) { return m.r.Read(p) }

// Write accepts and discards commands.
func (m *mockConn) Write(p []byte) (int, error) { return len(p), nil }

func (m *mockConn) Close() error {
	m.w.Close()
	return m.r.Close()
}

// NewDialer builds the dialer selected by cfg.
func NewDialer(cfg config.SourceConfig, clock timeutil.Clock) (Dialer, error) {
	switch cfg.Kind {
	case config.SourceSerial:
		return SerialDialer{Port: cfg.Serial.Port, BaudRate: cfg.Serial.BaudRate}, nil
	case config.SourceTCP:
		return TCPDialer{Address: cfg.TCP.Address, Timeout: cfg.TCP.ConnectTimeout}, nil
	case config.SourceMock:
		return MockDialer{Clock: clock}, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}
