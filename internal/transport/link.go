// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrBusy is returned by Open unless the link is Disconnected.
var ErrBusy = errors.New("link is not disconnected")

// State of a Link.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// EventKind says what an Event reports.
type EventKind int

const (
	// EventConnected follows a successful dial.
	EventConnected EventKind = iota
	// EventData carries bytes read from the device.
	EventData
	// EventFailed reports a dial or read error. The link stays in its
	// state until the owner calls Close.
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventData:
		return "data"
	default:
		return "failed"
	}
}

// Event is delivered on Link.Events. Gen identifies the connection attempt
// it belongs to; stale generations must be ignored (see Accept).
type Event struct {
	Kind EventKind
	Gen  uint64
	Data []byte
	Err  error
}

const (
	readBufferSize = 4096
	// DefaultCloseWait bounds how long Close waits for the reader. A driver
	// whose Read ignores Close would otherwise hang the caller forever.
	DefaultCloseWait = 2 * time.Second
)

// Link owns one connection at a time and turns it into events. Reader and
// dial goroutines only copy bytes into events; all decisions are made by
// whoever consumes Events.
type Link struct {
	dialer Dialer
	log    *zap.Logger
	events chan Event

	mu     sync.Mutex
	state  State
	gen    uint64
	conn   io.ReadWriteCloser
	cancel context.CancelFunc
	// done is closed when the generation's goroutine has exited.
	done chan struct{}

	closeWait time.Duration
}

// NewLink returns a disconnected link.
func NewLink(d Dialer, log *zap.Logger) *Link {
	if log == nil {
		log = zap.NewNop()
	}
	return &Link{
		dialer:    d,
		log:       log,
		events:    make(chan Event, 64),
		closeWait: DefaultCloseWait,
	}
}

// Events is the single delivery channel for every generation.
func (l *Link) Events() <-chan Event { return l.events }

// State returns the current state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Gen is the current generation.
func (l *Link) Gen() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen
}

// Open starts dialing in the background and returns the new generation.
func (l *Link) Open(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Disconnected {
		return l.gen, ErrBusy
	}
	l.gen++
	gen := l.gen
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.state = Connecting
	l.done = make(chan struct{})

	go l.run(ctx, gen, l.done)
	return gen, nil
}

// run dials and then reads on the same goroutine, closing done on exit.
func (l *Link) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	l.log.Info("link: dialing", zap.Stringer("dialer", l.dialer), zap.Uint64("gen", gen))

	conn, err := l.dialer.Dial(ctx)

	l.mu.Lock()
	if l.gen != gen || l.state != Connecting {
		// closed while dialing
		l.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		l.mu.Unlock()
		l.send(ctx, Event{Kind: EventFailed, Gen: gen, Err: err})
		return
	}
	l.conn = conn
	l.state = Connected
	l.mu.Unlock()

	if l.send(ctx, Event{Kind: EventConnected, Gen: gen}) {
		l.read(ctx, gen, conn)
	}
}

// read pumps conn until it fails or ctx is cancelled. A read that returns
// no data and no error is a timeout and just re-checks ctx.
func (l *Link) read(ctx context.Context, gen uint64, conn io.Reader) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !l.send(ctx, Event{Kind: EventData, Gen: gen, Data: chunk}) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			continue
		}
		if err == io.EOF {
			err = fmt.Errorf("device closed the connection: %w", err)
		}
		l.send(ctx, Event{Kind: EventFailed, Gen: gen, Err: err})
		return
	}
}

// send blocks until the event is queued or the generation is cancelled.
func (l *Link) send(ctx context.Context, ev Event) bool {
	select {
	case l.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Accept reports whether ev belongs to the live generation and makes sense
// in the current state. Everything else is a leftover from a connection
// that is being or has been torn down.
func (l *Link) Accept(ev Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ev.Gen != l.gen {
		return false
	}
	switch ev.Kind {
	case EventFailed:
		return l.state == Connecting || l.state == Connected
	default:
		return l.state == Connected
	}
}

// Write sends a command to the device.
func (l *Link) Write(p []byte) (int, error) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return 0, ErrBusy
	}
	return conn.Write(p)
}

// Close tears the connection down and waits, at most the close wait, for its
// goroutine. Calling it
// again, or from a path triggered by the connection's own failure, is a
// no-op because only the first caller sees a live state.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.state == Disconnected || l.state == Disconnecting {
		l.mu.Unlock()
		return nil
	}
	l.state = Disconnecting
	conn, cancel, done := l.conn, l.cancel, l.done
	l.conn, l.cancel, l.done = nil, nil, nil
	wait := l.closeWait
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(wait):
			// its events carry a stale generation from here on
			l.log.Warn("link: reader did not stop, abandoning it",
				zap.Stringer("dialer", l.dialer), zap.Duration("waited", wait))
		}
	}

	l.mu.Lock()
	l.state = Disconnected
	// bump so late events of the closed generation never match
	l.gen++
	l.mu.Unlock()
	l.log.Info("link: disconnected", zap.Stringer("dialer", l.dialer))

	if err != nil {
		return fmt.Errorf("close %s: %w", l.dialer, err)
	}
	return nil
}
