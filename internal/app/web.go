// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_monitor/internal/graph"
	"github.com/relabs-tech/tilt_monitor/internal/playback"
	"github.com/relabs-tech/tilt_monitor/internal/recorder"
	"github.com/relabs-tech/tilt_monitor/internal/velocity"
)

const (
	wsClientBuffer = 64
	wsWriteTimeout = 5 * time.Second
	requestTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the monitor is served on a local network
	},
}

// wsMessage is what /ws clients receive.
type wsMessage struct {
	Type   string  `json:"type"` // frame or notice
	Frame  *Frame  `json:"frame,omitempty"`
	Notice *Notice `json:"notice,omitempty"`
}

type wsClient struct {
	send chan []byte
}

// Hub is an Observer serving the latest state over HTTP and streaming
// every frame and notice to websocket clients. A slow client loses
// messages; it never slows the controller down.
type Hub struct {
	log *zap.Logger

	mu        sync.RWMutex
	clients   map[*wsClient]struct{}
	last      *Frame
	lastGraph *graph.Window
}

// NewHub returns an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[*wsClient]struct{}),
	}
}

// OnFrame remembers f and broadcasts it.
func (h *Hub) OnFrame(f Frame) {
	msg, err := json.Marshal(wsMessage{Type: "frame", Frame: &f})
	if err != nil {
		h.log.Warn("web: marshal frame", zap.Error(err))
		return
	}
	h.mu.Lock()
	if f.Graph != nil {
		h.lastGraph = f.Graph
	}
	stored := f
	stored.Graph = nil
	h.last = &stored
	h.mu.Unlock()
	h.broadcast(msg)
}

// OnNotice broadcasts n.
func (h *Hub) OnNotice(n Notice) {
	msg, err := json.Marshal(wsMessage{Type: "notice", Notice: &n})
	if err != nil {
		h.log.Warn("web: marshal notice", zap.Error(err))
		return
	}
	h.broadcast(msg)
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Debug("web: client too slow, message dropped")
		}
	}
}

func (h *Hub) register() *wsClient {
	c := &wsClient{send: make(chan []byte, wsClientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		if msg, err := json.Marshal(wsMessage{Type: "frame", Frame: h.last}); err == nil {
			c.send <- msg
		}
	}
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Clients reports the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler returns the HTTP API. Commands are run on ctrl's goroutine.
// staticDir may be empty to serve the API only.
func (h *Hub) Handler(ctrl *Controller, staticDir string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/orientation", h.handleOrientation)
	mux.HandleFunc("GET /api/graph", h.handleGraph)
	mux.HandleFunc("GET /ws", h.handleWS)

	post := func(pattern string, fn func(*Controller) error) {
		mux.HandleFunc("POST "+pattern, func(w http.ResponseWriter, r *http.Request) {
			h.command(w, r, ctrl, fn)
		})
	}
	post("/api/playback/play", (*Controller).Play)
	post("/api/playback/pause", (*Controller).Pause)
	post("/api/playback/stop", (*Controller).Stop)
	post("/api/connect", (*Controller).Connect)
	post("/api/disconnect", (*Controller).Disconnect)
	post("/api/calibrate", (*Controller).Calibrate)
	post("/api/calibrate/reset", (*Controller).ResetCalibration)
	post("/api/recording/start", (*Controller).StartRecording)
	post("/api/recording/stop", (*Controller).StopRecording)
	post("/api/mode/live", (*Controller).SwitchToLive)

	mux.HandleFunc("POST /api/playback/seek", func(w http.ResponseWriter, r *http.Request) {
		t, err := strconv.ParseInt(r.URL.Query().Get("t"), 10, 64)
		if err != nil {
			http.Error(w, "t must be a time in milliseconds", http.StatusBadRequest)
			return
		}
		h.command(w, r, ctrl, func(c *Controller) error { return c.Seek(t) })
	})
	mux.HandleFunc("POST /api/log", func(w http.ResponseWriter, r *http.Request) {
		path := r.FormValue("path")
		if path == "" {
			http.Error(w, "path is required", http.StatusBadRequest)
			return
		}
		h.command(w, r, ctrl, func(c *Controller) error { return c.LoadLog(path) })
	})
	mux.HandleFunc("POST /api/velocity/live", func(w http.ResponseWriter, r *http.Request) {
		var cfg velocity.LiveConfig
		if !decodeConfig(w, r, &cfg) {
			return
		}
		h.command(w, r, ctrl, func(c *Controller) error { return c.SetLiveVelocity(cfg) })
	})
	mux.HandleFunc("POST /api/velocity/log", func(w http.ResponseWriter, r *http.Request) {
		var cfg velocity.LogConfig
		if !decodeConfig(w, r, &cfg) {
			return
		}
		h.command(w, r, ctrl, func(c *Controller) error { return c.SetLogVelocity(cfg) })
	})

	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

type validator interface {
	Validate() error
}

// decodeConfig reads a JSON body into v and validates it.
func decodeConfig(w http.ResponseWriter, r *http.Request, v validator) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := v.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Hub) handleOrientation(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	last := h.last
	h.mu.RUnlock()
	if last == nil {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, last)
}

func (h *Hub) handleGraph(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	g := h.lastGraph
	h.mu.RUnlock()
	if g == nil {
		http.Error(w, "no graph yet", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, g)
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("web: websocket upgrade", zap.Error(err))
		return
	}
	c := h.register()
	h.log.Debug("web: client connected", zap.String("remote", r.RemoteAddr))

	// reader: only needed to notice the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.unregister(c)
		conn.Close()
		h.log.Debug("web: client disconnected", zap.String("remote", r.RemoteAddr))
	}()
	for {
		select {
		case <-gone:
			return
		case msg := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug("web: websocket write", zap.Error(err))
				return
			}
		}
	}
}

// command runs fn on the controller and answers with the resulting
// snapshot.
func (h *Hub) command(w http.ResponseWriter, r *http.Request, ctrl *Controller, fn func(*Controller) error) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var snap Frame
	err := ctrl.Do(ctx, func(c *Controller) error {
		if err := fn(c); err != nil {
			return err
		}
		snap = c.Snapshot()
		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	h.writeJSON(w, snap)
}

func (h *Hub) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("web: json encode", zap.Error(err))
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrWrongMode),
		errors.Is(err, ErrNoData),
		errors.Is(err, playback.ErrNotLoaded),
		errors.Is(err, playback.ErrEmpty),
		errors.Is(err, recorder.ErrAlreadyRecording),
		errors.Is(err, recorder.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusUnprocessableEntity
	}
}
