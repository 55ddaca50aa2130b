// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_monitor/internal/config"
	"github.com/relabs-tech/tilt_monitor/internal/logfile"
	"github.com/relabs-tech/tilt_monitor/internal/report"
	"github.com/relabs-tech/tilt_monitor/internal/timeutil"
	"github.com/relabs-tech/tilt_monitor/internal/transport"
)

// RunMonitor runs the controller with the web hub and, when a broker is
// configured, the MQTT publisher. It returns after ctx is cancelled and
// everything has shut down.
func RunMonitor(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("starting tilt monitor", zap.String("source", cfg.Source.Kind))

	clock := timeutil.RealClock{}
	dialer, err := transport.NewDialer(cfg.Source, clock)
	if err != nil {
		return err
	}

	hub := NewHub(log.Named("web"))
	obs := Observers{hub}
	if cfg.MQTT.Broker != "" {
		pub, err := DialMQTT(cfg.MQTT, log.Named("mqtt"))
		if err != nil {
			// the web UI still works without a broker
			log.Warn("mqtt disabled", zap.Error(err))
		} else {
			defer pub.Close()
			obs = append(obs, pub)
		}
	}

	ctrl, err := NewController(cfg, dialer, clock, obs, log.Named("controller"))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Web.Address,
		Handler:           hub.Handler(ctrl, cfg.Web.StaticDir),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		log.Info("web server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctrlDone := make(chan error, 1)
	go func() { ctrlDone <- ctrl.Run(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-srvErr:
		if ok {
			runErr = fmt.Errorf("web server: %w", err)
		}
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("web server shutdown", zap.Error(err))
	}
	if err := <-ctrlDone; err != nil && runErr == nil {
		runErr = err
	}
	log.Info("tilt monitor stopped")
	return runErr
}

// RunChart writes an HTML chart of the log at path to outPath, or to
// stdout when outPath is empty or "-".
func RunChart(path, outPath string, cfg *config.Config, log *zap.Logger) error {
	l, err := logfile.Load(path, log.Named("logfile"))
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if outPath != "" && outPath != "-" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create chart: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := report.RenderChart(w, l, cfg.Graph.MaxPoints*4); err != nil {
		return err
	}
	log.Info("chart written", zap.String("log", path), zap.String("out", outPath))
	return nil
}

// RunSummary prints per-axis statistics of the log at path.
func RunSummary(path string, out io.Writer, cfg *config.Config, log *zap.Logger) error {
	l, err := logfile.Load(path, log.Named("logfile"))
	if err != nil {
		return err
	}
	return report.WriteSummary(out, report.Summarize(l, cfg.Velocity.Log))
}
