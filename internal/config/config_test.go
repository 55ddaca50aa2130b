// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiltmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, int64(10_000), cfg.GraphWindowMs())
}

func TestLoadOverlay(t *testing.T) {
	path := writeConfig(t, `
source:
  kind: tcp
  tcp:
    address: 10.0.0.5:9000
  reconnect_interval: 2s
velocity:
  live:
    points: 12
mqtt:
  broker: tcp://localhost:1883
logging:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, SourceTCP, cfg.Source.Kind)
	assert.Equal(t, "10.0.0.5:9000", cfg.Source.TCP.Address)
	assert.Equal(t, 3*time.Second, cfg.Source.TCP.ConnectTimeout)
	assert.Equal(t, 2*time.Second, cfg.Source.ReconnectInterval)
	assert.Equal(t, 12, cfg.Velocity.Live.Points)
	assert.Equal(t, 4.0, cfg.Velocity.Live.FrequencyHz)
	assert.Equal(t, "tilt/frame", cfg.MQTT.TopicFrame)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejects(t *testing.T) {
	tests := map[string]string{
		"unknown kind":      "source:\n  kind: bluetooth\n",
		"serial no port":    "source:\n  kind: serial\n  serial:\n    port: \"\"\n",
		"live points range": "velocity:\n  live:\n    points: 100\n",
		"log window range":  "velocity:\n  log:\n    window_seconds: 9\n",
		"tiny history":      "history:\n  capacity: 1\n",
		"bad yaml":          "source: [\n",
		"no recording dir":  "recording:\n  directory: \"\"\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
