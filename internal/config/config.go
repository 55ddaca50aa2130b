// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/tilt_monitor/internal/velocity"
)

// Source kinds.
const (
	SourceSerial = "serial"
	SourceTCP    = "tcp"
	SourceMock   = "mock"
)

// Config holds all application configuration values.
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	History   HistoryConfig   `yaml:"history"`
	Velocity  VelocityConfig  `yaml:"velocity"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Graph     GraphConfig     `yaml:"graph"`
	Recording RecordingConfig `yaml:"recording"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Web       WebConfig       `yaml:"web"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SourceConfig selects and tunes the live transport.
type SourceConfig struct {
	Kind   string       `yaml:"kind"` // serial, tcp or mock
	Serial SerialConfig `yaml:"serial"`
	TCP    TCPConfig    `yaml:"tcp"`

	AutoReconnect     bool          `yaml:"auto_reconnect"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	// RelativeTime lets elapsed time stand in for missing record timestamps.
	RelativeTime bool `yaml:"relative_time"`
}

type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

type TCPConfig struct {
	Address        string        `yaml:"address"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

type VelocityConfig struct {
	Live velocity.LiveConfig `yaml:"live"`
	Log  velocity.LogConfig  `yaml:"log"`
}

type PlaybackConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

type GraphConfig struct {
	WindowSeconds float64 `yaml:"window_seconds"`
	MaxPoints     int     `yaml:"max_points"`
}

type RecordingConfig struct {
	Directory string `yaml:"directory"`
}

// MQTTConfig is optional; an empty broker disables publishing.
type MQTTConfig struct {
	Broker        string `yaml:"broker"`
	ClientID      string `yaml:"client_id"`
	TopicFrame    string `yaml:"topic_frame"`
	TopicGraph    string `yaml:"topic_graph"`
	TopicNotice   string `yaml:"topic_notice"`
	RetainFrames  bool   `yaml:"retain_frames"`
	PublishGraphs bool   `yaml:"publish_graphs"`
}

type WebConfig struct {
	Address   string `yaml:"address"`
	StaticDir string `yaml:"static_dir"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // empty: console only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Console    bool   `yaml:"console"`
}

// Process-wide configuration: InitGlobal sets it once, Get reads it under
// a read lock.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a configuration that runs against the synthetic source.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Kind:              SourceMock,
			Serial:            SerialConfig{Port: "/dev/ttyUSB0", BaudRate: 115200},
			TCP:               TCPConfig{Address: "192.168.4.1:8080", ConnectTimeout: 3 * time.Second},
			AutoReconnect:     true,
			ReconnectInterval: 5 * time.Second,
			RelativeTime:      true,
		},
		History:  HistoryConfig{Capacity: 2000},
		Velocity: VelocityConfig{Live: velocity.DefaultLiveConfig(), Log: velocity.DefaultLogConfig()},
		Playback: PlaybackConfig{TickInterval: 16 * time.Millisecond},
		Graph:    GraphConfig{WindowSeconds: 10, MaxPoints: 250},
		Recording: RecordingConfig{
			Directory: "research",
		},
		MQTT: MQTTConfig{
			ClientID:      "tiltmon",
			TopicFrame:    "tilt/frame",
			TopicGraph:    "tilt/graph",
			TopicNotice:   "tilt/notice",
			RetainFrames:  true,
			PublishGraphs: true,
		},
		Web: WebConfig{Address: ":8080", StaticDir: "web"},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Console:    true,
		},
	}
}

// Load reads the YAML file at configPath over the defaults.
// An empty path returns the defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Source.Kind {
	case SourceSerial:
		if c.Source.Serial.Port == "" {
			return fmt.Errorf("source.serial.port is required")
		}
		if c.Source.Serial.BaudRate <= 0 {
			return fmt.Errorf("source.serial.baud_rate must be positive, got %d", c.Source.Serial.BaudRate)
		}
	case SourceTCP:
		if c.Source.TCP.Address == "" {
			return fmt.Errorf("source.tcp.address is required")
		}
	case SourceMock:
	default:
		return fmt.Errorf("source.kind must be serial, tcp or mock, got %q", c.Source.Kind)
	}
	if c.Source.AutoReconnect && c.Source.ReconnectInterval <= 0 {
		return fmt.Errorf("source.reconnect_interval must be positive when auto_reconnect is on")
	}
	if c.History.Capacity < 2 {
		return fmt.Errorf("history.capacity must be at least 2, got %d", c.History.Capacity)
	}
	if err := c.Velocity.Live.Validate(); err != nil {
		return fmt.Errorf("velocity.live: %w", err)
	}
	if err := c.Velocity.Log.Validate(); err != nil {
		return fmt.Errorf("velocity.log: %w", err)
	}
	if c.Playback.TickInterval <= 0 {
		return fmt.Errorf("playback.tick_interval must be positive")
	}
	if c.Graph.WindowSeconds <= 0 {
		return fmt.Errorf("graph.window_seconds must be positive, got %g", c.Graph.WindowSeconds)
	}
	if c.Graph.MaxPoints < 2 {
		return fmt.Errorf("graph.max_points must be at least 2, got %d", c.Graph.MaxPoints)
	}
	if c.Recording.Directory == "" {
		return fmt.Errorf("recording.directory is required")
	}
	if c.MQTT.Broker != "" && c.MQTT.TopicFrame == "" {
		return fmt.Errorf("mqtt.topic_frame is required when mqtt.broker is set")
	}
	return nil
}

// GraphWindowMs is the display window in milliseconds.
func (c *Config) GraphWindowMs() int64 {
	return int64(c.Graph.WindowSeconds * 1000)
}

// InitGlobal initializes the global configuration from file.
// Only the first call has any effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
