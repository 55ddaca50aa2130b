// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_monitor/internal/config"
	"github.com/relabs-tech/tilt_monitor/internal/graph"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  string
}

type fakeBroker struct {
	mu    sync.Mutex
	got   []published
	block chan struct{}
}

func (b *fakeBroker) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	b.got = append(b.got, published{topic, retained, string(payload.([]byte))})
	b.mu.Unlock()
	return doneToken{}
}

func (b *fakeBroker) messages() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.got...)
}

func TestMQTTPublisherTopics(t *testing.T) {
	cfg := config.Default().MQTT
	cfg.PublishGraphs = true
	b := &fakeBroker{}
	p := newMQTTPublisher(b, cfg, zap.NewNop())

	p.OnFrame(Frame{Mode: ModeLog, HasData: true, Graph: &graph.Window{End: 1000, Width: 1000}})
	p.OnFrame(Frame{Mode: ModeLive})
	p.OnNotice(Notice{Level: NoticeInfo, Message: "connected"})
	p.Close()
	p.Close()
	p.OnNotice(Notice{Message: "after close"})

	got := b.messages()
	require.Len(t, got, 4)

	assert.Equal(t, cfg.TopicFrame, got[0].topic)
	assert.Equal(t, cfg.RetainFrames, got[0].retained)
	assert.NotContains(t, got[0].payload, `"graph"`)
	var f Frame
	require.NoError(t, json.Unmarshal([]byte(got[0].payload), &f))
	assert.Equal(t, ModeLog, f.Mode)

	assert.Equal(t, cfg.TopicGraph, got[1].topic)
	assert.Contains(t, got[1].payload, `"end":1000`)

	assert.Equal(t, cfg.TopicFrame, got[2].topic)

	assert.Equal(t, cfg.TopicNotice, got[3].topic)
	assert.False(t, got[3].retained)
	assert.Contains(t, got[3].payload, "connected")
}

func TestMQTTPublisherDropsWhenBehind(t *testing.T) {
	b := &fakeBroker{block: make(chan struct{})}
	p := newMQTTPublisher(b, config.Default().MQTT, zap.NewNop())

	// one message held by the worker plus a full queue
	for i := 0; i < mqttQueueSize+5; i++ {
		p.OnNotice(Notice{Message: "n"})
	}
	assert.GreaterOrEqual(t, p.Dropped(), 4)

	close(b.block)
	p.Close()
	assert.Equal(t, mqttQueueSize+5-p.Dropped(), len(b.messages()))
}

func TestMQTTClientIDIsUnique(t *testing.T) {
	a, b := mqttClientID("tilt"), mqttClientID("tilt")
	assert.True(t, strings.HasPrefix(a, "tilt-"))
	assert.NotEqual(t, a, b)
}
