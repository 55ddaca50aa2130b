// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_monitor/internal/config"
)

const (
	mqttQueueSize      = 256
	mqttPublishTimeout = 2 * time.Second
)

// publisher is the part of mqtt.Client the publisher needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type mqttMessage struct {
	topic    string
	retained bool
	payload  []byte
}

// MQTTPublisher is an Observer that mirrors frames, graphs and notices to
// an MQTT broker. Publishing happens on its own goroutine; when the broker
// falls behind messages are dropped instead of stalling the controller.
type MQTTPublisher struct {
	client publisher
	cfg    config.MQTTConfig
	log    *zap.Logger

	queue chan mqttMessage
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
}

// mqttClientID makes the configured id unique so a monitor and a console
// can share a broker.
func mqttClientID(base string) string {
	return base + "-" + uuid.NewString()[:8]
}

// DialMQTT connects to cfg.Broker and returns a running publisher.
func DialMQTT(cfg config.MQTTConfig, log *zap.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(mqttClientID(cfg.ClientID)).
		SetAutoReconnect(true).
		SetConnectRetry(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	log.Info("mqtt: connected", zap.String("broker", cfg.Broker))

	p := newMQTTPublisher(client, cfg, log)
	return p, nil
}

func newMQTTPublisher(client publisher, cfg config.MQTTConfig, log *zap.Logger) *MQTTPublisher {
	p := &MQTTPublisher{
		client: client,
		cfg:    cfg,
		log:    log,
		queue:  make(chan mqttMessage, mqttQueueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *MQTTPublisher) run() {
	defer close(p.done)
	for m := range p.queue {
		token := p.client.Publish(m.topic, 0, m.retained, m.payload)
		if !token.WaitTimeout(mqttPublishTimeout) {
			p.log.Warn("mqtt: publish timed out", zap.String("topic", m.topic))
			continue
		}
		if err := token.Error(); err != nil {
			p.log.Warn("mqtt: publish", zap.String("topic", m.topic), zap.Error(err))
		}
	}
}

// OnFrame publishes f without its graph, and the graph on its own topic
// when present.
func (p *MQTTPublisher) OnFrame(f Frame) {
	g := f.Graph
	f.Graph = nil
	p.enqueue(p.cfg.TopicFrame, p.cfg.RetainFrames, f)
	if g != nil && p.cfg.PublishGraphs {
		p.enqueue(p.cfg.TopicGraph, p.cfg.RetainFrames, g)
	}
}

// OnNotice publishes n.
func (p *MQTTPublisher) OnNotice(n Notice) {
	p.enqueue(p.cfg.TopicNotice, false, n)
}

func (p *MQTTPublisher) enqueue(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Warn("mqtt: marshal", zap.String("topic", topic), zap.Error(err))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- mqttMessage{topic: topic, retained: retained, payload: payload}:
	default:
		p.dropped++
		p.log.Debug("mqtt: queue full, message dropped", zap.String("topic", topic), zap.Int("dropped", p.dropped))
	}
}

// Dropped reports how many messages were discarded because the queue was
// full.
func (p *MQTTPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close drains the queue and disconnects. Frames arriving afterwards are
// ignored.
func (p *MQTTPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	if c, ok := p.client.(mqtt.Client); ok {
		c.Disconnect(250)
	}
}
