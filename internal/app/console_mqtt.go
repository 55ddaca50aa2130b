// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_monitor/internal/config"
	"github.com/relabs-tech/tilt_monitor/internal/timeutil"
)

// RunConsole prints frames and notices published by a running monitor
// until ctx is cancelled.
func RunConsole(ctx context.Context, cfg config.MQTTConfig, out io.Writer, log *zap.Logger) error {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(mqttClientID(cfg.ClientID + "-console"))

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	defer client.Disconnect(250)
	log.Info("console: connected", zap.String("broker", cfg.Broker))

	printer := NewConsolePrinter(out, timeutil.RealClock{}, 100*time.Millisecond)
	if err := subscribe(client, cfg.TopicFrame, func(payload []byte) error {
		var f Frame
		if err := json.Unmarshal(payload, &f); err != nil {
			return err
		}
		printer.OnFrame(f)
		return nil
	}, log); err != nil {
		return err
	}
	if err := subscribe(client, cfg.TopicNotice, func(payload []byte) error {
		var n Notice
		if err := json.Unmarshal(payload, &n); err != nil {
			return err
		}
		printer.OnNotice(n)
		return nil
	}, log); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("console: shutting down")
	return nil
}

func subscribe(client mqtt.Client, topic string, handle func([]byte) error, log *zap.Logger) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := handle(msg.Payload()); err != nil {
			log.Warn("console: bad payload", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	log.Info("console: subscribed", zap.String("topic", topic))
	return nil
}
