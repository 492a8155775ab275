// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package stream

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mqttPublisher is the part of mqtt.Client the emitter needs.
type mqttPublisher interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTEmitter mirrors events onto MQTT topics.
type MQTTEmitter struct {
	client  mqttPublisher
	topics  map[string]string
	timeout time.Duration
}

// NewMQTTEmitter wraps a client; topics maps event names to topics.
func NewMQTTEmitter(client mqttPublisher, topics map[string]string) *MQTTEmitter {
	return &MQTTEmitter{client: client, topics: topics, timeout: 250 * time.Millisecond}
}

// DialMQTT connects to broker in the background (auto-reconnect) and
// returns an emitter for it. It does not wait for the connection.
func DialMQTT(broker, clientID string, topics map[string]string) *MQTTEmitter {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Printf("mqtt: connected to %s", broker)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("mqtt: connection to %s lost: %v", broker, err)
		})

	client := mqtt.NewClient(opts)
	client.Connect()
	return NewMQTTEmitter(client, topics)
}

// Emit publishes payload on the topic mapped to event with QoS 0.
func (m *MQTTEmitter) Emit(event, payload string) error {
	topic, ok := m.topics[event]
	if !ok {
		return fmt.Errorf("no mqtt topic for event %q", event)
	}
	if !m.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := m.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTTEmitter) Close() error {
	m.client.Disconnect(250)
	return nil
}
