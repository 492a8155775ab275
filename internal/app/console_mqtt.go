// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/pose_streamer/internal/config"
	"github.com/relabs-tech/pose_streamer/internal/stream"
)

// RunConsoleMQTT prints the frames and status lines a streamer mirrors to
// the MQTT broker.
func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialized")
	}
	if cfg.MQTTBroker == "" {
		return errors.New("MQTT_BROKER is not set")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	// Subscribe to animation frames
	frameToken := client.Subscribe(cfg.TopicAnimation, 0, func(_ mqtt.Client, msg mqtt.Message) {
		line, err := describeFrame(msg.Payload())
		if err != nil {
			log.Printf("console: frame parse error: %v", err)
			return
		}
		fmt.Println(line)
	})
	frameToken.Wait()
	if frameToken.Error() != nil {
		return frameToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicAnimation)

	// Subscribe to status lines
	statusToken := client.Subscribe(cfg.TopicStatus, 0, func(_ mqtt.Client, msg mqtt.Message) {
		fmt.Printf("[STAT] %s\n", firstLine(string(msg.Payload()), 100))
	})
	statusToken.Wait()
	if statusToken.Error() != nil {
		return statusToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicStatus)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

// describeFrame renders one animation payload as a console line.
func describeFrame(payload []byte) (string, error) {
	pose, tran, err := stream.ParsePayload(string(payload))
	if err != nil {
		return "", err
	}
	line := fmt.Sprintf("[POSE] values=%3d", len(pose))
	if len(tran) == 3 {
		line += fmt.Sprintf("  TRAN x=%8.4f y=%8.4f z=%8.4f", tran[0], tran[1], tran[2])
	} else {
		line += fmt.Sprintf("  TRAN %v", tran)
	}
	return line, nil
}

func firstLine(s string, limit int) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}
