// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/pose_streamer/internal/config"
	"github.com/relabs-tech/pose_streamer/internal/status"
	"github.com/relabs-tech/pose_streamer/internal/stream"
)

// relay re-serves frames a streamer mirrors to MQTT, so viewers can watch
// from another machine without running inference.
type relay struct {
	hub   *stream.Hub
	board *status.Board

	mu   sync.RWMutex
	last frameResponse
	have bool
}

type frameResponse struct {
	Pose []float32 `json:"pose"`
	Tran []float32 `json:"tran"`
}

func newRelay() *relay {
	return &relay{hub: stream.NewHub(64), board: status.NewBoard()}
}

func (r *relay) handleFrame(payload []byte) error {
	pose, tran, err := stream.ParsePayload(string(payload))
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.last = frameResponse{Pose: pose, Tran: tran}
	r.have = true
	r.mu.Unlock()
	return r.hub.Emit(stream.EventAnimation, string(payload))
}

func (r *relay) handleStatus(payload []byte) {
	r.board.Set(string(payload))
	_ = r.hub.Emit(stream.EventStatus, string(payload))
}

func (r *relay) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", r.hub)

	// JSON API endpoint: latest frame
	mux.HandleFunc("/api/frame", func(w http.ResponseWriter, req *http.Request) {
		r.mu.RLock()
		defer r.mu.RUnlock()

		if !r.have {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, r.last)
	})

	mux.HandleFunc("/status.png", func(w http.ResponseWriter, req *http.Request) {
		text, _ := r.board.Text()
		w.Header().Set("Content-Type", "image/png")
		if err := status.RenderPNG(w, text); err != nil {
			log.Printf("web: status png: %v", err)
		}
	})
	return mux
}

// RunWeb serves the relay viewer on WEB_SERVER_PORT, fed from the MQTT
// mirror of a running streamer.
func RunWeb() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialized")
	}
	if cfg.MQTTBroker == "" {
		return errors.New("MQTT_BROKER is not set")
	}
	if cfg.WebServerPort == 0 {
		return errors.New("WEB_SERVER_PORT is 0")
	}

	r := newRelay()
	defer r.hub.Close()

	// 1) Connect to MQTT broker
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("connected to MQTT broker at %s", cfg.MQTTBroker)

	// 2) Subscribe to frames and status, updating the latest values
	token := client.Subscribe(cfg.TopicAnimation, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := r.handleFrame(msg.Payload()); err != nil {
			log.Printf("MQTT payload parse error: %v", err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("subscribed to MQTT topic %s", cfg.TopicAnimation)

	token = client.Subscribe(cfg.TopicStatus, 0, func(_ mqtt.Client, msg mqtt.Message) {
		r.handleStatus(msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("subscribed to MQTT topic %s", cfg.TopicStatus)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, r.mux())
}
