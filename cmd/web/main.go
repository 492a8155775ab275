// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/pose_streamer/internal/app"
	"github.com/relabs-tech/pose_streamer/internal/config"
)

func main() {
	configPath := flag.String("config", "pose_config.txt", "configuration file")
	flag.Parse()

	log.Println("starting pose web relay (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Println("Note: frames only arrive while a streamer runs with MQTT_BROKER set")

	if err := app.RunWeb(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
