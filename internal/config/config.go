// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Model variants understood by MODEL_VARIANT.
const (
	VariantStateless = "stateless"
	VariantStateful  = "stateful"
)

// Engines understood by ENGINE.
const (
	EngineONNX = "onnx"
	EngineMock = "mock"
)

// Failure policies understood by FAILURE_POLICY.
const (
	PolicySkip  = "skip"
	PolicyRetry = "retry"
)

// Config holds all application configuration values.
type Config struct {
	// Assets
	AssetDir string // bundled (read-only) resources
	DataDir  string // writable local copies
	AccFile  string
	OriFile  string

	// Model
	ModelFile       string
	ModelVariant    string // "stateless" or "stateful"
	ONNXLibraryPath string // onnxruntime shared library; empty uses the runtime default
	Engine          string // "onnx" or "mock"

	// Loop timing
	StepInterval int // milliseconds
	StartDelay   int // milliseconds

	// Per-step failure handling
	FailurePolicy  string // "skip" or "retry"
	MaxStepRetries int

	// Socket.IO visualization server
	SocketIOURL   string
	SocketIOEvent string

	// MQTT (optional mirror; empty broker disables it)
	MQTTBroker           string
	MQTTClientIDStreamer string
	MQTTClientIDConsole  string
	MQTTClientIDWeb      string

	// Topics
	TopicAnimation string
	TopicStatus    string

	// Web Server (0 disables it)
	WebServerPort int

	// Run history database (empty disables it)
	RunDBPath string
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal() and Get().
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults returns the configuration used when no file overrides a key.
// The values mirror the fixed literals of the mobile demo.
func Defaults() *Config {
	return &Config{
		AssetDir:             "assets",
		DataDir:              "data",
		AccFile:              "acc_240521.json",
		OriFile:              "ori_240521.json",
		ModelFile:            "transpose_net_241230.onnx",
		ModelVariant:         VariantStateful,
		Engine:               EngineONNX,
		StepInterval:         10,
		StartDelay:           1000,
		FailurePolicy:        PolicySkip,
		MaxStepRetries:       3,
		SocketIOURL:          "http://143.248.143.65:5555/",
		SocketIOEvent:        "animation_data",
		MQTTClientIDStreamer: "pose-streamer",
		MQTTClientIDConsole:  "pose-console-subscriber",
		MQTTClientIDWeb:      "pose-web-subscriber",
		TopicAnimation:       "pose/animation_data",
		TopicStatus:          "pose/status",
		WebServerPort:        8080,
		RunDBPath:            "pose_runs.db",
	}
}

// Load reads the configuration file and returns a Config struct.
// Keys missing from the file keep their default value.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads KEY=VALUE lines from r on top of Defaults().
func Parse(r io.Reader) (*Config, error) {
	cfg := Defaults()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// Assets
	case "ASSET_DIR":
		c.AssetDir = value
	case "DATA_DIR":
		c.DataDir = value
	case "ACC_FILE":
		c.AccFile = value
	case "ORI_FILE":
		c.OriFile = value

	// Model
	case "MODEL_FILE":
		c.ModelFile = value
	case "MODEL_VARIANT":
		if value != VariantStateless && value != VariantStateful {
			return fmt.Errorf("MODEL_VARIANT must be %q or %q, got %q", VariantStateless, VariantStateful, value)
		}
		c.ModelVariant = value
	case "ONNX_LIBRARY_PATH":
		c.ONNXLibraryPath = value
	case "ENGINE":
		if value != EngineONNX && value != EngineMock {
			return fmt.Errorf("ENGINE must be %q or %q, got %q", EngineONNX, EngineMock, value)
		}
		c.Engine = value

	// Loop timing
	case "STEP_INTERVAL_MS":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid STEP_INTERVAL_MS %q: %w", value, err)
		}
		if interval <= 0 {
			return fmt.Errorf("STEP_INTERVAL_MS must be positive, got %d", interval)
		}
		c.StepInterval = interval
	case "START_DELAY_MS":
		delay, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid START_DELAY_MS %q: %w", value, err)
		}
		if delay < 0 {
			return fmt.Errorf("START_DELAY_MS must not be negative, got %d", delay)
		}
		c.StartDelay = delay

	// Failure handling
	case "FAILURE_POLICY":
		if value != PolicySkip && value != PolicyRetry {
			return fmt.Errorf("FAILURE_POLICY must be %q or %q, got %q", PolicySkip, PolicyRetry, value)
		}
		c.FailurePolicy = value
	case "MAX_STEP_RETRIES":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MAX_STEP_RETRIES %q: %w", value, err)
		}
		if n < 0 {
			return fmt.Errorf("MAX_STEP_RETRIES must not be negative, got %d", n)
		}
		c.MaxStepRetries = n

	// Socket.IO
	case "SOCKETIO_URL":
		c.SocketIOURL = value
	case "SOCKETIO_EVENT":
		c.SocketIOEvent = value

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_STREAMER":
		c.MQTTClientIDStreamer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value

	// Topics
	case "TOPIC_ANIMATION":
		c.TopicAnimation = value
	case "TOPIC_STATUS":
		c.TopicStatus = value

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		if port < 0 || port > 65535 {
			return fmt.Errorf("WEB_SERVER_PORT must be 0-65535, got %d", port)
		}
		c.WebServerPort = port

	// Run history
	case "RUN_DB_PATH":
		c.RunDBPath = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.AccFile == "" {
		return fmt.Errorf("ACC_FILE is required")
	}
	if c.OriFile == "" {
		return fmt.Errorf("ORI_FILE is required")
	}
	if c.ModelFile == "" {
		return fmt.Errorf("MODEL_FILE is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.SocketIOEvent == "" {
		return fmt.Errorf("SOCKETIO_EVENT is required")
	}
	if c.MQTTBroker != "" && c.TopicAnimation == "" {
		return fmt.Errorf("TOPIC_ANIMATION is required when MQTT_BROKER is set")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// An empty path installs Defaults(). Only the first call has any effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		if configPath == "" {
			globalConfig = Defaults()
			return
		}
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
