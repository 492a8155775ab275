package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_EmptyKeepsDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader("# only a comment\n\n"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, "http://143.248.143.65:5555/", cfg.SocketIOURL)
	assert.Equal(t, "animation_data", cfg.SocketIOEvent)
	assert.Equal(t, 10, cfg.StepInterval)
	assert.Equal(t, VariantStateful, cfg.ModelVariant)
}

func TestParse_Overrides(t *testing.T) {
	in := `
MODEL_VARIANT = stateless
ENGINE=mock
STEP_INTERVAL_MS=25
START_DELAY_MS=0
FAILURE_POLICY=retry
MAX_STEP_RETRIES=5
MQTT_BROKER=tcp://localhost:1883
WEB_SERVER_PORT=0
RUN_DB_PATH=
`
	cfg, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, VariantStateless, cfg.ModelVariant)
	assert.Equal(t, EngineMock, cfg.Engine)
	assert.Equal(t, 25, cfg.StepInterval)
	assert.Equal(t, 0, cfg.StartDelay)
	assert.Equal(t, PolicyRetry, cfg.FailurePolicy)
	assert.Equal(t, 5, cfg.MaxStepRetries)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, 0, cfg.WebServerPort)
	assert.Empty(t, cfg.RunDBPath)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr string
	}{
		{"missing equals", "MODEL_FILE", "invalid config line 1"},
		{"unknown key", "\nNOPE=1", "config line 2: unknown config key"},
		{"bad variant", "MODEL_VARIANT=bidirectional", "MODEL_VARIANT must be"},
		{"bad interval", "STEP_INTERVAL_MS=fast", "invalid STEP_INTERVAL_MS"},
		{"zero interval", "STEP_INTERVAL_MS=0", "must be positive"},
		{"negative delay", "START_DELAY_MS=-1", "must not be negative"},
		{"bad engine", "ENGINE=tflite", "ENGINE must be"},
		{"bad policy", "FAILURE_POLICY=abort", "FAILURE_POLICY must be"},
		{"bad port", "WEB_SERVER_PORT=70000", "WEB_SERVER_PORT must be"},
		{"empty model", "MODEL_FILE=", "MODEL_FILE is required"},
		{"mqtt without topic", "MQTT_BROKER=tcp://x:1883\nTOPIC_ANIMATION=", "TOPIC_ANIMATION is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pose_config.txt")
	require.NoError(t, os.WriteFile(path, []byte("SOCKETIO_URL=http://localhost:5555/\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5555/", cfg.SocketIOURL)

	_, err = Load(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open config file")
}
