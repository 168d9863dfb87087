package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envVars = []string{
	"LIVEWAVE_PORT", "LIVEWAVE_SAMPLE_RATE", "LIVEWAVE_BLOCK_SIZE",
	"LIVEWAVE_FRAME_LENGTH", "LIVEWAVE_DURATION", "LIVEWAVE_QUEUE_DEPTH",
	"LIVEWAVE_MAX_INFLIGHT", "LIVEWAVE_FLUSH_ON_SEEK", "LIVEWAVE_DEVICE",
	"LIVEWAVE_FORMULA", "LIVEWAVE_FORMULA_FILE", "LIVEWAVE_LOG_LEVEL", "LIVEWAVE_ENV",
}

func TestLoadDefaults(t *testing.T) {
	for _, k := range envVars {
		os.Unsetenv(k)
	}

	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 44100, cfg.SampleRate)
	assert.Equal(t, 4096, cfg.BlockSize)
	assert.Equal(t, 256, cfg.FrameLength)
	assert.Equal(t, 10.0, cfg.DurationSeconds)
	assert.Equal(t, 8, cfg.QueueDepth)
	assert.Equal(t, 1, cfg.MaxInFlight)
	assert.True(t, cfg.FlushOnSeek)
	assert.Equal(t, "portaudio", cfg.Device)
	assert.Equal(t, DefaultFormula, cfg.Formula)
	assert.Empty(t, cfg.FormulaFile)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "production", cfg.Environment)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LIVEWAVE_PORT", "3000")
	t.Setenv("LIVEWAVE_SAMPLE_RATE", "48000")
	t.Setenv("LIVEWAVE_BLOCK_SIZE", "1024")
	t.Setenv("LIVEWAVE_FRAME_LENGTH", "128")
	t.Setenv("LIVEWAVE_DURATION", "30.5")
	t.Setenv("LIVEWAVE_QUEUE_DEPTH", "4")
	t.Setenv("LIVEWAVE_MAX_INFLIGHT", "2")
	t.Setenv("LIVEWAVE_FLUSH_ON_SEEK", "false")
	t.Setenv("LIVEWAVE_DEVICE", "Clock")
	t.Setenv("LIVEWAVE_FORMULA", "noise()")
	t.Setenv("LIVEWAVE_FORMULA_FILE", "/tmp/live.expr")
	t.Setenv("LIVEWAVE_LOG_LEVEL", "debug")
	t.Setenv("LIVEWAVE_ENV", "development")

	cfg := Load()

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, 48000, cfg.SampleRate)
	assert.Equal(t, 1024, cfg.BlockSize)
	assert.Equal(t, 128, cfg.FrameLength)
	assert.Equal(t, 30.5, cfg.DurationSeconds)
	assert.Equal(t, 4, cfg.QueueDepth)
	assert.Equal(t, 2, cfg.MaxInFlight)
	assert.False(t, cfg.FlushOnSeek)
	assert.Equal(t, "clock", cfg.Device)
	assert.Equal(t, "noise()", cfg.Formula)
	assert.Equal(t, "/tmp/live.expr", cfg.FormulaFile)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "development", cfg.Environment)
	require.NoError(t, cfg.Validate())
}

func TestEnvInvalidFallsBack(t *testing.T) {
	t.Setenv("LIVEWAVE_PORT", "not-a-number")
	t.Setenv("LIVEWAVE_DURATION", "ten")
	t.Setenv("LIVEWAVE_FLUSH_ON_SEEK", "maybe")
	cfg := Load()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10.0, cfg.DurationSeconds)
	assert.True(t, cfg.FlushOnSeek)
}

func TestValidate(t *testing.T) {
	base := Config{
		SampleRate: 44100, BlockSize: 4096, FrameLength: 256, DurationSeconds: 10,
		QueueDepth: 8, MaxInFlight: 1, Device: "clock",
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"negative block", func(c *Config) { c.BlockSize = -1 }},
		{"frame longer than block", func(c *Config) { c.FrameLength = 8192 }},
		{"zero duration", func(c *Config) { c.DurationSeconds = 0 }},
		{"zero queue", func(c *Config) { c.QueueDepth = 0 }},
		{"inflight above queue", func(c *Config) { c.MaxInFlight = 9 }},
		{"unknown device", func(c *Config) { c.Device = "alsa" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
