package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultFormula is played when nothing else has been supplied.
const DefaultFormula = "return sin(t * 440 * 2 * Math.PI);"

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Transport
	SampleRate      int
	BlockSize       int     // samples per generated block
	FrameLength     int     // samples per visualization frame
	DurationSeconds float64 // seek range

	// Pipeline tuning
	QueueDepth  int  // ready blocks held between generator and consumer
	MaxInFlight int  // outstanding generation requests
	FlushOnSeek bool // drop blocks generated before a seek

	// Output
	Device string // portaudio, oto or clock

	// Formula
	Formula     string
	FormulaFile string // watched for edits when set

	// Logging
	LogLevel    string
	Environment string
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port: envInt("LIVEWAVE_PORT", 8080),

		SampleRate:      envInt("LIVEWAVE_SAMPLE_RATE", 44100),
		BlockSize:       envInt("LIVEWAVE_BLOCK_SIZE", 4096),
		FrameLength:     envInt("LIVEWAVE_FRAME_LENGTH", 256),
		DurationSeconds: envFloat("LIVEWAVE_DURATION", 10),

		QueueDepth:  envInt("LIVEWAVE_QUEUE_DEPTH", 8),
		MaxInFlight: envInt("LIVEWAVE_MAX_INFLIGHT", 1),
		FlushOnSeek: envBool("LIVEWAVE_FLUSH_ON_SEEK", true),

		Device: strings.ToLower(envStr("LIVEWAVE_DEVICE", "portaudio")),

		Formula:     envStr("LIVEWAVE_FORMULA", DefaultFormula),
		FormulaFile: envStr("LIVEWAVE_FORMULA_FILE", ""),

		LogLevel:    envStr("LIVEWAVE_LOG_LEVEL", "info"),
		Environment: envStr("LIVEWAVE_ENV", "production"),
	}
}

// Validate reports settings the pipeline cannot run with.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	case c.BlockSize <= 0:
		return fmt.Errorf("block size must be positive, got %d", c.BlockSize)
	case c.FrameLength <= 0 || c.FrameLength > c.BlockSize:
		return fmt.Errorf("frame length must be in 1..%d, got %d", c.BlockSize, c.FrameLength)
	case c.DurationSeconds <= 0:
		return fmt.Errorf("duration must be positive, got %v", c.DurationSeconds)
	case c.QueueDepth <= 0:
		return fmt.Errorf("queue depth must be positive, got %d", c.QueueDepth)
	case c.MaxInFlight <= 0 || c.MaxInFlight > c.QueueDepth:
		return fmt.Errorf("max in-flight must be in 1..%d, got %d", c.QueueDepth, c.MaxInFlight)
	}
	switch c.Device {
	case "portaudio", "oto", "clock":
	default:
		return fmt.Errorf("unknown device %q", c.Device)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
