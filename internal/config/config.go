package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Engine behavior
	TickInterval time.Duration // position tick period while a deck plays
	FetchTimeout time.Duration // per-load fetch+decode budget
	DefaultCurve string        // crossfader curve at startup

	// Logging
	LogLevel string
	LogFile  string // empty: stdout only

	// Object storage for s3:// stem refs
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3Region    string

	// Monitor stream
	MP3Bitrate  string // ffmpeg -b:a value
	OpusBitrate int    // bits per second
}

// LoadEnvFile loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port: envInt("STEMDECK_PORT", 8080),

		TickInterval: time.Duration(envInt("STEMDECK_TICK_INTERVAL_MS", 50)) * time.Millisecond,
		FetchTimeout: envDuration("STEMDECK_FETCH_TIMEOUT", 60*time.Second),
		DefaultCurve: envStr("STEMDECK_DEFAULT_CURVE", "linear"),

		LogLevel: envStr("STEMDECK_LOG_LEVEL", "info"),
		LogFile:  envStr("STEMDECK_LOG_FILE", ""),

		S3Endpoint:  envStr("STEMDECK_S3_ENDPOINT", ""),
		S3AccessKey: envStr("STEMDECK_S3_ACCESS_KEY", ""),
		S3SecretKey: envStr("STEMDECK_S3_SECRET_KEY", ""),
		S3UseSSL:    envBool("STEMDECK_S3_USE_SSL", false),
		S3Region:    envStr("STEMDECK_S3_REGION", ""),

		MP3Bitrate:  envStr("STEMDECK_MP3_BITRATE", "192k"),
		OpusBitrate: envInt("STEMDECK_OPUS_BITRATE", 128000),
	}
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

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
