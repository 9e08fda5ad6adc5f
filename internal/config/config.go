// Package config loads application configuration from environment variables
// and the forwarding-pair file.
package config

import (
	"os"
	"strconv"
)

// Config holds all application configuration.
type Config struct {
	// instance
	InstanceID int

	// qq gateway
	OneBotWSURL       string
	OneBotAccessToken string

	// telegram
	TGApiID   int
	TGApiHash string

	// persistence
	DatabasePath string

	// media
	TempDir        string
	CacheDir       string
	SharedMediaDir string // filesystem visible to the gateway, "" = serve over http
	FileServerAddr string
	FileServerURL  string
	ImageBudget    int

	// external encoders
	TGSEncoderArgv []string

	// forwarding pairs
	PairsFile string

	// events
	NatsURL string

	// logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		InstanceID:        getEnvInt("INSTANCE_ID", 0),
		OneBotWSURL:       getEnv("ONEBOT_WS_URL", "ws://localhost:3001"),
		OneBotAccessToken: getEnv("ONEBOT_ACCESS_TOKEN", ""),
		TGApiID:           getEnvInt("TG_API_ID", 0),
		TGApiHash:         getEnv("TG_API_HASH", ""),
		DatabasePath:      getEnv("DATABASE_PATH", "./data/napgram.db"),
		TempDir:           getEnv("TEMP_DIR", "./data/tmp"),
		CacheDir:          getEnv("CACHE_DIR", "./data/cache"),
		SharedMediaDir:    getEnv("SHARED_MEDIA_DIR", ""),
		FileServerAddr:    getEnv("FILE_SERVER_ADDR", "127.0.0.1:3721"),
		FileServerURL:     getEnv("FILE_SERVER_URL", "http://127.0.0.1:3721"),
		ImageBudget:       getEnvInt("IMAGE_BUDGET", 0),
		PairsFile:         getEnv("PAIRS_FILE", "./pairs.yaml"),
		NatsURL:           getEnv("NATS_URL", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFile:           getEnv("LOG_FILE", ""),
	}

	if argv := getEnv("TGS_ENCODER", "tgs_to_gif {in} --output {out}"); argv != "" {
		cfg.TGSEncoderArgv = splitArgv(argv)
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// splitArgv splits a command line on spaces. Encoder paths with spaces are
// not supported; quote handling is not worth the trouble here.
func splitArgv(s string) []string {
	var out []string
	var cur string
	for _, r := range s {
		if r == ' ' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
