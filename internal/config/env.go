package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envOverlay holds secrets and overrides read from the process environment.
// Secrets are never read from the JSONC file.
type envOverlay struct {
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY"`
	RelayToken     string `envconfig:"LIVESCRIBE_RELAY_TOKEN"`
	Backend        string `envconfig:"LIVESCRIBE_BACKEND"`
	MetricsListen  string `envconfig:"LIVESCRIBE_METRICS_LISTEN"`
}

// loadDotEnv reads a .env file beside the config file into the process
// environment without overriding variables that are already set.
func loadDotEnv(configPath string) (string, error) {
	path := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("load %s: %w", path, err)
	}
	return path, nil
}

func applyEnv(cfg *Config) error {
	var env envOverlay
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	cfg.Deepgram.APIKey = strings.TrimSpace(env.DeepgramAPIKey)
	cfg.Relay.Token = strings.TrimSpace(env.RelayToken)
	if backend := strings.TrimSpace(env.Backend); backend != "" {
		cfg.Backend = strings.ToLower(backend)
	}
	if listen := strings.TrimSpace(env.MetricsListen); listen != "" {
		cfg.Metrics.Listen = listen
	}
	return nil
}
