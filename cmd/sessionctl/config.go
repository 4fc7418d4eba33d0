package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/medimantra/telehealth/pkg/config"
)

const (
	minTimeout = 10 * time.Second
	maxTimeout = 30 * time.Second
)

// Config holds the client settings. Flags override the environment.
type Config struct {
	APIURL    string        `env:"SESSION_API_URL" envDefault:"http://localhost:5000/api"`
	Timeout   time.Duration `env:"SESSION_TIMEOUT" envDefault:"15s"`
	StorePath string        `env:"SESSION_STORE_PATH"`
	LogLevel  string        `env:"SESSION_LOG_LEVEL" envDefault:"warn"`
}

func loadConfig(environment map[string]string) (*Config, error) {
	cfg := &Config{}
	var err error
	if environment == nil {
		err = config.Load(cfg)
	} else {
		err = config.LoadFrom(cfg, environment)
	}
	if err != nil {
		return nil, err
	}
	if cfg.StorePath == "" {
		if cfg.StorePath, err = defaultStorePath(); err != nil {
			return nil, err
		}
	}
	cfg.Timeout = clampTimeout(cfg.Timeout)
	return cfg, nil
}

// clampTimeout keeps request timeouts between 10s and 30s.
func clampTimeout(d time.Duration) time.Duration {
	switch {
	case d < minTimeout:
		return minTimeout
	case d > maxTimeout:
		return maxTimeout
	}
	return d
}

func defaultStorePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(dir, "telehealth", "session.json"), nil
}
