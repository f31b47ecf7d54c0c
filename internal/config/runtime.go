package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// RuntimeConfig holds process-level settings that come from the
// environment. Command-line flags override these values.
type RuntimeConfig struct {
	DBPath      string `env:"ROOMVIEW_DB" env-default:"roomview.db"`
	OutputDir   string `env:"ROOMVIEW_OUTPUT_DIR" env-default:"out"`
	ConfigPath  string `env:"ROOMVIEW_CONFIG" env-default:""`
	LogLevel    string `env:"ROOMVIEW_LOG_LEVEL" env-default:"info"`
	LogFormat   string `env:"ROOMVIEW_LOG_FORMAT" env-default:"console"`
	DebugListen string `env:"ROOMVIEW_DEBUG_LISTEN" env-default:""`
}

// LoadRuntimeConfig reads the runtime settings from environment variables,
// falling back to the env-default values.
func LoadRuntimeConfig() (*RuntimeConfig, error) {
	cfg := &RuntimeConfig{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return nil, fmt.Errorf("ROOMVIEW_LOG_FORMAT must be json or console, got %q", cfg.LogFormat)
	}
	return cfg, nil
}
