package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"caravel/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/caravel"
	configFileName = "config.yaml"
)

// GetDefaultConfigPathOrPanic returns the user-level config directory.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads configuration from the given directory. A missing
// config.yaml is not an error; defaults apply. A malformed or invalid
// config.yaml is.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	cfg := Config{}

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("Config", "No config.yaml found at %s, using defaults", configFilePath)
			applyDefaults(&cfg)
			return cfg, nil
		}
		return Config{}, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}

	applyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config at %s: %w", configFilePath, err)
	}

	logging.Info("Config", "Loaded configuration from %s", configFilePath)
	return cfg, nil
}
