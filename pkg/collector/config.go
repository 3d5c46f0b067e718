package collector

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the collector's YAML configuration file.
type Config struct {
	SteamProfileURL string `yaml:"steam_profile_url"`
	PreSharedKey    string `yaml:"pre_shared_key"`
}

// LoadConfig reads and parses a config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.SteamProfileURL == "" {
		return nil, fmt.Errorf("config missing steam_profile_url")
	}
	if cfg.PreSharedKey == "" {
		return nil, fmt.Errorf("config missing pre_shared_key")
	}

	return &cfg, nil
}
