package config

import (
	"os"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Data    DataConfig    `yaml:"data" json:"data"`

	// Sync holds the raw key/value sync settings, coerced and validated
	// once by the settings package.
	Sync map[string]string `yaml:"sync" json:"sync"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" json:"format" envconfig:"FORMAT"`
	Output string `yaml:"output" json:"output" envconfig:"OUTPUT"`
}

type DataConfig struct {
	// Dir holds the embedded identity store, the sync record ledger and
	// the audit log.
	Dir string `yaml:"dir" json:"dir" envconfig:"DATA_DIR"`
}

func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Data: DataConfig{
			Dir: "/var/lib/dirsync",
		},
		Sync: map[string]string{},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
