package provider

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/unit-tools/traefik-unit-provider/pkg/errors"
)

// DefaultOutputDir is where generated artifacts land unless
// configured otherwise.
const DefaultOutputDir = "/etc/traefik/dynamic/units"

// Config represents the top-level configuration file structure
type Config struct {
	Provider ConfigOptions `yaml:"provider"`
}

// ConfigOptions represents provider-level configuration
type ConfigOptions struct {
	OutputDir  string `yaml:"output_dir"`
	StatusAddr string `yaml:"status_addr,omitempty"`
	LogLevel   string `yaml:"log_level,omitempty"`
}

// LoadConfigFromFile loads provider configuration from a YAML file
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewParseError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	return &config, nil
}

func setConfigDefaults(config *Config) {
	if config.Provider.OutputDir == "" {
		config.Provider.OutputDir = DefaultOutputDir
	}
	if config.Provider.LogLevel == "" {
		config.Provider.LogLevel = "info"
	}
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if config.Provider.OutputDir == "" {
		return errors.NewValidationError("output directory cannot be empty", nil)
	}

	switch config.Provider.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.NewValidationError("invalid log level: must be one of debug, info, warn, error", nil).
			WithContext("log_level", config.Provider.LogLevel)
	}

	return nil
}
