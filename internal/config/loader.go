package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = "orion"

// configType is the config file format.
const configType = "yaml"

// Default normalization service endpoints.
const (
	DefaultNodeNormEndpoint = "https://nodenormalization-sri.renci.org"
	DefaultEdgeNormEndpoint = "https://bl-lookup-sri.renci.org"
)

// DefaultLogLevel is the logger level when unconfigured.
const DefaultLogLevel = "info"

// envBindings maps config keys to their environment variable names. The
// names are part of the operational interface and predate any common
// prefix, so they are bound explicitly instead of via an env prefix.
var envBindings = map[string]string{
	"storage":                     "ORION_STORAGE",
	"graphs":                      "ORION_GRAPHS",
	"graph_spec":                  "ORION_GRAPH_SPEC",
	"graph_spec_url":              "ORION_GRAPH_SPEC_URL",
	"node_normalization_endpoint": "NODE_NORMALIZATION_ENDPOINT",
	"edge_normalization_endpoint": "EDGE_NORMALIZATION_ENDPOINT",
	"logs":                        "ORION_LOGS",
	"biolink_version":             "BL_VERSION",
	"test_mode":                   "ORION_TEST_MODE",
	"log.level":                   "ORION_LOG_LEVEL",
	"log.json":                    "ORION_LOG_JSON",
	"telemetry.otlp_endpoint":     "ORION_OTLP_ENDPOINT",
	"telemetry.otlp_insecure":     "ORION_OTLP_INSECURE",
	"telemetry.metrics_addr":      "ORION_METRICS_ADDR",
}

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)

	for key, env := range envBindings {
		bindErr := viperCfg.BindEnv(key, env)
		if bindErr != nil {
			return nil, fmt.Errorf("bind %s: %w", env, bindErr)
		}
	}

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("node_normalization_endpoint", DefaultNodeNormEndpoint)
	viperCfg.SetDefault("edge_normalization_endpoint", DefaultEdgeNormEndpoint)
	viperCfg.SetDefault("log.level", DefaultLogLevel)
	viperCfg.SetDefault("log.json", false)
	viperCfg.SetDefault("test_mode", false)
}
