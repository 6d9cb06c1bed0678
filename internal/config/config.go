// Package config loads pipeline configuration from an orion.yaml file and
// environment variables, with environment taking precedence.
package config

import (
	"errors"
	"path/filepath"

	"github.com/robokop-kg/orion/internal/normalize"
)

// Config is the top-level configuration struct for orion.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	// Storage is the root directory for per-source pipeline output.
	Storage string `mapstructure:"storage"`

	// Graphs is the root directory for merged graph output.
	Graphs string `mapstructure:"graphs"`

	// GraphSpec is a local graph spec file path. Mutually exclusive with
	// GraphSpecURL.
	GraphSpec    string `mapstructure:"graph_spec"`
	GraphSpecURL string `mapstructure:"graph_spec_url"`

	NodeNormEndpoint string `mapstructure:"node_normalization_endpoint"`
	EdgeNormEndpoint string `mapstructure:"edge_normalization_endpoint"`

	// Logs overrides the log directory; empty means <storage>/logs.
	Logs string `mapstructure:"logs"`

	// BiolinkVersion pins the biolink model revision used for category and
	// predicate reasoning.
	BiolinkVersion string `mapstructure:"biolink_version"`

	// TestMode shrinks normalization chunk sizes so small fixtures exercise
	// the chunked code paths.
	TestMode bool `mapstructure:"test_mode"`

	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig holds metrics export settings.
type TelemetryConfig struct {
	// OTLPEndpoint enables the OTLP push exporter when non-empty.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`

	// MetricsAddr serves the Prometheus scrape endpoint when non-empty.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// testModeChunkDivisor scales chunk sizes down in test mode.
const testModeChunkDivisor = 1000

// Sentinel errors for configuration validation.
var (
	// ErrStorageRequired indicates the storage directory is unset.
	ErrStorageRequired = errors.New("storage directory must be set")
	// ErrGraphsRequired indicates the graphs directory is unset.
	ErrGraphsRequired = errors.New("graphs directory must be set")
	// ErrGraphSpecConflict indicates both a spec path and a spec URL are set.
	ErrGraphSpecConflict = errors.New("graph_spec and graph_spec_url are mutually exclusive")
	// ErrGraphSpecRequired indicates neither a spec path nor a spec URL is set.
	ErrGraphSpecRequired = errors.New("either graph_spec or graph_spec_url must be set")
	// ErrNodeNormEndpointRequired indicates the node normalization endpoint is unset.
	ErrNodeNormEndpointRequired = errors.New("node_normalization_endpoint must be set")
	// ErrEdgeNormEndpointRequired indicates the edge normalization endpoint is unset.
	ErrEdgeNormEndpointRequired = errors.New("edge_normalization_endpoint must be set")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if c.Storage == "" {
		return ErrStorageRequired
	}

	if c.Graphs == "" {
		return ErrGraphsRequired
	}

	if c.GraphSpec != "" && c.GraphSpecURL != "" {
		return ErrGraphSpecConflict
	}

	if c.NodeNormEndpoint == "" {
		return ErrNodeNormEndpointRequired
	}

	if c.EdgeNormEndpoint == "" {
		return ErrEdgeNormEndpointRequired
	}

	return nil
}

// RequireGraphSpec enforces that a graph spec location is configured. Graph
// builds need one; source-only runs do not.
func (c *Config) RequireGraphSpec() error {
	if c.GraphSpec == "" && c.GraphSpecURL == "" {
		return ErrGraphSpecRequired
	}

	return nil
}

// LogsDir resolves the log directory, defaulting under the storage root.
func (c *Config) LogsDir() string {
	if c.Logs != "" {
		return c.Logs
	}

	return filepath.Join(c.Storage, "logs")
}

// NodeChunkSize is the node normalization batch-file chunk size, shrunk in
// test mode.
func (c *Config) NodeChunkSize() int {
	if c.TestMode {
		return normalize.DefaultNodeChunkSize / testModeChunkDivisor
	}

	return normalize.DefaultNodeChunkSize
}

// EdgeChunkSize is the edge streaming chunk size, shrunk in test mode.
func (c *Config) EdgeChunkSize() int {
	if c.TestMode {
		return normalize.DefaultEdgeChunkSize / testModeChunkDivisor
	}

	return normalize.DefaultEdgeChunkSize
}
