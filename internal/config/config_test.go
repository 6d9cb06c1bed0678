package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "orion.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoadConfig_FromFile(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
storage: /data/storage
graphs: /data/graphs
graph_spec: /data/graphs.yaml
biolink_version: "4.2.1"
log:
  level: debug
  json: true
telemetry:
  metrics_addr: ":9090"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/storage", cfg.Storage)
	assert.Equal(t, "/data/graphs", cfg.Graphs)
	assert.Equal(t, "/data/graphs.yaml", cfg.GraphSpec)
	assert.Equal(t, "4.2.1", cfg.BiolinkVersion)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, ":9090", cfg.Telemetry.MetricsAddr)

	// Unset endpoints fall back to the public services.
	assert.Equal(t, DefaultNodeNormEndpoint, cfg.NodeNormEndpoint)
	assert.Equal(t, DefaultEdgeNormEndpoint, cfg.EdgeNormEndpoint)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
storage: /data/storage
graphs: /data/graphs
`)

	t.Setenv("ORION_STORAGE", "/env/storage")
	t.Setenv("NODE_NORMALIZATION_ENDPOINT", "http://localhost:8080")
	t.Setenv("ORION_TEST_MODE", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/env/storage", cfg.Storage)
	assert.Equal(t, "/data/graphs", cfg.Graphs)
	assert.Equal(t, "http://localhost:8080", cfg.NodeNormEndpoint)
	assert.True(t, cfg.TestMode)
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "missing storage",
			content: "graphs: /data/graphs\n",
			wantErr: ErrStorageRequired,
		},
		{
			name:    "missing graphs",
			content: "storage: /data/storage\n",
			wantErr: ErrGraphsRequired,
		},
		{
			name: "spec path and url together",
			content: `
storage: /data/storage
graphs: /data/graphs
graph_spec: /data/spec.yaml
graph_spec_url: https://example.org/spec.yaml
`,
			wantErr: ErrGraphSpecConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadConfig(writeConfigFile(t, tt.content))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfig_RequireGraphSpec(t *testing.T) {
	t.Parallel()

	cfg := Config{Storage: "/s", Graphs: "/g"}
	assert.ErrorIs(t, cfg.RequireGraphSpec(), ErrGraphSpecRequired)

	cfg.GraphSpecURL = "https://example.org/spec.yaml"
	assert.NoError(t, cfg.RequireGraphSpec())
}

func TestConfig_LogsDirDefaultsUnderStorage(t *testing.T) {
	t.Parallel()

	cfg := Config{Storage: "/data/storage"}
	assert.Equal(t, filepath.Join("/data/storage", "logs"), cfg.LogsDir())

	cfg.Logs = "/var/log/orion"
	assert.Equal(t, "/var/log/orion", cfg.LogsDir())
}

func TestConfig_TestModeShrinksChunks(t *testing.T) {
	t.Parallel()

	normal := Config{}
	small := Config{TestMode: true}

	assert.Greater(t, normal.NodeChunkSize(), small.NodeChunkSize())
	assert.Greater(t, normal.EdgeChunkSize(), small.EdgeChunkSize())
	assert.Positive(t, small.NodeChunkSize())
	assert.Positive(t, small.EdgeChunkSize())
}
