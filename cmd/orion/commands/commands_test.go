package commands

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robokop-kg/orion/internal/graphbuilder"
	"github.com/robokop-kg/orion/internal/graphspec"
	"github.com/robokop-kg/orion/internal/metastore"
)

func writeSpecFile(t *testing.T, dir, name, graphID string) {
	t.Helper()

	content := "graphs:\n  - graph_id: " + graphID + "\n    sources:\n      - source_id: src\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadSpecDir_CombinesFilesInNameOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSpecFile(t, dir, "b.yaml", "graph_b")
	writeSpecFile(t, dir, "a.yml", "graph_a")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	doc, err := loadSpecDir(dir)
	require.NoError(t, err)

	require.Len(t, doc.Graphs, 2)
	assert.Equal(t, "graph_a", doc.Graphs[0].GraphID)
	assert.Equal(t, "graph_b", doc.Graphs[1].GraphID)
}

func TestLoadSpecDir_EmptyDirIsConfigurationError(t *testing.T) {
	t.Parallel()

	_, err := loadSpecDir(t.TempDir())
	assert.ErrorIs(t, err, graphspec.ErrConfiguration)
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.in), "level %q", tt.in)
	}
}

func TestRenderBuildSummary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	renderBuildSummary(&buf, []graphbuilder.Result{
		{
			GraphID: "ctd_graph",
			Version: "abc123",
			Counts:  metastore.GraphCounts{Nodes: 10, Edges: 20},
		},
		{
			GraphID: "broken_graph",
			Err:     assert.AnError,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "ctd_graph")
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, "broken_graph")
	assert.Contains(t, out, "failed")
}
