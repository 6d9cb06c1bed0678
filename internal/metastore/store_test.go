package metastore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrInitSource_FreshDocument(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ctd.meta.json")

	meta, err := LoadOrInitSource(path, "CTD", "v1")
	require.NoError(t, err)

	assert.Equal(t, "CTD", meta.SourceID)
	assert.Equal(t, StatusNotStarted, meta.FetchStatus())
	assert.Equal(t, StatusNotStarted, meta.ParsingStatus("1.0"))
	assert.Equal(t, StatusNotStarted, meta.NormalizationStatus("1.0", "n1"))
	assert.Equal(t, StatusNotStarted, meta.SupplementationStatus("1.0", "n1", "s1"))

	// No file is created until the first transition.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSourceMetadata_TransitionsPersistAndReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ctd.meta.json")

	meta, err := LoadOrInitSource(path, "CTD", "v1")
	require.NoError(t, err)

	require.NoError(t, meta.SetFetchStatus(StatusInProgress, ""))
	require.NoError(t, meta.SetFetchStatus(StatusStable, ""))
	require.NoError(t, meta.SetParsingStatus("1.0", StatusStable, ""))
	require.NoError(t, meta.SetNormalizationStatus("1.0", "n1", StatusFailed, "service down"))

	reloaded, err := LoadOrInitSource(path, "CTD", "v1")
	require.NoError(t, err)

	assert.Equal(t, StatusStable, reloaded.FetchStatus())
	assert.Equal(t, StatusStable, reloaded.ParsingStatus("1.0"))
	assert.Equal(t, StatusFailed, reloaded.NormalizationStatus("1.0", "n1"))
	assert.Equal(t, "service down", reloaded.Parsings["1.0"].Normalizations["n1"].Error)
	assert.False(t, reloaded.Parsings["1.0"].Normalizations["n1"].UpdatedAt.IsZero())
}

func TestSourceMetadata_RecordRelease(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ctd.meta.json")

	meta, err := LoadOrInitSource(path, "CTD", "v1")
	require.NoError(t, err)

	version, err := meta.RecordRelease("1.0", "n1", "")
	require.NoError(t, err)

	assert.Equal(t, ReleaseVersion("CTD", "v1", "1.0", "n1", ""), version)

	reloaded, err := LoadOrInitSource(path, "CTD", "v1")
	require.NoError(t, err)
	require.Contains(t, reloaded.Releases, version)
	assert.Equal(t, "n1", reloaded.Releases[version].NormalizationVersion)
}

func TestReleaseVersion_Deterministic(t *testing.T) {
	t.Parallel()

	a := ReleaseVersion("CTD", "v1", "1.0", "n1", "s1")
	b := ReleaseVersion("CTD", "v1", "1.0", "n1", "s1")
	c := ReleaseVersion("CTD", "v1", "1.0", "n2", "s1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestSave_AtomicReplaceLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "src.meta.json")

	meta, err := LoadOrInitSource(path, "SRC", "v1")
	require.NoError(t, err)

	require.NoError(t, meta.SetFetchStatus(StatusStable, ""))
	require.NoError(t, meta.SetQCStatus(StatusStable, ""))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "src.meta.json", entries[0].Name())
}

func TestGraphMetadata_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "graph.meta.json")

	meta, err := LoadOrInitGraph(path, "robokop", "abc123")
	require.NoError(t, err)

	meta.Sources = []GraphSourceInfo{{SourceID: "CTD", SourceVersion: "v1", ReleaseVersion: "r1"}}
	meta.Counts = GraphCounts{Nodes: 10, Edges: 20, MergedEdges: 3}

	require.NoError(t, meta.SetBuildStatus(StatusStable, ""))

	reloaded, err := LoadOrInitGraph(path, "robokop", "abc123")
	require.NoError(t, err)

	assert.Equal(t, StatusStable, reloaded.BuildStatus())
	assert.Equal(t, StatusNotStarted, reloaded.QCStatus())
	assert.Equal(t, 3, reloaded.Counts.MergedEdges)
	require.Len(t, reloaded.Sources, 1)
	assert.Equal(t, "CTD", reloaded.Sources[0].SourceID)
}

func TestStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusStable.Terminal())
	assert.True(t, StatusBroken.Terminal())
	assert.False(t, StatusFailed.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.False(t, StatusNotStarted.Terminal())
}
