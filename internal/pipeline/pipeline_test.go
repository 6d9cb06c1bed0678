package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robokop-kg/orion/internal/biolink"
	"github.com/robokop-kg/orion/internal/kgx"
	"github.com/robokop-kg/orion/internal/metastore"
	"github.com/robokop-kg/orion/internal/normalize"
)

// fakeLoader is a minimal in-memory source parser.
type fakeLoader struct {
	id          string
	latest      string
	hasVariants bool

	parseErr error

	fetches int
	parses  int
}

func (l *fakeLoader) SourceID() string          { return l.id }
func (l *fakeLoader) ParsingVersion() string    { return "p1" }
func (l *fakeLoader) DefaultProvenance() string { return "infores:" + l.id }

func (l *fakeLoader) LatestVersion(_ context.Context) (string, error) {
	if l.latest == "" {
		return "", errors.New("upstream unavailable")
	}

	return l.latest, nil
}

func (l *fakeLoader) Fetch(_ context.Context, _, destDir string) error {
	l.fetches++

	return os.WriteFile(destDir+"/raw.txt", []byte("raw"), 0o644)
}

func (l *fakeLoader) Parse(_ context.Context, _, nodesPath, edgesPath string) (ParseResult, error) {
	l.parses++

	if l.parseErr != nil {
		err := l.parseErr
		l.parseErr = nil

		return ParseResult{}, err
	}

	nodes := []kgx.Entity{
		{"id": "SRC:1", "category": []any{"biolink:Gene"}},
		{"id": "SRC:2", "category": []any{"biolink:Disease"}},
	}
	edges := []kgx.Entity{
		{"subject": "SRC:1", "predicate": "RO:1", "object": "SRC:2"},
	}

	writeErr := kgx.WriteJSONL(nodesPath, nodes)
	if writeErr != nil {
		return ParseResult{}, writeErr
	}

	writeErr = kgx.WriteJSONL(edgesPath, edges)
	if writeErr != nil {
		return ParseResult{}, writeErr
	}

	return ParseResult{Nodes: 2, Edges: 1, HasSequenceVariants: l.hasVariants}, nil
}

// identityServices fakes both normalization services: every id and
// predicate resolves to itself.
func identityServices(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/get_normalized_nodes", func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			Curies []string `json:"curies"`
		}

		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))

		response := make(map[string]any, len(request.Curies))
		for _, curie := range request.Curies {
			response[curie] = map[string]any{
				"id":                     map[string]any{"identifier": curie},
				"type":                   []string{"biolink:NamedThing"},
				"equivalent_identifiers": []map[string]any{{"identifier": curie}},
			}
		}

		require.NoError(t, json.NewEncoder(w).Encode(response))
	})

	mux.HandleFunc("/resolve_predicate", func(w http.ResponseWriter, r *http.Request) {
		response := make(map[string]any)
		for _, predicate := range r.URL.Query()["predicate"] {
			response[predicate] = map[string]any{"predicate": predicate}
		}

		require.NoError(t, json.NewEncoder(w).Encode(response))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func testConfig(t *testing.T, root string) Config {
	t.Helper()

	toolkit, err := biolink.Load()
	require.NoError(t, err)

	server := identityServices(t)

	return Config{
		Layout:           Layout{Root: root},
		Scheme:           normalize.DefaultScheme("2.2", "4.2.1"),
		NodeNormEndpoint: server.URL,
		EdgeNormEndpoint: server.URL,
		Toolkit:          toolkit,
		Client:           normalize.NewClientWithAttempts(1),
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestSourcePipeline_FullRun(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{id: "testsrc", latest: "v1"}
	cfg := testConfig(t, t.TempDir())

	release, err := NewSourcePipeline(loader, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, release)

	meta, err := metastore.LoadOrInitSource(cfg.Layout.MetaPath("testsrc"), "testsrc", "v1")
	require.NoError(t, err)

	assert.Equal(t, metastore.StatusStable, meta.FetchStatus())
	assert.Equal(t, metastore.StatusStable, meta.ParsingStatus("p1"))

	normVersion := cfg.Scheme.CompositeVersion()
	assert.Equal(t, metastore.StatusStable, meta.NormalizationStatus("p1", normVersion))
	assert.Equal(t, metastore.StatusStable, meta.QCStatus())

	counts := meta.Normalization("p1", normVersion).Counts
	assert.Equal(t, 2, counts.SourceNodes)
	assert.Equal(t, 1, counts.NormalizedEdges)

	require.Contains(t, meta.Releases, release)
	assert.Equal(t, "v1", meta.Releases[release].SourceVersion)

	assert.FileExists(t, cfg.Layout.NormalizedNodesPath("testsrc", "v1", "p1", normVersion))
	assert.FileExists(t, cfg.Layout.NormalizedEdgesPath("testsrc", "v1", "p1", normVersion))
}

func TestSourcePipeline_SecondRunSkipsStableStages(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{id: "testsrc", latest: "v1"}
	cfg := testConfig(t, t.TempDir())

	first, err := NewSourcePipeline(loader, cfg).Run(context.Background())
	require.NoError(t, err)

	second, err := NewSourcePipeline(loader, cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, loader.fetches)
	assert.Equal(t, 1, loader.parses)
}

func TestSourcePipeline_ResumesAfterParseFailure(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{id: "testsrc", latest: "v1", parseErr: errors.New("corrupt archive")}
	cfg := testConfig(t, t.TempDir())

	_, err := NewSourcePipeline(loader, cfg).Run(context.Background())
	require.Error(t, err)

	meta, err := metastore.LoadOrInitSource(cfg.Layout.MetaPath("testsrc"), "testsrc", "v1")
	require.NoError(t, err)
	assert.Equal(t, metastore.StatusStable, meta.FetchStatus())
	assert.Equal(t, metastore.StatusFailed, meta.ParsingStatus("p1"))
	assert.Contains(t, meta.Parsing("p1").Error, "corrupt archive")

	// Without clearing, the failed stage blocks the run.
	_, err = NewSourcePipeline(loader, cfg).Run(context.Background())
	assert.ErrorIs(t, err, ErrStageNotRunnable)

	// A fresh run clears the failure and resumes after the stable fetch.
	fresh := cfg
	fresh.Fresh = true

	release, err := NewSourcePipeline(loader, fresh).Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, release)

	assert.Equal(t, 1, loader.fetches)
	assert.Equal(t, 2, loader.parses)
}

func TestSourcePipeline_BrokenSourceIsPermanent(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{id: "testsrc", latest: "v1"}
	loader.parseErr = fmt.Errorf("schema removed upstream: %w", ErrBrokenSource)

	cfg := testConfig(t, t.TempDir())

	_, err := NewSourcePipeline(loader, cfg).Run(context.Background())
	require.ErrorIs(t, err, ErrBrokenSource)

	meta, err := metastore.LoadOrInitSource(cfg.Layout.MetaPath("testsrc"), "testsrc", "v1")
	require.NoError(t, err)
	assert.Equal(t, metastore.StatusBroken, meta.ParsingStatus("p1"))

	// Fresh clears failed stages only; broken remains a hard stop.
	fresh := cfg
	fresh.Fresh = true

	_, err = NewSourcePipeline(loader, fresh).Run(context.Background())
	assert.ErrorIs(t, err, ErrStageNotRunnable)
}

func TestSourcePipeline_RefusesInProgress(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, t.TempDir())

	meta, err := metastore.LoadOrInitSource(cfg.Layout.MetaPath("testsrc"), "testsrc", "v1")
	require.NoError(t, err)
	require.NoError(t, meta.SetFetchStatus(metastore.StatusInProgress, ""))

	loader := &fakeLoader{id: "testsrc", latest: "v1"}

	_, err = NewSourcePipeline(loader, cfg).Run(context.Background())
	assert.ErrorIs(t, err, metastore.ErrStageInProgress)
	assert.Equal(t, 0, loader.fetches)
}

func TestSourcePipeline_LatestVersionFailureAborts(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{id: "testsrc"}
	cfg := testConfig(t, t.TempDir())

	_, err := NewSourcePipeline(loader, cfg).Run(context.Background())
	assert.ErrorIs(t, err, ErrVersionUnavailable)
}

// fakeSupplementer emits one annotation node and one edge to it per input
// node, the shape a variant annotator produces.
type fakeSupplementer struct{ runs int }

func (s *fakeSupplementer) Version() string { return "s1" }

func (s *fakeSupplementer) Supplement(_ context.Context, normalizedNodesPath, outNodesPath, outEdgesPath string) error {
	s.runs++

	var edges []kgx.Entity

	err := kgx.ForEach(normalizedNodesPath, func(node kgx.Entity) error {
		edges = append(edges, kgx.Entity{
			"subject":   node.ID(),
			"predicate": "biolink:related_to",
			"object":    "SUPP:g1",
		})

		return nil
	})
	if err != nil {
		return err
	}

	writeErr := kgx.WriteJSONL(outNodesPath, []kgx.Entity{
		{"id": "SUPP:g1", "category": []any{"biolink:Gene"}},
	})
	if writeErr != nil {
		return writeErr
	}

	return kgx.WriteJSONL(outEdgesPath, edges)
}

func TestSourcePipeline_SupplementRunsForVariantSources(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{id: "testsrc", latest: "v1", hasVariants: true}
	supplementer := &fakeSupplementer{}

	cfg := testConfig(t, t.TempDir())
	cfg.Supplementer = supplementer

	release, err := NewSourcePipeline(loader, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, supplementer.runs)

	normVersion := cfg.Scheme.CompositeVersion()

	meta, err := metastore.LoadOrInitSource(cfg.Layout.MetaPath("testsrc"), "testsrc", "v1")
	require.NoError(t, err)
	assert.Equal(t, metastore.StatusStable, meta.SupplementationStatus("p1", normVersion, "s1"))
	assert.Equal(t, "s1", meta.Releases[release].SupplementationVersion)

	assert.FileExists(t, cfg.Layout.SuppNormEdgesPath("testsrc", "v1", "p1", normVersion, "s1"))

	// The same graph built without supplementation names a different release.
	assert.NotEqual(t, release, metastore.ReleaseVersion("testsrc", "v1", "p1", normVersion, ""))
}

func TestSourcePipeline_SupplementSkippedWithoutVariants(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{id: "testsrc", latest: "v1"}
	supplementer := &fakeSupplementer{}

	cfg := testConfig(t, t.TempDir())
	cfg.Supplementer = supplementer

	release, err := NewSourcePipeline(loader, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, supplementer.runs)

	meta, err := metastore.LoadOrInitSource(cfg.Layout.MetaPath("testsrc"), "testsrc", "v1")
	require.NoError(t, err)
	assert.Empty(t, meta.Releases[release].SupplementationVersion)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register(&fakeLoader{id: "beta"})
	registry.Register(&fakeLoader{id: "alpha"})

	loader, err := registry.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", loader.SourceID())

	_, err = registry.Get("gamma")
	assert.ErrorIs(t, err, ErrUnknownSource)

	assert.Equal(t, []string{"alpha", "beta"}, registry.Known())
}
