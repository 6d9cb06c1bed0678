package normalize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robokop-kg/orion/internal/kgx"
)

// predicateService fakes resolve_predicate: the answers map holds the canned
// resolution per predicate, absent entries are omitted from the response.
func predicateService(t *testing.T, answers map[string]map[string]any) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/resolve_predicate", r.URL.Path)
		require.NotEmpty(t, r.URL.Query().Get("version"))

		response := make(map[string]map[string]any)
		for _, predicate := range r.URL.Query()["predicate"] {
			if answer, known := answers[predicate]; known {
				response[predicate] = answer
			}
		}

		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
}

func TestEdgeNormalizer_ResolvesAndCaches(t *testing.T) {
	t.Parallel()

	server := predicateService(t, map[string]map[string]any{
		"RO:0002434": {"predicate": "biolink:interacts_with", "inverted": false},
	})
	defer server.Close()

	normalizer := NewEdgeNormalizer(NewClientWithAttempts(1), server.URL, "4.2.1", nil)

	require.NoError(t, normalizer.NormalizePredicates(context.Background(), []string{"RO:0002434"}))

	mapping := normalizer.Resolve("RO:0002434")
	assert.Equal(t, "biolink:interacts_with", mapping.Predicate)
	assert.False(t, mapping.Inverted)
}

func TestEdgeNormalizer_UnresolvedFallsBack(t *testing.T) {
	t.Parallel()

	server := predicateService(t, nil)
	defer server.Close()

	normalizer := NewEdgeNormalizer(NewClientWithAttempts(1), server.URL, "4.2.1", nil)

	require.NoError(t, normalizer.NormalizePredicates(context.Background(), []string{"RO:nope"}))

	assert.Equal(t, kgx.FallbackPredicate, normalizer.Resolve("RO:nope").Predicate)

	// Never-requested predicates also fall back rather than failing.
	assert.Equal(t, kgx.FallbackPredicate, normalizer.Resolve("RO:never-seen").Predicate)
}

func TestEdgeNormalizer_InvertedWithQualifiers(t *testing.T) {
	t.Parallel()

	server := predicateService(t, map[string]map[string]any{
		"RO:affected_by": {
			"identifier":          "biolink:affects",
			"inverted":            true,
			"label":               "affected by",
			"qualified_predicate": "biolink:causes",
		},
	})
	defer server.Close()

	normalizer := NewEdgeNormalizer(NewClientWithAttempts(1), server.URL, "4.2.1", nil)

	require.NoError(t, normalizer.NormalizePredicates(context.Background(), []string{"RO:affected_by"}))

	mapping := normalizer.Resolve("RO:affected_by")
	assert.Equal(t, "biolink:affects", mapping.Predicate)
	assert.True(t, mapping.Inverted)
	assert.Equal(t, map[string]any{"qualified_predicate": "biolink:causes"}, mapping.Properties)
}

func TestEdgeNormalizer_RecordsServiceBatches(t *testing.T) {
	t.Parallel()

	server := predicateService(t, map[string]map[string]any{
		"RO:0002434": {"predicate": "biolink:interacts_with"},
	})
	defer server.Close()

	metrics, reader := testMetrics(t)

	normalizer := NewEdgeNormalizer(NewClientWithAttempts(1), server.URL, "4.2.1", metrics)

	require.NoError(t, normalizer.NormalizePredicates(context.Background(), []string{"RO:0002434"}))

	assert.Equal(t, int64(1), counterValue(t, reader, "orion.normalization.batches.total", "predicate"))
}

func TestEdgeNormalizer_OnlyMissingPredicatesRequested(t *testing.T) {
	t.Parallel()

	requests := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++

		response := make(map[string]map[string]any)
		for _, predicate := range r.URL.Query()["predicate"] {
			response[predicate] = map[string]any{"predicate": "biolink:related_to"}
		}

		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
	defer server.Close()

	normalizer := NewEdgeNormalizer(NewClientWithAttempts(1), server.URL, "4.2.1", nil)

	require.NoError(t, normalizer.NormalizePredicates(context.Background(), []string{"RO:1"}))
	require.NoError(t, normalizer.NormalizePredicates(context.Background(), []string{"RO:1"}))

	assert.Equal(t, 1, requests)
}
