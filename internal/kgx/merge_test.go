package kgx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeEntities_ScalarFirstWriterWins(t *testing.T) {
	t.Parallel()

	dst := Entity{"name": "first"}
	src := Entity{"name": "second"}

	MergeEntities(dst, src)

	assert.Equal(t, "first", dst["name"])
}

func TestMergeEntities_AdoptsMissingProperties(t *testing.T) {
	t.Parallel()

	dst := Entity{"id": "X:1"}
	src := Entity{"id": "X:1", "description": "a thing"}

	MergeEntities(dst, src)

	assert.Equal(t, "a thing", dst["description"])
}

func TestMergeEntities_EmptyValuesIgnored(t *testing.T) {
	t.Parallel()

	dst := Entity{"name": "kept"}
	src := Entity{"name": "", "publications": []any{}, "extra": nil}

	MergeEntities(dst, src)

	assert.Equal(t, "kept", dst["name"])
	assert.NotContains(t, dst, "extra")
	assert.NotContains(t, dst, "publications")
}

func TestMergeEntities_ListsConcatenateDedupSort(t *testing.T) {
	t.Parallel()

	dst := Entity{"publications": []any{"PMID:2", "PMID:1"}}
	src := Entity{"publications": []any{"PMID:1", "PMID:3"}}

	MergeEntities(dst, src)

	assert.Equal(t, []any{"PMID:1", "PMID:2", "PMID:3"}, dst["publications"])
}

func TestMergeEntities_ScalarJoinsList(t *testing.T) {
	t.Parallel()

	dst := Entity{"xref": "B:1"}
	src := Entity{"xref": []any{"A:1"}}

	MergeEntities(dst, src)

	assert.Equal(t, []any{"A:1", "B:1"}, dst["xref"])
}

func TestMergeEntities_MapListRegroupsByRetrievalSourceKey(t *testing.T) {
	t.Parallel()

	dst := Entity{
		PropRetrievalSources: []any{
			map[string]any{"resource_id": "infores:a", "resource_role": "primary", "upstream": []any{"u1"}},
		},
	}
	src := Entity{
		PropRetrievalSources: []any{
			map[string]any{"resource_id": "infores:a", "resource_role": "primary", "upstream": []any{"u2"}},
			map[string]any{"resource_id": "infores:b", "resource_role": "aggregator"},
		},
	}

	MergeEntities(dst, src)

	list, ok := dst[PropRetrievalSources].([]any)
	require.True(t, ok)
	require.Len(t, list, 2)

	first, ok := list[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "infores:a", first["resource_id"])
	assert.Equal(t, []any{"u1", "u2"}, first["upstream"])
}

func TestMergeEntities_Idempotent(t *testing.T) {
	t.Parallel()

	entity := Entity{
		"id":           "X:1",
		"name":         "thing",
		"publications": []any{"PMID:1", "PMID:2"},
	}

	merged := MergeEntities(entity.Clone(), entity.Clone())

	assert.Equal(t, "X:1", merged["id"])
	assert.Equal(t, "thing", merged["name"])
	assert.Equal(t, []any{"PMID:1", "PMID:2"}, merged["publications"])
}

func TestMergeEntities_CommutativeAfterNormalization(t *testing.T) {
	t.Parallel()

	a := Entity{"publications": []any{"PMID:9", "PMID:1"}}
	b := Entity{"publications": []any{"PMID:5"}}

	ab := MergeEntities(a.Clone(), b.Clone())
	ba := MergeEntities(b.Clone(), a.Clone())

	assert.Equal(t, ab["publications"], ba["publications"])
}

func TestIsListProperty(t *testing.T) {
	t.Parallel()

	assert.True(t, IsListProperty(PropPublications))
	assert.True(t, IsListProperty(PropCategory))
	assert.False(t, IsListProperty(PropName))
}
