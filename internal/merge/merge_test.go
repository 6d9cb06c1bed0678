package merge

import (
	"errors"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robokop-kg/orion/internal/kgx"
)

func collect(t *testing.T, cursor Cursor, err error) []kgx.Entity {
	t.Helper()
	require.NoError(t, err)

	var out []kgx.Entity

	require.NoError(t, Drain(cursor, func(e kgx.Entity) error {
		out = append(out, e)

		return nil
	}))

	return out
}

func sortByID(entities []kgx.Entity, key string) {
	sort.Slice(entities, func(i, j int) bool {
		a, _ := entities[i][key].(string)
		b, _ := entities[j][key].(string)

		return a < b
	})
}

// mergers returns both implementations under test, DiskMerger with a tiny
// chunk size so every test exercises spilling.
func mergers(t *testing.T) map[string]Merger {
	t.Helper()

	disk, err := NewDiskMerger(Options{ChunkSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { disk.Close() })

	return map[string]Merger{
		"memory": NewMemoryMerger(Options{}),
		"disk":   disk,
	}
}

func TestMerger_TwoSourceEdgeMerge(t *testing.T) {
	t.Parallel()

	for name, m := range mergers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, m.MergeNode(kgx.Entity{"id": "X:1", "category": []any{"biolink:NamedThing", "biolink:Gene"}}))
			require.NoError(t, m.MergeNode(kgx.Entity{"id": "X:2", "category": []any{"biolink:NamedThing"}}))

			require.NoError(t, m.MergeEdge(kgx.Entity{
				"subject": "X:1", "predicate": "biolink:related_to", "object": "X:2",
				"primary_knowledge_source": "infores:a",
			}))
			require.NoError(t, m.MergeEdge(kgx.Entity{
				"subject": "X:1", "predicate": "biolink:related_to", "object": "X:2",
				"primary_knowledge_source": "infores:a",
				"publications":             []any{"PMID:1"},
			}))

			require.NoError(t, m.Flush())

			nodesCur, nodesErr := m.Nodes()
			nodes := collect(t, nodesCur, nodesErr)
			edgesCur, edgesErr := m.Edges()
			edges := collect(t, edgesCur, edgesErr)

			assert.Len(t, nodes, 2)
			require.Len(t, edges, 1)
			assert.Equal(t, []any{"PMID:1"}, edges[0]["publications"])
			assert.Equal(t, "infores:a", edges[0].PrimaryKnowledgeSource())
			assert.Equal(t, 1, m.MergedEdgeCount())
			assert.Equal(t, 0, m.MergedNodeCount())
		})
	}
}

func TestMerger_NodePropertiesCombine(t *testing.T) {
	t.Parallel()

	for name, m := range mergers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, m.MergeNode(kgx.Entity{"id": "X:1", "name": "alpha", "xref": []any{"A:1"}}))
			require.NoError(t, m.MergeNode(kgx.Entity{"id": "X:1", "name": "beta", "xref": []any{"B:1", "A:1"}}))

			require.NoError(t, m.Flush())

			nodesCur, nodesErr := m.Nodes()
			nodes := collect(t, nodesCur, nodesErr)
			require.Len(t, nodes, 1)

			assert.Equal(t, "alpha", nodes[0].Name())
			assert.Equal(t, []any{"A:1", "B:1"}, nodes[0]["xref"])
			assert.Equal(t, 1, m.MergedNodeCount())
		})
	}
}

func TestMerger_SelfMergeIdempotent(t *testing.T) {
	t.Parallel()

	input := []kgx.Entity{
		{"id": "X:1", "name": "one", "publications": []any{"PMID:1"}},
		{"id": "X:2", "name": "two"},
	}

	for name, m := range mergers(t) {
		t.Run(name, func(t *testing.T) {
			for range 2 {
				for _, node := range input {
					require.NoError(t, m.MergeNode(node.Clone()))
				}
			}

			require.NoError(t, m.Flush())

			nodesCur, nodesErr := m.Nodes()
			nodes := collect(t, nodesCur, nodesErr)
			sortByID(nodes, "id")

			require.Len(t, nodes, 2)
			assert.Equal(t, "one", nodes[0].Name())
			assert.Equal(t, []any{"PMID:1"}, nodes[0]["publications"])
			assert.Equal(t, 2, m.MergedNodeCount())
		})
	}
}

func TestMemoryAndDiskProduceSameOutput(t *testing.T) {
	t.Parallel()

	nodes := []kgx.Entity{
		{"id": "N:3", "name": "c"},
		{"id": "N:1", "name": "a", "xref": []any{"X:9"}},
		{"id": "N:2", "name": "b"},
		{"id": "N:1", "name": "ignored", "xref": []any{"X:1"}},
		{"id": "N:3", "description": "desc"},
	}
	edges := []kgx.Entity{
		{"subject": "N:1", "predicate": "biolink:related_to", "object": "N:2", "primary_knowledge_source": "infores:a"},
		{"subject": "N:1", "predicate": "biolink:related_to", "object": "N:2", "primary_knowledge_source": "infores:b"},
		{"subject": "N:1", "predicate": "biolink:related_to", "object": "N:2", "primary_knowledge_source": "infores:a", "publications": []any{"PMID:7"}},
	}

	mem := NewMemoryMerger(Options{})

	disk, err := NewDiskMerger(Options{ChunkSize: 2})
	require.NoError(t, err)

	defer disk.Close()

	for _, m := range []Merger{mem, disk} {
		for _, n := range nodes {
			require.NoError(t, m.MergeNode(n.Clone()))
		}

		for _, e := range edges {
			require.NoError(t, m.MergeEdge(e.Clone()))
		}

		require.NoError(t, m.Flush())
	}

	memNodesCur, memNodesErr := mem.Nodes()
	memNodes := collect(t, memNodesCur, memNodesErr)
	diskNodesCur, diskNodesErr := disk.Nodes()
	diskNodes := collect(t, diskNodesCur, diskNodesErr)
	sortByID(memNodes, "id")
	sortByID(diskNodes, "id")
	assert.Equal(t, memNodes, diskNodes)

	memEdgesCur, memEdgesErr := mem.Edges()
	memEdges := collect(t, memEdgesCur, memEdgesErr)
	diskEdgesCur, diskEdgesErr := disk.Edges()
	diskEdges := collect(t, diskEdgesCur, diskEdgesErr)
	sortByID(memEdges, "primary_knowledge_source")
	sortByID(diskEdges, "primary_knowledge_source")
	assert.Equal(t, memEdges, diskEdges)

	assert.Equal(t, mem.MergedNodeCount(), disk.MergedNodeCount())
	assert.Equal(t, mem.MergedEdgeCount(), disk.MergedEdgeCount())
}

func TestDiskMerger_ExactChunkBoundarySpills(t *testing.T) {
	t.Parallel()

	disk, err := NewDiskMerger(Options{ChunkSize: 2})
	require.NoError(t, err)

	defer disk.Close()

	require.NoError(t, disk.MergeNode(kgx.Entity{"id": "N:1"}))
	require.NoError(t, disk.MergeNode(kgx.Entity{"id": "N:2"}))

	// The buffer hit ChunkSize exactly: one run on disk, empty residual.
	assert.Len(t, disk.nodeSpills, 1)
	assert.Empty(t, disk.nodeBuf)

	require.NoError(t, disk.Flush())

	// Flush of the empty residual must not create a second run.
	assert.Len(t, disk.nodeSpills, 1)

	nodesCur, nodesErr := disk.Nodes()
	nodes := collect(t, nodesCur, nodesErr)
	assert.Len(t, nodes, 2)
}

func TestDiskMerger_TempFilesDeletedWhenDrained(t *testing.T) {
	t.Parallel()

	disk, err := NewDiskMerger(Options{ChunkSize: 2})
	require.NoError(t, err)

	for i := range 5 {
		require.NoError(t, disk.MergeNode(kgx.Entity{"id": string(rune('a' + i))}))
	}

	require.NoError(t, disk.Flush())

	cursor, err := disk.Nodes()
	require.NoError(t, err)

	for {
		_, nextErr := cursor.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}

		require.NoError(t, nextErr)
	}

	require.NoError(t, cursor.Close())

	for _, path := range disk.nodeSpills {
		assert.NoFileExists(t, path)
	}
}

func TestMerger_AddEdgeID(t *testing.T) {
	t.Parallel()

	disk, err := NewDiskMerger(Options{ChunkSize: 2, AddEdgeID: true})
	require.NoError(t, err)

	defer disk.Close()

	for name, m := range map[string]Merger{
		"memory": NewMemoryMerger(Options{AddEdgeID: true}),
		"disk":   disk,
	} {
		t.Run(name, func(t *testing.T) {
			edge := kgx.Entity{
				"subject": "A", "predicate": "biolink:related_to", "object": "B",
				"primary_knowledge_source": "infores:a",
			}

			require.NoError(t, m.MergeEdge(edge.Clone()))
			require.NoError(t, m.Flush())

			edgesCur, edgesErr := m.Edges()
			edges := collect(t, edgesCur, edgesErr)
			require.Len(t, edges, 1)
			assert.Equal(t, kgx.EdgeKeyString(edge, nil), edges[0]["id"])
		})
	}
}

func TestMerger_ExtraKeyAttributesSeparateEdges(t *testing.T) {
	t.Parallel()

	m := NewMemoryMerger(Options{ExtraKeyAttributes: []string{"affinity"}})

	base := kgx.Entity{
		"subject": "A", "predicate": "biolink:related_to", "object": "B",
		"primary_knowledge_source": "infores:a",
	}

	one := base.Clone()
	one["affinity"] = "1.0"

	two := base.Clone()
	two["affinity"] = "2.0"

	require.NoError(t, m.MergeEdge(one))
	require.NoError(t, m.MergeEdge(two))
	require.NoError(t, m.Flush())

	edgesCur, edgesErr := m.Edges()
	edges := collect(t, edgesCur, edgesErr)
	assert.Len(t, edges, 2)
	assert.Equal(t, 0, m.MergedEdgeCount())
}

func TestMerger_RejectsMergeAfterFlush(t *testing.T) {
	t.Parallel()

	for name, m := range mergers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, m.Flush())

			assert.ErrorIs(t, m.MergeNode(kgx.Entity{"id": "X:1"}), ErrAfterFlush)
			assert.ErrorIs(t, m.MergeEdge(kgx.Entity{"subject": "A"}), ErrAfterFlush)
		})
	}
}
