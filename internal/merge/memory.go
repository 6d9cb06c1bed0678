package merge

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/robokop-kg/orion/internal/kgx"
)

// MemoryMerger deduplicates entirely in memory. Nodes are kept as live
// maps; edges are kept serialized and only deserialized when a duplicate
// arrives, which bounds peak memory for the common no-duplicate case.
type MemoryMerger struct {
	opts Options

	nodes map[string]kgx.Entity
	edges map[uint64][]byte

	mergedNodes int
	mergedEdges int
	flushed     bool
}

// NewMemoryMerger creates an in-memory merger.
func NewMemoryMerger(opts Options) *MemoryMerger {
	return &MemoryMerger{
		opts:  opts,
		nodes: make(map[string]kgx.Entity),
		edges: make(map[uint64][]byte),
	}
}

// MergeNode implements Merger.
func (m *MemoryMerger) MergeNode(node kgx.Entity) error {
	if m.flushed {
		return ErrAfterFlush
	}

	id := node.ID()

	existing, dup := m.nodes[id]
	if !dup {
		m.nodes[id] = node

		return nil
	}

	kgx.MergeEntities(existing, node)
	m.mergedNodes++

	return nil
}

// MergeEdge implements Merger.
func (m *MemoryMerger) MergeEdge(edge kgx.Entity) error {
	if m.flushed {
		return ErrAfterFlush
	}

	key := kgx.EdgeKey(edge, m.opts.ExtraKeyAttributes)

	serialized, dup := m.edges[key]
	if !dup {
		data, err := json.Marshal(edge)
		if err != nil {
			return fmt.Errorf("serialize edge: %w", err)
		}

		m.edges[key] = data

		return nil
	}

	var existing kgx.Entity

	err := json.Unmarshal(serialized, &existing)
	if err != nil {
		return fmt.Errorf("deserialize edge for merge: %w", err)
	}

	kgx.MergeEntities(existing, edge)

	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("reserialize merged edge: %w", err)
	}

	m.edges[key] = data
	m.mergedEdges++

	return nil
}

// Flush implements Merger. The in-memory maps are already complete.
func (m *MemoryMerger) Flush() error {
	m.flushed = true

	return nil
}

// Nodes implements Merger. Iteration order follows map order and may vary
// across runs; consumers treat the output as a set.
func (m *MemoryMerger) Nodes() (Cursor, error) {
	out := make([]kgx.Entity, 0, len(m.nodes))
	for _, node := range m.nodes {
		out = append(out, node)
	}

	return &sliceCursor{entities: out}, nil
}

// Edges implements Merger.
func (m *MemoryMerger) Edges() (Cursor, error) {
	out := make([]kgx.Entity, 0, len(m.edges))

	for key, serialized := range m.edges {
		var edge kgx.Entity

		err := json.Unmarshal(serialized, &edge)
		if err != nil {
			return nil, fmt.Errorf("deserialize merged edge: %w", err)
		}

		if m.opts.AddEdgeID {
			edge[kgx.PropEdgeID] = fmt.Sprintf("%016x", key)
		}

		out = append(out, edge)
	}

	return &sliceCursor{entities: out}, nil
}

// MergedNodeCount implements Merger.
func (m *MemoryMerger) MergedNodeCount() int { return m.mergedNodes }

// MergedEdgeCount implements Merger.
func (m *MemoryMerger) MergedEdgeCount() int { return m.mergedEdges }

// sliceCursor streams a materialized entity slice.
type sliceCursor struct {
	entities []kgx.Entity
	pos      int
}

func (c *sliceCursor) Next() (kgx.Entity, error) {
	if c.pos >= len(c.entities) {
		return nil, io.EOF
	}

	entity := c.entities[c.pos]
	c.pos++

	return entity, nil
}

func (c *sliceCursor) Close() error { return nil }
