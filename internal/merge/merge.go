// Package merge implements the deduplicating graph merger: many normalized
// node/edge JSONL streams in, one merged node stream and one merged edge
// stream out. MemoryMerger holds everything in two hash maps; DiskMerger
// spills sorted, lz4-compressed runs to temp files and k-way merges them on
// read, trading throughput for bounded peak memory.
package merge

import (
	"errors"
	"io"

	"github.com/robokop-kg/orion/internal/kgx"
)

// DefaultChunkSize is the number of buffered entities that triggers a
// DiskMerger spill.
const DefaultChunkSize = 10_000_000

// ErrAfterFlush is returned when entities are merged in after Flush.
var ErrAfterFlush = errors.New("merger already flushed")

// Options configures edge identity for a merger instance.
type Options struct {
	// ExtraKeyAttributes extends the edge identity key with the values of
	// the named edge properties.
	ExtraKeyAttributes []string

	// AddEdgeID stamps each merged edge with its identity key as an "id"
	// property on output.
	AddEdgeID bool

	// ChunkSize overrides DefaultChunkSize for DiskMerger. Ignored by
	// MemoryMerger.
	ChunkSize int
}

// Cursor streams merged entities. Next returns io.EOF when drained; Close
// releases underlying resources and is safe after exhaustion.
type Cursor interface {
	Next() (kgx.Entity, error)
	Close() error
}

// Merger deduplicates nodes by id and edges by identity key. Both
// implementations produce the same logical output; only peak memory differs.
type Merger interface {
	// MergeNode folds one node into the merger.
	MergeNode(node kgx.Entity) error

	// MergeEdge folds one edge into the merger.
	MergeEdge(edge kgx.Entity) error

	// Flush completes ingestion. No MergeNode/MergeEdge calls may follow.
	Flush() error

	// Nodes returns a cursor over the merged node set. Call after Flush.
	Nodes() (Cursor, error)

	// Edges returns a cursor over the merged edge set. Call after Flush.
	Edges() (Cursor, error)

	// MergedNodeCount reports how many duplicate nodes were collapsed.
	MergedNodeCount() int

	// MergedEdgeCount reports how many duplicate edges were collapsed.
	MergedEdgeCount() int
}

// Drain copies every entity from a cursor into fn, closing the cursor on
// all exit paths.
func Drain(cursor Cursor, fn func(kgx.Entity) error) error {
	defer cursor.Close()

	for {
		entity, err := cursor.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		fnErr := fn(entity)
		if fnErr != nil {
			return fnErr
		}
	}
}
