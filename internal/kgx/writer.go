package kgx

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// writerBufferSize matches the reader buffer.
const writerBufferSize = 256 * 1024

// Writer emits node and edge JSONL output files. WriteNode optionally
// deduplicates by node id; WriteEdge never deduplicates at write time —
// edge merging is the merger's job. Every line is a compact JSON object
// terminated by a newline with no trailing whitespace.
type Writer struct {
	nodeFile *os.File
	edgeFile *os.File
	nodeBuf  *bufio.Writer
	edgeBuf  *bufio.Writer

	dedupNodes bool
	seenNodes  map[string]struct{}

	nodeCount int
	edgeCount int
}

// NewWriter opens node and edge output files, truncating existing content.
// An empty path skips that stream; writing to a skipped stream fails.
// When dedupNodes is true, repeated node ids are dropped after the first.
func NewWriter(nodePath, edgePath string, dedupNodes bool) (*Writer, error) {
	w := &Writer{dedupNodes: dedupNodes}

	if nodePath != "" {
		nodeFile, err := os.Create(nodePath)
		if err != nil {
			return nil, fmt.Errorf("create node file: %w", err)
		}

		w.nodeFile = nodeFile
		w.nodeBuf = bufio.NewWriterSize(nodeFile, writerBufferSize)
	}

	if edgePath != "" {
		edgeFile, err := os.Create(edgePath)
		if err != nil {
			if w.nodeFile != nil {
				w.nodeFile.Close()
			}

			return nil, fmt.Errorf("create edge file: %w", err)
		}

		w.edgeFile = edgeFile
		w.edgeBuf = bufio.NewWriterSize(edgeFile, writerBufferSize)
	}

	if dedupNodes {
		w.seenNodes = make(map[string]struct{})
	}

	return w, nil
}

// WriteNode appends one node line. Returns whether the node was written
// (false when deduplicated away).
func (w *Writer) WriteNode(node Entity) (bool, error) {
	if w.nodeBuf == nil {
		return false, fmt.Errorf("write node: no node stream")
	}

	if w.dedupNodes {
		id := node.ID()
		if _, seen := w.seenNodes[id]; seen {
			return false, nil
		}

		w.seenNodes[id] = struct{}{}
	}

	err := writeLine(w.nodeBuf, node)
	if err != nil {
		return false, err
	}

	w.nodeCount++

	return true, nil
}

// WriteEdge appends one edge line.
func (w *Writer) WriteEdge(edge Entity) error {
	if w.edgeBuf == nil {
		return fmt.Errorf("write edge: no edge stream")
	}

	err := writeLine(w.edgeBuf, edge)
	if err != nil {
		return err
	}

	w.edgeCount++

	return nil
}

// NodeCount returns the number of node lines written.
func (w *Writer) NodeCount() int { return w.nodeCount }

// EdgeCount returns the number of edge lines written.
func (w *Writer) EdgeCount() int { return w.edgeCount }

// Close flushes buffers and closes the open files. Returns the first error
// encountered.
func (w *Writer) Close() error {
	var errs []error

	if w.nodeBuf != nil {
		errs = append(errs, w.nodeBuf.Flush(), w.nodeFile.Close())
	}

	if w.edgeBuf != nil {
		errs = append(errs, w.edgeBuf.Flush(), w.edgeFile.Close())
	}

	for _, err := range errs {
		if err != nil {
			return fmt.Errorf("close kgx writer: %w", err)
		}
	}

	return nil
}

// WriteJSONL writes entities to a standalone JSONL file. Used for outputs
// that are not node/edge pairs (lookup maps are JSON documents instead).
func WriteJSONL(path string, entities []Entity) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create jsonl: %w", err)
	}
	defer file.Close()

	buf := bufio.NewWriterSize(file, writerBufferSize)

	for _, entity := range entities {
		lineErr := writeLine(buf, entity)
		if lineErr != nil {
			return lineErr
		}
	}

	flushErr := buf.Flush()
	if flushErr != nil {
		return fmt.Errorf("flush jsonl: %w", flushErr)
	}

	return nil
}

func writeLine(buf *bufio.Writer, entity Entity) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}

	_, writeErr := buf.Write(data)
	if writeErr == nil {
		writeErr = buf.WriteByte('\n')
	}

	if writeErr != nil {
		return fmt.Errorf("write entity: %w", writeErr)
	}

	return nil
}
