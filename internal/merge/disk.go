package merge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pierrec/lz4/v4"

	"github.com/robokop-kg/orion/internal/kgx"
)

// spillRecord is one key/entity pair in a spill file.
type spillRecord struct {
	Key    string     `json:"k"`
	Entity kgx.Entity `json:"e"`
}

// DiskMerger is the external-sort merger. Entities buffer in memory until
// ChunkSize is reached, then the buffer is sorted by key and written to an
// lz4-compressed temp file. Reading k-way merges all runs into one sorted,
// deduplicated stream. Temp files are deleted as their readers drain.
type DiskMerger struct {
	opts    Options
	tempDir string

	nodeBuf []spillRecord
	edgeBuf []spillRecord

	nodeSpills []string
	edgeSpills []string
	spillSeq   int

	mergedNodes int
	mergedEdges int
	flushed     bool
}

// NewDiskMerger creates a spill-to-disk merger with its own temp directory.
func NewDiskMerger(opts Options) (*DiskMerger, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	dir, err := os.MkdirTemp("", "orion-merge-*")
	if err != nil {
		return nil, fmt.Errorf("create merge temp dir: %w", err)
	}

	return &DiskMerger{opts: opts, tempDir: dir}, nil
}

// MergeNode implements Merger.
func (m *DiskMerger) MergeNode(node kgx.Entity) error {
	if m.flushed {
		return ErrAfterFlush
	}

	m.nodeBuf = append(m.nodeBuf, spillRecord{Key: node.ID(), Entity: node})

	if len(m.nodeBuf) >= m.opts.ChunkSize {
		return m.spillNodes()
	}

	return nil
}

// MergeEdge implements Merger.
func (m *DiskMerger) MergeEdge(edge kgx.Entity) error {
	if m.flushed {
		return ErrAfterFlush
	}

	key := kgx.EdgeKeyString(edge, m.opts.ExtraKeyAttributes)
	m.edgeBuf = append(m.edgeBuf, spillRecord{Key: key, Entity: edge})

	if len(m.edgeBuf) >= m.opts.ChunkSize {
		return m.spillEdges()
	}

	return nil
}

// Flush implements Merger: residual buffers are sorted and spilled so that
// reading operates on spill files only.
func (m *DiskMerger) Flush() error {
	if len(m.nodeBuf) > 0 {
		err := m.spillNodes()
		if err != nil {
			return err
		}
	}

	if len(m.edgeBuf) > 0 {
		err := m.spillEdges()
		if err != nil {
			return err
		}
	}

	m.flushed = true

	return nil
}

// Nodes implements Merger.
func (m *DiskMerger) Nodes() (Cursor, error) {
	return newKWayCursor(m.nodeSpills, &m.mergedNodes, "")
}

// Edges implements Merger.
func (m *DiskMerger) Edges() (Cursor, error) {
	idProp := ""
	if m.opts.AddEdgeID {
		idProp = kgx.PropEdgeID
	}

	return newKWayCursor(m.edgeSpills, &m.mergedEdges, idProp)
}

// MergedNodeCount implements Merger. Valid once the node cursor is drained.
func (m *DiskMerger) MergedNodeCount() int { return m.mergedNodes }

// MergedEdgeCount implements Merger. Valid once the edge cursor is drained.
func (m *DiskMerger) MergedEdgeCount() int { return m.mergedEdges }

// Close removes any remaining temp state. Reading normally cleans up file
// by file; Close covers abandoned mergers.
func (m *DiskMerger) Close() error {
	return os.RemoveAll(m.tempDir)
}

func (m *DiskMerger) spillNodes() error {
	spilled, count, err := m.spill(m.nodeBuf)
	if err != nil {
		return err
	}

	m.mergedNodes += count
	m.nodeSpills = append(m.nodeSpills, spilled)
	m.nodeBuf = m.nodeBuf[:0]

	return nil
}

func (m *DiskMerger) spillEdges() error {
	spilled, count, err := m.spill(m.edgeBuf)
	if err != nil {
		return err
	}

	m.mergedEdges += count
	m.edgeSpills = append(m.edgeSpills, spilled)
	m.edgeBuf = m.edgeBuf[:0]

	return nil
}

// spill sorts the buffer by key, merges adjacent duplicates, and writes one
// lz4-compressed run file. Returns the file path and the number of
// duplicates collapsed within the run.
func (m *DiskMerger) spill(buf []spillRecord) (string, int, error) {
	sort.Slice(buf, func(i, j int) bool { return buf[i].Key < buf[j].Key })

	m.spillSeq++
	path := filepath.Join(m.tempDir, fmt.Sprintf("run_%05d.jsonl.lz4", m.spillSeq))

	file, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create spill file: %w", err)
	}

	zw := lz4.NewWriter(file)
	bw := bufio.NewWriter(zw)

	merged := 0
	i := 0

	for i < len(buf) {
		record := buf[i]

		// Collapse the run of equal keys that follows.
		for i+1 < len(buf) && buf[i+1].Key == record.Key {
			kgx.MergeEntities(record.Entity, buf[i+1].Entity)

			merged++
			i++
		}

		i++

		writeErr := writeSpillRecord(bw, record)
		if writeErr != nil {
			file.Close()

			return "", 0, writeErr
		}
	}

	flushErr := bw.Flush()
	if flushErr == nil {
		flushErr = zw.Close()
	}

	closeErr := file.Close()

	if flushErr != nil {
		return "", 0, fmt.Errorf("flush spill file: %w", flushErr)
	}

	if closeErr != nil {
		return "", 0, fmt.Errorf("close spill file: %w", closeErr)
	}

	return path, merged, nil
}

func writeSpillRecord(bw *bufio.Writer, record spillRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal spill record: %w", err)
	}

	_, writeErr := bw.Write(data)
	if writeErr == nil {
		writeErr = bw.WriteByte('\n')
	}

	if writeErr != nil {
		return fmt.Errorf("write spill record: %w", writeErr)
	}

	return nil
}
