package merge

import (
	"bufio"
	"container/heap"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"

	"github.com/robokop-kg/orion/internal/kgx"
)

// runReader streams one sorted spill file.
type runReader struct {
	path string
	file *os.File
	br   *bufio.Reader
}

func openRun(path string) (*runReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open spill run: %w", err)
	}

	return &runReader{
		path: path,
		file: file,
		br:   bufio.NewReaderSize(lz4.NewReader(file), readRunBufferSize),
	}, nil
}

// readRunBufferSize sizes the per-run decompression buffer.
const readRunBufferSize = 128 * 1024

// next returns the next record, or io.EOF. On EOF the run's file is closed
// and deleted: each temp file is owned by this reader and is gone as soon
// as it is drained.
func (r *runReader) next() (spillRecord, error) {
	line, err := r.br.ReadBytes('\n')
	if len(line) <= 1 && err != nil {
		r.dispose()

		if errors.Is(err, io.EOF) {
			return spillRecord{}, io.EOF
		}

		return spillRecord{}, fmt.Errorf("read spill run %s: %w", r.path, err)
	}

	var record spillRecord

	decodeErr := json.Unmarshal(line, &record)
	if decodeErr != nil {
		r.dispose()

		return spillRecord{}, fmt.Errorf("parse spill run %s: %w", r.path, decodeErr)
	}

	return record, nil
}

func (r *runReader) dispose() {
	if r.file != nil {
		r.file.Close()
		os.Remove(r.path)
		r.file = nil
	}
}

// heapEntry is one run's current head in the merge heap.
type heapEntry struct {
	record spillRecord
	run    *runReader
}

// runHeap orders run heads by key.
type runHeap []heapEntry

func (h runHeap) Len() int            { return len(h) }
func (h runHeap) Less(i, j int) bool  { return h[i].record.Key < h[j].record.Key }
func (h runHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *runHeap) Push(x any)         { *h = append(*h, x.(heapEntry)) }
func (h *runHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]

	return entry
}

// kwayCursor merges K sorted runs into one deduplicated stream. At each
// step every run whose head equals the global minimum key is advanced and
// its record merged in; duplicates collapsed this way increment *mergedOut.
type kwayCursor struct {
	heap      runHeap
	mergedOut *int
	idProp    string
	closed    bool
}

func newKWayCursor(paths []string, mergedOut *int, idProp string) (Cursor, error) {
	cursor := &kwayCursor{mergedOut: mergedOut, idProp: idProp}

	for _, path := range paths {
		run, err := openRun(path)
		if err != nil {
			cursor.Close()

			return nil, err
		}

		record, readErr := run.next()
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				continue // Empty run; already disposed.
			}

			cursor.Close()

			return nil, readErr
		}

		cursor.heap = append(cursor.heap, heapEntry{record: record, run: run})
	}

	heap.Init(&cursor.heap)

	return cursor, nil
}

// Next implements Cursor.
func (c *kwayCursor) Next() (kgx.Entity, error) {
	if c.heap.Len() == 0 {
		return nil, io.EOF
	}

	head := heap.Pop(&c.heap).(heapEntry)
	key := head.record.Key
	entity := head.record.Entity

	advanceErr := c.advance(head.run)
	if advanceErr != nil {
		return nil, advanceErr
	}

	// Merge every other run currently positioned on the same key.
	for c.heap.Len() > 0 && c.heap[0].record.Key == key {
		dup := heap.Pop(&c.heap).(heapEntry)

		kgx.MergeEntities(entity, dup.record.Entity)
		*c.mergedOut++

		dupErr := c.advance(dup.run)
		if dupErr != nil {
			return nil, dupErr
		}
	}

	if c.idProp != "" {
		entity[c.idProp] = key
	}

	return entity, nil
}

// advance reads the run's next record back into the heap, dropping the run
// once exhausted.
func (c *kwayCursor) advance(run *runReader) error {
	record, err := run.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}

		return err
	}

	heap.Push(&c.heap, heapEntry{record: record, run: run})

	return nil
}

// Close implements Cursor, disposing any undrained runs.
func (c *kwayCursor) Close() error {
	if c.closed {
		return nil
	}

	c.closed = true

	for _, entry := range c.heap {
		entry.run.dispose()
	}

	c.heap = nil

	return nil
}
