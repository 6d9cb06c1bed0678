package kgx

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// readerBufferSize is the initial buffer for line reads. Variant nodes carry
// large equivalent-identifier lists, so lines can run to megabytes.
const readerBufferSize = 256 * 1024

// Reader streams entities from a JSONL file, one JSON object per line.
// Files ending in ".gz" are decompressed transparently.
type Reader struct {
	path string
	file *os.File
	gz   *gzip.Reader
	br   *bufio.Reader
	line int
}

// OpenReader opens a JSONL file for streaming.
func OpenReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open jsonl: %w", err)
	}

	r := &Reader{path: path, file: file}

	if strings.HasSuffix(path, ".gz") {
		gz, gzErr := gzip.NewReader(file)
		if gzErr != nil {
			file.Close()

			return nil, fmt.Errorf("open gzip jsonl %s: %w", path, gzErr)
		}

		r.gz = gz
		r.br = bufio.NewReaderSize(gz, readerBufferSize)
	} else {
		r.br = bufio.NewReaderSize(file, readerBufferSize)
	}

	return r, nil
}

// Next returns the next entity, or io.EOF when the stream is exhausted.
// Blank lines are skipped.
func (r *Reader) Next() (Entity, error) {
	for {
		line, err := r.br.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}

			return nil, fmt.Errorf("read %s: %w", r.path, err)
		}

		r.line++

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}

			continue
		}

		var entity Entity

		decodeErr := json.Unmarshal(trimmed, &entity)
		if decodeErr != nil {
			return nil, fmt.Errorf("parse %s line %d: %w", r.path, r.line, decodeErr)
		}

		return entity, nil
	}
}

// NextChunk accumulates up to n entities. A shorter final chunk is returned
// together with io.EOF; callers process the chunk before honoring the error.
func (r *Reader) NextChunk(n int) ([]Entity, error) {
	chunk := make([]Entity, 0, n)

	for len(chunk) < n {
		entity, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return chunk, io.EOF
			}

			return chunk, err
		}

		chunk = append(chunk, entity)
	}

	return chunk, nil
}

// Close releases the underlying file handles.
func (r *Reader) Close() error {
	if r.gz != nil {
		r.gz.Close()
	}

	return r.file.Close()
}

// ForEach streams every entity of a JSONL file through fn, closing the file
// on all exit paths.
func ForEach(path string, fn func(Entity) error) error {
	reader, err := OpenReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		entity, nextErr := reader.Next()
		if nextErr != nil {
			if errors.Is(nextErr, io.EOF) {
				return nil
			}

			return nextErr
		}

		fnErr := fn(entity)
		if fnErr != nil {
			return fnErr
		}
	}
}
