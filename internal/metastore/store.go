package metastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// metaIndent pretty-prints metadata documents for operator inspection.
const metaIndent = "  "

// ErrStageInProgress is returned when a stage is observed in_progress at
// startup: either a concurrent run owns it or a previous run crashed. The
// pipeline refuses to proceed; the operator must clear the state.
var ErrStageInProgress = errors.New("stage is in_progress: concurrent run or crashed run, clear state to retry")

// document is any metadata type that knows its on-disk location.
type document interface {
	filePath() string
}

func (m *SourceMetadata) filePath() string { return m.path }
func (m *GraphMetadata) filePath() string  { return m.path }

// LoadOrInitSource loads the metadata document for (sourceID, sourceVersion)
// from path, or initializes a fresh one when the file does not exist. A
// document on disk for a different source version is superseded: state
// machines are per version, so a new version starts from scratch.
func LoadOrInitSource(path, sourceID, sourceVersion string) (*SourceMetadata, error) {
	meta := newSourceMetadata(sourceID, sourceVersion, path)

	err := loadInto(path, meta)
	if err != nil {
		return nil, err
	}

	if meta.SourceVersion != sourceVersion {
		meta = newSourceMetadata(sourceID, sourceVersion, path)
	}

	meta.path = path

	return meta, nil
}

// LoadOrInitGraph loads the metadata document for (graphID, graphVersion)
// from path, or initializes a fresh one when the file does not exist.
func LoadOrInitGraph(path, graphID, graphVersion string) (*GraphMetadata, error) {
	meta := newGraphMetadata(graphID, graphVersion, path)

	err := loadInto(path, meta)
	if err != nil {
		return nil, err
	}

	meta.path = path

	return meta, nil
}

// Save persists a metadata document atomically: the new content is written
// to a temp file in the same directory and renamed over the target, so a
// crash mid-write never corrupts existing state.
func Save(meta document) error {
	path := meta.filePath()
	if path == "" {
		return nil // Detached document (tests); nothing to persist.
	}

	dirErr := os.MkdirAll(filepath.Dir(path), 0o755)
	if dirErr != nil {
		return fmt.Errorf("create metadata dir: %w", dirErr)
	}

	data, err := json.MarshalIndent(meta, "", metaIndent)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create metadata temp file: %w", err)
	}

	_, writeErr := tmp.Write(append(data, '\n'))

	closeErr := tmp.Close()

	if writeErr != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("write metadata: %w", writeErr)
	}

	if closeErr != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("close metadata temp file: %w", closeErr)
	}

	renameErr := os.Rename(tmp.Name(), path)
	if renameErr != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("replace metadata file: %w", renameErr)
	}

	return nil
}

// loadInto fills meta from an existing document, leaving it at its initial
// state when the file does not exist.
func loadInto(path string, meta any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("read metadata: %w", err)
	}

	decodeErr := json.Unmarshal(data, meta)
	if decodeErr != nil {
		return fmt.Errorf("parse metadata %s: %w", path, decodeErr)
	}

	return nil
}
