// Package pipeline orchestrates the per-source state machine: fetch, parse,
// normalize, supplement, and QC, each gated by durable stage status so an
// interrupted run resumes exactly where it stopped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrBrokenSource marks a source input as permanently unusable. A loader
// wraps this sentinel when its upstream data can never be processed at the
// current version; the owning stage transitions to broken instead of failed
// and is never retried automatically.
var ErrBrokenSource = errors.New("source is permanently unusable")

// ErrUnknownSource marks a source id with no registered loader.
var ErrUnknownSource = errors.New("unknown source id")

// ParseResult reports what one parse produced.
type ParseResult struct {
	Nodes int
	Edges int

	// HasSequenceVariants requests the supplementation stage.
	HasSequenceVariants bool
}

// SourceLoader is the contract a source parser implements. Loaders live
// outside the core; the pipeline only drives them.
type SourceLoader interface {
	// SourceID names the source; must be unique within a registry.
	SourceID() string

	// LatestVersion queries the upstream for the newest source version.
	LatestVersion(ctx context.Context) (string, error)

	// ParsingVersion names the loader's current parsing algorithm.
	ParsingVersion() string

	// DefaultProvenance is the knowledge source recorded on edges that the
	// parser emits without explicit provenance.
	DefaultProvenance() string

	// Fetch downloads the raw files for one version into destDir.
	Fetch(ctx context.Context, sourceVersion, destDir string) error

	// Parse reads the raw files and writes KGX node and edge JSONL files to
	// the given paths.
	Parse(ctx context.Context, rawDir, nodesPath, edgesPath string) (ParseResult, error)
}

// Registry is the set of known source loaders.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]SourceLoader
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{loaders: make(map[string]SourceLoader)}
}

// Register adds a loader; a duplicate source id panics, as registration
// happens at startup from static wiring.
func (r *Registry) Register(loader SourceLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := loader.SourceID()
	if _, dup := r.loaders[id]; dup {
		panic(fmt.Sprintf("duplicate source loader: %s", id))
	}

	r.loaders[id] = loader
}

// Get returns the loader for a source id.
func (r *Registry) Get(sourceID string) (SourceLoader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	loader, ok := r.loaders[sourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}

	return loader, nil
}

// Known returns the registered source ids, sorted.
func (r *Registry) Known() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.loaders))
	for id := range r.loaders {
		out = append(out, id)
	}

	slices.Sort(out)

	return out
}
