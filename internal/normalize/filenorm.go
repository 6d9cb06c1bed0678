package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/robokop-kg/orion/internal/kgx"
)

// Default streaming chunk sizes.
const (
	DefaultEdgeChunkSize = 1_000_000
	DefaultNodeChunkSize = 50_000
)

// Counts tracks what one file normalization did.
type Counts struct {
	SourceNodes        int `json:"source_nodes"`
	NormalizedNodes    int `json:"normalized_nodes"`
	NodeFailures       int `json:"node_failures"`
	SourceEdges        int `json:"source_edges"`
	NormalizedEdges    int `json:"normalized_edges"`
	EdgeSplits         int `json:"edge_splits"`
	EdgesFailedByNodes int `json:"edges_failed_due_to_nodes"`
	SubclassLoops      int `json:"subclass_loops_removed"`
	UnconnectedRemoved int `json:"unconnected_nodes_removed"`
}

// FileNormalizerConfig wires one normalization run.
type FileNormalizerConfig struct {
	SourceNodesPath string
	SourceEdgesPath string

	NormalizedNodesPath string
	NormalizedEdgesPath string
	NodeMapPath         string
	PredicateMapPath    string
	FailureLogPath      string

	// DefaultProvenance fills primary_knowledge_source on edges that carry
	// neither it nor a structured sources list.
	DefaultProvenance string

	// Pre-normalization hints: when set, the corresponding field is taken
	// as already canonical and the lookup is bypassed.
	SubjectPreNormalized    bool
	ObjectPreNormalized     bool
	PredicatesPreNormalized bool

	// PreserveUnconnectedNodes skips the final unconnected-node sweep.
	PreserveUnconnectedNodes bool

	EdgeChunkSize int
	NodeChunkSize int
}

// FileNormalizer streams a parser's node and edge files through the node
// and edge normalizers, rewriting edges with normalized identifiers.
type FileNormalizer struct {
	nodes  *NodeNormalizer
	edges  *EdgeNormalizer
	cfg    FileNormalizerConfig
	logger *slog.Logger

	counts Counts
}

// NewFileNormalizer assembles a file normalizer from the two lookups'
// owners. The lookup maps are per-instance; nothing is shared across
// stages.
func NewFileNormalizer(nodes *NodeNormalizer, edges *EdgeNormalizer, cfg FileNormalizerConfig, logger *slog.Logger) *FileNormalizer {
	if cfg.EdgeChunkSize <= 0 {
		cfg.EdgeChunkSize = DefaultEdgeChunkSize
	}

	if cfg.NodeChunkSize <= 0 {
		cfg.NodeChunkSize = DefaultNodeChunkSize
	}

	return &FileNormalizer{nodes: nodes, edges: edges, cfg: cfg, logger: logger}
}

// Counts returns the run's counters. Valid after Normalize returns.
func (f *FileNormalizer) Counts() Counts { return f.counts }

// Normalize runs the full pass: nodes, then edges, then the
// unconnected-node sweep, then the lookup-map and failure-log outputs.
func (f *FileNormalizer) Normalize(ctx context.Context) error {
	err := f.normalizeNodeFile(ctx)
	if err != nil {
		return err
	}

	err = f.normalizeEdgeFile(ctx)
	if err != nil {
		return err
	}

	if !f.cfg.PreserveUnconnectedNodes {
		err = f.removeUnconnectedNodes()
		if err != nil {
			return err
		}
	}

	return f.writeLookupOutputs()
}

// normalizeNodeFile streams the source node file through the node
// normalizer into the normalized node output, deduplicating by id.
func (f *FileNormalizer) normalizeNodeFile(ctx context.Context) error {
	reader, err := kgx.OpenReader(f.cfg.SourceNodesPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	writer, err := kgx.NewWriter(f.cfg.NormalizedNodesPath, "", true)
	if err != nil {
		return err
	}

	writeErr := f.streamNodes(ctx, reader, writer)

	closeErr := writer.Close()

	if writeErr != nil {
		return writeErr
	}

	return closeErr
}

func (f *FileNormalizer) streamNodes(ctx context.Context, reader *kgx.Reader, writer *kgx.Writer) error {
	for {
		chunk, readErr := reader.NextChunk(f.cfg.NodeChunkSize)

		f.counts.SourceNodes += len(chunk)

		if len(chunk) > 0 {
			normalized, err := f.nodes.NormalizeNodes(ctx, chunk)
			if err != nil {
				return err
			}

			for _, node := range normalized {
				_, nodeErr := writer.WriteNode(node)
				if nodeErr != nil {
					return nodeErr
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				f.counts.NormalizedNodes = writer.NodeCount()
				f.counts.NodeFailures = len(f.nodes.Failures())

				return nil
			}

			return readErr
		}
	}
}

// normalizeEdgeFile streams the source edge file in chunks: each chunk's
// unresolved predicates are batch-resolved first, then every edge is
// rewritten and emitted.
func (f *FileNormalizer) normalizeEdgeFile(ctx context.Context) error {
	reader, err := kgx.OpenReader(f.cfg.SourceEdgesPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	writer, err := kgx.NewWriter("", f.cfg.NormalizedEdgesPath, false)
	if err != nil {
		return err
	}

	writeErr := f.streamEdges(ctx, reader, writer)

	closeErr := writer.Close()

	if writeErr != nil {
		return writeErr
	}

	return closeErr
}

func (f *FileNormalizer) streamEdges(ctx context.Context, reader *kgx.Reader, writer *kgx.Writer) error {
	for {
		chunk, readErr := reader.NextChunk(f.cfg.EdgeChunkSize)

		f.counts.SourceEdges += len(chunk)

		if len(chunk) > 0 {
			err := f.processEdgeChunk(ctx, chunk, writer)
			if err != nil {
				return err
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				f.counts.NormalizedEdges = writer.EdgeCount()

				return nil
			}

			return readErr
		}
	}
}

func (f *FileNormalizer) processEdgeChunk(ctx context.Context, chunk []kgx.Entity, writer *kgx.Writer) error {
	if !f.cfg.PredicatesPreNormalized {
		predicates := uniquePredicates(chunk)

		err := f.edges.NormalizePredicates(ctx, predicates)
		if err != nil {
			return err
		}
	}

	for _, edge := range chunk {
		err := f.processEdge(edge, writer)
		if err != nil {
			return err
		}
	}

	return nil
}

// processEdge rewrites one source edge into zero or more output edges.
func (f *FileNormalizer) processEdge(edge kgx.Entity, writer *kgx.Writer) error {
	subjects, subjectOK := f.resolveEndpoint(edge.Subject(), f.cfg.SubjectPreNormalized)
	objects, objectOK := f.resolveEndpoint(edge.Object(), f.cfg.ObjectPreNormalized)

	if !subjectOK || !objectOK || len(subjects) == 0 || len(objects) == 0 {
		f.counts.EdgesFailedByNodes++

		return nil
	}

	mapping := f.resolvePredicate(edge.Predicate())

	emitted := 0

	for _, subject := range subjects {
		for _, object := range objects {
			written, err := f.emitEdge(edge, subject, object, mapping, writer)
			if err != nil {
				return err
			}

			if written {
				emitted++
			}
		}
	}

	if emitted > 1 {
		f.counts.EdgeSplits++
	}

	return nil
}

// resolveEndpoint maps one edge endpoint through the node lookup. The
// second return is false when the id is absent from the lookup entirely
// (the node never appeared in the node file).
func (f *FileNormalizer) resolveEndpoint(id string, preNormalized bool) ([]string, bool) {
	if preNormalized {
		return []string{id}, true
	}

	mapped, known := f.nodes.Lookup()[id]
	if !known {
		f.logger.Warn("edge references unknown node id", "id", id)

		return nil, false
	}

	return mapped, true
}

func (f *FileNormalizer) resolvePredicate(predicate string) PredicateMapping {
	if f.cfg.PredicatesPreNormalized {
		return PredicateMapping{Predicate: predicate}
	}

	return f.edges.Resolve(predicate)
}

// emitEdge builds and writes one output edge for a (subject, object) pair.
// Returns false when the edge was dropped as a subclass_of self-loop.
func (f *FileNormalizer) emitEdge(source kgx.Entity, subject, object string, mapping PredicateMapping, writer *kgx.Writer) (bool, error) {
	if mapping.Predicate == kgx.SubclassOfPredicate && subject == object {
		f.counts.SubclassLoops++

		return false, nil
	}

	edge := source.Clone()

	edge[kgx.PropOriginalSubject] = source.Subject()
	edge[kgx.PropOriginalObject] = source.Object()
	edge[kgx.PropSubject] = subject
	edge[kgx.PropObject] = object
	edge[kgx.PropPredicate] = mapping.Predicate

	for key, value := range mapping.Properties {
		edge[key] = value
	}

	if edge.PrimaryKnowledgeSource() == "" && !hasSourcesList(edge) {
		edge[kgx.PropPrimaryKnowledgeSource] = f.cfg.DefaultProvenance
	}

	if mapping.Inverted {
		edge = invertEdge(edge)
	}

	writeErr := writer.WriteEdge(edge)
	if writeErr != nil {
		return false, writeErr
	}

	return true, nil
}

// invertEdge swaps subject and object and renames every property whose
// name mentions one side to mention the other (subject_aspect_qualifier
// becomes object_aspect_qualifier). original_subject and original_object
// are provenance: they keep naming the input record's own subject and
// object and are never renamed.
func invertEdge(edge kgx.Entity) kgx.Entity {
	out := make(kgx.Entity, len(edge))

	for key, value := range edge {
		switch key {
		case kgx.PropSubject:
			out[kgx.PropObject] = value
		case kgx.PropObject:
			out[kgx.PropSubject] = value
		case kgx.PropOriginalSubject, kgx.PropOriginalObject:
			out[key] = value
		default:
			out[swapSubjectObject(key)] = value
		}
	}

	return out
}

// swapSubjectObject renames a property key across an inversion.
func swapSubjectObject(key string) string {
	switch {
	case strings.Contains(key, kgx.PropSubject):
		return strings.ReplaceAll(key, kgx.PropSubject, kgx.PropObject)
	case strings.Contains(key, kgx.PropObject):
		return strings.ReplaceAll(key, kgx.PropObject, kgx.PropSubject)
	default:
		return key
	}
}

// removeUnconnectedNodes rewrites the normalized node file keeping only
// nodes referenced by at least one normalized edge.
func (f *FileNormalizer) removeUnconnectedNodes() error {
	referenced := make(map[string]struct{})

	err := kgx.ForEach(f.cfg.NormalizedEdgesPath, func(edge kgx.Entity) error {
		referenced[edge.Subject()] = struct{}{}
		referenced[edge.Object()] = struct{}{}

		return nil
	})
	if err != nil {
		return err
	}

	keptPath := f.cfg.NormalizedNodesPath + ".connected"

	writer, err := kgx.NewWriter(keptPath, "", false)
	if err != nil {
		return err
	}

	removed := 0

	scanErr := kgx.ForEach(f.cfg.NormalizedNodesPath, func(node kgx.Entity) error {
		if _, connected := referenced[node.ID()]; !connected {
			removed++

			return nil
		}

		_, writeErr := writer.WriteNode(node)

		return writeErr
	})

	closeErr := writer.Close()

	if scanErr != nil {
		return scanErr
	}

	if closeErr != nil {
		return closeErr
	}

	f.counts.UnconnectedRemoved = removed
	f.counts.NormalizedNodes -= removed

	return os.Rename(keptPath, f.cfg.NormalizedNodesPath)
}

// writeLookupOutputs persists the node map, predicate map, and failure log
// beside the normalized files.
func (f *FileNormalizer) writeLookupOutputs() error {
	err := writeJSON(f.cfg.NodeMapPath, f.nodes.Lookup())
	if err != nil {
		return err
	}

	err = writeJSON(f.cfg.PredicateMapPath, predicateMapDocument(f.edges.Lookup()))
	if err != nil {
		return err
	}

	failures := f.nodes.Failures()

	var b strings.Builder

	for _, id := range failures {
		b.WriteString(id)
		b.WriteByte('\n')
	}

	writeErr := os.WriteFile(f.cfg.FailureLogPath, []byte(b.String()), 0o644)
	if writeErr != nil {
		return fmt.Errorf("write failure log: %w", writeErr)
	}

	return nil
}

// predicateMapDocument flattens the predicate lookup for JSON output.
func predicateMapDocument(lookup map[string]PredicateMapping) map[string]map[string]any {
	out := make(map[string]map[string]any, len(lookup))

	for original, mapping := range lookup {
		entry := map[string]any{
			"predicate": mapping.Predicate,
			"inverted":  mapping.Inverted,
		}

		for key, value := range mapping.Properties {
			entry[key] = value
		}

		out[original] = entry
	}

	return out
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	writeErr := os.WriteFile(path, append(data, '\n'), 0o644)
	if writeErr != nil {
		return fmt.Errorf("write %s: %w", path, writeErr)
	}

	return nil
}

// hasSourcesList reports whether the edge carries a structured sources
// list (retrieval provenance) in either accepted property.
func hasSourcesList(edge kgx.Entity) bool {
	for _, prop := range []string{kgx.PropSources, kgx.PropRetrievalSources} {
		if list, ok := edge[prop].([]any); ok && len(list) > 0 {
			return true
		}
	}

	return false
}

// uniquePredicates collects the distinct predicates of an edge chunk.
func uniquePredicates(chunk []kgx.Entity) []string {
	seen := make(map[string]struct{})

	var out []string

	for _, edge := range chunk {
		p := edge.Predicate()
		if _, dup := seen[p]; dup {
			continue
		}

		seen[p] = struct{}{}
		out = append(out, p)
	}

	return out
}
