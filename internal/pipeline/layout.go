package pipeline

import "path/filepath"

// File names inside the per-source directory tree.
const (
	sourceNodesFile = "source_nodes.jsonl"
	sourceEdgesFile = "source_edges.jsonl"

	normalizedNodesFile = "normalized_nodes.jsonl"
	normalizedEdgesFile = "normalized_edges.jsonl"
	nodeMapFile         = "norm_node_map.json"
	nodeFailuresFile    = "norm_node_failures.log"
	predicateMapFile    = "norm_predicate_map.json"

	suppNodesFile     = "supp_nodes.jsonl"
	suppEdgesFile     = "supp_edges.jsonl"
	suppNormNodesFile = "supp_norm_nodes.jsonl"
	suppNormEdgesFile = "supp_norm_edges.jsonl"

	qcReportFile = "qc_results.json"
)

// Layout maps a source's versions onto the storage directory tree. The
// layout encodes parsing and normalization versions so multiple
// combinations coexist under one source version.
type Layout struct {
	Root string
}

// SourceDir is the top-level directory of one source.
func (l Layout) SourceDir(sourceID string) string {
	return filepath.Join(l.Root, sourceID)
}

// MetaPath locates the source's metadata document.
func (l Layout) MetaPath(sourceID string) string {
	return filepath.Join(l.SourceDir(sourceID), sourceID+".meta.json")
}

// VersionDir is the directory of one source version.
func (l Layout) VersionDir(sourceID, sourceVersion string) string {
	return filepath.Join(l.SourceDir(sourceID), sourceVersion)
}

// RawDir holds the fetched raw files; the parser owns its contents.
func (l Layout) RawDir(sourceID, sourceVersion string) string {
	return filepath.Join(l.VersionDir(sourceID, sourceVersion), "source")
}

// ParsedDir holds one parsing's output.
func (l Layout) ParsedDir(sourceID, sourceVersion, parsingVersion string) string {
	return filepath.Join(l.VersionDir(sourceID, sourceVersion), "parsed_"+parsingVersion)
}

// SourceNodesPath is the parser's node output.
func (l Layout) SourceNodesPath(sourceID, sourceVersion, parsingVersion string) string {
	return filepath.Join(l.ParsedDir(sourceID, sourceVersion, parsingVersion), sourceNodesFile)
}

// SourceEdgesPath is the parser's edge output.
func (l Layout) SourceEdgesPath(sourceID, sourceVersion, parsingVersion string) string {
	return filepath.Join(l.ParsedDir(sourceID, sourceVersion, parsingVersion), sourceEdgesFile)
}

// NormalizedDir holds one normalization of one parsing.
func (l Layout) NormalizedDir(sourceID, sourceVersion, parsingVersion, normVersion string) string {
	return filepath.Join(l.ParsedDir(sourceID, sourceVersion, parsingVersion), "normalized_"+normVersion)
}

// NormalizedNodesPath is the normalized node file.
func (l Layout) NormalizedNodesPath(sourceID, sourceVersion, parsingVersion, normVersion string) string {
	return filepath.Join(l.NormalizedDir(sourceID, sourceVersion, parsingVersion, normVersion), normalizedNodesFile)
}

// NormalizedEdgesPath is the normalized edge file.
func (l Layout) NormalizedEdgesPath(sourceID, sourceVersion, parsingVersion, normVersion string) string {
	return filepath.Join(l.NormalizedDir(sourceID, sourceVersion, parsingVersion, normVersion), normalizedEdgesFile)
}

// NodeMapPath is the original → normalized node id map output.
func (l Layout) NodeMapPath(sourceID, sourceVersion, parsingVersion, normVersion string) string {
	return filepath.Join(l.NormalizedDir(sourceID, sourceVersion, parsingVersion, normVersion), nodeMapFile)
}

// NodeFailuresPath is the unresolvable-identifier log output.
func (l Layout) NodeFailuresPath(sourceID, sourceVersion, parsingVersion, normVersion string) string {
	return filepath.Join(l.NormalizedDir(sourceID, sourceVersion, parsingVersion, normVersion), nodeFailuresFile)
}

// PredicateMapPath is the predicate resolution map output.
func (l Layout) PredicateMapPath(sourceID, sourceVersion, parsingVersion, normVersion string) string {
	return filepath.Join(l.NormalizedDir(sourceID, sourceVersion, parsingVersion, normVersion), predicateMapFile)
}

// QCReportPath is the per-source QC report output.
func (l Layout) QCReportPath(sourceID, sourceVersion, parsingVersion, normVersion string) string {
	return filepath.Join(l.NormalizedDir(sourceID, sourceVersion, parsingVersion, normVersion), qcReportFile)
}

// SupplementalDir holds one supplementation of one normalization.
func (l Layout) SupplementalDir(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion string) string {
	return filepath.Join(l.NormalizedDir(sourceID, sourceVersion, parsingVersion, normVersion), "supplemental_"+suppVersion)
}

// SuppNodesPath is the raw supplementation node output.
func (l Layout) SuppNodesPath(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion string) string {
	return filepath.Join(l.SupplementalDir(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion), suppNodesFile)
}

// SuppEdgesPath is the raw supplementation edge output.
func (l Layout) SuppEdgesPath(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion string) string {
	return filepath.Join(l.SupplementalDir(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion), suppEdgesFile)
}

// SuppNormNodesPath is the re-normalized supplementation node output.
func (l Layout) SuppNormNodesPath(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion string) string {
	return filepath.Join(l.SupplementalDir(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion), suppNormNodesFile)
}

// SuppNormEdgesPath is the re-normalized supplementation edge output.
func (l Layout) SuppNormEdgesPath(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion string) string {
	return filepath.Join(l.SupplementalDir(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion), suppNormEdgesFile)
}
