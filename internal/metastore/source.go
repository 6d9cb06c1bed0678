package metastore

import (
	"github.com/robokop-kg/orion/internal/kgx"
)

// NormalizationCounts summarizes one normalization run.
type NormalizationCounts struct {
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

// SupplementationMetadata tracks the variant supplementation stage nested
// under one normalization.
type SupplementationMetadata struct {
	StageState

	Version string              `json:"version,omitempty"`
	Counts  NormalizationCounts `json:"counts,omitzero"`
}

// NormalizationMetadata tracks one normalization of one parsing, keyed by
// the scheme's composite version.
type NormalizationMetadata struct {
	StageState

	Counts           NormalizationCounts                 `json:"counts,omitzero"`
	Supplementations map[string]*SupplementationMetadata `json:"supplementations,omitempty"`
}

// ParsingMetadata tracks one parse of one source version.
type ParsingMetadata struct {
	StageState

	NodeCount           int                               `json:"node_count,omitempty"`
	EdgeCount           int                               `json:"edge_count,omitempty"`
	HasSequenceVariants bool                              `json:"has_sequence_variants,omitempty"`
	Normalizations      map[string]*NormalizationMetadata `json:"normalizations,omitempty"`
}

// ReleaseInfo names a concrete stable release of a source.
type ReleaseInfo struct {
	Version                string `json:"version"`
	SourceVersion          string `json:"source_version"`
	ParsingVersion         string `json:"parsing_version"`
	NormalizationVersion   string `json:"normalization_version"`
	SupplementationVersion string `json:"supplementation_version,omitempty"`
}

// SourceMetadata is the durable state document for one (source, version).
type SourceMetadata struct {
	SourceID      string `json:"source_id"`
	SourceVersion string `json:"source_version"`

	Fetch    StageState                  `json:"fetch,omitzero"`
	QC       StageState                  `json:"qc,omitzero"`
	Parsings map[string]*ParsingMetadata `json:"parsings,omitempty"`
	Releases map[string]*ReleaseInfo     `json:"releases,omitempty"`

	path string
}

// newSourceMetadata creates an initial document with all stages not started.
func newSourceMetadata(sourceID, sourceVersion, path string) *SourceMetadata {
	return &SourceMetadata{
		SourceID:      sourceID,
		SourceVersion: sourceVersion,
		path:          path,
	}
}

// FetchStatus returns the fetch stage status.
func (m *SourceMetadata) FetchStatus() Status { return m.Fetch.Effective() }

// SetFetchStatus transitions the fetch stage and persists the document.
func (m *SourceMetadata) SetFetchStatus(status Status, errMsg string) error {
	m.Fetch.mark(status, errMsg)

	return Save(m)
}

// Parsing returns the metadata for a parsing version, creating it on first
// access.
func (m *SourceMetadata) Parsing(parsingVersion string) *ParsingMetadata {
	if m.Parsings == nil {
		m.Parsings = make(map[string]*ParsingMetadata)
	}

	parsing, ok := m.Parsings[parsingVersion]
	if !ok {
		parsing = &ParsingMetadata{}
		m.Parsings[parsingVersion] = parsing
	}

	return parsing
}

// ParsingStatus returns the status of a parsing version without creating
// metadata for it.
func (m *SourceMetadata) ParsingStatus(parsingVersion string) Status {
	parsing, ok := m.Parsings[parsingVersion]
	if !ok {
		return StatusNotStarted
	}

	return parsing.Effective()
}

// SetParsingStatus transitions a parsing stage and persists the document.
func (m *SourceMetadata) SetParsingStatus(parsingVersion string, status Status, errMsg string) error {
	m.Parsing(parsingVersion).mark(status, errMsg)

	return Save(m)
}

// Normalization returns the metadata for a normalization of a parsing,
// creating it on first access.
func (m *SourceMetadata) Normalization(parsingVersion, normVersion string) *NormalizationMetadata {
	parsing := m.Parsing(parsingVersion)

	if parsing.Normalizations == nil {
		parsing.Normalizations = make(map[string]*NormalizationMetadata)
	}

	norm, ok := parsing.Normalizations[normVersion]
	if !ok {
		norm = &NormalizationMetadata{}
		parsing.Normalizations[normVersion] = norm
	}

	return norm
}

// NormalizationStatus returns the status of a normalization without
// creating metadata for it.
func (m *SourceMetadata) NormalizationStatus(parsingVersion, normVersion string) Status {
	parsing, ok := m.Parsings[parsingVersion]
	if !ok {
		return StatusNotStarted
	}

	norm, ok := parsing.Normalizations[normVersion]
	if !ok {
		return StatusNotStarted
	}

	return norm.Effective()
}

// SetNormalizationStatus transitions a normalization stage and persists.
func (m *SourceMetadata) SetNormalizationStatus(parsingVersion, normVersion string, status Status, errMsg string) error {
	m.Normalization(parsingVersion, normVersion).mark(status, errMsg)

	return Save(m)
}

// Supplementation returns the supplementation metadata nested under one
// normalization, creating it on first access.
func (m *SourceMetadata) Supplementation(parsingVersion, normVersion, suppVersion string) *SupplementationMetadata {
	norm := m.Normalization(parsingVersion, normVersion)

	if norm.Supplementations == nil {
		norm.Supplementations = make(map[string]*SupplementationMetadata)
	}

	supp, ok := norm.Supplementations[suppVersion]
	if !ok {
		supp = &SupplementationMetadata{Version: suppVersion}
		norm.Supplementations[suppVersion] = supp
	}

	return supp
}

// SupplementationStatus returns the status of a supplementation without
// creating metadata for it.
func (m *SourceMetadata) SupplementationStatus(parsingVersion, normVersion, suppVersion string) Status {
	parsing, ok := m.Parsings[parsingVersion]
	if !ok {
		return StatusNotStarted
	}

	norm, ok := parsing.Normalizations[normVersion]
	if !ok {
		return StatusNotStarted
	}

	supp, ok := norm.Supplementations[suppVersion]
	if !ok {
		return StatusNotStarted
	}

	return supp.Effective()
}

// SetSupplementationStatus transitions a supplementation stage and persists.
func (m *SourceMetadata) SetSupplementationStatus(parsingVersion, normVersion, suppVersion string, status Status, errMsg string) error {
	m.Supplementation(parsingVersion, normVersion, suppVersion).mark(status, errMsg)

	return Save(m)
}

// QCStatus returns the QC stage status.
func (m *SourceMetadata) QCStatus() Status { return m.QC.Effective() }

// SetQCStatus transitions the QC stage and persists the document.
func (m *SourceMetadata) SetQCStatus(status Status, errMsg string) error {
	m.QC.mark(status, errMsg)

	return Save(m)
}

// RecordRelease computes the deterministic release version for the given
// stage versions, records it, and persists the document.
func (m *SourceMetadata) RecordRelease(parsingVersion, normVersion, suppVersion string) (string, error) {
	version := ReleaseVersion(m.SourceID, m.SourceVersion, parsingVersion, normVersion, suppVersion)

	if m.Releases == nil {
		m.Releases = make(map[string]*ReleaseInfo)
	}

	m.Releases[version] = &ReleaseInfo{
		Version:                version,
		SourceVersion:          m.SourceVersion,
		ParsingVersion:         parsingVersion,
		NormalizationVersion:   normVersion,
		SupplementationVersion: suppVersion,
	}

	saveErr := Save(m)
	if saveErr != nil {
		return "", saveErr
	}

	return version, nil
}

// ClearFailures resets every failed stage in the document to not started
// and persists the result, so a fresh run retries them. Returns how many
// stages were cleared. Broken and stable stages are untouched.
func (m *SourceMetadata) ClearFailures() (int, error) {
	cleared := 0

	if m.Fetch.clearFailed() {
		cleared++
	}

	if m.QC.clearFailed() {
		cleared++
	}

	for _, parsing := range m.Parsings {
		if parsing.clearFailed() {
			cleared++
		}

		for _, norm := range parsing.Normalizations {
			if norm.clearFailed() {
				cleared++
			}

			for _, supp := range norm.Supplementations {
				if supp.clearFailed() {
					cleared++
				}
			}
		}
	}

	if cleared == 0 {
		return 0, nil
	}

	saveErr := Save(m)
	if saveErr != nil {
		return 0, saveErr
	}

	return cleared, nil
}

// ReleaseVersion derives the deterministic release name for a concrete
// (source, source_version, parsing, normalization, supplementation) tuple.
func ReleaseVersion(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion string) string {
	return kgx.Hash64(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion)
}
