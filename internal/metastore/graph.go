package metastore

// GraphSourceInfo records one source's contribution to a built graph.
type GraphSourceInfo struct {
	SourceID       string `json:"source_id"`
	SourceVersion  string `json:"source_version"`
	ReleaseVersion string `json:"release_version"`
	MergeStrategy  string `json:"merge_strategy,omitempty"`
}

// GraphCounts summarizes a merged graph.
type GraphCounts struct {
	Nodes       int `json:"nodes"`
	Edges       int `json:"edges"`
	MergedNodes int `json:"merged_nodes"`
	MergedEdges int `json:"merged_edges"`
}

// GraphMetadata is the durable state document for one (graph, version).
type GraphMetadata struct {
	GraphID      string `json:"graph_id"`
	GraphVersion string `json:"graph_version"`

	Build     StageState        `json:"build,omitzero"`
	QC        StageState        `json:"qc,omitzero"`
	Sources   []GraphSourceInfo `json:"sources,omitempty"`
	Subgraphs []GraphSourceInfo `json:"subgraphs,omitempty"`
	Counts    GraphCounts       `json:"counts,omitzero"`

	path string
}

func newGraphMetadata(graphID, graphVersion, path string) *GraphMetadata {
	return &GraphMetadata{
		GraphID:      graphID,
		GraphVersion: graphVersion,
		path:         path,
	}
}

// BuildStatus returns the merge/build stage status.
func (m *GraphMetadata) BuildStatus() Status { return m.Build.Effective() }

// SetBuildStatus transitions the build stage and persists the document.
func (m *GraphMetadata) SetBuildStatus(status Status, errMsg string) error {
	m.Build.mark(status, errMsg)

	return Save(m)
}

// QCStatus returns the QC stage status.
func (m *GraphMetadata) QCStatus() Status { return m.QC.Effective() }

// SetQCStatus transitions the QC stage and persists the document.
func (m *GraphMetadata) SetQCStatus(status Status, errMsg string) error {
	m.QC.mark(status, errMsg)

	return Save(m)
}
