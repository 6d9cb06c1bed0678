package graphbuilder

import "path/filepath"

// Graph output file names.
const (
	nodesFile    = "nodes.jsonl"
	edgesFile    = "edges.jsonl"
	qcReportFile = "qc_results.json"
)

// Layout maps built graphs onto the graphs directory tree.
type Layout struct {
	Root string
}

// GraphDir is the output directory of one graph version.
func (l Layout) GraphDir(graphID, graphVersion string) string {
	return filepath.Join(l.Root, graphID, graphVersion)
}

// MetaPath locates the graph's metadata document.
func (l Layout) MetaPath(graphID, graphVersion string) string {
	return filepath.Join(l.GraphDir(graphID, graphVersion), graphID+".meta.json")
}

// NodesPath is the merged node output.
func (l Layout) NodesPath(graphID, graphVersion string) string {
	return filepath.Join(l.GraphDir(graphID, graphVersion), nodesFile)
}

// EdgesPath is the merged edge output.
func (l Layout) EdgesPath(graphID, graphVersion string) string {
	return filepath.Join(l.GraphDir(graphID, graphVersion), edgesFile)
}

// QCReportPath is the graph QC report output.
func (l Layout) QCReportPath(graphID, graphVersion string) string {
	return filepath.Join(l.GraphDir(graphID, graphVersion), qcReportFile)
}
