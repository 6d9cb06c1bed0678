// Package graphspec parses and validates the declarative YAML documents
// that describe which graphs to build from which sources.
package graphspec

import (
	"errors"

	"github.com/robokop-kg/orion/internal/normalize"
)

// ErrConfiguration marks a malformed or inconsistent graph spec: nothing is
// written, the operator fixes the document.
var ErrConfiguration = errors.New("graph spec configuration error")

// VersionLatest is the literal that defers a normalization service version
// to whatever the service currently reports.
const VersionLatest = "latest"

// MergeStrategy selects how one input participates in a graph merge.
type MergeStrategy string

// Merge strategies, applied in this order: all primary sources first, then
// connected subsets, then unmerged appends.
const (
	StrategyPrimary             MergeStrategy = ""
	StrategyConnectedEdgeSubset MergeStrategy = "connected_edge_subset"
	StrategyDontMergeEdges      MergeStrategy = "dont_merge_edges"
)

// SourceSpec is one data source entry in a graph.
type SourceSpec struct {
	SourceID       string        `yaml:"source_id"`
	SourceVersion  string        `yaml:"source_version,omitempty"`
	ParsingVersion string        `yaml:"parsing_version,omitempty"`
	MergeStrategy  MergeStrategy `yaml:"merge_strategy,omitempty"`

	// ResourceHog forces the disk-backed merger for any graph including
	// this source.
	ResourceHog bool `yaml:"resource_hog,omitempty"`
}

// SubgraphSpec references another graph whose output is merged in.
type SubgraphSpec struct {
	GraphID       string        `yaml:"graph_id"`
	GraphVersion  string        `yaml:"graph_version,omitempty"`
	MergeStrategy MergeStrategy `yaml:"merge_strategy,omitempty"`
}

// GraphSpec describes one graph to build.
type GraphSpec struct {
	GraphID          string   `yaml:"graph_id"`
	GraphName        string   `yaml:"graph_name,omitempty"`
	GraphDescription string   `yaml:"graph_description,omitempty"`
	GraphURL         string   `yaml:"graph_url,omitempty"`
	GraphVersion     string   `yaml:"graph_version,omitempty"`
	OutputFormats    []string `yaml:"output_format,omitempty"`

	NodeNormalizationVersion string `yaml:"node_normalization_version,omitempty"`
	EdgeNormalizationVersion string `yaml:"edge_normalization_version,omitempty"`
	Conflation               bool   `yaml:"conflation,omitempty"`

	// StrictNormalization defaults to true when absent.
	StrictNormalization *bool `yaml:"strict_normalization,omitempty"`

	EdgeMergingAttributes []string `yaml:"edge_merging_attributes,omitempty"`
	EdgeIDAddition        bool     `yaml:"edge_id_addition,omitempty"`

	// SaveMemory forces the disk-backed merger regardless of graph size.
	SaveMemory bool `yaml:"save_memory,omitempty"`

	Sources   []SourceSpec   `yaml:"sources,omitempty"`
	Subgraphs []SubgraphSpec `yaml:"subgraphs,omitempty"`
}

// Document is a parsed graph spec file.
type Document struct {
	Graphs []GraphSpec `yaml:"graphs"`
}

// Graph returns the spec for one graph id.
func (d *Document) Graph(graphID string) (*GraphSpec, error) {
	for i := range d.Graphs {
		if d.Graphs[i].GraphID == graphID {
			return &d.Graphs[i], nil
		}
	}

	return nil, errorf("graph %q not found in spec", graphID)
}

// Scheme derives the graph's normalization scheme. The given versions
// replace any `latest` literals; they come from ResolveServiceVersions or
// an operator pin.
func (g *GraphSpec) Scheme(nodeNormVersion, edgeNormVersion string) normalize.Scheme {
	node := g.NodeNormalizationVersion
	if node == "" || node == VersionLatest {
		node = nodeNormVersion
	}

	edge := g.EdgeNormalizationVersion
	if edge == "" || edge == VersionLatest {
		edge = edgeNormVersion
	}

	strict := true
	if g.StrictNormalization != nil {
		strict = *g.StrictNormalization
	}

	return normalize.Scheme{
		NodeNormVersion: node,
		EdgeNormVersion: edge,
		NormCodeVersion: normalize.CodeVersion,
		Strict:          strict,
		Conflation:      g.Conflation,
	}
}
