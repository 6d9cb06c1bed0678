// Package qc validates produced graphs: category and prefix distributions,
// biolink triple permissibility, and knowledge-source hygiene, summarized
// in a JSON report.
package qc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/robokop-kg/orion/internal/biolink"
	"github.com/robokop-kg/orion/internal/kgx"
)

// DefaultTopN bounds each distribution list in the report.
const DefaultTopN = 25

// maxTripleSamples bounds the impermissible-triple examples recorded.
const maxTripleSamples = 20

// CountEntry is one line of a distribution, largest first.
type CountEntry struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Warnings collects the non-fatal findings of a validation run.
type Warnings struct {
	ImpermissibleTriples       int      `json:"impermissible_triples"`
	ImpermissibleTripleSamples []string `json:"impermissible_triple_samples,omitempty"`
	EdgesWithUnknownNodes      int      `json:"edges_with_unknown_nodes"`
	EdgesWithoutProvenance     int      `json:"edges_without_provenance"`
	UnknownKnowledgeSources    []string `json:"unknown_knowledge_sources,omitempty"`
	DeprecatedKnowledgeSources []string `json:"deprecated_knowledge_sources,omitempty"`
}

// Report is the JSON QC result for one graph or source.
type Report struct {
	TotalNodes int `json:"total_nodes"`
	TotalEdges int `json:"total_edges"`

	Categories       []CountEntry `json:"category_distribution"`
	Prefixes         []CountEntry `json:"prefix_distribution"`
	Predicates       []CountEntry `json:"predicate_distribution"`
	KnowledgeSources []CountEntry `json:"knowledge_source_distribution"`

	Warnings Warnings `json:"warnings"`
}

// Validator performs the two-pass scan over a node/edge file pair.
type Validator struct {
	toolkit *biolink.Toolkit
	catalog *Catalog
	topN    int
}

// NewValidator creates a validator. A nil catalog disables knowledge-source
// checks.
func NewValidator(toolkit *biolink.Toolkit, catalog *Catalog) *Validator {
	return &Validator{toolkit: toolkit, catalog: catalog, topN: DefaultTopN}
}

// Validate runs both passes and writes the report. Findings are warnings in
// the report; only I/O and parse failures return an error.
func (v *Validator) Validate(ctx context.Context, nodesPath, edgesPath, reportPath string) error {
	report, err := v.Scan(ctx, nodesPath, edgesPath)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal qc report: %w", err)
	}

	writeErr := os.WriteFile(reportPath, append(data, '\n'), 0o644)
	if writeErr != nil {
		return fmt.Errorf("write qc report: %w", writeErr)
	}

	return nil
}

// Scan performs the two passes and returns the report without persisting it.
func (v *Validator) Scan(ctx context.Context, nodesPath, edgesPath string) (*Report, error) {
	report := &Report{}

	leaves, categoryCounts, prefixCounts, err := v.scanNodes(nodesPath, report)
	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	predicateCounts, sourceCounts, err := v.scanEdges(edgesPath, leaves, report)
	if err != nil {
		return nil, err
	}

	report.Categories = topEntries(categoryCounts, v.topN)
	report.Prefixes = topEntries(prefixCounts, v.topN)
	report.Predicates = topEntries(predicateCounts, v.topN)
	report.KnowledgeSources = topEntries(sourceCounts, v.topN)

	return report, nil
}

// scanNodes is pass 1: per-node leaf categories plus category and prefix
// distributions.
func (v *Validator) scanNodes(nodesPath string, report *Report) (map[string][]string, map[string]int, map[string]int, error) {
	leaves := make(map[string][]string)
	categoryCounts := make(map[string]int)
	prefixCounts := make(map[string]int)

	err := kgx.ForEach(nodesPath, func(node kgx.Entity) error {
		report.TotalNodes++

		id := node.ID()
		leaves[id] = v.toolkit.LeafCategories(node.Categories())

		for _, category := range node.Categories() {
			categoryCounts[category]++
		}

		prefixCounts[curiePrefix(id)]++

		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}

	return leaves, categoryCounts, prefixCounts, nil
}

// scanEdges is pass 2: triple permissibility, predicate and provenance
// distributions, knowledge-source hygiene.
func (v *Validator) scanEdges(edgesPath string, leaves map[string][]string, report *Report) (map[string]int, map[string]int, error) {
	predicateCounts := make(map[string]int)
	sourceCounts := make(map[string]int)

	unknownSources := make(map[string]struct{})
	deprecatedSources := make(map[string]struct{})

	err := kgx.ForEach(edgesPath, func(edge kgx.Entity) error {
		report.TotalEdges++

		predicate := edge.Predicate()
		predicateCounts[predicate]++

		v.checkTriple(edge, leaves, report)

		source := edge.PrimaryKnowledgeSource()
		if source == "" {
			report.Warnings.EdgesWithoutProvenance++

			return nil
		}

		sourceCounts[source]++

		if v.catalog == nil {
			return nil
		}

		switch {
		case !v.catalog.Known(source):
			unknownSources[source] = struct{}{}
		case v.catalog.Deprecated(source):
			deprecatedSources[source] = struct{}{}
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	report.Warnings.UnknownKnowledgeSources = sortedKeys(unknownSources)
	report.Warnings.DeprecatedKnowledgeSources = sortedKeys(deprecatedSources)

	return predicateCounts, sourceCounts, nil
}

// checkTriple validates one edge against the model's domain/range
// constraints using the endpoints' leaf categories.
func (v *Validator) checkTriple(edge kgx.Entity, leaves map[string][]string, report *Report) {
	subjectLeaves, subjectKnown := leaves[edge.Subject()]
	objectLeaves, objectKnown := leaves[edge.Object()]

	if !subjectKnown || !objectKnown {
		report.Warnings.EdgesWithUnknownNodes++

		return
	}

	if v.toolkit.PermittedTriple(subjectLeaves, edge.Predicate(), objectLeaves) {
		return
	}

	report.Warnings.ImpermissibleTriples++

	if len(report.Warnings.ImpermissibleTripleSamples) < maxTripleSamples {
		sample := fmt.Sprintf("%s %s %s", edge.Subject(), edge.Predicate(), edge.Object())
		report.Warnings.ImpermissibleTripleSamples = append(report.Warnings.ImpermissibleTripleSamples, sample)
	}
}

// curiePrefix extracts the namespace of a CURIE; ids without a colon fall
// into their own bucket.
func curiePrefix(id string) string {
	prefix, _, found := strings.Cut(id, ":")
	if !found {
		return "(no prefix)"
	}

	return prefix
}

// topEntries converts a count map into a descending list capped at n, ties
// broken by key for deterministic reports.
func topEntries(counts map[string]int, n int) []CountEntry {
	entries := make([]CountEntry, 0, len(counts))
	for key, count := range counts {
		entries = append(entries, CountEntry{Key: key, Count: count})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}

		return entries[i].Key < entries[j].Key
	})

	if len(entries) > n {
		entries = entries[:n]
	}

	return entries
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}

	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}

	sort.Strings(out)

	return out
}
