package graphbuilder

import (
	"fmt"

	"github.com/robokop-kg/orion/internal/graphspec"
	"github.com/robokop-kg/orion/internal/kgx"
	"github.com/robokop-kg/orion/internal/merge"
)

// mergeInput is one input's file set feeding a graph merge. A source with a
// supplementation contributes two file pairs.
type mergeInput struct {
	ID        string
	Strategy  graphspec.MergeStrategy
	NodeFiles []string
	EdgeFiles []string
}

// assemble feeds every input into the merger in the required strategy
// order: primary sources establish the node-id set, connected subsets are
// filtered against it, dont_merge edges are held back for verbatim append.
// Returns the edge files to append after the merged edges.
func assemble(merger merge.Merger, inputs []mergeInput) ([]string, error) {
	primaryIDs := make(map[string]struct{})

	for _, input := range byStrategy(inputs, graphspec.StrategyPrimary) {
		err := mergePrimary(merger, input, primaryIDs)
		if err != nil {
			return nil, fmt.Errorf("merge %s: %w", input.ID, err)
		}
	}

	for _, input := range byStrategy(inputs, graphspec.StrategyConnectedEdgeSubset) {
		err := mergeConnectedSubset(merger, input, primaryIDs)
		if err != nil {
			return nil, fmt.Errorf("merge %s: %w", input.ID, err)
		}
	}

	var appendEdgeFiles []string

	for _, input := range byStrategy(inputs, graphspec.StrategyDontMergeEdges) {
		for _, nodeFile := range input.NodeFiles {
			err := kgx.ForEach(nodeFile, merger.MergeNode)
			if err != nil {
				return nil, fmt.Errorf("merge %s: %w", input.ID, err)
			}
		}

		appendEdgeFiles = append(appendEdgeFiles, input.EdgeFiles...)
	}

	return appendEdgeFiles, nil
}

// mergePrimary merges all nodes and edges of a primary input, recording its
// node ids for later connected-subset filtering.
func mergePrimary(merger merge.Merger, input mergeInput, primaryIDs map[string]struct{}) error {
	for _, nodeFile := range input.NodeFiles {
		err := kgx.ForEach(nodeFile, func(node kgx.Entity) error {
			primaryIDs[node.ID()] = struct{}{}

			return merger.MergeNode(node)
		})
		if err != nil {
			return err
		}
	}

	for _, edgeFile := range input.EdgeFiles {
		err := kgx.ForEach(edgeFile, merger.MergeEdge)
		if err != nil {
			return err
		}
	}

	return nil
}

// mergeConnectedSubset merges only the edges touching the frozen primary
// node-id set, then pulls in the endpoint nodes on the other side. The
// primary set is not extended: connectivity is judged against the state
// before this input.
func mergeConnectedSubset(merger merge.Merger, input mergeInput, primaryIDs map[string]struct{}) error {
	needed := make(map[string]struct{})

	for _, edgeFile := range input.EdgeFiles {
		err := kgx.ForEach(edgeFile, func(edge kgx.Entity) error {
			subject, object := edge.Subject(), edge.Object()

			_, subjectKnown := primaryIDs[subject]
			_, objectKnown := primaryIDs[object]

			if !subjectKnown && !objectKnown {
				return nil
			}

			if !subjectKnown {
				needed[subject] = struct{}{}
			}

			if !objectKnown {
				needed[object] = struct{}{}
			}

			return merger.MergeEdge(edge)
		})
		if err != nil {
			return err
		}
	}

	for _, nodeFile := range input.NodeFiles {
		err := kgx.ForEach(nodeFile, func(node kgx.Entity) error {
			if _, want := needed[node.ID()]; !want {
				return nil
			}

			return merger.MergeNode(node)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// byStrategy filters inputs to one strategy, preserving declaration order.
func byStrategy(inputs []mergeInput, strategy graphspec.MergeStrategy) []mergeInput {
	var out []mergeInput

	for _, input := range inputs {
		if input.Strategy == strategy {
			out = append(out, input)
		}
	}

	return out
}
