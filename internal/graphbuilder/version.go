package graphbuilder

import (
	"context"
	"fmt"

	"github.com/robokop-kg/orion/internal/graphspec"
	"github.com/robokop-kg/orion/internal/kgx"
	"github.com/robokop-kg/orion/internal/pipeline"
)

// resolveSourceVersion pins one source's version, querying the loader for
// the latest when the spec leaves it open. Latest answers are cached for
// the process so every graph in a run sees the same resolution.
func (b *Builder) resolveSourceVersion(ctx context.Context, source graphspec.SourceSpec) (string, error) {
	if source.SourceVersion != "" {
		return source.SourceVersion, nil
	}

	if cached, ok := b.latestVersions[source.SourceID]; ok {
		return cached, nil
	}

	loader, err := b.registry.Get(source.SourceID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", graphspec.ErrConfiguration, err)
	}

	latest, err := loader.LatestVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", pipeline.ErrVersionUnavailable, source.SourceID, err)
	}

	b.latestVersions[source.SourceID] = latest

	return latest, nil
}

// graphVersion derives the graph's deterministic version: a 64-bit hash of
// every source's version (suffixed with its merge strategy when not the
// default) followed by every subgraph's equivalent, in declaration order.
// Subgraph versions are resolved recursively; visiting tracks the recursion
// stack for cycle detection.
func (b *Builder) graphVersion(ctx context.Context, graph *graphspec.GraphSpec, visiting map[string]bool) (string, error) {
	if graph.GraphVersion != "" {
		return graph.GraphVersion, nil
	}

	if visiting[graph.GraphID] {
		return "", fmt.Errorf("%w: subgraph cycle through %q", graphspec.ErrConfiguration, graph.GraphID)
	}

	visiting[graph.GraphID] = true
	defer delete(visiting, graph.GraphID)

	var parts []string

	for _, source := range graph.Sources {
		version, err := b.resolveSourceVersion(ctx, source)
		if err != nil {
			return "", err
		}

		parts = append(parts, versionPart(version, source.MergeStrategy))
	}

	for _, subgraph := range graph.Subgraphs {
		resolved, err := b.subgraphVersion(ctx, subgraph, visiting)
		if err != nil {
			return "", err
		}

		parts = append(parts, versionPart(resolved, subgraph.MergeStrategy))
	}

	return kgx.Hash64(parts...), nil
}

// subgraphVersion resolves a referenced graph's version and enforces any
// version pinned in the caller's spec.
func (b *Builder) subgraphVersion(ctx context.Context, subgraph graphspec.SubgraphSpec, visiting map[string]bool) (string, error) {
	inner, err := b.spec.Graph(subgraph.GraphID)
	if err != nil {
		return "", err
	}

	resolved, err := b.graphVersion(ctx, inner, visiting)
	if err != nil {
		return "", err
	}

	if subgraph.GraphVersion != "" && subgraph.GraphVersion != resolved {
		return "", fmt.Errorf("%w: subgraph %q resolves to version %s but the spec pins %s",
			graphspec.ErrConfiguration, subgraph.GraphID, resolved, subgraph.GraphVersion)
	}

	return resolved, nil
}

func versionPart(version string, strategy graphspec.MergeStrategy) string {
	if strategy == graphspec.StrategyPrimary {
		return version
	}

	return version + "_" + string(strategy)
}
