// Package graphbuilder resolves graph specs into built graphs: it pins
// versions, triggers source pipelines, merges their outputs under the
// configured strategies, and records graph metadata and QC results.
package graphbuilder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/robokop-kg/orion/internal/biolink"
	"github.com/robokop-kg/orion/internal/graphspec"
	"github.com/robokop-kg/orion/internal/kgx"
	"github.com/robokop-kg/orion/internal/merge"
	"github.com/robokop-kg/orion/internal/metastore"
	"github.com/robokop-kg/orion/internal/normalize"
	"github.com/robokop-kg/orion/internal/observability"
	"github.com/robokop-kg/orion/internal/pipeline"
)

// ErrOutputConflict marks output files left behind by a prior aborted run.
// The merge refuses to overwrite them; the operator must clear the graph
// directory or its metadata.
var ErrOutputConflict = errors.New("conflicting graph output from a prior run")

// Config wires a Builder.
type Config struct {
	Spec     *graphspec.Document
	Registry *pipeline.Registry

	SourceLayout pipeline.Layout
	GraphLayout  Layout

	NodeNormEndpoint string
	EdgeNormEndpoint string

	// NodeNormVersion / EdgeNormVersion pin the `latest` resolution; when
	// empty they are fetched from the services on first use.
	NodeNormVersion string
	EdgeNormVersion string

	// Fresh clears failed source stages before running their pipelines.
	Fresh bool

	// NodeChunkSize and EdgeChunkSize override the normalizer chunk sizes;
	// zero keeps the defaults.
	NodeChunkSize int
	EdgeChunkSize int

	Toolkit      *biolink.Toolkit
	Client       *normalize.Client
	Validator    pipeline.Validator
	Supplementer pipeline.Supplementer
	Variants     normalize.VariantNormalizer
	Logger       *slog.Logger
	Metrics      *observability.PipelineMetrics
}

// Result reports one graph build.
type Result struct {
	GraphID string
	Version string
	Counts  metastore.GraphCounts
	Err     error
}

// SummaryLine renders the build's id and version for operator scripts.
func (r Result) SummaryLine() string {
	return fmt.Sprintf("%s\t%s", r.GraphID, r.Version)
}

// Builder drives graph builds from one spec document.
type Builder struct {
	cfg    Config
	spec   *graphspec.Document
	logger *slog.Logger

	registry       *pipeline.Registry
	latestVersions map[string]string
}

// New creates a builder for one spec document.
func New(cfg Config) *Builder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if cfg.Client == nil {
		cfg.Client = normalize.NewClient()
	}

	return &Builder{
		cfg:            cfg,
		spec:           cfg.Spec,
		logger:         logger,
		registry:       cfg.Registry,
		latestVersions: make(map[string]string),
	}
}

// BuildAll builds every graph in the spec, continuing past per-graph
// failures so independent graphs still complete.
func (b *Builder) BuildAll(ctx context.Context) []Result {
	results := make([]Result, 0, len(b.spec.Graphs))

	for _, graph := range b.spec.Graphs {
		result := b.Build(ctx, graph.GraphID)
		if result.Err != nil {
			b.logger.Error("graph build failed", "graph", graph.GraphID, "error", result.Err)
		}

		results = append(results, result)
	}

	return results
}

// Build builds one graph by id, recursively building missing subgraphs.
func (b *Builder) Build(ctx context.Context, graphID string) Result {
	result := Result{GraphID: graphID}

	graph, err := b.spec.Graph(graphID)
	if err != nil {
		result.Err = err

		return result
	}

	version, err := b.graphVersion(ctx, graph, map[string]bool{})
	if err != nil {
		result.Err = err

		return result
	}

	result.Version = version

	counts, err := b.buildGraph(ctx, graph, version)
	if err != nil {
		result.Err = fmt.Errorf("build graph %s: %w", graphID, err)

		return result
	}

	result.Counts = counts

	return result
}

// buildGraph performs the gated build of one (graph, version).
func (b *Builder) buildGraph(ctx context.Context, graph *graphspec.GraphSpec, version string) (metastore.GraphCounts, error) {
	done := b.cfg.Metrics.TrackBuild(ctx)
	defer done()

	meta, err := metastore.LoadOrInitGraph(b.cfg.GraphLayout.MetaPath(graph.GraphID, version), graph.GraphID, version)
	if err != nil {
		return metastore.GraphCounts{}, err
	}

	switch meta.BuildStatus() {
	case metastore.StatusStable:
		b.logger.Info("graph already built, skipping", "graph", graph.GraphID, "version", version)

		return meta.Counts, b.runQC(ctx, graph, version, meta)
	case metastore.StatusInProgress:
		return metastore.GraphCounts{}, fmt.Errorf("graph %s: %w", graph.GraphID, metastore.ErrStageInProgress)
	case metastore.StatusFailed, metastore.StatusBroken:
		return metastore.GraphCounts{}, fmt.Errorf("graph %s build is %s: %w", graph.GraphID, meta.BuildStatus(), pipeline.ErrStageNotRunnable)
	case metastore.StatusNotStarted:
	}

	nodesPath := b.cfg.GraphLayout.NodesPath(graph.GraphID, version)
	if _, statErr := os.Stat(nodesPath); statErr == nil {
		return metastore.GraphCounts{}, fmt.Errorf("%w: %s exists but the build is not stable", ErrOutputConflict, nodesPath)
	}

	inputs, sources, subgraphs, err := b.prepareInputs(ctx, graph)
	if err != nil {
		return metastore.GraphCounts{}, err
	}

	meta.Sources = sources
	meta.Subgraphs = subgraphs

	setErr := meta.SetBuildStatus(metastore.StatusInProgress, "")
	if setErr != nil {
		return metastore.GraphCounts{}, setErr
	}

	start := time.Now()

	counts, buildErr := b.mergeAndWrite(ctx, graph, version, inputs)
	if buildErr != nil {
		if statusErr := meta.SetBuildStatus(metastore.StatusFailed, buildErr.Error()); statusErr != nil {
			b.logger.Error("record build failure", "graph", graph.GraphID, "error", statusErr)
		}

		return metastore.GraphCounts{}, buildErr
	}

	meta.Counts = counts

	setErr = meta.SetBuildStatus(metastore.StatusStable, "")
	if setErr != nil {
		return metastore.GraphCounts{}, setErr
	}

	b.logger.Info("graph merged",
		"graph", graph.GraphID,
		"version", version,
		"nodes", humanize.Comma(int64(counts.Nodes)),
		"edges", humanize.Comma(int64(counts.Edges)),
		"elapsed", time.Since(start))

	return counts, b.runQC(ctx, graph, version, meta)
}

// prepareInputs ensures every source release and subgraph output exists,
// triggering pipelines and recursive builds as needed, and returns the
// merge inputs in declaration order.
func (b *Builder) prepareInputs(ctx context.Context, graph *graphspec.GraphSpec) ([]mergeInput, []metastore.GraphSourceInfo, []metastore.GraphSourceInfo, error) {
	scheme, err := b.resolveScheme(ctx, graph)
	if err != nil {
		return nil, nil, nil, err
	}

	inputs := make([]mergeInput, 0, len(graph.Sources)+len(graph.Subgraphs))
	sources := make([]metastore.GraphSourceInfo, 0, len(graph.Sources))

	for _, source := range graph.Sources {
		input, info, sourceErr := b.prepareSource(ctx, source, scheme)
		if sourceErr != nil {
			return nil, nil, nil, fmt.Errorf("source %s: %w", source.SourceID, sourceErr)
		}

		inputs = append(inputs, input)
		sources = append(sources, info)
	}

	subgraphs := make([]metastore.GraphSourceInfo, 0, len(graph.Subgraphs))

	for _, subgraph := range graph.Subgraphs {
		input, info, subErr := b.prepareSubgraph(ctx, subgraph)
		if subErr != nil {
			return nil, nil, nil, fmt.Errorf("subgraph %s: %w", subgraph.GraphID, subErr)
		}

		inputs = append(inputs, input)
		subgraphs = append(subgraphs, info)
	}

	return inputs, sources, subgraphs, nil
}

// prepareSource runs the source pipeline to a stable release and returns
// its normalized files as a merge input.
func (b *Builder) prepareSource(ctx context.Context, source graphspec.SourceSpec, scheme normalize.Scheme) (mergeInput, metastore.GraphSourceInfo, error) {
	loader, err := b.registry.Get(source.SourceID)
	if err != nil {
		return mergeInput{}, metastore.GraphSourceInfo{}, fmt.Errorf("%w: %w", graphspec.ErrConfiguration, err)
	}

	version, err := b.resolveSourceVersion(ctx, source)
	if err != nil {
		return mergeInput{}, metastore.GraphSourceInfo{}, err
	}

	p := pipeline.NewSourcePipeline(loader, pipeline.Config{
		Layout:           b.cfg.SourceLayout,
		SourceVersion:    version,
		Scheme:           scheme,
		NodeNormEndpoint: b.cfg.NodeNormEndpoint,
		EdgeNormEndpoint: b.cfg.EdgeNormEndpoint,
		Fresh:            b.cfg.Fresh,
		NodeChunkSize:    b.cfg.NodeChunkSize,
		EdgeChunkSize:    b.cfg.EdgeChunkSize,
		Variants:         b.cfg.Variants,
		Supplementer:     b.cfg.Supplementer,
		Validator:        b.cfg.Validator,
		Toolkit:          b.cfg.Toolkit,
		Client:           b.cfg.Client,
		Logger:           b.logger,
		Metrics:          b.cfg.Metrics,
	})

	release, err := p.Run(ctx)
	if err != nil {
		return mergeInput{}, metastore.GraphSourceInfo{}, err
	}

	releaseInfo := p.Metadata().Releases[release]
	parsingVersion := releaseInfo.ParsingVersion
	normVersion := releaseInfo.NormalizationVersion

	input := mergeInput{
		ID:       source.SourceID,
		Strategy: source.MergeStrategy,
		NodeFiles: []string{
			b.cfg.SourceLayout.NormalizedNodesPath(source.SourceID, version, parsingVersion, normVersion),
		},
		EdgeFiles: []string{
			b.cfg.SourceLayout.NormalizedEdgesPath(source.SourceID, version, parsingVersion, normVersion),
		},
	}

	if supp := releaseInfo.SupplementationVersion; supp != "" {
		input.NodeFiles = append(input.NodeFiles,
			b.cfg.SourceLayout.SuppNormNodesPath(source.SourceID, version, parsingVersion, normVersion, supp))
		input.EdgeFiles = append(input.EdgeFiles,
			b.cfg.SourceLayout.SuppNormEdgesPath(source.SourceID, version, parsingVersion, normVersion, supp))
	}

	info := metastore.GraphSourceInfo{
		SourceID:       source.SourceID,
		SourceVersion:  version,
		ReleaseVersion: release,
		MergeStrategy:  string(source.MergeStrategy),
	}

	return input, info, nil
}

// prepareSubgraph builds a referenced graph when its output is missing and
// returns its merged files as a merge input.
func (b *Builder) prepareSubgraph(ctx context.Context, subgraph graphspec.SubgraphSpec) (mergeInput, metastore.GraphSourceInfo, error) {
	resolved, err := b.subgraphVersion(ctx, subgraph, map[string]bool{})
	if err != nil {
		return mergeInput{}, metastore.GraphSourceInfo{}, err
	}

	nodesPath := b.cfg.GraphLayout.NodesPath(subgraph.GraphID, resolved)
	if _, statErr := os.Stat(nodesPath); statErr != nil {
		result := b.Build(ctx, subgraph.GraphID)
		if result.Err != nil {
			return mergeInput{}, metastore.GraphSourceInfo{}, result.Err
		}
	}

	input := mergeInput{
		ID:        subgraph.GraphID,
		Strategy:  subgraph.MergeStrategy,
		NodeFiles: []string{nodesPath},
		EdgeFiles: []string{b.cfg.GraphLayout.EdgesPath(subgraph.GraphID, resolved)},
	}

	info := metastore.GraphSourceInfo{
		SourceID:       subgraph.GraphID,
		SourceVersion:  resolved,
		ReleaseVersion: resolved,
		MergeStrategy:  string(subgraph.MergeStrategy),
	}

	return input, info, nil
}

// resolveScheme derives the graph's normalization scheme, fetching the
// services' current versions once per process when `latest` must resolve.
func (b *Builder) resolveScheme(ctx context.Context, graph *graphspec.GraphSpec) (normalize.Scheme, error) {
	needsLatest := graph.NodeNormalizationVersion == "" || graph.NodeNormalizationVersion == graphspec.VersionLatest ||
		graph.EdgeNormalizationVersion == "" || graph.EdgeNormalizationVersion == graphspec.VersionLatest

	if needsLatest && (b.cfg.NodeNormVersion == "" || b.cfg.EdgeNormVersion == "") {
		node, edge, err := graphspec.ResolveServiceVersions(ctx, b.cfg.NodeNormEndpoint, b.cfg.EdgeNormEndpoint)
		if err != nil {
			return normalize.Scheme{}, err
		}

		b.cfg.NodeNormVersion, b.cfg.EdgeNormVersion = node, edge
	}

	return graph.Scheme(b.cfg.NodeNormVersion, b.cfg.EdgeNormVersion), nil
}

// mergeAndWrite runs the merge and writes the graph's output files.
func (b *Builder) mergeAndWrite(ctx context.Context, graph *graphspec.GraphSpec, version string, inputs []mergeInput) (metastore.GraphCounts, error) {
	merger, err := b.newMerger(graph)
	if err != nil {
		return metastore.GraphCounts{}, err
	}

	appendEdgeFiles, err := assemble(merger, inputs)
	if err != nil {
		return metastore.GraphCounts{}, err
	}

	flushErr := merger.Flush()
	if flushErr != nil {
		return metastore.GraphCounts{}, flushErr
	}

	dirErr := os.MkdirAll(b.cfg.GraphLayout.GraphDir(graph.GraphID, version), 0o755)
	if dirErr != nil {
		return metastore.GraphCounts{}, dirErr
	}

	writer, err := kgx.NewWriter(
		b.cfg.GraphLayout.NodesPath(graph.GraphID, version),
		b.cfg.GraphLayout.EdgesPath(graph.GraphID, version),
		false,
	)
	if err != nil {
		return metastore.GraphCounts{}, err
	}

	writeErr := b.writeOutputs(graph, merger, appendEdgeFiles, writer)

	closeErr := writer.Close()

	if writeErr != nil {
		return metastore.GraphCounts{}, writeErr
	}

	if closeErr != nil {
		return metastore.GraphCounts{}, closeErr
	}

	b.cfg.Metrics.RecordMergedEntities(ctx, "node", int64(merger.MergedNodeCount()))
	b.cfg.Metrics.RecordMergedEntities(ctx, "edge", int64(merger.MergedEdgeCount()))

	return metastore.GraphCounts{
		Nodes:       writer.NodeCount(),
		Edges:       writer.EdgeCount(),
		MergedNodes: merger.MergedNodeCount(),
		MergedEdges: merger.MergedEdgeCount(),
	}, nil
}

// writeOutputs drains the merger into the output files, then appends the
// dont_merge edge files verbatim.
func (b *Builder) writeOutputs(graph *graphspec.GraphSpec, merger merge.Merger, appendEdgeFiles []string, writer *kgx.Writer) error {
	nodes, err := merger.Nodes()
	if err != nil {
		return err
	}

	err = merge.Drain(nodes, func(node kgx.Entity) error {
		_, nodeErr := writer.WriteNode(node)

		return nodeErr
	})
	if err != nil {
		return err
	}

	edges, err := merger.Edges()
	if err != nil {
		return err
	}

	err = merge.Drain(edges, writer.WriteEdge)
	if err != nil {
		return err
	}

	for _, edgeFile := range appendEdgeFiles {
		appendErr := kgx.ForEach(edgeFile, func(edge kgx.Entity) error {
			if graph.EdgeIDAddition {
				edge[kgx.PropID] = kgx.EdgeKeyString(edge, graph.EdgeMergingAttributes)
			}

			return writer.WriteEdge(edge)
		})
		if appendErr != nil {
			return appendErr
		}
	}

	return nil
}

// newMerger selects the merge implementation: disk-backed when the spec
// asks to save memory or names a resource-hungry source, in-memory
// otherwise.
func (b *Builder) newMerger(graph *graphspec.GraphSpec) (merge.Merger, error) {
	opts := merge.Options{
		ExtraKeyAttributes: graph.EdgeMergingAttributes,
		AddEdgeID:          graph.EdgeIDAddition,
	}

	useDisk := graph.SaveMemory

	for _, source := range graph.Sources {
		if source.ResourceHog {
			useDisk = true
		}
	}

	if useDisk {
		return merge.NewDiskMerger(opts)
	}

	return merge.NewMemoryMerger(opts), nil
}

// runQC validates the merged graph and records the outcome.
func (b *Builder) runQC(ctx context.Context, graph *graphspec.GraphSpec, version string, meta *metastore.GraphMetadata) error {
	if b.cfg.Validator == nil || meta.QCStatus() == metastore.StatusStable {
		return nil
	}

	setErr := meta.SetQCStatus(metastore.StatusInProgress, "")
	if setErr != nil {
		return setErr
	}

	qcErr := b.cfg.Validator.Validate(ctx,
		b.cfg.GraphLayout.NodesPath(graph.GraphID, version),
		b.cfg.GraphLayout.EdgesPath(graph.GraphID, version),
		b.cfg.GraphLayout.QCReportPath(graph.GraphID, version),
	)
	if qcErr != nil {
		if statusErr := meta.SetQCStatus(metastore.StatusFailed, qcErr.Error()); statusErr != nil {
			b.logger.Error("record qc failure", "graph", graph.GraphID, "error", statusErr)
		}

		return qcErr
	}

	return meta.SetQCStatus(metastore.StatusStable, "")
}
