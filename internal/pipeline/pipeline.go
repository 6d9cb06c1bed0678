package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robokop-kg/orion/internal/biolink"
	"github.com/robokop-kg/orion/internal/metastore"
	"github.com/robokop-kg/orion/internal/normalize"
	"github.com/robokop-kg/orion/internal/observability"
)

// ErrStageNotRunnable is returned when a stage is failed or broken: the
// operator must clear the state (or replace the source) before a retry.
var ErrStageNotRunnable = errors.New("stage requires operator attention")

// ErrVersionUnavailable wraps a failure to determine the latest source
// version. The current build aborts; other graphs may proceed.
var ErrVersionUnavailable = errors.New("could not determine latest source version")

// Supplementer runs the variant annotation subroutine over a normalized
// node file, producing supplemental node and edge files.
type Supplementer interface {
	// Version names the supplementation algorithm revision.
	Version() string

	Supplement(ctx context.Context, normalizedNodesPath, outNodesPath, outEdgesPath string) error
}

// Validator checks one finished node/edge file pair and writes a report.
// Warnings live in the report; only hard failures return an error.
type Validator interface {
	Validate(ctx context.Context, nodesPath, edgesPath, reportPath string) error
}

// Config carries everything a source pipeline needs besides its loader.
type Config struct {
	Layout Layout

	// SourceVersion pins the version to process; empty means latest.
	SourceVersion string

	Scheme normalize.Scheme

	NodeNormEndpoint string
	EdgeNormEndpoint string

	// Fresh clears failed stage statuses before running.
	Fresh bool

	// NodeChunkSize and EdgeChunkSize override the normalizer chunk sizes;
	// zero keeps the defaults. Test mode shrinks them so small fixtures
	// exercise the chunked paths.
	NodeChunkSize int
	EdgeChunkSize int

	Variants     normalize.VariantNormalizer
	Supplementer Supplementer
	Validator    Validator

	Toolkit *biolink.Toolkit
	Client  *normalize.Client
	Logger  *slog.Logger
	Metrics *observability.PipelineMetrics
}

// SourcePipeline drives one source through fetch, parse, normalize,
// supplement, and QC. Every stage transition is persisted before and after
// the work, making interrupted runs resumable.
type SourcePipeline struct {
	loader SourceLoader
	cfg    Config
	logger *slog.Logger

	meta    *metastore.SourceMetadata
	version string
}

// NewSourcePipeline assembles a pipeline for one loader.
func NewSourcePipeline(loader SourceLoader, cfg Config) *SourcePipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Client == nil {
		cfg.Client = normalize.NewClient()
	}

	return &SourcePipeline{
		loader: loader,
		cfg:    cfg,
		logger: logger.With("source", loader.SourceID()),
	}
}

// Run executes every stage in order and returns the release version on
// success. A stable stage is skipped; in_progress, failed, or broken state
// aborts with an error naming the stage.
func (p *SourcePipeline) Run(ctx context.Context) (string, error) {
	err := p.prepare(ctx)
	if err != nil {
		return "", err
	}

	parsingVersion := p.loader.ParsingVersion()
	normVersion := p.cfg.Scheme.CompositeVersion()

	err = p.runFetch(ctx)
	if err != nil {
		return "", err
	}

	err = p.runParse(ctx, parsingVersion)
	if err != nil {
		return "", err
	}

	err = p.runNormalize(ctx, parsingVersion, normVersion)
	if err != nil {
		return "", err
	}

	suppVersion, err := p.runSupplement(ctx, parsingVersion, normVersion)
	if err != nil {
		return "", err
	}

	return p.runQC(ctx, parsingVersion, normVersion, suppVersion)
}

// prepare resolves the source version and loads the metadata document.
func (p *SourcePipeline) prepare(ctx context.Context) error {
	sourceID := p.loader.SourceID()

	p.version = p.cfg.SourceVersion
	if p.version == "" {
		latest, err := p.loader.LatestVersion(ctx)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrVersionUnavailable, sourceID, err)
		}

		p.version = latest
	}

	meta, err := metastore.LoadOrInitSource(p.cfg.Layout.MetaPath(sourceID), sourceID, p.version)
	if err != nil {
		return err
	}

	p.meta = meta

	if p.cfg.Fresh {
		cleared, clearErr := meta.ClearFailures()
		if clearErr != nil {
			return clearErr
		}

		if cleared > 0 {
			p.logger.Info("cleared failed stages for fresh run", "stages", cleared)
		}
	}

	p.logger.Info("pipeline starting", "version", p.version)

	return nil
}

// runStage applies the status gate around one stage's work: stable skips,
// in_progress/failed/broken abort, not_started runs. The transition to
// in_progress is persisted before the work and the outcome after it.
func (p *SourcePipeline) runStage(ctx context.Context, name string, status metastore.Status, set func(metastore.Status, string) error, work func() error) error {
	switch status {
	case metastore.StatusStable:
		p.logger.Info("stage already stable, skipping", "stage", name)

		return nil
	case metastore.StatusInProgress:
		return fmt.Errorf("stage %s: %w", name, metastore.ErrStageInProgress)
	case metastore.StatusFailed, metastore.StatusBroken:
		return fmt.Errorf("stage %s is %s: %w", name, status, ErrStageNotRunnable)
	case metastore.StatusNotStarted:
	}

	err := set(metastore.StatusInProgress, "")
	if err != nil {
		return err
	}

	p.logger.Info("stage starting", "stage", name)

	start := time.Now()
	workErr := work()
	elapsed := time.Since(start)

	final := metastore.StatusStable

	errMsg := ""
	if workErr != nil {
		errMsg = workErr.Error()

		final = metastore.StatusFailed
		if errors.Is(workErr, ErrBrokenSource) {
			final = metastore.StatusBroken
		}
	}

	setErr := set(final, errMsg)

	p.cfg.Metrics.RecordStage(ctx, p.loader.SourceID(), name, string(final), elapsed)

	if workErr != nil {
		p.logger.Error("stage failed", "stage", name, "status", final, "error", workErr, "elapsed", elapsed)

		return fmt.Errorf("stage %s: %w", name, workErr)
	}

	if setErr != nil {
		return setErr
	}

	p.logger.Info("stage finished", "stage", name, "elapsed", elapsed)

	return nil
}

func (p *SourcePipeline) runFetch(ctx context.Context) error {
	sourceID := p.loader.SourceID()
	rawDir := p.cfg.Layout.RawDir(sourceID, p.version)

	return p.runStage(ctx, "fetch", p.meta.FetchStatus(), p.meta.SetFetchStatus, func() error {
		mkErr := os.MkdirAll(rawDir, 0o755)
		if mkErr != nil {
			return mkErr
		}

		return p.loader.Fetch(ctx, p.version, rawDir)
	})
}

func (p *SourcePipeline) runParse(ctx context.Context, parsingVersion string) error {
	sourceID := p.loader.SourceID()

	set := func(status metastore.Status, errMsg string) error {
		return p.meta.SetParsingStatus(parsingVersion, status, errMsg)
	}

	return p.runStage(ctx, "parse", p.meta.ParsingStatus(parsingVersion), set, func() error {
		parsedDir := p.cfg.Layout.ParsedDir(sourceID, p.version, parsingVersion)

		mkErr := os.MkdirAll(parsedDir, 0o755)
		if mkErr != nil {
			return mkErr
		}

		result, parseErr := p.loader.Parse(ctx,
			p.cfg.Layout.RawDir(sourceID, p.version),
			p.cfg.Layout.SourceNodesPath(sourceID, p.version, parsingVersion),
			p.cfg.Layout.SourceEdgesPath(sourceID, p.version, parsingVersion),
		)
		if parseErr != nil {
			return parseErr
		}

		parsing := p.meta.Parsing(parsingVersion)
		parsing.NodeCount = result.Nodes
		parsing.EdgeCount = result.Edges
		parsing.HasSequenceVariants = result.HasSequenceVariants

		return nil
	})
}

func (p *SourcePipeline) runNormalize(ctx context.Context, parsingVersion, normVersion string) error {
	sourceID := p.loader.SourceID()

	set := func(status metastore.Status, errMsg string) error {
		return p.meta.SetNormalizationStatus(parsingVersion, normVersion, status, errMsg)
	}

	status := p.meta.NormalizationStatus(parsingVersion, normVersion)

	return p.runStage(ctx, "normalize", status, set, func() error {
		dir := p.cfg.Layout.NormalizedDir(sourceID, p.version, parsingVersion, normVersion)

		mkErr := os.MkdirAll(dir, 0o755)
		if mkErr != nil {
			return mkErr
		}

		normalizer := p.newFileNormalizer(normalize.FileNormalizerConfig{
			SourceNodesPath:     p.cfg.Layout.SourceNodesPath(sourceID, p.version, parsingVersion),
			SourceEdgesPath:     p.cfg.Layout.SourceEdgesPath(sourceID, p.version, parsingVersion),
			NormalizedNodesPath: p.cfg.Layout.NormalizedNodesPath(sourceID, p.version, parsingVersion, normVersion),
			NormalizedEdgesPath: p.cfg.Layout.NormalizedEdgesPath(sourceID, p.version, parsingVersion, normVersion),
			NodeMapPath:         p.cfg.Layout.NodeMapPath(sourceID, p.version, parsingVersion, normVersion),
			PredicateMapPath:    p.cfg.Layout.PredicateMapPath(sourceID, p.version, parsingVersion, normVersion),
			FailureLogPath:      p.cfg.Layout.NodeFailuresPath(sourceID, p.version, parsingVersion, normVersion),
			DefaultProvenance:   p.loader.DefaultProvenance(),
		})

		normErr := normalizer.Normalize(ctx)
		if normErr != nil {
			return normErr
		}

		p.meta.Normalization(parsingVersion, normVersion).Counts = countsToMeta(normalizer.Counts())

		return nil
	})
}

// runSupplement runs variant annotation when the parse reported sequence
// variants, feeding the supplemental files back through the normalizer in
// pre-normalized-subject mode. Returns the supplementation version used, or
// empty when the stage does not apply.
func (p *SourcePipeline) runSupplement(ctx context.Context, parsingVersion, normVersion string) (string, error) {
	if p.cfg.Supplementer == nil || !p.meta.Parsing(parsingVersion).HasSequenceVariants {
		return "", nil
	}

	sourceID := p.loader.SourceID()
	suppVersion := p.cfg.Supplementer.Version()

	set := func(status metastore.Status, errMsg string) error {
		return p.meta.SetSupplementationStatus(parsingVersion, normVersion, suppVersion, status, errMsg)
	}

	status := p.meta.SupplementationStatus(parsingVersion, normVersion, suppVersion)

	err := p.runStage(ctx, "supplement", status, set, func() error {
		dir := p.cfg.Layout.SupplementalDir(sourceID, p.version, parsingVersion, normVersion, suppVersion)

		mkErr := os.MkdirAll(dir, 0o755)
		if mkErr != nil {
			return mkErr
		}

		suppNodes := p.cfg.Layout.SuppNodesPath(sourceID, p.version, parsingVersion, normVersion, suppVersion)
		suppEdges := p.cfg.Layout.SuppEdgesPath(sourceID, p.version, parsingVersion, normVersion, suppVersion)

		suppErr := p.cfg.Supplementer.Supplement(ctx,
			p.cfg.Layout.NormalizedNodesPath(sourceID, p.version, parsingVersion, normVersion),
			suppNodes, suppEdges,
		)
		if suppErr != nil {
			return suppErr
		}

		// Supplementation edges start from already-normalized subjects; only
		// objects and predicates still need resolution.
		normalizer := p.newFileNormalizer(normalize.FileNormalizerConfig{
			SourceNodesPath:      suppNodes,
			SourceEdgesPath:      suppEdges,
			NormalizedNodesPath:  p.cfg.Layout.SuppNormNodesPath(sourceID, p.version, parsingVersion, normVersion, suppVersion),
			NormalizedEdgesPath:  p.cfg.Layout.SuppNormEdgesPath(sourceID, p.version, parsingVersion, normVersion, suppVersion),
			NodeMapPath:          filepath.Join(dir, nodeMapFile),
			PredicateMapPath:     filepath.Join(dir, predicateMapFile),
			FailureLogPath:       filepath.Join(dir, nodeFailuresFile),
			DefaultProvenance:    p.loader.DefaultProvenance(),
			SubjectPreNormalized: true,
		})

		normErr := normalizer.Normalize(ctx)
		if normErr != nil {
			return normErr
		}

		supp := p.meta.Supplementation(parsingVersion, normVersion, suppVersion)
		supp.Counts = countsToMeta(normalizer.Counts())

		return nil
	})
	if err != nil {
		return "", err
	}

	return suppVersion, nil
}

// runQC validates the normalized output, then records the release.
func (p *SourcePipeline) runQC(ctx context.Context, parsingVersion, normVersion, suppVersion string) (string, error) {
	sourceID := p.loader.SourceID()

	err := p.runStage(ctx, "qc", p.meta.QCStatus(), p.meta.SetQCStatus, func() error {
		if p.cfg.Validator == nil {
			return nil
		}

		return p.cfg.Validator.Validate(ctx,
			p.cfg.Layout.NormalizedNodesPath(sourceID, p.version, parsingVersion, normVersion),
			p.cfg.Layout.NormalizedEdgesPath(sourceID, p.version, parsingVersion, normVersion),
			p.cfg.Layout.QCReportPath(sourceID, p.version, parsingVersion, normVersion),
		)
	})
	if err != nil {
		return "", err
	}

	release, err := p.meta.RecordRelease(parsingVersion, normVersion, suppVersion)
	if err != nil {
		return "", err
	}

	p.logger.Info("release recorded", "release", release)

	return release, nil
}

// newFileNormalizer builds a file normalizer with per-run lookup maps.
func (p *SourcePipeline) newFileNormalizer(cfg normalize.FileNormalizerConfig) *normalize.FileNormalizer {
	cfg.NodeChunkSize = p.cfg.NodeChunkSize
	cfg.EdgeChunkSize = p.cfg.EdgeChunkSize

	nodeNorm := normalize.NewNodeNormalizer(p.cfg.Client, p.cfg.Toolkit, normalize.NodeNormalizerConfig{
		Endpoint: p.cfg.NodeNormEndpoint,
		Strict:   p.cfg.Scheme.Strict,
		Conflate: p.cfg.Scheme.Conflation,
		Variants: p.cfg.Variants,
		Metrics:  p.cfg.Metrics,
	})

	edgeNorm := normalize.NewEdgeNormalizer(p.cfg.Client, p.cfg.EdgeNormEndpoint, p.cfg.Scheme.EdgeNormVersion, p.cfg.Metrics)

	return normalize.NewFileNormalizer(nodeNorm, edgeNorm, cfg, p.logger)
}

// countsToMeta copies normalization counters into their metadata form.
func countsToMeta(c normalize.Counts) metastore.NormalizationCounts {
	return metastore.NormalizationCounts{
		SourceNodes:        c.SourceNodes,
		NormalizedNodes:    c.NormalizedNodes,
		NodeFailures:       c.NodeFailures,
		SourceEdges:        c.SourceEdges,
		NormalizedEdges:    c.NormalizedEdges,
		EdgeSplits:         c.EdgeSplits,
		EdgesFailedByNodes: c.EdgesFailedByNodes,
		SubclassLoops:      c.SubclassLoops,
		UnconnectedRemoved: c.UnconnectedRemoved,
	}
}

// Metadata exposes the loaded document; valid after Run (or prepare) has
// resolved the source version.
func (p *SourcePipeline) Metadata() *metastore.SourceMetadata { return p.meta }

// SourceVersion is the resolved version; valid after Run.
func (p *SourcePipeline) SourceVersion() string { return p.version }
