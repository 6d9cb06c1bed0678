// Package commands implements the orion CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/robokop-kg/orion/internal/biolink"
	"github.com/robokop-kg/orion/internal/config"
	"github.com/robokop-kg/orion/internal/graphspec"
	"github.com/robokop-kg/orion/internal/normalize"
	"github.com/robokop-kg/orion/internal/observability"
	"github.com/robokop-kg/orion/internal/pipeline"
	"github.com/robokop-kg/orion/pkg/version"
)

// sourceRegistry holds the source loaders compiled into this binary.
// Loader packages register themselves from init.
var sourceRegistry = pipeline.NewRegistry()

// RegisterSource adds a source loader to the binary's registry.
func RegisterSource(loader pipeline.SourceLoader) {
	sourceRegistry.Register(loader)
}

// runtime bundles the shared process-level dependencies of a command.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.PipelineMetrics
	toolkit *biolink.Toolkit
	client  *normalize.Client

	shutdown func(ctx context.Context) error
}

// newRuntime loads configuration and initializes logging, telemetry, and the
// biolink toolkit.
func newRuntime(cmd *cobra.Command) (*runtime, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	providers, err := observability.Init(observability.Config{
		ServiceName:    "orion",
		ServiceVersion: version.Version,
		LogLevel:       parseLogLevel(cfg.Log.Level),
		LogJSON:        cfg.Log.JSON,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return nil, err
	}

	metrics, err := observability.NewPipelineMetrics(providers.Meter)
	if err != nil {
		return nil, err
	}

	toolkit, err := loadToolkit(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Telemetry.MetricsAddr != "" {
		go func() {
			serveErr := observability.ServeMetrics(cmd.Context(), cfg.Telemetry.MetricsAddr,
				providers.MetricsHandler, providers.Logger)
			if serveErr != nil {
				providers.Logger.Warn("metrics endpoint", "error", serveErr)
			}
		}()
	}

	return &runtime{
		cfg:      cfg,
		logger:   providers.Logger,
		metrics:  metrics,
		toolkit:  toolkit,
		client:   normalize.NewClient(),
		shutdown: providers.Shutdown,
	}, nil
}

func (r *runtime) close(ctx context.Context) {
	err := r.shutdown(ctx)
	if err != nil {
		r.logger.Warn("telemetry shutdown", "error", err)
	}
}

// loadToolkit loads the biolink model: the embedded snapshot by default, or
// an operator-provided model file when the configured version names one.
func loadToolkit(cfg *config.Config) (*biolink.Toolkit, error) {
	if cfg.BiolinkVersion != "" {
		if _, err := os.Stat(cfg.BiolinkVersion); err == nil {
			return biolink.LoadFile(cfg.BiolinkVersion)
		}
	}

	return biolink.Load()
}

// loadGraphSpec resolves the graph spec document: an explicit spec directory
// wins, then the configured file path, then the configured URL.
func loadGraphSpec(ctx context.Context, cfg *config.Config, specsDir string) (*graphspec.Document, error) {
	if specsDir != "" {
		return loadSpecDir(specsDir)
	}

	err := cfg.RequireGraphSpec()
	if err != nil {
		return nil, err
	}

	if cfg.GraphSpec != "" {
		return graphspec.LoadFile(cfg.GraphSpec)
	}

	return graphspec.LoadURL(ctx, cfg.GraphSpecURL)
}

// loadSpecDir combines every YAML document in a directory into one spec.
func loadSpecDir(dir string) (*graphspec.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read graph specs dir: %w", err)
	}

	combined := &graphspec.Document{}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		names = append(names, name)
	}

	sort.Strings(names)

	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no graph spec files in %s", graphspec.ErrConfiguration, dir)
	}

	for _, name := range names {
		doc, loadErr := graphspec.LoadFile(filepath.Join(dir, name))
		if loadErr != nil {
			return nil, loadErr
		}

		combined.Graphs = append(combined.Graphs, doc.Graphs...)
	}

	return combined, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
