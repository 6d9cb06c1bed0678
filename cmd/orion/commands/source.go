package commands

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/robokop-kg/orion/internal/graphspec"
	"github.com/robokop-kg/orion/internal/normalize"
	"github.com/robokop-kg/orion/internal/pipeline"
	"github.com/robokop-kg/orion/internal/qc"
)

// SourceCommand holds the flags for the source command.
type SourceCommand struct {
	testMode   bool
	fresh      bool
	latestOnly bool
}

// NewSourceCommand creates and configures the source command.
func NewSourceCommand() *cobra.Command {
	cmd := &SourceCommand{}

	cobraCmd := &cobra.Command{
		Use:   "source <source_id...>",
		Short: "Run the pipeline for individual data sources",
		Long: `Source runs fetch, parse, normalize, supplement, and QC for each
named source, recording a release version when all stages are stable.`,
		Args: cobra.MinimumNArgs(1),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().BoolVarP(&cmd.testMode, "test-mode", "t", false, "shrink chunk sizes to exercise chunked paths on small inputs")
	cobraCmd.Flags().BoolVarP(&cmd.fresh, "fresh", "f", false, "clear failed stage statuses before running")
	cobraCmd.Flags().BoolVarP(&cmd.latestOnly, "latest-only", "l", false, "print each source's latest version and exit")

	return cobraCmd
}

// Run executes the source command.
func (c *SourceCommand) Run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	if c.testMode {
		rt.cfg.TestMode = true
	}

	if c.latestOnly {
		return c.printLatestVersions(cmd, args)
	}

	nodeVersion, edgeVersion, err := graphspec.ResolveServiceVersions(ctx,
		rt.cfg.NodeNormEndpoint, rt.cfg.EdgeNormEndpoint)
	if err != nil {
		return err
	}

	validator, err := newValidator(rt)
	if err != nil {
		return err
	}

	for _, sourceID := range args {
		loader, loaderErr := sourceRegistry.Get(sourceID)
		if loaderErr != nil {
			return loaderErr
		}

		p := pipeline.NewSourcePipeline(loader, pipeline.Config{
			Layout:           pipeline.Layout{Root: rt.cfg.Storage},
			Scheme:           normalize.DefaultScheme(nodeVersion, edgeVersion),
			NodeNormEndpoint: rt.cfg.NodeNormEndpoint,
			EdgeNormEndpoint: rt.cfg.EdgeNormEndpoint,
			Fresh:            c.fresh,
			NodeChunkSize:    rt.cfg.NodeChunkSize(),
			EdgeChunkSize:    rt.cfg.EdgeChunkSize(),
			Validator:        validator,
			Toolkit:          rt.toolkit,
			Client:           rt.client,
			Logger:           rt.logger,
			Metrics:          rt.metrics,
		})

		release, runErr := p.Run(ctx)
		if runErr != nil {
			fmt.Fprintf(os.Stdout, "%s\t%s\n", sourceID, color.RedString("failed"))

			return fmt.Errorf("source %s: %w", sourceID, runErr)
		}

		fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", sourceID, release, color.GreenString("stable"))
	}

	return nil
}

// printLatestVersions reports upstream versions without running pipelines.
func (c *SourceCommand) printLatestVersions(cmd *cobra.Command, args []string) error {
	for _, sourceID := range args {
		loader, err := sourceRegistry.Get(sourceID)
		if err != nil {
			return err
		}

		latest, err := loader.LatestVersion(cmd.Context())
		if err != nil {
			return fmt.Errorf("%w: %s: %w", pipeline.ErrVersionUnavailable, sourceID, err)
		}

		fmt.Fprintf(os.Stdout, "%s\t%s\n", sourceID, latest)
	}

	return nil
}

// newValidator builds the QC validator with the embedded information
// resource catalog.
func newValidator(rt *runtime) (*qc.Validator, error) {
	catalog, err := qc.LoadCatalog()
	if err != nil {
		return nil, err
	}

	return qc.NewValidator(rt.toolkit, catalog), nil
}
