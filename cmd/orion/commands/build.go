package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/robokop-kg/orion/internal/graphbuilder"
	"github.com/robokop-kg/orion/internal/pipeline"
)

// buildAllTarget builds every graph in the spec.
const buildAllTarget = "all"

// ErrBuildFailed aggregates per-graph failures into a non-zero exit.
var ErrBuildFailed = errors.New("one or more graph builds failed")

// BuildCommand holds the flags for the build command.
type BuildCommand struct {
	graphSpecsDir string
	fresh         bool
}

// NewBuildCommand creates and configures the build command.
func NewBuildCommand() *cobra.Command {
	cmd := &BuildCommand{}

	cobraCmd := &cobra.Command{
		Use:   "build <graph_id|all>",
		Short: "Build graphs from a graph spec",
		Long: `Build resolves the graph spec, runs the source pipelines each graph
needs, merges their outputs, and writes nodes.jsonl/edges.jsonl plus QC
results under the graphs directory.`,
		Args: cobra.ExactArgs(1),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVar(&cmd.graphSpecsDir, "graph_specs_dir", "", "directory of graph spec YAML files (overrides configured spec)")
	cobraCmd.Flags().BoolVarP(&cmd.fresh, "fresh", "f", false, "clear failed source stage statuses before running")

	return cobraCmd
}

// Run executes the build command.
func (c *BuildCommand) Run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	doc, err := loadGraphSpec(ctx, rt.cfg, c.graphSpecsDir)
	if err != nil {
		return err
	}

	validator, err := newValidator(rt)
	if err != nil {
		return err
	}

	builder := graphbuilder.New(graphbuilder.Config{
		Spec:             doc,
		Registry:         sourceRegistry,
		SourceLayout:     pipeline.Layout{Root: rt.cfg.Storage},
		GraphLayout:      graphbuilder.Layout{Root: rt.cfg.Graphs},
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

	target := args[0]

	var results []graphbuilder.Result
	if target == buildAllTarget {
		results = builder.BuildAll(ctx)
	} else {
		results = []graphbuilder.Result{builder.Build(ctx, target)}
	}

	renderBuildSummary(os.Stdout, results)

	for _, result := range results {
		if result.Err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBuildFailed, result.GraphID, result.Err)
		}

		fmt.Fprintln(os.Stdout, result.SummaryLine())
	}

	return nil
}

// renderBuildSummary prints the per-graph outcome table.
func renderBuildSummary(w io.Writer, results []graphbuilder.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Graph", "Version", "Nodes", "Edges", "Status"})

	for _, result := range results {
		status := color.GreenString("built")
		if result.Err != nil {
			status = color.RedString("failed")
		}

		t.AppendRow(table.Row{
			result.GraphID,
			result.Version,
			result.Counts.Nodes,
			result.Counts.Edges,
			status,
		})
	}

	t.Render()
}
