package commands

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/lakeloader/internal/project"
)

// NewStepCmd creates the step command.
func NewStepCmd() *cobra.Command {
	var (
		dir   string
		runID string
	)

	cmd := &cobra.Command{
		Use:   "step <node-id>",
		Short: "Run a single graph node, as an external workflow engine would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStep(cmd.Context(), dir, runID, args[0])
		},
	}
	addDirFlag(cmd, &dir)
	cmd.Flags().StringVar(&runID, "run-id", "", "run id to record the attempt under (default: a new id)")
	return cmd
}

func runStep(ctx context.Context, dir, runID, node string) error {
	p, err := loadProject(dir)
	if err != nil {
		return err
	}
	if err := checkNodes(p, []string{node}); err != nil {
		return err
	}
	if runID == "" {
		runID = ulid.Make().String()
	}

	rt, err := p.Connect(ctx, project.Overrides{}, newLogger())
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer rt.Close(context.WithoutCancel(ctx))

	step, err := rt.Engine.RunNode(ctx, p.Graph, rt.Steps, runID, node)
	fmt.Printf("%s  %s  rows=%d  run=%s\n", node, colorStepStatus(step.Status), step.Rows, runID)
	if err != nil {
		color.Red("  %v", err)
		return err
	}
	return nil
}
