package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/lakeloader/internal/project"
	"github.com/dwsmith1983/lakeloader/internal/telemetry"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var (
		dir  string
		skip []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the whole workflow with the reference executor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd.Context(), dir, skip)
		},
	}
	addDirFlag(cmd, &dir)
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "node ids to mark SKIPPED without running")
	return cmd
}

func runWorkflow(ctx context.Context, dir string, skip []string) error {
	p, err := loadProject(dir)
	if err != nil {
		return err
	}
	if err := checkNodes(p, skip); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger()
	shutdown, err := telemetry.Setup(ctx, p.Config.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	rt, err := p.Connect(ctx, project.Overrides{}, logger)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer rt.Close(context.WithoutCancel(ctx))

	color.Cyan("Running %s (%d nodes)...", p.Graph.Name, len(p.Graph.Nodes))
	run, err := rt.Engine.Execute(ctx, p.Graph, rt.Steps, p.EngineOptions(skip))
	if err != nil {
		return err
	}
	printRun(run)

	if run.Status != types.RunSucceeded {
		return fmt.Errorf("run %s finished %s", run.RunID, run.Status)
	}
	return nil
}

// checkNodes rejects node ids that are not in the graph.
func checkNodes(p *project.Project, ids []string) error {
	for _, id := range ids {
		if _, ok := p.Graph.Node(id); !ok {
			return fmt.Errorf("unknown node %q", id)
		}
	}
	return nil
}
