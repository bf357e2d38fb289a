package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/lakeloader/internal/project"
	"github.com/dwsmith1983/lakeloader/internal/provider"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var (
		dir      string
		workflow string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show recent runs, or the steps of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(dir)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			store, err := p.OpenStore(ctx, project.Overrides{})
			if err != nil {
				return fmt.Errorf("connecting to run store: %w", err)
			}
			defer store.Close()

			if len(args) > 0 {
				return showRun(ctx, store, args[0])
			}
			if workflow == "" {
				workflow = p.Graph.Name
			}
			return showRuns(ctx, store, workflow, limit)
		},
	}
	addDirFlag(cmd, &dir)
	cmd.Flags().StringVarP(&workflow, "workflow", "w", "", "workflow to list (default: this project's)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to list")
	return cmd
}

func showRuns(ctx context.Context, store provider.RunStore, workflow string, limit int) error {
	runs, err := store.ListRuns(ctx, workflow, limit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Printf("No runs recorded for %s.\n", workflow)
		return nil
	}

	bold := color.New(color.Bold)
	_, _ = bold.Printf("Recent runs of %s:\n", workflow)
	for _, r := range runs {
		fmt.Printf("  %s  %-20s %s  failed=%d blocked=%d\n",
			r.RunID, colorRunStatus(r.Status), r.StartedAt.Format(time.RFC3339), len(r.Failed), len(r.Blocked))
	}
	return nil
}

func showRun(ctx context.Context, store provider.RunStore, runID string) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	printRun(run)

	steps, err := store.ListStepRuns(ctx, runID)
	if err != nil {
		return fmt.Errorf("listing steps: %w", err)
	}
	if len(steps) == 0 {
		return nil
	}
	fmt.Println()
	_, _ = color.New(color.Bold).Println("  Steps:")
	for _, s := range steps {
		fmt.Printf("    %-55s #%d %-18s rows=%d", s.NodeID, s.Attempt, colorStepStatus(s.Status), s.Rows)
		if s.Error != "" {
			fmt.Printf("  %s", color.RedString(s.Error))
		}
		fmt.Println()
	}
	return nil
}
