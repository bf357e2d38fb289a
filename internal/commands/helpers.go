// Package commands implements the CLI subcommands for the lakeloader binary.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/lakeloader/internal/project"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// addDirFlag registers the project directory flag shared by every command.
func addDirFlag(cmd *cobra.Command, dir *string) {
	cmd.Flags().StringVarP(dir, "dir", "d", ".", "project directory containing lakeloader.yaml")
}

// newLogger returns the CLI's text logger. Debug output is enabled by
// LAKELOADER_DEBUG.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LAKELOADER_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadProject(dir string) (*project.Project, error) {
	p, err := project.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	return p, nil
}

// colorRunStatus renders a run status for the terminal.
func colorRunStatus(s types.RunStatus) string {
	switch s {
	case types.RunSucceeded:
		return color.GreenString(string(s))
	case types.RunFailed:
		return color.RedString(string(s))
	case types.RunRunning:
		return color.CyanString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

// colorStepStatus renders a step status for the terminal.
func colorStepStatus(s types.StepStatus) string {
	switch s {
	case types.StepSucceeded:
		return color.GreenString(string(s))
	case types.StepFailed:
		return color.RedString(string(s))
	case types.StepUpstreamFailed, types.StepCancelled:
		return color.YellowString(string(s))
	case types.StepRunning:
		return color.CyanString(string(s))
	default:
		return string(s)
	}
}

// printRun writes a run summary. Node lists are omitted when empty.
func printRun(run *types.RunRecord) {
	bold := color.New(color.Bold)
	_, _ = bold.Printf("Run %s\n", run.RunID)
	fmt.Printf("  Workflow: %s\n", run.Workflow)
	fmt.Printf("  Status:   %s\n", colorRunStatus(run.Status))
	if run.CompletedAt != nil {
		fmt.Printf("  Duration: %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	printNodes("Failed", run.Failed, color.RedString)
	printNodes("Blocked", run.Blocked, color.YellowString)
	printNodes("Skipped", run.Skipped, fmt.Sprintf)
}

func printNodes(label string, nodes []string, paint func(string, ...interface{}) string) {
	if len(nodes) == 0 {
		return
	}
	fmt.Printf("  %s (%d):\n", label, len(nodes))
	for _, n := range nodes {
		fmt.Printf("    %s\n", paint("%s", n))
	}
}
