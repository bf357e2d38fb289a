package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/lakeloader/internal/project"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config, catalog and schemas without connecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(dir)
			if err != nil {
				return err
			}
			printProject(cmd.OutOrStdout(), p)
			return nil
		},
	}
	addDirFlag(cmd, &dir)
	return cmd
}

func printProject(w io.Writer, p *project.Project) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "Workflow: %s\n", p.Graph.Name)
	fmt.Fprintf(w, "  Nodes: %d  Edges: %d\n", len(p.Graph.Nodes), len(p.Graph.Edges))
	if p.Config.WaitFor != nil {
		fmt.Fprintf(w, "  Waits for: %s\n", p.Config.WaitFor.Workflow)
	}

	fmt.Fprintf(w, "\nMigrations (%d):\n", len(p.Specs))
	for _, s := range p.Specs {
		fmt.Fprintf(w, "  %s %-30s %s -> %s\n", color.GreenString("✓"), s.TaskName, s.SourceCollection, s.Destination())
	}
	if len(p.Reports) > 0 {
		fmt.Fprintf(w, "\nReports (%d):\n", len(p.Reports))
		for _, r := range p.Reports {
			fmt.Fprintf(w, "  %s\n", r.ID)
		}
	}
}
