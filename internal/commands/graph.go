package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/lakeloader/internal/statemachine"
)

// Output formats accepted by the graph command.
const (
	formatJSON = "json"
	formatASL  = "asl"
)

// NewGraphCmd creates the graph command.
func NewGraphCmd() *cobra.Command {
	var (
		dir      string
		format   string
		resource string
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the workflow graph as JSON or as a Step Functions definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(dir)
			if err != nil {
				return err
			}

			var out []byte
			switch format {
			case formatJSON:
				out, err = json.MarshalIndent(p.Graph, "", "  ")
			case formatASL:
				out, err = statemachine.Render(p.Graph, taskConfig(p.Config, resource))
			default:
				return fmt.Errorf("unknown format %q (want %s or %s)", format, formatJSON, formatASL)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	addDirFlag(cmd, &dir)
	cmd.Flags().StringVarP(&format, "format", "f", formatJSON, "output format: json or asl")
	cmd.Flags().StringVar(&resource, "resource", "", "step Lambda ARN, overriding stateMachine.taskResource")
	return cmd
}
