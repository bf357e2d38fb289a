package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/lakeloader/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "lakeloader",
		Short: "Incrementally load MongoDB collections into a Postgres warehouse",
		Long: `lakeloader turns a catalog of migration definitions into a workflow graph:
one idempotent chain per collection that stages the aggregated documents,
evolves the destination table and appends the new rows, then a join barrier
and any downstream reports.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewValidateCmd(),
		commands.NewGraphCmd(),
		commands.NewRunCmd(),
		commands.NewStepCmd(),
		commands.NewStatusCmd(),
		commands.NewServeCmd(),
		commands.NewPublishCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
