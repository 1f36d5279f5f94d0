package cmd

import (
	"fmt"

	"bluelab/internal/app"

	"github.com/spf13/cobra"
)

func NewNightlyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "nightly",
		Short: "Run every NIGHTLY_BUILD job once",
		Args:  cobra.NoArgs,
		RunE:  runNightly,
	}
}

func runNightly(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	a, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer a.Close()

	outcomes, err := a.BuildNightly(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			fmt.Fprintf(out, "%s: failed: %v\n", o.Branch, o.Err)
		case o.Result.Skipped:
			fmt.Fprintf(out, "%s: no changesets since last build\n", o.Branch)
		default:
			fmt.Fprintf(out, "%s: built %d variants, fix version %s\n", o.Branch, len(o.Result.Variants), o.Result.FixVersion)
		}
	}
	return app.FirstError(outcomes)
}
