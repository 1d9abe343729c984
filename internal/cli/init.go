package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quotebot/internal/app"
)

func newInitCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize quotebot storage",
		Long:  "Create the configuration and data directories, the store, and an empty index.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := o.withApp(func(a *app.App) error { return nil })
			if err != nil {
				return fmt.Errorf("initialize storage: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "quotebot initialized\nconfig: %s\ndata:   %s\n", o.configDir, o.config.DataDir)
			return nil
		},
	}
}
