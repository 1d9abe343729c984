package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the quotebot release.
const Version = "0.1.0"

const modulePath = "github.com/mesh-intelligence/quotebot"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the quotebot version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "quotebot v%s\nmodule: %s\n", Version, modulePath)
			return nil
		},
	}
}
