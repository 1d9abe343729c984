package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quotebot/internal/app"
)

func newConvergeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "converge",
		Short: "Bring the index in line with the store",
		Long: "Flag orphan vectors and stale assignments, drain pending removals,\n" +
			"resolve repairs, and embed messages that are not indexed yet.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(func(a *app.App) error {
				if err := a.Converger.Reconcile(cmd.Context()); err != nil {
					return err
				}
				rep, err := a.Converger.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				if o.jsonMode {
					return writeJSON(cmd.OutOrStdout(), map[string]int{
						"removed": rep.Removed, "repaired": rep.Repaired,
						"embedded": rep.Embedded, "failed": rep.Failed,
					})
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d, repaired %d, embedded %d, failed %d\n",
					rep.Removed, rep.Repaired, rep.Embedded, rep.Failed)
				return err
			})
		},
	}
}
