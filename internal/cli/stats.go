package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quotebot/internal/app"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

type statsView struct {
	Messages        int            `json:"messages"`
	Indexed         int            `json:"indexed"`
	Vectors         int            `json:"vectors"`
	PendingRemovals int            `json:"pending_removals"`
	Repairs         int            `json:"repairs"`
	Consent         map[string]int `json:"consent"`
}

func newStatsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store and index counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(func(a *app.App) error {
				ctx := cmd.Context()
				var v statsView
				var err error
				if v.Messages, v.Indexed, err = a.Store.CountMessages(ctx); err != nil {
					return err
				}
				v.Vectors = a.Index.Len()
				removals, err := a.Store.PendingRemovals(ctx, 0)
				if err != nil {
					return err
				}
				v.PendingRemovals = len(removals)
				repairs, err := a.Store.Repairs(ctx, 0)
				if err != nil {
					return err
				}
				v.Repairs = len(repairs)
				counts, err := a.Consent.Counts(ctx)
				if err != nil {
					return err
				}
				v.Consent = make(map[string]int, len(types.ConsentChoices))
				for _, level := range types.ConsentChoices {
					v.Consent[level.String()] = counts[level]
				}

				if o.jsonMode {
					return writeJSON(cmd.OutOrStdout(), v)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "messages:         %d (%d indexed)\n", v.Messages, v.Indexed)
				fmt.Fprintf(out, "vectors:          %d\n", v.Vectors)
				fmt.Fprintf(out, "pending removals: %d\n", v.PendingRemovals)
				fmt.Fprintf(out, "repairs:          %d\n", v.Repairs)
				for _, level := range types.ConsentChoices {
					fmt.Fprintf(out, "consent %-9s %d\n", level.String()+":", v.Consent[level.String()])
				}
				return nil
			})
		},
	}
}
