package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quotebot/internal/app"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

type consentView struct {
	User        string `json:"user"`
	Level       string `json:"level"`
	Description string `json:"description"`
}

func newConsentCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consent",
		Short: "Show or change an author's sharing preference",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <user>",
		Short: "Show an author's consent level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(func(a *app.App) error {
				level, err := a.Consent.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return o.printConsent(cmd, args[0], level)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <user> <denied|scoped|public>",
		Short: "Set an author's consent level",
		Long: "Set an author's consent level. Choosing denied deletes every message\n" +
			"learned from the author and removes their vectors from the index.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := types.ParseConsent(args[1])
			if err != nil {
				return err
			}
			return o.withApp(func(a *app.App) error {
				if err := a.Consent.Set(cmd.Context(), args[0], level); err != nil {
					return err
				}
				return o.printConsent(cmd, args[0], level)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear <user>",
		Short: "Clear an author's consent and forget their messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(func(a *app.App) error {
				if err := a.Consent.Clear(cmd.Context(), args[0]); err != nil {
					return err
				}
				return o.printConsent(cmd, args[0], types.ConsentUnset)
			})
		},
	})
	return cmd
}

func (o *options) printConsent(cmd *cobra.Command, user string, level types.ConsentLevel) error {
	if o.jsonMode {
		return writeJSON(cmd.OutOrStdout(), consentView{User: user, Level: level.String(), Description: level.Describe()})
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", user, level, level.Describe())
	return err
}
