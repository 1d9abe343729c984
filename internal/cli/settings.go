package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quotebot/internal/app"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

type settingView struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Default string   `json:"default"`
	Rule    string   `json:"rule"`
	Choices []string `json:"choices"`
	Help    string   `json:"help"`
}

type scopeView struct {
	Scope       string `json:"scope"`
	ID          string `json:"id,omitempty"`
	Value       string `json:"value,omitempty"`
	Contributed bool   `json:"contributed"`
}

type resolutionView struct {
	Name        string      `json:"name"`
	Value       string      `json:"value"`
	Rule        string      `json:"rule"`
	FromDefault bool        `json:"from_default"`
	Explanation string      `json:"explanation"`
	Scopes      []scopeView `json:"scopes"`
}

func newSettingsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "List, resolve, and change scoped settings",
	}
	cmd.AddCommand(newSettingsListCmd(o), newSettingsShowCmd(o), newSettingsSetCmd(o), newSettingsUnsetCmd(o))
	return cmd
}

func newSettingsListCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the registered settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(func(a *app.App) error {
				defs := a.Settings.Definitions()
				if o.jsonMode {
					views := make([]settingView, len(defs))
					for i, d := range defs {
						views[i] = settingView{
							Name: d.Name, Kind: string(d.Kind), Default: d.Default,
							Rule: d.Rule.Name(), Choices: d.ValidChoices(), Help: d.Help,
						}
					}
					return writeJSON(cmd.OutOrStdout(), views)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tDEFAULT\tRULE\tCHOICES\tHELP")
				for _, d := range defs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						d.Name, d.Default, d.Rule.Name(), strings.Join(d.ValidChoices(), "|"), d.Help)
				}
				return w.Flush()
			})
		},
	}
}

func newSettingsShowCmd(o *options) *cobra.Command {
	var scope types.Context
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Resolve a setting for a user, channel, and server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(func(a *app.App) error {
				res, err := a.Settings.Effective(cmd.Context(), args[0], scope)
				if err != nil {
					return err
				}
				view := resolutionView{
					Name: res.Name, Value: res.Value, Rule: res.Rule,
					FromDefault: res.FromDefault, Explanation: res.Explanation,
				}
				for _, st := range res.Scopes {
					view.Scopes = append(view.Scopes, scopeView{
						Scope: string(st.Kind), ID: st.ID, Value: st.Value, Contributed: st.Contributed,
					})
				}
				if o.jsonMode {
					return writeJSON(cmd.OutOrStdout(), view)
				}
				return printResolution(cmd, view)
			})
		},
	}
	cmd.Flags().StringVar(&scope.User, "user", "", "user ID")
	cmd.Flags().StringVar(&scope.Channel, "channel", "", "channel ID")
	cmd.Flags().StringVar(&scope.Server, "server", "", "server ID")
	return cmd
}

func printResolution(cmd *cobra.Command, v resolutionView) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s = %s\n%s\n", v.Name, v.Value, v.Explanation)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCOPE\tID\tVALUE\t")
	for _, s := range v.Scopes {
		id, value, mark := s.ID, s.Value, ""
		if id == "" {
			id = "-"
		}
		if value == "" {
			value = "-"
		}
		if s.Contributed {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Scope, id, value, mark)
	}
	return w.Flush()
}

func newSettingsSetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <user|channel|server> <id> <value>",
		Short: "Override a setting at one scope",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := types.ParseScope(args[1])
			if err != nil {
				return err
			}
			return o.withApp(func(a *app.App) error {
				stored, err := a.Settings.Set(cmd.Context(), args[0], kind, args[2], args[3])
				if err != nil {
					return err
				}
				return o.printOverride(cmd, args[0], types.ScopedValue{Kind: kind, ScopeID: args[2], Value: stored})
			})
		},
	}
}

func newSettingsUnsetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unset <name> <user|channel|server> <id>",
		Short: "Remove a setting override",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := types.ParseScope(args[1])
			if err != nil {
				return err
			}
			return o.withApp(func(a *app.App) error {
				if err := a.Settings.Unset(cmd.Context(), args[0], kind, args[2]); err != nil {
					return err
				}
				return o.printOverride(cmd, args[0], types.ScopedValue{Kind: kind, ScopeID: args[2]})
			})
		},
	}
}

func (o *options) printOverride(cmd *cobra.Command, name string, v types.ScopedValue) error {
	if o.jsonMode {
		return writeJSON(cmd.OutOrStdout(), map[string]string{
			"name": name, "scope": string(v.Kind), "id": v.ScopeID, "value": v.Value,
		})
	}
	if v.Value == "" {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: cleared %s:%s\n", name, v.Kind, v.ScopeID)
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, v)
	return err
}
