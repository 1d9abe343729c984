package cli

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quotebot/internal/agent"
	"github.com/mesh-intelligence/quotebot/internal/app"
	"github.com/mesh-intelligence/quotebot/internal/console"
)

func newChatCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Run the agent against a line-oriented console",
		Long: "Read chat lines from stdin and print the agent's replies, reactions, and\n" +
			"prompts to stdout. Channel membership comes from the audience section of\n" +
			"config.yaml. At end of input queued messages are processed; replies still\n" +
			"waiting out their delay are dropped.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return o.withApp(func(a *app.App) error {
				agentID := o.config.Agent.ID
				con := console.New(cmd.OutOrStdout(), agentID)
				audience := console.NewStaticAudience(o.config.Audience, agentID)
				return a.Serve(ctx, con, audience, func(ctx context.Context, ag *agent.Agent) error {
					err := con.Run(ctx, cmd.InOrStdin(), ag)
					ag.Drain()
					return err
				})
			})
		},
	}
}
