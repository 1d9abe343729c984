// Package cli implements the quotebot command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quotebot/internal/app"
	"github.com/mesh-intelligence/quotebot/internal/console"
	"github.com/mesh-intelligence/quotebot/internal/logging"
	"github.com/mesh-intelligence/quotebot/internal/paths"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// options holds global flag values and the loaded config for one run.
type options struct {
	configDir string
	dataDir   string
	jsonMode  bool
	logOutput io.Writer

	config types.Config
}

// NewRootCmd creates the top-level "quotebot" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	o := &options{logOutput: os.Stderr}
	root := &cobra.Command{
		Use:   "quotebot",
		Short: "A chat agent that answers with things people have said",
		Long: "quotebot learns messages people agree to share and replies to new messages\n" +
			"with the closest matching one, within each author's consent.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			configDir, err := paths.ResolveConfigDir(o.configDir)
			if err != nil {
				return fmt.Errorf("resolve config dir: %w", err)
			}
			o.configDir = configDir
			o.config, err = loadConfig(configDir, o.dataDir)
			return err
		},
	}

	root.PersistentFlags().StringVar(&o.configDir, "config-dir", "", "configuration directory (default: per-user config dir)")
	root.PersistentFlags().StringVar(&o.dataDir, "data-dir", "", "data directory (default: $(CWD)/.quotebot)")
	root.PersistentFlags().BoolVar(&o.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(o))
	root.AddCommand(newConsentCmd(o))
	root.AddCommand(newSettingsCmd(o))
	root.AddCommand(newStatsCmd(o))
	root.AddCommand(newConvergeCmd(o))
	root.AddCommand(newChatCmd(o))
	return root
}

// Execute runs the root command and exits with the matching code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitSuccess)
}

// userErrors are mistakes the invoking user can fix.
var userErrors = []error{
	types.ErrInvalidConsent,
	types.ErrUnknownSetting,
	types.ErrInvalidValue,
	types.ErrInvalidScope,
	types.ErrInvalidID,
	console.ErrMalformedLine,
}

func exitCode(err error) int {
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	return exitSysError
}

// withApp opens the services for one command and closes them afterwards.
func (o *options) withApp(fn func(a *app.App) error) error {
	logs := logging.NewFactory(logging.New(o.logOutput, o.config.Log.Level), o.config.Log.Components)
	a, err := app.Open(o.config, logs)
	if err != nil {
		return err
	}
	runErr := fn(a)
	if err := a.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
