package cli

import "github.com/spf13/cobra"

// NewRootCommand creates the runtrace command with all subcommands.
func NewRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "runtrace",
		Short: "Trace runs across process boundaries",
		Long: `runtrace demonstrates distributed run tracing: "call" opens a run and
calls a "serve" process, which attaches its own runs to the caller's trace.
"decode" inspects a propagated context, "collect" forwards run events from a
broker to the collector.

Configuration is read from --config (YAML) and then from RUNTRACE_*
environment variables.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")

	cmd.AddCommand(
		newCallCmd(&configPath),
		newServeCmd(&configPath),
		newDecodeCmd(&configPath),
		newCollectCmd(&configPath),
	)
	return cmd
}
