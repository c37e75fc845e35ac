package main

import (
	"github.com/spf13/cobra"
)

var (
	flagConfig  string
	flagPrompt  string
	flagCwd     string
	flagSession string
	flagVerbose bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "opal",
		Short: "Opal is a provider-agnostic coding agent",
		Long: `Opal runs a coding agent against Anthropic, OpenAI, Bedrock, or any
OpenAI-compatible endpoint. Without -p it starts an interactive session;
input typed while a run is live steers it.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "opal.yaml", "path to the YAML config file")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log debug detail to stderr")
	root.Flags().StringVarP(&flagPrompt, "prompt", "p", "", "one-shot prompt (non-interactive)")
	root.Flags().StringVar(&flagCwd, "cwd", "", "override the working directory for file tools")
	root.Flags().StringVarP(&flagSession, "session", "s", "", "session id to resume (prefix match)")

	root.AddCommand(newSessionsCmd(), newModelsCmd())
	return root
}
