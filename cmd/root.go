package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "prompt-testing",
	Short: "Prompt regression testing with an LLM judge",
	Long: `prompt-testing replays multi-step conversations against prompt templates
using a remote chat-completion API (OpenRouter by default), answers the model's
tool calls with mocks, and has a judge model score every response against the
expected behaviour.

Prompts live in <suites-dir>/<prompt>/prompt.md next to their test cases
(*.json, *.yaml) and an optional mocks.yaml.

When run without subcommands, it starts the MCP server (equivalent to 'prompt-testing serve').`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			})))
		}
	},
}

// serveCmd is stored so the root command can delegate to it by default.
var serveCmd *cobra.Command

var (
	buildCommit = "unknown"
	buildDate   = "unknown"
)

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// SetBuildInfo sets the commit and build date for the version command.
func SetBuildInfo(commit, date string) {
	buildCommit = commit
	buildDate = date
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "prompt-testing version %s\n" .Version}}`)

	// The root command cannot parse serve-specific flags, so it only
	// delegates with the defaults.
	rootCmd.Run = func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(os.Stderr, "No subcommand specified. Defaulting to 'serve' (stdio transport).")
		fmt.Fprintln(os.Stderr, "For the HTTP API, use: prompt-testing serve --transport streamable-http")
		fmt.Fprintln(os.Stderr)
		if err := serveCmd.RunE(serveCmd, args); err != nil {
			slog.Error("serve failed", "error", err)
			os.Exit(1)
		}
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	serveCmd = newServeCmd()
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newModelsCmd())

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./prompt-testing.yaml if present)")
	rootCmd.PersistentFlags().String("suites-dir", "", "External prompt suites directory")
	rootCmd.PersistentFlags().String("db", "", "SQLite database for results (default: in memory)")
}
