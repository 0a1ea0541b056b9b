package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the calendai application
var rootCmd = &cobra.Command{
	Use:   "calendai",
	Short: "Conversational assistant for Google Calendar",
	Long: `calendai is a conversational calendar assistant. It brokers natural
language requests through an LLM provider, executes the resulting tool
calls against Google Calendar, and replies in natural language.

It runs as an HTTP service exposing the OAuth handshake endpoints and
the chat endpoint.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "calendai version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
