package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nlroute",
	Short: "Route chat messages to bot commands by intent",
	Long: `nlroute turns free-form chat messages into bot command invocations.

Processors propose commands with a confidence score; the most confident
proposal at or above the threshold runs. Explicit commands such as /help
bypass intent routing.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
