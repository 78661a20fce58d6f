package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config.yaml"
	}

	cmd := &cobra.Command{
		Use:   "debugarena",
		Short: "Debug Arena: timed code-debugging quizzes with a scored leaderboard",
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to config file")
	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newMigrateCmd(&configPath))
	return cmd
}
