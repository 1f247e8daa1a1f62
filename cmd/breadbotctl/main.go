// Command breadbotctl is the operator CLI for breadbot: schema migrations,
// the bot invite link and a dry run of the category partitioner.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/proglangs/breadbot/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "breadbotctl",
		Short:         "Operator tooling for breadbot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd(), newInviteCmd(), newPartitionCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	return config.Load()
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("breadbotctl failed", slog.Any("err", err))
		os.Exit(1)
	}
}
