// Package cli implements the rewardbot commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"reward-bot/internal/config"
	"reward-bot/internal/logger"
	"reward-bot/internal/repository"
)

var (
	configPath string
	cfg        config.Config
)

// RootCmd is the top-level command. Without a subcommand it serves.
var RootCmd = &cobra.Command{
	Use:   "rewardbot",
	Short: "Telegram bot that reports student reward points",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return logger.Init(cfg.LogLevel, cfg.LogFormat)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	Run: runServe,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (yaml, json or toml); environment variables override it")
}

func storeOptions() repository.Options {
	return repository.Options{
		DSN:     cfg.Storage.DSN(),
		MongoDB: cfg.Storage.MongoDB,
		Logger:  logger.Named("store"),
	}
}

// openStoreStrict opens the configured store, exiting instead of falling back
// to the unavailable store.
func openStoreStrict(cmd *cobra.Command) repository.Store {
	store, err := repository.Open(cmd.Context(), storeOptions())
	if err != nil {
		exitErr("open store", err)
	}
	return store
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	_ = logger.Sync()
	os.Exit(1)
}
