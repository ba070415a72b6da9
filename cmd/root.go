// Package cmd is the command-line surface over the index engine: sync,
// search, and status.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memex",
		Short: "Personal knowledge index with hybrid semantic + keyword search",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env is optional; provider API keys usually live there.
			godotenv.Load()

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "config file (json5 or yaml)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(syncCmd())
	cmd.AddCommand(searchCmd())
	cmd.AddCommand(statusCmd())
	cmd.AddCommand(configCmd())
	cmd.AddCommand(doctorCmd())
	return cmd
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "memex.json5"
	}
	return filepath.Join(home, ".memex", "memex.json5")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
