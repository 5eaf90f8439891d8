package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tempusgraph/tempus/internal/config"
	"github.com/tempusgraph/tempus/internal/storage"
	"github.com/tempusgraph/tempus/internal/storage/postgres"
	"github.com/tempusgraph/tempus/internal/storage/sqlite"
)

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "tempus",
		Short: "Tempus: bi-temporal knowledge graph service",
		Long: `Tempus stores versioned facts on two time axes (when they were true and
when the system believed them), tracks preferences and ephemeral items,
mines the event log for recurring behaviour, and assembles decay-ranked
context snapshots.`,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, overrides TEMPUS_* environment variables)")
}

// loadConfig resolves configuration from the environment plus the optional
// --config file.
func loadConfig() (*config.Config, error) {
	return config.LoadConfig(cfgFile)
}

// openStore opens the configured storage backend.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		return postgres.NewStore(cfg.Storage.PostgresDSN)
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return sqlite.NewStore(filepath.Join(cfg.Storage.DataPath, "tempus.db"))
	}
}
