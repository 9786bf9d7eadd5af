package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spiralos/guardian/internal/config"
	"github.com/spiralos/guardian/internal/storage"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	configPath string
	dbPath     string
	dbBackend  string

	cfg   *config.Config
	store storage.Storage
)

var rootCmd = &cobra.Command{
	Use:   "guardian",
	Short: "Anomaly detection and auto-regulation for mesh nodes",
	Long: `guardian watches node telemetry for degradation (heartbeat gaps, ache spikes,
coherence drops, sovereignty instability, entropy spikes), records anomalies,
and applies corrective strategies under freeze, budget and cooldown safety gates.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["no-store"] == "true" {
			return nil
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dbBackend != "" {
			loaded.Storage.Backend = storage.Backend(dbBackend)
		}
		if dbPath != "" {
			loaded.Storage.Path = dbPath
		}
		if err := loaded.Storage.Validate(); err != nil {
			return fmt.Errorf("invalid storage flags: %w", err)
		}
		cfg = loaded

		s, err := storage.NewStorage(cmd.Context(), cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		store = s
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			if err := store.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to close storage: %v\n", err)
			}
		}
	},
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print the guardian version",
	Annotations: map[string]string{"no-store": "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("guardian %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default "+config.DefaultPath+" if present)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dbBackend, "backend", "", "storage backend: sqlite, postgres or memory (overrides config)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
