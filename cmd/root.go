package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gramveda/claim-intake/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "claim-intake",
	Short: "Forest-rights claim intake pipeline",
	Long:  "Turns document-extraction payloads into committed, spatially validated claim records: validation, gazetteer geocoding, duplicate and conflict detection, review gating, atomic commit.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
