package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/envoyou/crossval/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "crossval",
	Short: "Cross-validation and confidence scoring for emissions data",
	Long:  "Validates reported facility emissions against EPA registries, cross-checks quantities against regulatory references, and scores the result. Degrades through cached and sample data instead of failing.",
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
