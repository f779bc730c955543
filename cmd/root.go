package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/signal-sink/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "signal-sink",
	Short: "Universal data sink: capture, relay and classify payloads",
	Long:  "Runs a local collector that accepts payloads over HTTP, clipboard and URL parameters, dedups them, stores them with a retention cap and classifies them with heuristics or Claude.",
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
