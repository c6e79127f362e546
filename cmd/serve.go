package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"attendance-bridge/internal/bridge"
	"attendance-bridge/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge service",
	Long: `Run the periodic device sync and, when enabled, the HTTP API until
interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	manager, err := bridge.NewManager(cfg, bridge.WithVersion(logging.Version))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return manager.Start(ctx)
}
