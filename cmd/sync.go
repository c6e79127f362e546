package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"attendance-bridge/internal/bridge"
	"attendance-bridge/internal/logging"
)

var syncDevice string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync devices once",
	Long: `Read users and punch logs from every configured device, or from the
one named by --device, store them and forward new punches. The command
fails when any device fails.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncDevice, "device", "", "sync only this device id")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.API.Enabled = false

	manager, err := bridge.NewManager(cfg, bridge.WithVersion(logging.Version), bridge.WithLogger(commandLogger()))
	if err != nil {
		return err
	}
	defer manager.Close()

	if err := manager.Syncer().RegisterDevices(); err != nil {
		return fmt.Errorf("failed to register devices: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var results []bridge.Result
	if syncDevice != "" {
		result, _ := manager.SyncDevice(ctx, syncDevice)
		results = append(results, result)
	} else {
		results = manager.RunSync(ctx)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tBRAND\tSTATUS\tUSERS\tPUNCHES\tNEW\tDURATION\tERROR")

	failed := 0
	for _, r := range results {
		status := "ok"
		if !r.Success {
			status = "failed"
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.DeviceID, r.Brand, status, r.Users, r.Punches, r.NewPunches,
			r.Duration.Round(time.Millisecond), r.Error)
	}
	w.Flush()

	if failed > 0 {
		return fmt.Errorf("%d of %d devices failed to sync", failed, len(results))
	}
	return nil
}
