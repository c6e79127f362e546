package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"attendance-bridge/internal/config"
	"attendance-bridge/internal/logging"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "attendance-bridge",
	Short: "Attendance Bridge - Read biometric attendance terminals",
	Long: `A local agent that talks to ZKTeco and Fingertec attendance terminals
over their TCP protocol. It reads user tables and punch logs, stores them
in a local database, summarises them against a shift and optionally
publishes them to Redis.

Run without a subcommand to start the bridge service.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and applies the --log-level override
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

// commandLogger logs to stderr so command output on stdout stays clean.
// One-shot commands only log warnings unless --log-level says otherwise.
func commandLogger() *logrus.Logger {
	level := logLevel
	if level == "" {
		level = "warn"
	}
	logger := logging.Initialize(level)
	logger.SetOutput(os.Stderr)
	return logger
}
