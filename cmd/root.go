package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"dealdesk-backend/pkg/config"
	"dealdesk-backend/pkg/logger"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dealdesk",
	Short: "Deal flow triage for investor inboxes",
	Long: `dealdesk links a Gmail inbox, classifies incoming mail and keeps a
scored list of founder pitches.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(migrateCmd)
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

// setup loads configuration and configures the global logger
func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Pretty)
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
