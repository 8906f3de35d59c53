// gaze - local gaze-to-cursor daemon and tooling
// Receives gaze samples from a browser tracker, smooths them and renders a
// fading cursor trail to overlay clients.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-gaze/internal/config"
	"github.com/teslashibe/go-gaze/internal/log"
)

// defaultConfigPath is read when --config is not given and the file exists.
const defaultConfigPath = "gaze.yaml"

var (
	configPath string
	logLevel   string
	logJSON    bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:           "gaze",
	Short:         "Gaze-to-cursor overlay daemon",
	SilenceUsage:  true, // Don't print usage on error
	SilenceErrors: false,
	Long: `gaze runs a local session that receives gaze samples from a browser eye
tracker over a WebSocket, smooths them, and streams a fading cursor trail
to overlay clients. It also drives calibration runs and exports their logs.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
		} else {
			cfg, err = config.LoadOptional(defaultConfigPath)
		}
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if cmd.Flags().Changed("log-json") {
			cfg.Log.JSON = logJSON
		}
		log.Setup(os.Stderr, cfg.Log.Level, cfg.Log.JSON)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./gaze.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Error already printed by cobra
		cancel()
		os.Exit(1)
	}
}
