package main

import (
	"github.com/dgnsrekt/shadowtrack/internal/config"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "shadowtrack",
	Short: "Detect cookie-based tracking by comparing each page with a cookie-free shadow load",
	Long: `shadowtrack attaches to a Chromium instance over the DevTools protocol.
Every top-level navigation is replayed in an isolated browser context with an
empty cookie jar. Cookies whose values differ between the two loads identify
the user, and third parties receiving them are reported as trackers.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides SHADOWTRACK_LOG_LEVEL")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(safeCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("shadowtrack v%s\n", Version)
	},
}

// loadConfig reads the environment and applies persistent flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}
