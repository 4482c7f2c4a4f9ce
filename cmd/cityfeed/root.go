package main

import (
	"github.com/spf13/cobra"

	"cityfeed/internal/config"
	appLog "cityfeed/internal/log"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "cityfeed",
	Short: "Expand city calendar feeds into concrete upcoming occurrences",
	Long: `cityfeed fetches calendar feeds, expands recurring events into the
occurrences of the coming weeks and serves them as JSON and ICS.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if logLevel != "" {
			appLog.SetLevel(appLog.ParseLevel(logLevel))
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/cityfeed/config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")
}

// loadConfig loads the config file and applies its log level unless the
// flag already set one.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", configPath)
		return nil, err
	}
	if logLevel == "" {
		appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	}
	return cfg, nil
}
