package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

const Version = "0.1.0"

var logLevelFlag string

var rootCmd = &cobra.Command{
	Use:   "clusterdeck",
	Short: "Clusterdeck - multi-tenant cluster operations backend",
	Long: `Clusterdeck manages tenant cluster connections, collects telemetry,
and computes efficiency and compliance reports with bounded auto-remediation.`,
	Version: Version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"Log level (debug, info, warn, error, fatal); overrides the config file")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(probeCmd)
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error", "fatal":
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error, fatal)", level)
}
