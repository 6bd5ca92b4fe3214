package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"conclave/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "conclave",
	Short: "Multi-worker delegation and session coordination engine",
	Long: `Conclave coordinates cooperating worker processes on a unit of work:
it scores a request's complexity, picks a delegation strategy, runs
interdependent sub-tasks in dependency order, lets workers exchange
intermediate findings through shared session context, and resolves
disagreements between workers on read.

Workers are external commands declared in a capability registry; the
engine is agnostic to what they do internally.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: XDG + project .conclave.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration from the --config path or the
// standard layered locations.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromPath(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
