package main

import (
	"fmt"
	"os"

	"github.com/newthinker/stratsync/internal/config"
	"github.com/newthinker/stratsync/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "stratsync",
	Short: "stratsync - live strategy statistics reconciler",
	Long: `stratsync derives live performance statistics for trading strategies
from their closed trades, writes changed values back to the entity store
at a pace the store tolerates, and can opt out strategies that fail the
performance policy.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

// setup loads and validates the configuration and builds the logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg := config.Defaults()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	opts := logger.Options{Development: debug, Level: cfg.Log.Level}
	if debug {
		opts.Level = "debug"
	}
	log, err := logger.Build(opts)
	if err != nil {
		return nil, nil, err
	}
	if cfgFile == "" {
		log.Warn("no config file specified, using defaults")
	}
	return cfg, log, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
