package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/t77yq/trigger-planner/internal/config"
)

var (
	configPath string
	principal  string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "trigger-planner",
	Short: "Plan and balance job trigger times",
	Long: `trigger-planner stores job trigger conditions, reports when jobs fire,
shows how triggers cluster over the week and spreads crowded trigger times
across a window.

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (PLANNER_* prefix)
3. Config file (--config, or ./config.yaml, ./config/config.yaml)
4. Default values`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err = newLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if principal == "" {
			principal = cfg.Auth.Principal
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&principal, "as", "", "principal to act as (default auth.principal)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(histogramCmd)
	rootCmd.AddCommand(rebalanceCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(depsCmd)
}

func newLogger(c config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}

	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
