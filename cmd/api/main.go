package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gocrave/runner-api/internal/platform/config"
	"github.com/gocrave/runner-api/internal/platform/logger"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configFile = os.Getenv("CONFIG_FILE")
		cfg        config.Config
	)

	root := &cobra.Command{
		Use:           "runner-api",
		Short:         "GoCrave runner onboarding API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			c, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			cfg = c
			logger.Init(logger.Config{
				Env:         cfg.Log.Env,
				Level:       cfg.Log.Level,
				ServiceName: "runner-api",
				Version:     version,
			})
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", configFile, "YAML config file (env CONFIG_FILE)")

	root.AddCommand(newServeCmd(&cfg), newReconcileCmd(&cfg))
	return root
}
