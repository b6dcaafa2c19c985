// Package cmd defines and implements the CLI commands for the fetcher executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/headless-fetch/internal/app"
	"github.com/JakeFAU/headless-fetch/internal/config"
	"github.com/JakeFAU/headless-fetch/internal/logging"
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType struct{}

// env is what PersistentPreRunE resolves for every subcommand.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the application factory. It's a variable so tests can inject a
// stub browser launcher.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...app.Option) (*app.App, error) {
	return app.New(ctx, cfg, logger, opts...)
}

// newLogger is swapped in tests to capture or silence output.
var newLogger = logging.New

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "fetcher",
		Short: "Fetches pages through a headless browser from a work queue.",
		Long: `fetcher drives a shared headless Chrome through one fetch cycle per queued
URL: it navigates with a bounded network-idle wait, records the response on
the queue item, reads the rendered document, and reports every outcome as an
event to logs, metrics, blob storage and Pub/Sub.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKeyType{}, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, err := resolveEnv(cmd.Context()); err == nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON); FETCHER_* env vars override it")

	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	if ctx == nil {
		return nil, errors.New("command context not initialized")
	}
	e, ok := ctx.Value(envKeyType{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("command context not initialized")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
