// Package cmd defines the CLI commands for the cromap executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/cromap-crawler/internal/app"
	"github.com/JakeFAU/cromap-crawler/internal/config"
	"github.com/JakeFAU/cromap-crawler/internal/logging"
)

var cfgFile string

// runtimeKey stores the loaded runtime in the command context.
type runtimeKey struct{}

// runtime carries what every subcommand needs before building services.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the service factory. It is a variable so tests can inject fakes.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cromap",
		Short: "Crawl the contract research directory into a deduplicated export.",
		Long: `cromap walks a hierarchical directory of contract research organizations
(root, country, state, organization), caches every fetched page, and writes a
deduplicated export of organization records enriched with their country.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, &runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := resolveRuntime(cmd.Context()); err == nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.AddCommand(newCrawlCmd(), newReportCmd())
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	if ctx == nil {
		return nil, errors.New("command context not initialized")
	}
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// Execute is the main entry point. A production logger is installed before
// any command runs so that config and startup failures are logged too.
func Execute() {
	bootstrap, err := logging.New(logging.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init bootstrap logger: %v\n", err)
		os.Exit(1)
	}
	os.Exit(execute(context.Background(), newRootCmd(), bootstrap))
}

// execute runs root with bootstrap as the global logger until the configured
// logger replaces it, and returns the process exit code.
func execute(ctx context.Context, root *cobra.Command, bootstrap *zap.Logger) int {
	restore := zap.ReplaceGlobals(bootstrap)
	defer restore()
	if err := root.ExecuteContext(ctx); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		_ = zap.L().Sync()
		return 1
	}
	return 0
}
