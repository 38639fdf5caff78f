// Package commands implements the peerscope operator CLI.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/peerscope/backend/internal/app"
	"github.com/OFFIS-RIT/peerscope/backend/internal/config"
	"github.com/OFFIS-RIT/peerscope/backend/internal/util"

	"github.com/spf13/cobra"
)

var (
	outputFormat string
	verbose      bool
)

// loadConfig reads the environment. Tests replace it.
var loadConfig = func() config.Config {
	util.LoadEnv()
	return config.Load()
}

// NewRootCmd creates the peerscope command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peerscope",
		Short: "Operate the peerscope similarity and clustering engine",
		Long: `peerscope runs the batch jobs and ad-hoc queries of the engine
against the configured stores.

Configuration is read from the environment and an optional .env file,
the same variables the server and the worker use.

Examples:
  peerscope migrate
  peerscope recompute-communities
  peerscope normalize-revenue --force
  peerscope similar 0000320193 --max-results 5
  peerscope anomalies 0000320193 --form-type 10-K --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format: text or json")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(
		NewMigrateCmd(),
		NewNormalizeRevenueCmd(),
		NewRecomputeCommunitiesCmd(),
		NewEmbedCmd(),
		NewSimilarCmd(),
		NewAnomaliesCmd(),
		NewEnqueueCmd(),
	)
	return cmd
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// setup loads the configuration and installs the logger.
func setup() (config.Config, error) {
	if outputFormat != "text" && outputFormat != "json" {
		return config.Config{}, fmt.Errorf("unknown format %q, expected text or json", outputFormat)
	}
	cfg := loadConfig()
	if verbose {
		cfg.Log.Debug = true
	}
	app.InitLogger(cfg.Log)
	return cfg, nil
}

// openApp builds the engine for a command.
func openApp(ctx context.Context, opts ...app.Option) (*app.App, error) {
	cfg, err := setup()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing engine: %w", err)
	}
	return a, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
