// Package cli provides the jobwatch command-line interface.
package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/jobwatch/internal/backend"
	"github.com/kiranshivaraju/jobwatch/internal/config"
	"github.com/kiranshivaraju/jobwatch/internal/lifecycle"
	"github.com/kiranshivaraju/jobwatch/internal/logging"
	"github.com/kiranshivaraju/jobwatch/internal/registry"
)

// Version is set at build time.
var Version = "v0.1.0-dev"

// rootOptions holds the global flags and the runtime built from them.
type rootOptions struct {
	backendURL   string
	interval     time.Duration
	maxDuration  time.Duration
	cancelPolicy string
	verbose      bool
	noProgress   bool

	rt *runtime
}

// runtime is the job tracking subsystem a command drives.
type runtime struct {
	cfg        *config.Config
	log        zerolog.Logger
	client     backend.Client
	registry   *registry.Registry
	controller *lifecycle.Controller
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	o := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "jobwatch",
		Short: "Start, follow and cancel ML pipeline jobs",
		Long: `jobwatch drives the ML pipeline backend from a terminal.

It creates jobs, polls their status until they finish, runs the three
cache-first validation tracks for a dataset, and runs what-if risk
simulations. Configuration comes from the environment (and .env); the
global flags below override it.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.setup(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&o.backendURL, "backend", "", "Pipeline backend base URL including /api (overrides BACKEND_BASE_URL)")
	rootCmd.PersistentFlags().DurationVar(&o.interval, "interval", 0, "Status poll interval (overrides POLL_INTERVAL)")
	rootCmd.PersistentFlags().DurationVar(&o.maxDuration, "timeout", 0, "Give up polling after this long (overrides POLL_MAX_DURATION)")
	rootCmd.PersistentFlags().StringVar(&o.cancelPolicy, "cancel-policy", "", "reconcile or optimistic (overrides CANCEL_POLICY)")
	rootCmd.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&o.noProgress, "no-progress", false, "Do not draw progress bars")

	rootCmd.AddCommand(
		newRunCmd(o),
		newWatchCmd(o),
		newCancelCmd(o),
		newValidateCmd(o),
		newSimulateCmd(o),
	)
	return rootCmd
}

func (o *rootOptions) setup(cmd *cobra.Command) error {
	// A missing .env is fine.
	_ = godotenv.Load()

	cfg := config.FromEnv()
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend.BaseURL = o.backendURL
	}
	if flags.Changed("interval") {
		cfg.Polling.Interval = o.interval
	}
	if flags.Changed("timeout") {
		cfg.Polling.MaxDuration = o.maxDuration
	}
	if flags.Changed("cancel-policy") {
		cfg.Polling.CancelPolicy = o.cancelPolicy
	}
	cfg.Log.Format = "console"
	cfg.Log.Level = "warn"
	if o.verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	client := backend.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	reg := registry.New()
	o.rt = &runtime{
		cfg:      cfg,
		log:      logger,
		client:   client,
		registry: reg,
		controller: lifecycle.NewController(client, reg, nil, lifecycle.Options{
			Interval:     cfg.Polling.Interval,
			MaxAttempts:  cfg.Polling.MaxAttempts,
			MaxDuration:  cfg.Polling.MaxDuration,
			CancelPolicy: lifecycle.CancelPolicy(cfg.Polling.CancelPolicy),
		}, logger),
	}
	return nil
}

// close stops every poller the command started. Subcommands defer it from RunE, which also
// covers the error paths a PersistentPostRun would skip.
func (o *rootOptions) close() {
	if o.rt != nil {
		o.rt.controller.Close()
	}
}

func (o *rootOptions) progressWriter(cmd *cobra.Command) io.Writer {
	if o.noProgress {
		return io.Discard
	}
	return cmd.ErrOrStderr()
}
