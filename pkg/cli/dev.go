package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hotrun-dev/hotrun/internal/config"
	"github.com/hotrun-dev/hotrun/internal/dev"
	"github.com/hotrun-dev/hotrun/internal/keys"
)

type devFlags struct {
	dir     string
	port    int
	host    string
	entry   string
	poll    bool
	verbose bool
}

func devCmd(opts *Options) *cobra.Command {
	var f devFlags

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Start the dev orchestrator",
		Long: `Start the application and reload it when its sources change.

Keys while running:
  r  full reload
  o  open the address in the browser
  q  quit

Examples:
  hotrun dev
  hotrun dev --port=8080
  PORT=3000 hotrun dev --host=0.0.0.0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(cmd.Context(), opts, f)
		},
	}

	cmd.Flags().StringVarP(&f.dir, "dir", "C", ".", "Project root")
	cmd.Flags().IntVarP(&f.port, "port", "p", 0, "Port to listen on (default from PORT or hotrun.json)")
	cmd.Flags().StringVarP(&f.host, "host", "H", "", "Host to bind to (default from HOST or hotrun.json)")
	cmd.Flags().StringVar(&f.entry, "entry", "", "Entry module (default from hotrun.json)")
	cmd.Flags().BoolVar(&f.poll, "poll", false, "Poll for changes instead of using file system events")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Log diagnostics")

	return cmd
}

// loadConfig reads hotrun.json, then applies the environment and flags.
func loadConfig(opts *Options, f devFlags) (*config.Config, error) {
	cfg, err := config.Load(f.dir)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(opts.Getenv); err != nil {
		return nil, err
	}
	if f.port > 0 {
		cfg.Server.Port = f.port
	}
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.entry != "" {
		cfg.Entry = f.entry
	}
	if f.poll {
		cfg.Dev.Poll = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runDev(ctx context.Context, opts *Options, f devFlags) error {
	cfg, err := loadConfig(opts, f)
	if err != nil {
		return err
	}
	logger := newLogger(opts.Stderr, f.verbose).With("component", "dev")

	lock, err := lockProject(cfg.Root())
	if err != nil {
		return err
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher, input, restore := terminalKeys(opts, lock, logger)
	defer restore()

	devOpts := dev.Options{
		Config:     cfg,
		Registry:   opts.Registry,
		Keys:       dispatcher,
		Stdout:     opts.Stdout,
		Stderr:     opts.Stderr,
		Logger:     logger,
		AppMetrics: prometheus.DefaultGatherer,
	}
	if input != nil {
		devOpts.Input = input
	}
	o, err := dev.New(devOpts)
	if err != nil {
		return err
	}
	return o.Run(ctx)
}

// terminalKeys puts stdin in raw mode when it is a terminal and returns
// the dispatcher the session binds its keys on. Ctrl+C exits with 130
// after restoring the terminal and releasing the lock.
func terminalKeys(opts *Options, lock *flock.Flock, logger *slog.Logger) (*keys.Dispatcher, *os.File, func() error) {
	restore := func() error { return nil }
	var input *os.File
	if fd := int(opts.Stdin.Fd()); keys.IsTerminal(fd) {
		r, err := keys.MakeRaw(fd)
		if err != nil {
			logger.Debug("raw mode unavailable", "error", err)
		} else {
			restore = r
			input = opts.Stdin
		}
	}

	dispatcher := keys.NewDispatcher(
		keys.WithLogger(logger.With("component", "keys")),
		keys.WithInterrupt(func() {
			restore()
			lock.Unlock()
			opts.Exit(130)
		}),
	)
	return dispatcher, input, restore
}
