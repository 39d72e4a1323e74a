package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hotrun-dev/hotrun/internal/dev"
)

type runFlags struct {
	devFlags
	frontendPort int
}

func runCmd(opts *Options) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an entry module without a server next to a frontend dev server",
		Long: `Serve the frontend on its own address and execute the entry module,
executing it again when its sources change.

The entry module starts no server. It may export "dispose", which runs
before each re-execution and when hotrun exits.

Keys while running:
  r  restart the entry module
  o  open the frontend in the browser
  q  quit

Examples:
  hotrun run
  hotrun run --frontend-port=3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(cmd.Context(), opts, f)
		},
	}

	cmd.Flags().StringVarP(&f.dir, "dir", "C", ".", "Project root")
	cmd.Flags().StringVarP(&f.host, "host", "H", "", "Host to bind the frontend server to (default from HOST or hotrun.json)")
	cmd.Flags().IntVar(&f.frontendPort, "frontend-port", 0, "Port of the frontend server (default from hotrun.json)")
	cmd.Flags().StringVar(&f.entry, "entry", "", "Entry module (default from hotrun.json)")
	cmd.Flags().BoolVar(&f.poll, "poll", false, "Poll for changes instead of using file system events")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Log diagnostics")

	return cmd
}

func runScript(ctx context.Context, opts *Options, f runFlags) error {
	cfg, err := loadConfig(opts, f.devFlags)
	if err != nil {
		return err
	}
	if f.frontendPort > 0 {
		cfg.Frontend.Port = f.frontendPort
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	logger := newLogger(opts.Stderr, f.verbose).With("component", "run")

	lock, err := lockProject(cfg.Root())
	if err != nil {
		return err
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher, input, restore := terminalKeys(opts, lock, logger)
	defer restore()

	scriptOpts := dev.Options{
		Config:     cfg,
		Registry:   opts.Registry,
		Keys:       dispatcher,
		Stdout:     opts.Stdout,
		Stderr:     opts.Stderr,
		Logger:     logger,
		AppMetrics: prometheus.DefaultGatherer,
	}
	if input != nil {
		scriptOpts.Input = input
	}
	s, err := dev.NewScript(scriptOpts)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}
