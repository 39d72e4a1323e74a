package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hotrun-dev/hotrun/internal/dev"
	"github.com/hotrun-dev/hotrun/internal/errors"
	"github.com/hotrun-dev/hotrun/pkg/module"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Options configures the command line.
type Options struct {
	// Registry holds the application's Go modules. Defaults to
	// module.DefaultRegistry.
	Registry *module.Registry

	// Stdin, Stdout and Stderr default to the process streams.
	Stdin  *os.File
	Stdout io.Writer
	Stderr io.Writer

	// Getenv defaults to os.Getenv.
	Getenv func(string) string

	// Exit is called on Ctrl-C with status 130. Defaults to os.Exit.
	Exit func(code int)
}

func (o *Options) defaults() {
	if o.Registry == nil {
		o.Registry = module.DefaultRegistry
	}
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	if o.Exit == nil {
		o.Exit = os.Exit
	}
}

// NewCommand builds the hotrun root command.
func NewCommand(opts Options) *cobra.Command {
	opts.defaults()

	root := &cobra.Command{
		Use:   "hotrun",
		Short: "Hot-reloading dev orchestrator for Go web applications",
		Long: `hotrun runs a Go web application in development.

It evaluates the application's entry module, serves it, and reloads it
when its sources change:

  • Partial reloads re-evaluate only the changed modules
  • Full reloads on config changes or the r key
  • Browser reload and error overlay over a websocket
  • Frontend assets transformed on request`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	root.AddCommand(
		initCmd(),
		devCmd(&opts),
		runCmd(&opts),
		modulesCmd(&opts),
		versionCmd(),
	)
	return root
}

// Execute runs the command line with args and returns the process exit
// status.
func Execute(ctx context.Context, opts Options, args []string) int {
	opts.defaults()
	if opts.Getenv("NO_COLOR") != "" || !dev.ColorEnabled(opts.Stderr) {
		errors.DisableColors()
	}
	cmd := NewCommand(opts)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		errors.PrintError(opts.Stderr, err)
		return 1
	}
	return 0
}

// Main runs the command line on the process arguments and exits.
func Main(opts Options) {
	os.Exit(Execute(context.Background(), opts, os.Args[1:]))
}

// newLogger returns the diagnostics logger, at Debug when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

var successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)

// success prints a success message.
func success(w io.Writer, format string, args ...any) {
	mark := "✓"
	if dev.ColorEnabled(w) {
		mark = successStyle.Render(mark)
	}
	fmt.Fprintf(w, "%s %s\n", mark, fmt.Sprintf(format, args...))
}
