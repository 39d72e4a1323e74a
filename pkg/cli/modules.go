package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hotrun-dev/hotrun/internal/runner"
	"github.com/hotrun-dev/hotrun/pkg/module"
)

func modulesCmd(opts *Options) *cobra.Command {
	var f devFlags

	cmd := &cobra.Command{
		Use:   "modules",
		Short: "Evaluate the entry module and list the module graph",
		Long: `Evaluate the entry module once, the way dev does at startup, and
print every module that was loaded with its content hash and imports.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModules(cmd.Context(), cmd, opts, f)
		},
	}

	cmd.Flags().StringVarP(&f.dir, "dir", "C", ".", "Project root")
	cmd.Flags().StringVar(&f.entry, "entry", "", "Entry module (default from hotrun.json)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Log diagnostics")

	return cmd
}

func runModules(ctx context.Context, cmd *cobra.Command, opts *Options, f devFlags) error {
	cfg, err := loadConfig(opts, f)
	if err != nil {
		return err
	}
	logger := newLogger(opts.Stderr, f.verbose)

	loader, err := module.NewLoader(cfg.Root(), opts.Registry)
	if err != nil {
		return err
	}
	r := runner.New(cfg.EntryPath(), loader, runner.WithLogger(logger.With("component", "runner")))
	defer r.Close()

	if _, err := r.ExecuteEntry(ctx); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tHASH\tIMPORTS")
	for _, e := range r.Entries() {
		fmt.Fprintf(tw, "%s\t%016x\t%s\n", relPath(cfg.Root(), e.ID), e.Hash, importList(cfg.Root(), e.Imports))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	success(w, "%d modules from %s", r.Len(), relPath(cfg.Root(), r.Entry()))
	return nil
}

func importList(root string, ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += relPath(root, id)
	}
	return out
}

func relPath(root, p string) string {
	if rel, err := filepath.Rel(root, p); err == nil {
		return filepath.ToSlash(rel)
	}
	return p
}
