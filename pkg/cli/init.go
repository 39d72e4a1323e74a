package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hotrun-dev/hotrun/internal/config"
	"github.com/hotrun-dev/hotrun/internal/errors"
	"github.com/hotrun-dev/hotrun/internal/templates"
)

func initCmd() *cobra.Command {
	var (
		template   string
		modulePath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "init <dir>",
		Short: "Create a new hotrun project",
		Long: `Create a new hotrun project in dir.

Templates:
  basic   Backend entry module with data modules and a frontend (default)
  api     Backend entry module only

Examples:
  hotrun init shop
  hotrun init shop --module=example.com/shop
  hotrun init billing --template=api`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, args[0], template, modulePath, port)
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", "basic", "Project template ("+strings.Join(templates.List(), ", ")+")")
	cmd.Flags().StringVarP(&modulePath, "module", "m", "", "Go module path (default: the directory name)")
	cmd.Flags().IntVarP(&port, "port", "p", config.DefaultPort, "Port written to hotrun.json")

	return cmd
}

func runInit(cmd *cobra.Command, dir, templateName, modulePath string, port int) error {
	tmpl, err := templates.Get(templateName)
	if err != nil {
		return err
	}

	projectDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if entries, err := os.ReadDir(projectDir); err == nil && len(entries) > 0 {
		return errors.New("H502").
			WithModule(projectDir).
			WithSuggestion("Choose a different directory or remove the existing one")
	}

	name := filepath.Base(projectDir)
	if modulePath == "" {
		modulePath = strings.ToLower(name)
	}

	if err := os.MkdirAll(projectDir, 0755); err != nil {
		return err
	}
	cfg := templates.Config{
		ProjectName: name,
		ModulePath:  modulePath,
		Description: tmpl.Description,
		Port:        port,
	}
	if err := tmpl.Create(projectDir, cfg); err != nil {
		os.RemoveAll(projectDir)
		return err
	}

	w := cmd.OutOrStdout()
	success(w, "Created %s from the %s template", dir, tmpl.Name)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Next steps:")
	fmt.Fprintf(w, "    cd %s\n", dir)
	fmt.Fprintln(w, "    go get github.com/hotrun-dev/hotrun && go mod tidy")
	fmt.Fprintln(w, "    go run ./cmd/dev dev")
	fmt.Fprintln(w)
	return nil
}
