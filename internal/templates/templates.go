package templates

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/hotrun-dev/hotrun/internal/errors"
)

// Config contains template configuration.
type Config struct {
	// ProjectName is the name of the project.
	ProjectName string

	// ModulePath is the Go module path.
	ModulePath string

	// Description is a short project description.
	Description string

	// Port is written to hotrun.json.
	Port int
}

// Template represents a project template.
type Template struct {
	// Name is the template name.
	Name string

	// Description describes the template.
	Description string

	// Files is a map of relative paths to file contents.
	Files map[string]string
}

// Available templates.
var templates = map[string]*Template{
	"basic": basicTemplate(),
	"api":   apiTemplate(),
}

// Get returns a template by name.
func Get(name string) (*Template, error) {
	tmpl, ok := templates[name]
	if !ok {
		return nil, errors.New("H503").
			WithDetail("Template '" + name + "' not found").
			WithSuggestion("Available templates: " + strings.Join(List(), ", "))
	}
	return tmpl, nil
}

// List returns all available template names, sorted.
func List() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Paths returns the relative paths the template writes, sorted.
func (t *Template) Paths() []string {
	paths := make([]string, 0, len(t.Files))
	for p := range t.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Create generates a project from the template.
func (t *Template) Create(dir string, cfg Config) error {
	for _, relPath := range t.Paths() {
		tmpl, err := template.New(relPath).Delims("[[", "]]").Parse(t.Files[relPath])
		if err != nil {
			return errors.Newf(errors.CategoryCLI, "invalid template %s: %v", relPath, err)
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, cfg); err != nil {
			return errors.Newf(errors.CategoryCLI, "template execute error %s: %v", relPath, err)
		}

		fullPath := filepath.Join(dir, filepath.FromSlash(relPath))
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(fullPath, buf.Bytes(), 0644); err != nil {
			return err
		}
	}
	return nil
}

const goMod = `module [[.ModulePath]]

go 1.25
`

const devMain = `// Command dev runs [[.ProjectName]] with hot reload:
//
//	go run ./cmd/dev dev
package main

import (
	_ "[[.ModulePath]]/src/backend"

	"github.com/hotrun-dev/hotrun/pkg/cli"
)

func main() {
	cli.Main(cli.Options{})
}
`

const gitignore = `.hotrun/
dist/
`

func basicTemplate() *Template {
	return &Template{
		Name:        "basic",
		Description: "Backend entry module with data modules and a frontend",
		Files: map[string]string{
			"go.mod":          goMod,
			".gitignore":      gitignore,
			"cmd/dev/main.go": devMain,
			"hotrun.json": `{
  "entry": "src/backend/app.go",
  "server": {
    "port": [[.Port]]
  },
  "frontend": {
    "index": "src/frontend/index.html"
  },
  "dev": {
    "watch": ["src"]
  }
}
`,
			"src/backend/app.go": `// Package backend is the [[.ProjectName]] application.
package backend

import (
	"context"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hotrun-dev/hotrun/pkg/app"
	"github.com/hotrun-dev/hotrun/pkg/module"
)

func init() {
	module.Register("src/backend/app.go", module.Definition{
		Imports: []string{"./config.toml", "./hello.tmpl"},
		Eval:    eval,
	})
}

func eval(_ context.Context, m *module.Module) (module.Exports, error) {
	cfg, _ := module.Default[map[string]any](m.Import("./config.toml"))
	greeting, _ := cfg["greeting"].(string)
	page, _ := module.Default[*template.Template](m.Import("./hello.tmpl"))

	return module.Exports{
		app.CreateAppExport: app.Factory(func(opts app.Options) (app.Server, error) {
			a := app.New(opts)
			a.Router().Get("/api/hello/{name}", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				page.Execute(w, map[string]string{
					"Greeting": greeting,
					"Name":     chi.URLParam(r, "name"),
				})
			})
			return a, nil
		}),
	}, nil
}
`,
			"src/backend/config.toml": `greeting = "Hello"
`,
			"src/backend/hello.tmpl": `<h1>{{.Greeting}}, {{.Name}}!</h1>
`,
			"src/frontend/index.html": `<!doctype html>
<html>
<head>
  <meta charset="utf-8">
  <title>[[.ProjectName]]</title>
  <link rel="stylesheet" href="./style.css">
</head>
<body>
  <main id="app"></main>
  <script type="module" src="./main.ts"></script>
</body>
</html>
`,
			"src/frontend/main.ts": `const res = await fetch("/api/hello/world");
document.getElementById("app")!.innerHTML = await res.text();
`,
			"src/frontend/style.css": `body {
  font-family: system-ui, sans-serif;
}
`,
		},
	}
}

func apiTemplate() *Template {
	return &Template{
		Name:        "api",
		Description: "Backend entry module only",
		Files: map[string]string{
			"go.mod":          goMod,
			".gitignore":      gitignore,
			"cmd/dev/main.go": devMain,
			"hotrun.json": `{
  "entry": "src/backend/app.go",
  "server": {
    "port": [[.Port]]
  },
  "dev": {
    "watch": ["src"],
    "hotReload": false
  }
}
`,
			"src/backend/app.go": `// Package backend is the [[.ProjectName]] API.
package backend

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hotrun-dev/hotrun/pkg/app"
	"github.com/hotrun-dev/hotrun/pkg/module"
)

func init() {
	module.Register("src/backend/app.go", module.Definition{
		Imports: []string{"./routes.yaml"},
		Eval:    eval,
	})
}

func eval(_ context.Context, m *module.Module) (module.Exports, error) {
	routes, _ := module.Default[map[string]any](m.Import("./routes.yaml"))

	return module.Exports{
		app.CreateAppExport: app.Factory(func(opts app.Options) (app.Server, error) {
			a := app.New(opts)
			for path, body := range routes {
				a.Router().Get(path, func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					json.NewEncoder(w).Encode(body)
				})
			}
			return a, nil
		}),
	}, nil
}
`,
			"src/backend/routes.yaml": `/api/status:
  ok: true
  service: [[.ProjectName]]
`,
		},
	}
}
