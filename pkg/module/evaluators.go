package module

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

func defaultEvaluators() map[string]EvalFunc {
	return map[string]EvalFunc{
		".json": evalJSON,
		".toml": evalTOML,
		".yaml": evalYAML,
		".yml":  evalYAML,
		".tmpl": evalTemplate,
		".html": evalTemplate,
		".txt":  evalText,
		".md":   evalText,
	}
}

func evalJSON(_ context.Context, m *Module) (Exports, error) {
	var v any
	if err := json.Unmarshal(m.Source, &v); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return Exports{DefaultExport: v}, nil
}

func evalTOML(_ context.Context, m *Module) (Exports, error) {
	v := make(map[string]any)
	if err := toml.Unmarshal(m.Source, &v); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}
	return Exports{DefaultExport: v}, nil
}

func evalYAML(_ context.Context, m *Module) (Exports, error) {
	var v any
	if err := yaml.Unmarshal(m.Source, &v); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return Exports{DefaultExport: v}, nil
}

func evalTemplate(_ context.Context, m *Module) (Exports, error) {
	tmpl, err := template.New(filepath.Base(m.ID)).Parse(string(m.Source))
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return Exports{DefaultExport: tmpl}, nil
}

func evalText(_ context.Context, m *Module) (Exports, error) {
	return Exports{DefaultExport: string(m.Source)}, nil
}
