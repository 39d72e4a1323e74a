package watch

import (
	"path/filepath"
	"strings"
)

// ChangeType classifies a changed file by extension.
type ChangeType int

const (
	ChangeSource ChangeType = iota
	ChangeData
	ChangeStyle
	ChangeTemplate
	ChangeAsset
)

// String returns the change type name.
func (t ChangeType) String() string {
	switch t {
	case ChangeSource:
		return "source"
	case ChangeData:
		return "data"
	case ChangeStyle:
		return "style"
	case ChangeTemplate:
		return "template"
	default:
		return "asset"
	}
}

// Op is what happened to a file.
type Op int

const (
	OpWrite Op = iota
	OpCreate
	OpRemove
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpRemove:
		return "remove"
	default:
		return "write"
	}
}

// Change is a detected file change.
type Change struct {
	Path string
	Type ChangeType
	Op   Op
}

// Classify determines the type of change based on file extension.
func Classify(path string) ChangeType {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".go":
		return ChangeSource
	case ".json", ".toml", ".yaml", ".yml", ".txt", ".md":
		return ChangeData
	case ".css", ".scss", ".sass", ".less":
		return ChangeStyle
	case ".html", ".gohtml", ".tmpl":
		return ChangeTemplate
	default:
		return ChangeAsset
	}
}
