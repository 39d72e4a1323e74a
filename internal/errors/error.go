package errors

import (
	"errors"
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	CategoryEvaluation Category = "evaluation"
	CategoryLifecycle  Category = "lifecycle"
	CategoryChannel    Category = "channel"
	CategoryConfig     Category = "config"
	CategoryCLI        Category = "cli"
	CategoryAsset      Category = "asset"
)

// HotrunError is a structured error with a code, the failing module and a hint.
type HotrunError struct {
	// Code is a unique error identifier (e.g., "H101").
	Code string

	// Category is the error type (evaluation, lifecycle, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Module is the path of the module (or file) involved, if any.
	Module string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *HotrunError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Module != "" {
		msg += " (" + e.Module + ")"
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *HotrunError) Unwrap() error {
	return e.Wrapped
}

// WithModule records the module path the error relates to.
func (e *HotrunError) WithModule(path string) *HotrunError {
	e.Module = path
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *HotrunError) WithSuggestion(s string) *HotrunError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *HotrunError) WithDetail(d string) *HotrunError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *HotrunError) Wrap(err error) *HotrunError {
	e.Wrapped = err
	return e
}

// New creates a HotrunError from a registered error code.
func New(code string) *HotrunError {
	template, ok := registry[code]
	if !ok {
		return &HotrunError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &HotrunError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
	}
}

// Newf creates a new HotrunError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *HotrunError {
	return &HotrunError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a HotrunError.
// An error that already is (or wraps) a HotrunError is returned as that error.
func FromError(err error, code string) *HotrunError {
	if err == nil {
		return nil
	}
	var he *HotrunError
	if errors.As(err, &he) {
		return he
	}
	return New(code).Wrap(err)
}

// CategoryOf returns the category of the first HotrunError in err's chain.
func CategoryOf(err error) (Category, bool) {
	var he *HotrunError
	if errors.As(err, &he) {
		return he.Category, true
	}
	return "", false
}

// ModuleOf returns the innermost module path recorded in err's chain.
func ModuleOf(err error) string {
	module := ""
	for err != nil {
		var he *HotrunError
		if !errors.As(err, &he) {
			break
		}
		if he.Module != "" {
			module = he.Module
		}
		err = he.Wrapped
	}
	return module
}
