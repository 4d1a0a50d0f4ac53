package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ErrorKind says which loading step a ConfigurationError came from.
type ErrorKind string

const (
	ErrorKindIO         ErrorKind = "io"
	ErrorKindParse      ErrorKind = "parse"
	ErrorKindValidation ErrorKind = "validation"
)

// ConfigurationError is one problem found while loading config.yaml or an
// application file.
type ConfigurationError struct {
	Path     string    `json:"path"`
	Category string    `json:"category"` // CategoryConfig or CategoryApplications
	Kind     ErrorKind `json:"kind"`
	Field    string    `json:"field,omitempty"`
	Line     int       `json:"line,omitempty"`
	Message  string    `json:"message"`
	Hint     string    `json:"hint,omitempty"`
}

func (ce ConfigurationError) Error() string {
	where := filepath.Base(ce.Path)
	if ce.Field != "" {
		where += ": " + ce.Field
	}
	return fmt.Sprintf("[%s] %s: %s", ce.Category, where, ce.Message)
}

// report renders the error as an indented block for the serve command.
func (ce ConfigurationError) report() string {
	location := ce.Path
	if ce.Line > 0 {
		location = fmt.Sprintf("%s:%d", ce.Path, ce.Line)
	}
	lines := []string{fmt.Sprintf("%s (%s %s error)", location, ce.Category, ce.Kind)}
	if ce.Field != "" {
		lines = append(lines, "  field: "+ce.Field)
	}
	lines = append(lines, "  "+ce.Message)
	if ce.Hint != "" {
		lines = append(lines, "  hint: "+ce.Hint)
	}
	return strings.Join(lines, "\n")
}

// ConfigurationErrorCollection gathers every problem of one load so they
// are reported together.
type ConfigurationErrorCollection struct {
	Errors []ConfigurationError `json:"errors"`
}

func (cec *ConfigurationErrorCollection) Error() string {
	switch len(cec.Errors) {
	case 0:
		return "no configuration errors"
	case 1:
		return cec.Errors[0].Error()
	}
	return fmt.Sprintf("%d configuration errors: %s (and %d more)",
		len(cec.Errors), cec.Errors[0].Error(), len(cec.Errors)-1)
}

func (cec *ConfigurationErrorCollection) HasErrors() bool {
	return len(cec.Errors) > 0
}

func (cec *ConfigurationErrorCollection) Count() int {
	return len(cec.Errors)
}

func (cec *ConfigurationErrorCollection) Add(errs ...ConfigurationError) {
	cec.Errors = append(cec.Errors, errs...)
}

// addIO records a file that could not be read or listed.
func (cec *ConfigurationErrorCollection) addIO(path, category string, err error) {
	cec.Add(ConfigurationError{Path: path, Category: category, Kind: ErrorKindIO, Message: err.Error()})
}

// InCategory returns the errors of one category.
func (cec *ConfigurationErrorCollection) InCategory(category string) []ConfigurationError {
	var out []ConfigurationError
	for _, e := range cec.Errors {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

// Report renders every error, one block each.
func (cec *ConfigurationErrorCollection) Report() string {
	if len(cec.Errors) == 0 {
		return "configuration is valid"
	}
	blocks := make([]string, 0, len(cec.Errors)+1)
	blocks = append(blocks, fmt.Sprintf("configuration has %d errors:", len(cec.Errors)))
	for _, e := range cec.Errors {
		blocks = append(blocks, e.report())
	}
	return strings.Join(blocks, "\n\n")
}
