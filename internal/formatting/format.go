// Package formatting renders sync controller data for the terminal.
//
// A Printer writes applications, statuses, operation history, diffs and
// events in one of four formats: kubectl-style tables (table, wide) or the
// raw documents as JSON or YAML.
package formatting

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"gitsync/internal/api"
	"gitsync/internal/events"
)

// OutputFormat represents the desired output format
type OutputFormat string

const (
	FormatTable OutputFormat = "table" // Plain table
	FormatWide  OutputFormat = "wide"  // Table with additional columns
	FormatJSON  OutputFormat = "json"  // Indented JSON
	FormatYAML  OutputFormat = "yaml"  // YAML converted from the JSON form
)

// ValidFormats lists the accepted values of ParseFormat.
var ValidFormats = []OutputFormat{FormatTable, FormatWide, FormatJSON, FormatYAML}

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range ValidFormats {
		if f == valid {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported output format: %q (valid: table, wide, json, yaml)", s)
}

// Options configures the printer behavior
type Options struct {
	Format    OutputFormat
	NoHeaders bool // Suppress the header row of tables
	Color     bool // Color phases and outcomes

	// Now is used to render ages. Defaults to time.Now.
	Now func() time.Time
}

// Printer writes formatted output to a single writer.
type Printer struct {
	out  io.Writer
	opts Options
}

// NewPrinter creates a printer. An empty format means table.
func NewPrinter(out io.Writer, opts Options) *Printer {
	if opts.Format == "" {
		opts.Format = FormatTable
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Printer{out: out, opts: opts}
}

// Options returns the effective options.
func (p *Printer) Options() Options {
	return p.opts
}

func (p *Printer) structured() bool {
	return p.opts.Format == FormatJSON || p.opts.Format == FormatYAML
}

func (p *Printer) wide() bool {
	return p.opts.Format == FormatWide
}

// encode writes v as JSON or YAML. YAML goes through the JSON form so that
// field names match the json tags.
func (p *Printer) encode(v any) error {
	switch p.opts.Format {
	case FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to convert to YAML: %w", err)
		}
		_, err = p.out.Write(data)
		return err
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		_, err = fmt.Fprintln(p.out, string(data))
		return err
	}
}

// Applications prints one line per application.
func (p *Printer) Applications(apps []api.AppStatus) error {
	if p.structured() {
		if apps == nil {
			apps = []api.AppStatus{}
		}
		return p.encode(apps)
	}
	if len(apps) == 0 {
		fmt.Fprintln(p.out, "No applications registered")
		return nil
	}
	p.applicationsTable(apps)
	return nil
}

// Status prints the summary and resources of one application.
func (p *Printer) Status(s *api.AppStatus) error {
	if p.structured() {
		return p.encode(s)
	}
	p.statusTable(s)
	return nil
}

// History prints past operations, newest first.
func (p *Printer) History(ops []api.SyncOperation) error {
	if p.structured() {
		if ops == nil {
			ops = []api.SyncOperation{}
		}
		return p.encode(ops)
	}
	if len(ops) == 0 {
		fmt.Fprintln(p.out, "No sync operations recorded")
		return nil
	}
	p.historyTable(ops)
	return nil
}

// Operation prints one operation with its actions.
func (p *Printer) Operation(op *api.SyncOperation) error {
	if p.structured() {
		return p.encode(op)
	}
	p.operationTable(op)
	return nil
}

// Diff prints the diff status of each resource followed by the field diffs.
func (p *Printer) Diff(diffs []api.DiffSummary) error {
	if p.structured() {
		if diffs == nil {
			diffs = []api.DiffSummary{}
		}
		return p.encode(diffs)
	}
	if len(diffs) == 0 {
		fmt.Fprintln(p.out, "No resources tracked")
		return nil
	}
	p.diffTable(diffs)
	return nil
}

// Events prints recent controller events.
func (p *Printer) Events(evs []events.Event) error {
	if p.structured() {
		if evs == nil {
			evs = []events.Event{}
		}
		return p.encode(evs)
	}
	if len(evs) == 0 {
		fmt.Fprintln(p.out, "No events")
		return nil
	}
	p.eventsTable(evs)
	return nil
}

// Message prints a one-line confirmation. Structured formats get a small
// document instead.
func (p *Printer) Message(application, message string) error {
	if p.structured() {
		return p.encode(map[string]string{"application": application, "message": message})
	}
	_, err := fmt.Fprintf(p.out, "%s %s: %s\n", p.paint(SymbolOK, colorGood), application, message)
	return err
}
