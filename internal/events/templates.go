package events

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// MessageTemplateEngine provides dynamic message generation for events.
// Templates are text/template with the sprig function map.
type MessageTemplateEngine struct {
	mu        sync.RWMutex
	sources   map[EventReason]string
	templates map[EventReason]*template.Template
}

// NewMessageTemplateEngine creates a new message template engine with default templates.
func NewMessageTemplateEngine() *MessageTemplateEngine {
	engine := &MessageTemplateEngine{
		sources:   make(map[EventReason]string),
		templates: make(map[EventReason]*template.Template),
	}
	engine.loadDefaultTemplates()
	return engine
}

var defaultTemplates = map[EventReason]string{
	ReasonApplicationRegistered: `Application {{.Application}} registered`,
	ReasonApplicationUpdated:    `Application {{.Application}} sync policy updated`,
	ReasonApplicationRemoved:    `Application {{.Application}} removed{{if .Message}} ({{.Message}}){{end}}`,
	ReasonPhaseChanged:          `Application {{.Application}} moved from {{.FromPhase | default "Unknown"}} to {{.ToPhase}}{{if .Message}}: {{.Message}}{{end}}`,
	ReasonCompareFailed:         `Compare of {{.Application}} failed{{if .Error}}: {{.Error}}{{end}}`,

	ReasonOperationPending: `Sync {{.OperationID | trunc 8}} of {{.Application}} queued ({{.Trigger | lower}}{{if .DryRun}}, dry run{{end}}) at revision {{.Revision | trunc 12 | default "unknown"}}`,
	ReasonOperationRunning: `Sync {{.OperationID | trunc 8}} of {{.Application}} started`,
	ReasonOperationSucceeded: `Sync {{.OperationID | trunc 8}} of {{.Application}} succeeded` +
		`{{with .Counts}} ({{index . "Succeeded" | default 0}} applied, {{index . "Skipped" | default 0}} skipped){{end}}{{if .Duration}} in {{.Duration}}{{end}}`,
	ReasonOperationFailed: `Sync {{.OperationID | trunc 8}} of {{.Application}} failed{{if .Error}}: {{.Error}}{{end}}`,
	ReasonOperationDegraded: `Sync {{.OperationID | trunc 8}} of {{.Application}} finished degraded` +
		`{{if .Message}}: {{.Message}}{{end}}`,

	ReasonActionSucceeded: `{{.Action.Type}} {{.Action.Key}} succeeded{{if gt .Action.Attempts 1}} after {{.Action.Attempts}} attempts{{end}}`,
	ReasonActionFailed:    `{{.Action.Type}} {{.Action.Key}} failed{{if .Action.Message}}: {{.Action.Message}}{{end}}`,
	ReasonActionSkipped:   `{{.Action.Type}} {{.Action.Key}} {{.Action.Message | default "skipped" | trimPrefix "skipped: " | printf "skipped: %s"}}`,
}

// loadDefaultTemplates initializes the default message templates for all event reasons.
func (e *MessageTemplateEngine) loadDefaultTemplates() {
	for reason, src := range defaultTemplates {
		if err := e.SetTemplate(reason, src); err != nil {
			panic(fmt.Sprintf("invalid default template for %s: %v", reason, err))
		}
	}
}

// Render generates a message for the given event reason and data.
func (e *MessageTemplateEngine) Render(reason EventReason, data EventData) string {
	e.mu.RLock()
	tmpl, exists := e.templates[reason]
	e.mu.RUnlock()
	if !exists {
		// Fallback for unknown event reasons
		return fmt.Sprintf("Event: %s for %s", string(reason), data.Application)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Sprintf("Event: %s for %s (template error: %v)", string(reason), data.Application, err)
	}
	return buf.String()
}

// SetTemplate replaces the message template for a specific event reason.
func (e *MessageTemplateEngine) SetTemplate(reason EventReason, src string) error {
	tmpl, err := template.New(string(reason)).Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(src)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[reason] = src
	e.templates[reason] = tmpl
	return nil
}

// GetTemplate returns the template source for a specific event reason.
func (e *MessageTemplateEngine) GetTemplate(reason EventReason) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	src, exists := e.sources[reason]
	return src, exists
}
