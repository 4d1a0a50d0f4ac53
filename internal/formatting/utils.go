package formatting

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"

	"gitsync/internal/api"
	gsstrings "gitsync/pkg/strings"
)

// Status symbols used in plain output.
const (
	SymbolOK   = "✓"
	SymbolWarn = "⚠"
	SymbolFail = "✗"
)

type tone int

const (
	colorNone tone = iota
	colorGood
	colorWarn
	colorBad
	colorMuted
)

var toneColors = map[tone]text.Colors{
	colorGood:  {text.FgGreen},
	colorWarn:  {text.FgYellow},
	colorBad:   {text.FgRed},
	colorMuted: {text.FgHiBlack},
}

// paint colors s when colors are enabled.
func (p *Printer) paint(s string, t tone) string {
	if !p.opts.Color || t == colorNone {
		return s
	}
	return toneColors[t].Sprint(s)
}

func phaseTone(phase api.Phase) tone {
	switch phase {
	case api.PhaseSynced:
		return colorGood
	case api.PhaseOutOfSyncDetected, api.PhaseSyncing:
		return colorWarn
	case api.PhaseFailed, api.PhaseDegraded:
		return colorBad
	default:
		return colorMuted
	}
}

func healthTone(h api.HealthStatus) tone {
	switch h {
	case api.HealthHealthy:
		return colorGood
	case api.HealthProgressing, api.HealthMissing:
		return colorWarn
	case api.HealthDegraded:
		return colorBad
	default:
		return colorMuted
	}
}

func operationTone(s api.OperationStatus) tone {
	switch s {
	case api.OperationSucceeded:
		return colorGood
	case api.OperationRunning, api.OperationPending:
		return colorWarn
	default:
		return colorBad
	}
}

func outcomeTone(o api.ActionOutcome) tone {
	switch o {
	case api.OutcomeSucceeded:
		return colorGood
	case api.OutcomeFailed:
		return colorBad
	case api.OutcomeSkipped:
		return colorMuted
	default:
		return colorWarn
	}
}

func diffTone(s api.DiffStatus) tone {
	switch s {
	case api.DiffInSync:
		return colorGood
	case api.DiffOrphaned:
		return colorMuted
	default:
		return colorWarn
	}
}

// ShortRevision trims commit hashes to 8 characters. Other revisions, such
// as directory content digests shorter than that, are kept.
func ShortRevision(rev string) string {
	if rev == "" {
		return "-"
	}
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Age renders the time elapsed since t the way kubectl does: the largest
// unit only, 2 digits at most before switching to the next unit.
func Age(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// Duration renders the run time of an operation, or "-" while it runs.
func Duration(start time.Time, end *time.Time) string {
	if end == nil || start.IsZero() {
		return "-"
	}
	return end.Sub(start).Round(time.Millisecond).String()
}

// Truncate shortens s to max runes on a single line.
func Truncate(s string, max int) string {
	return gsstrings.TruncateMessage(s, max)
}

// PrettyJSON formats any value as indented JSON for human-readable display.
// It falls back to fmt.Sprintf when the value cannot be marshaled.
func PrettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
