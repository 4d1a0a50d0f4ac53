package formatting

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"gitsync/internal/api"
	"gitsync/internal/events"
	gsstrings "gitsync/pkg/strings"
)

// plainStyle renders kubectl-style tables: no borders, no separators and
// three spaces between columns, so the output pipes well into grep and awk.
func plainStyle() table.Style {
	style := table.StyleDefault
	style.Name = "Plain"
	style.Options = table.Options{
		DrawBorder:      false,
		SeparateColumns: false,
		SeparateFooter:  false,
		SeparateHeader:  false,
		SeparateRows:    false,
	}
	style.Box.PaddingLeft = ""
	style.Box.PaddingRight = "   "
	return style
}

func (p *Printer) newTable(headers ...interface{}) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(plainStyle())
	if !p.opts.NoHeaders {
		t.AppendHeader(table.Row(headers))
	}
	return t
}

func (p *Printer) applicationsTable(apps []api.AppStatus) {
	headers := []interface{}{"Name", "Phase", "Health", "Revision", "Synced", "Last Sync"}
	if p.wide() {
		headers = append(headers, "Repo", "Path", "Destination", "Policy")
	}
	t := p.newTable(headers...)

	now := p.opts.Now()
	for _, s := range apps {
		last := "-"
		if op := s.LastSyncOperation; op != nil {
			last = fmt.Sprintf("%s (%s)", op.Status, Age(now, op.StartedAt))
		}
		row := table.Row{
			s.Application.Name,
			p.paint(string(s.Phase), phaseTone(s.Phase)),
			p.paint(healthLabel(s.Health.Status), healthTone(s.Health.Status)),
			ShortRevision(s.Revision),
			ShortRevision(s.SyncedRevision),
			last,
		}
		if p.wide() {
			row = append(row,
				s.Application.Source.RepoURL,
				dash(s.Application.Source.Path),
				destination(s.Application.Destination),
				policyLabel(s.Application.SyncPolicy),
			)
		}
		t.AppendRow(row)
	}
	t.Render()
}

func (p *Printer) statusTable(s *api.AppStatus) {
	app := s.Application
	target := app.Source.TargetRevision
	if target == "" {
		target = "HEAD"
	}

	fmt.Fprintf(p.out, "Name:         %s\n", app.Name)
	fmt.Fprintf(p.out, "Source:       %s@%s:%s\n", app.Source.RepoURL, target, dash(app.Source.Path))
	fmt.Fprintf(p.out, "Destination:  %s\n", destination(app.Destination))
	fmt.Fprintf(p.out, "Policy:       %s\n", policyLabel(app.SyncPolicy))
	fmt.Fprintf(p.out, "Phase:        %s\n", p.paint(string(s.Phase), phaseTone(s.Phase)))
	fmt.Fprintf(p.out, "Health:       %s\n", p.paint(healthSummary(s.Health), healthTone(s.Health.Status)))
	fmt.Fprintf(p.out, "Revision:     %s (synced %s)\n", dash(s.Revision), dash(s.SyncedRevision))
	if s.LastComparedAt != nil {
		fmt.Fprintf(p.out, "Compared:     %s ago\n", Age(p.opts.Now(), *s.LastComparedAt))
	}
	if op := s.LastSyncOperation; op != nil {
		fmt.Fprintf(p.out, "Last sync:    %s %s (%s, %s)\n", op.ID, p.paint(string(op.Status), operationTone(op.Status)), op.Trigger, dash(op.Message))
	}
	if s.Error != nil {
		fmt.Fprintf(p.out, "Error:        %s\n", p.paint(errorLabel(s.Error), colorBad))
	}

	if len(s.Resources) == 0 {
		return
	}
	fmt.Fprintln(p.out)
	t := p.newTable("Kind", "Namespace", "Name", "Status", "Health", "Message")
	for _, r := range s.Resources {
		t.AppendRow(table.Row{
			r.Key.Kind,
			dash(r.Key.Namespace),
			r.Key.Name,
			p.paint(string(r.Status), diffTone(r.Status)),
			p.paint(healthLabel(r.Health), healthTone(r.Health)),
			dash(Truncate(r.Message, gsstrings.DefaultMessageMaxLen)),
		})
	}
	t.Render()
}

func (p *Printer) historyTable(ops []api.SyncOperation) {
	headers := []interface{}{"ID", "Status", "Trigger", "Revision", "Actions", "Started", "Duration"}
	if p.wide() {
		headers = append(headers, "Flags", "Message")
	}
	t := p.newTable(headers...)

	now := p.opts.Now()
	for _, op := range ops {
		row := table.Row{
			op.ID,
			p.paint(string(op.Status), operationTone(op.Status)),
			string(op.Trigger),
			ShortRevision(op.Revision),
			actionCounts(&op),
			Age(now, op.StartedAt),
			Duration(op.StartedAt, op.FinishedAt),
		}
		if p.wide() {
			row = append(row, operationFlags(&op), dash(Truncate(op.Message, gsstrings.DefaultMessageMaxLen)))
		}
		t.AppendRow(row)
	}
	t.Render()
}

func (p *Printer) operationTable(op *api.SyncOperation) {
	fmt.Fprintf(p.out, "Operation:    %s\n", op.ID)
	fmt.Fprintf(p.out, "Application:  %s\n", op.Application)
	fmt.Fprintf(p.out, "Status:       %s\n", p.paint(string(op.Status), operationTone(op.Status)))
	fmt.Fprintf(p.out, "Trigger:      %s\n", op.Trigger)
	fmt.Fprintf(p.out, "Revision:     %s\n", dash(op.Revision))
	fmt.Fprintf(p.out, "Flags:        %s\n", operationFlags(op))
	fmt.Fprintf(p.out, "Duration:     %s\n", Duration(op.StartedAt, op.FinishedAt))
	if op.Message != "" {
		fmt.Fprintf(p.out, "Message:      %s\n", op.Message)
	}
	if op.Error != nil {
		fmt.Fprintf(p.out, "Error:        %s\n", p.paint(errorLabel(op.Error), colorBad))
	}

	if len(op.Actions) == 0 {
		return
	}
	fmt.Fprintln(p.out)
	t := p.newTable("#", "Type", "Resource", "Wave", "Outcome", "Attempts", "Message")
	for _, a := range op.Actions {
		msg := a.Message
		if a.Error != nil {
			msg = a.Error.Message
		}
		t.AppendRow(table.Row{
			a.ID,
			string(a.Type),
			a.Key.String(),
			a.Wave,
			p.paint(string(a.Outcome), outcomeTone(a.Outcome)),
			a.Attempts,
			dash(Truncate(msg, gsstrings.DefaultMessageMaxLen)),
		})
	}
	t.Render()
}

func (p *Printer) diffTable(diffs []api.DiffSummary) {
	t := p.newTable("Kind", "Namespace", "Name", "Status", "Replace")
	changed := 0
	for _, d := range diffs {
		replace := ""
		if d.Replace {
			replace = "yes"
			if len(d.ImmutableFields) > 0 {
				replace += " (" + strings.Join(d.ImmutableFields, ", ") + ")"
			}
		}
		t.AppendRow(table.Row{
			d.Key.Kind,
			dash(d.Key.Namespace),
			d.Key.Name,
			p.paint(string(d.Status), diffTone(d.Status)),
			dash(replace),
		})
		if d.Diff != "" {
			changed++
		}
	}
	t.Render()

	if changed == 0 {
		return
	}
	for _, d := range diffs {
		if d.Diff == "" {
			continue
		}
		fmt.Fprintf(p.out, "\n--- %s (%s)\n", d.Key, d.Status)
		for _, line := range strings.Split(strings.TrimRight(d.Diff, "\n"), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				line = p.paint(line, colorGood)
			case strings.HasPrefix(line, "-"):
				line = p.paint(line, colorBad)
			}
			fmt.Fprintln(p.out, line)
		}
	}
}

func (p *Printer) eventsTable(evs []events.Event) {
	headers := []interface{}{"Age", "Type", "Reason", "Application", "Message"}
	if p.wide() {
		headers = append(headers, "Operation")
	}
	t := p.newTable(headers...)

	now := p.opts.Now()
	for _, e := range evs {
		typ := string(e.Type)
		if e.Type == events.EventTypeWarning {
			typ = p.paint(typ, colorWarn)
		}
		row := table.Row{
			Age(now, e.Time),
			typ,
			string(e.Reason),
			e.Application,
			Truncate(e.Message, 80),
		}
		if p.wide() {
			row = append(row, dash(e.OperationID))
		}
		t.AppendRow(row)
	}
	t.Render()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func destination(d api.Destination) string {
	if d.Namespace == "" {
		return d.Cluster
	}
	return d.Cluster + "/" + d.Namespace
}

func healthLabel(h api.HealthStatus) string {
	if h == "" {
		return string(api.HealthUnknown)
	}
	return string(h)
}

func healthSummary(h api.HealthSummary) string {
	label := healthLabel(h.Status)
	var parts []string
	for _, c := range []struct {
		n    int
		name string
	}{
		{h.Healthy, "healthy"},
		{h.Progressing, "progressing"},
		{h.Degraded, "degraded"},
		{h.Missing, "missing"},
	} {
		if c.n > 0 {
			parts = append(parts, strconv.Itoa(c.n)+" "+c.name)
		}
	}
	if len(parts) > 0 {
		label += " (" + strings.Join(parts, ", ") + ")"
	}
	if h.Message != "" {
		label += ": " + h.Message
	}
	return label
}

// policyLabel lists the enabled policy switches, or "manual".
func policyLabel(p api.SyncPolicy) string {
	var flags []string
	if p.Automated {
		flags = append(flags, "automated")
	}
	if p.SelfHeal {
		flags = append(flags, "self-heal")
	}
	if p.Prune {
		flags = append(flags, "prune")
	}
	if p.AllowEmpty {
		flags = append(flags, "allow-empty")
	}
	if len(flags) == 0 {
		return "manual"
	}
	return strings.Join(flags, ",")
}

func operationFlags(op *api.SyncOperation) string {
	var flags []string
	if op.DryRun {
		flags = append(flags, "dry-run")
	}
	if op.Prune {
		flags = append(flags, "prune")
	}
	return dash(strings.Join(flags, ","))
}

// actionCounts renders succeeded/total plus failures, e.g. "2/3 (1 failed)".
func actionCounts(op *api.SyncOperation) string {
	if len(op.Actions) == 0 {
		return "0"
	}
	counts := op.CountOutcomes()
	s := fmt.Sprintf("%d/%d", counts[api.OutcomeSucceeded], len(op.Actions))
	var extra []string
	if n := counts[api.OutcomeFailed]; n > 0 {
		extra = append(extra, fmt.Sprintf("%d failed", n))
	}
	if n := counts[api.OutcomeSkipped]; n > 0 {
		extra = append(extra, fmt.Sprintf("%d skipped", n))
	}
	if len(extra) > 0 {
		s += " (" + strings.Join(extra, ", ") + ")"
	}
	return s
}

func errorLabel(e *api.ErrorInfo) string {
	if e.Reason != "" {
		return e.Reason + ": " + e.Message
	}
	return e.Message
}
