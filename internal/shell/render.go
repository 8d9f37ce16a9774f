package shell

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/rendis/flowarch/pkg/schema"
)

type styles struct {
	title     lipgloss.Style
	prompt    lipgloss.Style
	status    lipgloss.Style
	assistant lipgloss.Style
	system    lipgloss.Style
	planning  lipgloss.Style
	muted     lipgloss.Style
	err       lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")),
		prompt:    lipgloss.NewStyle().Foreground(lipgloss.Color("63")),
		status:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		assistant: lipgloss.NewStyle(),
		system:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("244")),
		planning:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")),
		muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		err:       lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

func plainStyles() styles {
	s := lipgloss.NewStyle()
	return styles{
		title: s, prompt: s, status: s, assistant: s, system: s,
		planning: s, muted: s, err: s,
	}
}

func renderCanvas(w io.Writer, snap schema.Snapshot) {
	if len(snap.Nodes) == 0 {
		_, _ = fmt.Fprintln(w, "(empty canvas)")
		return
	}

	nodes := table.NewWriter()
	nodes.SetOutputMirror(w)
	nodes.SetStyle(table.StyleLight)
	nodes.AppendHeader(table.Row{"ID", "Label", "Shape", "Color", "Position"})
	for _, n := range snap.Nodes {
		nodes.AppendRow(table.Row{n.ID, n.Label, n.ShapeKind, n.Color, fmt.Sprintf("%.0f,%.0f", n.Position.X, n.Position.Y)})
	}
	nodes.Render()

	if len(snap.Edges) == 0 {
		return
	}
	edges := table.NewWriter()
	edges.SetOutputMirror(w)
	edges.SetStyle(table.StyleLight)
	edges.AppendHeader(table.Row{"Link", "From", "To", "Label"})
	for _, e := range snap.Edges {
		edges.AppendRow(table.Row{e.ID, e.Source, e.Target, e.Label})
	}
	edges.Render()
}

func renderIssues(w io.Writer, result *schema.ValidationResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Severity", "Code", "Path", "Message"})
	for _, issue := range result.Errors {
		t.AppendRow(table.Row{issue.Severity, issue.Code, issue.Path, issue.Message})
	}
	for _, issue := range result.Warnings {
		t.AppendRow(table.Row{issue.Severity, issue.Code, issue.Path, issue.Message})
	}
	t.Render()
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
