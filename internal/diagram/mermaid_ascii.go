package diagram

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// RenderASCIIAuto renders through the mermaid-ascii binary at binPath when one
// is configured, falling back to RenderASCII on any failure.
func RenderASCIIAuto(ctx context.Context, model *DiagramModel, binPath string) string {
	if binPath != "" && !model.Empty() {
		if _, err := exec.LookPath(binPath); err == nil {
			if result, err := RenderASCIIViaCLI(ctx, model, binPath); err == nil {
				return result
			}
		}
	}
	return RenderASCII(model)
}

// RenderASCIIViaCLI pipes simplified Mermaid syntax through the mermaid-ascii binary.
func RenderASCIIViaCLI(ctx context.Context, model *DiagramModel, binPath string) (string, error) {
	mermaid := RenderMermaidForCLI(model)

	cmd := exec.CommandContext(ctx, binPath)
	cmd.Stdin = strings.NewReader(mermaid)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("mermaid-ascii: %w: %s", err, stderr.String())
	}
	return stdout.String(), nil
}

// RenderMermaidForCLI generates the Mermaid subset mermaid-ascii understands:
// no quoted node declarations and no class statements. Nodes are referenced
// by their label with spaces replaced by dashes; isolated nodes are listed on
// their own line.
func RenderMermaidForCLI(model *DiagramModel) string {
	var b strings.Builder
	b.WriteString("graph TD\n")

	displayID := make(map[string]string, len(model.Nodes))
	for _, node := range model.Nodes {
		displayID[node.ID] = cliNodeID(node)
	}

	linked := make(map[string]bool, len(model.Nodes))
	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n", displayID[edge.From], label, displayID[edge.To]))
		linked[edge.From] = true
		linked[edge.To] = true
	}

	for _, node := range model.Nodes {
		if !linked[node.ID] {
			b.WriteString(fmt.Sprintf("    %s\n", displayID[node.ID]))
		}
	}

	return b.String()
}

// cliNodeID builds a display ID for the mermaid-ascii CLI.
func cliNodeID(node *Node) string {
	id := firstLine(node.Label)
	if id == "" {
		id = node.ID
	}
	return strings.ReplaceAll(id, " ", "-")
}
