package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/flowarch/pkg/schema"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("flowchart TD\n")
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n",
			mermaidSafeID(edge.From), label, mermaidSafeID(edge.To)))
	}

	for _, edge := range model.Dangling {
		b.WriteString(fmt.Sprintf("    %%%% dangling %s: %s -> %s\n", edge.ID, edge.From, edge.To))
	}

	// Color classes, only for colors in use.
	used := make(map[string][]string)
	for _, node := range model.Nodes {
		used[node.Color] = append(used[node.Color], mermaidSafeID(node.ID))
	}
	if len(used) > 0 {
		b.WriteString("\n")
	}
	for _, color := range schema.Colors() {
		ids, ok := used[color]
		if !ok {
			continue
		}
		hex := schema.ColorHex(color)
		b.WriteString(fmt.Sprintf("    classDef %s fill:%s,stroke:%s,color:#fff\n", color, hex, hex))
		b.WriteString(fmt.Sprintf("    class %s %s\n", strings.Join(ids, ","), color))
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the shape for its kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(firstLine(node.Label))

	switch node.Shape {
	case schema.ShapeDecision:
		return fmt.Sprintf("%s{\"%s\"}", id, label)
	case schema.ShapeStart, schema.ShapeEnd:
		return fmt.Sprintf("%s([\"%s\"])", id, label)
	default:
		return fmt.Sprintf("%s[\"%s\"]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel escapes characters Mermaid treats as syntax inside labels.
func mermaidEscapeLabel(s string) string {
	r := strings.NewReplacer("\"", "#quot;", "|", "#124;")
	return r.Replace(s)
}
