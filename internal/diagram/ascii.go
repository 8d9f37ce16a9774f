package diagram

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rendis/flowarch/pkg/schema"
)

// shapeTag returns a short ASCII indicator for non-process shapes.
func shapeTag(shape schema.ShapeKind) string {
	switch shape {
	case schema.ShapeDecision:
		return "<?>"
	case schema.ShapeStart:
		return "(start)"
	case schema.ShapeEnd:
		return "(end)"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a text-based diagram: one row of boxes
// per level followed by the link list.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}
	if model.Empty() {
		b.WriteString("(empty canvas)\n")
		return b.String()
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			node := model.Node(nodeID)
			if node == nil {
				continue
			}
			boxes = append(boxes, makeBox(node))
		}

		renderBoxRow(&b, boxes)

		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	if len(model.Edges) > 0 {
		b.WriteString("\n--- links ---\n")
		for _, edge := range model.Edges {
			renderLink(&b, model, edge)
		}
	}
	if len(model.Dangling) > 0 {
		b.WriteString("\n--- dangling ---\n")
		for _, edge := range model.Dangling {
			b.WriteString(fmt.Sprintf("  %s ─→ %s [%s]\n", edge.From, edge.To, edge.ID))
		}
	}

	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

// makeBox creates an ASCII box for a node. Decisions use a double border.
func makeBox(node *Node) asciiBox {
	contentLines := []string{firstLine(node.Label)}
	if tag := shapeTag(node.Shape); tag != "" {
		contentLines = append(contentLines, tag)
	}

	maxLen := 0
	for _, line := range contentLines {
		if w := lipgloss.Width(line); w > maxLen {
			maxLen = w
		}
	}
	width := maxLen + 4 // 2 border + 2 padding

	tl, tr, bl, br, h, v := "┌", "┐", "└", "┘", "─", "│"
	switch node.Shape {
	case schema.ShapeDecision:
		tl, tr, bl, br, h, v = "╔", "╗", "╚", "╝", "═", "║"
	case schema.ShapeStart, schema.ShapeEnd:
		tl, tr, bl, br = "╭", "╮", "╰", "╯"
	}

	lines := []string{tl + strings.Repeat(h, width-2) + tr}
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-lipgloss.Width(content))
		lines = append(lines, v+" "+padded+" "+v)
	}
	lines = append(lines, bl+strings.Repeat(h, width-2)+br)

	return asciiBox{lines: lines, width: width}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}

	maxHeight := 0
	for _, box := range boxes {
		if len(box.lines) > maxHeight {
			maxHeight = len(box.lines)
		}
	}

	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

// renderConnector draws a vertical connector between levels.
func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}

// renderLink writes one edge using node labels.
func renderLink(b *strings.Builder, model *DiagramModel, edge Edge) {
	from, to := edge.From, edge.To
	if n := model.Node(from); n != nil {
		from = firstLine(n.Label)
	}
	if n := model.Node(to); n != nil {
		to = firstLine(n.Label)
	}
	if edge.Label != "" {
		b.WriteString(fmt.Sprintf("  %s ─[%s]→ %s\n", from, edge.Label, to))
		return
	}
	b.WriteString(fmt.Sprintf("  %s ─→ %s\n", from, to))
}
