package diagram

import (
	"context"
	"strings"

	"github.com/rendis/flowarch/pkg/schema"
)

// Text formats accepted by Render alongside the image formats.
const (
	FormatMermaid = "mermaid"
	FormatASCII   = "ascii"
)

// Formats lists every format Render understands.
func Formats() []string {
	return []string{FormatMermaid, FormatASCII, string(FormatPNG), string(FormatSVG)}
}

// Rendered is one rendering of the canvas.
type Rendered struct {
	Body        []byte
	ContentType string
}

// Render builds the diagram model for snap and encodes it in format.
// asciiBin optionally names a mermaid-ascii binary used for the ascii format.
func Render(ctx context.Context, snap schema.Snapshot, title, format, asciiBin string) (Rendered, error) {
	model := Build(snap, title)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatMermaid, "":
		return Rendered{Body: []byte(RenderMermaid(model)), ContentType: "text/plain; charset=utf-8"}, nil
	case FormatASCII:
		return Rendered{Body: []byte(RenderASCIIAuto(ctx, model, asciiBin)), ContentType: "text/plain; charset=utf-8"}, nil
	case string(FormatPNG):
		return renderImage(ctx, model, FormatPNG)
	case string(FormatSVG):
		return renderImage(ctx, model, FormatSVG)
	default:
		return Rendered{}, schema.NewErrorf(schema.ErrCodeValidation, "unknown diagram format %q", format).
			WithDetails(map[string]any{"formats": Formats()})
	}
}

func renderImage(ctx context.Context, model *DiagramModel, format ImageFormat) (Rendered, error) {
	data, err := RenderImage(ctx, model, format)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{Body: data, ContentType: format.ContentType()}, nil
}
