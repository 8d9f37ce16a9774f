package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rendis/flowarch/internal/diagram"
	"github.com/rendis/flowarch/internal/validation"
	"github.com/rendis/flowarch/pkg/schema"
)

// Formats handled by the render command on top of diagram.Formats.
const (
	formatJSON = "json"
	formatYAML = "yaml"
)

func renderFormats() []string {
	return append([]string{formatJSON, formatYAML}, diagram.Formats()...)
}

func newRenderCmd(c *cli) *cobra.Command {
	var (
		format string
		in     string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the session canvas or an exported file",
		Example: `  flowarch render --format mermaid
  flowarch render --in flow-arch-1700000000000.json --format svg --out flow.svg`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			format = strings.ToLower(strings.TrimSpace(format))
			if !slices.Contains(renderFormats(), format) {
				return schema.NewErrorf(schema.ErrCodeValidation, "unknown format %q (want one of %s)",
					format, strings.Join(renderFormats(), ", "))
			}

			snap, title, err := loadCanvas(ctx, c, in)
			if err != nil {
				return err
			}
			body, err := renderCanvas(ctx, snap, title, format, c.cfg.Render.ASCIIBin)
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(body)
				return err
			}
			if err := os.WriteFile(out, body, 0o644); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", diagram.FormatMermaid, "output format: "+strings.Join(renderFormats(), "|"))
	cmd.Flags().StringVarP(&in, "in", "i", "", "exported canvas file to render instead of the session")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	_ = cmd.RegisterFlagCompletionFunc("format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return renderFormats(), cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

// loadCanvas reads the canvas from an export file, or restores the
// configured session from the store.
func loadCanvas(ctx context.Context, c *cli, in string) (schema.Snapshot, string, error) {
	if in != "" {
		data, err := readInput(in)
		if err != nil {
			return schema.Snapshot{}, "", err
		}
		v, err := validation.NewSnapshotValidator()
		if err != nil {
			return schema.Snapshot{}, "", err
		}
		snap, err := v.DecodeSnapshot(data)
		return snap, c.cfg.Session.Title, err
	}

	a, err := newApp(ctx, c.cfg, appOptions{model: offlineModel()})
	if err != nil {
		return schema.Snapshot{}, "", err
	}
	defer a.Close(ctx)
	return a.session.Snapshot(), a.session.Title(), nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func renderCanvas(ctx context.Context, snap schema.Snapshot, title, format, asciiBin string) ([]byte, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(snap.Clone(), "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case formatYAML:
		return snapshotYAML(snap)
	}
	r, err := diagram.Render(ctx, snap, title, format, asciiBin)
	if err != nil {
		return nil, err
	}
	if !bytes.HasSuffix(r.Body, []byte("\n")) && strings.HasPrefix(r.ContentType, "text/") {
		r.Body = append(r.Body, '\n')
	}
	return r.Body, nil
}

// snapshotYAML encodes snap with the same field names as the JSON export.
func snapshotYAML(snap schema.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap.Clone())
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
