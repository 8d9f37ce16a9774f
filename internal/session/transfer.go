package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rendis/flowarch/pkg/schema"
)

// ImportFailedMessage is the transcript notice for a rejected import.
const ImportFailedMessage = "Import failed: Invalid format"

// maxImportBytes bounds how much of an import stream is read.
const maxImportBytes = 16 << 20

// ExportFileName returns the default export file name for t.
func ExportFileName(t time.Time) string {
	return fmt.Sprintf("flow-arch-%d.json", t.UnixMilli())
}

// Export writes the canvas as pretty-printed {nodes, edges} JSON.
func (s *Session) Export(w io.Writer) error {
	data, err := s.ExportJSON()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ExportJSON returns the canvas as pretty-printed {nodes, edges} JSON.
func (s *Session) ExportJSON() ([]byte, error) {
	data, err := json.MarshalIndent(s.graph.Snapshot(), "", "  ")
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "encode canvas").WithCause(err)
	}
	return append(data, '\n'), nil
}

// Import replaces the whole canvas with the document read from r. A document
// that fails validation leaves the canvas untouched, adds ImportFailedMessage
// to the transcript and returns an INVALID_FORMAT error.
func (s *Session) Import(ctx context.Context, r io.Reader) error {
	if !s.acquire() {
		return busyError()
	}
	defer s.release(ctx)

	data, err := io.ReadAll(io.LimitReader(r, maxImportBytes))
	if err != nil {
		s.AddSystemMessage(ctx, ImportFailedMessage)
		return schema.NewError(schema.ErrCodeInvalidFormat, "read import document").WithCause(err)
	}

	snap, err := s.validator.DecodeSnapshot(data)
	if err != nil {
		s.logger.WarnContext(ctx, "import rejected", slog.String("error", err.Error()))
		s.AddSystemMessage(ctx, ImportFailedMessage)
		return err
	}

	s.graph.Replace(snap)
	s.logger.InfoContext(ctx, "canvas imported",
		slog.Int("nodes", len(snap.Nodes)),
		slog.Int("edges", len(snap.Edges)),
	)
	s.publishGraph(ctx)
	return nil
}
