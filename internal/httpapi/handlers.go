package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rendis/flowarch/internal/agent"
	"github.com/rendis/flowarch/internal/diagram"
	"github.com/rendis/flowarch/internal/session"
	"github.com/rendis/flowarch/pkg/schema"
)

type messageRequest struct {
	Text string `json:"text" validate:"required"`
}

type stateResponse struct {
	SessionID  string          `json:"session_id"`
	Title      string          `json:"title,omitempty"`
	Messages   []agent.Message `json:"messages"`
	Processing bool            `json:"processing"`
	Activity   string          `json:"activity,omitempty"`
	Counts     countsResponse  `json:"counts"`
	Status     string          `json:"status"`
}

type countsResponse struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

type submitResponse struct {
	Outcome  agent.Outcome   `json:"outcome"`
	Messages []agent.Message `json:"messages"`
	Status   string          `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	sess := s.deps.Session
	nodes, edges := sess.Counts()
	writeJSON(w, http.StatusOK, stateResponse{
		SessionID:  sess.ID(),
		Title:      sess.Title(),
		Messages:   sess.Messages(),
		Processing: sess.Processing(),
		Activity:   sess.Activity(),
		Counts:     countsResponse{Nodes: nodes, Edges: edges},
		Status:     session.FormatStatus(nodes, edges),
	})
}

// handleSubmit runs one turn synchronously and returns the transcript entries
// it produced.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body messageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, schema.ErrCodeValidation, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if err := s.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, schema.ErrCodeValidation, "text is required")
		return
	}

	sess := s.deps.Session
	before := len(sess.Messages())
	out, err := sess.Submit(r.Context(), body.Text)
	if err != nil && out.Stop == "" {
		// rejected before the turn started
		writeFlowError(w, err)
		return
	}

	msgs := sess.Messages()
	resp := submitResponse{
		Outcome:  out,
		Messages: msgs[min(before, len(msgs)):],
		Status:   sess.StatusLine(),
	}
	if err != nil {
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCanvas(w http.ResponseWriter, r *http.Request) {
	expr := r.URL.Query().Get("jq")
	if expr == "" {
		writeJSON(w, http.StatusOK, s.deps.Session.Snapshot())
		return
	}
	result, err := s.deps.Session.Query(r.Context(), expr)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	data, err := s.deps.Session.ExportJSON()
	if err != nil {
		writeFlowError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", session.ExportFileName(time.Now())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Session.Import(r.Context(), r.Body); err != nil {
		if schema.HasCode(err, schema.ErrCodeInvalidFormat) {
			writeError(w, http.StatusBadRequest, schema.ErrCodeInvalidFormat, "invalid format")
			return
		}
		writeFlowError(w, err)
		return
	}
	nodes, edges := s.deps.Session.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"counts": countsResponse{Nodes: nodes, Edges: edges},
		"status": session.FormatStatus(nodes, edges),
	})
}

func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	sess := s.deps.Session
	out, err := diagram.Render(r.Context(), sess.Snapshot(), sess.Title(), r.URL.Query().Get("format"), s.deps.ASCIIBin)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	w.Header().Set("Content-Type", out.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Body)
}
