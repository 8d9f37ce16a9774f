package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowarch/internal/agent"
	"github.com/rendis/flowarch/internal/llm/llmtest"
	"github.com/rendis/flowarch/internal/session"
	"github.com/rendis/flowarch/internal/streaming"
	"github.com/rendis/flowarch/pkg/schema"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, model agent.Model) (*Server, *session.Session) {
	t.Helper()
	seq := 0
	sess, err := session.New(session.Config{ID: "http-1", Title: "HTTP"}, session.Deps{
		Model: model,
		Hub:   streaming.NewMemoryHub(),
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("node-%d", seq)
		},
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	return NewServer(Deps{Session: sess, Logger: quietLogger()}), sess
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func scenario() *llmtest.Scripted {
	return llmtest.New(
		llmtest.CallsStep("Adding nodes.",
			agent.Call{ID: "1", Name: "addNode", Args: map[string]any{"label": "Start", "type": "start"}},
			agent.Call{ID: "2", Name: "addNode", Args: map[string]any{"label": "Work", "x": 350.0}},
		),
		llmtest.CallsStep("", agent.Call{ID: "3", Name: "connectNodes", Args: map[string]any{"sourceId": "node-1", "targetId": "node-2"}}),
		llmtest.Text("Done."),
	)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, llmtest.New())
	rec := do(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestState(t *testing.T) {
	srv, _ := newTestServer(t, llmtest.New())
	rec := do(t, srv.Handler(), http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	state := decode[stateResponse](t, rec)
	assert.Equal(t, "http-1", state.SessionID)
	require.Len(t, state.Messages, 1)
	assert.Equal(t, session.WelcomeMessage, state.Messages[0].Content)
	assert.False(t, state.Processing)
	assert.Equal(t, "0 Components • 0 Links", state.Status)
}

func TestSubmitMessage(t *testing.T) {
	srv, sess := newTestServer(t, scenario())
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/messages", `{"text":"start then work"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[submitResponse](t, rec)
	assert.Equal(t, schema.StopCompleted, resp.Outcome.Stop)
	assert.Equal(t, "2 Components • 1 Links", resp.Status)
	require.NotEmpty(t, resp.Messages)
	assert.Equal(t, "start then work", resp.Messages[0].Content)
	assert.Equal(t, "Done.", resp.Messages[len(resp.Messages)-1].Content)

	n, e := sess.Counts()
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, e)
}

func TestSubmitMessage_Rejections(t *testing.T) {
	srv, _ := newTestServer(t, llmtest.New())
	h := srv.Handler()

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{"text":`},
		{"missing text", `{}`},
		{"blank text", `{"text":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/messages", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, schema.ErrCodeValidation, decode[errorResponse](t, rec).Code)
		})
	}
}

func TestSubmitMessage_Busy(t *testing.T) {
	release := make(chan struct{})
	model := llmtest.New()
	model.Fallback = func(agent.Request) (*agent.Reply, error) {
		<-release
		return &agent.Reply{Parts: []agent.Part{{Text: "ok"}}}, nil
	}
	srv, sess := newTestServer(t, model)
	h := srv.Handler()

	done := make(chan int, 1)
	go func() {
		done <- do(t, h, http.MethodPost, "/api/messages", `{"text":"slow"}`).Code
	}()
	require.Eventually(t, sess.Processing, time.Second, time.Millisecond)

	rec := do(t, h, http.MethodPost, "/api/messages", `{"text":"again"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, schema.ErrCodeBusy, decode[errorResponse](t, rec).Code)

	close(release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestSubmitMessage_ModelError(t *testing.T) {
	srv, _ := newTestServer(t, llmtest.New(llmtest.Fail(errors.New("upstream down"))))

	rec := do(t, srv.Handler(), http.MethodPost, "/api/messages", `{"text":"draw"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode[submitResponse](t, rec)
	assert.Equal(t, schema.StopModelError, resp.Outcome.Stop)
	assert.Equal(t, "Agent Error: upstream down", resp.Messages[len(resp.Messages)-1].Content)
}

func TestCanvasAndQuery(t *testing.T) {
	srv, sess := newTestServer(t, scenario())
	_, err := sess.Submit(context.Background(), "draw")
	require.NoError(t, err)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/canvas", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[schema.Snapshot](t, rec)
	assert.Len(t, snap.Nodes, 2)
	assert.Len(t, snap.Edges, 1)

	rec = do(t, h, http.MethodGet, "/api/canvas?jq=.nodes+%7C+length", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", strings.TrimSpace(rec.Body.String()))

	rec = do(t, h, http.MethodGet, "/api/canvas?jq=.nodes%5B", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportImport(t *testing.T) {
	srv, sess := newTestServer(t, scenario())
	_, err := sess.Submit(context.Background(), "draw")
	require.NoError(t, err)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Regexp(t, `attachment; filename="flow-arch-\d+\.json"`, rec.Header().Get("Content-Disposition"))
	exported := rec.Body.String()

	other, otherSess := newTestServer(t, llmtest.New())
	rec = do(t, other.Handler(), http.MethodPost, "/api/import", exported)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, sess.Snapshot().Equal(otherSess.Snapshot()))

	rec = do(t, other.Handler(), http.MethodPost, "/api/import", `{"nodes":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Equal(t, "invalid format", body.Error)
	assert.Equal(t, schema.ErrCodeInvalidFormat, body.Code)
	assert.True(t, sess.Snapshot().Equal(otherSess.Snapshot()), "failed import keeps the canvas")
}

func TestDiagram(t *testing.T) {
	srv, sess := newTestServer(t, scenario())
	_, err := sess.Submit(context.Background(), "draw")
	require.NoError(t, err)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/diagram?format=mermaid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "flowchart TD"))

	rec = do(t, h, http.MethodGet, "/api/diagram?format=ascii", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Start")

	rec = do(t, h, http.MethodGet, "/api/diagram?format=svg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))

	rec = do(t, h, http.MethodGet, "/api/diagram?format=gif", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNoDirectGraphEdits(t *testing.T) {
	srv, sess := newTestServer(t, llmtest.New())
	h := srv.Handler()

	for _, target := range []string{"/api/capabilities/addNode", "/api/canvas", "/api/nodes"} {
		rec := do(t, h, http.MethodPost, target, `{"label":"Direct"}`)
		assert.Contains(t, []int{http.StatusNotFound, http.StatusMethodNotAllowed}, rec.Code, target)
	}

	n, _ := sess.Counts()
	assert.Zero(t, n, "only agent turns and import mutate the canvas")
}

func TestSSEStreamsGraphChanges(t *testing.T) {
	srv, sess := newTestServer(t, llmtest.New())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse/events?types=graph_changed", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	_, err = sess.Invoke(context.Background(), "addNode", map[string]any{"label": "Streamed"})
	require.NoError(t, err)

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
			break
		}
	}
	assert.Equal(t, schema.EventGraphChanged, event)

	var ev streaming.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "http-1", ev.SessionID)
	payload, ok := ev.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), payload["nodes"])
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, llmtest.New())
	req := httptest.NewRequest(http.MethodOptions, "/api/messages", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
