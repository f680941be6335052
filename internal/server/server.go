// Package server exposes the engine's run-control surface over HTTP: thread
// creation and listing, blackboard inspection, the approve step, and SSE
// relays of live run segments.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cerina/foundry/internal/engine"
	"github.com/cerina/foundry/pkg/blackboard"
)

// EventSink receives every event relayed to a streaming client, for audit
// persistence. Sink failures never fail the relay.
type EventSink interface {
	Record(ctx context.Context, threadID string, ev *blackboard.Event) error
}

// Server handles the HTTP API. All state lives in Redis behind the engine
// and client; the server itself is stateless and safe for concurrent use.
type Server struct {
	engine *engine.Engine
	client *blackboard.Client
	sink   EventSink // may be nil
}

// New creates a server. sink may be nil when no audit store is configured.
func New(eng *engine.Engine, client *blackboard.Client, sink EventSink) *Server {
	return &Server{engine: eng, client: client, sink: sink}
}

// Handler returns the root http.Handler for the API.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" || parts[1] != "protocols" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route")
		return
	}
	parts = parts[2:]

	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		s.handleCreate(w, r)
	case len(parts) == 0 && r.Method == http.MethodGet:
		s.handleList(w, r)
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleGet(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "blackboard" && r.Method == http.MethodGet:
		s.handleBlackboard(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "events" && r.Method == http.MethodGet:
		s.handleEvents(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "approve" && r.Method == http.MethodPost:
		s.handleApprove(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "kickoff" && r.Method == http.MethodPost:
		s.handleKickoff(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "stream" && parts[2] == "start" && r.Method == http.MethodGet:
		s.handleStreamStart(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "stream" && parts[2] == "resume" && r.Method == http.MethodGet:
		s.handleStreamResume(w, r, parts[0])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route")
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.client.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":     false,
			"status": "not_ready",
			"checks": map[string]any{"redis": map[string]any{"status": "error", "error": err.Error()}},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"status": "ready",
		"checks": map[string]any{"redis": map[string]any{"status": "ok"}},
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Intent        string `json:"intent"`
		MaxIterations int    `json:"max_iterations"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	threadID, err := s.engine.CreateThread(r.Context(), body.Intent, body.MaxIterations)
	if err != nil {
		if errors.Is(err, engine.ErrEmptyIntent) {
			writeError(w, http.StatusBadRequest, "EMPTY_INTENT", "intent is required")
			return
		}
		writeError(w, http.StatusInternalServerError, "CREATE_FAILED", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"thread_id": threadID,
		"status":    blackboard.StatusCreated,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	threadIDs, err := s.client.ListThreads(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	sessions := make([]map[string]any, 0, len(threadIDs))
	for _, id := range threadIDs {
		st, _, status, err := s.engine.State(r.Context(), id)
		if err != nil {
			// Indexed but missing state: skip rather than fail the listing.
			continue
		}
		sessions = append(sessions, summarize(id, st, status))
	}

	writeJSON(w, http.StatusOK, map[string]any{"protocols": sessions})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, threadID string) {
	st, susp, status, err := s.engine.State(r.Context(), threadID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	payload := summarize(threadID, st, status)
	if susp != nil {
		payload["suspension"] = susp
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleBlackboard(w http.ResponseWriter, r *http.Request, threadID string) {
	st, _, status, err := s.engine.State(r.Context(), threadID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id":  threadID,
		"status":     status,
		"blackboard": st,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, threadID string) {
	exists, err := s.client.ThreadExists(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "EVENTS_FAILED", err.Error())
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "THREAD_NOT_FOUND", "Protocol thread not found")
		return
	}

	events, err := s.client.ReplayEvents(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "EVENTS_FAILED", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"events":    events,
	})
}

// handleApprove stages the human decision for a halted thread. The run is
// not resumed here; the client opens the resume stream to continue it.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, threadID string) {
	var body struct {
		EditedDraft string `json:"edited_draft"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	_, _, status, err := s.engine.State(r.Context(), threadID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if status != blackboard.StatusHaltedForHuman {
		writeError(w, http.StatusBadRequest, "NOT_HALTED",
			fmt.Sprintf("protocol is %q, approval requires %q", status, blackboard.StatusHaltedForHuman))
		return
	}

	if err := s.client.StageApprovedDraft(r.Context(), threadID, body.EditedDraft); err != nil {
		writeError(w, http.StatusInternalServerError, "APPROVE_FAILED", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"staged":    true,
	})
}

// handleKickoff starts a run in the background so clients can poll state and
// replay events instead of holding a stream open. The run is detached from
// the request context and drained server-side.
func (s *Server) handleKickoff(w http.ResponseWriter, r *http.Request, threadID string) {
	st, _, _, err := s.engine.State(r.Context(), threadID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	runCtx := context.WithoutCancel(r.Context())
	events, err := s.engine.Start(runCtx, threadID, st.Intent, st.MaxIterations)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	go s.drainEvents(runCtx, threadID, events)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"thread_id": threadID,
		"status":    blackboard.StatusRunning,
	})
}

// drainEvents consumes a detached run segment so the engine never blocks on
// an absent streaming client. Events still reach the audit sink.
func (s *Server) drainEvents(ctx context.Context, threadID string, events <-chan blackboard.Event) {
	for ev := range events {
		if s.sink != nil {
			_ = s.sink.Record(ctx, threadID, &ev)
		}
	}
}

func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request, threadID string) {
	st, _, _, err := s.engine.State(r.Context(), threadID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	events, err := s.engine.Start(r.Context(), threadID, st.Intent, st.MaxIterations)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.relaySSE(w, r, threadID, events)
}

func (s *Server) handleStreamResume(w http.ResponseWriter, r *http.Request, threadID string) {
	draft, err := s.client.TakeApprovedDraft(r.Context(), threadID)
	if err != nil {
		if blackboard.IsNotFound(err) {
			writeError(w, http.StatusBadRequest, "NOT_APPROVED",
				"protocol has no staged approval; POST approve first")
			return
		}
		writeError(w, http.StatusInternalServerError, "RESUME_FAILED", err.Error())
		return
	}

	events, err := s.engine.Resume(r.Context(), threadID, draft)
	if err != nil {
		// The claim above consumed the staged draft; put it back so a
		// rejected resume does not force the human to approve again.
		_ = s.client.StageApprovedDraft(context.WithoutCancel(r.Context()), threadID, draft)
		s.writeEngineError(w, err)
		return
	}

	s.relaySSE(w, r, threadID, events)
}

// relaySSE streams engine events to the client as text/event-stream frames
// until the run segment ends or the client disconnects.
func (s *Server) relaySSE(w http.ResponseWriter, r *http.Request, threadID string, events <-chan blackboard.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		if s.sink != nil {
			// Audit persistence is best effort relative to the stream.
			_ = s.sink.Record(context.WithoutCancel(r.Context()), threadID, &ev)
		}

		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
		flusher.Flush()
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrThreadNotFound):
		writeError(w, http.StatusNotFound, "THREAD_NOT_FOUND", "Protocol thread not found")
	case errors.Is(err, engine.ErrNothingToResume):
		writeError(w, http.StatusBadRequest, "NOTHING_TO_RESUME", "Protocol has no pending suspension")
	case errors.Is(err, engine.ErrRunInFlight):
		writeError(w, http.StatusConflict, "RUN_IN_FLIGHT", "A run is already in flight for this protocol")
	case errors.Is(err, engine.ErrEmptyIntent):
		writeError(w, http.StatusBadRequest, "EMPTY_INTENT", "intent is required")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

// summarize builds the session-level view of a thread.
func summarize(threadID string, st *blackboard.State, status blackboard.Status) map[string]any {
	payload := map[string]any{
		"thread_id":      threadID,
		"status":         status,
		"intent":         st.Intent,
		"iteration":      st.Iteration,
		"max_iterations": st.MaxIterations,
		"last_agent":     st.LastAgent,
		"draft_count":    len(st.DraftVersions),
	}
	if st.SafetyScore != nil {
		payload["safety_score"] = *st.SafetyScore
	}
	if st.EmpathyScore != nil {
		payload["empathy_score"] = *st.EmpathyScore
	}
	if st.FinalProtocol != nil {
		payload["final_protocol"] = *st.FinalProtocol
	}
	return payload
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":  code,
		"error": message,
	})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
