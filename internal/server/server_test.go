package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cerina/foundry/internal/engine"
	"github.com/cerina/foundry/internal/oracle"
	"github.com/cerina/foundry/pkg/blackboard"
)

func setupTestServer(t *testing.T, o oracle.Oracle) (*httptest.Server, *blackboard.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	eng := engine.New(client, o, engine.DefaultPolicy())
	ts := httptest.NewServer(New(eng, client, nil).Handler())
	t.Cleanup(ts.Close)

	return ts, client
}

func scriptedHighScores() oracle.Oracle {
	return oracle.NewScripted(
		oracle.ScriptedResponse{Text: "draft v1"},
		oracle.ScriptedResponse{Text: `{"score": 0.9, "explanation": "safe"}`},
		oracle.ScriptedResponse{Text: `{"score": 0.85, "explanation": "warm"}`},
	)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", strings.NewReader(string(payload)))
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// createThread creates a protocol thread through the API and returns its id.
func createThread(t *testing.T, ts *httptest.Server, intent string) string {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/protocols", map[string]any{"intent": intent})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeJSON(t, resp)
	threadID, _ := body["thread_id"].(string)
	require.True(t, blackboard.IsValidThreadID(threadID))
	return threadID
}

// sseFrame is one parsed text/event-stream frame.
type sseFrame struct {
	Event string
	Data  map[string]any
}

// readSSE consumes a stream until it closes.
func readSSE(t *testing.T, resp *http.Response) []sseFrame {
	t.Helper()
	defer resp.Body.Close()

	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var frames []sseFrame
	var current sseFrame
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.Data))
		case line == "":
			if current.Event != "" {
				frames = append(frames, current)
			}
			current = sseFrame{}
		}
	}
	require.NoError(t, scanner.Err())
	return frames
}

func TestHealthAndReady(t *testing.T) {
	ts, _ := setupTestServer(t, oracle.NewStub())

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeJSON(t, resp)["ok"])

	resp, err = http.Get(ts.URL + "/api/ready")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", decodeJSON(t, resp)["status"])
}

func TestCreateProtocol(t *testing.T) {
	ts, _ := setupTestServer(t, oracle.NewStub())

	t.Run("valid intent", func(t *testing.T) {
		threadID := createThread(t, ts, "reduce exam anxiety")

		resp, err := http.Get(ts.URL + "/api/protocols/" + threadID)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeJSON(t, resp)
		assert.Equal(t, "reduce exam anxiety", body["intent"])
		assert.Equal(t, string(blackboard.StatusCreated), body["status"])
	})

	t.Run("empty intent rejected", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/protocols", map[string]any{"intent": ""})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "EMPTY_INTENT", decodeJSON(t, resp)["code"])
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/protocols", "application/json", strings.NewReader("{nope"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestListProtocols(t *testing.T) {
	ts, _ := setupTestServer(t, oracle.NewStub())

	first := createThread(t, ts, "first intent")
	second := createThread(t, ts, "second intent")

	resp, err := http.Get(ts.URL + "/api/protocols")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	protocols, ok := body["protocols"].([]any)
	require.True(t, ok)
	require.Len(t, protocols, 2)

	ids := make(map[string]bool)
	for _, p := range protocols {
		entry := p.(map[string]any)
		ids[entry["thread_id"].(string)] = true
	}
	assert.True(t, ids[first])
	assert.True(t, ids[second])
}

func TestUnknownThreadIs404(t *testing.T) {
	ts, _ := setupTestServer(t, oracle.NewStub())

	for _, path := range []string{
		"/api/protocols/" + blackboard.NewThreadID(),
		"/api/protocols/" + blackboard.NewThreadID() + "/blackboard",
		"/api/protocols/" + blackboard.NewThreadID() + "/events",
		"/api/protocols/" + blackboard.NewThreadID() + "/stream/start",
	} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		resp.Body.Close()
	}
}

func TestStreamStartRunsToHalt(t *testing.T) {
	ts, client := setupTestServer(t, scriptedHighScores())
	threadID := createThread(t, ts, "reduce exam anxiety")

	resp, err := http.Get(ts.URL + "/api/protocols/" + threadID + "/stream/start")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := readSSE(t, resp)
	require.NotEmpty(t, frames)
	assert.Equal(t, string(blackboard.EventTypeHalt), frames[len(frames)-1].Event)

	status, err := client.GetStatus(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, blackboard.StatusHaltedForHuman, status)
}

func TestApproveAndResumeFlow(t *testing.T) {
	ts, _ := setupTestServer(t, scriptedHighScores())
	threadID := createThread(t, ts, "reduce exam anxiety")

	t.Run("approve before halt rejected", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/protocols/"+threadID+"/approve", map[string]any{"edited_draft": "x"})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "NOT_HALTED", decodeJSON(t, resp)["code"])
	})

	t.Run("resume before approve rejected", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/protocols/" + threadID + "/stream/resume")
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "NOT_APPROVED", decodeJSON(t, resp)["code"])
	})

	// Run to the human gate.
	resp, err := http.Get(ts.URL + "/api/protocols/" + threadID + "/stream/start")
	require.NoError(t, err)
	readSSE(t, resp)

	t.Run("approve stages the draft", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/protocols/"+threadID+"/approve",
			map[string]any{"edited_draft": "human approved draft"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, decodeJSON(t, resp)["staged"])
	})

	t.Run("resume finalizes with the approved draft", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/protocols/" + threadID + "/stream/resume")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		frames := readSSE(t, resp)
		require.NotEmpty(t, frames)
		assert.Equal(t, string(blackboard.EventTypeState), frames[len(frames)-1].Event)

		bb, err := http.Get(ts.URL + "/api/protocols/" + threadID + "/blackboard")
		require.NoError(t, err)
		body := decodeJSON(t, bb)
		assert.Equal(t, string(blackboard.StatusCompleted), body["status"])
		state := body["blackboard"].(map[string]any)
		assert.Equal(t, "human approved draft", state["final_protocol"])
	})

	t.Run("second resume rejected", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/protocols/" + threadID + "/stream/resume")
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestEventsReplay(t *testing.T) {
	ts, _ := setupTestServer(t, scriptedHighScores())
	threadID := createThread(t, ts, "reduce exam anxiety")

	resp, err := http.Get(ts.URL + "/api/protocols/" + threadID + "/stream/start")
	require.NoError(t, err)
	live := readSSE(t, resp)

	resp, err = http.Get(ts.URL + "/api/protocols/" + threadID + "/events")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	replayed, ok := body["events"].([]any)
	require.True(t, ok)
	assert.Len(t, replayed, len(live))
}

func TestConcurrentStartRejected(t *testing.T) {
	release := make(chan struct{})
	o := &blockingOracle{release: release}
	ts, _ := setupTestServer(t, o)
	threadID := createThread(t, ts, "reduce exam anxiety")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, err := http.Get(ts.URL + "/api/protocols/" + threadID + "/stream/start")
		if err == nil {
			readSSE(t, resp)
		}
	}()

	// Wait until the first run is inside the oracle, then collide with it.
	select {
	case <-o.entered():
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached the oracle")
	}

	resp, err := http.Get(ts.URL + "/api/protocols/" + threadID + "/stream/start")
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "RUN_IN_FLIGHT", decodeJSON(t, resp)["code"])

	close(release)
	wg.Wait()
}

// blockingOracle parks the first Generate call until released.
type blockingOracle struct {
	release chan struct{}
	once    sync.Once
	sig     chan struct{}
}

func (b *blockingOracle) entered() chan struct{} {
	b.once.Do(func() { b.sig = make(chan struct{}, 8) })
	return b.sig
}

func (b *blockingOracle) Generate(ctx context.Context, _, _ string) (string, error) {
	b.entered() <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "draft", nil
}

// TestKickoffRunsDetached tests that a kicked-off run reaches the human gate
// without any client holding a stream open.
func TestKickoffRunsDetached(t *testing.T) {
	ts, client := setupTestServer(t, scriptedHighScores())
	threadID := createThread(t, ts, "reduce exam anxiety")

	resp := postJSON(t, ts.URL+"/api/protocols/"+threadID+"/kickoff", map[string]any{})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, string(blackboard.StatusRunning), decodeJSON(t, resp)["status"])

	require.Eventually(t, func() bool {
		status, err := client.GetStatus(context.Background(), threadID)
		return err == nil && status == blackboard.StatusHaltedForHuman
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(ts.URL + "/api/protocols/" + threadID + "/events")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events, ok := decodeJSON(t, resp)["events"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, events)
}

// TestResumeFailureKeepsApproval tests that a rejected resume re-stages the
// claimed draft so the human approval is not lost.
func TestResumeFailureKeepsApproval(t *testing.T) {
	ts, client := setupTestServer(t, scriptedHighScores())
	threadID := createThread(t, ts, "reduce exam anxiety")

	// Stage directly: the thread was never run, so the resume is rejected
	// after the draft has been claimed.
	require.NoError(t, client.StageApprovedDraft(context.Background(), threadID, "edited draft"))

	resp, err := http.Get(ts.URL + "/api/protocols/" + threadID + "/stream/resume")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "NOTHING_TO_RESUME", decodeJSON(t, resp)["code"])

	draft, err := client.TakeApprovedDraft(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, "edited draft", draft)
}

func TestRecorderSeesRelayedEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	rec := &recordingSink{}
	eng := engine.New(client, scriptedHighScores(), engine.DefaultPolicy())
	ts := httptest.NewServer(New(eng, client, rec).Handler())
	t.Cleanup(ts.Close)

	threadID := createThread(t, ts, "reduce exam anxiety")
	resp, err := http.Get(ts.URL + "/api/protocols/" + threadID + "/stream/start")
	require.NoError(t, err)
	frames := readSSE(t, resp)

	assert.Equal(t, len(frames), rec.count())
	for _, tid := range rec.threads() {
		assert.Equal(t, threadID, tid)
	}
}

type recordingSink struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingSink) Record(_ context.Context, threadID string, ev *blackboard.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev == nil {
		return fmt.Errorf("nil event")
	}
	r.ids = append(r.ids, threadID)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func (r *recordingSink) threads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}
