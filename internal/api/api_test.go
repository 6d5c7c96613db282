package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"go-research-crew/internal/config"
	"go-research-crew/internal/events"
	"go-research-crew/internal/queue"
	"go-research-crew/internal/session"
	"go-research-crew/internal/store"
	"go-research-crew/internal/watcher"
)

type fakeEnqueuer struct {
	gotReq queue.EnqueueRequest
	err    error
}

func (f *fakeEnqueuer) Enqueue(req queue.EnqueueRequest) (*store.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.gotReq = req
	return &store.Task{ID: "task-1", Query: req.Query, Status: store.TaskQueued}, nil
}

type fakeStore struct {
	task     *store.Task
	finding  *store.Finding
	stats    store.QueueStats
	notFound bool
}

func (f *fakeStore) GetTask(id string) (*store.Task, error) {
	if f.notFound {
		return nil, fmt.Errorf("not found")
	}
	return f.task, nil
}
func (f *fakeStore) SearchTasks(query string, limit int) ([]store.Task, error) {
	if f.task == nil {
		return nil, nil
	}
	return []store.Task{*f.task}, nil
}
func (f *fakeStore) GetQueueStats() (store.QueueStats, error) { return f.stats, nil }
func (f *fakeStore) GetFinding(id string) (*store.Finding, error) {
	if f.notFound {
		return nil, fmt.Errorf("not found")
	}
	return f.finding, nil
}
func (f *fakeStore) SearchFindings(query string, limit int) ([]store.Finding, error) {
	if f.finding == nil {
		return nil, nil
	}
	return []store.Finding{*f.finding}, nil
}

type fakeFeedback struct {
	source, topic string
	helpful       bool
	err           error
}

func (f *fakeFeedback) RecordFeedback(source, topic string, helpful bool) error {
	if f.err != nil {
		return f.err
	}
	f.source, f.topic, f.helpful = source, topic, helpful
	return nil
}

type fakeSessions struct {
	sessionID string
	trigger   session.EventTrigger
	text      string
}

func (f *fakeSessions) Ingest(sessionID string, trigger session.EventTrigger, text string) {
	f.sessionID, f.trigger, f.text = sessionID, trigger, text
}

type fakeWatcher struct {
	quick        watcher.Decision
	quickHandled bool
	full         watcher.Decision
	resetSession string
}

func (f *fakeWatcher) Analyze(ctx context.Context, sessionID string, trigger session.EventTrigger) watcher.Decision {
	return f.full
}
func (f *fakeWatcher) QuickAnalyze(sessionID, latestToolOutput string) (watcher.Decision, bool) {
	return f.quick, f.quickHandled
}
func (f *fakeWatcher) ResetCooldown(sessionID string) { f.resetSession = sessionID }

func newTestRouter(enq Enqueuer, st Store, bus *events.Bus) *gin.Engine {
	return newTestRouterFull(enq, st, bus, nil, nil, nil)
}

func newTestRouterWithFeedback(enq Enqueuer, st Store, bus *events.Bus, fb FeedbackRecorder) *gin.Engine {
	return newTestRouterFull(enq, st, bus, fb, nil, nil)
}

func newTestRouterFull(enq Enqueuer, st Store, bus *events.Bus, fb FeedbackRecorder, sessions SessionIngestor, trig TriggerWatcher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(config.ServerConfig{}, enq, st, bus, fb, sessions, trig)
}

func TestHealth_ReturnsOk(t *testing.T) {
	r := newTestRouter(&fakeEnqueuer{}, &fakeStore{}, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateResearch_EnqueuesAndReturnsID(t *testing.T) {
	enq := &fakeEnqueuer{}
	r := newTestRouter(enq, &fakeStore{}, nil)

	body, _ := json.Marshal(researchRequest{Query: "how does grpc streaming work", Depth: "deep", Trigger: "direct"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/research", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if enq.gotReq.Query != "how does grpc streaming work" {
		t.Errorf("expected the query to reach the queue, got %+v", enq.gotReq)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["success"] != true {
		t.Errorf("expected success=true, got %v", resp)
	}
}

func TestCreateResearch_MissingQueryIsBadRequest(t *testing.T) {
	r := newTestRouter(&fakeEnqueuer{}, &fakeStore{}, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/research", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a missing query, got %d", w.Code)
	}
}

func TestGetResearch_NotFoundReturns404(t *testing.T) {
	r := newTestRouter(&fakeEnqueuer{}, &fakeStore{notFound: true}, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/research/ghost", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetFinding_ReturnsFinding(t *testing.T) {
	f := &store.Finding{ID: "f1", Summary: "pooling reuses connections"}
	r := newTestRouter(&fakeEnqueuer{}, &fakeStore{finding: f}, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/findings/f1", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRecordFindingFeedback_NoRecorderConfiguredIsUnavailable(t *testing.T) {
	f := &store.Finding{ID: "f1", Query: "grpc streaming"}
	r := newTestRouterWithFeedback(&fakeEnqueuer{}, &fakeStore{finding: f}, nil, nil)
	body, _ := json.Marshal(feedbackRequest{Source: "https://pkg.go.dev/grpc", Helpful: true})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/findings/f1/feedback", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no recorder configured, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRecordFindingFeedback_RecordsAgainstFindingQuery(t *testing.T) {
	f := &store.Finding{ID: "f1", Query: "grpc streaming"}
	fb := &fakeFeedback{}
	r := newTestRouterWithFeedback(&fakeEnqueuer{}, &fakeStore{finding: f}, nil, fb)
	body, _ := json.Marshal(feedbackRequest{Source: "https://pkg.go.dev/grpc", Helpful: true})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/findings/f1/feedback", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if fb.source != "https://pkg.go.dev/grpc" || fb.topic != "grpc streaming" || !fb.helpful {
		t.Errorf("expected feedback recorded against the finding's query, got %+v", fb)
	}
}

func TestIngestEvent_QuickPathEnqueuesOnToolOutputError(t *testing.T) {
	enq := &fakeEnqueuer{}
	sessions := &fakeSessions{}
	w := &fakeWatcher{
		quick:        watcher.Decision{ShouldResearch: true, Query: "undefined symbol foo", ResearchType: watcher.TypeError, Priority: 7},
		quickHandled: true,
	}
	r := newTestRouterFull(enq, &fakeStore{}, nil, nil, sessions, w)

	body, _ := json.Marshal(eventRequest{SessionID: "s1", Trigger: "toolOutput", Payload: "panic: undefined symbol foo"})
	req := httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if sessions.sessionID != "s1" || sessions.trigger != session.TriggerToolOutput {
		t.Errorf("expected the event to be ingested into the session tracker, got %+v", sessions)
	}
	if enq.gotReq.Query != "undefined symbol foo" {
		t.Errorf("expected the watcher's decision to enqueue research, got %+v", enq.gotReq)
	}
}

func TestIngestEvent_UserPromptSkipsQuickPath(t *testing.T) {
	enq := &fakeEnqueuer{}
	w := &fakeWatcher{
		quick:        watcher.Decision{ShouldResearch: true, Query: "quick path query", ResearchType: watcher.TypeError, Priority: 7},
		quickHandled: true,
		full:         watcher.Decision{ShouldResearch: false},
	}
	r := newTestRouterFull(enq, &fakeStore{}, nil, nil, &fakeSessions{}, w)

	body, _ := json.Marshal(eventRequest{SessionID: "s1", Trigger: "userPrompt", Payload: "how do I fix this"})
	req := httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if enq.gotReq.Query != "" {
		t.Errorf("expected no enqueue from a user prompt with no research warranted, got %+v", enq.gotReq)
	}
}

func TestResetCooldown_NoWatcherConfiguredIsUnavailable(t *testing.T) {
	r := newTestRouterFull(&fakeEnqueuer{}, &fakeStore{}, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/reset-cooldown", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no watcher configured, got %d", rec.Code)
	}
}

func TestResetCooldown_DelegatesToWatcher(t *testing.T) {
	w := &fakeWatcher{}
	r := newTestRouterFull(&fakeEnqueuer{}, &fakeStore{}, nil, nil, nil, w)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/reset-cooldown", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if w.resetSession != "s1" {
		t.Errorf("expected ResetCooldown called with s1, got %q", w.resetSession)
	}
}
