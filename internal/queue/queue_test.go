package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go-research-crew/internal/config"
	"go-research-crew/internal/store"
)

type fakeStore struct {
	mu      sync.Mutex
	tasks   map[string]*store.Task
	similar *store.Task
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]*store.Task)}
}

func (f *fakeStore) CreateTask(t *store.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.tasks[t.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateTaskStatus(id string, status store.TaskStatus, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return fmt.Errorf("no such task %s", id)
	}
	t.Status = status
	if v, ok := fields["attempts"]; ok {
		t.Attempts = v.(int)
	}
	if v, ok := fields["last_error"]; ok {
		t.LastError = v.(string)
	}
	return nil
}

func (f *fakeStore) SaveTaskResult(id, findingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return fmt.Errorf("no such task %s", id)
	}
	t.ResultID = findingID
	return nil
}

func (f *fakeStore) GetQueuedTasks(limit int) ([]store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Task
	for _, t := range f.tasks {
		if t.Status == store.TaskQueued {
			out = append(out, *t)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) FindSimilarRecentTask(query string, windowMs int64) (*store.Task, error) {
	return f.similar, nil
}

func (f *fakeStore) get(id string) store.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.tasks[id]
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    int
	failN    int
	findingID string
}

func (r *fakeRunner) Run(ctx context.Context, task store.Task) (string, error) {
	r.mu.Lock()
	r.calls++
	n := r.calls
	r.mu.Unlock()
	if n <= r.failN {
		return "", fmt.Errorf("transient failure %d", n)
	}
	return r.findingID, nil
}

func TestEnqueue_DedupsAgainstSimilarRecentTask(t *testing.T) {
	st := newFakeStore()
	existing := &store.Task{ID: "existing-1", Query: "rate limiting fastapi"}
	st.similar = existing
	q := New(config.QueueConfig{MaxConcurrent: 2, MaxQueueSize: 10, RetryAttempts: 1}, st, &fakeRunner{}, nil)

	got, err := q.Enqueue(EnqueueRequest{Query: "fastapi rate limiting"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != existing.ID {
		t.Errorf("expected dedup to return existing task %s, got %s", existing.ID, got.ID)
	}
}

func TestEnqueue_RejectsWhenQueueFull(t *testing.T) {
	st := newFakeStore()
	q := New(config.QueueConfig{MaxConcurrent: 2, MaxQueueSize: 1, RetryAttempts: 1}, st, &fakeRunner{}, nil)

	if _, err := q.Enqueue(EnqueueRequest{Query: "first query"}); err != nil {
		t.Fatalf("unexpected error on first enqueue: %v", err)
	}
	if _, err := q.Enqueue(EnqueueRequest{Query: "second distinct query"}); err == nil {
		t.Errorf("expected second enqueue to be rejected once the queue is full")
	}
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	st := newFakeStore()
	runner := &fakeRunner{failN: 1, findingID: "finding-1"}
	q := New(config.QueueConfig{MaxConcurrent: 1, MaxQueueSize: 10, RetryAttempts: 3, TaskTimeoutMs: 0}, st, runner, nil)

	task := &store.Task{ID: "t1", Query: "q", Status: store.TaskQueued, CreatedAt: time.Now()}
	st.CreateTask(task)

	q.execute(context.Background(), *task)

	got := st.get("t1")
	if got.Status != store.TaskCompleted {
		t.Errorf("expected task to complete after retry, got status %s", got.Status)
	}
	if got.ResultID != "finding-1" {
		t.Errorf("expected result id to be attached, got %q", got.ResultID)
	}
	if got.Attempts != 2 {
		t.Errorf("expected attempts to record the 2 tries actually consumed (1 failure + 1 success), got %d", got.Attempts)
	}
}

func TestExecute_SucceedsFirstTryRecordsOneAttempt(t *testing.T) {
	st := newFakeStore()
	runner := &fakeRunner{findingID: "finding-2"}
	q := New(config.QueueConfig{MaxConcurrent: 1, MaxQueueSize: 10, RetryAttempts: 3, TaskTimeoutMs: 0}, st, runner, nil)

	task := &store.Task{ID: "t3", Query: "q", Status: store.TaskQueued, CreatedAt: time.Now()}
	st.CreateTask(task)

	q.execute(context.Background(), *task)

	got := st.get("t3")
	if got.Attempts != 1 {
		t.Errorf("expected a first-try success to record exactly 1 attempt, not the configured retry budget, got %d", got.Attempts)
	}
}

func TestExecute_FailsTerminallyAfterExhaustingRetries(t *testing.T) {
	st := newFakeStore()
	runner := &fakeRunner{failN: 99}
	q := New(config.QueueConfig{MaxConcurrent: 1, MaxQueueSize: 10, RetryAttempts: 2, TaskTimeoutMs: 0}, st, runner, nil)

	task := &store.Task{ID: "t2", Query: "q", Status: store.TaskQueued, CreatedAt: time.Now()}
	st.CreateTask(task)

	q.execute(context.Background(), *task)

	got := st.get("t2")
	if got.Status != store.TaskFailed {
		t.Errorf("expected task to terminally fail, got status %s", got.Status)
	}
	if got.LastError == "" {
		t.Errorf("expected last error to be recorded")
	}
	if got.Attempts != 2 {
		t.Errorf("expected attempts to equal the configured retry budget once exhausted, got %d", got.Attempts)
	}
}
