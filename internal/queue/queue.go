// Package queue is the background polling scheduler that turns queued tasks
// into crew runs: a fixed-interval tick picks up queued work up to a
// concurrency cap, retries transient failures with backoff, and reports
// lifecycle transitions on the event bus.
package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-research-crew/internal/config"
	"go-research-crew/internal/events"
	"go-research-crew/internal/store"
)

const (
	tickInterval  = 2 * time.Second
	dedupWindowMs = 5 * 60 * 1000
)

// Store is the subset of store.Store the queue needs.
type Store interface {
	CreateTask(t *store.Task) error
	UpdateTaskStatus(id string, status store.TaskStatus, fields map[string]any) error
	SaveTaskResult(id, findingID string) error
	GetQueuedTasks(limit int) ([]store.Task, error)
	FindSimilarRecentTask(query string, windowMs int64) (*store.Task, error)
}

// Runner executes one task's research and returns the id of the finding it
// persisted.
type Runner interface {
	Run(ctx context.Context, task store.Task) (findingID string, err error)
}

// EnqueueRequest is the input to Queue.Enqueue.
type EnqueueRequest struct {
	Query     string
	Context   string
	Depth     store.Depth
	Trigger   string
	SessionID string
	Priority  int
}

// Queue is the process-wide scheduler singleton.
type Queue struct {
	cfg    config.QueueConfig
	store  Store
	runner Runner
	bus    *events.Bus

	mu      sync.Mutex
	running int

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(cfg config.QueueConfig, st Store, runner Runner, bus *events.Bus) *Queue {
	return &Queue{cfg: cfg, store: st, runner: runner, bus: bus}
}

// Enqueue dedups against recent similar tasks, rejects once the queue is at
// capacity, and otherwise persists a new queued task.
func (q *Queue) Enqueue(req EnqueueRequest) (*store.Task, error) {
	if existing, err := q.store.FindSimilarRecentTask(req.Query, dedupWindowMs); err != nil {
		log.Printf("[Queue] dedup lookup failed, enqueueing anyway: %v", err)
	} else if existing != nil {
		return existing, nil
	}

	if q.cfg.MaxQueueSize > 0 {
		queued, err := q.store.GetQueuedTasks(q.cfg.MaxQueueSize + 1)
		if err != nil {
			return nil, fmt.Errorf("check queue depth: %w", err)
		}
		if len(queued) >= q.cfg.MaxQueueSize {
			return nil, fmt.Errorf("queue full (max %d)", q.cfg.MaxQueueSize)
		}
	}

	task := &store.Task{
		ID:        uuid.NewString(),
		Query:     req.Query,
		Context:   req.Context,
		Depth:     req.Depth,
		Priority:  req.Priority,
		Status:    store.TaskQueued,
		SessionID: req.SessionID,
		Trigger:   req.Trigger,
		CreatedAt: time.Now(),
	}
	if err := q.store.CreateTask(task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	q.emit(events.TaskQueued, task)
	return task, nil
}

// Start begins the polling loop; Stop blocks until it has exited.
func (q *Queue) Start(ctx context.Context) {
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	go q.loop(ctx)
}

func (q *Queue) Stop() {
	if q.stopCh == nil {
		return
	}
	close(q.stopCh)
	<-q.doneCh
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.doneCh)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.tick(ctx)
		}
	}
}

// tick admits up to (maxConcurrent - running) queued tasks, ordered
// (priority desc, createdAt asc) by the store, each run in its own goroutine.
func (q *Queue) tick(ctx context.Context) {
	q.mu.Lock()
	slots := q.cfg.MaxConcurrent - q.running
	q.mu.Unlock()
	if slots <= 0 {
		return
	}

	tasks, err := q.store.GetQueuedTasks(slots)
	if err != nil {
		log.Printf("[Queue] failed to fetch queued tasks: %v", err)
		return
	}
	if len(tasks) == 0 {
		q.emit(events.QueueDrained, nil)
		return
	}

	for _, t := range tasks {
		q.mu.Lock()
		q.running++
		q.mu.Unlock()
		go q.execute(ctx, t)
	}
}

// execute runs one task to completion, retrying failures with a linear
// backoff (1s * attempt) up to retryAttempts before terminally
// failing it.
func (q *Queue) execute(ctx context.Context, task store.Task) {
	defer func() {
		q.mu.Lock()
		q.running--
		q.mu.Unlock()
	}()

	if err := q.store.UpdateTaskStatus(task.ID, store.TaskRunning, nil); err != nil {
		log.Printf("[Queue] task %s: failed to mark running: %v", task.ID, err)
		return
	}
	q.emit(events.TaskStarted, task)

	attempts := q.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	var findingID string
	used := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		used = attempt
		runCtx := ctx
		var cancel context.CancelFunc
		if q.cfg.TaskTimeoutMs > 0 {
			runCtx, cancel = context.WithTimeout(ctx, time.Duration(q.cfg.TaskTimeoutMs)*time.Millisecond)
		}
		id, err := q.runner.Run(runCtx, task)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			findingID, lastErr = id, nil
			break
		}
		lastErr = err
		if attempt < attempts {
			backoff := time.Duration(attempt) * time.Second
			log.Printf("[Queue] task %s attempt %d failed, retrying in %s: %v", task.ID, attempt, backoff, err)
			time.Sleep(backoff)
		}
	}

	if lastErr != nil {
		if err := q.store.UpdateTaskStatus(task.ID, store.TaskFailed, map[string]any{"attempts": used, "last_error": lastErr.Error()}); err != nil {
			log.Printf("[Queue] task %s: failed to mark failed: %v", task.ID, err)
		}
		q.emit(events.TaskFailed, task)
		return
	}

	if err := q.store.UpdateTaskStatus(task.ID, store.TaskCompleted, map[string]any{"attempts": used}); err != nil {
		log.Printf("[Queue] task %s: failed to mark completed: %v", task.ID, err)
	}
	if err := q.store.SaveTaskResult(task.ID, findingID); err != nil {
		log.Printf("[Queue] task %s: failed to attach result: %v", task.ID, err)
	}
	q.emit(events.TaskCompleted, task)
}

func (q *Queue) emit(topic string, payload any) {
	if q.bus != nil {
		q.bus.Emit(topic, payload)
	}
}
