package store

import (
	"fmt"
	"time"
)

// QueueStats is a trivial projection used by the HTTP status endpoint.
type QueueStats struct {
	Queued    int64 `json:"queued"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// CreateTask persists a new task. Callers are responsible for dedup;
// this call always inserts.
func (s *Store) CreateTask(t *Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Status == "" {
		t.Status = TaskQueued
	}
	return s.db.Create(t).Error
}

// UpdateTaskStatus performs a one-way lifecycle transition:
// once completed/failed/cancelled, no further transition is accepted.
func (s *Store) UpdateTaskStatus(id string, status TaskStatus, fields map[string]any) error {
	var existing Task
	if err := s.db.First(&existing, "id = ?", id).Error; err != nil {
		return fmt.Errorf("get task %s: %w", id, err)
	}
	if isTerminal(existing.Status) {
		return fmt.Errorf("task %s already in terminal state %s", id, existing.Status)
	}

	updates := map[string]any{"status": status}
	now := time.Now()
	switch status {
	case TaskRunning:
		updates["started_at"] = now
	case TaskCompleted, TaskFailed, TaskCancelled:
		updates["completed_at"] = now
	}
	for k, v := range fields {
		updates[k] = v
	}
	return s.db.Model(&Task{}).Where("id = ?", id).Updates(updates).Error
}

func isTerminal(s TaskStatus) bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// SaveTaskResult attaches a finding id to a completed task.
func (s *Store) SaveTaskResult(id string, findingID string) error {
	return s.db.Model(&Task{}).Where("id = ?", id).Update("result_id", findingID).Error
}

// GetTask fetches a single task by id.
func (s *Store) GetTask(id string) (*Task, error) {
	var t Task
	if err := s.db.First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// GetQueuedTasks returns queued tasks ordered priority desc, createdAt asc.
func (s *Store) GetQueuedTasks(limit int) ([]Task, error) {
	var tasks []Task
	err := s.db.Where("status = ?", TaskQueued).
		Order("priority desc, created_at asc").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

// GetRecentTasks returns the most recently created tasks, newest first.
func (s *Store) GetRecentTasks(limit int) ([]Task, error) {
	var tasks []Task
	err := s.db.Order("created_at desc").Limit(limit).Find(&tasks).Error
	return tasks, err
}

// SearchTasks is a simple substring search over the query text.
func (s *Store) SearchTasks(query string, limit int) ([]Task, error) {
	var tasks []Task
	err := s.db.Where("query LIKE ?", "%"+query+"%").
		Order("created_at desc").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

// GetQueueStats reports per-state counts for the dashboard projection.
func (s *Store) GetQueueStats() (QueueStats, error) {
	var stats QueueStats
	type row struct {
		Status TaskStatus
		Count  int64
	}
	var rows []row
	if err := s.db.Model(&Task{}).Select("status, count(*) as count").Group("status").Scan(&rows).Error; err != nil {
		return stats, err
	}
	for _, r := range rows {
		switch r.Status {
		case TaskQueued:
			stats.Queued = r.Count
		case TaskRunning:
			stats.Running = r.Count
		case TaskCompleted:
			stats.Completed = r.Count
		case TaskFailed:
			stats.Failed = r.Count
		}
	}
	return stats, nil
}

// FindSimilarRecentTask implements enqueue-time dedup: a non-failed task
// created within windowMs with word overlap >= 0.8 against query is
// returned, so the caller can hand back its id instead of creating a new one.
func (s *Store) FindSimilarRecentTask(query string, windowMs int64) (*Task, error) {
	cutoff := time.Now().Add(-time.Duration(windowMs) * time.Millisecond)
	var candidates []Task
	err := s.db.Where("created_at >= ? AND status <> ?", cutoff, TaskFailed).Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if similarEnough(query, candidates[i].Query) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}
