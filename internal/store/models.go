// Package store is the persistence layer: findings, the URL content cache,
// the source-quality ledger, and task bookkeeping. It is backed by an
// embedded sqlite database in WAL mode for concurrent readers alongside a
// single writer, the same gorm idiom used elsewhere in this codebase for
// Postgres, pointed at sqlite instead since this service never runs more
// than one process against its data.
package store

import (
	"time"

	"gorm.io/datatypes"
)

// TaskStatus is the lifecycle state of a queued research task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Depth is the coarse iteration-budget control.
type Depth string

const (
	DepthQuick  Depth = "quick"
	DepthMedium Depth = "medium"
	DepthDeep   Depth = "deep"
)

// Task is the durable record of an explicit or watcher-triggered research
// request.
type Task struct {
	ID          string     `gorm:"primaryKey;size:64" json:"id"`
	Query       string     `json:"query"`
	Context     string     `json:"context"`
	Depth       Depth      `gorm:"size:16" json:"depth"`
	Priority    int        `json:"priority"`
	Status      TaskStatus `gorm:"size:16;index" json:"status"`
	SessionID   string     `gorm:"size:128;index" json:"sessionId,omitempty"`
	Trigger     string     `gorm:"size:32" json:"trigger"`
	CreatedAt   time.Time  `gorm:"index" json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ResultID    string     `gorm:"size:64" json:"resultId,omitempty"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"lastError,omitempty"`
}

// Finding is the durable unit of research output. Content and
// key points are stored as JSON blobs (gorm.io/datatypes.JSON), the same
// approach used elsewhere in this codebase for free-form config payloads.
type Finding struct {
	ID          string             `gorm:"primaryKey;size:64" json:"id"`
	Query       string             `json:"query"`
	Summary     string             `json:"summary"`
	KeyPoints   datatypes.JSONType[[]string] `json:"keyPoints"`
	Content     string             `json:"content"`
	Domain      string             `gorm:"size:64;index" json:"domain,omitempty"`
	Depth       Depth              `gorm:"size:16" json:"depth"`
	Confidence  float64            `json:"confidence"`
	SessionID   string             `gorm:"size:128;index" json:"sessionId,omitempty"`
	ProjectPath string             `gorm:"size:512" json:"projectPath,omitempty"`
	CreatedAt   time.Time          `gorm:"index" json:"createdAt"`
	Sources     []Source           `gorm:"foreignKey:FindingID" json:"sources"`
}

// IsPartial reports whether this finding is an intermediate iteration
// fragment rather than a final synthesized answer.
func (f *Finding) IsPartial() bool {
	return f.Confidence <= 0.3
}

// Source is one citation attached to a finding.
type Source struct {
	ID          uint    `gorm:"primaryKey" json:"-"`
	FindingID   string  `gorm:"size:64;index" json:"-"`
	Title       string  `json:"title"`
	URL         string  `gorm:"size:2048" json:"url"`
	Snippet     string  `json:"snippet,omitempty"`
	Relevance   float64 `json:"relevance"`
	HasQuality  bool    `json:"-"`
	Quality     float64 `json:"quality,omitempty"`
}

// URLCacheEntry is a TTL- and byte-bounded cache of fetched page content.
type URLCacheEntry struct {
	URL        string `gorm:"primaryKey;size:2048"`
	Title      string
	Content    string
	SizeBytes  int64
	CachedAt   time.Time `gorm:"index"`
	LastAccess time.Time `gorm:"index"`
}

// SourceQuality is the learned reliability ledger for a (domain, topic) pair.
type SourceQuality struct {
	ID          uint   `gorm:"primaryKey"`
	Domain      string `gorm:"size:255;index:idx_domain_topic"`
	Topic       string `gorm:"size:255;index:idx_domain_topic"`
	Reliability float64
	Positive    int
	Negative    int
	UpdatedAt   time.Time
}

// Injection is a log of memory-bridge write-throughs.
type Injection struct {
	ID        uint      `gorm:"primaryKey"`
	FindingID string    `gorm:"size:64;uniqueIndex"`
	Forced    bool
	CreatedAt time.Time
}

// AllModels lists every model for AutoMigrate.
func AllModels() []any {
	return []any{
		&Task{},
		&Finding{},
		&Source{},
		&URLCacheEntry{},
		&SourceQuality{},
		&Injection{},
	}
}
