// Package api is the HTTP surface: submit research, inspect task/finding
// state, and stream live event-bus activity over a websocket. Built on
// gin.Engine with grouped routes and a uniform JSON envelope shape.
package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"go-research-crew/internal/config"
	"go-research-crew/internal/events"
	"go-research-crew/internal/queue"
	"go-research-crew/internal/session"
	"go-research-crew/internal/store"
	"go-research-crew/internal/watcher"
)

// Enqueuer is the subset of queue.Queue the API needs.
type Enqueuer interface {
	Enqueue(req queue.EnqueueRequest) (*store.Task, error)
}

// Store is the subset of store.Store the API needs for read-side endpoints.
type Store interface {
	GetTask(id string) (*store.Task, error)
	SearchTasks(query string, limit int) ([]store.Task, error)
	GetQueueStats() (store.QueueStats, error)
	GetFinding(id string) (*store.Finding, error)
	SearchFindings(query string, limit int) ([]store.Finding, error)
}

// FeedbackRecorder records whether a cited source held up, feeding back into
// the source-reliability table. Optional: a nil recorder disables the route.
type FeedbackRecorder interface {
	RecordFeedback(source, topic string, helpful bool) error
}

// SessionIngestor is the subset of session.Tracker the API needs to feed
// hook events into the rolling per-session context.
type SessionIngestor interface {
	Ingest(sessionID string, trigger session.EventTrigger, text string)
}

// TriggerWatcher is the subset of watcher.Watcher the API needs to turn an
// ingested event into an autonomous-research decision.
type TriggerWatcher interface {
	Analyze(ctx context.Context, sessionID string, trigger session.EventTrigger) watcher.Decision
	QuickAnalyze(sessionID, latestToolOutput string) (watcher.Decision, bool)
	ResetCooldown(sessionID string)
}

// Server holds the handlers' dependencies.
type Server struct {
	cfg      config.ServerConfig
	queue    Enqueuer
	store    Store
	bus      *events.Bus
	feedback FeedbackRecorder
	sessions SessionIngestor
	watcher  TriggerWatcher
}

// NewRouter builds the gin engine with every route registered. fb, sessions,
// and trig are all optional and every route stays registered when one is nil:
// the feedback and reset-cooldown routes then answer 503, and /api/events
// skips the ingest or watcher step whose dependency is missing.
func NewRouter(cfg config.ServerConfig, q Enqueuer, st Store, bus *events.Bus, fb FeedbackRecorder, sessions SessionIngestor, trig TriggerWatcher) *gin.Engine {
	s := &Server{cfg: cfg, queue: q, store: st, bus: bus, feedback: fb, sessions: sessions, watcher: trig}

	r := gin.Default()
	r.GET("/api/health", s.health)

	group := r.Group("/api")
	{
		group.POST("/research", s.createResearch)
		group.GET("/research/:id", s.getResearch)
		group.GET("/research", s.searchResearch)
		group.GET("/status", s.status)
		group.GET("/findings", s.searchFindings)
		group.GET("/findings/:id", s.getFinding)
		group.POST("/findings/:id/feedback", s.recordFindingFeedback)
		group.POST("/events", s.ingestEvent)
		group.POST("/sessions/:id/reset-cooldown", s.resetCooldown)
		group.GET("/ws/events", s.wsEvents)
	}
	return r
}
