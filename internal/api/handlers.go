package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"go-research-crew/internal/queue"
	"go-research-crew/internal/session"
	"go-research-crew/internal/store"
)

// GET /api/health
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// researchRequest is the POST /api/research body.
type researchRequest struct {
	Query     string `json:"query" binding:"required"`
	Depth     string `json:"depth"`
	Context   string `json:"context"`
	Priority  int    `json:"priority"`
	Trigger   string `json:"trigger"`
	SessionID string `json:"sessionId"`
}

// POST /api/research -> {success, data:{id}}
func (s *Server) createResearch(c *gin.Context) {
	var req researchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	depth := store.Depth(req.Depth)
	if depth == "" {
		depth = store.DepthMedium
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = "direct"
	}

	task, err := s.queue.Enqueue(queue.EnqueueRequest{
		Query:     req.Query,
		Context:   req.Context,
		Depth:     depth,
		Trigger:   trigger,
		SessionID: req.SessionID,
		Priority:  req.Priority,
	})
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": gin.H{"id": task.ID}})
}

// GET /api/research/:id
func (s *Server) getResearch(c *gin.Context) {
	task, err := s.store.GetTask(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": task})
}

// GET /api/research?q=
func (s *Server) searchResearch(c *gin.Context) {
	tasks, err := s.store.SearchTasks(c.Query("q"), 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": tasks})
}

// GET /api/status
func (s *Server) status(c *gin.Context) {
	stats, err := s.store.GetQueueStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
}

// GET /api/findings?q=
func (s *Server) searchFindings(c *gin.Context) {
	findings, err := s.store.SearchFindings(c.Query("q"), 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": findings})
}

// GET /api/findings/:id
func (s *Server) getFinding(c *gin.Context) {
	finding, err := s.store.GetFinding(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "finding not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": finding})
}

type feedbackRequest struct {
	Source  string `json:"source" binding:"required"`
	Helpful bool   `json:"helpful"`
}

// POST /api/findings/:id/feedback records whether a source cited by this
// finding actually helped, against the finding's own query as the topic.
func (s *Server) recordFindingFeedback(c *gin.Context) {
	if s.feedback == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "feedback recording is not configured"})
		return
	}
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	finding, err := s.store.GetFinding(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "finding not found"})
		return
	}
	if err := s.feedback.RecordFeedback(req.Source, finding.Query, req.Helpful); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// eventRequest is a hook's per-event payload: sessionId, trigger, and the
// raw text (prompt or tool output) that just happened.
type eventRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Trigger   string `json:"trigger" binding:"required"`
	Payload   string `json:"payload"`
}

// POST /api/events ingests one hook event into the session tracker and, if
// the watcher decides research is warranted, enqueues it. The response
// shape is deliberately minimal: the hook transport itself doesn't need to
// know whether anything was triggered.
func (s *Server) ingestEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	trigger := session.EventTrigger(req.Trigger)

	if s.sessions != nil {
		s.sessions.Ingest(req.SessionID, trigger, req.Payload)
	}
	if s.watcher != nil {
		s.dispatchWatcherDecision(c, req.SessionID, trigger, req.Payload)
	}
	c.JSON(http.StatusOK, gin.H{"continue": true})
}

// dispatchWatcherDecision runs the quick regex-only path on tool output,
// falling back to the full LLM-assisted analyze, and enqueues research when
// either path decides it is warranted.
func (s *Server) dispatchWatcherDecision(c *gin.Context, sessionID string, trigger session.EventTrigger, payload string) {
	if trigger == session.TriggerToolOutput {
		if d, handled := s.watcher.QuickAnalyze(sessionID, payload); handled {
			s.enqueueIfWarranted(sessionID, d.ShouldResearch, d.Query, string(d.ResearchType), d.Priority)
			return
		}
	}
	d := s.watcher.Analyze(c.Request.Context(), sessionID, trigger)
	s.enqueueIfWarranted(sessionID, d.ShouldResearch, d.Query, string(d.ResearchType), d.Priority)
}

func (s *Server) enqueueIfWarranted(sessionID string, shouldResearch bool, query, researchType string, priority int) {
	if !shouldResearch {
		return
	}
	if _, err := s.queue.Enqueue(queue.EnqueueRequest{
		Query:     query,
		Depth:     store.DepthMedium,
		Trigger:   researchType,
		SessionID: sessionID,
		Priority:  priority,
	}); err != nil {
		log.Printf("[api] watcher-triggered enqueue failed: %v", err)
	}
}

// POST /api/sessions/:id/reset-cooldown clears a session's autonomous-research
// cooldown, the documented client escape hatch.
func (s *Server) resetCooldown(c *gin.Context) {
	if s.watcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "watcher is not configured"})
		return
	}
	s.watcher.ResetCooldown(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}
