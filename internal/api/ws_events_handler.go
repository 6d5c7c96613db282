package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"go-research-crew/internal/events"
)

var eventsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamedTopics is every bus topic forwarded to connected clients.
var streamedTopics = []string{
	events.TaskQueued, events.TaskStarted, events.TaskCompleted, events.TaskFailed, events.QueueDrained,
	events.ResearchTriggered, events.ResearchComplete, events.IterationStart, events.IterationComplete,
	events.SpecialistDispatch, events.SpecialistComplete, events.PivotDetected,
}

// GET /api/ws/events streams every bus event to the client as JSON until it
// disconnects, at which point its handlers are unsubscribed.
func (s *Server) wsEvents(c *gin.Context) {
	if s.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "event bus not configured"})
		return
	}
	conn, err := eventsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[API] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	ids := make(map[string]int, len(streamedTopics))
	for _, topic := range streamedTopics {
		topic := topic
		ids[topic] = s.bus.On(topic, func(evt events.Event) {
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := conn.WriteJSON(gin.H{"topic": evt.Name, "payload": evt.Payload}); err != nil {
				log.Printf("[API] websocket write failed: %v", err)
			}
		})
	}
	defer func() {
		for topic, id := range ids {
			s.bus.Off(topic, id)
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
