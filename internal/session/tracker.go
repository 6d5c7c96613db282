package session

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Tracker owns every session's state. Every mutation (Ingest, the watcher's
// RecordResearch and MarkAnalyzed, PruneInactive) takes the write lock and
// snapshots are read under the read lock, so a single RWMutex over the
// whole map is sufficient.
type Tracker struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	maxRingEvents int
}

// NewTracker builds a tracker whose sessions cap their event ring at
// maxRingEvents; 0 or negative falls back to defaultMaxRingEvents.
func NewTracker(maxRingEvents int) *Tracker {
	return &Tracker{sessions: make(map[string]*Session), maxRingEvents: maxRingEvents}
}

// Ingest appends an event to sessionId's ring, creating the session if new.
func (t *Tracker) Ingest(sessionID string, trigger EventTrigger, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		s = newSession(sessionID, t.maxRingEvents)
		t.sessions[sessionID] = s
	}
	s.ingest(Event{Trigger: trigger, Text: text, At: time.Now()})
}

// Known reports whether sessionId has any recorded activity.
func (t *Tracker) Known(sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sessions[sessionID]
	return ok
}

// GetWatcherContext returns a read-only snapshot for the watcher's prompt.
func (t *Tracker) GetWatcherContext(sessionID string) (Context, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return Context{}, false
	}
	return Context{
		CurrentTask:     topFocus(s.topics),
		Topics:          s.topTopics(8),
		RecentErrors:    append([]string(nil), s.errors...),
		ResearchHistory: append([]string(nil), s.researchHistory...),
		RecentMessages:  s.recentMessages(8),
		Stuck:           s.isStuck(),
		LastAnalyzedAt:  s.lastAnalyzed,
	}, true
}

// HasRecentSimilarResearch checks this session's in-memory research history
// (the last maxResearchLog recorded queries) for a Jaccard-similar query.
// windowMs is not applied: history entries carry no timestamps, so a query
// stays matchable until it is trimmed out of the history by count.
func (t *Tracker) HasRecentSimilarResearch(sessionID, text string, windowMs int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return false
	}
	// RecordResearch bounds researchHistory by count only, not by age.
	_ = windowMs
	for _, q := range s.researchHistory {
		if similarEnough(text, q) {
			return true
		}
	}
	return false
}

// RecordResearch appends a triggered query to sessionId's research history.
func (t *Tracker) RecordResearch(sessionID, query string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		s = newSession(sessionID, t.maxRingEvents)
		t.sessions[sessionID] = s
	}
	s.researchHistory = append(s.researchHistory, query)
	if len(s.researchHistory) > maxResearchLog {
		s.researchHistory = s.researchHistory[len(s.researchHistory)-maxResearchLog:]
	}
}

// MarkAnalyzed stamps the watcher decision time for sessionId.
func (t *Tracker) MarkAnalyzed(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[sessionID]; ok {
		s.lastAnalyzed = time.Now()
	}
}

// PruneInactive removes sessions idle beyond idleMs.
func (t *Tracker) PruneInactive(idleMs int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-time.Duration(idleMs) * time.Millisecond)
	removed := 0
	for id, s := range t.sessions {
		if s.lastActivity.Before(cutoff) {
			delete(t.sessions, id)
			removed++
		}
	}
	return removed
}

var punctuation = regexp.MustCompile(`[^\w\s]`)

func normalizeTokens(s string) []string {
	cleaned := punctuation.ReplaceAllString(strings.ToLower(s), "")
	words := strings.Fields(cleaned)
	sort.Strings(words)
	return words
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	setA := make(map[string]struct{}, len(a))
	for _, w := range a {
		setA[w] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, w := range b {
		setB[w] = struct{}{}
	}
	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func similarEnough(a, b string) bool {
	return jaccard(normalizeTokens(a), normalizeTokens(b)) >= 0.8
}
