// Package session tracks per-client activity so the watcher can decide
// whether autonomous research is warranted: a pattern-matched error capture
// heuristic generalized from a single prompt check into a bounded
// per-session ring buffer.
package session

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	defaultMaxRingEvents = 100
	maxErrors            = 20
	maxResearchLog       = 50
	stuckRepeatSize      = 2
)

// EventTrigger names the kind of activity ingested into a session.
type EventTrigger string

const (
	TriggerUserPrompt EventTrigger = "userPrompt"
	TriggerToolOutput EventTrigger = "toolOutput"
)

// Event is one ingested activity item.
type Event struct {
	Trigger EventTrigger
	Text    string
	At      time.Time
}

// Context is the read-only snapshot the watcher consumes.
type Context struct {
	CurrentTask      string
	Topics           []string
	RecentErrors     []string
	ResearchHistory  []string
	RecentMessages   []string
	Stuck            bool
	LastAnalyzedAt   time.Time
}

type topicScore struct {
	score    float64
	lastSeen time.Time
}

// Session is one client's bounded activity window.
type Session struct {
	id              string
	maxRingEvents   int
	events          []Event
	topics          map[string]*topicScore
	errors          []string
	researchHistory []string
	focusHistory    []string
	lastAnalyzed    time.Time
	lastActivity    time.Time
}

var errorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\berror\b`),
	regexp.MustCompile(`(?i)\bexception\b`),
	regexp.MustCompile(`(?i)\bfailed\b`),
	regexp.MustCompile(`(?i)\btraceback\b`),
	regexp.MustCompile(`(?i)\bpanic:`),
	regexp.MustCompile(`(?i)\bundefined\b`),
	regexp.MustCompile(`(?i)\bnot found\b`),
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {},
	"at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {}, "from": {}, "is": {},
	"was": {}, "are": {}, "were": {}, "be": {}, "have": {}, "has": {}, "had": {}, "do": {},
	"does": {}, "did": {}, "will": {}, "would": {}, "should": {}, "could": {}, "this": {},
	"that": {}, "it": {}, "as": {},
}

func newSession(id string, maxRingEvents int) *Session {
	if maxRingEvents <= 0 {
		maxRingEvents = defaultMaxRingEvents
	}
	return &Session{id: id, maxRingEvents: maxRingEvents, topics: make(map[string]*topicScore)}
}

// ingest appends event to the ring, updates topic recency, captures
// pattern-matched errors, and records a focus token for stuck detection.
func (s *Session) ingest(evt Event) {
	s.events = append(s.events, evt)
	if len(s.events) > s.maxRingEvents {
		s.events = s.events[len(s.events)-s.maxRingEvents:]
	}
	s.lastActivity = evt.At

	s.decayTopics()
	for _, tok := range significantTokens(evt.Text) {
		ts, ok := s.topics[tok]
		if !ok {
			ts = &topicScore{}
			s.topics[tok] = ts
		}
		ts.score += 1.0
		ts.lastSeen = evt.At
	}

	if evt.Trigger == TriggerToolOutput {
		for _, re := range errorPatterns {
			if re.MatchString(evt.Text) {
				s.errors = append(s.errors, firstLine(evt.Text))
				if len(s.errors) > maxErrors {
					s.errors = s.errors[len(s.errors)-maxErrors:]
				}
				break
			}
		}
	}

	focus := topFocus(s.topics)
	s.focusHistory = append(s.focusHistory, focus)
	if len(s.focusHistory) > stuckRepeatSize*4 {
		s.focusHistory = s.focusHistory[len(s.focusHistory)-stuckRepeatSize*4:]
	}
}

// decayTopics halves every topic's score before a new event is folded in,
// so older terms fade relative to what the session is doing now.
func (s *Session) decayTopics() {
	for _, ts := range s.topics {
		ts.score *= 0.5
	}
}

// topFocus returns the highest-scoring topic, breaking ties lexically so
// repeated calls over an unchanged topic map are deterministic (Go's map
// iteration order is randomized per range).
func topFocus(topics map[string]*topicScore) string {
	best := ""
	var bestScore float64
	for tok, ts := range topics {
		if ts.score > bestScore || (ts.score == bestScore && ts.score > 0 && tok < best) {
			bestScore = ts.score
			best = tok
		}
	}
	return best
}

func (s *Session) isStuck() bool {
	n := len(s.focusHistory)
	if n < stuckRepeatSize {
		return false
	}
	last := s.focusHistory[n-1]
	if last == "" {
		return false
	}
	for i := n - stuckRepeatSize; i < n; i++ {
		if s.focusHistory[i] != last {
			return false
		}
	}
	return true
}

func (s *Session) topTopics(limit int) []string {
	type kv struct {
		k string
		v float64
	}
	items := make([]kv, 0, len(s.topics))
	for k, ts := range s.topics {
		items = append(items, kv{k, ts.score})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].v > items[j].v })
	if limit > len(items) {
		limit = len(items)
	}
	out := make([]string, limit)
	for i := 0; i < limit; i++ {
		out[i] = items[i].k
	}
	return out
}

func (s *Session) recentMessages(limit int) []string {
	n := len(s.events)
	if limit > n {
		limit = n
	}
	out := make([]string, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.events[n-limit+i].Text
	}
	return out
}

func significantTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	var out []string
	for _, f := range fields {
		if len(f) < 4 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i != -1 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return strings.TrimSpace(s)
}
