// Package watcher decides whether a session's activity warrants
// autonomous research, via a cascade: cheap heuristic first, LLM judge
// only when the heuristic is inconclusive, fail-closed on LLM error.
package watcher

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"go-research-crew/internal/events"
	"go-research-crew/internal/llmgateway"
	"go-research-crew/internal/session"
	"go-research-crew/internal/store"
)

// ResearchType classifies why a Decision was (or wasn't) triggered.
type ResearchType string

const (
	TypeError      ResearchType = "error"
	TypeStuck      ResearchType = "stuck"
	TypeUnknownAPI ResearchType = "unknown_api"
	TypeProactive  ResearchType = "proactive"
	TypeDirect     ResearchType = "direct"
)

// Decision is the watcher's verdict on one analyze call.
type Decision struct {
	ShouldResearch  bool
	Query           string
	ResearchType    ResearchType
	Confidence      float64
	Priority        int
	Reason          string
	AlternativeHint string
	BlockedBy       string
}

func noResearch(reason string) Decision {
	return Decision{ShouldResearch: false, Reason: reason}
}

// LLM is the subset of llmgateway.Gateway the watcher needs.
type LLM interface {
	Query(ctx context.Context, prompt string, opts llmgateway.Options) (llmgateway.Result, error)
}

// Dedup is the subset of store.Store the watcher needs for global
// duplicate-query suppression.
type Dedup interface {
	HasRecentSimilarQuery(text string, windowMs int64) (store.SimilarQueryHit, error)
}

// Config mirrors config.ResearchConfig plus the cooldown/hourly knobs.
type Config struct {
	AutonomousEnabled   bool
	ConfidenceThreshold float64
	SessionCooldownMs   int64
	MaxResearchPerHour  int
}

// Watcher implements analyze/quickAnalyze as a process-wide
// singleton with its own concurrency-safe rate state.
type Watcher struct {
	cfg      Config
	llm      LLM
	sessions *session.Tracker
	dedup    Dedup
	bus      *events.Bus

	mu         sync.Mutex
	cooldowns  map[string]time.Time
	hourlyHits []time.Time
}

func New(cfg Config, llm LLM, sessions *session.Tracker, dedup Dedup, bus *events.Bus) *Watcher {
	return &Watcher{
		cfg:       cfg,
		llm:       llm,
		sessions:  sessions,
		dedup:     dedup,
		bus:       bus,
		cooldowns: make(map[string]time.Time),
	}
}

// thresholdFor applies the per-type confidence table.
func (w *Watcher) thresholdFor(rt ResearchType) float64 {
	base := w.cfg.ConfidenceThreshold
	if rt == TypeStuck {
		t := base + 0.1
		if t > 0.8 {
			t = 0.8
		}
		return t
	}
	return base
}

// Analyze is the public entry point.
func (w *Watcher) Analyze(ctx context.Context, sessionID string, trigger session.EventTrigger) Decision {
	if !w.cfg.AutonomousEnabled {
		return noResearch("Autonomous research disabled")
	}
	if trigger == session.TriggerUserPrompt {
		return noResearch("User prompts require explicit client-initiated research")
	}
	if !w.admitHourly(false) {
		return noResearch("Global rate limit reached")
	}
	if w.cooldownActive(sessionID) {
		return noResearch("Cooldown active")
	}
	if !w.sessions.Known(sessionID) {
		return noResearch("Session unknown")
	}

	snap, _ := w.sessions.GetWatcherContext(sessionID)
	if w.sessions.HasRecentSimilarResearch(sessionID, snap.CurrentTask, w.cfg.SessionCooldownMs) {
		return noResearch("Recent session-local similar research")
	}
	if hit, err := w.dedup.HasRecentSimilarQuery(snap.CurrentTask, w.cfg.SessionCooldownMs); err == nil && hit.Found {
		return noResearch("Recent global similar research")
	}

	prompt := buildWatcherPrompt(snap)
	result, err := w.llm.Query(ctx, prompt, llmgateway.Options{Priority: llmgateway.PriorityBackground})
	if err != nil {
		log.Printf("[Watcher] LLM call failed, no research: %v", err)
		return noResearch("LLM decision call failed")
	}
	decision, ok := parseDecision(result.Text)
	if !ok {
		return noResearch("Watcher reply failed to parse")
	}
	return w.finalize(sessionID, decision)
}

// QuickAnalyze is the fast, LLM-free error-detection path; it never
// runs on user prompts.
func (w *Watcher) QuickAnalyze(sessionID, latestToolOutput string) (Decision, bool) {
	if !w.cfg.AutonomousEnabled {
		return Decision{}, false
	}
	if !w.admitHourly(false) {
		return noResearch("Global rate limit reached"), true
	}
	if w.cooldownActive(sessionID) {
		return noResearch("Cooldown active"), true
	}

	line, matched := firstErrorMatch(latestToolOutput)
	if !matched {
		return Decision{}, false
	}
	query := queryFromError(line)
	decision := Decision{
		ShouldResearch: true,
		Query:          query,
		ResearchType:   TypeError,
		Confidence:     0.85,
		Priority:       7,
		Reason:         "regex-detected error in latest tool output",
	}
	return w.finalize(sessionID, decision), true
}

// finalize applies the confidence threshold, re-checks dedup against the
// proposed query, and on acceptance stamps cooldown/counters and emits
// research:triggered.
func (w *Watcher) finalize(sessionID string, d Decision) Decision {
	if !d.ShouldResearch {
		return d
	}
	if d.Confidence < w.thresholdFor(d.ResearchType) {
		return noResearch(fmt.Sprintf("confidence %.2f below threshold", d.Confidence))
	}
	if hit, err := w.dedup.HasRecentSimilarQuery(d.Query, w.cfg.SessionCooldownMs); err == nil && hit.Found {
		return noResearch("Proposed query duplicates recent research")
	}

	w.mu.Lock()
	w.cooldowns[sessionID] = time.Now()
	w.mu.Unlock()
	w.admitHourly(true)
	w.sessions.MarkAnalyzed(sessionID)
	w.sessions.RecordResearch(sessionID, d.Query)
	if w.bus != nil {
		w.bus.Emit(events.ResearchTriggered, d)
	}
	return d
}

// ResetCooldown clears sessionId's cooldown, the documented client API
// escape hatch.
func (w *Watcher) ResetCooldown(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.cooldowns, sessionID)
}

func (w *Watcher) cooldownActive(sessionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	last, ok := w.cooldowns[sessionID]
	if !ok {
		return false
	}
	return time.Since(last) < time.Duration(w.cfg.SessionCooldownMs)*time.Millisecond
}

// admitHourly checks (and, if commit is true, records) a trigger against
// the rolling-hour budget using a sliding timestamp window.
func (w *Watcher) admitHourly(commit bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := time.Now().Add(-time.Hour)
	kept := w.hourlyHits[:0]
	for _, t := range w.hourlyHits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.hourlyHits = kept
	if len(w.hourlyHits) >= w.cfg.MaxResearchPerHour {
		return false
	}
	if commit {
		w.hourlyHits = append(w.hourlyHits, time.Now())
	}
	return true
}

func buildWatcherPrompt(ctx session.Context) string {
	var b strings.Builder
	b.WriteString("Decide whether autonomous research would help this coding session.\n")
	fmt.Fprintf(&b, "Current task: %s\n", ctx.CurrentTask)
	fmt.Fprintf(&b, "Topics: %s\n", strings.Join(ctx.Topics, ", "))
	fmt.Fprintf(&b, "Stuck: %v\n", ctx.Stuck)
	if len(ctx.RecentErrors) > 0 {
		fmt.Fprintf(&b, "Recent errors:\n- %s\n", strings.Join(ctx.RecentErrors, "\n- "))
	}
	if len(ctx.ResearchHistory) > 0 {
		fmt.Fprintf(&b, "Prior research this session: %s\n", strings.Join(ctx.ResearchHistory, "; "))
	}
	if len(ctx.RecentMessages) > 0 {
		fmt.Fprintf(&b, "Recent activity:\n- %s\n", strings.Join(ctx.RecentMessages, "\n- "))
	}
	b.WriteString(`
Respond with a single JSON object embedded in your reply:
{"shouldResearch": true|false, "query": "...", "researchType": "error|stuck|unknown_api|proactive|direct", "confidence": 0.0, "priority": 1, "reason": "...", "alternativeHint": "...", "blockedBy": "..."}
`)
	return b.String()
}

var errorLineRe = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\berror\b`),
	regexp.MustCompile(`(?i)\bexception\b`),
	regexp.MustCompile(`(?i)\btraceback\b`),
	regexp.MustCompile(`(?i)\bpanic:`),
	regexp.MustCompile(`(?i)\bundefined\b`),
	regexp.MustCompile(`(?i)\bnot found\b`),
}

func firstErrorMatch(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		for _, re := range errorLineRe {
			if re.MatchString(line) {
				return strings.TrimSpace(line), true
			}
		}
	}
	return "", false
}

var fillerWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "in": {}, "on": {}, "at": {},
	"to": {}, "for": {}, "of": {}, "with": {}, "is": {}, "was": {}, "error": {},
}

// queryFromError compresses an error line into a short search query by
// stripping boilerplate and keeping the distinctive keywords.
func queryFromError(line string) string {
	words := strings.Fields(strings.ToLower(line))
	var kept []string
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if len(w) < 3 {
			continue
		}
		if _, skip := fillerWords[w]; skip {
			continue
		}
		kept = append(kept, w)
		if len(kept) >= 6 {
			break
		}
	}
	if len(kept) == 0 {
		return line
	}
	return strings.Join(kept, " ")
}
