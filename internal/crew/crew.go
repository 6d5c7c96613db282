// Package crew runs the iterative research loop: plan, dispatch specialists,
// evaluate, repeat until complete or the iteration budget is spent, then
// synthesize a final answer. The plan -> act -> evaluate shape is
// generalized from a single-pass chat turn into a multi-iteration research
// crew.
package crew

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-research-crew/internal/assessor"
	"go-research-crew/internal/config"
	"go-research-crew/internal/coordinator"
	"go-research-crew/internal/events"
	"go-research-crew/internal/specialist"
	"go-research-crew/internal/store"
)

// Store is the subset of store.Store the crew needs.
type Store interface {
	FindRelatedFindings(query string, limit int) ([]store.Finding, error)
	SaveFinding(f *store.Finding, sessionID, projectPath string) error
	EmbedFinding(f *store.Finding) error
}

// MemoryBridge hands a final finding to the external long-term memory sink;
// failure here is logged and never fails the research call.
type MemoryBridge interface {
	Inject(ctx context.Context, f *store.Finding) error
}

// Request is one research() call's input.
type Request struct {
	Directive string
	Depth     store.Depth
	// MaxIterations overrides the depth/default iteration budget. Nil means
	// unset (fall through to the depth map or the configured default); an
	// explicit 0 short-circuits Explore to an empty result, distinct from
	// "unset" in a way a plain int can't express.
	MaxIterations *int
	SessionID     string
	ProjectPath   string
}

// Result is the final answer handed back to the caller.
type Result struct {
	ID              string
	Summary         string
	KeyFindings     []string
	Sources         []store.Source
	Confidence      float64
	Iterations      int
	EstimatedTokens int
	Duration        time.Duration
	Pivot           *coordinator.Pivot
}

// Crew wires a coordinator and a specialist registry into the iterative loop.
type Crew struct {
	coordinator *coordinator.Coordinator
	registry    *specialist.Registry
	store       Store
	bridge      MemoryBridge
	bus         *events.Bus
	cfg         config.CrewConfig
	assessor    *assessor.Assessor
}

// New wires a crew. asr is optional: a nil assessor leaves sources unscored,
// which callers without a reliability table configured can rely on.
func New(co *coordinator.Coordinator, registry *specialist.Registry, st Store, bridge MemoryBridge, bus *events.Bus, cfg config.CrewConfig, asr *assessor.Assessor) *Crew {
	return &Crew{coordinator: co, registry: registry, store: st, bridge: bridge, bus: bus, cfg: cfg, assessor: asr}
}

// iterationBudget resolves the max-iterations knob: an explicit override
// (including an explicit 0) wins, else the depth map, else the configured
// default.
func (c *Crew) iterationBudget(req Request) int {
	if req.MaxIterations != nil {
		return *req.MaxIterations
	}
	switch req.Depth {
	case store.DepthQuick:
		if c.cfg.DepthIterations.Quick > 0 {
			return c.cfg.DepthIterations.Quick
		}
	case store.DepthMedium:
		if c.cfg.DepthIterations.Medium > 0 {
			return c.cfg.DepthIterations.Medium
		}
	case store.DepthDeep:
		if c.cfg.DepthIterations.Deep > 0 {
			return c.cfg.DepthIterations.Deep
		}
	}
	if c.cfg.DefaultMaxIterations > 0 {
		return c.cfg.DefaultMaxIterations
	}
	return 5
}

// Explore runs the full plan/dispatch/evaluate/synthesize loop and persists
// its final answer.
func (c *Crew) Explore(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	maxIter := c.iterationBudget(req)
	if maxIter == 0 {
		return &Result{ID: uuid.NewString(), Iterations: 0, Confidence: 0, Duration: time.Since(start)}, nil
	}

	prior := c.loadPriorFindings(req.Directive)
	available := specialistNames(c.registry.Available())
	plan := c.coordinator.Plan(ctx, req.Directive, "", prior, available)

	var likes []coordinator.FindingLike
	var pivot *coordinator.Pivot
	iterationsUsed := 0
	steps := plan.Steps

	for iter := 1; iter <= maxIter; iter++ {
		if len(steps) == 0 {
			break
		}
		iterationsUsed = iter
		c.emit(events.IterationStart, iter)

		frags := c.dispatch(ctx, steps)
		for _, f := range frags {
			likes = append(likes, fragmentToLike(f))
			c.persistFragment(f, req)
		}
		c.emit(events.IterationComplete, iter)

		eval := c.coordinator.Evaluate(ctx, req.Directive, likes)
		if eval.Pivot != nil {
			pivot = eval.Pivot
			c.emit(events.PivotDetected, eval.Pivot)
		}
		if eval.Complete || eval.Confidence > coordinator.CompletionThreshold || len(eval.NextSteps) == 0 {
			break
		}
		steps = eval.NextSteps
	}

	synth := c.coordinator.Synthesize(ctx, req.Directive, likes, pivot)
	sources := c.topSources(likes, 10, req.Directive)

	finding := &store.Finding{
		ID:         uuid.NewString(),
		Query:      req.Directive,
		Summary:    synth.Summary,
		KeyPoints:  store.KeyPointsOf(synth.KeyPoints),
		Confidence: synth.Confidence,
		Depth:      req.Depth,
		CreatedAt:  time.Now(),
		Sources:    sources,
	}
	if err := c.store.SaveFinding(finding, req.SessionID, req.ProjectPath); err != nil {
		log.Printf("[Crew] failed to persist final finding: %v", err)
	} else if err := c.store.EmbedFinding(finding); err != nil {
		log.Printf("[Crew] failed to embed final finding: %v", err)
	}
	if c.bridge != nil {
		if err := c.bridge.Inject(ctx, finding); err != nil {
			log.Printf("[Crew] memory bridge injection failed (non-fatal): %v", err)
		}
	}

	result := &Result{
		ID:              finding.ID,
		Summary:         synth.Summary,
		KeyFindings:     synth.KeyPoints,
		Sources:         sources,
		Confidence:      synth.Confidence,
		Iterations:      iterationsUsed,
		EstimatedTokens: estimateTokens(synth.Summary, synth.KeyPoints),
		Duration:        time.Since(start),
		Pivot:           pivot,
	}
	c.emit(events.ResearchComplete, result)
	return result, nil
}

func (c *Crew) emit(topic string, payload any) {
	if c.bus != nil {
		c.bus.Emit(topic, payload)
	}
}

func (c *Crew) loadPriorFindings(directive string) []coordinator.PriorFinding {
	findings, err := c.store.FindRelatedFindings(directive, 5)
	if err != nil {
		log.Printf("[Crew] prior-finding lookup failed: %v", err)
		return nil
	}
	out := make([]coordinator.PriorFinding, 0, len(findings))
	for _, f := range findings {
		out = append(out, coordinator.PriorFinding{
			Query:      f.Query,
			Summary:    f.Summary,
			AgeHours:   time.Since(f.CreatedAt).Hours(),
			Confidence: f.Confidence,
		})
	}
	return out
}

// dispatch runs one iteration's steps, sequentially by priority or
// concurrently depending on cfg.ParallelSpecialists.
func (c *Crew) dispatch(ctx context.Context, steps []coordinator.Step) []*specialist.Fragment {
	if c.cfg.ParallelSpecialists {
		return c.dispatchParallel(ctx, steps)
	}
	return c.dispatchSequential(ctx, steps)
}

func (c *Crew) dispatchSequential(ctx context.Context, steps []coordinator.Step) []*specialist.Fragment {
	ordered := append([]coordinator.Step(nil), steps...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })
	var out []*specialist.Fragment
	for _, st := range ordered {
		if f := c.runStep(ctx, st); f != nil {
			out = append(out, f)
		}
	}
	return out
}

func (c *Crew) dispatchParallel(ctx context.Context, steps []coordinator.Step) []*specialist.Fragment {
	var wg sync.WaitGroup
	slots := make([]*specialist.Fragment, len(steps))
	for i, st := range steps {
		wg.Add(1)
		go func(i int, st coordinator.Step) {
			defer wg.Done()
			slots[i] = c.runStep(ctx, st)
		}(i, st)
	}
	wg.Wait()

	var out []*specialist.Fragment
	for _, f := range slots {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

func (c *Crew) runStep(ctx context.Context, st coordinator.Step) *specialist.Fragment {
	sp, ok := c.registry.Get(st.Specialist)
	if !ok {
		log.Printf("[Crew] unknown specialist %q in plan step, skipping", st.Specialist)
		return nil
	}
	c.emit(events.SpecialistDispatch, st)
	frag, err := sp.Execute(ctx, specialist.Request{
		Query:      st.Query,
		MaxResults: 8,
		ScrapeTop:  3,
		Timeout:    20 * time.Second,
	})
	if err != nil {
		log.Printf("[Crew] specialist %s execute failed: %v", st.Specialist, err)
		return nil
	}
	c.emit(events.SpecialistComplete, frag)
	return frag
}

// persistFragment saves one specialist's iteration output as a low-confidence
// partial finding.
func (c *Crew) persistFragment(f *specialist.Fragment, req Request) {
	finding := &store.Finding{
		ID:         uuid.NewString(),
		Query:      req.Directive,
		Summary:    fmt.Sprintf("partial: %s specialist fragment", f.Specialist),
		Confidence: 0.2,
		Depth:      req.Depth,
		CreatedAt:  f.Timestamp,
		Sources:    fragmentSources(f),
	}
	if err := c.store.SaveFinding(finding, req.SessionID, req.ProjectPath); err != nil {
		log.Printf("[Crew] failed to persist partial finding for %s: %v", f.Specialist, err)
	}
}

func fragmentToLike(f *specialist.Fragment) coordinator.FindingLike {
	like := coordinator.FindingLike{Specialist: f.Specialist}
	for _, r := range f.Results {
		like.Results = append(like.Results, coordinator.ResultLike{Title: r.Title, URL: r.URL, Snippet: r.Snippet, Relevance: r.Relevance})
	}
	for _, sc := range f.Scraped {
		like.Scraped = append(like.Scraped, coordinator.ScrapedLike{URL: sc.URL, Title: sc.Title, Content: sc.Content})
	}
	return like
}

func fragmentSources(f *specialist.Fragment) []store.Source {
	out := make([]store.Source, 0, len(f.Results))
	for _, r := range f.Results {
		out = append(out, store.Source{Title: r.Title, URL: r.URL, Snippet: r.Snippet, Relevance: r.Relevance})
	}
	return out
}

// topSources dedupes by normalized URL keeping the highest-relevance
// representative, sorted descending and capped at limit. When the crew has
// an assessor configured, each surviving source is annotated with a
// reliability score against topic.
func (c *Crew) topSources(likes []coordinator.FindingLike, limit int, topic string) []store.Source {
	out := topSources(likes, limit)
	if c.assessor == nil {
		return out
	}
	for i := range out {
		assessment := c.assessor.Assess(assessor.Candidate{URL: out[i].URL, Title: out[i].Title, Snippet: out[i].Snippet}, topic)
		out[i].Quality = assessment.Reliability
		out[i].HasQuality = true
	}
	return out
}

// topSources dedupes by normalized URL keeping the highest-relevance
// representative, sorted descending and capped at limit.
func topSources(likes []coordinator.FindingLike, limit int) []store.Source {
	best := make(map[string]store.Source)
	for _, like := range likes {
		for _, r := range like.Results {
			key := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(r.URL)), "/")
			if existing, ok := best[key]; !ok || r.Relevance > existing.Relevance {
				best[key] = store.Source{Title: r.Title, URL: r.URL, Snippet: r.Snippet, Relevance: r.Relevance}
			}
		}
	}
	out := make([]store.Source, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func estimateTokens(summary string, keyPoints []string) int {
	total := len(summary)
	for _, k := range keyPoints {
		total += len(k)
	}
	return int(math.Ceil(float64(total) / 4.0))
}

func specialistNames(specs []*specialist.Specialist) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Name()
	}
	return out
}
