package crew

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"go-research-crew/internal/assessor"
	"go-research-crew/internal/config"
	"go-research-crew/internal/coordinator"
	"go-research-crew/internal/llmgateway"
	"go-research-crew/internal/specialist"
	"go-research-crew/internal/store"
)

// scriptedLLM replies differently depending on which coordinator prompt it
// receives, identified by the labeled field unique to that prompt's grammar.
type scriptedLLM struct{}

func (scriptedLLM) Query(ctx context.Context, prompt string, opts llmgateway.Options) (llmgateway.Result, error) {
	switch {
	case strings.Contains(prompt, "KEY_FINDINGS:"):
		return llmgateway.Result{Text: "SUMMARY: Context cancellation propagates to child contexts.\nKEY_FINDINGS:\n- use context.WithCancel\n- check ctx.Done()\nCONFIDENCE: 0.8\n"}, nil
	case strings.Contains(prompt, "NEXT_STEPS:"):
		return llmgateway.Result{Text: "COMPLETE: true\nCONFIDENCE: 0.9\nREASONING: enough signal\nNEXT_STEPS:\nPIVOT: none\n"}, nil
	case strings.Contains(prompt, "STEPS:"):
		return llmgateway.Result{Text: "STRATEGY: search web\nRATIONALE: quick lookup\nSTEPS:\n- specialist:web query:\"golang context cancellation\" priority:5\n"}, nil
	}
	return llmgateway.Result{}, fmt.Errorf("unexpected prompt: %s", prompt)
}

type stubSearchTool struct{}

func (stubSearchTool) Name() string               { return "web-search" }
func (stubSearchTool) Description() string        { return "stub" }
func (stubSearchTool) RequiredCredential() string { return "" }
func (stubSearchTool) Search(ctx context.Context, query string, maxResults int) ([]specialist.Result, error) {
	return []specialist.Result{
		{Title: "context package docs", URL: "https://pkg.go.dev/context", Snippet: "cancellation signals", Source: "web-search", Relevance: 0.9},
	}, nil
}

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, target string) (specialist.ScrapedContent, error) {
	return specialist.ScrapedContent{URL: target, Title: "context", Content: "context cancellation body"}, nil
}

type stubURLCache struct{}

func (stubURLCache) GetCachedURL(url string) (*store.CachedURL, bool) { return nil, false }
func (stubURLCache) CacheURL(url, content, title string) error        { return nil }

type stubStore struct {
	saved   []*store.Finding
	embedded int
}

func (s *stubStore) FindRelatedFindings(query string, limit int) ([]store.Finding, error) {
	return nil, nil
}
func (s *stubStore) SaveFinding(f *store.Finding, sessionID, projectPath string) error {
	s.saved = append(s.saved, f)
	return nil
}
func (s *stubStore) EmbedFinding(f *store.Finding) error {
	s.embedded++
	return nil
}

type stubBridge struct{ injected int }

func (b *stubBridge) Inject(ctx context.Context, f *store.Finding) error {
	b.injected++
	return nil
}

func newTestCrew() (*Crew, *stubStore, *stubBridge) {
	reg := specialist.NewRegistry()
	sp := specialist.New("web", "web", []specialist.Tool{stubSearchTool{}}, map[string]string{}, stubFetcher{}, stubURLCache{})
	reg.Register(sp)

	co := coordinator.New(scriptedLLM{})
	st := &stubStore{}
	bridge := &stubBridge{}
	cfg := config.CrewConfig{DefaultMaxIterations: 5, DepthIterations: config.DepthIterations{Quick: 1, Medium: 2, Deep: 4}}
	return New(co, reg, st, bridge, nil, cfg, nil), st, bridge
}

func intPtr(n int) *int { return &n }

func TestIterationBudget_ExplicitOverrideWins(t *testing.T) {
	c, _, _ := newTestCrew()
	got := c.iterationBudget(Request{MaxIterations: intPtr(3), Depth: store.DepthDeep})
	if got != 3 {
		t.Errorf("expected explicit override 3, got %d", got)
	}
}

func TestIterationBudget_ExplicitZeroIsHonoredNotUnset(t *testing.T) {
	c, _, _ := newTestCrew()
	got := c.iterationBudget(Request{MaxIterations: intPtr(0), Depth: store.DepthDeep})
	if got != 0 {
		t.Errorf("expected an explicit 0 to be honored rather than falling through to depth/default, got %d", got)
	}
}

func TestExplore_MaxIterationsZeroReturnsEmptyResult(t *testing.T) {
	c, _, _ := newTestCrew()
	result, err := c.Explore(context.Background(), Request{Directive: "how does grpc streaming work", MaxIterations: intPtr(0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Iterations != 0 || result.Confidence != 0 {
		t.Errorf("expected zero iterations and zero confidence for MaxIterations=0, got %+v", result)
	}
	if result.Summary != "" || len(result.KeyFindings) != 0 {
		t.Errorf("expected an empty synthesis, got %+v", result)
	}
}

func TestIterationBudget_FallsBackToDepthThenDefault(t *testing.T) {
	c, _, _ := newTestCrew()
	if got := c.iterationBudget(Request{Depth: store.DepthQuick}); got != 1 {
		t.Errorf("expected quick depth budget 1, got %d", got)
	}
	if got := c.iterationBudget(Request{Depth: store.DepthDeep}); got != 4 {
		t.Errorf("expected deep depth budget 4, got %d", got)
	}
	if got := c.iterationBudget(Request{}); got != 5 {
		t.Errorf("expected default budget 5, got %d", got)
	}
}

func TestExplore_CompletesInOneIteration(t *testing.T) {
	c, st, bridge := newTestCrew()
	result, err := c.Explore(context.Background(), Request{Directive: "how does context cancellation work in go", Depth: store.DepthQuick, SessionID: "s1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Iterations != 1 {
		t.Errorf("expected 1 iteration (evaluate reports complete), got %d", result.Iterations)
	}
	if result.Summary == "" {
		t.Errorf("expected a non-empty summary")
	}
	if len(result.Sources) != 1 {
		t.Errorf("expected 1 deduped source, got %d: %+v", len(result.Sources), result.Sources)
	}
	if result.EstimatedTokens <= 0 {
		t.Errorf("expected a positive token estimate")
	}
	if len(st.saved) != 2 {
		t.Errorf("expected 2 persisted findings (1 partial fragment + 1 final), got %d", len(st.saved))
	}
	if st.embedded != 1 {
		t.Errorf("expected the final finding to be embedded once, got %d", st.embedded)
	}
	if bridge.injected != 1 {
		t.Errorf("expected the memory bridge to be handed the final finding once, got %d", bridge.injected)
	}
}

func TestTopSources_DedupesKeepingHighestRelevance(t *testing.T) {
	likes := []coordinator.FindingLike{
		{Specialist: "web", Results: []coordinator.ResultLike{
			{Title: "a", URL: "https://example.com/x/", Relevance: 0.4},
		}},
		{Specialist: "code", Results: []coordinator.ResultLike{
			{Title: "b", URL: "https://EXAMPLE.com/x", Relevance: 0.9},
		}},
	}
	out := topSources(likes, 10)
	if len(out) != 1 {
		t.Fatalf("expected normalized URLs to dedupe to 1 source, got %d", len(out))
	}
	if out[0].Relevance != 0.9 {
		t.Errorf("expected the higher-relevance representative to win, got %.2f", out[0].Relevance)
	}
}

type stubFeedbackStore struct{}

func (stubFeedbackStore) UpdateSourceQuality(domain, topic string, positive bool) error { return nil }
func (stubFeedbackStore) ReliabilityFor(domain, topic string) (float64, bool)           { return 0, false }

func TestTopSources_AnnotatesQualityWhenAssessorConfigured(t *testing.T) {
	c, _, _ := newTestCrew()
	c.assessor = assessor.New(stubFeedbackStore{})

	likes := []coordinator.FindingLike{
		{Specialist: "web", Results: []coordinator.ResultLike{
			{Title: "Go context package", URL: "https://pkg.go.dev/context", Snippet: "cancellation signals across goroutines", Relevance: 0.8},
		}},
	}
	out := c.topSources(likes, 10, "context")
	if len(out) != 1 {
		t.Fatalf("expected 1 source, got %d", len(out))
	}
	if !out[0].HasQuality {
		t.Fatalf("expected HasQuality to be set once an assessor is configured")
	}
	if out[0].Quality <= 0 {
		t.Errorf("expected a positive reliability score for a known-good domain, got %.2f", out[0].Quality)
	}
}

func TestTopSources_NoAssessorLeavesQualityUnset(t *testing.T) {
	c, _, _ := newTestCrew()
	likes := []coordinator.FindingLike{
		{Specialist: "web", Results: []coordinator.ResultLike{
			{Title: "a", URL: "https://example.com/x", Relevance: 0.5},
		}},
	}
	out := c.topSources(likes, 10, "context")
	if out[0].HasQuality {
		t.Errorf("expected HasQuality to remain false with no assessor configured")
	}
}
