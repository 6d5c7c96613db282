package coordinator

import (
	"context"
	"errors"
	"testing"

	"go-research-crew/internal/llmgateway"
)

type stubLLM struct {
	text string
	err  error
}

func (s stubLLM) Query(ctx context.Context, prompt string, opts llmgateway.Options) (llmgateway.Result, error) {
	if s.err != nil {
		return llmgateway.Result{}, s.err
	}
	return llmgateway.Result{Text: s.text}, nil
}

func TestPlan_ParsesLabeledSteps(t *testing.T) {
	reply := "STRATEGY: search broadly\nRATIONALE: need coverage\nSTEPS:\n- specialist:web query:\"fastapi rate limiting\" priority:9\n- specialist:code query:\"slowapi\" priority:7\n"
	c := New(stubLLM{text: reply})
	plan := c.Plan(context.Background(), "how to rate limit fastapi", "", nil, []string{"web", "code"})
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d: %+v", len(plan.Steps), plan.Steps)
	}
	if plan.Steps[0].Specialist != "web" || plan.Steps[0].Priority != 9 {
		t.Errorf("unexpected first step: %+v", plan.Steps[0])
	}
}

func TestPlan_FallsBackOnLLMError(t *testing.T) {
	c := New(stubLLM{err: errors.New("gateway down")})
	plan := c.Plan(context.Background(), "x", "", nil, []string{"web", "code", "docs"})
	if len(plan.Steps) != 3 {
		t.Fatalf("expected one fallback step per specialist, got %d", len(plan.Steps))
	}
	if plan.Steps[0].Priority < plan.Steps[1].Priority {
		t.Errorf("expected decreasing priority, got %+v", plan.Steps)
	}
}

func TestEvaluate_EarlyExitOnHighRelevance(t *testing.T) {
	c := New(stubLLM{err: errors.New("should not be called")})
	findings := []FindingLike{
		{Specialist: "web", Results: []ResultLike{{Relevance: 0.9}, {Relevance: 0.95}}},
		{Specialist: "code", Results: []ResultLike{{Relevance: 0.92}}},
	}
	eval := c.Evaluate(context.Background(), "x", findings)
	if !eval.Complete {
		t.Errorf("expected early-exit complete=true, got %+v", eval)
	}
}

func TestEvaluate_ParsesPivot(t *testing.T) {
	reply := "COMPLETE: false\nCONFIDENCE: 0.5\nREASONING: still gaps\nNEXT_STEPS:\n- specialist:web query:\"alt\" priority:5\nPIVOT: alternative: use library Y reason: simpler integration urgency: high\n"
	c := New(stubLLM{text: reply})
	eval := c.Evaluate(context.Background(), "x", nil)
	if eval.Complete {
		t.Errorf("expected complete=false")
	}
	if eval.Pivot == nil || eval.Pivot.Urgency != "high" {
		t.Errorf("expected a parsed high-urgency pivot, got %+v", eval.Pivot)
	}
}

func TestEvaluate_ParseFailureTreatedAsComplete(t *testing.T) {
	c := New(stubLLM{text: "garbage, no labeled fields here"})
	eval := c.Evaluate(context.Background(), "x", nil)
	if !eval.Complete {
		t.Errorf("expected parse failure to be treated as complete")
	}
}

func TestSynthesize_MechanicalFallbackOnError(t *testing.T) {
	c := New(stubLLM{err: errors.New("down")})
	findings := []FindingLike{{Specialist: "web", Results: []ResultLike{{Title: "A"}, {Title: "B"}}}}
	synth := c.Synthesize(context.Background(), "x", findings, nil)
	if synth.Summary == "" {
		t.Errorf("expected non-empty mechanical summary")
	}
	if synth.Confidence > 0.4 {
		t.Errorf("expected fallback confidence <= 0.4, got %f", synth.Confidence)
	}
}

func TestSelectSpecialists_RoutesByKeyword(t *testing.T) {
	available := []string{"web", "code", "docs"}
	if got := SelectSpecialists("fix this stack trace in my function", available); len(got) != 1 || got[0] != "code" {
		t.Errorf("expected code routing, got %v", got)
	}
	if got := SelectSpecialists("what is the weather like today", available); len(got) != 1 || got[0] != "web" {
		t.Errorf("expected fallback to web, got %v", got)
	}
}

func TestSelectSpecialists_FansOutWhenNoWebAvailable(t *testing.T) {
	available := []string{"code", "docs"}
	got := SelectSpecialists("what is the weather like today", available)
	if len(got) != 2 {
		t.Errorf("expected fan-out to all available, got %v", got)
	}
}
