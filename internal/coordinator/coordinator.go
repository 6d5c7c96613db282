package coordinator

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"go-research-crew/internal/llmgateway"
)

// LLM is the subset of llmgateway.Gateway the coordinator needs; kept as an
// interface so tests can fake the model.
type LLM interface {
	Query(ctx context.Context, prompt string, opts llmgateway.Options) (llmgateway.Result, error)
}

// Coordinator implements plan/evaluate/synthesize.
type Coordinator struct {
	llm LLM
}

func New(llm LLM) *Coordinator {
	return &Coordinator{llm: llm}
}

// Plan calls the LLM for a strategy and step list, falling back to one step
// per available specialist at decreasing priority on any failure.
func (c *Coordinator) Plan(ctx context.Context, directive, freeContext string, prior []PriorFinding, available []string) Plan {
	prompt := buildPlanPrompt(directive, freeContext, prior, available)
	result, err := c.llm.Query(ctx, prompt, llmgateway.Options{Priority: llmgateway.PriorityCritical})
	if err != nil {
		log.Printf("[Coordinator] plan LLM call failed, using fallback plan: %v", err)
		return fallbackPlan(available)
	}
	plan, ok := parsePlan(result.Text)
	if !ok {
		log.Printf("[Coordinator] plan reply failed to parse, using fallback plan")
		return fallbackPlan(available)
	}
	return plan
}

func buildPlanPrompt(directive, freeContext string, prior []PriorFinding, available []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are planning research steps for this directive:\n%s\n", directive)
	if freeContext != "" {
		fmt.Fprintf(&b, "Context: %s\n", freeContext)
	}
	if len(prior) > 0 {
		b.WriteString("Prior knowledge:\n")
		for i, p := range prior {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "- %q (summary: %s, age: %.1fh, confidence: %.2f)\n", p.Query, p.Summary, p.AgeHours, p.Confidence)
		}
	}
	fmt.Fprintf(&b, "Available specialists: %s\n", strings.Join(available, ", "))
	b.WriteString(`
Respond with exactly this labeled format:
STRATEGY: <one-line strategy>
RATIONALE: <why this strategy>
STEPS:
- specialist:<name> query:"<search text>" priority:<1-10>
`)
	return b.String()
}

func parsePlan(text string) (Plan, bool) {
	text = stripFences(text)
	fields := extractLabeledFields(text)
	steps := parseSteps(fields["STEPS"])
	if fields["STRATEGY"] == "" && len(steps) == 0 {
		return Plan{}, false
	}
	return Plan{Strategy: fields["STRATEGY"], Rationale: fields["RATIONALE"], Steps: steps}, true
}

// fallbackPlan issues one step per available specialist at decreasing
// priority, the degraded mode used when the LLM plan call fails.
func fallbackPlan(available []string) Plan {
	steps := make([]Step, 0, len(available))
	priority := 10
	for _, name := range available {
		steps = append(steps, Step{Specialist: name, Query: "", Priority: priority})
		if priority > 1 {
			priority--
		}
	}
	return Plan{Strategy: "fallback: dispatch all available specialists", Steps: steps}
}

// Evaluate judges whether research is complete, short-circuiting without an
// LLM call when relevance is already high.
func (c *Coordinator) Evaluate(ctx context.Context, directive string, findings []FindingLike) Evaluation {
	if len(findings) >= 2 && meanRelevance(findings) > CompletionThreshold {
		return Evaluation{Complete: true, Confidence: CompletionThreshold}
	}

	prompt := buildEvaluatePrompt(directive, findings)
	result, err := c.llm.Query(ctx, prompt, llmgateway.Options{Priority: llmgateway.PriorityCritical})
	if err != nil {
		log.Printf("[Coordinator] evaluate LLM call failed, treating as complete: %v", err)
		return Evaluation{Complete: true}
	}
	eval, ok := parseEvaluation(result.Text)
	if !ok {
		log.Printf("[Coordinator] evaluate reply failed to parse, treating as complete")
		return Evaluation{Complete: true}
	}
	return eval
}

func meanRelevance(findings []FindingLike) float64 {
	var sum float64
	var n int
	for _, f := range findings {
		for _, r := range f.Results {
			sum += r.Relevance
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func buildEvaluatePrompt(directive string, findings []FindingLike) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Directive: %s\n\nFindings so far:\n", directive)
	for _, f := range findings {
		fmt.Fprintf(&b, "[%s]\n", f.Specialist)
		for _, r := range f.Results {
			fmt.Fprintf(&b, "- %s (%s) relevance=%.2f\n", r.Title, r.URL, r.Relevance)
		}
	}
	b.WriteString(`
Judge whether this research is complete. Respond with exactly this format:
COMPLETE: <true|false>
CONFIDENCE: <0-1>
REASONING: <one line>
NEXT_STEPS:
- specialist:<name> query:"<search text>" priority:<1-10>
PIVOT: none | alternative: <text> reason: <text> urgency: <low|medium|high>
`)
	return b.String()
}

func parseEvaluation(text string) (Evaluation, bool) {
	text = stripFences(text)
	fields := extractLabeledFields(text)
	completeStr, ok := fields["COMPLETE"]
	if !ok {
		return Evaluation{}, false
	}
	return Evaluation{
		Complete:   strings.EqualFold(strings.TrimSpace(completeStr), "true"),
		Confidence: parseConfidence(fields["CONFIDENCE"], 0.5),
		Reasoning:  fields["REASONING"],
		NextSteps:  parseSteps(fields["NEXT_STEPS"]),
		Pivot:      parsePivot(fields["PIVOT"]),
	}, true
}

// Synthesize produces the final summary, falling back to a mechanical
// synthesis built from the top results when the LLM call or parse fails.
func (c *Coordinator) Synthesize(ctx context.Context, directive string, findings []FindingLike, pivot *Pivot) Synthesis {
	prompt := buildSynthesizePrompt(directive, findings, pivot)
	result, err := c.llm.Query(ctx, prompt, llmgateway.Options{Priority: llmgateway.PriorityCritical})
	if err != nil {
		log.Printf("[Coordinator] synthesize LLM call failed, using mechanical synthesis: %v", err)
		return mechanicalSynthesis(findings)
	}
	synth, ok := parseSynthesis(result.Text)
	if !ok {
		log.Printf("[Coordinator] synthesize reply failed to parse, using mechanical synthesis")
		return mechanicalSynthesis(findings)
	}
	return synth
}

func buildSynthesizePrompt(directive string, findings []FindingLike, pivot *Pivot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Directive: %s\n\nFindings:\n", directive)
	for _, f := range findings {
		fmt.Fprintf(&b, "[%s]\n", f.Specialist)
		for _, r := range f.Results {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", r.Title, r.Snippet, r.URL)
		}
		for i, sc := range f.Scraped {
			if i >= 2 {
				break
			}
			body := sc.Content
			if len(body) > 1500 {
				body = body[:1500]
			}
			fmt.Fprintf(&b, "  scraped %s: %s\n", sc.URL, body)
		}
	}
	if pivot != nil {
		fmt.Fprintf(&b, "\nA pivot was flagged: alternative=%q reason=%q urgency=%s\n", pivot.Alternative, pivot.Reason, pivot.Urgency)
	}
	b.WriteString(`
Respond with exactly this format:
SUMMARY: <2-4 sentence summary>
KEY_FINDINGS:
- <bullet>
- <bullet>
CONFIDENCE: <0-1>
`)
	return b.String()
}

func parseSynthesis(text string) (Synthesis, bool) {
	text = stripFences(text)
	fields := extractLabeledFields(text)
	if fields["SUMMARY"] == "" {
		return Synthesis{}, false
	}
	return Synthesis{
		Summary:    fields["SUMMARY"],
		KeyPoints:  parseBullets(fields["KEY_FINDINGS"]),
		Confidence: parseConfidence(fields["CONFIDENCE"], 0.3),
	}, true
}

// mechanicalSynthesis builds a degraded-mode result straight from the top
// results when the LLM is unavailable — confidence is capped low since no
// model has actually assessed completeness.
func mechanicalSynthesis(findings []FindingLike) Synthesis {
	var titles []string
	for _, f := range findings {
		for _, r := range f.Results {
			if len(titles) >= 8 {
				break
			}
			titles = append(titles, r.Title)
		}
	}
	if len(titles) == 0 {
		return Synthesis{Summary: "", KeyPoints: nil, Confidence: 0}
	}
	return Synthesis{
		Summary:    fmt.Sprintf("Found %d relevant source(s); LLM synthesis unavailable.", len(titles)),
		KeyPoints:  titles,
		Confidence: 0.3,
	}
}

var domainPatterns = map[string]*regexp.Regexp{
	"code": regexp.MustCompile(`(?i)\b(code|function|library|package|api|bug|error|stack ?trace|compile|syntax)\b`),
	"docs": regexp.MustCompile(`(?i)\b(docs?|documentation|spec|rfc|paper|standard|guide)\b`),
}

// SelectSpecialists implements the routing heuristic: keyword-regex
// match to domains, falling back to general-web, then to fanning out to
// everything available.
func SelectSpecialists(query string, available []string) []string {
	has := func(name string) bool {
		for _, a := range available {
			if a == name {
				return true
			}
		}
		return false
	}

	var matched []string
	for domain, re := range domainPatterns {
		if re.MatchString(query) && has(domain) {
			matched = append(matched, domain)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	if has("web") {
		return []string{"web"}
	}
	return available
}
