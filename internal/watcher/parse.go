package watcher

import (
	"encoding/json"
	"strings"
)

// extractJSONObject returns the first balanced {...} span in s: the
// watcher's reply is a JSON object embedded within free text.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

type rawDecision struct {
	ShouldResearch  bool    `json:"shouldResearch"`
	Query           string  `json:"query"`
	ResearchType    string  `json:"researchType"`
	Confidence      float64 `json:"confidence"`
	Priority        int     `json:"priority"`
	Reason          string  `json:"reason"`
	AlternativeHint string  `json:"alternativeHint"`
	BlockedBy       string  `json:"blockedBy"`
}

// parseDecision extracts and decodes the watcher's JSON reply, clamping
// numeric fields and defaulting unknown research types to proactive: parsing
// is permissive, with missing fields defaulted and numeric fields clamped.
func parseDecision(text string) (Decision, bool) {
	span := extractJSONObject(text)
	if span == "" {
		return Decision{}, false
	}
	var raw rawDecision
	if err := json.Unmarshal([]byte(span), &raw); err != nil {
		return Decision{}, false
	}

	rt := ResearchType(raw.ResearchType)
	switch rt {
	case TypeError, TypeStuck, TypeUnknownAPI, TypeProactive, TypeDirect:
	default:
		rt = TypeProactive
	}

	conf := raw.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	priority := raw.Priority
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}

	return Decision{
		ShouldResearch:  raw.ShouldResearch,
		Query:           raw.Query,
		ResearchType:    rt,
		Confidence:      conf,
		Priority:        priority,
		Reason:          raw.Reason,
		AlternativeHint: raw.AlternativeHint,
		BlockedBy:       raw.BlockedBy,
	}, true
}
