package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sells-group/contact-resolver/internal/model"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\\n?(.*?)```")

// extractJSON pulls the JSON payload out of a model response. A fenced
// block wins; otherwise the first array or object that parses is taken,
// running to the last matching closer. Bracketed prose ahead of the payload
// is skipped.
func extractJSON(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	t := strings.TrimSpace(text)
	first := ""
	for start := 0; start < len(t); start++ {
		if t[start] != '[' && t[start] != '{' {
			continue
		}
		candidate := spanFrom(t, start)
		if json.Valid([]byte(candidate)) {
			return candidate
		}
		if first == "" {
			first = candidate
		}
	}
	if first == "" {
		return t
	}
	return first
}

func spanFrom(t string, start int) string {
	closer := byte('}')
	if t[start] == '[' {
		closer = ']'
	}
	if end := strings.LastIndexByte(t, closer); end > start {
		return t[start : end+1]
	}
	return t[start:]
}

type rawDecision struct {
	ShouldMerge     *bool    `json:"should_merge"`
	Confidence      *float64 `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	EvidenceFor     []string `json:"evidence_for"`
	EvidenceAgainst []string `json:"evidence_against"`
}

// ParseDecisions converts a model response into exactly want decisions.
// The payload may be an array or, for a single pair, a bare object.
func ParseDecisions(text string, want int) ([]model.MatchDecision, error) {
	payload := extractJSON(text)
	if payload == "" {
		return nil, &ParseError{Reason: "empty response", Raw: text}
	}

	var raws []rawDecision
	trimmed := bytes.TrimSpace([]byte(payload))
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, &ParseError{Reason: "invalid JSON array", Raw: text, Err: err}
		}
	case '{':
		var one rawDecision
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, &ParseError{Reason: "invalid JSON object", Raw: text, Err: err}
		}
		raws = []rawDecision{one}
	default:
		return nil, &ParseError{Reason: "no JSON payload", Raw: text}
	}

	if len(raws) != want {
		return nil, &ParseError{
			Reason: fmt.Sprintf("expected %d decision(s), got %d", want, len(raws)),
			Raw:    text,
		}
	}

	out := make([]model.MatchDecision, len(raws))
	for i, r := range raws {
		if r.ShouldMerge == nil {
			return nil, &ParseError{Reason: fmt.Sprintf("decision %d: missing should_merge", i+1), Raw: text}
		}
		if r.Confidence == nil {
			return nil, &ParseError{Reason: fmt.Sprintf("decision %d: missing confidence", i+1), Raw: text}
		}
		out[i] = model.MatchDecision{
			ShouldMerge:     *r.ShouldMerge,
			Confidence:      *r.Confidence,
			Reasoning:       r.Reasoning,
			EvidenceFor:     r.EvidenceFor,
			EvidenceAgainst: r.EvidenceAgainst,
		}
	}
	return out, nil
}
