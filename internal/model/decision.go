package model

// MatchDecision is the oracle's verdict on one candidate pair.
// Confidence is passed through unclamped.
type MatchDecision struct {
	ShouldMerge     bool     `json:"should_merge"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	EvidenceFor     []string `json:"evidence_for,omitempty"`
	EvidenceAgainst []string `json:"evidence_against,omitempty"`
	Failed          bool     `json:"failed,omitempty"`
}

// ErrorDecision is the degraded decision recorded when the oracle could not
// produce a verdict for a pair.
func ErrorDecision(err error) MatchDecision {
	detail := "unknown error"
	if err != nil {
		detail = err.Error()
	}
	return MatchDecision{
		ShouldMerge: false,
		Confidence:  0.0,
		Reasoning:   "Error: " + detail,
		Failed:      true,
	}
}

// Accepts reports whether the decision clears the acceptance threshold.
func (d MatchDecision) Accepts(threshold float64) bool {
	return d.ShouldMerge && d.Confidence >= threshold
}

// Pair is an unordered candidate pair drawn from one block.
type Pair struct {
	A Record
	B Record
}

// IDs returns the ids of both records.
func (p Pair) IDs() (string, string) {
	return p.A.ID(), p.B.ID()
}

// DuplicatePair is an accepted match between two record ids.
type DuplicatePair struct {
	AID        string  `json:"a_id"`
	BID        string  `json:"b_id"`
	Confidence float64 `json:"confidence"`
}

// MergeGroup is the set of record ids in one connected component.
type MergeGroup []string
