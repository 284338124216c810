package model

import "github.com/rotisserie/eris"

// OracleUsage aggregates token consumption across a run.
type OracleUsage struct {
	Calls            int64   `json:"calls"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// Stats summarizes one deduplication run.
type Stats struct {
	RunID               string      `json:"run_id"`
	OriginalCount       int         `json:"original_count"`
	DuplicatePairsFound int         `json:"duplicate_pairs_found"`
	MergeGroups         int         `json:"merge_groups"`
	FinalCount          int         `json:"final_count"`
	Reduction           int         `json:"reduction"`
	ProcessingTime      string      `json:"processing_time"`
	ProcessingTimeMS    int64       `json:"processing_time_ms"`
	Blocks              int         `json:"blocks"`
	Comparisons         int         `json:"comparisons"`
	OracleBatches       int         `json:"oracle_batches"`
	FailedComparisons   int         `json:"failed_comparisons"`
	SuspiciousMerges    int         `json:"suspicious_merges"`
	SkippedPairs        int         `json:"skipped_pairs"`
	Interrupted         bool        `json:"interrupted"`
	OracleUsage         OracleUsage `json:"oracle_usage"`
}

// Validate checks that the counts are conserved: every merge group of size
// n removes n-1 records, and nothing else changes the count.
func (s *Stats) Validate(groupSizes []int) error {
	if s.OriginalCount < 0 || s.FinalCount < 0 {
		return eris.New("stats: negative record count")
	}
	if s.MergeGroups != len(groupSizes) {
		return eris.Errorf("stats: merge_groups %d != %d groups", s.MergeGroups, len(groupSizes))
	}
	expected := 0
	for _, n := range groupSizes {
		if n < 2 {
			return eris.Errorf("stats: merge group of size %d", n)
		}
		expected += n - 1
	}
	if s.Reduction != expected {
		return eris.Errorf("stats: reduction %d != sum of group sizes minus one (%d)", s.Reduction, expected)
	}
	if s.FinalCount != s.OriginalCount-s.Reduction {
		return eris.Errorf("stats: final_count %d != original_count %d - reduction %d",
			s.FinalCount, s.OriginalCount, s.Reduction)
	}
	return nil
}
