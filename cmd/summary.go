package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/sells-group/contact-resolver/internal/pipeline"
)

// printSummary writes a human-readable run report to w.
func printSummary(w io.Writer, r *pipeline.Result) {
	s := r.Stats
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(w, "\n%s\n\n", cyan("=== Deduplication Summary ==="))

	statusColor := color.New(color.FgGreen)
	status := "complete"
	switch {
	case s.Interrupted:
		statusColor = color.New(color.FgRed, color.Bold)
		status = "interrupted (partial)"
	case s.FailedComparisons > 0:
		statusColor = color.New(color.FgYellow)
		status = "complete with failures"
	}
	fmt.Fprintf(w, "Run %s: %s\n\n", s.RunID, statusColor.Sprint(status))

	fmt.Fprintf(w, "%s\n", yellow("Records:"))
	fmt.Fprintf(w, "  Input:        %d\n", s.OriginalCount)
	fmt.Fprintf(w, "  Output:       %d\n", s.FinalCount)
	fmt.Fprintf(w, "  Reduction:    %d (%.1f%%)\n", s.Reduction, percent(s.Reduction, s.OriginalCount))
	fmt.Fprintf(w, "  Merge groups: %d\n\n", s.MergeGroups)

	fmt.Fprintf(w, "%s\n", yellow("Comparisons:"))
	fmt.Fprintf(w, "  Blocks:       %d\n", s.Blocks)
	fmt.Fprintf(w, "  Pairs:        %d in %d batches\n", s.Comparisons, s.OracleBatches)
	fmt.Fprintf(w, "  Matches:      %d\n", s.DuplicatePairsFound)
	if s.FailedComparisons > 0 {
		retryable := 0
		for _, f := range r.Failures() {
			if f.CanRetry() {
				retryable++
			}
		}
		fmt.Fprintf(w, "  Failed:       %s (%d retryable)\n",
			color.New(color.FgRed).Sprint(s.FailedComparisons), retryable)
	}
	if s.SuspiciousMerges > 0 {
		fmt.Fprintf(w, "  Suspicious:   %s\n", color.New(color.FgYellow).Sprint(s.SuspiciousMerges))
	}
	fmt.Fprintln(w)

	u := s.OracleUsage
	fmt.Fprintf(w, "%s\n", yellow("Oracle:"))
	fmt.Fprintf(w, "  Calls:        %d\n", u.Calls)
	fmt.Fprintf(w, "  Tokens:       %d in / %d out\n", u.InputTokens, u.OutputTokens)
	fmt.Fprintf(w, "  Est. cost:    $%.4f\n", u.EstimatedCostUSD)
	fmt.Fprintf(w, "  Elapsed:      %s\n\n", s.ProcessingTime)
}

func percent(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d) * 100
}
