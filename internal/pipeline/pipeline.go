// Package pipeline sequences blocking, scanning, clustering, and merging
// into one deduplication run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-resolver/internal/blocking"
	"github.com/sells-group/contact-resolver/internal/cluster"
	"github.com/sells-group/contact-resolver/internal/merge"
	"github.com/sells-group/contact-resolver/internal/metrics"
	"github.com/sells-group/contact-resolver/internal/model"
	"github.com/sells-group/contact-resolver/internal/oracle"
	"github.com/sells-group/contact-resolver/internal/resilience"
	"github.com/sells-group/contact-resolver/internal/scan"
)

// Options are the run-level knobs.
type Options struct {
	ConfidenceThreshold float64
	BatchSize           int
	Concurrency         int
	StripLegalSuffixes  bool
	Nicknames           scan.NicknameChecker
	MaxAttempts         int
}

// DefaultOptions returns the stock pipeline settings.
func DefaultOptions() Options {
	return Options{
		ConfidenceThreshold: scan.DefaultThreshold,
		BatchSize:           scan.DefaultBatchSize,
		Concurrency:         scan.DefaultConcurrency,
	}
}

// MissingContactError reports an accepted pair naming a record that is not
// in the working set. The pair is skipped.
type MissingContactError struct {
	AID       string `json:"a_id"`
	BID       string `json:"b_id"`
	MissingID string `json:"missing_id"`
}

func (e *MissingContactError) Error() string {
	return fmt.Sprintf("pipeline: pair (%s, %s) references unknown contact %q", e.AID, e.BID, e.MissingID)
}

// PhaseResult times one stage of a run.
type PhaseResult struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
}

// Result is the output of a run.
type Result struct {
	RunID      string                `json:"run_id"`
	Entities   []*model.MergedEntity `json:"entities"`
	Singletons []model.Record        `json:"singletons"`
	Stats      model.Stats           `json:"stats"`
	Warnings   []scan.Warning        `json:"warnings,omitempty"`
	Skipped    []MissingContactError `json:"skipped,omitempty"`
	Phases     []PhaseResult         `json:"phases"`

	failures []resilience.FailedComparison
}

// Output returns merged entities in group order followed by untouched
// singleton records in input order.
func (r *Result) Output() []any {
	out := make([]any, 0, len(r.Entities)+len(r.Singletons))
	for _, e := range r.Entities {
		out = append(out, e)
	}
	for _, s := range r.Singletons {
		out = append(out, s)
	}
	return out
}

// Failures returns the comparisons the oracle could not decide.
func (r *Result) Failures() []resilience.FailedComparison {
	return r.failures
}

// usageReporter is implemented by oracles that account token usage.
type usageReporter interface {
	Usage() model.OracleUsage
}

// Pipeline runs deduplication against one oracle.
type Pipeline struct {
	oracle   oracle.Oracle
	opts     Options
	merger   *merge.Merger
	now      func() time.Time
	newRunID func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source for timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
		p.merger = merge.WithClock(now)
	}
}

// WithRunIDs overrides run id generation.
func WithRunIDs(fn func() string) Option {
	return func(p *Pipeline) { p.newRunID = fn }
}

// New creates a Pipeline.
func New(o oracle.Oracle, opts Options, options ...Option) *Pipeline {
	p := &Pipeline{
		oracle:   o,
		opts:     opts,
		merger:   merge.NewMerger(),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, fn := range options {
		fn(p)
	}
	return p
}

// Deduplicate runs the full pipeline over records. Invalid input (a record
// without an id, or a repeated id) is fatal. Oracle failures are not: they
// surface as failed comparisons and the affected pairs stay unmerged. A
// cancelled context yields a partial result marked interrupted.
func (p *Pipeline) Deduplicate(ctx context.Context, records []model.Record) (*Result, error) {
	runID := p.newRunID()
	log := zap.L().With(zap.String("run_id", runID), zap.Int("records", len(records)))
	log.Info("pipeline: starting deduplication")

	if err := model.ValidateRecords(records); err != nil {
		metrics.RunsTotal.WithLabelValues("invalid").Inc()
		return nil, eris.Wrap(err, "pipeline: validate input")
	}

	start := p.now()
	var usageBefore model.OracleUsage
	if u, ok := p.oracle.(usageReporter); ok {
		usageBefore = u.Usage()
	}

	result := &Result{RunID: runID}
	phase := func(name string, fn func() error) error {
		t := p.now()
		err := fn()
		d := p.now().Sub(t).Milliseconds()
		result.Phases = append(result.Phases, PhaseResult{Name: name, DurationMS: d})
		if err != nil {
			log.Error("pipeline: phase failed", zap.String("phase", name), zap.Int64("duration_ms", d), zap.Error(err))
			return err
		}
		log.Info("pipeline: phase complete", zap.String("phase", name), zap.Int64("duration_ms", d))
		return nil
	}

	// Blocking.
	var blocks *blocking.Blocks
	_ = phase("blocking", func() error {
		blocks = blocking.Block(records, blocking.WithLegalSuffixStripping(p.opts.StripLegalSuffixes))
		return nil
	})

	// Scanning.
	var scanned *scan.Result
	if err := phase("scan", func() error {
		var err error
		scanned, err = p.scanner(runID).Scan(ctx, blocks)
		return err
	}); err != nil {
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return nil, eris.Wrap(err, "pipeline: scan")
	}
	result.Warnings = scanned.Warnings
	result.failures = scanned.Failures()

	// Clustering.
	byID := make(map[string]model.Record, len(records))
	for _, r := range records {
		byID[r.ID()] = r
	}
	var groups []model.MergeGroup
	var accepted []model.DuplicatePair
	_ = phase("cluster", func() error {
		accepted, result.Skipped = p.checkPairs(scanned.Accepted, byID, log)
		groups = cluster.Components(cluster.EdgesFrom(accepted))
		return nil
	})

	// Merging.
	merged := make(map[string]bool)
	if err := phase("merge", func() error {
		for _, g := range groups {
			members := make([]model.Record, len(g))
			for i, id := range g {
				members[i] = byID[id]
				merged[id] = true
			}
			e, err := p.merger.Merge(members, "")
			if err != nil {
				return err
			}
			result.Entities = append(result.Entities, e)
		}
		return nil
	}); err != nil {
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return nil, eris.Wrap(err, "pipeline: merge")
	}
	for _, r := range records {
		if !merged[r.ID()] {
			result.Singletons = append(result.Singletons, r)
		}
	}

	elapsed := p.now().Sub(start)
	sizes := make([]int, len(groups))
	reduction := 0
	for i, g := range groups {
		sizes[i] = len(g)
		reduction += len(g) - 1
	}
	result.Stats = model.Stats{
		RunID:               runID,
		OriginalCount:       len(records),
		DuplicatePairsFound: len(accepted),
		MergeGroups:         len(groups),
		FinalCount:          len(result.Entities) + len(result.Singletons),
		Reduction:           len(records) - (len(result.Entities) + len(result.Singletons)),
		ProcessingTime:      elapsed.String(),
		ProcessingTimeMS:    elapsed.Milliseconds(),
		Blocks:              blocks.Len(),
		Comparisons:         len(scanned.Pairs),
		OracleBatches:       scanned.Batches,
		FailedComparisons:   scanned.Failed,
		SuspiciousMerges:    len(scanned.Warnings),
		SkippedPairs:        len(result.Skipped),
		Interrupted:         scanned.Interrupted,
	}
	if u, ok := p.oracle.(usageReporter); ok {
		after := u.Usage()
		result.Stats.OracleUsage = model.OracleUsage{
			Calls:            after.Calls - usageBefore.Calls,
			InputTokens:      after.InputTokens - usageBefore.InputTokens,
			OutputTokens:     after.OutputTokens - usageBefore.OutputTokens,
			EstimatedCostUSD: after.EstimatedCostUSD - usageBefore.EstimatedCostUSD,
		}
	}
	if err := result.Stats.Validate(sizes); err != nil {
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return nil, eris.Wrapf(err, "pipeline: inconsistent stats (expected reduction %d)", reduction)
	}

	status := "complete"
	if scanned.Interrupted {
		status = "interrupted"
	}
	metrics.RunsTotal.WithLabelValues(status).Inc()
	metrics.RecordsProcessedTotal.Add(float64(len(records)))
	metrics.RecordsMergedTotal.Add(float64(result.Stats.Reduction))
	metrics.SuspiciousMergesTotal.Add(float64(len(scanned.Warnings)))

	log.Info("pipeline: deduplication complete",
		zap.Int("merge_groups", result.Stats.MergeGroups),
		zap.Int("final_count", result.Stats.FinalCount),
		zap.Int("failed_comparisons", result.Stats.FailedComparisons),
		zap.Bool("interrupted", scanned.Interrupted),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

func (p *Pipeline) scanner(runID string) *scan.Scanner {
	opts := []scan.Option{
		scan.WithBatchSize(p.opts.BatchSize),
		scan.WithThreshold(p.opts.ConfidenceThreshold),
		scan.WithConcurrency(p.opts.Concurrency),
		scan.WithRunID(runID),
	}
	if p.opts.Nicknames != nil {
		opts = append(opts, scan.WithNicknames(p.opts.Nicknames))
	}
	if p.opts.MaxAttempts > 0 {
		opts = append(opts, scan.WithMaxAttempts(p.opts.MaxAttempts))
	}
	return scan.New(p.oracle, opts...)
}

// checkPairs drops accepted pairs that reference ids outside the working
// set, logging each one.
func (p *Pipeline) checkPairs(pairs []model.DuplicatePair, byID map[string]model.Record, log *zap.Logger) ([]model.DuplicatePair, []MissingContactError) {
	var kept []model.DuplicatePair
	var skipped []MissingContactError
	for _, pr := range pairs {
		missing := ""
		if _, ok := byID[pr.AID]; !ok {
			missing = pr.AID
		} else if _, ok := byID[pr.BID]; !ok {
			missing = pr.BID
		}
		if missing != "" {
			e := MissingContactError{AID: pr.AID, BID: pr.BID, MissingID: missing}
			log.Warn("pipeline: skipping pair", zap.Error(&e))
			skipped = append(skipped, e)
			continue
		}
		kept = append(kept, pr)
	}
	return kept, skipped
}
