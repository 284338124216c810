// Package scan generates candidate pairs within each block, asks the match
// oracle about them in fixed-size batches, and keeps the pairs it accepts.
package scan

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/contact-resolver/internal/blocking"
	"github.com/sells-group/contact-resolver/internal/model"
	"github.com/sells-group/contact-resolver/internal/oracle"
	"github.com/sells-group/contact-resolver/internal/resilience"
)

const (
	// DefaultBatchSize is the number of pairs sent to the oracle per call.
	DefaultBatchSize = 6
	// DefaultThreshold is the minimum confidence for a merge decision to be
	// accepted.
	DefaultThreshold = 0.7
	// DefaultConcurrency is the number of oracle batches in flight at once.
	DefaultConcurrency = 1
)

// NicknameChecker reports whether two given names are known variants.
// *oracle.Rules implements it.
type NicknameChecker interface {
	IsNickname(a, b string) bool
}

// Scanner drives the oracle over every intra-block pair.
type Scanner struct {
	oracle      oracle.Oracle
	batchSize   int
	threshold   float64
	concurrency int
	nicknames   NicknameChecker
	maxAttempts int
	runID       string
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithBatchSize sets the number of pairs per oracle call.
func WithBatchSize(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithThreshold sets the minimum confidence for an accepted merge.
func WithThreshold(t float64) Option {
	return func(s *Scanner) { s.threshold = t }
}

// WithConcurrency sets how many batches may be in flight at once.
func WithConcurrency(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithNicknames enables the given-name audit on accepted pairs.
func WithNicknames(n NicknameChecker) Option {
	return func(s *Scanner) { s.nicknames = n }
}

// WithMaxAttempts records the oracle retry budget on failure entries.
func WithMaxAttempts(n int) Option {
	return func(s *Scanner) { s.maxAttempts = n }
}

// WithRunID tags failure entries with a run id.
func WithRunID(id string) Option {
	return func(s *Scanner) { s.runID = id }
}

// New creates a Scanner over o.
func New(o oracle.Oracle, opts ...Option) *Scanner {
	s := &Scanner{
		oracle:      o,
		batchSize:   DefaultBatchSize,
		threshold:   DefaultThreshold,
		concurrency: DefaultConcurrency,
		maxAttempts: 1,
	}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

// PairDecision is the oracle's decision for one resolved pair.
type PairDecision struct {
	AID      string              `json:"a_id"`
	BID      string              `json:"b_id"`
	Batch    int                 `json:"batch"`
	Decision model.MatchDecision `json:"decision"`
}

// Warning flags an accepted pair whose given names look unrelated. The pair
// stays accepted.
type Warning struct {
	AID     string `json:"a_id"`
	BID     string `json:"b_id"`
	NameA   string `json:"name_a"`
	NameB   string `json:"name_b"`
	Message string `json:"message"`
}

// Result is the outcome of a scan.
type Result struct {
	Pairs       []PairDecision        `json:"pairs"`
	Accepted    []model.DuplicatePair `json:"accepted"`
	Warnings    []Warning             `json:"warnings,omitempty"`
	Batches     int                   `json:"batches"`
	Failed      int                   `json:"failed"`
	Interrupted bool                  `json:"interrupted"`

	failures []resilience.FailedComparison
}

// Failures returns one dead-letter entry per pair the oracle could not
// decide, in pair order.
func (r *Result) Failures() []resilience.FailedComparison {
	return r.failures
}

type batchSlot struct {
	decisions []model.MatchDecision
	err       error
	resolved  bool
}

// Scan evaluates every intra-block pair. A failed batch degrades only its
// own pairs. When ctx is cancelled, batches not yet started are skipped and
// the result is marked interrupted; no error is returned for that.
func (s *Scanner) Scan(ctx context.Context, blocks *blocking.Blocks) (*Result, error) {
	pairs := blocks.Pairs()
	batches := chunk(pairs, s.batchSize)
	slots := make([]batchSlot, len(batches))

	log := zap.L().With(
		zap.Int("blocks", blocks.Len()),
		zap.Int("pairs", len(pairs)),
		zap.Int("batches", len(batches)),
		zap.Int("concurrency", s.concurrency),
	)
	log.Info("scan: starting")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, batch := range batches {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil //nolint:nilerr // cancelled; leave the batch unresolved
			}
			decisions, err := s.oracle.Decide(gctx, batch)
			if err != nil && gctx.Err() != nil {
				return nil //nolint:nilerr // cancelled mid-call; the batch did not resolve
			}
			if len(decisions) != len(batch) {
				decisions = oracle.Degrade(len(batch), err)
			}
			slots[i] = batchSlot{decisions: decisions, err: err, resolved: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{}
	for i, slot := range slots {
		if !slot.resolved {
			res.Interrupted = true
			continue
		}
		res.Batches++
		for j, d := range slot.decisions {
			p := batches[i][j]
			aID, bID := p.IDs()
			res.Pairs = append(res.Pairs, PairDecision{AID: aID, BID: bID, Batch: i, Decision: d})

			if d.Failed {
				res.Failed++
				res.failures = append(res.failures, s.failure(aID, bID, i, slot.err, d))
				continue
			}
			if !d.Accepts(s.threshold) {
				continue
			}
			res.Accepted = append(res.Accepted, model.DuplicatePair{AID: aID, BID: bID, Confidence: d.Confidence})
			if w, ok := s.audit(p); ok {
				log.Warn("scan: suspicious merge",
					zap.String("a_id", w.AID), zap.String("b_id", w.BID),
					zap.String("name_a", w.NameA), zap.String("name_b", w.NameB))
				res.Warnings = append(res.Warnings, w)
			}
		}
	}
	if res.Interrupted {
		log.Warn("scan: interrupted", zap.Int("resolved_batches", res.Batches))
	}

	log.Info("scan: complete",
		zap.Int("accepted", len(res.Accepted)),
		zap.Int("failed", res.Failed),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

func (s *Scanner) failure(aID, bID string, batch int, err error, d model.MatchDecision) resilience.FailedComparison {
	if err == nil {
		err = errors.New(d.Reasoning)
	}
	f := resilience.NewFailedComparison(aID, bID, batch, err, s.maxAttempts)
	f.RunID = s.runID
	var ce *oracle.CallError
	if errors.As(err, &ce) {
		f.Attempts = ce.Attempts
	} else {
		f.Attempts = 1
	}
	return f
}

// audit flags accepted pairs whose given names differ and are neither a
// prefix (initial) of one another nor a known nickname pair.
func (s *Scanner) audit(p model.Pair) (Warning, bool) {
	a, b := givenName(p.A), givenName(p.B)
	if a == "" || b == "" || a == b {
		return Warning{}, false
	}
	if strings.HasPrefix(a, b) || strings.HasPrefix(b, a) {
		return Warning{}, false
	}
	if s.nicknames != nil && s.nicknames.IsNickname(a, b) {
		return Warning{}, false
	}
	aID, bID := p.IDs()
	return Warning{
		AID:     aID,
		BID:     bID,
		NameA:   a,
		NameB:   b,
		Message: "accepted merge with different first names",
	}, true
}

// givenName returns the lower-cased primary given name: first_name, else the
// first token of full_name, with punctuation removed.
func givenName(r model.Record) string {
	name := strings.TrimSpace(r.String(model.FieldFirstName))
	if name == "" {
		fields := strings.Fields(r.String(model.FieldFullName))
		if len(fields) == 0 {
			return ""
		}
		name = fields[0]
	}
	return strings.Map(func(c rune) rune {
		if unicode.IsLetter(c) {
			return unicode.ToLower(c)
		}
		return -1
	}, name)
}

func chunk(pairs []model.Pair, size int) [][]model.Pair {
	var out [][]model.Pair
	for start := 0; start < len(pairs); start += size {
		end := min(start+size, len(pairs))
		out = append(out, pairs[start:end])
	}
	return out
}
