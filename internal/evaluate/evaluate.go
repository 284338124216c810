package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-resolver/internal/model"
	"github.com/sells-group/contact-resolver/internal/oracle"
)

// DefaultBatchSize is the number of labeled pairs per oracle call.
const DefaultBatchSize = 6

// Label is a ground-truth judgement on a pair of contacts.
type Label struct {
	AID     string `json:"entity_a_id"`
	BID     string `json:"entity_b_id"`
	IsMatch bool   `json:"is_match"`
}

// DecodeLabels reads a JSON array of labels.
func DecodeLabels(r io.Reader) ([]Label, error) {
	var labels []Label
	if err := json.NewDecoder(r).Decode(&labels); err != nil {
		return nil, eris.Wrap(err, "evaluate: decode labels")
	}
	return labels, nil
}

// MissingContactError reports a label naming a contact that is not in the
// contact set. The label is skipped.
type MissingContactError struct {
	AID string `json:"entity_a_id"`
	BID string `json:"entity_b_id"`
}

func (e *MissingContactError) Error() string {
	return fmt.Sprintf("evaluate: missing contact for pair %s, %s", e.AID, e.BID)
}

// ErrorCase is a labeled pair the oracle got wrong.
type ErrorCase struct {
	AID         string       `json:"entity_a_id"`
	BID         string       `json:"entity_b_id"`
	EntityA     model.Record `json:"entity_a"`
	EntityB     model.Record `json:"entity_b"`
	GroundTruth bool         `json:"ground_truth"`
	Prediction  bool         `json:"prediction"`
	Confidence  float64      `json:"confidence"`
	Reasoning   string       `json:"reasoning"`
}

// Report is the outcome of an evaluation.
type Report struct {
	Metrics     Metrics               `json:"metrics"`
	Baseline    Metrics               `json:"baseline"`
	Improvement float64               `json:"f1_improvement"`
	Errors      []ErrorCase           `json:"errors"`
	Skipped     []MissingContactError `json:"skipped,omitempty"`
	Failed      int                   `json:"failed_comparisons"`
}

// TopErrors returns the n most confident mistakes, highest confidence first.
func (r *Report) TopErrors(n int) []ErrorCase {
	sorted := append([]ErrorCase(nil), r.Errors...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })
	if n >= 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// Evaluator runs the oracle over labeled pairs.
type Evaluator struct {
	oracle    oracle.Oracle
	batchSize int
	sample    int
	rng       *rand.Rand
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithBatchSize sets the number of pairs per oracle call.
func WithBatchSize(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithSample evaluates a random subset of n labels drawn with seed.
func WithSample(n int, seed int64) Option {
	return func(e *Evaluator) {
		e.sample = n
		e.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // sampling, not security
	}
}

// New creates an Evaluator.
func New(o oracle.Oracle, opts ...Option) *Evaluator {
	e := &Evaluator{oracle: o, batchSize: DefaultBatchSize}
	for _, fn := range opts {
		fn(e)
	}
	return e
}

// Evaluate scores the oracle on labels and includes the baseline for
// comparison. Failed comparisons count as non-merge predictions.
func (e *Evaluator) Evaluate(ctx context.Context, contacts []model.Record, labels []Label) (*Report, error) {
	labels = e.sampled(labels)
	lookup := index(contacts)
	log := zap.L().With(zap.Int("labels", len(labels)))
	log.Info("evaluate: starting")

	type evalPair struct {
		label Label
		pair  model.Pair
	}
	var pairs []evalPair
	report := &Report{Errors: []ErrorCase{}}
	for _, l := range labels {
		a, okA := lookup[l.AID]
		b, okB := lookup[l.BID]
		if !okA || !okB {
			miss := MissingContactError{AID: l.AID, BID: l.BID}
			log.Warn("evaluate: skipping label", zap.Error(&miss))
			report.Skipped = append(report.Skipped, miss)
			continue
		}
		pairs = append(pairs, evalPair{label: l, pair: model.Pair{A: a, B: b}})
	}

	truth := make([]bool, 0, len(pairs))
	pred := make([]bool, 0, len(pairs))
	conf := make([]float64, 0, len(pairs))
	for start := 0; start < len(pairs); start += e.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "evaluate: cancelled")
		}
		end := min(start+e.batchSize, len(pairs))
		batch := pairs[start:end]
		modelPairs := make([]model.Pair, len(batch))
		for i, p := range batch {
			modelPairs[i] = p.pair
		}

		decisions, err := e.oracle.Decide(ctx, modelPairs)
		if err != nil {
			log.Warn("evaluate: batch degraded", zap.Int("batch_start", start), zap.Error(err))
		}
		if len(decisions) != len(batch) {
			decisions = oracle.Degrade(len(batch), err)
		}

		for i, d := range decisions {
			l := batch[i].label
			if d.Failed {
				report.Failed++
			}
			truth = append(truth, l.IsMatch)
			pred = append(pred, d.ShouldMerge)
			conf = append(conf, d.Confidence)
			if l.IsMatch != d.ShouldMerge {
				report.Errors = append(report.Errors, ErrorCase{
					AID:         l.AID,
					BID:         l.BID,
					EntityA:     batch[i].pair.A,
					EntityB:     batch[i].pair.B,
					GroundTruth: l.IsMatch,
					Prediction:  d.ShouldMerge,
					Confidence:  d.Confidence,
					Reasoning:   d.Reasoning,
				})
			}
		}
		if batchNum := start/e.batchSize + 1; batchNum%5 == 0 {
			log.Info("evaluate: progress", zap.Int("evaluated", end), zap.Int("total", len(pairs)))
		}
	}

	report.Metrics = Compute(truth, pred, conf)
	report.Baseline = Baseline(contacts, labels)
	report.Improvement = round4(report.Metrics.F1Score - report.Baseline.F1Score)

	log.Info("evaluate: complete",
		zap.Float64("f1", report.Metrics.F1Score),
		zap.Float64("baseline_f1", report.Baseline.F1Score),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

func (e *Evaluator) sampled(labels []Label) []Label {
	if e.sample <= 0 || e.sample >= len(labels) || e.rng == nil {
		return labels
	}
	idx := e.rng.Perm(len(labels))[:e.sample]
	sort.Ints(idx)
	out := make([]Label, len(idx))
	for i, j := range idx {
		out[i] = labels[j]
	}
	return out
}

// Baseline scores the rule "same lower-cased full_name and same lower-cased
// company" on labels. Labels naming missing contacts are skipped.
func Baseline(contacts []model.Record, labels []Label) Metrics {
	lookup := index(contacts)
	var truth, pred []bool
	for _, l := range labels {
		a, okA := lookup[l.AID]
		b, okB := lookup[l.BID]
		if !okA || !okB {
			continue
		}
		nameMatch := strings.EqualFold(a.String(model.FieldFullName), b.String(model.FieldFullName))
		companyMatch := strings.EqualFold(a.String(model.FieldCompany), b.String(model.FieldCompany))
		truth = append(truth, l.IsMatch)
		pred = append(pred, nameMatch && companyMatch)
	}
	return Compute(truth, pred, nil)
}

func index(contacts []model.Record) map[string]model.Record {
	m := make(map[string]model.Record, len(contacts))
	for _, c := range contacts {
		m[c.ID()] = c
	}
	return m
}
