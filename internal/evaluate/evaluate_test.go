package evaluate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-resolver/internal/model"
	"github.com/sells-group/contact-resolver/internal/oracle"
)

func TestCompute(t *testing.T) {
	truth := []bool{true, true, true, false, false}
	pred := []bool{true, true, false, true, false}
	m := Compute(truth, pred, []float64{0.9, 0.8, 0.1, 0.7, 0.5})

	assert.Equal(t, 2, m.TruePositives)
	assert.Equal(t, 1, m.FalseNegatives)
	assert.Equal(t, 1, m.FalsePositives)
	assert.Equal(t, 1, m.TrueNegatives)
	assert.Equal(t, 5, m.Total)
	assert.Equal(t, 0.6667, m.Precision)
	assert.Equal(t, 0.6667, m.Recall)
	assert.Equal(t, 0.6667, m.F1Score)
	assert.Equal(t, 0.6, m.Accuracy)
	assert.Equal(t, 0.6, m.AvgConfidence)
}

func TestCompute_ZeroDivision(t *testing.T) {
	m := Compute([]bool{false, false}, []bool{false, false}, nil)
	assert.Zero(t, m.Precision)
	assert.Zero(t, m.Recall)
	assert.Zero(t, m.F1Score)
	assert.Equal(t, 1.0, m.Accuracy)

	empty := Compute(nil, nil, nil)
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.Accuracy)
}

var contacts = []model.Record{
	{"id": "1", "full_name": "Robert Smith", "company": "Acme"},
	{"id": "2", "full_name": "robert smith", "company": "ACME"},
	{"id": "3", "full_name": "Bob Smith", "company": "Acme"},
	{"id": "4", "full_name": "Michelle Chen", "company": "Acme"},
}

func TestBaseline(t *testing.T) {
	labels := []Label{
		{AID: "1", BID: "2", IsMatch: true},
		{AID: "1", BID: "3", IsMatch: true},
		{AID: "1", BID: "4", IsMatch: false},
		{AID: "1", BID: "ghost", IsMatch: true},
	}
	m := Baseline(contacts, labels)
	assert.Equal(t, 3, m.Total)
	assert.Equal(t, 1, m.TruePositives)
	assert.Equal(t, 1, m.FalseNegatives)
	assert.Equal(t, 1, m.TrueNegatives)
	assert.Equal(t, 1.0, m.Precision)
	assert.Equal(t, 0.5, m.Recall)
}

// nameOracle merges pairs whose last names match, with the given confidence.
func nameOracle(calls *[]int) oracle.Func {
	return func(_ context.Context, pairs []model.Pair) ([]model.MatchDecision, error) {
		*calls = append(*calls, len(pairs))
		out := make([]model.MatchDecision, len(pairs))
		for i, p := range pairs {
			a := strings.Fields(p.A.String("full_name"))
			b := strings.Fields(p.B.String("full_name"))
			same := strings.EqualFold(a[len(a)-1], b[len(b)-1])
			out[i] = model.MatchDecision{ShouldMerge: same, Confidence: 0.8, Reasoning: "last name"}
		}
		return out, nil
	}
}

func TestEvaluate(t *testing.T) {
	labels := []Label{
		{AID: "1", BID: "2", IsMatch: true},
		{AID: "1", BID: "3", IsMatch: true},
		{AID: "3", BID: "4", IsMatch: false},
		{AID: "2", BID: "4", IsMatch: true},
		{AID: "1", BID: "missing", IsMatch: true},
	}
	var calls []int
	report, err := New(nameOracle(&calls), WithBatchSize(2)).Evaluate(context.Background(), contacts, labels)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2}, calls)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "missing", report.Skipped[0].BID)

	m := report.Metrics
	assert.Equal(t, 4, m.Total)
	assert.Equal(t, 2, m.TruePositives)
	assert.Equal(t, 1, m.TrueNegatives)
	assert.Equal(t, 1, m.FalseNegatives)

	require.Len(t, report.Errors, 1)
	e := report.Errors[0]
	assert.Equal(t, "2", e.AID)
	assert.Equal(t, "4", e.BID)
	assert.Equal(t, "robert smith", e.EntityA.String("full_name"))
	assert.Equal(t, "Michelle Chen", e.EntityB.String("full_name"))
	assert.True(t, e.GroundTruth)
	assert.False(t, e.Prediction)

	assert.Equal(t, round4(m.F1Score-report.Baseline.F1Score), report.Improvement)
}

func TestEvaluate_DegradedBatch(t *testing.T) {
	failing := oracle.Func(func(_ context.Context, pairs []model.Pair) ([]model.MatchDecision, error) {
		err := errors.New("boom")
		return oracle.Degrade(len(pairs), err), err
	})
	labels := []Label{{AID: "1", BID: "2", IsMatch: true}}

	report, err := New(failing).Evaluate(context.Background(), contacts, labels)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Metrics.FalseNegatives)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "Error: boom", report.Errors[0].Reasoning)
}

func TestEvaluate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls []int
	_, err := New(nameOracle(&calls)).Evaluate(ctx, contacts, []Label{{AID: "1", BID: "2"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, calls)
}

func TestEvaluate_Sample(t *testing.T) {
	labels := []Label{
		{AID: "1", BID: "2"}, {AID: "1", BID: "3"}, {AID: "1", BID: "4"},
		{AID: "2", BID: "3"}, {AID: "2", BID: "4"}, {AID: "3", BID: "4"},
	}
	var calls []int
	report, err := New(nameOracle(&calls), WithSample(3, 42)).Evaluate(context.Background(), contacts, labels)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Metrics.Total)
}

func TestReport_TopErrors(t *testing.T) {
	r := &Report{Errors: []ErrorCase{
		{AID: "a", Confidence: 0.2},
		{AID: "b", Confidence: 0.9},
		{AID: "c", Confidence: 0.5},
	}}
	top := r.TopErrors(2)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].AID)
	assert.Equal(t, "c", top[1].AID)
	assert.Len(t, r.TopErrors(10), 3)
	assert.Equal(t, "a", r.Errors[0].AID, "original order untouched")
}

func TestDecodeLabels(t *testing.T) {
	labels, err := DecodeLabels(strings.NewReader(`[{"entity_a_id":"1","entity_b_id":"2","is_match":true}]`))
	require.NoError(t, err)
	assert.Equal(t, []Label{{AID: "1", BID: "2", IsMatch: true}}, labels)

	_, err = DecodeLabels(strings.NewReader(`{`))
	assert.Error(t, err)
}
