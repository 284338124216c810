// Package evaluate measures match-oracle quality against labeled pairs and
// compares it with a rule-based baseline.
package evaluate

import "math"

// Metrics are binary classification scores for merge predictions. Ratios
// are rounded to four decimals; an undefined ratio (zero denominator) is 0.
type Metrics struct {
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1Score        float64 `json:"f1_score"`
	Accuracy       float64 `json:"accuracy"`
	TruePositives  int     `json:"true_positives"`
	TrueNegatives  int     `json:"true_negatives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Total          int     `json:"total_predictions"`
	AvgConfidence  float64 `json:"avg_confidence"`
}

// Compute scores predictions against truth. confidences may be nil.
func Compute(truth, pred []bool, confidences []float64) Metrics {
	var m Metrics
	for i := range truth {
		switch {
		case truth[i] && pred[i]:
			m.TruePositives++
		case !truth[i] && !pred[i]:
			m.TrueNegatives++
		case !truth[i] && pred[i]:
			m.FalsePositives++
		default:
			m.FalseNegatives++
		}
	}
	m.Total = len(truth)

	m.Precision = ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
	m.Recall = ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
	m.Accuracy = ratio(m.TruePositives+m.TrueNegatives, m.Total)
	if p, r := m.Precision, m.Recall; p+r > 0 {
		m.F1Score = 2 * p * r / (p + r)
	}

	if len(confidences) > 0 {
		sum := 0.0
		for _, c := range confidences {
			sum += c
		}
		m.AvgConfidence = sum / float64(len(confidences))
	}

	m.Precision = round4(m.Precision)
	m.Recall = round4(m.Recall)
	m.F1Score = round4(m.F1Score)
	m.Accuracy = round4(m.Accuracy)
	m.AvgConfidence = round4(m.AvgConfidence)
	return m
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}
