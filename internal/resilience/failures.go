package resilience

import (
	"time"

	"github.com/google/uuid"
)

// FailedComparison records a candidate pair the oracle could not decide.
// A run's failures form a dead-letter report that can be re-submitted.
type FailedComparison struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id,omitempty"`
	AID         string    `json:"a_id"`
	BID         string    `json:"b_id"`
	Batch       int       `json:"batch"`
	Error       string    `json:"error"`
	ErrorType   string    `json:"error_type"` // "transient" or "permanent"
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	FailedAt    time.Time `json:"failed_at"`
}

// NewFailedComparison builds an entry for the pair (aID, bID) from the batch
// error that degraded it.
func NewFailedComparison(aID, bID string, batch int, err error, maxAttempts int) FailedComparison {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return FailedComparison{
		ID:          uuid.NewString(),
		AID:         aID,
		BID:         bID,
		Batch:       batch,
		Error:       msg,
		ErrorType:   ClassifyError(err),
		Attempts:    maxAttempts,
		MaxAttempts: maxAttempts,
		FailedAt:    time.Now().UTC(),
	}
}

// FailureFilter selects entries from a dead-letter report.
type FailureFilter struct {
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	Limit     int    `json:"limit,omitempty"`
}

// Apply returns the entries matching f, in order.
func (f FailureFilter) Apply(entries []FailedComparison) []FailedComparison {
	var out []FailedComparison
	for _, e := range entries {
		if f.ErrorType != "" && e.ErrorType != f.ErrorType {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// CanRetry reports whether re-submitting the comparison may succeed.
func (e *FailedComparison) CanRetry() bool {
	return e.ErrorType == "transient"
}
