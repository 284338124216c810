// Package oracle asks a language model whether candidate contact pairs
// describe the same person.
package oracle

import (
	"context"

	"github.com/sells-group/contact-resolver/internal/model"
)

// Oracle decides candidate pairs in batches. Decide always returns exactly
// one decision per pair, in input order. When the batch could not be decided
// every decision is a degraded error decision and the returned error says
// why; callers treat that error as informational.
type Oracle interface {
	Decide(ctx context.Context, pairs []model.Pair) ([]model.MatchDecision, error)
}

// Func adapts a plain function to the Oracle interface.
type Func func(ctx context.Context, pairs []model.Pair) ([]model.MatchDecision, error)

// Decide calls f.
func (f Func) Decide(ctx context.Context, pairs []model.Pair) ([]model.MatchDecision, error) {
	return f(ctx, pairs)
}

// Degrade returns one error decision per pair.
func Degrade(n int, err error) []model.MatchDecision {
	out := make([]model.MatchDecision, n)
	for i := range out {
		out[i] = model.ErrorDecision(err)
	}
	return out
}
