package oracle

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-resolver/internal/cost"
	"github.com/sells-group/contact-resolver/internal/model"
	"github.com/sells-group/contact-resolver/internal/resilience"
)

// mockCompleter implements Completer for testing.
type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, p Prompt) (Completion, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(Completion), args.Error(1)
}

func (m *mockCompleter) Provider() string { return cost.ProviderAnthropic }
func (m *mockCompleter) Model() string    { return "haiku" }

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func testPairs(n int) []model.Pair {
	pairs := make([]model.Pair, n)
	for i := range pairs {
		pairs[i] = model.Pair{
			A: model.Record{"id": "a" + string(rune('0'+i)), "full_name": "Robert Smith"},
			B: model.Record{"id": "b" + string(rune('0'+i)), "full_name": "Bob Smith"},
		}
	}
	return pairs
}

func TestAdapter_Decide_Success(t *testing.T) {
	mc := new(mockCompleter)
	mc.On("Complete", mock.Anything, mock.MatchedBy(func(p Prompt) bool {
		return p.Temperature == 0.1 &&
			strings.Contains(p.System, "data integrity auditor") &&
			strings.Contains(p.User, "Target Pair 2:") &&
			p.MaxTokens == baseTokenAllow+2*tokensPerPair
	})).Return(Completion{
		Text:  "```json\n[{\"should_merge\":true,\"confidence\":0.95,\"reasoning\":\"nickname\"},{\"should_merge\":false,\"confidence\":0.9,\"reasoning\":\"no\"}]\n```",
		Usage: cost.Usage{Input: 1000000, Output: 100000},
	}, nil).Once()

	a := New(mc, WithRetry(fastRetry()), WithCalculator(cost.NewCalculator(cost.Rates{
		Anthropic: map[string]cost.ModelRate{"haiku": {Input: 0.80, Output: 4.00}},
	})))
	got, err := a.Decide(context.Background(), testPairs(2))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].ShouldMerge)
	assert.False(t, got[1].ShouldMerge)

	u := a.Usage()
	assert.Equal(t, int64(1), u.Calls)
	assert.Equal(t, int64(1000000), u.InputTokens)
	assert.InDelta(t, 1.20, u.EstimatedCostUSD, 1e-9)
	mc.AssertExpectations(t)
}

func TestAdapter_Decide_Empty(t *testing.T) {
	mc := new(mockCompleter)
	got, err := New(mc).Decide(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, got)
	mc.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestAdapter_Decide_RetriesThenSucceeds(t *testing.T) {
	mc := new(mockCompleter)
	mc.On("Complete", mock.Anything, mock.Anything).
		Return(Completion{}, resilience.NewTransientError(errors.New("overloaded"), 529)).Twice()
	mc.On("Complete", mock.Anything, mock.Anything).
		Return(Completion{Text: `[{"should_merge":false,"confidence":0.99}]`}, nil).Once()

	got, err := New(mc, WithRetry(fastRetry())).Decide(context.Background(), testPairs(1))
	require.NoError(t, err)
	assert.False(t, got[0].Failed)
	mc.AssertNumberOfCalls(t, "Complete", 3)
}

func TestAdapter_Decide_CallErrorDegrades(t *testing.T) {
	mc := new(mockCompleter)
	mc.On("Complete", mock.Anything, mock.Anything).
		Return(Completion{}, errors.New("connection refused"))

	got, err := New(mc, WithRetry(fastRetry())).Decide(context.Background(), testPairs(3))
	require.Error(t, err)

	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 3, ce.Attempts)
	assert.Equal(t, cost.ProviderAnthropic, ce.Provider)

	require.Len(t, got, 3)
	for _, d := range got {
		assert.False(t, d.ShouldMerge)
		assert.Equal(t, 0.0, d.Confidence)
		assert.True(t, strings.HasPrefix(d.Reasoning, "Error: "))
		assert.True(t, d.Failed)
	}
	mc.AssertNumberOfCalls(t, "Complete", 3)
}

func TestAdapter_Decide_PermanentErrorNotRetried(t *testing.T) {
	mc := new(mockCompleter)
	mc.On("Complete", mock.Anything, mock.Anything).
		Return(Completion{}, resilience.NewPermanentError(errors.New("invalid x-api-key"), 401))

	_, err := New(mc, WithRetry(fastRetry())).Decide(context.Background(), testPairs(1))
	require.Error(t, err)
	mc.AssertNumberOfCalls(t, "Complete", 1)
}

func TestAdapter_Decide_ParseErrorDegrades(t *testing.T) {
	mc := new(mockCompleter)
	mc.On("Complete", mock.Anything, mock.Anything).
		Return(Completion{Text: `[{"should_merge":true,"confidence":0.9}]`}, nil).Once()

	a := New(mc, WithRetry(fastRetry()))
	got, err := a.Decide(context.Background(), testPairs(2))
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	require.Len(t, got, 2)
	assert.True(t, got[0].Failed)
	assert.Contains(t, got[1].Reasoning, "expected 2 decision(s), got 1")
	// Usage is still recorded for a completed but unusable call.
	assert.Equal(t, int64(1), a.Usage().Calls)
}

func TestAdapter_Decide_PerAttemptTimeout(t *testing.T) {
	mc := new(mockCompleter)
	mc.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(Completion{}, context.DeadlineExceeded)

	cfg := fastRetry()
	cfg.MaxAttempts = 2
	_, err := New(mc, WithRetry(cfg), WithTimeout(10*time.Millisecond)).Decide(context.Background(), testPairs(1))
	require.Error(t, err)
	mc.AssertNumberOfCalls(t, "Complete", 2)
}

func TestAdapter_Decide_CircuitOpenShortCircuits(t *testing.T) {
	mc := new(mockCompleter)
	mc.On("Complete", mock.Anything, mock.Anything).Return(Completion{}, errors.New("boom"))

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	a := New(mc, WithRetry(fastRetry()), WithCircuitBreaker(cb))

	_, err := a.Decide(context.Background(), testPairs(1))
	require.Error(t, err)
	// First attempt trips the breaker; the open circuit is not retried.
	mc.AssertNumberOfCalls(t, "Complete", 1)

	_, err = a.Decide(context.Background(), testPairs(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	mc.AssertNumberOfCalls(t, "Complete", 1)
}

func TestAdapter_Decide_CancelledContext(t *testing.T) {
	mc := new(mockCompleter)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := New(mc, WithRetry(fastRetry()), WithRateLimit(1, 1)).Decide(ctx, testPairs(2))
	require.Error(t, err)
	assert.Len(t, got, 2)
	mc.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestAdapter_RateLimitShared(t *testing.T) {
	var calls atomic.Int32
	c := &countingCompleter{calls: &calls}
	a := New(c, WithRateLimit(1000, 1))

	for i := 0; i < 3; i++ {
		_, err := a.Decide(context.Background(), testPairs(1))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestAdapter_Budget(t *testing.T) {
	a := New(new(mockCompleter), WithMaxTokens(1000))
	assert.Equal(t, int64(baseTokenAllow+tokensPerPair), a.budget(1))
	assert.Equal(t, int64(1000), a.budget(8))
}

func TestAdapter_Options(t *testing.T) {
	rules, err := ParseRules([]byte("persona: Custom.\noutput_format: JSON."))
	require.NoError(t, err)

	a := New(new(mockCompleter), WithRules(rules), WithTemperature(0.3), WithMaxTokens(0), WithTimeout(0))
	assert.Same(t, rules, a.Rules())
	assert.Equal(t, 0.3, a.temperature)
	assert.Equal(t, int64(defaultMaxTokens), a.maxTokens)
	assert.Equal(t, defaultTimeout, a.timeout)
	assert.True(t, strings.HasPrefix(a.system, "Custom."))
}

func TestFunc_Decide(t *testing.T) {
	var o Oracle = Func(func(_ context.Context, pairs []model.Pair) ([]model.MatchDecision, error) {
		return Degrade(len(pairs), errors.New("stub")), nil
	})
	got, err := o.Decide(context.Background(), testPairs(2))
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "Error: stub", got[0].Reasoning)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...(truncated)", truncate("abcdef", 2))
}

type countingCompleter struct {
	calls *atomic.Int32
}

func (c *countingCompleter) Complete(_ context.Context, _ Prompt) (Completion, error) {
	c.calls.Add(1)
	return Completion{Text: `{"should_merge":false,"confidence":0.5}`}, nil
}

func (c *countingCompleter) Provider() string { return cost.ProviderOpenAI }
func (c *countingCompleter) Model() string    { return "gpt-4o-mini" }
