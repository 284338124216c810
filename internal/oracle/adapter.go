package oracle

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/contact-resolver/internal/cost"
	"github.com/sells-group/contact-resolver/internal/metrics"
	"github.com/sells-group/contact-resolver/internal/model"
	"github.com/sells-group/contact-resolver/internal/resilience"
)

const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 4096
	defaultTimeout     = 60 * time.Second

	// Output budget per pair in a batch, on top of a fixed allowance.
	tokensPerPair  = 400
	baseTokenAllow = 256

	// Raw responses are truncated to this many bytes in logs.
	maxLoggedRaw = 2000
)

// Adapter implements Oracle over a Completer. It owns prompting, retries,
// rate limiting, response validation, and usage accounting.
type Adapter struct {
	completer   Completer
	rules       *Rules
	system      string
	temperature float64
	maxTokens   int64
	timeout     time.Duration
	retry       resilience.RetryConfig
	breaker     *resilience.CircuitBreaker
	limiter     *rate.Limiter
	calc        *cost.Calculator

	mu    sync.Mutex
	usage model.OracleUsage
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRules replaces the built-in prompt rules.
func WithRules(r *Rules) Option {
	return func(a *Adapter) { a.rules = r }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(a *Adapter) { a.temperature = t }
}

// WithMaxTokens caps the output tokens requested per batch.
func WithMaxTokens(n int64) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// WithTimeout bounds each individual call attempt.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithRetry sets the retry policy for call failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(a *Adapter) { a.retry = cfg }
}

// WithCircuitBreaker rejects calls while the provider is failing.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(a *Adapter) { a.breaker = cb }
}

// WithRateLimit enforces a request budget shared by every concurrent batch.
func WithRateLimit(rps float64, burst int) Option {
	return func(a *Adapter) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCalculator attributes a dollar cost to token usage.
func WithCalculator(c *cost.Calculator) Option {
	return func(a *Adapter) { a.calc = c }
}

// New creates an Adapter. Defaults: temperature 0.1, three attempts with
// 4s to 60s backoff, 60s per attempt, no rate limit.
func New(c Completer, opts ...Option) *Adapter {
	a := &Adapter{
		completer:   c,
		rules:       DefaultRules(),
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		timeout:     defaultTimeout,
		retry:       resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(a)
	}
	a.system = a.rules.SystemText()
	if a.retry.OnRetry == nil {
		a.retry.OnRetry = resilience.RetryLogger(c.Provider(), "decide")
	}
	if a.retry.ShouldRetry == nil {
		a.retry.ShouldRetry = func(err error) bool {
			return resilience.IsRetryable(err) && !errors.Is(err, resilience.ErrCircuitOpen)
		}
	}
	return a
}

// Rules returns the prompt rules in use.
func (a *Adapter) Rules() *Rules {
	return a.rules
}

// Usage returns a snapshot of accumulated token usage.
func (a *Adapter) Usage() model.OracleUsage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

// Decide asks the model about every pair in one request.
func (a *Adapter) Decide(ctx context.Context, pairs []model.Pair) ([]model.MatchDecision, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	provider := a.completer.Provider()
	log := zap.L().With(
		zap.String("provider", provider),
		zap.String("model", a.completer.Model()),
		zap.Int("pairs", len(pairs)),
	)

	prompt := Prompt{
		System:      a.system,
		User:        UserText(pairs),
		Temperature: a.temperature,
		MaxTokens:   a.budget(len(pairs)),
	}

	start := time.Now()
	attempts := 0
	comp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (Completion, error) {
		attempts++
		return a.call(ctx, prompt)
	})
	metrics.OracleCallDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())

	if err != nil {
		callErr := &CallError{Provider: provider, Attempts: attempts, Err: err}
		metrics.OracleCallsTotal.WithLabelValues(provider, "call_error").Inc()
		metrics.OracleDecisionsTotal.WithLabelValues("error").Add(float64(len(pairs)))
		log.Warn("oracle call failed", zap.Int("attempts", attempts), zap.Error(err))
		return Degrade(len(pairs), callErr), callErr
	}
	a.record(comp.Usage)

	decisions, err := ParseDecisions(comp.Text, len(pairs))
	if err != nil {
		metrics.OracleCallsTotal.WithLabelValues(provider, "parse_error").Inc()
		metrics.OracleDecisionsTotal.WithLabelValues("error").Add(float64(len(pairs)))
		log.Warn("oracle response rejected",
			zap.Error(err),
			zap.String("raw", truncate(comp.Text, maxLoggedRaw)),
		)
		return Degrade(len(pairs), err), err
	}

	metrics.OracleCallsTotal.WithLabelValues(provider, "success").Inc()
	for _, d := range decisions {
		outcome := "no_merge"
		if d.ShouldMerge {
			outcome = "merge"
		}
		metrics.OracleDecisionsTotal.WithLabelValues(outcome).Inc()
	}
	log.Debug("oracle batch decided", zap.Int("attempts", attempts))
	return decisions, nil
}

func (a *Adapter) call(ctx context.Context, p Prompt) (Completion, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return Completion{}, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if a.breaker != nil {
		return resilience.Guard(callCtx, a.breaker, func(ctx context.Context) (Completion, error) {
			return a.completer.Complete(ctx, p)
		})
	}
	return a.completer.Complete(callCtx, p)
}

func (a *Adapter) budget(pairs int) int64 {
	n := int64(baseTokenAllow + tokensPerPair*pairs)
	if n > a.maxTokens {
		return a.maxTokens
	}
	return n
}

func (a *Adapter) record(u cost.Usage) {
	provider := a.completer.Provider()
	metrics.OracleTokensTotal.WithLabelValues(provider, "input").Add(float64(u.Input + u.CacheWrite + u.CacheRead))
	metrics.OracleTokensTotal.WithLabelValues(provider, "output").Add(float64(u.Output))

	var usd float64
	if a.calc != nil {
		usd = a.calc.Oracle(provider, a.completer.Model(), u)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage.Calls++
	a.usage.InputTokens += u.Input + u.CacheWrite + u.CacheRead
	a.usage.OutputTokens += u.Output
	a.usage.EstimatedCostUSD += usd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
