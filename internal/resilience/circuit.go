// Package resilience provides retry, circuit breaking, and failure
// classification for language-model oracle calls.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the state of a provider's circuit.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // calls flow through
	CircuitOpen                         // calls are rejected until the reset timeout passes
	CircuitHalfOpen                     // probe calls test whether the provider recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen matches every OpenError.
var ErrCircuitOpen = eris.New("resilience: oracle circuit open")

// OpenError rejects a call while the provider's circuit is open.
type OpenError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("resilience: %s circuit open, next probe in %s", e.Provider, e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrCircuitOpen) hold for any OpenError.
func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// CircuitBreakerConfig tunes a provider's breaker.
type CircuitBreakerConfig struct {
	Provider         string
	FailureThreshold int           // consecutive failures that open the circuit
	ResetTimeout     time.Duration // time open before a probe is allowed
	Probes           int           // successful half-open calls needed to close

	OnStateChange func(provider string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig opens after 5 consecutive failures and probes
// after a minute.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     time.Minute,
		Probes:           1,
	}
}

// CircuitBreaker stops calling a failing oracle provider until it has had
// time to recover. It is safe for concurrent use by parallel batches.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probes   int
}

// NewCircuitBreaker creates a closed breaker. Zero config values take the
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.Probes <= 0 {
		cfg.Probes = def.Probes
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Guard runs fn unless cb's circuit is open, in which case it returns an
// *OpenError without calling fn. Every error except caller cancellation
// counts as a provider failure.
func Guard[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.admit(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	cb.record(err)
	return v, err
}

// State reports the current state. An open circuit whose reset timeout has
// passed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Failures reports the current run of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	waited := cb.now().Sub(cb.openedAt)
	if waited < cb.cfg.ResetTimeout {
		return &OpenError{Provider: cb.cfg.Provider, RetryAfter: cb.cfg.ResetTimeout - waited}
	}
	cb.setState(CircuitHalfOpen)
	cb.probes = 0
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || errors.Is(err, context.Canceled) {
		if cb.state == CircuitHalfOpen {
			cb.probes++
			if cb.probes < cb.cfg.Probes {
				return
			}
			cb.setState(CircuitClosed)
		}
		cb.failures = 0
		return
	}

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.openedAt = cb.now()
		cb.setState(CircuitOpen)
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Provider, from, to)
	}
}
