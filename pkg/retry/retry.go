// Package retry builds a bounded retry-with-circuit-breaker pipeline for
// the Transient error class (spec §7): network timeouts, rate limits, 5xx.
// It is the same shape the teacher's pkg/http/client.go builds around
// github.com/failsafe-go/failsafe-go for its exchange REST calls.
package retry

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// IsTransientFunc reports whether an error belongs to the Transient class
// and is therefore safe to retry.
type IsTransientFunc func(error) bool

// Config tunes the pipeline built by New.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig is a sensible default for exchange REST calls.
var DefaultConfig = Config{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// Policy wraps one failsafe-go executor. It is stateful: the circuit
// breaker's failure count is shared across every call routed through it, so
// one Policy should be built once per exchange session and reused rather
// than rebuilt per call.
type Policy struct {
	executor failsafe.Executor[any]
}

// New builds a Policy from cfg. isTransient classifies which errors count
// as failures for both the retry policy and the breaker; a non-transient
// error (an exchange rejection, say) is returned immediately and never
// counted against the breaker.
func New(cfg Config, isTransient IsTransientFunc) *Policy {
	handle := func(_ any, err error) bool {
		return err != nil && isTransient(err)
	}

	retry := retrypolicy.NewBuilder[any]().
		HandleIf(handle).
		WithBackoff(cfg.InitialBackoff, cfg.MaxBackoff).
		WithMaxRetries(cfg.MaxAttempts - 1).
		Build()

	// Open on a clustered run of transient failures, same ratio the
	// teacher uses for its exchange HTTP client.
	breaker := circuitbreaker.NewBuilder[any]().
		HandleIf(handle).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	return &Policy{executor: failsafe.With[any](retry, breaker)}
}

// Do runs fn through the pipeline, retrying transient failures with capped
// exponential backoff and aborting as soon as ctx is done.
func (p *Policy) Do(ctx context.Context, fn func() error) error {
	return p.executor.WithContext(ctx).Run(func() error {
		return fn()
	})
}
