// Package resilience wraps failsafe-go retry and circuit breaker policies for
// calls to unreliable upstreams.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/rs/zerolog/log"
)

// Config configures an Executor.
type Config struct {
	Name string

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Breaker opens after FailureThreshold retryable failures out of
	// FailureWindow calls and stays open for BreakerDelay.
	FailureThreshold uint
	FailureWindow    uint
	BreakerDelay     time.Duration

	// Retryable reports whether err is transient. Only transient errors are
	// retried and counted against the breaker.
	Retryable func(error) bool

	// OpenErr is returned (wrapped) while the breaker rejects calls.
	OpenErr error
}

func (c Config) normalize() Config {
	if c.Name == "" {
		c.Name = "upstream"
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay * 10
	}
	if c.FailureWindow == 0 {
		c.FailureWindow = 10
	}
	if c.FailureThreshold == 0 || c.FailureThreshold > c.FailureWindow {
		c.FailureThreshold = c.FailureWindow / 2
		if c.FailureThreshold == 0 {
			c.FailureThreshold = 1
		}
	}
	if c.BreakerDelay <= 0 {
		c.BreakerDelay = 15 * time.Second
	}
	if c.Retryable == nil {
		c.Retryable = func(error) bool { return true }
	}
	return c
}

// Executor runs calls through retry then circuit breaker.
type Executor struct {
	name     string
	executor failsafe.Executor[any]
	breaker  circuitbreaker.CircuitBreaker[any]
	openErr  error
}

// New builds an Executor from cfg.
func New(cfg Config) *Executor {
	cfg = cfg.normalize()

	handle := func(_ any, err error) bool {
		return err != nil && cfg.Retryable(err)
	}

	retry := retrypolicy.NewBuilder[any]().
		HandleIf(handle).
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithJitterFactor(0.1).
		WithMaxRetries(cfg.MaxRetries).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[any]) {
			log.Warn().
				Str("upstream", cfg.Name).
				Int("attempt", e.Attempts()).
				Err(e.LastError()).
				Msg("Retrying upstream call")
		}).
		Build()

	breaker := circuitbreaker.NewBuilder[any]().
		HandleIf(handle).
		WithFailureThresholdRatio(cfg.FailureThreshold, cfg.FailureWindow).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			log.Warn().
				Str("upstream", cfg.Name).
				Str("from_state", stateName(e.OldState)).
				Str("to_state", stateName(e.NewState)).
				Msg("Circuit breaker state change")
		}).
		Build()

	return &Executor{
		name:     cfg.Name,
		executor: failsafe.With[any](retry, breaker),
		breaker:  breaker,
		openErr:  cfg.OpenErr,
	}
}

// Run executes fn under the retry and breaker policies.
func (e *Executor) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do executes fn under e and returns its typed result.
func Do[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if e == nil {
		return fn(ctx)
	}

	res, err := e.executor.WithContext(ctx).Get(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) && e.openErr != nil {
			return zero, fmt.Errorf("%w: %s circuit open", e.openErr, e.name)
		}
		return zero, err
	}

	v, ok := res.(T)
	if !ok {
		return zero, nil
	}
	return v, nil
}

// IsOpen reports whether the breaker currently rejects calls.
func (e *Executor) IsOpen() bool {
	return e != nil && e.breaker.IsOpen()
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}
