package notification

import (
	"context"
	"sync"
	"time"

	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// StateClosed means deliveries flow normally.
	StateClosed CircuitState = iota
	// StateHalfOpen means a probe delivery is allowed through.
	StateHalfOpen
	// StateOpen means deliveries are rejected until the timeout passes.
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while a provider is failing.
var ErrCircuitOpen = errors.NewSentinel("circuit breaker is open", errors.CategoryNotification)

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures int
	// Timeout is how long the circuit stays open before a probe.
	Timeout time.Duration
}

// DefaultBreakerConfig returns the thresholds used for alert providers.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second}
}

// CircuitBreaker stops calling a provider after repeated failures and lets
// a single probe through once the timeout has passed.
type CircuitBreaker struct {
	config          BreakerConfig
	name            string
	log             logger.Logger
	now             func() time.Time
	mu              sync.Mutex
	state           CircuitState
	failures        int
	lastStateChange time.Time
	probing         bool
}

// NewCircuitBreaker creates a closed breaker for the named provider.
func NewCircuitBreaker(config BreakerConfig, name string, log logger.Logger) *CircuitBreaker {
	if config.MaxFailures < 1 {
		config.MaxFailures = 1
	}
	if log == nil {
		log = logger.Global().Module("notification")
	}
	return &CircuitBreaker{
		config:          config,
		name:            name,
		log:             log,
		now:             time.Now,
		lastStateChange: time.Now(),
	}
}

// Call runs fn if the breaker allows it and records the outcome.
// Cancellation by the caller is not counted as a provider failure.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) < cb.config.Timeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if err == nil {
		cb.failures = 0
		cb.setState(StateClosed)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	cb.failures++
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) setState(s CircuitState) {
	if cb.state == s {
		return
	}
	cb.log.Info("circuit breaker state transition",
		logger.String("provider", cb.name),
		logger.String("old_state", cb.state.String()),
		logger.String("new_state", s.String()),
		logger.Int("consecutive_failures", cb.failures))
	cb.state = s
	cb.lastStateChange = cb.now()
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the number of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
