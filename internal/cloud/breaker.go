package cloud

import (
	"sync"
	"time"

	"github.com/rendis/mtaflow/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the per-endpoint circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive upstream failures before
	// the circuit opens. Zero disables the breaker.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a trial request is allowed.
	Cooldown time.Duration
	// HalfOpenMax is the number of trial requests allowed while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the breaker settings used by NewHTTPClient.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type circuit struct {
	state            CircuitState
	failures         int
	lastFailure      time.Time
	halfOpenAttempts int
}

// Breaker tracks upstream health per endpoint. Calls against an open
// circuit fail fast with an UPSTREAM_ERROR, which steps treat as a logical
// retry rather than a failure.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	config   BreakerConfig
	now      func() time.Time
}

// NewBreaker creates a Breaker. A nil now uses time.Now.
func NewBreaker(config BreakerConfig, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = 1
	}
	return &Breaker{circuits: make(map[string]*circuit), config: config, now: now}
}

// Allow returns nil when a request to endpoint may proceed.
func (b *Breaker) Allow(endpoint string) error {
	if b.config.FailureThreshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(endpoint)

	switch c.state {
	case CircuitOpen:
		if b.now().Sub(c.lastFailure) < b.config.Cooldown {
			return schema.NewErrorf(schema.ErrCodeUpstream,
				"cloud controller unavailable: circuit open for %s after %d consecutive failures",
				endpoint, c.failures).
				WithDetails(map[string]any{
					"endpoint":             endpoint,
					"state":                c.state.String(),
					"consecutive_failures": c.failures,
					"cooldown_remaining":   (b.config.Cooldown - b.now().Sub(c.lastFailure)).String(),
				})
		}
		c.state = CircuitHalfOpen
		c.halfOpenAttempts = 1
		return nil
	case CircuitHalfOpen:
		if c.halfOpenAttempts >= b.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeUpstream,
				"cloud controller unavailable: circuit half-open for %s, trial request in flight", endpoint)
		}
		c.halfOpenAttempts++
	}
	return nil
}

// Success closes the circuit for endpoint.
func (b *Breaker) Success(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(endpoint)
	c.state = CircuitClosed
	c.failures = 0
	c.halfOpenAttempts = 0
}

// Failure records an upstream failure and returns the resulting state.
func (b *Breaker) Failure(endpoint string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(endpoint)
	c.failures++
	c.lastFailure = b.now()

	if c.state == CircuitHalfOpen ||
		(b.config.FailureThreshold > 0 && c.failures >= b.config.FailureThreshold) {
		c.state = CircuitOpen
	}
	return c.state
}

// State returns the current state for endpoint, moving an open circuit to
// half-open once the cooldown has passed.
func (b *Breaker) State(endpoint string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(endpoint)
	if c.state == CircuitOpen && b.now().Sub(c.lastFailure) >= b.config.Cooldown {
		c.state = CircuitHalfOpen
		c.halfOpenAttempts = 0
	}
	return c.state
}

func (b *Breaker) get(endpoint string) *circuit {
	c, ok := b.circuits[endpoint]
	if !ok {
		c = &circuit{}
		b.circuits[endpoint] = c
	}
	return c
}
