package cloud

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mtaflow/pkg/schema"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewBreaker(BreakerConfig{FailureThreshold: threshold, Cooldown: 10 * time.Second, HalfOpenMax: 1}, clock.now), clock
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(3)
	assert.NoError(t, b.Allow(endpointGetTask))
	assert.Equal(t, CircuitClosed, b.State(endpointGetTask))
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.Failure(endpointGetTask)
	b.Failure(endpointGetTask)
	assert.Equal(t, CircuitClosed, b.State(endpointGetTask))
	assert.Equal(t, CircuitOpen, b.Failure(endpointGetTask))

	err := b.Allow(endpointGetTask)
	require.Error(t, err)
	stepErr, ok := schema.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeUpstream, stepErr.Code)
	assert.True(t, stepErr.IsRetryable())
	assert.Equal(t, 3, stepErr.Details["consecutive_failures"])

	// Endpoints are independent.
	assert.NoError(t, b.Allow(endpointRunTask))
}

func TestBreaker_SuccessResets(t *testing.T) {
	b, _ := newTestBreaker(3)
	b.Failure(endpointRunTask)
	b.Failure(endpointRunTask)
	b.Success(endpointRunTask)

	b.Failure(endpointRunTask)
	b.Failure(endpointRunTask)
	assert.Equal(t, CircuitClosed, b.State(endpointRunTask))
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(2)
	b.Failure(endpointGetTask)
	b.Failure(endpointGetTask)
	require.Error(t, b.Allow(endpointGetTask))

	clock.advance(10 * time.Second)
	require.NoError(t, b.Allow(endpointGetTask), "first trial after cooldown")
	assert.Error(t, b.Allow(endpointGetTask), "second concurrent trial")

	b.Success(endpointGetTask)
	assert.Equal(t, CircuitClosed, b.State(endpointGetTask))
	assert.NoError(t, b.Allow(endpointGetTask))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(2)
	b.Failure(endpointGetTask)
	b.Failure(endpointGetTask)

	clock.advance(11 * time.Second)
	assert.Equal(t, CircuitHalfOpen, b.State(endpointGetTask))
	require.NoError(t, b.Allow(endpointGetTask))
	assert.Equal(t, CircuitOpen, b.Failure(endpointGetTask))
	assert.Error(t, b.Allow(endpointGetTask))
}

func TestBreaker_Disabled(t *testing.T) {
	b, _ := newTestBreaker(0)
	for i := 0; i < 10; i++ {
		b.Failure(endpointGetTask)
	}
	assert.NoError(t, b.Allow(endpointGetTask))
	assert.Equal(t, CircuitClosed, b.State(endpointGetTask))
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
