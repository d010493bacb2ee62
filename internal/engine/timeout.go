package engine

import (
	"context"
	"time"

	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/internal/variables"
	"github.com/rendis/mtaflow/pkg/schema"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// TimeoutPolicy decides what an expired step turns into.
type TimeoutPolicy string

const (
	// TimeoutRetry converts the tick into a logical retry.
	TimeoutRetry TimeoutPolicy = "retry"
	// TimeoutFail fails the step with TIMEOUT_ERROR.
	TimeoutFail TimeoutPolicy = "fail"
)

// TimeoutConfig configures WithTimeout.
type TimeoutConfig struct {
	// Default applies when Override is unset or not positive.
	Default time.Duration
	// Override names a per-process variable holding the timeout in seconds.
	// An empty Name disables the override.
	Override variables.Variable[int]
	Policy   TimeoutPolicy
	Clock    Clock
}

type timeoutStep struct {
	inner Step
	cfg   TimeoutConfig
}

// WithTimeout bounds how long inner may stay in POLL. The attempt start time
// is recorded when the step enters from INIT or RETRY; on every POLL entry
// the elapsed time is checked before inner runs, and once it reaches the
// timeout the tick becomes RETRY (or a TIMEOUT_ERROR failure) regardless of
// the state of the underlying operation.
func WithTimeout(inner Step, cfg TimeoutConfig) Step {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Policy == "" {
		cfg.Policy = TimeoutRetry
	}
	return &timeoutStep{inner: inner, cfg: cfg}
}

func (t *timeoutStep) Name() string { return t.inner.Name() }

func (t *timeoutStep) Execute(ctx context.Context, pc *process.Context) (schema.StepPhase, error) {
	startVar := process.StartTimeVar(pc.StepName())
	now := t.cfg.Clock.Now().UTC()

	if pc.Starting() {
		if err := process.Set(ctx, pc, startVar, now); err != nil {
			return "", err
		}
		return t.inner.Execute(ctx, pc)
	}

	started, ok, err := process.Lookup(ctx, pc, startVar)
	if err != nil {
		return "", err
	}
	if !ok {
		// Attempt started before the start time was tracked.
		if err := process.Set(ctx, pc, startVar, now); err != nil {
			return "", err
		}
		started = now
	}

	timeout, err := t.timeout(ctx, pc)
	if err != nil {
		return "", err
	}
	elapsed := now.Sub(started)
	if timeout > 0 && elapsed >= timeout {
		return t.expire(ctx, pc, elapsed, timeout)
	}
	return t.inner.Execute(ctx, pc)
}

func (t *timeoutStep) timeout(ctx context.Context, pc *process.Context) (time.Duration, error) {
	if t.cfg.Override.Name != "" {
		secs, ok, err := process.Lookup(ctx, pc, t.cfg.Override)
		if err != nil {
			return 0, err
		}
		if ok && secs > 0 {
			return time.Duration(secs) * time.Second, nil
		}
	}
	return t.cfg.Default, nil
}

func (t *timeoutStep) expire(ctx context.Context, pc *process.Context, elapsed, timeout time.Duration) (schema.StepPhase, error) {
	if t.cfg.Policy == TimeoutFail {
		return "", schema.NewErrorf(schema.ErrCodeTimeout,
			"step exceeded its timeout of %s (elapsed %s)", timeout, elapsed.Truncate(time.Second)).
			WithStep(pc.StepName()).
			WithDetails(map[string]any{"timeout_seconds": int(timeout.Seconds())})
	}
	pc.Logger().Warn(ctx, "step %s timed out after %s, retrying", pc.StepName(), elapsed.Truncate(time.Second))
	return schema.StepPhaseRetry, nil
}
