// Package driver is a reference host engine: it persists process instances,
// walks them through a flow of steps one invocation per tick and honours the
// stepExecutionStatus marker each invocation leaves behind.
package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/rendis/mtaflow/internal/engine"
	"github.com/rendis/mtaflow/internal/logging"
	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/internal/store"
	"github.com/rendis/mtaflow/internal/variables"
	"github.com/rendis/mtaflow/pkg/schema"
)

// Driver state kept in the process variables so a restarted driver resumes
// where it stopped.
var (
	VarCursor  = variables.Int("driver.cursor", 0)
	VarRetryAt = variables.Time("driver.retryAt")
)

// Flow is an ordered list of steps. Setup steps run once; Body steps run
// once per iteration for as long as More reports true.
type Flow struct {
	Name  string
	Setup []engine.Step
	Body  []engine.Step
	More  func(ctx context.Context, exec variables.ExecutionContext) (bool, error)
}

func (f Flow) steps() []engine.Step {
	return slices.Concat(f.Setup, f.Body)
}

// Config holds the driver's collaborators.
type Config struct {
	Store    store.Store
	Executor *engine.Executor
	// Events defaults to Store.
	Events engine.EventAppender
	Retry  schema.RetryPolicy
	Clock  engine.Clock
	Logger *slog.Logger
}

// Driver runs registered flows against persisted processes. It is safe for
// concurrent use across different processes; ticks of one process must not
// overlap (the Scheduler guarantees this).
type Driver struct {
	store    store.Store
	executor *engine.Executor
	events   engine.EventAppender
	retry    schema.RetryPolicy
	clock    engine.Clock
	logger   *slog.Logger

	mu    sync.RWMutex
	flows map[string]Flow
}

// New creates a Driver.
func New(cfg Config) *Driver {
	d := &Driver{
		store:    cfg.Store,
		executor: cfg.Executor,
		events:   cfg.Events,
		retry:    cfg.Retry,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		flows:    make(map[string]Flow),
	}
	if d.events == nil {
		d.events = cfg.Store
	}
	if d.clock == nil {
		d.clock = engine.SystemClock
	}
	if d.logger == nil {
		d.logger = logging.Discard()
	}
	if d.executor == nil {
		d.executor = engine.NewExecutor(engine.ExecutorConfig{
			Events:      d.events,
			Diagnostics: cfg.Store,
			Logger:      d.logger,
		})
	}
	return d
}

// Register makes flow available to processes created with its name.
func (d *Driver) Register(flow Flow) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flows[flow.Name] = flow
}

func (d *Driver) flow(name string) (Flow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.flows[name]
	if !ok {
		return Flow{}, schema.NewErrorf(schema.ErrCodeNotFound, "flow %q is not registered", name)
	}
	return f, nil
}

// Start creates a running process for flow with the given descriptor.
// inputs may set additional process variables before the first tick.
func (d *Driver) Start(ctx context.Context, flowName, processID string, desc *schema.Descriptor, inputs func(exec variables.ExecutionContext) error) (*store.Process, error) {
	if _, err := d.flow(flowName); err != nil {
		return nil, err
	}
	p := &store.Process{
		ID:     processID,
		Flow:   flowName,
		Status: schema.ProcessStatusRunning,
	}
	if desc != nil {
		p.DescriptorID = desc.ID
	}
	if err := d.store.CreateProcess(ctx, p); err != nil {
		return nil, err
	}

	exec := store.NewProcessVariables(d.store, processID)
	if desc != nil {
		if err := variables.Set(ctx, exec, process.VarDeploymentDescriptor, *desc); err != nil {
			return nil, err
		}
	}
	if inputs != nil {
		if err := inputs(exec); err != nil {
			return nil, err
		}
	}
	d.emit(ctx, processID, schema.EventProcessStarted, map[string]string{"flow": flowName})
	d.logger.InfoContext(logging.WithProcessID(ctx, processID), "process started", "flow", flowName)
	return p, nil
}

// Resume puts a failed process back to running. Its cursor is kept, so the
// failed step runs again from INIT.
func (d *Driver) Resume(ctx context.Context, processID string) error {
	p, err := d.store.GetProcess(ctx, processID)
	if err != nil {
		return err
	}
	switch p.Status {
	case schema.ProcessStatusCompleted:
		return schema.NewErrorf(schema.ErrCodeConflict, "process %q already completed", processID)
	case schema.ProcessStatusRunning:
		return nil
	}

	exec := store.NewProcessVariables(d.store, processID)
	if err := variables.Remove(ctx, exec, VarRetryAt); err != nil {
		return err
	}
	if p.CurrentStep != "" {
		if err := variables.Remove(ctx, exec, process.RetryCountVar(p.CurrentStep)); err != nil {
			return err
		}
	}
	running := schema.ProcessStatusRunning
	empty := ""
	if err := d.store.UpdateProcess(ctx, processID, store.ProcessUpdate{Status: &running, Error: &empty}); err != nil {
		return err
	}
	d.emit(ctx, processID, schema.EventProcessResumed, nil)
	return nil
}

// Tick runs at most one step invocation for processID and returns the
// process status afterwards.
func (d *Driver) Tick(ctx context.Context, processID string) (schema.ProcessStatus, error) {
	ctx = logging.WithProcessID(ctx, processID)
	p, err := d.store.GetProcess(ctx, processID)
	if err != nil {
		return "", err
	}
	if p.Status != schema.ProcessStatusRunning && p.Status != schema.ProcessStatusPending {
		return p.Status, nil
	}
	flow, err := d.flow(p.Flow)
	if err != nil {
		return d.failProcess(ctx, p, err)
	}
	exec := store.NewProcessVariables(d.store, processID)

	if retryAt, ok, err := variables.Lookup(ctx, exec, VarRetryAt); err != nil {
		return "", err
	} else if ok && d.clock.Now().Before(retryAt) {
		return p.Status, nil
	}

	step, cursor, err := d.next(ctx, flow, exec)
	if err != nil {
		return d.failProcess(ctx, p, err)
	}
	if step == nil {
		return d.completeProcess(ctx, p)
	}

	phase, stepErr := d.executor.Execute(ctx, step, exec)
	status := schema.StatusForPhase(phase)
	if err := d.record(ctx, processID, step.Name(), status); err != nil {
		return "", err
	}

	switch status {
	case schema.ExecutionStatusSuccess:
		if err := variables.Set(ctx, exec, VarCursor, cursor+1); err != nil {
			return "", err
		}
		if err := variables.Remove(ctx, exec, VarRetryAt); err != nil {
			return "", err
		}
	case schema.ExecutionStatusLogicalRetry:
		return d.scheduleRetry(ctx, p, step.Name(), exec)
	case schema.ExecutionStatusFailed:
		return d.failProcess(ctx, p, stepErr)
	}
	return schema.ProcessStatusRunning, nil
}

// next returns the step at the cursor, wrapping the body while More holds.
// A nil step means the flow is finished.
func (d *Driver) next(ctx context.Context, flow Flow, exec variables.ExecutionContext) (engine.Step, int, error) {
	steps := flow.steps()
	cursor, err := variables.Get(ctx, exec, VarCursor)
	if err != nil {
		return nil, 0, err
	}
	if cursor < 0 || cursor > len(steps) {
		return nil, 0, schema.NewErrorf(schema.ErrCodeConflict, "driver cursor %d outside flow %q", cursor, flow.Name)
	}
	if cursor == len(steps) && len(flow.Body) > 0 {
		cursor = len(flow.Setup)
	}
	if cursor == len(flow.Setup) {
		if len(flow.Body) == 0 || flow.More == nil {
			return nil, cursor, nil
		}
		more, err := flow.More(ctx, exec)
		if err != nil {
			return nil, 0, err
		}
		if !more {
			return nil, cursor, nil
		}
	}
	if cursor == len(steps) {
		return nil, cursor, nil
	}
	return steps[cursor], cursor, nil
}

func (d *Driver) record(ctx context.Context, processID, step string, status schema.ExecutionStatus) error {
	return d.store.UpdateProcess(ctx, processID, store.ProcessUpdate{CurrentStep: &step, LastStatus: &status})
}

// scheduleRetry enforces the retry bound and the backoff before the next
// attempt of step.
func (d *Driver) scheduleRetry(ctx context.Context, p *store.Process, step string, exec variables.ExecutionContext) (schema.ProcessStatus, error) {
	retries, err := variables.Get(ctx, exec, process.RetryCountVar(step))
	if err != nil {
		return "", err
	}
	if retries > d.retry.Max {
		exhausted := schema.NewErrorf(schema.ErrCodeRetryExhausted,
			"step %s exhausted %d logical retries", step, d.retry.Max).WithStep(step)
		if err := variables.Remove(ctx, exec, process.RetryCountVar(step)); err != nil {
			return "", err
		}
		if err := variables.Remove(ctx, exec, process.StepPhaseVar(step)); err != nil {
			return "", err
		}
		return d.failProcess(ctx, p, exhausted)
	}

	delay := engine.ComputeBackoff(&d.retry, retries-1)
	if delay > 0 {
		if err := variables.Set(ctx, exec, VarRetryAt, d.clock.Now().Add(delay).UTC()); err != nil {
			return "", err
		}
	}
	d.logger.InfoContext(ctx, "step scheduled for logical retry", "step", step, "attempt", retries, "delay", delay)
	return schema.ProcessStatusRunning, nil
}

func (d *Driver) completeProcess(ctx context.Context, p *store.Process) (schema.ProcessStatus, error) {
	status := schema.ProcessStatusCompleted
	now := d.clock.Now().UTC()
	if err := d.store.UpdateProcess(ctx, p.ID, store.ProcessUpdate{Status: &status, CompletedAt: &now}); err != nil {
		return "", err
	}
	d.emit(ctx, p.ID, schema.EventProcessCompleted, nil)
	d.logger.InfoContext(ctx, "process completed", "flow", p.Flow)
	return status, nil
}

// failProcess marks p failed and records the diagnostics pair for cause.
func (d *Driver) failProcess(ctx context.Context, p *store.Process, cause error) (schema.ProcessStatus, error) {
	if cause == nil {
		cause = schema.NewError(schema.ErrCodeExecution, "step failed without an error")
	}
	if err := d.store.AddOrUpdate(ctx, p.ID, engine.DiagnosticErrorType, string(engine.ClassifyError(cause))); err != nil {
		d.logger.WarnContext(ctx, "diagnostics not recorded", "error", err)
	}
	if err := d.store.AddOrUpdate(ctx, p.ID, engine.DiagnosticErrorMessage, cause.Error()); err != nil {
		d.logger.WarnContext(ctx, "diagnostics not recorded", "error", err)
	}

	status := schema.ProcessStatusFailed
	msg := cause.Error()
	now := d.clock.Now().UTC()
	if err := d.store.UpdateProcess(ctx, p.ID, store.ProcessUpdate{Status: &status, Error: &msg, CompletedAt: &now}); err != nil {
		return "", err
	}
	d.emit(ctx, p.ID, schema.EventProcessFailed, map[string]string{"error": msg})
	d.logger.ErrorContext(ctx, "process failed", "flow", p.Flow, "error", cause)
	return status, nil
}

func (d *Driver) emit(ctx context.Context, processID, eventType string, payload any) {
	event := &store.Event{ProcessID: processID, Type: eventType}
	if payload != nil {
		event.Payload, _ = json.Marshal(payload)
	}
	if err := d.events.AppendEvent(ctx, event); err != nil {
		d.logger.WarnContext(ctx, "process event dropped", "event_type", eventType, "error", err)
	}
}

// Run ticks processID on schedule until it completes or fails.
func (d *Driver) Run(ctx context.Context, processID string, schedule cron.Schedule) (schema.ProcessStatus, error) {
	for {
		status, err := d.Tick(ctx, processID)
		if err != nil {
			return status, err
		}
		if status == schema.ProcessStatusCompleted || status == schema.ProcessStatusFailed {
			return status, nil
		}
		now := d.clock.Now()
		if err := engine.WaitForBackoff(ctx, schedule.Next(now).Sub(now)); err != nil {
			return status, err
		}
		if err := ctx.Err(); err != nil {
			return status, err
		}
	}
}

// ParseSchedule parses a tick schedule: a five-field cron expression or a
// descriptor such as "@every 2s".
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse tick schedule %q: %w", spec, err)
	}
	return s, nil
}
