package steps

import (
	"context"
	"time"

	"github.com/rendis/mtaflow/internal/cloud"
	"github.com/rendis/mtaflow/internal/engine"
	"github.com/rendis/mtaflow/internal/expressions"
	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/pkg/schema"
)

// DefaultTaskTimeout bounds how long a task may run before a logical retry.
const DefaultTaskTimeout = 12 * time.Hour

// TaskConfig configures ExecuteTask.
type TaskConfig struct {
	Client cloud.Client
	// Hooks are optional; both must be set for hooks to run.
	Calculator engine.HooksCalculator
	Hooks      engine.HooksExecutor
	// Timeout defaults to DefaultTaskTimeout. The appsTaskExecutionTimeout
	// variable overrides it per process.
	Timeout time.Duration
	Policy  engine.TimeoutPolicy
	Clock   engine.Clock
}

// ExecuteTask runs the selected module's task and polls it to completion.
// A FAILED task and a task running past the timeout are logical retries.
// The timeout covers the whole attempt, hook tasks included.
func ExecuteTask(cfg TaskConfig) engine.Step {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTaskTimeout
	}
	var step engine.Step = engine.Async(&taskStep{client: cfg.Client})
	if cfg.Calculator != nil && cfg.Hooks != nil {
		step = engine.WithHooks(step, cfg.Calculator, cfg.Hooks, ExecuteTaskStep)
	}
	return engine.WithTimeout(step, engine.TimeoutConfig{
		Default:  cfg.Timeout,
		Override: VarTaskTimeoutSec,
		Policy:   cfg.Policy,
		Clock:    cfg.Clock,
	})
}

type taskStep struct {
	client cloud.Client
}

func (s *taskStep) Name() string { return ExecuteTaskStep }

func (s *taskStep) Start(ctx context.Context, pc *process.Context) (schema.StepPhase, error) {
	req, ok, err := process.Lookup(ctx, pc, VarTaskToExecute)
	if err != nil {
		return "", err
	}
	if !ok {
		pc.Logger().Debug(ctx, "no task to execute")
		return schema.StepPhaseDone, nil
	}
	appGUID, err := process.Get(ctx, pc, VarAppGUID)
	if err != nil {
		return "", err
	}
	if appGUID == "" {
		return "", schema.NewError(schema.ErrCodeMissingParameter, "appGuid is required to execute a task")
	}

	req.Command, err = s.command(ctx, pc, req.Command)
	if err != nil {
		return "", err
	}

	task, err := s.client.RunTask(ctx, appGUID, req)
	if err != nil {
		return "", err
	}
	if err := process.Set(ctx, pc, VarStartedTask, *task); err != nil {
		return "", err
	}
	pc.Logger().Info(ctx, "Executing task %q on application %s", task.Name, appGUID)
	return schema.StepPhaseExecute, nil
}

func (s *taskStep) Operations() []engine.AsyncOperation {
	return []engine.AsyncOperation{engine.OperationFunc{OpName: "poll-task", Fn: s.poll}}
}

func (s *taskStep) poll(ctx context.Context, pc *process.Context) (schema.AsyncExecutionState, error) {
	started, err := process.Get(ctx, pc, VarStartedTask)
	if err != nil {
		return "", err
	}
	task, err := s.client.GetTask(ctx, started.GUID)
	if err != nil {
		return "", err
	}
	if err := process.Set(ctx, pc, VarStartedTask, *task); err != nil {
		return "", err
	}

	switch task.State {
	case cloud.TaskSucceeded:
		pc.Logger().Info(ctx, "Task %q succeeded", task.Name)
		return schema.AsyncFinished, nil
	case cloud.TaskFailed:
		pc.Logger().Error(ctx, nil, "Task %q failed: %s", task.Name, task.Result.FailureReason)
		return schema.AsyncError, nil
	case cloud.TaskPending, cloud.TaskRunning, cloud.TaskCanceling:
		return schema.AsyncRunning, nil
	default:
		// The adapter fails the step on states it does not know.
		return schema.AsyncExecutionState(task.State), nil
	}
}

// command resolves ${{...}} references in a task command.
func (s *taskStep) command(ctx context.Context, pc *process.Context, command string) (string, error) {
	if !expressions.HasInterpolation(command) {
		return command, nil
	}
	desc, err := process.Get(ctx, pc, process.VarDeploymentDescriptor)
	if err != nil {
		return "", err
	}
	name, err := process.Get(ctx, pc, process.VarModuleToDeploy)
	if err != nil {
		return "", err
	}
	scope, err := expressions.NewScope(pc.ProcessID(), &desc, desc.Module(name))
	if err != nil {
		return "", err
	}
	return expressions.Interpolate(command, scope)
}

func taskRequest(def *schema.TaskDefinition) cloud.TaskRequest {
	return cloud.TaskRequest{
		Name:     def.Name,
		Command:  def.Command,
		MemoryMB: def.MemoryMB,
		DiskMB:   def.DiskMB,
	}
}
