package hooks

import (
	"context"
	"encoding/json"

	"github.com/rendis/mtaflow/internal/cloud"
	"github.com/rendis/mtaflow/internal/engine"
	"github.com/rendis/mtaflow/internal/expressions"
	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/internal/store"
	"github.com/rendis/mtaflow/pkg/schema"
)

// Executor runs each hook as a cloud task on the module's application. The
// task GUID is the hook's handle; Poll maps the task state to an
// AsyncExecutionState so the step can wait for it.
type Executor struct {
	client   cloud.Client
	resolver DescriptorResolver
	events   engine.EventAppender
}

// NewExecutor creates an Executor. A nil resolver uses ContextResolver; a
// nil appender skips hook_executed events.
func NewExecutor(client cloud.Client, resolver DescriptorResolver, events engine.EventAppender) *Executor {
	if resolver == nil {
		resolver = ContextResolver{}
	}
	return &Executor{client: client, resolver: resolver, events: events}
}

// Start implements engine.HooksExecutor. It returns the GUIDs of the tasks
// it started, in hook order.
func (e *Executor) Start(ctx context.Context, pc *process.Context, hooks []schema.Hook) ([]string, error) {
	if len(hooks) == 0 {
		return nil, nil
	}
	desc, module, err := currentModule(ctx, pc, e.resolver)
	if err != nil {
		return nil, err
	}
	if module == nil {
		return nil, schema.NewError(schema.ErrCodeMissingParameter, "hooks require a module to deploy").WithStep(pc.StepName())
	}
	scope, err := expressions.NewScope(pc.ProcessID(), desc, module)
	if err != nil {
		return nil, err
	}

	guids := make([]string, 0, len(hooks))
	for _, hook := range hooks {
		guid, err := e.run(ctx, pc, scope, module, hook)
		if err != nil {
			return nil, err
		}
		guids = append(guids, guid)
	}
	return guids, nil
}

// Poll implements engine.HooksExecutor.
func (e *Executor) Poll(ctx context.Context, pc *process.Context, taskGUID string) (schema.AsyncExecutionState, error) {
	task, err := e.client.GetTask(ctx, taskGUID)
	if err != nil {
		return "", err
	}
	switch task.State {
	case cloud.TaskSucceeded:
		pc.Logger().Info(ctx, "Hook task %q succeeded", task.Name)
		return schema.AsyncFinished, nil
	case cloud.TaskFailed:
		pc.Logger().Error(ctx, nil, "Hook task %q failed: %s", task.Name, task.Result.FailureReason)
		return schema.AsyncError, nil
	case cloud.TaskPending, cloud.TaskRunning, cloud.TaskCanceling:
		return schema.AsyncRunning, nil
	default:
		return schema.AsyncExecutionState(task.State), nil
	}
}

func (e *Executor) run(ctx context.Context, pc *process.Context, scope *expressions.Scope, module *schema.Module, hook schema.Hook) (string, error) {
	if hook.Type != "" && hook.Type != schema.HookTypeTask {
		return "", schema.ContentErrorf("hook %q has unsupported type %q", hook.Name, hook.Type)
	}
	if module.App == "" {
		return "", schema.NewErrorf(schema.ErrCodeMissingParameter, "module %q has no app to run hook %q on", module.Name, hook.Name)
	}

	hs, err := scope.WithHook(hook, "")
	if err != nil {
		return "", err
	}
	command, err := expressions.Interpolate(hook.Parameters.Command, hs)
	if err != nil {
		return "", err
	}

	task, err := e.client.RunTask(ctx, module.App, cloud.TaskRequest{
		Name:     hook.Name,
		Command:  command,
		MemoryMB: hook.Parameters.MemoryMB,
		DiskMB:   hook.Parameters.DiskMB,
	})
	if err != nil {
		return "", err
	}
	pc.Logger().Info(ctx, "Hook %q started as task %s on module %q", hook.Name, task.GUID, module.Name)

	if e.events != nil {
		payload, _ := json.Marshal(map[string]string{"hook": hook.Name, "module": module.Name, "task_guid": task.GUID})
		if err := e.events.AppendEvent(ctx, &store.Event{
			ProcessID: pc.ProcessID(),
			Step:      pc.StepName(),
			Type:      schema.EventHookExecuted,
			Payload:   payload,
		}); err != nil {
			pc.Logger().Debug(ctx, "hook_executed event dropped", "error", err)
		}
	}
	return task.GUID, nil
}

var _ engine.HooksExecutor = (*Executor)(nil)
