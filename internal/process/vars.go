package process

import (
	"time"

	"github.com/rendis/mtaflow/internal/variables"
	"github.com/rendis/mtaflow/pkg/schema"
)

// Markers the host engine reads after every step invocation.
var (
	VarStepPhase           = variables.Enum("stepPhase", schema.StepPhaseInit)
	VarStepExecutionStatus = variables.Enum[schema.ExecutionStatus]("stepExecutionStatus", "")
)

// Deployment inputs shared across steps.
var (
	VarDeploymentDescriptor = variables.Variable[schema.Descriptor]{
		Name:       "deploymentDescriptor",
		Serializer: variables.JSON[schema.Descriptor](),
		Required:   true,
	}
	VarModulesToDeploy   = variables.Collection[string]("modulesToDeploy")
	VarModulesCount      = variables.Int("modulesCount", 0)
	VarModuleToDeploy    = variables.String("moduleToDeploy", "")
	VarIndexVariableName = variables.String("indexVariableName", "index")
)

// IndexVar is the loop counter stored under name.
func IndexVar(name string) variables.Variable[int] {
	return variables.Int(name, 0)
}

// Per-step state. Everything a step needs across invocations lives under
// "<step>." so it survives restarts of the host engine.

// StepPhaseVar holds the phase the next invocation of step enters with.
func StepPhaseVar(step string) variables.Variable[schema.StepPhase] {
	return variables.Enum(step+".phase", schema.StepPhaseInit)
}

// StartTimeVar holds when the step's current attempt started.
func StartTimeVar(step string) variables.Variable[time.Time] {
	return variables.Time(step + ".startTime")
}

// RetryCountVar counts logical retries of step.
func RetryCountVar(step string) variables.Variable[int] {
	return variables.Int(step+".retryCount", 0)
}

// HookTasksVar holds the handles of the step's hooks for when that have been
// started and not yet seen finished, e.g. "execute-task.hooks.before".
func HookTasksVar(step string, when schema.HookWhen) variables.Variable[[]string] {
	return variables.Collection[string](step + ".hooks." + string(when))
}
