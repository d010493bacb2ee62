// Package steps is a small catalog of deployment steps built on the engine:
// module ordering and iteration plus running a module's task.
package steps

import (
	"github.com/rendis/mtaflow/internal/cloud"
	"github.com/rendis/mtaflow/internal/variables"
)

// Step names.
const (
	PrepareModulesStep = "prepare-modules"
	SelectModuleStep   = "select-module"
	ExecuteTaskStep    = "execute-task"
	IncrementIndexStep = "increment-index"
)

// Variables owned by the catalog.
var (
	VarAppGUID        = variables.String("appGuid", "")
	VarTaskToExecute  = variables.Object[cloud.TaskRequest]("taskToExecute")
	VarStartedTask    = variables.Object[cloud.Task]("startedTask")
	VarTaskTimeoutSec = variables.Int("appsTaskExecutionTimeout", 0)
)
