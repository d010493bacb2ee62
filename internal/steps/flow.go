package steps

import (
	"github.com/rendis/mtaflow/internal/driver"
	"github.com/rendis/mtaflow/internal/engine"
	"github.com/rendis/mtaflow/internal/validation"
)

// DeployFlowName is the flow name processes created by DeployFlow carry.
const DeployFlowName = "deploy"

// DeployFlow wires the deployment steps into a driver flow: the modules are
// ordered once, then each one is selected, its task executed and the index
// advanced until every module is deployed.
func DeployFlow(validator *validation.DescriptorValidator, task TaskConfig) driver.Flow {
	return driver.Flow{
		Name:  DeployFlowName,
		Setup: []engine.Step{PrepareModules(validator)},
		Body: []engine.Step{
			SelectModule(),
			ExecuteTask(task),
			IncrementIndex(),
		},
		More: ModulesRemaining,
	}
}
