package steps

import (
	"context"

	"github.com/rendis/mtaflow/internal/engine"
	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/internal/validation"
	"github.com/rendis/mtaflow/internal/variables"
	"github.com/rendis/mtaflow/pkg/schema"
)

// PrepareModules validates the deployment descriptor, computes the
// deployment order and resets the module loop index. validator may be nil.
func PrepareModules(validator *validation.DescriptorValidator) engine.Step {
	return engine.Sync(PrepareModulesStep, func(ctx context.Context, pc *process.Context) error {
		desc, err := process.Get(ctx, pc, process.VarDeploymentDescriptor)
		if err != nil {
			return err
		}
		if validator != nil {
			if err := validator.ValidateDescriptor(&desc); err != nil {
				return err
			}
		}
		order, err := validation.DeploymentOrder(&desc)
		if err != nil {
			return err
		}

		if err := process.Set(ctx, pc, process.VarModulesToDeploy, order); err != nil {
			return err
		}
		if err := process.Set(ctx, pc, process.VarModulesCount, len(order)); err != nil {
			return err
		}
		index, err := indexVar(ctx, pc)
		if err != nil {
			return err
		}
		if err := process.Set(ctx, pc, index, 0); err != nil {
			return err
		}
		pc.Logger().Info(ctx, "Deploying %d modules of %s in order %v", len(order), desc.ID, order)
		return nil
	})
}

// SelectModule makes the module at the loop index current: moduleToDeploy,
// appGuid and, when the module declares one, taskToExecute.
func SelectModule() engine.Step {
	return engine.Sync(SelectModuleStep, func(ctx context.Context, pc *process.Context) error {
		index, err := indexVar(ctx, pc)
		if err != nil {
			return err
		}
		i, err := process.Get(ctx, pc, index)
		if err != nil {
			return err
		}
		modules, err := process.Get(ctx, pc, process.VarModulesToDeploy)
		if err != nil {
			return err
		}
		if i < 0 || i >= len(modules) {
			return schema.NewErrorf(schema.ErrCodeConflict, "module index %d out of range: %d modules to deploy", i, len(modules))
		}

		desc, err := process.Get(ctx, pc, process.VarDeploymentDescriptor)
		if err != nil {
			return err
		}
		module := desc.Module(modules[i])
		if module == nil {
			return schema.ContentErrorf("module %q not found in deployment descriptor %q", modules[i], desc.ID)
		}

		if err := process.Set(ctx, pc, process.VarModuleToDeploy, module.Name); err != nil {
			return err
		}
		if err := process.Set(ctx, pc, VarAppGUID, module.App); err != nil {
			return err
		}
		if module.Task == nil {
			return process.Remove(ctx, pc, VarTaskToExecute)
		}
		return process.Set(ctx, pc, VarTaskToExecute, taskRequest(module.Task))
	})
}

// IncrementIndex advances the loop counter named by indexVariableName.
func IncrementIndex() engine.Step {
	return engine.Sync(IncrementIndexStep, func(ctx context.Context, pc *process.Context) error {
		index, err := indexVar(ctx, pc)
		if err != nil {
			return err
		}
		i, err := process.Get(ctx, pc, index)
		if err != nil {
			return err
		}
		return process.Set(ctx, pc, index, i+1)
	})
}

// ModulesRemaining reports whether the module loop has another iteration.
func ModulesRemaining(ctx context.Context, exec variables.ExecutionContext) (bool, error) {
	name, err := variables.Get(ctx, exec, process.VarIndexVariableName)
	if err != nil {
		return false, err
	}
	i, err := variables.Get(ctx, exec, process.IndexVar(name))
	if err != nil {
		return false, err
	}
	count, err := variables.Get(ctx, exec, process.VarModulesCount)
	if err != nil {
		return false, err
	}
	return i < count, nil
}

func indexVar(ctx context.Context, pc *process.Context) (variables.Variable[int], error) {
	name, err := process.Get(ctx, pc, process.VarIndexVariableName)
	if err != nil {
		return variables.Variable[int]{}, err
	}
	if name == "" {
		return variables.Variable[int]{}, schema.NewError(schema.ErrCodeMissingParameter, "indexVariableName is empty")
	}
	return process.IndexVar(name), nil
}
