// Package hooks selects and runs the descriptor hooks attached to a module.
package hooks

import (
	"context"

	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/pkg/schema"
)

// DescriptorResolver supplies the deployment descriptor for a process.
type DescriptorResolver interface {
	Descriptor(ctx context.Context, pc *process.Context) (*schema.Descriptor, error)
}

// ContextResolver reads the descriptor from the deploymentDescriptor
// process variable.
type ContextResolver struct{}

// Descriptor implements DescriptorResolver.
func (ContextResolver) Descriptor(ctx context.Context, pc *process.Context) (*schema.Descriptor, error) {
	desc, err := process.Get(ctx, pc, process.VarDeploymentDescriptor)
	if err != nil {
		return nil, err
	}
	return &desc, nil
}

// currentModule resolves the descriptor and the module selected by
// moduleToDeploy. module is nil when no module is selected.
func currentModule(ctx context.Context, pc *process.Context, resolver DescriptorResolver) (*schema.Descriptor, *schema.Module, error) {
	name, err := process.Get(ctx, pc, process.VarModuleToDeploy)
	if err != nil {
		return nil, nil, err
	}
	if name == "" {
		return nil, nil, nil
	}
	desc, err := resolver.Descriptor(ctx, pc)
	if err != nil {
		return nil, nil, err
	}
	module := desc.Module(name)
	if module == nil {
		return nil, nil, schema.ContentErrorf("module %q not found in deployment descriptor %q", name, desc.ID).
			WithStep(pc.StepName())
	}
	return desc, module, nil
}
