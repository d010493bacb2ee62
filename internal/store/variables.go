package store

import (
	"context"

	"github.com/rendis/mtaflow/internal/variables"
)

// ProcessVariables exposes one process's rows in the variables table as a
// variables.ExecutionContext.
type ProcessVariables struct {
	store     Store
	processID string
}

var _ variables.ExecutionContext = (*ProcessVariables)(nil)

// NewProcessVariables binds s to processID.
func NewProcessVariables(s Store, processID string) *ProcessVariables {
	return &ProcessVariables{store: s, processID: processID}
}

func (p *ProcessVariables) ProcessID() string { return p.processID }

func (p *ProcessVariables) Variable(ctx context.Context, name string) ([]byte, error) {
	return p.store.GetVariable(ctx, p.processID, name)
}

func (p *ProcessVariables) SetVariable(ctx context.Context, name string, value []byte) error {
	return p.store.SetVariable(ctx, p.processID, name, value)
}

func (p *ProcessVariables) RemoveVariable(ctx context.Context, name string) error {
	return p.store.DeleteVariable(ctx, p.processID, name)
}
