package variables

import (
	"context"
	"sort"
	"sync"
)

// ExecutionContext is the host engine's variable store for one process
// instance. Values are opaque byte payloads; typing lives in Variable.
type ExecutionContext interface {
	// ProcessID returns the process instance the variables belong to.
	ProcessID() string
	// Variable returns the stored payload, or nil when the name is unset.
	Variable(ctx context.Context, name string) ([]byte, error)
	// SetVariable stores value under name, replacing any previous payload.
	SetVariable(ctx context.Context, name string, value []byte) error
	// RemoveVariable deletes name. Removing an unset name is not an error.
	RemoveVariable(ctx context.Context, name string) error
}

// MapContext is an in-memory ExecutionContext. It is safe for concurrent use.
type MapContext struct {
	processID string

	mu   sync.RWMutex
	vars map[string][]byte
}

// NewMapContext returns an empty MapContext for the given process instance.
func NewMapContext(processID string) *MapContext {
	return &MapContext{processID: processID, vars: make(map[string][]byte)}
}

func (m *MapContext) ProcessID() string { return m.processID }

func (m *MapContext) Variable(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vars[name]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MapContext) SetVariable(_ context.Context, name string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vars[name] = append([]byte(nil), value...)
	return nil
}

func (m *MapContext) RemoveVariable(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vars, name)
	return nil
}

// Names returns the set variable names, sorted.
func (m *MapContext) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.vars))
	for k := range m.vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
