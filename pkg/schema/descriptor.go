package schema

import "strings"

// Descriptor is the subset of a merged deployment descriptor the engine
// reads: modules, their target applications, tasks and hooks.
type Descriptor struct {
	ID         string         `json:"id" yaml:"id"`
	Version    string         `json:"version" yaml:"version"`
	Modules    []Module       `json:"modules" yaml:"modules"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Module is one deployable unit of a multi-target application.
type Module struct {
	Name       string          `json:"name" yaml:"name"`
	Type       string          `json:"type,omitempty" yaml:"type,omitempty"`
	App        string          `json:"app,omitempty" yaml:"app,omitempty"` // application GUID tasks run against
	Task       *TaskDefinition `json:"task,omitempty" yaml:"task,omitempty"`
	Hooks      []Hook          `json:"hooks,omitempty" yaml:"hooks,omitempty"`
	Parameters map[string]any  `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	// DeployedAfter names modules that must be deployed before this one.
	DeployedAfter []string `json:"deployed_after,omitempty" yaml:"deployed_after,omitempty"`
}

// Module returns the module with the given name, or nil.
func (d *Descriptor) Module(name string) *Module {
	if d == nil {
		return nil
	}
	for i := range d.Modules {
		if d.Modules[i].Name == name {
			return &d.Modules[i]
		}
	}
	return nil
}

// ModuleNames returns module names in declaration order.
func (d *Descriptor) ModuleNames() []string {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.Modules))
	for _, m := range d.Modules {
		names = append(names, m.Name)
	}
	return names
}

// TaskDefinition describes a one-off task run on a module's application.
type TaskDefinition struct {
	Name     string `json:"name" yaml:"name"`
	Command  string `json:"command" yaml:"command"`
	MemoryMB int    `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`
	DiskMB   int    `json:"disk_mb,omitempty" yaml:"disk_mb,omitempty"`
}

// HookWhen anchors a hook before or after a step's primary action.
type HookWhen string

const (
	HookBefore HookWhen = "before"
	HookAfter  HookWhen = "after"
)

// HookPhase joins a step anchor and a HookWhen, e.g. "execute-task.before".
func HookPhase(anchor string, when HookWhen) string {
	return anchor + "." + string(when)
}

// ParseHookPhase splits "anchor.when". ok is false for malformed values.
func ParseHookPhase(phase string) (anchor string, when HookWhen, ok bool) {
	i := strings.LastIndex(phase, ".")
	if i <= 0 || i == len(phase)-1 {
		return "", "", false
	}
	when = HookWhen(phase[i+1:])
	if when != HookBefore && when != HookAfter {
		return "", "", false
	}
	return phase[:i], when, true
}

// Hook types.
const (
	HookTypeTask = "task"
)

// Hook is an externally configured action attached to a module and one or
// more hook phases. Hooks only have side effects.
type Hook struct {
	Name            string         `json:"name" yaml:"name"`
	Type            string         `json:"type,omitempty" yaml:"type,omitempty"` // task (default)
	Phases          []string       `json:"phases" yaml:"phases"`
	Condition       string         `json:"condition,omitempty" yaml:"condition,omitempty"`
	ConditionEngine string         `json:"condition_engine,omitempty" yaml:"condition_engine,omitempty"` // cel (default) | expr
	Parameters      HookParameters `json:"parameters" yaml:"parameters"`
}

// HookParameters configure the task a hook runs.
type HookParameters struct {
	Command  string `json:"command" yaml:"command"`
	MemoryMB int    `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`
	DiskMB   int    `json:"disk_mb,omitempty" yaml:"disk_mb,omitempty"`
}
