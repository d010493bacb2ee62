package expressions

import (
	"encoding/json"

	"github.com/rendis/mtaflow/pkg/schema"
)

// Namespaces are the top-level names conditions, selection queries and
// command templates can reference.
var Namespaces = []string{"module", "params", "process", "hook"}

// Scope is the data hook expressions are evaluated against. Values are plain
// JSON shapes (map[string]any, []any, float64, string, bool, nil) so the
// same scope works for CEL, Expr and jq. Integers from the descriptor become
// float64.
type Scope struct {
	Module  map[string]any // the module being deployed
	Params  map[string]any // descriptor-level parameters
	Process map[string]any // process metadata: id, descriptor id and version
	Hook    map[string]any // hook being evaluated plus the current phase
}

// NewScope builds a Scope for module within desc. module may be nil when no
// module is selected yet.
func NewScope(processID string, desc *schema.Descriptor, module *schema.Module) (*Scope, error) {
	s := &Scope{
		Process: map[string]any{"id": processID},
		Hook:    map[string]any{},
	}
	if desc != nil {
		s.Process["descriptor"] = desc.ID
		s.Process["version"] = desc.Version
		params, err := toMap(desc.Parameters)
		if err != nil {
			return nil, err
		}
		s.Params = params
	}
	if module != nil {
		m, err := toMap(module)
		if err != nil {
			return nil, err
		}
		s.Module = m
	}
	return s, nil
}

// WithHook returns a copy of the scope with hook and phase set.
func (s *Scope) WithHook(hook schema.Hook, phase string) (*Scope, error) {
	h, err := toMap(hook)
	if err != nil {
		return nil, err
	}
	h["phase"] = phase
	cp := *s
	cp.Hook = h
	return &cp, nil
}

// Data returns a deep copy of the scope keyed by namespace. Missing
// namespaces are empty maps.
func (s *Scope) Data() map[string]any {
	data := map[string]any{
		"module":  deepCopyMap(s.Module),
		"params":  deepCopyMap(s.Params),
		"process": deepCopyMap(s.Process),
		"hook":    deepCopyMap(s.Hook),
	}
	for k, v := range data {
		if v.(map[string]any) == nil {
			data[k] = map[string]any{}
		}
	}
	return data
}

// toMap converts a struct into its JSON object form.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSerialization, "encode scope value: %s", err.Error()).WithCause(err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSerialization, "decode scope value: %s", err.Error()).WithCause(err)
	}
	return out, nil
}

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
