package validation

import (
	"fmt"

	"github.com/rendis/mtaflow/pkg/schema"
)

// Issue is one problem found in a deployment descriptor. Module and Hook
// name the declaration it sits in, when there is one.
type Issue struct {
	Path    string `json:"path"`
	Module  string `json:"module,omitempty"`
	Hook    string `json:"hook,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	switch {
	case i.Hook != "":
		return fmt.Sprintf("module %q hook %q: %s", i.Module, i.Hook, i.Message)
	case i.Module != "":
		return fmt.Sprintf("module %q: %s", i.Module, i.Message)
	}
	return i.Message
}

// Report collects what the pipeline found in one descriptor. Problems reject
// the descriptor, notes do not.
type Report struct {
	Problems []Issue `json:"problems,omitempty"`
	Notes    []Issue `json:"notes,omitempty"`
}

// OK reports whether the descriptor can be deployed.
func (r *Report) OK() bool { return len(r.Problems) == 0 }

func (r *Report) reject(issue Issue) { r.Problems = append(r.Problems, issue) }

func (r *Report) note(issue Issue) { r.Notes = append(r.Notes, issue) }

func (r *Report) include(other *Report) {
	r.Problems = append(r.Problems, other.Problems...)
	r.Notes = append(r.Notes, other.Notes...)
}

// Err returns nil when the report is OK. When every problem is a missing
// parameter the error is MISSING_PARAMETER, otherwise VALIDATION_ERROR; both
// are content errors. The issues travel in the error details.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	code := schema.ErrCodeMissingParameter
	for _, p := range r.Problems {
		if p.Code != schema.ErrCodeMissingParameter {
			code = schema.ErrCodeValidation
			break
		}
	}

	msg := r.Problems[0].String()
	if extra := len(r.Problems) - 1; extra > 0 {
		msg = fmt.Sprintf("%s (and %d more)", msg, extra)
	}
	details := map[string]any{"problems": r.Problems}
	if len(r.Notes) > 0 {
		details["notes"] = r.Notes
	}
	return schema.NewError(code, "invalid deployment descriptor: "+msg).WithDetails(details)
}

// location points into the descriptor.
type location struct {
	path   string
	module string
	hook   string
}

var root = location{path: "/"}

func moduleAt(i int, m *schema.Module) location {
	return location{path: fmt.Sprintf("modules[%d]", i), module: m.Name}
}

func (l location) hookAt(j int, h *schema.Hook) location {
	return location{path: fmt.Sprintf("%s.hooks[%d]", l.path, j), module: l.module, hook: h.Name}
}

func (l location) field(name string) location {
	l.path += "." + name
	return l
}

func (l location) issue(code, format string, args ...any) Issue {
	return Issue{Path: l.path, Module: l.module, Hook: l.hook, Code: code, Message: fmt.Sprintf(format, args...)}
}
