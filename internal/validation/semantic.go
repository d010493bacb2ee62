package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/mtaflow/internal/expressions"
	"github.com/rendis/mtaflow/pkg/schema"
)

// validateSemantic performs the checks JSON Schema cannot express: unique
// module and hook names, hook conditions that compile, and template
// references that name a known namespace.
func validateSemantic(desc *schema.Descriptor, engines *expressions.Engines) *Report {
	report := &Report{}

	modules := make(map[string]int, len(desc.Modules))
	for i := range desc.Modules {
		m := &desc.Modules[i]
		at := moduleAt(i, m)

		if prev, dup := modules[m.Name]; dup {
			report.reject(at.field("name").issue(schema.ErrCodeValidation,
				"duplicate module name %q (first declared at modules[%d])", m.Name, prev))
		} else {
			modules[m.Name] = i
		}

		if (m.Task != nil || len(m.Hooks) > 0) && m.App == "" {
			report.reject(at.field("app").issue(schema.ErrCodeMissingParameter, "runs tasks but has no app"))
		}
		if m.Task != nil {
			checkTemplate(m.Task.Command, at.field("task.command"), report)
		}

		hooks := make(map[string]bool, len(m.Hooks))
		for j := range m.Hooks {
			validateHook(&m.Hooks[j], at.hookAt(j, &m.Hooks[j]), hooks, engines, report)
		}
	}

	return report
}

func validateHook(h *schema.Hook, at location, seen map[string]bool, engines *expressions.Engines, report *Report) {
	if seen[h.Name] {
		report.reject(at.field("name").issue(schema.ErrCodeValidation, "duplicate hook name"))
	}
	seen[h.Name] = true

	phases := make(map[string]bool, len(h.Phases))
	for k, phase := range h.Phases {
		pat := at.field(fmt.Sprintf("phases[%d]", k))
		if _, _, ok := schema.ParseHookPhase(phase); !ok {
			report.reject(pat.issue(schema.ErrCodeValidation,
				"invalid hook phase %q: expected <step>.before or <step>.after", phase))
		}
		if phases[phase] {
			report.note(pat.issue(schema.ErrCodeValidation, "hook phase %q listed twice", phase))
		}
		phases[phase] = true
	}

	checkTemplate(h.Parameters.Command, at.field("parameters.command"), report)

	if h.Condition == "" || engines == nil {
		return
	}
	cond, err := engines.Condition(h.ConditionEngine)
	if err != nil {
		report.reject(at.field("condition_engine").issue(schema.ErrCodeValidation, "%s", err.Error()))
		return
	}
	if err := cond.Compile(h.Condition); err != nil {
		msg := err.Error()
		if se, ok := schema.AsStepError(err); ok {
			msg = se.Message
		}
		report.reject(at.field("condition").issue(schema.ErrCodeValidation, "%s", msg))
	}
}

// checkTemplate reports ${{...}} references outside the known namespaces.
func checkTemplate(template string, at location, report *Report) {
	rest := template
	for {
		start := strings.Index(rest, "${{")
		if start == -1 {
			return
		}
		rest = rest[start+3:]
		end := strings.Index(rest, "}}")
		if end == -1 {
			report.reject(at.issue(schema.ErrCodeValidation, "unclosed ${{ expression"))
			return
		}
		ref := strings.TrimSpace(rest[:end])
		namespace, _, _ := strings.Cut(ref, ".")
		if !isNamespace(namespace) {
			report.reject(at.issue(schema.ErrCodeValidation, "unknown namespace %q in ${{%s}}; available: %s",
				namespace, ref, strings.Join(expressions.Namespaces, ", ")))
		}
		rest = rest[end+2:]
	}
}

func isNamespace(name string) bool {
	for _, ns := range expressions.Namespaces {
		if ns == name {
			return true
		}
	}
	return false
}
