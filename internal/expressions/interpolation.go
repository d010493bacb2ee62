package expressions

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/rendis/mtaflow/pkg/schema"
)

// Interpolate resolves ${{namespace.path}} references in a hook template
// (for example a task command) against scope. References are plain dot
// paths into Scope.Data; there is no expression evaluation.
func Interpolate(template string, scope *Scope) (string, error) {
	if !HasInterpolation(template) {
		return template, nil
	}
	data := scope.Data()

	var result strings.Builder
	result.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "${{")
		if idx == -1 {
			result.WriteString(template[i:])
			break
		}

		result.WriteString(template[i : i+idx])
		start := i + idx + 3

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "unclosed ${{ expression in %q", template)
		}
		end += start

		ref := strings.TrimSpace(template[start:end])
		if ref == "" {
			return "", schema.NewError(schema.ErrCodeValidation, "empty variable reference: ${{  }}")
		}
		if strings.Contains(ref, "${{") {
			return "", schema.NewError(schema.ErrCodeValidation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}

		val, err := resolveRef(ref, data)
		if err != nil {
			return "", err
		}
		result.WriteString(marshalInline(val))

		i = end + 2
	}

	return result.String(), nil
}

// resolveRef resolves a single path like "module.parameters.region".
func resolveRef(ref string, data map[string]any) (any, error) {
	namespace, path, _ := strings.Cut(ref, ".")
	root, ok := data[namespace]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, ref, strings.Join(Namespaces, ", ")).
			WithDetails(map[string]any{"expression": ref, "available_namespaces": Namespaces})
	}
	if path == "" {
		return root, nil
	}
	return traversePath(root, path, ref)
}

// traversePath navigates into nested maps using a dot-delimited path.
func traversePath(root any, path, ref string) (any, error) {
	current := root
	for i, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"empty segment in path %q at position %d", ref, i).
				WithDetails(map[string]any{"expression": ref})
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, ref, current).
				WithDetails(map[string]any{"expression": ref})
		}
		val, ok := m[seg]
		if !ok {
			available := slices.Sorted(maps.Keys(m))
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"field %q not found in %q; available: [%s]", seg, ref, strings.Join(available, ", ")).
				WithDetails(map[string]any{"expression": ref, "available_fields": available})
		}
		current = val
	}
	return current, nil
}

// marshalInline renders a resolved value into the template. Strings are
// embedded as is, objects and arrays as JSON.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool, int, int64, float64:
		return fmt.Sprint(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// HasInterpolation reports whether s contains any ${{...}} references.
func HasInterpolation(s string) bool {
	return strings.Contains(s, "${{")
}
