package variables

import (
	"context"
	"time"

	"github.com/rendis/mtaflow/pkg/schema"
)

// Variable describes a typed execution-context entry: its key, how it is
// encoded and what reading it returns when unset.
type Variable[T any] struct {
	Name       string
	Serializer Serializer[T]
	// Default is returned when the variable is unset and not Required.
	Default T
	// Required makes reading an unset variable a MISSING_PARAMETER content error.
	Required bool
}

// Get reads v from ec. Unset variables yield v.Default, or a content error
// when v.Required.
func Get[T any](ctx context.Context, ec ExecutionContext, v Variable[T]) (T, error) {
	raw, err := ec.Variable(ctx, v.Name)
	if err != nil {
		var zero T
		return zero, schema.NewErrorf(schema.ErrCodeStore, "read variable %q: %s", v.Name, err.Error()).WithCause(err)
	}
	if raw == nil {
		if v.Required {
			var zero T
			return zero, schema.NewErrorf(schema.ErrCodeMissingParameter, "required variable %q is not set", v.Name).
				WithDetails(map[string]any{"variable": v.Name})
		}
		return v.Default, nil
	}
	out, err := v.Serializer.Deserialize(raw)
	if err != nil {
		var zero T
		return zero, wrapVariable(v.Name, err)
	}
	return out, nil
}

// Lookup is Get without defaults: ok is false when the variable is unset.
func Lookup[T any](ctx context.Context, ec ExecutionContext, v Variable[T]) (value T, ok bool, err error) {
	raw, err := ec.Variable(ctx, v.Name)
	if err != nil {
		return value, false, schema.NewErrorf(schema.ErrCodeStore, "read variable %q: %s", v.Name, err.Error()).WithCause(err)
	}
	if raw == nil {
		return value, false, nil
	}
	value, err = v.Serializer.Deserialize(raw)
	if err != nil {
		return value, false, wrapVariable(v.Name, err)
	}
	return value, true, nil
}

// Set encodes value completely before a single write, so readers never see
// a partially written payload.
func Set[T any](ctx context.Context, ec ExecutionContext, v Variable[T], value T) error {
	raw, err := v.Serializer.Serialize(value)
	if err != nil {
		return wrapVariable(v.Name, err)
	}
	if err := ec.SetVariable(ctx, v.Name, raw); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "write variable %q: %s", v.Name, err.Error()).WithCause(err)
	}
	return nil
}

// Remove unsets v.
func Remove[T any](ctx context.Context, ec ExecutionContext, v Variable[T]) error {
	if err := ec.RemoveVariable(ctx, v.Name); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "remove variable %q: %s", v.Name, err.Error()).WithCause(err)
	}
	return nil
}

func wrapVariable(name string, err error) error {
	if stepErr, ok := schema.AsStepError(err); ok {
		details := make(map[string]any, len(stepErr.Details)+1)
		for k, v := range stepErr.Details {
			details[k] = v
		}
		details["variable"] = name
		return stepErr.Clone().WithDetails(details)
	}
	return schema.NewErrorf(schema.ErrCodeSerialization, "variable %q: %s", name, err.Error()).WithCause(err)
}

// Constructors for the common variable shapes.

// String declares a scalar string variable.
func String(name string, def string) Variable[string] {
	return Variable[string]{Name: name, Serializer: Scalar[string](), Default: def}
}

// Int declares a scalar int variable.
func Int(name string, def int) Variable[int] {
	return Variable[int]{Name: name, Serializer: Scalar[int](), Default: def}
}

// Bool declares a scalar bool variable.
func Bool(name string, def bool) Variable[bool] {
	return Variable[bool]{Name: name, Serializer: Scalar[bool](), Default: def}
}

// Time declares a scalar timestamp variable.
func Time(name string) Variable[time.Time] {
	return Variable[time.Time]{Name: name, Serializer: Scalar[time.Time]()}
}

// Enum declares a variable holding a named string type.
func Enum[T ~string](name string, def T) Variable[T] {
	return Variable[T]{Name: name, Serializer: Text[T](), Default: def}
}

// Object declares a JSON-encoded variable.
func Object[T any](name string) Variable[T] {
	return Variable[T]{Name: name, Serializer: JSON[T]()}
}

// Collection declares a binary-encoded collection variable.
func Collection[T any](name string) Variable[[]T] {
	return Variable[[]T]{Name: name, Serializer: Binary[[]T]()}
}
