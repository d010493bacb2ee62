package expressions

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/itchyny/gojq"

	"github.com/rendis/mtaflow/pkg/schema"
)

// Selector is a compiled jq query that picks hooks out of a scope. The query
// sees the scope with .hook.phase set and must yield hook objects.
type Selector struct {
	query string
	code  *gojq.Code
}

// NewSelector compiles query. $ENV and env are empty inside the query.
func NewSelector(query string) (*Selector, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "hook selection query %q: %s", query, err.Error()).WithCause(err)
	}
	code, err := gojq.Compile(parsed, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "hook selection query %q: %s", query, err.Error()).WithCause(err)
	}
	return &Selector{query: query, code: code}, nil
}

// MustSelector is NewSelector for queries known at compile time.
func MustSelector(query string) *Selector {
	s, err := NewSelector(query)
	if err != nil {
		panic(err)
	}
	return s
}

// Query returns the source of the query.
func (s *Selector) Query() string { return s.query }

// Select runs the query for phase and decodes every output into a Hook.
func (s *Selector) Select(ctx context.Context, scope *Scope, phase string) ([]schema.Hook, error) {
	data := scope.Data()
	data["hook"] = map[string]any{"phase": phase}

	var hooks []schema.Hook
	iter := s.code.RunWithContext(ctx, data)
	for {
		v, ok := iter.Next()
		if !ok {
			return hooks, nil
		}
		if err, isErr := v.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "hook selection failed: %s", err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"query": s.query})
		}
		hook, err := decodeHook(v)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, hook)
	}
}

func decodeHook(v any) (schema.Hook, error) {
	var hook schema.Hook
	raw, err := json.Marshal(v)
	if err == nil {
		err = json.Unmarshal(raw, &hook)
	}
	if err == nil && hook.Name == "" {
		err = errNoHookName
	}
	if err != nil {
		return hook, schema.NewErrorf(schema.ErrCodeValidation,
			"hook selection query must yield hook objects: %s", err.Error()).WithCause(err)
	}
	return hook, nil
}

var errNoHookName = errors.New("output has no hook name")
