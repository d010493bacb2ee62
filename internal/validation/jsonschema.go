package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/mtaflow/pkg/schema"
)

const descriptorSchemaURL = "https://mtaflow.dev/schemas/descriptor.json"

// descriptorSchemaJSON is the JSON Schema for deployment descriptors.
// Embedded as a constant to avoid filesystem dependencies.
const descriptorSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://mtaflow.dev/schemas/descriptor.json",
  "type": "object",
  "required": ["id", "modules"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "version": { "type": "string" },
    "modules": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/module" }
    },
    "parameters": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "name": {
      "type": "string",
      "pattern": "^[A-Za-z0-9][A-Za-z0-9_.-]*$"
    },
    "module": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "$ref": "#/$defs/name" },
        "type": { "type": "string" },
        "app": { "type": "string" },
        "task": { "$ref": "#/$defs/task" },
        "hooks": {
          "type": "array",
          "items": { "$ref": "#/$defs/hook" }
        },
        "parameters": { "type": "object" },
        "deployed_after": {
          "type": "array",
          "items": { "$ref": "#/$defs/name" }
        }
      },
      "additionalProperties": false
    },
    "task": {
      "type": "object",
      "required": ["command"],
      "properties": {
        "name": { "type": "string" },
        "command": { "type": "string", "minLength": 1 },
        "memory_mb": { "type": "integer", "minimum": 0 },
        "disk_mb": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    },
    "hook": {
      "type": "object",
      "required": ["name", "phases", "parameters"],
      "properties": {
        "name": { "$ref": "#/$defs/name" },
        "type": { "type": "string", "enum": ["", "task"] },
        "phases": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "string",
            "pattern": "^[A-Za-z0-9_-]+\\.(before|after)$"
          }
        },
        "condition": { "type": "string" },
        "condition_engine": { "type": "string", "enum": ["", "cel", "expr"] },
        "parameters": {
          "type": "object",
          "required": ["command"],
          "properties": {
            "command": { "type": "string", "minLength": 1 },
            "memory_mb": { "type": "integer", "minimum": 0 },
            "disk_mb": { "type": "integer", "minimum": 0 }
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks descriptor documents against the descriptor
// JSON Schema (Draft 2020-12). It is safe for concurrent use.
type JSONSchemaValidator struct {
	descriptorSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the descriptor schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(descriptorSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal descriptor schema: %w", err)
	}
	if err := c.AddResource(descriptorSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add descriptor schema resource: %w", err)
	}

	compiled, err := c.Compile(descriptorSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile descriptor schema: %w", err)
	}
	return &JSONSchemaValidator{descriptorSchema: compiled}, nil
}

// ValidateDescriptor validates a decoded Descriptor.
func (v *JSONSchemaValidator) ValidateDescriptor(desc *schema.Descriptor) error {
	if desc == nil {
		return schema.NewError(schema.ErrCodeValidation, "deployment descriptor is nil")
	}
	doc, err := toJSONValue(desc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize deployment descriptor").WithCause(err)
	}
	return v.ValidateDocument(doc)
}

// ValidateDocument validates a raw JSON document (as produced by
// jsonschema.UnmarshalJSON). Unknown keys are rejected here, before they are
// silently dropped by decoding into a Descriptor.
func (v *JSONSchemaValidator) ValidateDocument(doc any) error {
	if err := v.descriptorSchema.Validate(doc); err != nil {
		return toStepError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toStepError converts a jsonschema.ValidationError into a VALIDATION_ERROR
// listing every violation with its location.
func toStepError(err error) *schema.StepError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
