package validation

import (
	"github.com/rendis/mtaflow/internal/expressions"
	"github.com/rendis/mtaflow/pkg/schema"
)

// DescriptorValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (names, hook phases, conditions, templates)
// 3. Order (deployed_after references and cycles)
type DescriptorValidator struct {
	jsonSchema *JSONSchemaValidator
	engines    *expressions.Engines
}

// NewDescriptorValidator creates a DescriptorValidator. engines may be nil
// to skip condition compilation.
func NewDescriptorValidator(engines *expressions.Engines) (*DescriptorValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DescriptorValidator{jsonSchema: jsv, engines: engines}, nil
}

// Validate runs the pipeline and returns the aggregated report.
// Structural problems short-circuit: later stages are skipped.
func (dv *DescriptorValidator) Validate(desc *schema.Descriptor) *Report {
	if desc == nil {
		return &Report{Problems: []Issue{root.issue(schema.ErrCodeValidation, "deployment descriptor is nil")}}
	}

	report := structural(dv.jsonSchema.ValidateDescriptor(desc))
	if !report.OK() {
		return report
	}

	report.include(validateSemantic(desc, dv.engines))
	if report.OK() {
		report.include(validateOrder(desc))
	}
	return report
}

// ValidateDescriptor returns the pipeline report as a content error, or nil.
func (dv *DescriptorValidator) ValidateDescriptor(desc *schema.Descriptor) error {
	return dv.Validate(desc).Err()
}

// structural converts a JSON Schema error into a Report.
func structural(err error) *Report {
	report := &Report{}
	if err == nil {
		return report
	}

	stepErr, ok := err.(*schema.StepError)
	if !ok {
		report.reject(root.issue(schema.ErrCodeValidation, "%s", err.Error()))
		return report
	}
	if violations, ok := stepErr.Details["violations"].([]string); ok {
		for _, v := range violations {
			report.reject(root.issue(schema.ErrCodeValidation, "%s", v))
		}
		return report
	}
	report.reject(root.issue(schema.ErrCodeValidation, "%s", stepErr.Message))
	return report
}
