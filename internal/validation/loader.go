package validation

import (
	"bytes"
	"encoding/json"
	"os"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/rendis/mtaflow/pkg/schema"
)

// LoadDescriptor reads a YAML or JSON deployment descriptor from path and
// runs ParseDescriptor on it.
func LoadDescriptor(path string) (*schema.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.ContentErrorf("read deployment descriptor %s: %s", path, err.Error()).WithCause(err)
	}
	return ParseDescriptor(data)
}

// ParseDescriptor decodes a YAML or JSON descriptor, checks the raw document
// against the descriptor schema and returns the typed result. Every failure
// is a content error.
func ParseDescriptor(data []byte) (*schema.Descriptor, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, schema.ContentError("deployment descriptor is empty")
	}

	// JSON is a subset of YAML, so one decoder serves both.
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, schema.ContentErrorf("parse deployment descriptor: %s", err.Error()).WithCause(err)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, schema.ContentErrorf("deployment descriptor is not a JSON-compatible document: %s", err.Error()).WithCause(err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return nil, schema.ContentErrorf("decode deployment descriptor: %s", err.Error()).WithCause(err)
	}
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	if err := jsv.ValidateDocument(doc); err != nil {
		return nil, err
	}

	var desc schema.Descriptor
	if err := json.Unmarshal(encoded, &desc); err != nil {
		return nil, schema.ContentErrorf("decode deployment descriptor: %s", err.Error()).WithCause(err)
	}
	return &desc, nil
}
