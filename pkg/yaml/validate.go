package yaml

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-yaml"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator validates decoded YAML values against a JSON schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the JSON schema in schemaData, identified by url.
func NewValidator(url string, schemaData []byte) (*Validator, error) {
	schema, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaData))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()

	err = compiler.AddResource(url, schema)
	if err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	jss, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Validator{schema: jss}, nil
}

// Validate validates data. A failure is returned as an [*Error] whose path
// points at the most specific offending value.
func (v *Validator) Validate(data any) error {
	instance, err := toJSONValue(data)
	if err != nil {
		return err
	}

	err = v.schema.Validate(instance)
	if err == nil {
		return nil
	}

	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return fmt.Errorf("schema validation: %w", err)
	}

	leaf := deepestCause(validationErr)

	return NewError(
		errors.New(leaf.Error()),
		WithPath(pathFromLocation(leaf.InstanceLocation)),
	)
}

// toJSONValue converts decoded YAML into the value types the validator
// expects (numbers as [json.Number]).
func toJSONValue(data any) (any, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	return v, nil
}

// deepestCause returns the cause with the longest instance location.
func deepestCause(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	deepest := err

	for _, cause := range err.Causes {
		candidate := deepestCause(cause)
		if len(candidate.InstanceLocation) > len(deepest.InstanceLocation) {
			deepest = candidate
		}
	}

	return deepest
}

func pathFromLocation(location []string) *yaml.Path {
	pb := NewPathBuilder().Root()

	for _, part := range location {
		if i, err := strconv.ParseUint(part, 10, 64); err == nil {
			pb = pb.Index(uint(i))
		} else {
			pb = pb.Child(part)
		}
	}

	return pb.Build()
}
