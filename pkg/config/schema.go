package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/macropower/watchdo/pkg/yaml"
)

// SchemaURL identifies the configuration schema.
const SchemaURL = "https://github.com/macropower/watchdo/watchdo.schema.json"

var validator = sync.OnceValues(func() (*yaml.Validator, error) {
	data, err := Schema()
	if err != nil {
		return nil, err
	}

	v, err := yaml.NewValidator(SchemaURL, data)
	if err != nil {
		return nil, fmt.Errorf("create validator: %w", err)
	}

	return v, nil
})

// Schema returns the JSON schema of configuration files.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		ExpandedStruct: true,
	}

	s := r.Reflect(&Config{})
	s.ID = SchemaURL
	s.Title = "watchdo configuration"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	return data, nil
}

// JSONSchemaExtend implements [jsonschema.Extender].
func (TaskConfig) JSONSchemaExtend(jss *jsonschema.Schema) {
	env, ok := jss.Properties.Get("env")
	if ok {
		env.PropertyNames = &jsonschema.Schema{
			Type:    "string",
			Pattern: `^[A-Za-z_][A-Za-z0-9_]*$`,
		}
	}
}

// JSONSchemaExtend implements [jsonschema.Extender].
func (Config) JSONSchemaExtend(jss *jsonschema.Schema) {
	tasks, ok := jss.Properties.Get("tasks")
	if ok {
		tasks.PropertyNames = &jsonschema.Schema{
			Type:    "string",
			Pattern: `^[A-Za-z0-9][A-Za-z0-9_.-]*$`,
		}
	}
}

// Validate validates a decoded configuration document against [Schema].
func Validate(data any) error {
	v, err := validator()
	if err != nil {
		return err
	}

	err = v.Validate(data)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	return nil
}
