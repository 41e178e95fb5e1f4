package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	carSchemaOnce sync.Once
	carSchema     *jsonschema.Schema
	carSchemaErr  error
)

// CompileSchema compiles a schema map under the given resource name.
func CompileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	s, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return s, nil
}

// ValidateCar checks a decoded completion object against the car schema,
// which is compiled on first use.
func ValidateCar(v any) error {
	carSchemaOnce.Do(func() {
		carSchema, carSchemaErr = CompileSchema("car.json", BuildCarJSONSchema())
	})
	if carSchemaErr != nil {
		return carSchemaErr
	}
	if err := carSchema.Validate(v); err != nil {
		return fmt.Errorf("completion does not match car schema: %w", err)
	}
	return nil
}
