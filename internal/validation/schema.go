// Package validation validates task payloads against a registered
// JSON Schema for the task's pool type.
package validation

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/aosanya/fleetctl/internal/agent"
)

// SchemaRegistry holds one optional JSON Schema per pool type. A pool
// type with no registered schema accepts any payload.
type SchemaRegistry struct {
	schemas map[agent.Type]json.RawMessage
}

// NewSchemaRegistry constructs an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[agent.Type]json.RawMessage)}
}

// Register associates schema with poolType, validating that schema is
// itself a well-formed JSON Schema before accepting it.
func (r *SchemaRegistry) Register(poolType agent.Type, schema json.RawMessage) error {
	if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema)); err != nil {
		return fmt.Errorf("invalid schema for pool type %s: %w", poolType, err)
	}
	r.schemas[poolType] = schema
	return nil
}

// Validate checks payload against poolType's registered schema, if
// any. A pool type with no registered schema always passes.
func (r *SchemaRegistry) Validate(poolType agent.Type, payload interface{}) error {
	schema, ok := r.schemas[poolType]
	if !ok || len(schema) == 0 {
		return nil
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewBytesLoader(payloadBytes),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msg := "task payload failed schema validation:"
		for _, desc := range result.Errors() {
			msg += fmt.Sprintf("\n  - %s", desc)
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}
