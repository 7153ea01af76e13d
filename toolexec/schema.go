package toolexec

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ulifeai/agentb/model"
)

// SchemaValidator compiles each tool's model.ToolDefinition.JSONSchema() once
// and validates decoded tool-call arguments against it before Execute runs,
// so a tool body never has to re-derive the constraints the LLM was already
// shown.
type SchemaValidator struct {
	mu     sync.Mutex
	cached map[string]*jsonschema.Schema
}

// NewSchemaValidator constructs an empty validator. Schemas are compiled
// lazily on first use, keyed by tool name.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{cached: make(map[string]*jsonschema.Schema)}
}

// Validate checks args against def's derived JSON schema, compiling and
// caching the schema on first use for this tool name.
func (v *SchemaValidator) Validate(def model.ToolDefinition, args map[string]any) error {
	schema, err := v.compiled(def)
	if err != nil {
		return fmt.Errorf("toolexec: compile schema for %q: %w", def.Name, err)
	}
	// jsonschema validates against decoded JSON values; round-trip nil args
	// through an empty object so a tool with only optional parameters isn't
	// rejected for omitting input entirely.
	var doc any = map[string]any{}
	if args != nil {
		doc = args
	}
	if err := schema.Validate(doc); err != nil {
		return err
	}
	return nil
}

func (v *SchemaValidator) compiled(def model.ToolDefinition) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.cached[def.Name]; ok {
		return s, nil
	}

	raw, err := json.Marshal(def.JSONSchema())
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	resource := def.Name + ".json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, err
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return nil, err
	}
	v.cached[def.Name] = schema
	return schema, nil
}
