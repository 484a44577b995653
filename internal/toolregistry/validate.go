package toolregistry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache memoizes compiled schemas by their raw JSON text, the same
// pattern pkg/pluginsdk/validation.go uses for plugin config schemas.
var schemaCache sync.Map

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	key := string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// validateArguments checks params against a tool's declared parameter
// schema, rejecting malformed arguments before the tool implementation
// ever sees them ("dynamic JSON at the edges, typed inside").
func validateArguments(def ToolDefinition, params json.RawMessage) error {
	if len(def.Parameters) == 0 {
		return nil
	}
	schema, err := compileSchema(def.Parameters)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", def.Name, err)
	}

	var decoded any
	if len(params) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("decode arguments for %s: %w", def.Name, err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments for %s: %w", def.Name, err)
	}
	return nil
}
