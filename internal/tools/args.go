package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateArgs checks a tool call's arguments against the handle's parameter
// schema. A handle without a schema accepts anything. Validation failures are
// ToolErrors for the model to read, never crashes.
func ValidateArgs(h *Handle, args map[string]any) error {
	if len(h.Parameters) == 0 {
		return nil
	}

	// Round-trip through JSON so numeric types match what the validator
	// expects from decoded JSON documents.
	raw, err := json.Marshal(h.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s: marshal schema: %w", h.Name, err)
	}
	var schemaDoc any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return fmt.Errorf("tool %s: parse schema: %w", h.Name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool.json", schemaDoc); err != nil {
		return fmt.Errorf("tool %s: add schema: %w", h.Name, err)
	}
	schema, err := compiler.Compile("tool.json")
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", h.Name, err)
	}

	argsRaw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("tool %s: marshal arguments: %w", h.Name, err)
	}
	var argsDoc any
	if err := json.Unmarshal(argsRaw, &argsDoc); err != nil {
		return fmt.Errorf("tool %s: parse arguments: %w", h.Name, err)
	}

	if err := schema.Validate(argsDoc); err != nil {
		return fmt.Errorf("tool %s: invalid arguments: %w", h.Name, err)
	}
	return nil
}
