package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

var schemaTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"object":  true,
	"array":   true,
	"null":    true,
}

type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Enum        []any               `json:"enum,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
}

// ParameterSchema is the JSON-schema object describing a tool's arguments.
type ParameterSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition is a function the model may call. On the wire it is
// wrapped as {"type":"function","function":{...}}.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  ParameterSchema
}

type functionDefinitionJSON struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  ParameterSchema `json:"parameters"`
}

type toolDefinitionJSON struct {
	Type     string                 `json:"type"`
	Function functionDefinitionJSON `json:"function"`
}

func (definition ToolDefinition) MarshalJSON() ([]byte, error) {
	return json.Marshal(toolDefinitionJSON{
		Type: ToolTypeFunction,
		Function: functionDefinitionJSON{
			Name:        definition.Name,
			Description: definition.Description,
			Parameters:  definition.Parameters,
		},
	})
}

func (definition *ToolDefinition) UnmarshalJSON(data []byte) error {
	var wire toolDefinitionJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Type != "" && wire.Type != ToolTypeFunction {
		return fmt.Errorf("unsupported tool type %q", wire.Type)
	}
	*definition = ToolDefinition{
		Name:        wire.Function.Name,
		Description: wire.Function.Description,
		Parameters:  wire.Function.Parameters,
	}
	return nil
}

// NewFunctionTool builds a definition with an object schema.
func NewFunctionTool(name, description string, properties map[string]Property, required ...string) ToolDefinition {
	if properties == nil {
		properties = map[string]Property{}
	}
	return ToolDefinition{
		Name:        name,
		Description: description,
		Parameters: ParameterSchema{
			Type:       "object",
			Properties: properties,
			Required:   required,
		},
	}
}

func (definition ToolDefinition) Validate() error {
	option := "tools"
	name := strings.TrimSpace(definition.Name)
	if name == "" {
		return configErrorf(option, "tool name must not be empty")
	}
	if name != definition.Name {
		return configErrorf(option, "tool name %q has surrounding whitespace", definition.Name)
	}
	schema := definition.Parameters
	if schema.Type != "object" {
		return configErrorf(option, "tool %q: parameters type must be \"object\", got %q", name, schema.Type)
	}
	seen := make(map[string]bool, len(schema.Required))
	for _, requiredName := range schema.Required {
		if _, ok := schema.Properties[requiredName]; !ok {
			return configErrorf(option, "tool %q: required parameter %q is not a declared property", name, requiredName)
		}
		if seen[requiredName] {
			return configErrorf(option, "tool %q: required parameter %q listed twice", name, requiredName)
		}
		seen[requiredName] = true
	}

	propertyNames := make([]string, 0, len(schema.Properties))
	for propertyName := range schema.Properties {
		propertyNames = append(propertyNames, propertyName)
	}
	sort.Strings(propertyNames)
	for _, propertyName := range propertyNames {
		if err := validateProperty(schema.Properties[propertyName]); err != nil {
			return configErrorf(option, "tool %q: property %q: %v", name, propertyName, err)
		}
	}
	return nil
}

func validateProperty(property Property) error {
	if !schemaTypes[property.Type] {
		return fmt.Errorf("unsupported type %q", property.Type)
	}
	if property.Items != nil {
		if property.Type != "array" {
			return fmt.Errorf("items only allowed on array properties")
		}
		if err := validateProperty(*property.Items); err != nil {
			return fmt.Errorf("items: %w", err)
		}
	}
	for nestedName, nested := range property.Properties {
		if property.Type != "object" {
			return fmt.Errorf("properties only allowed on object properties")
		}
		if err := validateProperty(nested); err != nil {
			return fmt.Errorf("%s: %w", nestedName, err)
		}
	}
	return nil
}

// ValidateToolDefinitions checks every definition and that names are
// unique within one request.
func ValidateToolDefinitions(definitions []ToolDefinition) error {
	names := make(map[string]bool, len(definitions))
	for _, definition := range definitions {
		if err := definition.Validate(); err != nil {
			return err
		}
		if names[definition.Name] {
			return configErrorf("tools", "duplicate tool name %q", definition.Name)
		}
		names[definition.Name] = true
	}
	return nil
}
