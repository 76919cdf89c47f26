package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/adriankopytko/chatloop/internal/llm"
)

// ValidateArguments checks decoded arguments against a tool's parameter
// schema. Types are matched exactly: "5" is not an integer and 5.5 is
// not an integer. Arguments the schema does not declare are rejected.
func ValidateArguments(schema llm.ParameterSchema, arguments map[string]any) error {
	if arguments == nil {
		arguments = map[string]any{}
	}

	for _, field := range schema.Required {
		if _, exists := arguments[field]; !exists {
			return fmt.Errorf("missing required argument %q", field)
		}
	}

	keys := make([]string, 0, len(arguments))
	for key := range arguments {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		property, ok := schema.Properties[key]
		if !ok {
			return fmt.Errorf("unexpected argument %q", key)
		}
		if err := validateValue(arguments[key], property); err != nil {
			return fmt.Errorf("argument %q: %w", key, err)
		}
	}
	return nil
}

func validateValue(value any, property llm.Property) error {
	if err := validateType(value, property.Type); err != nil {
		return err
	}
	if len(property.Enum) > 0 && !enumContains(property.Enum, value) {
		return fmt.Errorf("value %v is not one of %v", value, property.Enum)
	}

	switch typed := value.(type) {
	case []any:
		if property.Items == nil {
			return nil
		}
		for index, item := range typed {
			if err := validateValue(item, *property.Items); err != nil {
				return fmt.Errorf("item %d: %w", index, err)
			}
		}
	case map[string]any:
		for key, nested := range property.Properties {
			item, exists := typed[key]
			if !exists {
				continue
			}
			if err := validateValue(item, nested); err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
		}
	}
	return nil
}

func validateType(value any, expected string) error {
	switch expected {
	case "string":
		if _, ok := value.(string); ok {
			return nil
		}
	case "number":
		if isNumber(value) {
			return nil
		}
	case "integer":
		if isInteger(value) {
			return nil
		}
	case "boolean":
		if _, ok := value.(bool); ok {
			return nil
		}
	case "object":
		if _, ok := value.(map[string]any); ok {
			return nil
		}
	case "array":
		if _, ok := value.([]any); ok {
			return nil
		}
	case "null":
		if value == nil {
			return nil
		}
	default:
		return fmt.Errorf("unsupported schema type %q", expected)
	}
	return fmt.Errorf("expected %s but got %s", expected, jsonTypeName(value))
}

func isNumber(value any) bool {
	switch v := value.(type) {
	case float32, float64:
		return true
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		_, err := v.Float64()
		return err == nil
	}
	return false
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return !math.IsInf(float64(v), 0) && math.Trunc(float64(v)) == float64(v)
	case float64:
		return !math.IsInf(v, 0) && math.Trunc(v) == v
	case json.Number:
		_, err := v.Int64()
		return err == nil
	}
	return false
}

func enumContains(enum []any, value any) bool {
	for _, candidate := range enum {
		if isNumber(candidate) && isNumber(value) {
			if toFloat(candidate) == toFloat(value) {
				return true
			}
			continue
		}
		if reflect.DeepEqual(candidate, value) {
			return true
		}
	}
	return false
}

func toFloat(value any) float64 {
	switch v := value.(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case json.Number:
		parsed, _ := v.Float64()
		return parsed
	}
	return math.NaN()
}

func jsonTypeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	if isNumber(value) {
		return "number"
	}
	return fmt.Sprintf("%T", value)
}
