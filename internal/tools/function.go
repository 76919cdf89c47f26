package tools

import (
	"fmt"

	"github.com/adriankopytko/chatloop/internal/llm"
)

type Func func(ctx ToolContext, arguments map[string]any) (any, error)

// FunctionTool adapts a plain function and its definition to Tool.
type FunctionTool struct {
	definition llm.ToolDefinition
	fn         Func
}

func NewFunctionTool(definition llm.ToolDefinition, fn Func) FunctionTool {
	return FunctionTool{definition: definition, fn: fn}
}

func (tool FunctionTool) Name() string {
	return tool.definition.Name
}

func (tool FunctionTool) Definition() llm.ToolDefinition {
	return tool.definition
}

func (tool FunctionTool) Execute(ctx ToolContext, arguments map[string]any) (any, error) {
	if tool.fn == nil {
		return nil, fmt.Errorf("tool %s has no implementation", tool.definition.Name)
	}
	return tool.fn(ctx, arguments)
}

// StringArgument returns a string argument, or fallback when it is absent.
func StringArgument(arguments map[string]any, key, fallback string) string {
	if value, ok := arguments[key].(string); ok {
		return value
	}
	return fallback
}

// IntArgument returns an integral argument, or fallback when it is absent.
func IntArgument(arguments map[string]any, key string, fallback int) int {
	if value, ok := arguments[key].(float64); ok {
		return int(value)
	}
	return fallback
}
