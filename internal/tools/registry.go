package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/adriankopytko/chatloop/internal/llm"
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid tool arguments")
	ErrToolFailed       = errors.New("tool execution failed")
)

// Tool is a callable the model may invoke. Arguments have already been
// decoded and validated against Definition().Parameters.
type Tool interface {
	Name() string
	Definition() llm.ToolDefinition
	Execute(ctx ToolContext, arguments map[string]any) (any, error)
}

type Registry struct {
	tools map[string]Tool
}

// NewRegistry indexes tools by name. A later tool replaces an earlier one
// with the same name; use Register to detect collisions.
func NewRegistry(toolList ...Tool) *Registry {
	byName := make(map[string]Tool, len(toolList))
	for _, tool := range toolList {
		byName[tool.Name()] = tool
	}
	return &Registry{tools: byName}
}

// BuiltinRegistry holds the workspace tools shipped with the binary.
func BuiltinRegistry() *Registry {
	return NewRegistry(
		FetchWebPageTool{},
		ReadTool{},
		ListDirTool{},
	)
}

func (registry *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("register tool: nil tool")
	}
	definition := tool.Definition()
	if definition.Name != tool.Name() {
		return fmt.Errorf("register tool %q: definition is named %q", tool.Name(), definition.Name)
	}
	if err := definition.Validate(); err != nil {
		return fmt.Errorf("register tool %q: %w", tool.Name(), err)
	}
	if _, exists := registry.tools[tool.Name()]; exists {
		return fmt.Errorf("register tool %q: already registered", tool.Name())
	}
	if registry.tools == nil {
		registry.tools = make(map[string]Tool)
	}
	registry.tools[tool.Name()] = tool
	return nil
}

func (registry *Registry) Lookup(name string) (Tool, bool) {
	if registry == nil {
		return nil, false
	}
	tool, ok := registry.tools[name]
	return tool, ok
}

func (registry *Registry) Len() int {
	if registry == nil {
		return 0
	}
	return len(registry.tools)
}

// Definitions returns tool definitions sorted by name so requests are
// stable across runs.
func (registry *Registry) Definitions() []llm.ToolDefinition {
	if registry.Len() == 0 {
		return nil
	}
	names := make([]string, 0, len(registry.tools))
	for name := range registry.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, registry.tools[name].Definition())
	}
	return defs
}

// Execute decodes and validates the call's arguments, runs the tool and
// renders its result as the content of a tool message. Failures wrap
// ErrUnknownTool, ErrInvalidArguments or ErrToolFailed.
func (registry *Registry) Execute(toolContext ToolContext, toolCall llm.ToolCall) (string, error) {
	name := toolCall.Function.Name
	tool, ok := registry.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownTool, name)
	}

	arguments, err := DecodeArguments(toolCall.Function.Arguments)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
	}
	if err := ValidateArguments(tool.Definition().Parameters, arguments); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
	}

	parent := toolContext.Parent()
	if err := parent.Err(); err != nil {
		return "", fmt.Errorf("tool %s not started: %w", name, err)
	}
	if toolContext.Timeout > 0 {
		callCtx, cancel := context.WithTimeout(parent, toolContext.Timeout)
		defer cancel()
		toolContext.Context = callCtx
	} else {
		toolContext.Context = parent
	}
	toolContext.ToolCallID = toolCall.ID

	toolContext.debugf("event=tool_execute tool=%s tool_call_id=%s", name, toolCall.ID)
	result, err := tool.Execute(toolContext, arguments)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrToolFailed, name, err)
	}

	content, err := FormatResult(result)
	if err != nil {
		return "", fmt.Errorf("%w: %s: encode result: %w", ErrToolFailed, name, err)
	}
	return content, nil
}

// DecodeArguments parses a tool call's argument string. An empty string
// is treated as an empty object.
func DecodeArguments(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}, nil
	}

	var decoded any
	decoder := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	if err := decoder.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("arguments contain trailing data")
	}
	arguments, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments must be a JSON object, got %s", jsonTypeName(decoded))
	}
	return arguments, nil
}

// FormatResult renders a tool result for a tool message. Strings pass
// through unchanged and everything else is JSON encoded.
func FormatResult(result any) (string, error) {
	switch typed := result.(type) {
	case nil:
		return "", nil
	case string:
		return typed, nil
	case []byte:
		return string(typed), nil
	case json.RawMessage:
		return string(typed), nil
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
