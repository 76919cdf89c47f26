package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// BuildRequest assembles and validates a completion request. Every
// problem it reports is a *ConfigurationError, raised before anything is
// sent.
func BuildRequest(model string, messages []Message, options Options, tools []ToolDefinition, toolChoice *ToolChoice) (CompletionRequest, error) {
	if strings.TrimSpace(model) == "" {
		return CompletionRequest{}, configErrorf("model", "must not be empty")
	}
	if len(messages) == 0 {
		return CompletionRequest{}, configErrorf("messages", "at least one message is required")
	}
	if err := ValidateConversation(messages); err != nil {
		return CompletionRequest{}, err
	}
	if err := ValidateToolDefinitions(tools); err != nil {
		return CompletionRequest{}, err
	}
	if toolChoice != nil {
		if err := toolChoice.validate(tools); err != nil {
			return CompletionRequest{}, err
		}
	}
	if err := options.validate(); err != nil {
		return CompletionRequest{}, err
	}

	request := CompletionRequest{
		Model:    model,
		Messages: append([]Message(nil), messages...),
		Options:  options,
	}
	if len(tools) > 0 {
		request.Tools = append([]ToolDefinition(nil), tools...)
	}
	if toolChoice != nil {
		choice := *toolChoice
		request.ToolChoice = &choice
	}
	return request, nil
}

// ValidateConversation enforces the tool-call correlation protocol: every
// tool message answers exactly one earlier tool call, and no call is
// answered twice.
func ValidateConversation(messages []Message) error {
	issued := map[string]int{}
	answered := map[string]bool{}
	for index, message := range messages {
		if !message.Role.Valid() {
			return configErrorf("messages", "message %d has unsupported role %q", index, message.Role)
		}
		switch message.Role {
		case RoleAssistant:
			for _, toolCall := range message.ToolCalls {
				if toolCall.ID == "" {
					return configErrorf("messages", "message %d has a tool call without id", index)
				}
				issued[toolCall.ID]++
			}
		case RoleTool:
			if message.ToolCallID == "" {
				return configErrorf("messages", "tool message %d has no tool_call_id", index)
			}
			switch issued[message.ToolCallID] {
			case 0:
				return configErrorf("messages", "tool message %d references unknown tool_call_id %q", index, message.ToolCallID)
			case 1:
			default:
				return configErrorf("messages", "tool message %d references ambiguous tool_call_id %q", index, message.ToolCallID)
			}
			if answered[message.ToolCallID] {
				return configErrorf("messages", "tool_call_id %q answered more than once", message.ToolCallID)
			}
			answered[message.ToolCallID] = true
		default:
			if message.ToolCallID != "" || len(message.ToolCalls) > 0 {
				return configErrorf("messages", "%s message %d must not carry tool call fields", message.Role, index)
			}
		}
	}
	return nil
}

func EncodeRequest(request CompletionRequest) ([]byte, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return payload, nil
}

var requiredResponseFields = []string{"id", "choices", "usage"}

// ParseResponse decodes a completion body. Tool-call arguments are only
// checked for JSON syntax here; schema conformance is checked at dispatch.
func ParseResponse(raw []byte) (CompletionResponse, error) {
	if !gjson.ValidBytes(raw) {
		return CompletionResponse{}, parseErrorf("", "body is not valid JSON")
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return CompletionResponse{}, parseErrorf("", "body must be a JSON object")
	}
	for _, field := range requiredResponseFields {
		value := root.Get(field)
		if !value.Exists() || value.Type == gjson.Null {
			return CompletionResponse{}, parseErrorf(field, "required field missing")
		}
	}
	if choices := root.Get("choices"); !choices.IsArray() || len(choices.Array()) == 0 {
		return CompletionResponse{}, parseErrorf("choices", "must be a non-empty array")
	}
	if !root.Get("usage").IsObject() {
		return CompletionResponse{}, parseErrorf("usage", "must be an object")
	}

	var response CompletionResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return CompletionResponse{}, &ParseError{Err: err}
	}
	if strings.TrimSpace(response.ID) == "" {
		return CompletionResponse{}, parseErrorf("id", "must not be empty")
	}

	for index, choice := range response.Choices {
		if err := validateChoiceMessage(index, choice.Message); err != nil {
			return CompletionResponse{}, err
		}
	}
	return response, nil
}

func validateChoiceMessage(index int, message Message) error {
	field := fmt.Sprintf("choices[%d].message", index)
	if !message.Role.Valid() {
		return parseErrorf(field+".role", "unsupported role %q", message.Role)
	}
	if len(message.ToolCalls) > 0 && message.Role != RoleAssistant {
		return parseErrorf(field+".tool_calls", "only assistant messages may carry tool calls")
	}

	ids := make(map[string]bool, len(message.ToolCalls))
	for callIndex, toolCall := range message.ToolCalls {
		callField := fmt.Sprintf("%s.tool_calls[%d]", field, callIndex)
		if strings.TrimSpace(toolCall.ID) == "" {
			return parseErrorf(callField+".id", "must not be empty")
		}
		if ids[toolCall.ID] {
			return parseErrorf(callField+".id", "duplicate tool call id %q", toolCall.ID)
		}
		ids[toolCall.ID] = true
		if toolCall.Type != "" && toolCall.Type != ToolTypeFunction {
			return parseErrorf(callField+".type", "unsupported tool call type %q", toolCall.Type)
		}
		if strings.TrimSpace(toolCall.Function.Name) == "" {
			return parseErrorf(callField+".function.name", "must not be empty")
		}
		// Some providers send "" for a call without arguments.
		if strings.TrimSpace(toolCall.Function.Arguments) == "" {
			continue
		}
		if !json.Valid([]byte(toolCall.Function.Arguments)) {
			return parseErrorf(callField+".function.arguments", "not valid JSON: %q", truncate(toolCall.Function.Arguments, 200))
		}
	}
	return nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
