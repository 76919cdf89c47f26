package llm

import (
	"context"
	"encoding/json"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (role Role) Valid() bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

const ToolTypeFunction = "function"

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a model-issued request to invoke a tool. Arguments stay in
// their serialized form until the dispatch loop validates them.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

func NewToolCall(id, name, arguments string) ToolCall {
	return ToolCall{ID: id, Type: ToolTypeFunction, Function: FunctionCall{Name: name, Arguments: arguments}}
}

// Message is one conversation turn. Content is nil when the turn only
// carries tool calls; an empty string is a different, explicit value.
type Message struct {
	Role        Role              `json:"role"`
	Content     *string           `json:"content,omitempty"`
	ToolCalls   []ToolCall        `json:"tool_calls,omitempty"`
	ToolCallID  string            `json:"tool_call_id,omitempty"`
	Refusal     *string           `json:"refusal,omitempty"`
	Annotations []json.RawMessage `json:"annotations,omitempty"`
}

func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: &content}
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: &content}
}

func AssistantMessage(content string, toolCalls ...ToolCall) Message {
	message := Message{Role: RoleAssistant, ToolCalls: toolCalls}
	if content != "" || len(toolCalls) == 0 {
		message.Content = &content
	}
	return message
}

func ToolResultMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: &content, ToolCallID: toolCallID}
}

func (message Message) Text() string {
	if message.Content == nil {
		return ""
	}
	return *message.Content
}

func (message Message) HasToolCalls() bool {
	return len(message.ToolCalls) > 0
}

type CompletionRequest struct {
	Model      string           `json:"model"`
	Messages   []Message        `json:"messages"`
	Tools      []ToolDefinition `json:"tools,omitempty"`
	ToolChoice *ToolChoice      `json:"tool_choice,omitempty"`
	Options
}

type Choice struct {
	Index        int             `json:"index"`
	Message      Message         `json:"message"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Logprobs     json.RawMessage `json:"logprobs,omitempty"`
}

type TokenDetails struct {
	CachedTokens             int `json:"cached_tokens,omitempty"`
	AudioTokens              int `json:"audio_tokens,omitempty"`
	ReasoningTokens          int `json:"reasoning_tokens,omitempty"`
	AcceptedPredictionTokens int `json:"accepted_prediction_tokens,omitempty"`
	RejectedPredictionTokens int `json:"rejected_prediction_tokens,omitempty"`
}

type Usage struct {
	PromptTokens            int           `json:"prompt_tokens"`
	CompletionTokens        int           `json:"completion_tokens"`
	TotalTokens             int           `json:"total_tokens"`
	PromptTokensDetails     *TokenDetails `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *TokenDetails `json:"completion_tokens_details,omitempty"`
}

// Add returns the sum of both usages. Sub-breakdowns are summed only when
// at least one side reported them.
func (usage Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:            usage.PromptTokens + other.PromptTokens,
		CompletionTokens:        usage.CompletionTokens + other.CompletionTokens,
		TotalTokens:             usage.TotalTokens + other.TotalTokens,
		PromptTokensDetails:     addTokenDetails(usage.PromptTokensDetails, other.PromptTokensDetails),
		CompletionTokensDetails: addTokenDetails(usage.CompletionTokensDetails, other.CompletionTokensDetails),
	}
}

func addTokenDetails(left, right *TokenDetails) *TokenDetails {
	if left == nil && right == nil {
		return nil
	}
	sum := TokenDetails{}
	for _, details := range []*TokenDetails{left, right} {
		if details == nil {
			continue
		}
		sum.CachedTokens += details.CachedTokens
		sum.AudioTokens += details.AudioTokens
		sum.ReasoningTokens += details.ReasoningTokens
		sum.AcceptedPredictionTokens += details.AcceptedPredictionTokens
		sum.RejectedPredictionTokens += details.RejectedPredictionTokens
	}
	return &sum
}

type CompletionResponse struct {
	ID                string   `json:"id"`
	Object            string   `json:"object,omitempty"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	Choices           []Choice `json:"choices"`
	Usage             Usage    `json:"usage"`
	ServiceTier       string   `json:"service_tier,omitempty"`
	SystemFingerprint string   `json:"system_fingerprint,omitempty"`
}

// Top returns the first-ranked choice, the only one the dispatch loop acts on.
func (response CompletionResponse) Top() (Choice, bool) {
	if len(response.Choices) == 0 {
		return Choice{}, false
	}
	return response.Choices[0], true
}

type Client interface {
	Complete(ctx context.Context, request CompletionRequest) (CompletionResponse, error)
}
