package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIClient sends requests through the official SDK, which owns
// authentication, retries and timeouts. Responses still go through
// ParseResponse so both backends reject the same malformed payloads.
type OpenAIClient struct {
	client     openai.Client
	maxRetries int
}

func NewOpenAIClient(config TransportConfig) (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, configErrorf("api_key", "credential is required")
	}
	if _, err := CompletionsEndpoint(config.BaseURL); err != nil {
		return nil, err
	}
	if config.MaxRetries < 0 {
		return nil, configErrorf("max_retries", "must be >= 0, got %d", config.MaxRetries)
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(strings.TrimSpace(config.BaseURL)),
		option.WithMaxRetries(config.MaxRetries),
		option.WithHeader("User-Agent", userAgent),
	}
	if config.Timeout > 0 {
		options = append(options, option.WithRequestTimeout(config.Timeout))
	}
	if config.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(config.HTTPClient))
	}

	return &OpenAIClient{client: openai.NewClient(options...), maxRetries: config.MaxRetries}, nil
}

func (client *OpenAIClient) Complete(ctx context.Context, request CompletionRequest) (CompletionResponse, error) {
	params, err := toOpenAIParams(request)
	if err != nil {
		return CompletionResponse{}, err
	}

	response, err := client.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return CompletionResponse{}, client.transportError(ctx, err)
	}
	if response == nil {
		return CompletionResponse{}, parseErrorf("", "empty response")
	}

	parsed, err := ParseResponse([]byte(response.RawJSON()))
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("model %s: %w", request.Model, err)
	}
	return parsed, nil
}

func (client *OpenAIClient) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &TransportError{Attempts: 1, Err: ctxErr}
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		attempts := 1
		if RetryableStatus(apiErr.StatusCode) {
			attempts = client.maxRetries + 1
		}
		return &TransportError{Attempts: attempts, StatusCode: apiErr.StatusCode, Err: err}
	}
	return &TransportError{Attempts: client.maxRetries + 1, Err: err}
}

func toOpenAIParams(request CompletionRequest) (openai.ChatCompletionNewParams, error) {
	messageParams, err := toOpenAIMessages(request.Messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	toolDefinitions, err := toOpenAIToolDefinitions(request.Tools)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    request.Model,
		Messages: messageParams,
	}
	if len(toolDefinitions) > 0 {
		params.Tools = toolDefinitions
	}
	if request.ToolChoice != nil {
		params.ToolChoice = toOpenAIToolChoice(*request.ToolChoice)
	}

	options := request.Options
	if options.Temperature != nil {
		params.Temperature = openai.Float(*options.Temperature)
	}
	if options.TopP != nil {
		params.TopP = openai.Float(*options.TopP)
	}
	if options.N != nil {
		params.N = openai.Int(int64(*options.N))
	}
	if options.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*options.MaxTokens))
	}
	if len(options.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: options.Stop}
	}
	if options.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(*options.PresencePenalty)
	}
	if options.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(*options.FrequencyPenalty)
	}
	if len(options.LogitBias) > 0 {
		params.LogitBias = make(map[string]int64, len(options.LogitBias))
		for token, bias := range options.LogitBias {
			params.LogitBias[token] = int64(bias)
		}
	}
	if options.Seed != nil {
		params.Seed = openai.Int(int64(*options.Seed))
	}
	if options.User != nil {
		params.User = openai.String(*options.User)
	}
	return params, nil
}

func toOpenAIToolChoice(choice ToolChoice) openai.ChatCompletionToolChoiceOptionUnionParam {
	if choice.Function != "" {
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfFunctionToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: choice.Function},
			},
		}
	}
	return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(choice.Mode)}
}

func toOpenAIToolDefinitions(definitions []ToolDefinition) ([]openai.ChatCompletionToolUnionParam, error) {
	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(definitions))
	for _, definition := range definitions {
		parameters, err := schemaParameters(definition.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", definition.Name, err)
		}

		function := openai.FunctionDefinitionParam{
			Name:       definition.Name,
			Parameters: parameters,
		}
		if definition.Description != "" {
			function.Description = openai.String(definition.Description)
		}
		tools = append(tools, openai.ChatCompletionFunctionTool(function))
	}
	return tools, nil
}

func schemaParameters(schema ParameterSchema) (openai.FunctionParameters, error) {
	payload, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	parameters := openai.FunctionParameters{}
	if err := json.Unmarshal(payload, &parameters); err != nil {
		return nil, err
	}
	return parameters, nil
}

func toOpenAIMessages(messages []Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, message := range messages {
		switch message.Role {
		case RoleSystem:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{OfString: openai.String(message.Text())},
				},
			})
		case RoleUser:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{OfString: openai.String(message.Text())},
				},
			})
		case RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if message.Content != nil && *message.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(*message.Content)}
			}
			if message.Refusal != nil {
				assistant.Refusal = openai.String(*message.Refusal)
			}
			if len(message.ToolCalls) > 0 {
				assistant.ToolCalls = make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(message.ToolCalls))
				for _, toolCall := range message.ToolCalls {
					assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: toolCall.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      toolCall.Function.Name,
								Arguments: toolCall.Function.Arguments,
							},
						},
					})
				}
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleTool:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					Role:       "tool",
					ToolCallID: message.ToolCallID,
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(message.Text()),
					},
				},
			})
		default:
			return nil, configErrorf("messages", "unsupported message role %q", message.Role)
		}
	}
	return result, nil
}
