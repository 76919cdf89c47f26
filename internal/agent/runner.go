package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adriankopytko/chatloop/internal/llm"
	"github.com/adriankopytko/chatloop/internal/tools"
)

var (
	ErrMaxTurnsExceeded       = errors.New("max turns exceeded")
	ErrToolCallBudgetExceeded = errors.New("tool call budget exceeded")
)

type State string

const (
	StateAwaitingModel State = "awaiting_model"
	StateExecutingTool State = "executing_tool"
	StateDone          State = "done"
)

type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Policy bounds a single Run. MaxTurns counts model responses that asked
// for tools; zero means unbounded.
type Policy struct {
	MaxTurns      int
	MaxToolCalls  int
	ToolTimeout   time.Duration
	ParallelTools bool
}

// DispatchError reports a failure while handling the model's tool calls.
// ToolCallID and ToolName are empty when the failure is not tied to one
// call, as with an exhausted turn budget.
type DispatchError struct {
	Turn       int
	ToolCallID string
	ToolName   string
	Err        error
}

func (err *DispatchError) Error() string {
	if err.ToolName == "" {
		return fmt.Sprintf("dispatch turn %d: %v", err.Turn, err.Err)
	}
	return fmt.Sprintf("dispatch turn %d: tool %s (call %s): %v", err.Turn, err.ToolName, err.ToolCallID, err.Err)
}

func (err *DispatchError) Unwrap() error {
	return err.Err
}

type Result struct {
	Text         string
	Message      llm.Message
	Conversation []llm.Message
	Response     llm.CompletionResponse
	Turns        int
	ToolCalls    int
	Usage        llm.Usage
	State        State
	Terminated   bool
}

type Runner struct {
	Client        llm.Client
	Model         string
	Options       llm.Options
	ToolChoice    *llm.ToolChoice
	Logger        Logger
	Policy        Policy
	CorrelationID string
	// ToolContext is the template passed to every tool call. Context,
	// Timeout and CorrelationID are filled in per call.
	ToolContext tools.ToolContext
	// Terminate marks a final answer as ending the conversation.
	Terminate func(text string) bool
}

// SuffixTerminator matches replies that end with marker, ignoring
// trailing whitespace.
func SuffixTerminator(marker string) func(text string) bool {
	if marker == "" {
		return nil
	}
	return func(text string) bool {
		return strings.HasSuffix(strings.TrimSpace(text), marker)
	}
}

// Run drives one request/tool cycle to completion. The seed is copied;
// the returned Conversation belongs to the caller. On error the Result
// still carries the conversation and usage accumulated so far.
func (runner Runner) Run(ctx context.Context, seed []llm.Message, registry *tools.Registry) (Result, error) {
	result := Result{State: StateAwaitingModel}
	if runner.Client == nil {
		return result, errors.New("agent runner missing llm client")
	}

	conversation := make([]llm.Message, len(seed), len(seed)+4)
	copy(conversation, seed)
	result.Conversation = conversation

	definitions := registry.Definitions()
	toolRounds := 0

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result.State = StateAwaitingModel
		result.Turns++
		turnNumber := result.Turns

		request, err := llm.BuildRequest(runner.Model, result.Conversation, runner.Options, definitions, runner.toolChoiceForTurn(turnNumber))
		if err != nil {
			return result, err
		}

		runner.infoEvent("turn_start", map[string]any{
			"correlation_id": runner.CorrelationID,
			"turn":           turnNumber,
			"messages":       len(result.Conversation),
			"state":          result.State,
		})
		runner.debugf("starting agent turn %d with %d message(s)", turnNumber, len(result.Conversation))

		response, err := runner.Client.Complete(ctx, request)
		if err != nil {
			return result, err
		}
		result.Response = response
		result.Usage = result.Usage.Add(response.Usage)

		choice, ok := response.Top()
		if !ok {
			return result, &llm.ParseError{Field: "choices", Err: errors.New("response has no choices")}
		}
		message := choice.Message
		result.Conversation = append(result.Conversation, message)
		result.Message = message

		runner.infoEvent("turn_end", map[string]any{
			"correlation_id": runner.CorrelationID,
			"turn":           turnNumber,
			"finish_reason":  choice.FinishReason,
			"tool_calls":     len(message.ToolCalls),
			"total_tokens":   response.Usage.TotalTokens,
		})

		if !message.HasToolCalls() {
			result.State = StateDone
			result.Text = finalText(message)
			if runner.Terminate != nil && runner.Terminate(result.Text) {
				result.Terminated = true
			}
			runner.debugf("agent loop done on turn %d terminated=%t", turnNumber, result.Terminated)
			return result, nil
		}

		toolRounds++
		if runner.Policy.MaxTurns > 0 && toolRounds > runner.Policy.MaxTurns {
			return result, &DispatchError{
				Turn: turnNumber,
				Err:  fmt.Errorf("%w: limit=%d", ErrMaxTurnsExceeded, runner.Policy.MaxTurns),
			}
		}
		requested := len(message.ToolCalls)
		if runner.Policy.MaxToolCalls > 0 && result.ToolCalls+requested > runner.Policy.MaxToolCalls {
			return result, &DispatchError{
				Turn: turnNumber,
				Err:  fmt.Errorf("%w: limit=%d used=%d requested=%d", ErrToolCallBudgetExceeded, runner.Policy.MaxToolCalls, result.ToolCalls, requested),
			}
		}

		result.State = StateExecutingTool
		toolMessages, err := runner.executeToolCalls(ctx, turnNumber, registry, message.ToolCalls)
		if err != nil {
			return result, err
		}
		result.Conversation = append(result.Conversation, toolMessages...)
		result.ToolCalls += requested
	}
}

// toolChoiceForTurn applies a forcing tool choice to the first request
// only; afterwards the model is free to answer.
func (runner Runner) toolChoiceForTurn(turn int) *llm.ToolChoice {
	if runner.ToolChoice == nil || turn == 1 {
		return runner.ToolChoice
	}
	if runner.ToolChoice.Function != "" || runner.ToolChoice.Mode == llm.ToolChoiceRequired {
		return nil
	}
	return runner.ToolChoice
}

func (runner Runner) executeToolCalls(ctx context.Context, turn int, registry *tools.Registry, toolCalls []llm.ToolCall) ([]llm.Message, error) {
	results := make([]llm.Message, len(toolCalls))

	if !runner.Policy.ParallelTools || len(toolCalls) == 1 {
		for index, toolCall := range toolCalls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			message, err := runner.executeToolCall(ctx, turn, registry, toolCall)
			if err != nil {
				return nil, err
			}
			results[index] = message
		}
		return results, nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for index, toolCall := range toolCalls {
		group.Go(func() error {
			message, err := runner.executeToolCall(groupCtx, turn, registry, toolCall)
			if err != nil {
				return err
			}
			results[index] = message
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (runner Runner) executeToolCall(ctx context.Context, turn int, registry *tools.Registry, toolCall llm.ToolCall) (llm.Message, error) {
	toolContext := runner.ToolContext
	toolContext.Context = ctx
	toolContext.CorrelationID = runner.CorrelationID
	if runner.Policy.ToolTimeout > 0 {
		toolContext.Timeout = runner.Policy.ToolTimeout
	}

	name := toolCall.Function.Name
	runner.infoEvent("tool_start", map[string]any{
		"correlation_id": runner.CorrelationID,
		"turn":           turn,
		"tool_call_id":   toolCall.ID,
		"tool":           name,
	})
	started := time.Now()

	content, err := registry.Execute(toolContext, toolCall)
	if err != nil {
		runner.warnEvent("tool_error", map[string]any{
			"correlation_id": runner.CorrelationID,
			"turn":           turn,
			"tool_call_id":   toolCall.ID,
			"tool":           name,
		})
		runner.debugf("tool call id=%s failed: %v", toolCall.ID, err)
		return llm.Message{}, &DispatchError{Turn: turn, ToolCallID: toolCall.ID, ToolName: name, Err: err}
	}

	runner.infoEvent("tool_end", map[string]any{
		"correlation_id": runner.CorrelationID,
		"turn":           turn,
		"tool_call_id":   toolCall.ID,
		"tool":           name,
		"response_bytes": len(content),
		"duration_ms":    time.Since(started).Milliseconds(),
	})
	return llm.ToolResultMessage(toolCall.ID, content), nil
}

func finalText(message llm.Message) string {
	if message.Content != nil {
		return *message.Content
	}
	if message.Refusal != nil {
		return *message.Refusal
	}
	return ""
}

func (runner Runner) debugf(format string, args ...interface{}) {
	if runner.Logger == nil {
		return
	}
	runner.Logger.Debugf(format, args...)
}

func (runner Runner) infoEvent(event string, fields map[string]any) {
	if runner.Logger == nil {
		return
	}
	runner.Logger.Infof("event=%s %s", event, formatFields(fields))
}

func (runner Runner) warnEvent(event string, fields map[string]any) {
	if runner.Logger == nil {
		return
	}
	runner.Logger.Warnf("event=%s %s", event, formatFields(fields))
}

func formatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for key, value := range fields {
		if text, ok := value.(string); ok && text == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+formatFieldValue(fields[key]))
	}
	return strings.Join(parts, " ")
}

func formatFieldValue(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.ReplaceAll(typed, " ", "_")
	case State:
		return string(typed)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return strings.ReplaceAll(fmt.Sprintf("%v", typed), " ", "_")
	}
}
