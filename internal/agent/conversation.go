package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/adriankopytko/chatloop/internal/llm"
	"github.com/adriankopytko/chatloop/internal/tools"
)

// ErrEndConversation is returned by a NextMessageFunc to stop Converse
// without an error.
var ErrEndConversation = errors.New("end of conversation")

// NextMessageFunc supplies the user's next message after each final
// answer.
type NextMessageFunc func(ctx context.Context, reply Result) (string, error)

// Converse alternates Run with the caller-supplied next message until the
// Terminate predicate matches a reply or next returns ErrEndConversation.
// The returned Result describes the last reply; Turns, ToolCalls and Usage
// cover the whole conversation.
func (runner Runner) Converse(ctx context.Context, seed []llm.Message, registry *tools.Registry, next NextMessageFunc) (Result, error) {
	if next == nil {
		return Result{}, errors.New("agent converse missing next message func")
	}

	conversation := seed
	var totals Result
	for exchange := 1; ; exchange++ {
		result, err := runner.Run(ctx, conversation, registry)
		totals.Turns += result.Turns
		totals.ToolCalls += result.ToolCalls
		totals.Usage = totals.Usage.Add(result.Usage)
		result.Turns, result.ToolCalls, result.Usage = totals.Turns, totals.ToolCalls, totals.Usage
		if err != nil {
			return result, err
		}

		runner.infoEvent("conversation_turn", map[string]any{
			"correlation_id": runner.CorrelationID,
			"exchange":       exchange,
			"terminated":     result.Terminated,
			"messages":       len(result.Conversation),
		})
		if result.Terminated {
			return result, nil
		}

		message, err := nextNonEmpty(ctx, next, result)
		if errors.Is(err, ErrEndConversation) {
			return result, nil
		}
		if err != nil {
			return result, err
		}
		conversation = append(result.Conversation, llm.UserMessage(message))
	}
}

func nextNonEmpty(ctx context.Context, next NextMessageFunc, reply Result) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		message, err := next(ctx, reply)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(message) != "" {
			return message, nil
		}
	}
}
