package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/adriankopytko/chatloop/internal/agent"
	"github.com/adriankopytko/chatloop/internal/llm"
	"github.com/adriankopytko/chatloop/internal/tools"
)

// Terminal reads user messages line by line and prints replies. It
// reads any io.Reader so piped input works as well as a TTY.
type Terminal struct {
	scanner   *bufio.Scanner
	out       io.Writer
	endMarker string

	userStyle      lipgloss.Style
	assistantStyle lipgloss.Style
	dimStyle       lipgloss.Style
}

func NewTerminal(in io.Reader, out io.Writer, endMarker string) *Terminal {
	renderer := lipgloss.NewRenderer(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Terminal{
		scanner:        scanner,
		out:            out,
		endMarker:      endMarker,
		userStyle:      renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		assistantStyle: renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		dimStyle:       renderer.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// ReadMessage prompts for one line. End of input and the exit commands
// return agent.ErrEndConversation; blank lines are skipped.
func (terminal *Terminal) ReadMessage(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprint(terminal.out, terminal.userStyle.Render("you>")+" ")
		if !terminal.scanner.Scan() {
			fmt.Fprintln(terminal.out)
			if err := terminal.scanner.Err(); err != nil {
				return "", err
			}
			return "", agent.ErrEndConversation
		}

		input := strings.TrimSpace(terminal.scanner.Text())
		if input == "" {
			continue
		}
		if isExitCommand(input) {
			return "", agent.ErrEndConversation
		}
		return input, nil
	}
}

// NextMessage prints the reply and reads the user's answer.
func (terminal *Terminal) NextMessage(ctx context.Context, reply agent.Result) (string, error) {
	terminal.PrintReply(reply)
	return terminal.ReadMessage(ctx)
}

func (terminal *Terminal) PrintReply(reply agent.Result) {
	text := reply.Text
	if terminal.endMarker != "" {
		text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), terminal.endMarker))
	}
	fmt.Fprintf(terminal.out, "%s %s\n", terminal.assistantStyle.Render("assistant>"), text)
	if reply.ToolCalls > 0 {
		fmt.Fprintln(terminal.out, terminal.dimStyle.Render(fmt.Sprintf("(%d tool call(s), %d tokens so far)", reply.ToolCalls, reply.Usage.TotalTokens)))
	}
}

// Converse runs a conversation seeded with seed plus the first message
// typed by the user.
func (terminal *Terminal) Converse(ctx context.Context, runner agent.Runner, seed []llm.Message, registry *tools.Registry) (agent.Result, error) {
	first, err := terminal.ReadMessage(ctx)
	if errors.Is(err, agent.ErrEndConversation) {
		return agent.Result{}, nil
	}
	if err != nil {
		return agent.Result{}, err
	}

	conversation := append(append([]llm.Message(nil), seed...), llm.UserMessage(first))
	result, err := runner.Converse(ctx, conversation, registry, terminal.NextMessage)
	if err != nil {
		return result, err
	}
	if result.Terminated {
		terminal.PrintReply(result)
	}
	return result, nil
}

func isExitCommand(input string) bool {
	switch strings.ToLower(input) {
	case ":exit", ":quit", "exit", "quit":
		return true
	default:
		return false
	}
}
