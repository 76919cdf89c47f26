package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adriankopytko/chatloop/internal/agent"
	"github.com/adriankopytko/chatloop/internal/appcore"
	"github.com/adriankopytko/chatloop/internal/llm"
	"github.com/adriankopytko/chatloop/internal/tools"
)

const version = "0.1.0"

// Exit codes returned by the binary.
const (
	ExitFailure       = 1
	ExitConfiguration = 2
	ExitTransport     = 3
	ExitDispatch      = 4
	ExitInterrupted   = 130
)

type ExitError struct {
	Code int
	Err  error
}

func (e ExitError) Error() string {
	if e.Err == nil {
		return "exit"
	}
	return e.Err.Error()
}

func (e ExitError) Unwrap() error {
	return e.Err
}

// Environment holds the process dependencies of the root command.
type Environment struct {
	Stdin     io.Reader
	Stdout    io.Writer
	Stderr    io.Writer
	LookupEnv func(string) (string, bool)
	Getwd     func() (string, error)
	Now       func() time.Time
	NewClient func(backend string, config llm.TransportConfig) (llm.Client, error)
}

func DefaultEnvironment() Environment {
	return Environment{
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		LookupEnv: os.LookupEnv,
		Getwd:     os.Getwd,
		Now:       time.Now,
		NewClient: appcore.NewClient,
	}
}

func NewRootCommand(env Environment) *cobra.Command {
	config := &Config{}
	command := &cobra.Command{
		Use:   "chatloop",
		Short: "chatloop - tool-calling chat client for OpenAI-compatible APIs",
		Long: `chatloop sends a prompt to a chat completions endpoint, executes the
tool calls the model requests and prints the final answer.

  chatloop -p "What is in README.md?"
  chatloop --interactive --parallel-tools`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := Resolve(cmd.Flags(), config, env.LookupEnv); err != nil {
				return ExitError{Code: ExitConfiguration, Err: err}
			}
			return run(cmd.Context(), env, *config)
		},
	}
	command.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return ExitError{Code: ExitConfiguration, Err: err}
	})
	command.SetIn(env.Stdin)
	command.SetOut(env.Stdout)
	command.SetErr(env.Stderr)
	RegisterFlags(command.Flags(), config)
	return command
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, env Environment, args []string) int {
	if args == nil {
		args = []string{}
	}
	command := NewRootCommand(env)
	command.SetArgs(args)
	err := command.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintln(env.Stderr, "error:", err)
	return ExitCode(err)
}

// ExitCode maps an error from the agent stack to a process exit code.
func ExitCode(err error) int {
	var exitErr ExitError
	if errors.As(err, &exitErr) && exitErr.Code != 0 {
		return exitErr.Code
	}

	var configErr *llm.ConfigurationError
	var transportErr *llm.TransportError
	var parseErr *llm.ParseError
	var dispatchErr *agent.DispatchError
	switch {
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.As(err, &configErr):
		return ExitConfiguration
	case errors.As(err, &transportErr), errors.As(err, &parseErr):
		return ExitTransport
	case errors.As(err, &dispatchErr):
		return ExitDispatch
	default:
		return ExitFailure
	}
}

func run(ctx context.Context, env Environment, config Config) error {
	if !config.Interactive && strings.TrimSpace(config.Prompt) == "" {
		return ExitError{Code: ExitConfiguration, Err: errors.New("prompt must not be empty: pass -p or --interactive")}
	}

	logger, err := appcore.NewLogger(config.LoggerConfig())
	if err != nil {
		return ExitError{Code: ExitConfiguration, Err: err}
	}
	defer logger.Close()

	apiKey, keySource, err := appcore.ResolveAPIKey(env.LookupEnv)
	if err != nil {
		return err
	}
	logger.Debugf("using credential from %s", keySource)

	client, err := env.NewClient(config.Backend, config.TransportConfig(apiKey, logger))
	if err != nil {
		return err
	}

	root, err := workspaceRoot(env, config.Root)
	if err != nil {
		return ExitError{Code: ExitConfiguration, Err: err}
	}

	registry := tools.BuiltinRegistry()
	definitions := registry.Definitions()
	toolNames := make([]string, 0, len(definitions))
	for _, definition := range definitions {
		toolNames = append(toolNames, definition.Name)
	}

	endMarker := ""
	if config.Interactive {
		endMarker = config.EndMarker
	}
	seed := []llm.Message{llm.SystemMessage(appcore.BuildSystemPrompt(appcore.PromptOptions{
		Now:           env.Now(),
		WorkspaceRoot: root,
		EndMarker:     endMarker,
		ToolNames:     toolNames,
	}))}

	runner := agent.Runner{
		Client:     client,
		Model:      config.Model,
		Options:    config.Options(),
		ToolChoice: config.ToolChoicePolicy(),
		Logger:     logger,
		Policy: agent.Policy{
			MaxTurns:      config.MaxTurns,
			MaxToolCalls:  config.MaxToolCalls,
			ToolTimeout:   config.ToolTimeout,
			ParallelTools: config.ParallelTools,
		},
		CorrelationID: appcore.NewCorrelationID(),
		ToolContext: tools.ToolContext{
			CWD:         root,
			AllowedRoot: root,
			Logger:      logger,
		},
	}
	if endMarker != "" {
		runner.Terminate = agent.SuffixTerminator(endMarker)
	}

	logger.Infof("event=session_start correlation_id=%s model=%s backend=%s interactive=%t tools=%d", runner.CorrelationID, config.Model, config.Backend, config.Interactive, len(toolNames))

	var result agent.Result
	if config.Interactive {
		terminal := NewTerminal(env.Stdin, env.Stdout, endMarker)
		result, err = terminal.Converse(ctx, runner, seed, registry)
	} else {
		turnCtx, cancel := context.WithTimeout(ctx, config.TurnTimeout)
		defer cancel()
		result, err = runner.Run(turnCtx, append(seed, llm.UserMessage(config.Prompt)), registry)
		if err == nil {
			fmt.Fprintln(env.Stdout, result.Text)
		}
	}

	logger.Infof("event=session_end correlation_id=%s state=%s turns=%d tool_calls=%d total_tokens=%d", runner.CorrelationID, result.State, result.Turns, result.ToolCalls, result.Usage.TotalTokens)
	return err
}

func workspaceRoot(env Environment, configured string) (string, error) {
	root := strings.TrimSpace(configured)
	if root == "" {
		cwd, err := env.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		root = cwd
	}
	absolute, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root %s: %w", root, err)
	}
	info, err := os.Stat(absolute)
	if err != nil {
		return "", fmt.Errorf("workspace root %s: %w", absolute, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workspace root %s is not a directory", absolute)
	}
	return absolute, nil
}
