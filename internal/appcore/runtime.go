package appcore

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/adriankopytko/chatloop/internal/llm"
)

const (
	BackendHTTP      = "http"
	BackendOpenAISDK = "openai-sdk"
)

// APIKeyEnvVars are checked in order for the model credential.
var APIKeyEnvVars = []string{"CHATLOOP_API_KEY", "OPENAI_API_KEY"}

type PromptOptions struct {
	Now           time.Time
	WorkspaceRoot string
	EndMarker     string
	ToolNames     []string
}

func BuildSystemPrompt(options PromptOptions) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "You are a helpful assistant. Today's date is %s. Be concise, accurate, and practical.", options.Now.Format("January 2, 2006"))
	if len(options.ToolNames) > 0 {
		fmt.Fprintf(&builder, " You can call these tools when they help: %s.", strings.Join(options.ToolNames, ", "))
		if options.WorkspaceRoot != "" {
			fmt.Fprintf(&builder, " File tools are limited to the workspace %s.", options.WorkspaceRoot)
		}
	}
	if options.EndMarker != "" {
		fmt.Fprintf(&builder, " When the user indicates the conversation is over, end your reply with %s.", options.EndMarker)
	}
	return builder.String()
}

func LoadEnvFilesIfPresent(paths []string, logger Logger) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Warnf("failed to check env file %s: %v", path, err)
			}
			continue
		}

		// Load never overrides variables already set in the process.
		if err := godotenv.Load(path); err != nil {
			logger.Warnf("failed to load env file %s: %v", path, err)
			continue
		}
		logger.Debugf("loaded env file: %s", path)
	}
}

// ResolveAPIKey returns the first non-empty credential from APIKeyEnvVars
// and the variable it came from.
func ResolveAPIKey(envLookup func(string) (string, bool)) (string, string, error) {
	for _, name := range APIKeyEnvVars {
		if value, ok := envLookup(name); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), name, nil
		}
	}
	return "", "", &llm.ConfigurationError{
		Option: "api_key",
		Reason: fmt.Sprintf("missing credential: set %s", strings.Join(APIKeyEnvVars, " or ")),
	}
}

// NewClient builds the completion client for backend.
func NewClient(backend string, config llm.TransportConfig) (llm.Client, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendHTTP:
		transport, err := llm.NewHTTPTransport(config)
		if err != nil {
			return nil, err
		}
		return llm.NewHTTPClient(transport), nil
	case BackendOpenAISDK:
		client, err := llm.NewOpenAIClient(config)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, &llm.ConfigurationError{
			Option: "backend",
			Reason: fmt.Sprintf("unknown backend %q (use: %s, %s)", backend, BackendHTTP, BackendOpenAISDK),
		}
	}
}

func NewCorrelationID() string {
	return "corr-" + uuid.NewString()
}
