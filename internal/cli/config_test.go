package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/adriankopytko/chatloop/internal/llm"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestParseArgs_UsesDefaultsWhenNoFlags(t *testing.T) {
	config, err := ParseArgs([]string{}, envMap(nil))
	if err != nil {
		t.Fatalf("ParseArgs returned error: %v", err)
	}

	if config.Backend != "http" || config.BaseURL != llm.DefaultBaseURL || config.Model != DefaultModel {
		t.Fatalf("unexpected client defaults %+v", config)
	}
	if config.Timeout != 60*time.Second || config.MaxRetries != 3 || config.BaseDelay != time.Second {
		t.Fatalf("unexpected transport defaults timeout=%s retries=%d delay=%s", config.Timeout, config.MaxRetries, config.BaseDelay)
	}
	if config.ToolTimeout != 30*time.Second || config.MaxTurns != 0 || config.MaxToolCalls != 0 {
		t.Fatalf("unexpected dispatch defaults %+v", config)
	}
	if config.EndMarker != "<END>" {
		t.Fatalf("expected default end marker, got %q", config.EndMarker)
	}
	if config.LogEnabled || config.LogLevel != "info" || config.LogSink != "stderr" || config.LogFile != "" {
		t.Fatalf("unexpected logging defaults %+v", config)
	}

	options := config.Options()
	if options.Temperature != nil || options.TopP != nil || options.MaxTokens != nil || len(options.Stop) != 0 {
		t.Fatalf("expected sampling options unset, got %+v", options)
	}
	if config.ToolChoicePolicy() != nil {
		t.Fatalf("expected tool choice unset")
	}
}

func TestParseArgs_UsesEnvDefaults(t *testing.T) {
	config, err := ParseArgs([]string{}, envMap(map[string]string{
		"LOG_ENABLED":             "yes",
		"LOG_LEVEL":               "debug",
		"CHATLOOP_LOG_SINK":       "json-file",
		"CHATLOOP_LOG_FILE":       "/tmp/chatloop.log.jsonl",
		"OPENAI_BASE_URL":         "https://proxy.example/v1",
		"CHATLOOP_MODEL":          "gpt-test",
		"CHATLOOP_MAX_RETRIES":    "5",
		"CHATLOOP_TOOL_TIMEOUT":   "45s",
		"CHATLOOP_MAX_TURNS":      "7",
		"CHATLOOP_MAX_TOOL_CALLS": "9",
		"CHATLOOP_TEMPERATURE":    "0.3",
		"CHATLOOP_STOP":           "<END>,STOP",
		"CHATLOOP_TOOL_CHOICE":    "required",
	}))
	if err != nil {
		t.Fatalf("ParseArgs returned error: %v", err)
	}

	if !config.LogEnabled || config.LogLevel != "debug" || config.LogSink != "json-file" || config.LogFile != "/tmp/chatloop.log.jsonl" {
		t.Fatalf("unexpected logging config %+v", config)
	}
	if config.BaseURL != "https://proxy.example/v1" || config.Model != "gpt-test" || config.MaxRetries != 5 {
		t.Fatalf("unexpected client config %+v", config)
	}
	if config.ToolTimeout != 45*time.Second || config.MaxTurns != 7 || config.MaxToolCalls != 9 {
		t.Fatalf("unexpected dispatch config %+v", config)
	}
	if config.Temperature == nil || *config.Temperature != 0.3 {
		t.Fatalf("expected temperature 0.3, got %v", config.Temperature)
	}
	if len(config.Stop) != 2 || config.Stop[1] != "STOP" {
		t.Fatalf("expected two stop sequences, got %v", config.Stop)
	}
	if choice := config.ToolChoicePolicy(); choice == nil || choice.Mode != llm.ToolChoiceRequired {
		t.Fatalf("expected required tool choice, got %+v", choice)
	}
}

func TestParseArgs_FlagsOverrideEnv(t *testing.T) {
	config, err := ParseArgs([]string{
		"--log-enabled=false", "--log-level=warn", "--log-sink=stdout",
		"--interactive", "-p", "hello", "--model=flag-model",
		"--tool-timeout=12s", "--max-turns=3", "--max-tool-calls=4",
		"--temperature=0", "--tool-choice=get_weather",
	}, envMap(map[string]string{
		"LOG_ENABLED":          "true",
		"LOG_LEVEL":            "debug",
		"CHATLOOP_LOG_SINK":    "json-file",
		"CHATLOOP_MODEL":       "env-model",
		"CHATLOOP_MAX_TURNS":   "7",
		"CHATLOOP_TEMPERATURE": "1.5",
	}))
	if err != nil {
		t.Fatalf("ParseArgs returned error: %v", err)
	}

	if config.LogEnabled || config.LogLevel != "warn" || config.LogSink != "stdout" {
		t.Fatalf("expected flag logging overrides, got %+v", config)
	}
	if !config.Interactive || config.Prompt != "hello" || config.Model != "flag-model" {
		t.Fatalf("unexpected flag values %+v", config)
	}
	if config.ToolTimeout != 12*time.Second || config.MaxTurns != 3 || config.MaxToolCalls != 4 {
		t.Fatalf("unexpected dispatch overrides %+v", config)
	}
	if config.Temperature == nil || *config.Temperature != 0 {
		t.Fatalf("expected explicit zero temperature, got %v", config.Temperature)
	}
	if choice := config.ToolChoicePolicy(); choice == nil || choice.Function != "get_weather" {
		t.Fatalf("expected forced tool choice, got %+v", choice)
	}
}

func TestParseArgs_ConfigFileBelowEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatloop.yaml")
	content := `
backend: openai-sdk
model: file-model
max_retries: 1
base_delay: 250ms
parallel_tools: true
end_marker: ""
sampling:
  top_p: 0.9
  max_tokens: 256
  stop: ["<END>"]
logging:
  enabled: true
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	config, err := ParseArgs([]string{"--config", path, "--max-retries=2"}, envMap(map[string]string{
		"CHATLOOP_MODEL": "env-model",
	}))
	if err != nil {
		t.Fatalf("ParseArgs returned error: %v", err)
	}

	if config.Backend != "openai-sdk" || config.BaseDelay != 250*time.Millisecond || !config.ParallelTools {
		t.Fatalf("expected file values, got %+v", config)
	}
	if config.Model != "env-model" {
		t.Fatalf("expected env to win over file, got %q", config.Model)
	}
	if config.MaxRetries != 2 {
		t.Fatalf("expected flag to win over file, got %d", config.MaxRetries)
	}
	if config.EndMarker != "" {
		t.Fatalf("expected end marker cleared by file, got %q", config.EndMarker)
	}
	if config.TopP == nil || *config.TopP != 0.9 || config.MaxTokens == nil || *config.MaxTokens != 256 {
		t.Fatalf("expected sampling from file, got top_p=%v max_tokens=%v", config.TopP, config.MaxTokens)
	}
	if !config.LogEnabled || config.LogLevel != "debug" {
		t.Fatalf("expected logging from file, got %+v", config)
	}
}

func TestParseArgs_ConfigFileFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatloop.yaml")
	if err := os.WriteFile(path, []byte("model: from-file\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	config, err := ParseArgs(nil, envMap(map[string]string{"CHATLOOP_CONFIG": path}))
	if err != nil {
		t.Fatalf("ParseArgs returned error: %v", err)
	}
	if config.Model != "from-file" {
		t.Fatalf("expected model from file, got %q", config.Model)
	}
}

func TestParseArgs_ConfigFileErrors(t *testing.T) {
	if _, err := ParseArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, envMap(nil)); err == nil {
		t.Fatal("expected error for missing config file")
	}

	path := filepath.Join(t.TempDir(), "chatloop.yaml")
	if err := os.WriteFile(path, []byte("modle: typo\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := ParseArgs([]string{"--config", path}, envMap(nil)); err == nil {
		t.Fatal("expected error for unknown config key")
	}
}

func TestParseArgs_ReturnsErrorForInvalidValues(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "log level", args: []string{"--log-level=nope"}},
		{name: "log sink", args: []string{"--log-sink=nope"}},
		{name: "json sink without file", args: []string{"--log-sink=json-file"}},
		{name: "backend", args: []string{"--backend=grpc"}},
		{name: "timeout", args: []string{"--timeout=0s"}},
		{name: "tool timeout", args: []string{"--tool-timeout=-1s"}},
		{name: "turn timeout", args: []string{"--turn-timeout=0s"}},
		{name: "max retries", args: []string{"--max-retries=-1"}},
		{name: "max turns", args: []string{"--max-turns=-1"}},
		{name: "max tool calls", args: []string{"--max-tool-calls=-2"}},
		{name: "temperature", args: []string{"--temperature=warm"}},
		{name: "env duration", env: map[string]string{"CHATLOOP_TIMEOUT": "soon"}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := ParseArgs(testCase.args, envMap(testCase.env)); err == nil {
				t.Fatalf("expected error for %v %v", testCase.args, testCase.env)
			}
		})
	}
}

func TestParseArgs_ReturnsHelpError(t *testing.T) {
	_, err := ParseArgs([]string{"-h"}, envMap(nil))
	if !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("expected pflag.ErrHelp, got %v", err)
	}
}

func TestConfig_TransportConfig(t *testing.T) {
	config, err := ParseArgs([]string{"--timeout=5s", "--max-retries=1", "--base-delay=10ms"}, envMap(nil))
	if err != nil {
		t.Fatalf("ParseArgs returned error: %v", err)
	}
	transport := config.TransportConfig("key", nil)
	if transport.APIKey != "key" || transport.Timeout != 5*time.Second || transport.MaxRetries != 1 || transport.BaseDelay != 10*time.Millisecond {
		t.Fatalf("unexpected transport config %+v", transport)
	}
}
