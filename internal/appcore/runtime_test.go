package appcore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adriankopytko/chatloop/internal/llm"
)

func mapLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestResolveAPIKey_Precedence(t *testing.T) {
	key, source, err := ResolveAPIKey(mapLookup(map[string]string{
		"CHATLOOP_API_KEY": " primary ",
		"OPENAI_API_KEY":   "fallback",
	}))
	if err != nil {
		t.Fatalf("ResolveAPIKey returned error: %v", err)
	}
	if key != "primary" || source != "CHATLOOP_API_KEY" {
		t.Fatalf("expected primary key, got %q from %s", key, source)
	}

	key, source, _ = ResolveAPIKey(mapLookup(map[string]string{"CHATLOOP_API_KEY": "", "OPENAI_API_KEY": "fallback"}))
	if key != "fallback" || source != "OPENAI_API_KEY" {
		t.Fatalf("expected fallback key, got %q from %s", key, source)
	}
}

func TestResolveAPIKey_Missing(t *testing.T) {
	_, _, err := ResolveAPIKey(mapLookup(nil))
	var configErr *llm.ConfigurationError
	if !errors.As(err, &configErr) || configErr.Option != "api_key" {
		t.Fatalf("expected api_key ConfigurationError, got %v", err)
	}
}

func TestNewClient_Backends(t *testing.T) {
	config := llm.DefaultTransportConfig()
	config.APIKey = "test-key"

	client, err := NewClient(BackendHTTP, config)
	if err != nil {
		t.Fatalf("NewClient(http) returned error: %v", err)
	}
	if _, ok := client.(*llm.HTTPClient); !ok {
		t.Fatalf("expected HTTPClient, got %T", client)
	}

	client, err = NewClient(BackendOpenAISDK, config)
	if err != nil {
		t.Fatalf("NewClient(openai-sdk) returned error: %v", err)
	}
	if _, ok := client.(*llm.OpenAIClient); !ok {
		t.Fatalf("expected OpenAIClient, got %T", client)
	}

	_, err = NewClient("grpc", config)
	var configErr *llm.ConfigurationError
	if !errors.As(err, &configErr) || configErr.Option != "backend" {
		t.Fatalf("expected backend ConfigurationError, got %v", err)
	}
}

func TestLoadEnvFilesIfPresent_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("CHATLOOP_TEST_FROM_FILE=file\nCHATLOOP_TEST_PRESET=file\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("CHATLOOP_TEST_PRESET", "process")
	t.Setenv("CHATLOOP_TEST_FROM_FILE", "")
	os.Unsetenv("CHATLOOP_TEST_FROM_FILE")

	LoadEnvFilesIfPresent([]string{filepath.Join(dir, "missing.env"), envPath}, Logger{})

	if got := os.Getenv("CHATLOOP_TEST_FROM_FILE"); got != "file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("CHATLOOP_TEST_PRESET"); got != "process" {
		t.Fatalf("expected process value to win, got %q", got)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt(PromptOptions{
		Now:           time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
		WorkspaceRoot: "/work",
		EndMarker:     "<END>",
		ToolNames:     []string{"list_dir", "read_file"},
	})
	for _, want := range []string{"March 4, 2026", "list_dir, read_file", "/work", "<END>"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("expected prompt to contain %q, got %q", want, prompt)
		}
	}
}

func TestNewCorrelationID_Unique(t *testing.T) {
	first, second := NewCorrelationID(), NewCorrelationID()
	if first == second || !strings.HasPrefix(first, "corr-") {
		t.Fatalf("unexpected correlation ids %q %q", first, second)
	}
}
