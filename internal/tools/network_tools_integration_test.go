package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/adriankopytko/chatloop/internal/llm"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (fn roundTripperFunc) RoundTrip(request *http.Request) (*http.Response, error) {
	return fn(request)
}

func mockPublicHost(t *testing.T, host string, status int, contentType, body string) {
	t.Helper()

	originalLookup := lookupHost
	lookupHost = func(ctx context.Context, name string) ([]netip.Addr, error) {
		return []netip.Addr{netip.MustParseAddr("93.184.216.34")}, nil
	}
	originalTransport := http.DefaultTransport
	http.DefaultTransport = roundTripperFunc(func(request *http.Request) (*http.Response, error) {
		if request.URL.Host != host {
			return nil, context.DeadlineExceeded
		}
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{contentType}},
			Body:       io.NopCloser(bytes.NewBufferString(body)),
		}, nil
	})
	t.Cleanup(func() {
		lookupHost = originalLookup
		http.DefaultTransport = originalTransport
	})
}

func TestRegistryExecute_FetchWebPage_WithMockedPublicHost(t *testing.T) {
	mockPublicHost(t, "fetch.test", http.StatusOK, "text/html", "<html><head><style>p{}</style></head><body><h1>Hello</h1><p>world &amp; more</p></body></html>")

	registry := BuiltinRegistry()
	root := t.TempDir()
	toolContext := ToolContext{CWD: root, AllowedRoot: root, Timeout: 2 * time.Second}

	output, err := registry.Execute(toolContext, llm.NewToolCall("call_1", "fetch_webpage", `{"url":"https://fetch.test/page"}`))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	var page WebPage
	if err := json.Unmarshal([]byte(output), &page); err != nil {
		t.Fatalf("expected JSON result, got %q: %v", output, err)
	}
	if page.Content != "Hello world & more" {
		t.Fatalf("unexpected extracted text %q", page.Content)
	}
	if page.Status != http.StatusOK || page.Truncated {
		t.Fatalf("unexpected page metadata %+v", page)
	}
}

func TestRegistryExecute_FetchWebPage_Truncates(t *testing.T) {
	mockPublicHost(t, "fetch.test", http.StatusOK, "text/plain", strings.Repeat("a", 50))

	registry := BuiltinRegistry()
	output, err := registry.Execute(ToolContext{}, llm.NewToolCall("call_1", "fetch_webpage", `{"url":"https://fetch.test/","max_chars":10}`))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	var page WebPage
	if err := json.Unmarshal([]byte(output), &page); err != nil {
		t.Fatalf("expected JSON result: %v", err)
	}
	if len(page.Content) != 10 || !page.Truncated {
		t.Fatalf("expected 10 truncated chars, got %+v", page)
	}
}

func TestRegistryExecute_FetchWebPage_StatusFailure(t *testing.T) {
	mockPublicHost(t, "fetch.test", http.StatusNotFound, "text/plain", "missing")

	registry := BuiltinRegistry()
	_, err := registry.Execute(ToolContext{}, llm.NewToolCall("call_1", "fetch_webpage", `{"url":"https://fetch.test/"}`))
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("expected status failure, got %v", err)
	}
}

func TestRegistryExecute_FetchWebPage_RedirectToPrivateHostBlocked(t *testing.T) {
	mockPublicHost(t, "fetch.test", http.StatusOK, "text/plain", "unused")

	var privateHits int
	http.DefaultTransport = roundTripperFunc(func(request *http.Request) (*http.Response, error) {
		if request.URL.Host != "fetch.test" {
			privateHits++
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("SECRET"))}, nil
		}
		return &http.Response{
			StatusCode: http.StatusFound,
			Header:     http.Header{"Location": []string{"http://127.0.0.1/secret"}},
			Body:       io.NopCloser(strings.NewReader("")),
		}, nil
	})

	registry := BuiltinRegistry()
	output, err := registry.Execute(ToolContext{}, llm.NewToolCall("call_1", "fetch_webpage", `{"url":"https://fetch.test/"}`))
	if !errors.Is(err, ErrEgressBlocked) {
		t.Fatalf("expected ErrEgressBlocked, got output=%q err=%v", output, err)
	}
	if privateHits != 0 {
		t.Fatalf("expected the private host never to be requested, got %d request(s)", privateHits)
	}
}

func TestRegistryExecute_FetchWebPage_FollowsPublicRedirect(t *testing.T) {
	mockPublicHost(t, "fetch.test", http.StatusOK, "text/plain", "unused")

	http.DefaultTransport = roundTripperFunc(func(request *http.Request) (*http.Response, error) {
		if request.URL.Path == "/moved" {
			return &http.Response{
				StatusCode: http.StatusMovedPermanently,
				Header:     http.Header{"Location": []string{"https://fetch.test/final"}},
				Body:       io.NopCloser(strings.NewReader("")),
			}, nil
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/plain"}},
			Body:       io.NopCloser(strings.NewReader("arrived")),
		}, nil
	})

	output, err := BuiltinRegistry().Execute(ToolContext{}, llm.NewToolCall("call_1", "fetch_webpage", `{"url":"https://fetch.test/moved"}`))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(output, "arrived") {
		t.Fatalf("expected redirected content, got %q", output)
	}
}
