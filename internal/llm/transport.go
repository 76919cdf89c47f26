package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second

	completionsPath  = "/chat/completions"
	maxResponseBytes = 16 * 1024 * 1024
	maxDelayValue    = time.Duration(math.MaxInt64)
	userAgent        = "chatloop/1.0"
)

type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Transport delivers one serialized completion request and returns the raw
// response body.
type Transport interface {
	Send(ctx context.Context, payload []byte) ([]byte, error)
}

type TransportConfig struct {
	BaseURL string
	APIKey  string
	// Timeout bounds each attempt, not the whole call.
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps the exponential delay when > 0.
	MaxDelay   time.Duration
	HTTPClient *http.Client
	Logger     Logger
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		BaseURL:    DefaultBaseURL,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
	}
}

type HTTPTransport struct {
	endpoint   string
	apiKey     string
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	client     *http.Client
	logger     Logger
	sleep      func(ctx context.Context, delay time.Duration) error
}

func NewHTTPTransport(config TransportConfig) (*HTTPTransport, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, configErrorf("api_key", "credential is required")
	}
	endpoint, err := CompletionsEndpoint(config.BaseURL)
	if err != nil {
		return nil, err
	}
	if config.Timeout < 0 {
		return nil, configErrorf("timeout", "must be >= 0, got %s", config.Timeout)
	}
	if config.MaxRetries < 0 {
		return nil, configErrorf("max_retries", "must be >= 0, got %d", config.MaxRetries)
	}
	if config.BaseDelay < 0 {
		return nil, configErrorf("base_delay", "must be >= 0, got %s", config.BaseDelay)
	}
	if config.MaxDelay < 0 {
		return nil, configErrorf("max_delay", "must be >= 0, got %s", config.MaxDelay)
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &HTTPTransport{
		endpoint:   endpoint,
		apiKey:     apiKey,
		timeout:    config.Timeout,
		maxRetries: config.MaxRetries,
		baseDelay:  config.BaseDelay,
		maxDelay:   config.MaxDelay,
		client:     client,
		logger:     config.Logger,
		sleep:      sleepContext,
	}, nil
}

// CompletionsEndpoint joins the base URL (which carries the API version,
// e.g. https://api.openai.com/v1) with the chat completions path.
func CompletionsEndpoint(baseURL string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return "", configErrorf("base_url", "must not be empty")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", configErrorf("base_url", "%v", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if (scheme != "http" && scheme != "https") || parsed.Host == "" {
		return "", configErrorf("base_url", "must be an absolute http(s) URL, got %q", baseURL)
	}
	return trimmed + completionsPath, nil
}

func (transport *HTTPTransport) Endpoint() string {
	return transport.endpoint
}

// Send posts payload, retrying transient failures with exponential
// backoff. The returned error is always a *TransportError.
func (transport *HTTPTransport) Send(ctx context.Context, payload []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &TransportError{Attempts: attempt, Err: err}
		}

		body, statusCode, retryAfter, err := transport.attempt(ctx, payload)
		if err == nil {
			if attempt > 0 {
				transport.debugf("event=transport_recovered attempts=%d", attempt+1)
			}
			return body, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &TransportError{Attempts: attempt + 1, StatusCode: statusCode, Err: ctxErr}
		}
		if !IsRetryable(err) || attempt >= transport.maxRetries {
			transport.warnf("event=transport_failed attempts=%d status=%d retryable=%t", attempt+1, statusCode, IsRetryable(err))
			return nil, &TransportError{Attempts: attempt + 1, StatusCode: statusCode, Err: err}
		}

		delay := transport.backoff(attempt, retryAfter)
		transport.warnf("event=transport_retry attempt=%d status=%d delay_ms=%d", attempt+1, statusCode, delay.Milliseconds())
		transport.debugf("retrying completion request after error: %v", err)
		if sleepErr := transport.sleep(ctx, delay); sleepErr != nil {
			return nil, &TransportError{Attempts: attempt + 1, StatusCode: statusCode, Err: sleepErr}
		}
	}
}

func (transport *HTTPTransport) attempt(ctx context.Context, payload []byte) ([]byte, int, time.Duration, error) {
	attemptCtx := ctx
	if transport.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, transport.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, transport.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+transport.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := transport.client.Do(req)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, 0, 0, fmt.Errorf("attempt timed out after %s: %w", transport.timeout, err)
		}
		return nil, 0, 0, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()), &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, resp.StatusCode, 0, nil
}

// backoff returns BaseDelay * 2^attempt, saturating instead of
// overflowing, capped by MaxDelay. A server Retry-After hint may lengthen
// the delay but never shortens it.
func (transport *HTTPTransport) backoff(attempt int, retryAfter time.Duration) time.Duration {
	delay := transport.baseDelay
	for step := 0; step < attempt && delay > 0; step++ {
		if delay > maxDelayValue/2 {
			delay = maxDelayValue
			break
		}
		delay *= 2
	}
	if transport.maxDelay > 0 && delay > transport.maxDelay {
		delay = transport.maxDelay
	}
	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(trimmed); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(trimmed); err == nil {
		if wait := at.Sub(now); wait > 0 {
			return wait
		}
	}
	return 0
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (transport *HTTPTransport) debugf(format string, args ...interface{}) {
	if transport.logger == nil {
		return
	}
	transport.logger.Debugf(format, args...)
}

func (transport *HTTPTransport) warnf(format string, args ...interface{}) {
	if transport.logger == nil {
		return
	}
	transport.logger.Warnf(format, args...)
}
