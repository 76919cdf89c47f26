package llm

import (
	"context"
	"fmt"
)

// HTTPClient speaks the chat completions wire format directly over a
// Transport.
type HTTPClient struct {
	transport Transport
}

func NewHTTPClient(transport Transport) *HTTPClient {
	return &HTTPClient{transport: transport}
}

func (client *HTTPClient) Complete(ctx context.Context, request CompletionRequest) (CompletionResponse, error) {
	if client.transport == nil {
		return CompletionResponse{}, configErrorf("transport", "http client has no transport")
	}
	payload, err := EncodeRequest(request)
	if err != nil {
		return CompletionResponse{}, err
	}
	raw, err := client.transport.Send(ctx, payload)
	if err != nil {
		return CompletionResponse{}, err
	}
	response, err := ParseResponse(raw)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("model %s: %w", request.Model, err)
	}
	return response, nil
}
