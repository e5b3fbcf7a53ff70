package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPHandler implements the "http.request" node type.
//
// It performs an HTTP request described by the node's configuration and
// returns the response to downstream nodes.
//
// Config keys:
//   - url: target URL (required, unless the resolved input supplies it)
//   - method: "GET" or "POST" (defaults to "GET")
//   - headers: map of header name -> value
//   - body: request body string (POST only)
//
// When the resolved input is a map and config omits url/body, the handler
// falls back to "url" and "body" keys of the input, so upstream nodes can
// drive the request dynamically.
//
// Output data:
//   - status_code: HTTP status code
//   - headers: response headers
//   - body: response body string (parsed JSON object when the response is
//     application/json, so downstream field extraction works)
type HTTPHandler struct {
	client *http.Client
}

// NewHTTPHandler creates an HTTP request handler. Timeouts are enforced by
// the per-node execution context, not the client.
func NewHTTPHandler() *HTTPHandler {
	return &HTTPHandler{client: &http.Client{}}
}

// Execute implements Handler.
func (h *HTTPHandler) Execute(ctx context.Context, req Request) (Result, error) {
	inputMap, _ := req.Input.(map[string]any)

	urlStr := stringConfig(req.Config, "url")
	if urlStr == "" {
		if s, ok := inputMap["url"].(string); ok {
			urlStr = s
		}
	}
	if urlStr == "" {
		return Result{}, fmt.Errorf("http.request: url is required")
	}

	method := strings.ToUpper(stringConfig(req.Config, "method"))
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return Result{}, fmt.Errorf("http.request: unsupported method %s", method)
	}

	var body io.Reader
	bodyStr := stringConfig(req.Config, "body")
	if bodyStr == "" {
		if s, ok := inputMap["body"].(string); ok {
			bodyStr = s
		}
	}
	if bodyStr != "" {
		body = bytes.NewBufferString(bodyStr)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return Result{}, fmt.Errorf("http.request: build request: %w", err)
	}

	if headers, ok := req.Config["headers"].(map[string]any); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				httpReq.Header.Set(key, s)
			}
		}
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("http.request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("http.request: read response: %w", err)
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	var bodyVal any = string(respBody)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed any
		if err := json.Unmarshal(respBody, &parsed); err == nil {
			bodyVal = parsed
		}
	}

	return Result{
		Data: map[string]any{
			"status_code": resp.StatusCode,
			"headers":     respHeaders,
			"body":        bodyVal,
		},
		Logs: []string{fmt.Sprintf("%s %s -> %d", method, urlStr, resp.StatusCode)},
	}, nil
}

func stringConfig(config map[string]any, key string) string {
	if config == nil {
		return ""
	}
	if s, ok := config[key].(string); ok {
		return s
	}
	return ""
}
