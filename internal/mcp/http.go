package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sincerelyyyash/memory-mind/internal/httpkit"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// DefaultRequestTimeout bounds a single HTTP attempt. Retries happen above
// the transport, so this is per attempt, not per operation.
const DefaultRequestTimeout = 15 * time.Second

// HTTPConfig configures an HTTP transport that communicates with a memory
// server over streamable HTTP (JSON-RPC over POST).
type HTTPConfig struct {
	// URL is the memory server endpoint.
	URL string

	// Headers are additional HTTP headers sent with every request
	// (e.g., Authorization).
	Headers map[string]string

	// Session tracks the server-issued session token across requests.
	// A fresh session is created when nil.
	Session *Session

	// Timeout bounds each HTTP attempt. Defaults to DefaultRequestTimeout.
	Timeout time.Duration

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// HTTPTransport communicates with a memory server over streamable HTTP.
// Each JSON-RPC request is sent as an HTTP POST; the response body comes
// back as a plain envelope or an SSE stream and is decoded either way.
type HTTPTransport struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	session    *Session
	logger     *slog.Logger
}

// NewHTTPTransport creates an HTTP transport for the given config.
// The underlying HTTP client is constructed via httpkit.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	session := cfg.Session
	if session == nil {
		session = NewSession()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	client := httpkit.NewClient(
		httpkit.WithTimeout(timeout),
	)

	return &HTTPTransport{
		url:        cfg.URL,
		headers:    cfg.Headers,
		httpClient: client,
		session:    session,
		logger:     logger,
	}
}

// Session returns the session state this transport attaches and captures.
func (t *HTTPTransport) Session() *Session {
	return t.session
}

// Send sends a JSON-RPC request via HTTP POST and returns the decoded
// response envelope.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	body, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	t.logger.Log(ctx, LevelTrace, "jsonrpc request", "method", req.Method, "body", string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	// Apply configured headers (auth, etc.).
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	t.session.Attach(httpReq.Header)

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to %s: %w", t.url, err)
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	// Token rotation can ride on any response, including error statuses.
	t.session.Capture(httpResp.Header)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &HTTPError{
			Status: httpResp.StatusCode,
			Body:   httpkit.ReadErrorBody(httpResp.Body, 1<<20),
		}
	}

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20)) // 10 MiB limit
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	t.logger.Log(ctx, LevelTrace, "jsonrpc response", "method", req.Method, "body", string(respBody))

	return DecodeResponse(respBody)
}

// Notify sends a JSON-RPC notification via HTTP POST. No response
// content is expected, but the HTTP response status is checked.
func (t *HTTPTransport) Notify(ctx context.Context, notif *Notification) error {
	body, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	t.session.Attach(httpReq.Header)

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP notification to %s: %w", t.url, err)
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	t.session.Capture(httpResp.Header)

	// Accept 200 and 202 (accepted) for notifications.
	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		return &HTTPError{
			Status: httpResp.StatusCode,
			Body:   httpkit.ReadErrorBody(httpResp.Body, 1<<20),
		}
	}

	return nil
}

// Close is a no-op for HTTP transports. The underlying HTTP client
// manages its own connection pool via httpkit.
func (t *HTTPTransport) Close() error {
	return nil
}
