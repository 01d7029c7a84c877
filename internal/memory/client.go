// Package memory provides the fault-tolerant client for the memory
// server. Every remote call runs through a circuit breaker wrapping a
// linear-backoff retry policy; the four record operations and the two
// resource reads never raise errors to callers, they degrade to safe
// fallbacks so the consuming flow stays available when memory is down.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sincerelyyyash/memory-mind/internal/breaker"
	"github.com/sincerelyyyash/memory-mind/internal/buildinfo"
	"github.com/sincerelyyyash/memory-mind/internal/mcp"
	"github.com/sincerelyyyash/memory-mind/internal/retry"
)

// protocolVersion is the protocol version advertised during the handshake.
const protocolVersion = "2024-11-05"

// clientName identifies this client in the initialize handshake.
const clientName = "memorymind"

// ToolDefinition is a tool as returned by tools/list.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock is a single content item in a tools/call response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// callToolResult is the result payload of a tools/call response.
type callToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// toolsListResult is the result payload of a tools/list response.
type toolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// serverInfo is returned in the initialize response.
type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// serverCapabilities describes what the memory server supports.
type serverCapabilities struct {
	Tools     *struct{} `json:"tools,omitempty"`
	Resources *struct{} `json:"resources,omitempty"`
}

// initializeResult is the full initialize response result.
type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      serverInfo         `json:"serverInfo"`
	Capabilities    serverCapabilities `json:"capabilities"`
}

// resourceContents is one content entry of a resources/read response.
type resourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

// readResourceResult is the result payload of a resources/read response.
type readResourceResult struct {
	Contents []resourceContents `json:"contents"`
}

// Config configures a Client.
type Config struct {
	// URL is the memory server endpoint.
	URL string

	// Headers are additional HTTP headers sent with every request
	// (e.g., Authorization).
	Headers map[string]string

	// RequestTimeout bounds each network attempt (default 15s).
	RequestTimeout time.Duration

	// RetryAttempts is the total number of attempts per operation
	// (default 3).
	RetryAttempts int

	// RetryBaseDelay is the backoff unit between attempts (default 1s).
	RetryBaseDelay time.Duration

	// BreakerFailureThreshold opens the circuit after this many
	// consecutive failed operations (default 5).
	BreakerFailureThreshold int

	// BreakerRecoveryTimeout is how long the circuit stays open before a
	// single probe is allowed through (default 30s).
	BreakerRecoveryTimeout time.Duration

	// Logger is the structured logger. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// Client provides typed, fault-tolerant access to the memory server.
// Construct one per process and inject it; its only mutable state is the
// session, the breaker, and the cached tool list, each guarded
// independently.
type Client struct {
	transport mcp.Transport
	session   *mcp.Session
	breaker   *breaker.Breaker
	retry     retry.Policy
	logger    *slog.Logger
	nextID    atomic.Int64

	initMu sync.Mutex

	mu         sync.RWMutex
	serverName string
	serverVer  string
	tools      []ToolDefinition
}

// New creates a client for the memory server at cfg.URL.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	session := mcp.NewSession()
	transport := mcp.NewHTTPTransport(mcp.HTTPConfig{
		URL:     cfg.URL,
		Headers: cfg.Headers,
		Session: session,
		Timeout: cfg.RequestTimeout,
		Logger:  logger,
	})

	return newClient(transport, session, cfg, logger)
}

// newClient wires a client over an existing transport and session.
func newClient(transport mcp.Transport, session *mcp.Session, cfg Config, logger *slog.Logger) *Client {
	return &Client{
		transport: transport,
		session:   session,
		breaker: breaker.New(breaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
			Logger:           logger,
		}),
		retry: retry.Policy{
			Attempts:  cfg.RetryAttempts,
			BaseDelay: cfg.RetryBaseDelay,
			Classify:  mcp.Retryable,
			Logger:    logger,
		},
		logger: logger,
	}
}

// Create stores a record and reports whether the server accepted it. On
// success the returned record carries the server-assigned ID and
// timestamp. Failures are logged and reported as ok=false, never raised.
func (c *Client) Create(ctx context.Context, rec Record) (Record, bool) {
	if err := rec.Validate(); err != nil {
		c.logger.Warn("refusing to store invalid record", "error", err)
		return Record{}, false
	}

	args := map[string]any{
		"subject":   rec.Subject,
		"predicate": rec.Predicate,
		"object":    rec.Object,
		"ownerId":   rec.OwnerID,
	}

	text, err := c.callTool(ctx, ToolCreateRecord, args)
	if err != nil {
		c.logger.Error("create record failed", "subject", rec.Subject, "error", err)
		return Record{}, false
	}

	var created Record
	if err := json.Unmarshal([]byte(text), &created); err != nil {
		c.logger.Error("create record returned unparseable payload", "error", err)
		return Record{}, false
	}
	return created, true
}

// Records returns everything stored for an owner. Degraded retrieval
// yields an empty slice, never an error.
func (c *Client) Records(ctx context.Context, ownerID string) []Record {
	text, err := c.callTool(ctx, ToolGetRecords, map[string]any{"ownerId": ownerID})
	if err != nil {
		c.logger.Error("get records failed", "owner_id", ownerID, "error", err)
		return []Record{}
	}

	var records []Record
	if err := json.Unmarshal([]byte(text), &records); err != nil {
		c.logger.Error("get records returned unparseable payload", "error", err)
		return []Record{}
	}
	if records == nil {
		records = []Record{}
	}
	return records
}

// Update rewrites an existing record, matched by ID and owner. The
// return value reports success; failures are logged, not raised.
func (c *Client) Update(ctx context.Context, rec Record) bool {
	if rec.ID == "" {
		c.logger.Warn("refusing to update record without id")
		return false
	}
	if err := rec.Validate(); err != nil {
		c.logger.Warn("refusing to apply invalid update", "id", rec.ID, "error", err)
		return false
	}

	args := map[string]any{
		"id":        rec.ID,
		"subject":   rec.Subject,
		"predicate": rec.Predicate,
		"object":    rec.Object,
		"ownerId":   rec.OwnerID,
	}

	if _, err := c.callTool(ctx, ToolUpdateRecord, args); err != nil {
		c.logger.Error("update record failed", "id", rec.ID, "error", err)
		return false
	}
	return true
}

// Delete removes a record by ID for an owner. The return value reports
// success; failures are logged, not raised.
func (c *Client) Delete(ctx context.Context, id, ownerID string) bool {
	args := map[string]any{"id": id, "ownerId": ownerID}

	if _, err := c.callTool(ctx, ToolDeleteRecord, args); err != nil {
		c.logger.Error("delete record failed", "id", id, "error", err)
		return false
	}
	return true
}

// Context returns the owner's prompt-ready memory context. Failures
// yield an empty string.
func (c *Client) Context(ctx context.Context, ownerID string) string {
	return c.readResource(ctx, ContextURI(ownerID))
}

// Summary returns a condensed per-subject overview of the owner's
// records. Failures yield an empty string.
func (c *Client) Summary(ctx context.Context, ownerID string) string {
	return c.readResource(ctx, SummaryURI(ownerID))
}

// ListTools calls tools/list and returns the available tool definitions.
// Results are cached; subsequent calls return the cached list.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	c.mu.RLock()
	if c.tools != nil {
		defer c.mu.RUnlock()
		return c.tools, nil
	}
	c.mu.RUnlock()

	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools/list result: %w", err)
	}

	c.mu.Lock()
	c.tools = result.Tools
	c.mu.Unlock()

	c.logger.Info("discovered memory server tools", "count", len(result.Tools))
	return result.Tools, nil
}

// Ping checks whether the memory server is responsive. It is a
// diagnostic: a single attempt outside the breaker and retry policy, so
// an open circuit cannot mask the server's actual state.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, "ping", nil)
	return err
}

// ServerInfo returns the name and version the server reported during the
// handshake, or empty strings before initialization.
func (c *Client) ServerInfo() (name, version string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverName, c.serverVer
}

// BreakerState exposes the circuit breaker position for diagnostics.
func (c *Client) BreakerState() breaker.State {
	return c.breaker.State()
}

// Disconnect clears the session and handshake state and releases the
// transport. Circuit breaker counters survive: reconnecting does not
// grant a failing server a clean slate. The client remains usable; the
// next operation performs a fresh handshake.
func (c *Client) Disconnect() error {
	c.logger.Info("disconnecting from memory server")
	c.session.Reset()

	c.mu.Lock()
	c.tools = nil
	c.serverName = ""
	c.serverVer = ""
	c.mu.Unlock()

	return c.transport.Close()
}

// ensureInitialized performs the handshake once per session. After
// Disconnect the next operation triggers a fresh handshake.
func (c *Client) ensureInitialized(ctx context.Context) error {
	if c.session.Initialized() {
		return nil
	}

	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.session.Initialized() {
		return nil
	}
	return c.initialize(ctx)
}

// initialize performs the handshake and completes it with the
// initialized notification. It flows through the breaker and retry
// policy like any other call; no session token exists yet, so nothing
// is attached.
func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": buildinfo.Version,
		},
	}

	resp, err := c.call(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("unmarshal initialize result: %w", err)
	}

	c.mu.Lock()
	c.serverName = result.ServerInfo.Name
	c.serverVer = result.ServerInfo.Version
	c.mu.Unlock()

	c.session.MarkInitialized()

	c.logger.Info("memory server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)

	// Complete the handshake.
	if err := c.transport.Notify(ctx, mcp.NewNotification("notifications/initialized", nil)); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}

	return nil
}

// callTool invokes a tool and returns the joined text content. Tool
// results flagged isError are surfaced as errors carrying their text.
func (c *Client) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return "", err
	}

	params := map[string]any{
		"name":      name,
		"arguments": args,
	}

	resp, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return "", fmt.Errorf("tools/call %s: %w", name, err)
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("unmarshal tools/call result: %w", err)
	}

	text := extractText(result.Content)
	if result.IsError {
		return "", fmt.Errorf("tool %s returned error: %s", name, text)
	}
	return text, nil
}

// readResource reads one resource and returns its joined text contents.
func (c *Client) readResource(ctx context.Context, uri string) string {
	if err := c.ensureInitialized(ctx); err != nil {
		c.logger.Error("handshake failed", "error", err)
		return ""
	}

	resp, err := c.call(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		c.logger.Error("read resource failed", "uri", uri, "error", err)
		return ""
	}

	var result readResourceResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		c.logger.Error("resource returned unparseable payload", "uri", uri, "error", err)
		return ""
	}

	var parts []string
	for _, content := range result.Contents {
		if content.Text != "" {
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// call runs one JSON-RPC request through the full resilience stack: the
// circuit breaker outermost, the retry policy inside it, the transport
// at the core. The breaker sees the whole retried operation as a single
// outcome, so an exhausted retry sequence counts as one failure.
func (c *Client) call(ctx context.Context, method string, params any) (*mcp.Response, error) {
	var resp *mcp.Response
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retry.Do(ctx, func(ctx context.Context) error {
			r, err := c.send(ctx, method, params)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// send issues a single JSON-RPC request and surfaces protocol-level
// errors. Each attempt gets a fresh request ID.
func (c *Client) send(ctx context.Context, method string, params any) (*mcp.Response, error) {
	id := c.nextID.Add(1)
	req := mcp.NewRequest(id, method, params)

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}

// extractText joins all text content blocks into a single string.
// Non-text blocks are represented as inline markers.
func extractText(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		default:
			parts = append(parts, fmt.Sprintf("[%s]", b.Type))
		}
	}
	return strings.Join(parts, "\n")
}
