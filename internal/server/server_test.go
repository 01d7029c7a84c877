package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sincerelyyyash/memory-mind/internal/config"
	"github.com/sincerelyyyash/memory-mind/internal/mcp"
	"github.com/sincerelyyyash/memory-mind/internal/memory"
	"github.com/sincerelyyyash/memory-mind/internal/store"
)

func setupTestServer(t *testing.T, streaming bool) *httptest.Server {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Handlers run on their own goroutines and an in-memory database
	// exists per connection, so pin the pool to one.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st, err := store.NewStoreWithDB(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	srv := NewServer(config.ListenConfig{Streaming: streaming}, st, slog.Default())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// rpcCall posts one JSON-RPC request and decodes the envelope that
// comes back.
func rpcCall(t *testing.T, ts *httptest.Server, id int64, method string, params any) (*mcp.Response, *http.Response) {
	t.Helper()

	data, err := mcp.EncodeRequest(mcp.NewRequest(id, method, params))
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}

	httpResp, err := http.Post(ts.URL+"/mcp", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	body, err := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	resp, err := mcp.DecodeResponse(body)
	if err != nil {
		t.Fatalf("decode response: %v (body %q)", err, body)
	}
	return resp, httpResp
}

// toolCall invokes a tool and returns its result payload.
func toolCall(t *testing.T, ts *httptest.Server, name string, args map[string]any) toolResult {
	t.Helper()

	resp, _ := rpcCall(t, ts, 1, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if resp.Error != nil {
		t.Fatalf("tools/call %s: %v", name, resp.Error)
	}

	var result toolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal tool result: %v", err)
	}
	return result
}

func TestServer_Initialize(t *testing.T) {
	ts := setupTestServer(t, false)

	resp, httpResp := rpcCall(t, ts, 1, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test", "version": "0.0.1"},
	})
	if resp.Error != nil {
		t.Fatalf("initialize: %v", resp.Error)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.ProtocolVersion != protocolVersion {
		t.Errorf("protocolVersion = %q, want %q", result.ProtocolVersion, protocolVersion)
	}
	if result.ServerInfo.Name != serverName {
		t.Errorf("server name = %q, want %q", result.ServerInfo.Name, serverName)
	}

	token := httpResp.Header.Get(mcp.SessionHeader)
	if token == "" {
		t.Fatal("initialize response carried no session token")
	}
	if _, err := uuid.Parse(token); err != nil {
		t.Errorf("session token %q is not a uuid: %v", token, err)
	}
}

func TestServer_SessionEcho(t *testing.T) {
	ts := setupTestServer(t, false)

	data, _ := mcp.EncodeRequest(mcp.NewRequest(7, "ping", nil))
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", bytes.NewReader(data))
	req.Header.Set(mcp.SessionHeader, "sess-existing")

	httpResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer httpResp.Body.Close()

	if got := httpResp.Header.Get(mcp.SessionHeader); got != "sess-existing" {
		t.Errorf("session header = %q, want %q", got, "sess-existing")
	}
}

func TestServer_Notification(t *testing.T) {
	ts := setupTestServer(t, false)

	data, _ := json.Marshal(mcp.NewNotification("notifications/initialized", nil))
	httpResp, err := http.Post(ts.URL+"/mcp", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want %d", httpResp.StatusCode, http.StatusAccepted)
	}
}

func TestServer_Ping(t *testing.T) {
	ts := setupTestServer(t, false)

	resp, _ := rpcCall(t, ts, 3, "ping", nil)
	if resp.Error != nil {
		t.Fatalf("ping: %v", resp.Error)
	}
	if string(resp.Result) != "{}" {
		t.Errorf("result = %s, want {}", resp.Result)
	}
}

func TestServer_ToolsList(t *testing.T) {
	ts := setupTestServer(t, false)

	resp, _ := rpcCall(t, ts, 1, "tools/list", nil)
	if resp.Error != nil {
		t.Fatalf("tools/list: %v", resp.Error)
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(result.Tools) != 4 {
		t.Fatalf("got %d tools, want 4", len(result.Tools))
	}
	names := make(map[string]bool)
	for _, tool := range result.Tools {
		names[tool.Name] = true
		if tool.InputSchema["type"] != "object" {
			t.Errorf("tool %s schema type = %v", tool.Name, tool.InputSchema["type"])
		}
	}
	for _, want := range []string{
		memory.ToolCreateRecord, memory.ToolGetRecords,
		memory.ToolUpdateRecord, memory.ToolDeleteRecord,
	} {
		if !names[want] {
			t.Errorf("tool %q missing from catalog", want)
		}
	}
}

func TestServer_CreateAndGetRecords(t *testing.T) {
	ts := setupTestServer(t, false)

	created := toolCall(t, ts, memory.ToolCreateRecord, map[string]any{
		"subject":   "yash",
		"predicate": "likes",
		"object":    "espresso",
		"ownerId":   "user-1",
	})
	if created.IsError {
		t.Fatalf("create returned tool error: %s", created.Content[0].Text)
	}

	var rec memory.Record
	if err := json.Unmarshal([]byte(created.Content[0].Text), &rec); err != nil {
		t.Fatalf("unmarshal created record: %v", err)
	}
	if _, err := uuid.Parse(rec.ID); err != nil {
		t.Errorf("record ID %q is not a uuid: %v", rec.ID, err)
	}
	if rec.Timestamp.IsZero() {
		t.Error("record timestamp was not assigned")
	}

	listed := toolCall(t, ts, memory.ToolGetRecords, map[string]any{"ownerId": "user-1"})
	var records []memory.Record
	if err := json.Unmarshal([]byte(listed.Content[0].Text), &records); err != nil {
		t.Fatalf("unmarshal records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].ID != rec.ID {
		t.Errorf("listed ID = %q, want %q", records[0].ID, rec.ID)
	}
}

func TestServer_GetRecords_EmptyOwner(t *testing.T) {
	ts := setupTestServer(t, false)

	listed := toolCall(t, ts, memory.ToolGetRecords, map[string]any{"ownerId": "nobody"})
	if listed.IsError {
		t.Fatalf("get-records returned tool error: %s", listed.Content[0].Text)
	}
	if got := listed.Content[0].Text; got != "[]" {
		t.Errorf("payload = %q, want %q", got, "[]")
	}
}

func TestServer_Create_Invalid(t *testing.T) {
	ts := setupTestServer(t, false)

	result := toolCall(t, ts, memory.ToolCreateRecord, map[string]any{
		"subject": "yash",
		"ownerId": "user-1",
	})
	if !result.IsError {
		t.Fatal("create accepted a record without predicate and object")
	}
	if !strings.Contains(result.Content[0].Text, "required") {
		t.Errorf("error text = %q", result.Content[0].Text)
	}
}

func TestServer_Create_DuplicateConverges(t *testing.T) {
	ts := setupTestServer(t, false)

	toolCall(t, ts, memory.ToolCreateRecord, map[string]any{
		"subject": "yash", "predicate": "likes", "object": "espresso", "ownerId": "user-1",
	})
	toolCall(t, ts, memory.ToolCreateRecord, map[string]any{
		"subject": "yash", "predicate": "likes", "object": "flat white", "ownerId": "user-1",
	})

	listed := toolCall(t, ts, memory.ToolGetRecords, map[string]any{"ownerId": "user-1"})
	var records []memory.Record
	if err := json.Unmarshal([]byte(listed.Content[0].Text), &records); err != nil {
		t.Fatalf("unmarshal records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records after redelivered create, want 1", len(records))
	}
	if records[0].Object != "flat white" {
		t.Errorf("object = %q, want %q", records[0].Object, "flat white")
	}
}

func TestServer_UpdateAndDelete(t *testing.T) {
	ts := setupTestServer(t, false)

	created := toolCall(t, ts, memory.ToolCreateRecord, map[string]any{
		"subject": "yash", "predicate": "likes", "object": "espresso", "ownerId": "user-1",
	})
	var rec memory.Record
	if err := json.Unmarshal([]byte(created.Content[0].Text), &rec); err != nil {
		t.Fatalf("unmarshal created record: %v", err)
	}

	updated := toolCall(t, ts, memory.ToolUpdateRecord, map[string]any{
		"id": rec.ID, "subject": "yash", "predicate": "likes", "object": "cortado", "ownerId": "user-1",
	})
	if updated.IsError {
		t.Fatalf("update returned tool error: %s", updated.Content[0].Text)
	}

	listed := toolCall(t, ts, memory.ToolGetRecords, map[string]any{"ownerId": "user-1"})
	var records []memory.Record
	json.Unmarshal([]byte(listed.Content[0].Text), &records)
	if len(records) != 1 || records[0].Object != "cortado" {
		t.Fatalf("records after update = %+v", records)
	}

	deleted := toolCall(t, ts, memory.ToolDeleteRecord, map[string]any{
		"id": rec.ID, "ownerId": "user-1",
	})
	if deleted.IsError {
		t.Fatalf("delete returned tool error: %s", deleted.Content[0].Text)
	}

	// Deleting again reports a tool-level failure, not a protocol error.
	again := toolCall(t, ts, memory.ToolDeleteRecord, map[string]any{
		"id": rec.ID, "ownerId": "user-1",
	})
	if !again.IsError {
		t.Error("second delete did not report an error")
	}
}

func TestServer_Update_UnknownRecord(t *testing.T) {
	ts := setupTestServer(t, false)

	result := toolCall(t, ts, memory.ToolUpdateRecord, map[string]any{
		"id": "missing", "subject": "x", "predicate": "y", "object": "z", "ownerId": "user-1",
	})
	if !result.IsError {
		t.Error("update of unknown record did not report an error")
	}
}

func TestServer_UnknownTool(t *testing.T) {
	ts := setupTestServer(t, false)

	resp, _ := rpcCall(t, ts, 1, "tools/call", map[string]any{
		"name":      "drop-table",
		"arguments": map[string]any{},
	})
	if resp.Error == nil {
		t.Fatal("expected error for unknown tool")
	}
	if resp.Error.Code != mcp.CodeInvalidParams {
		t.Errorf("code = %d, want %d", resp.Error.Code, mcp.CodeInvalidParams)
	}
}

func TestServer_UnknownMethod(t *testing.T) {
	ts := setupTestServer(t, false)

	resp, _ := rpcCall(t, ts, 1, "prompts/list", nil)
	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != mcp.CodeMethodNotFound {
		t.Errorf("code = %d, want %d", resp.Error.Code, mcp.CodeMethodNotFound)
	}
}

func TestServer_MalformedRequest(t *testing.T) {
	ts := setupTestServer(t, false)

	httpResp, err := http.Post(ts.URL+"/mcp", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	body, _ := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()

	resp, err := mcp.DecodeResponse(body)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != mcp.CodeParseError {
		t.Errorf("error = %+v, want code %d", resp.Error, mcp.CodeParseError)
	}
}

func TestServer_ResourcesRead(t *testing.T) {
	ts := setupTestServer(t, false)

	toolCall(t, ts, memory.ToolCreateRecord, map[string]any{
		"subject": "yash", "predicate": "likes", "object": "espresso", "ownerId": "user-1",
	})

	resp, _ := rpcCall(t, ts, 1, "resources/read", map[string]any{
		"uri": memory.ContextURI("user-1"),
	})
	if resp.Error != nil {
		t.Fatalf("resources/read: %v", resp.Error)
	}

	var result readResourceResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(result.Contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(result.Contents))
	}
	if result.Contents[0].MimeType != "text/plain" {
		t.Errorf("mimeType = %q", result.Contents[0].MimeType)
	}
	if !strings.Contains(result.Contents[0].Text, "yash likes espresso") {
		t.Errorf("context text = %q", result.Contents[0].Text)
	}

	resp, _ = rpcCall(t, ts, 2, "resources/read", map[string]any{
		"uri": memory.SummaryURI("user-1"),
	})
	if resp.Error != nil {
		t.Fatalf("resources/read summary: %v", resp.Error)
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !strings.Contains(result.Contents[0].Text, "1 records, 1 subjects") {
		t.Errorf("summary text = %q", result.Contents[0].Text)
	}
}

func TestServer_ResourcesRead_BadURI(t *testing.T) {
	ts := setupTestServer(t, false)

	tests := []struct {
		name string
		uri  string
	}{
		{"wrong scheme", "file:///etc/passwd"},
		{"unknown category", "memory://secrets/user-1"},
		{"missing owner", "memory://context"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := rpcCall(t, ts, 1, "resources/read", map[string]any{"uri": tt.uri})
			if resp.Error == nil {
				t.Fatalf("expected error for uri %q", tt.uri)
			}
			if resp.Error.Code != mcp.CodeInvalidParams {
				t.Errorf("code = %d, want %d", resp.Error.Code, mcp.CodeInvalidParams)
			}
		})
	}
}

func TestServer_SSEFraming(t *testing.T) {
	ts := setupTestServer(t, true)

	data, _ := mcp.EncodeRequest(mcp.NewRequest(1, "ping", nil))
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", bytes.NewReader(data))
	req.Header.Set("Accept", "application/json, text/event-stream")

	httpResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	body, _ := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()

	if ct := httpResp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/event-stream")
	}
	if !strings.HasPrefix(string(body), "event: message\ndata: ") {
		t.Fatalf("body not SSE framed: %q", body)
	}

	// The client codec handles the framing transparently.
	resp, err := mcp.DecodeResponse(body)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if string(resp.Result) != "{}" {
		t.Errorf("result = %s, want {}", resp.Result)
	}
}

func TestServer_SSEDisabled(t *testing.T) {
	ts := setupTestServer(t, false)

	data, _ := mcp.EncodeRequest(mcp.NewRequest(1, "ping", nil))
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", bytes.NewReader(data))
	req.Header.Set("Accept", "text/event-stream")

	httpResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer httpResp.Body.Close()

	if ct := httpResp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

func TestServer_Health(t *testing.T) {
	ts := setupTestServer(t, false)

	httpResp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", httpResp.StatusCode)
	}

	var payload map[string]any
	if err := json.NewDecoder(httpResp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", payload["status"])
	}
}

// TestServer_EndToEndClient drives the full client stack against a live
// server: handshake, session reuse, typed operations, and resource reads.
func TestServer_EndToEndClient(t *testing.T) {
	ts := setupTestServer(t, true)

	client := memory.New(memory.Config{URL: ts.URL + "/mcp"})
	ctx := context.Background()

	created, ok := client.Create(ctx, memory.Record{
		Subject: "yash", Predicate: "likes", Object: "espresso", OwnerID: "user-1",
	})
	if !ok {
		t.Fatal("Create reported failure against live server")
	}
	if created.ID == "" {
		t.Fatal("created record has no ID")
	}

	records := client.Records(ctx, "user-1")
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	created.Object = "cortado"
	if !client.Update(ctx, created) {
		t.Fatal("Update reported failure")
	}

	contextText := client.Context(ctx, "user-1")
	if !strings.Contains(contextText, "yash likes cortado") {
		t.Errorf("context = %q", contextText)
	}

	summary := client.Summary(ctx, "user-1")
	if !strings.Contains(summary, "1 records, 1 subjects") {
		t.Errorf("summary = %q", summary)
	}

	if !client.Delete(ctx, created.ID, "user-1") {
		t.Fatal("Delete reported failure")
	}
	if remaining := client.Records(ctx, "user-1"); len(remaining) != 0 {
		t.Errorf("got %d records after delete, want 0", len(remaining))
	}

	if err := client.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}

	name, _ := client.ServerInfo()
	if name != serverName {
		t.Errorf("server name = %q, want %q", name, serverName)
	}

	if err := client.Disconnect(); err != nil {
		t.Errorf("Disconnect: %v", err)
	}
}
