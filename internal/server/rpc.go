package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sincerelyyyash/memory-mind/internal/buildinfo"
	"github.com/sincerelyyyash/memory-mind/internal/config"
	"github.com/sincerelyyyash/memory-mind/internal/mcp"
	"github.com/sincerelyyyash/memory-mind/internal/memory"
	"github.com/sincerelyyyash/memory-mind/internal/store"
)

// protocolVersion is the protocol version the server speaks.
const protocolVersion = "2024-11-05"

// serverName identifies this server in the initialize handshake.
const serverName = "memorymind-server"

// maxRequestBytes bounds how much of a request body is read.
const maxRequestBytes = 10 << 20

// rpcRequest is an incoming JSON-RPC message. A nil ID marks a
// notification.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type readResourceParams struct {
	URI string `json:"uri"`
}

// recordArgs is the argument shape shared by the record tools. Each tool
// reads the fields it needs.
type recordArgs struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
	OwnerID   string `json:"ownerId"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type serverCapabilities struct {
	Tools     struct{} `json:"tools"`
	Resources struct{} `json:"resources"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      serverInfo         `json:"serverInfo"`
	Capabilities    serverCapabilities `json:"capabilities"`
}

type toolsListResult struct {
	Tools []toolDefinition `json:"tools"`
}

type toolResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type resourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type readResourceResult struct {
	Contents []resourceContents `json:"contents"`
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(mcp.SessionHeader)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "read request", http.StatusBadRequest)
		return
	}

	s.logger.Log(r.Context(), config.LevelTrace, "mcp request", "body", string(body))

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeResponse(w, r, token, mcp.NewErrorResponse(0, mcp.CodeParseError, "malformed JSON-RPC request"))
		return
	}

	// Notifications carry no ID and get no envelope back.
	if req.ID == nil {
		s.handleNotification(&req)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	id := *req.ID

	// Each handshake starts a fresh session; every response carries the
	// current token so clients can pick up rotations.
	if req.Method == "initialize" {
		token = uuid.New().String()
		s.logger.Info("session issued", "session_id", token)
	}

	var resp *mcp.Response
	switch req.Method {
	case "initialize":
		resp = resultResponse(id, initializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      serverInfo{Name: serverName, Version: buildinfo.Version},
		})
	case "ping":
		resp = mcp.NewResponse(id, json.RawMessage(`{}`))
	case "tools/list":
		resp = resultResponse(id, toolsListResult{Tools: toolCatalog()})
	case "tools/call":
		resp = s.handleToolsCall(id, req.Params)
	case "resources/read":
		resp = s.handleResourcesRead(id, req.Params)
	default:
		resp = mcp.NewErrorResponse(id, mcp.CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}

	s.writeResponse(w, r, token, resp)
}

func (s *Server) handleNotification(req *rpcRequest) {
	switch req.Method {
	case "notifications/initialized":
		s.logger.Debug("client completed handshake")
	default:
		s.logger.Debug("ignoring notification", "method", req.Method)
	}
}

// writeResponse frames the envelope for the wire. The session token, when
// present, rides on every response, including errors.
func (s *Server) writeResponse(w http.ResponseWriter, r *http.Request, token string, resp *mcp.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if token != "" {
		w.Header().Set(mcp.SessionHeader, token)
	}

	if s.listen.Streaming && strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

func (s *Server) handleToolsCall(id int64, params json.RawMessage) *mcp.Response {
	var call callToolParams
	if err := json.Unmarshal(params, &call); err != nil {
		return mcp.NewErrorResponse(id, mcp.CodeInvalidParams, "invalid tools/call params")
	}

	var args recordArgs
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return mcp.NewErrorResponse(id, mcp.CodeInvalidParams, "invalid tool arguments")
		}
	}

	switch call.Name {
	case memory.ToolCreateRecord:
		return s.createRecord(id, args)
	case memory.ToolGetRecords:
		return s.getRecords(id, args)
	case memory.ToolUpdateRecord:
		return s.updateRecord(id, args)
	case memory.ToolDeleteRecord:
		return s.deleteRecord(id, args)
	default:
		return mcp.NewErrorResponse(id, mcp.CodeInvalidParams, fmt.Sprintf("unknown tool %q", call.Name))
	}
}

func (s *Server) createRecord(id int64, args recordArgs) *mcp.Response {
	rec := memory.Record{
		Subject:   args.Subject,
		Predicate: args.Predicate,
		Object:    args.Object,
		OwnerID:   args.OwnerID,
	}
	if err := rec.Validate(); err != nil {
		return errorResult(id, err.Error())
	}

	created, err := s.store.Create(rec)
	if err != nil {
		s.logger.Error("create record failed", "error", err)
		return mcp.NewErrorResponse(id, mcp.CodeInternalError, "create record")
	}

	s.logger.Info("record stored",
		"id", created.ID,
		"owner_id", created.OwnerID,
		"subject", created.Subject,
	)
	return recordResult(id, created)
}

func (s *Server) getRecords(id int64, args recordArgs) *mcp.Response {
	if args.OwnerID == "" {
		return errorResult(id, "ownerId is required")
	}

	records, err := s.store.ByOwner(args.OwnerID)
	if err != nil {
		s.logger.Error("get records failed", "error", err)
		return mcp.NewErrorResponse(id, mcp.CodeInternalError, "get records")
	}
	if records == nil {
		records = []memory.Record{}
	}

	data, err := json.Marshal(records)
	if err != nil {
		return mcp.NewErrorResponse(id, mcp.CodeInternalError, "marshal records")
	}
	return textResult(id, string(data))
}

func (s *Server) updateRecord(id int64, args recordArgs) *mcp.Response {
	if args.ID == "" {
		return errorResult(id, "id is required")
	}
	rec := memory.Record{
		ID:        args.ID,
		Subject:   args.Subject,
		Predicate: args.Predicate,
		Object:    args.Object,
		OwnerID:   args.OwnerID,
	}
	if err := rec.Validate(); err != nil {
		return errorResult(id, err.Error())
	}

	updated, err := s.store.Update(rec)
	if errors.Is(err, store.ErrNotFound) {
		return errorResult(id, err.Error())
	}
	if err != nil {
		s.logger.Error("update record failed", "error", err)
		return mcp.NewErrorResponse(id, mcp.CodeInternalError, "update record")
	}

	s.logger.Info("record updated", "id", updated.ID, "owner_id", updated.OwnerID)
	return recordResult(id, updated)
}

func (s *Server) deleteRecord(id int64, args recordArgs) *mcp.Response {
	if args.ID == "" {
		return errorResult(id, "id is required")
	}

	err := s.store.Delete(args.ID, args.OwnerID)
	if errors.Is(err, store.ErrNotFound) {
		return errorResult(id, err.Error())
	}
	if err != nil {
		s.logger.Error("delete record failed", "error", err)
		return mcp.NewErrorResponse(id, mcp.CodeInternalError, "delete record")
	}

	s.logger.Info("record deleted", "id", args.ID, "owner_id", args.OwnerID)
	return textResult(id, fmt.Sprintf("deleted %s", args.ID))
}

func (s *Server) handleResourcesRead(id int64, params json.RawMessage) *mcp.Response {
	var read readResourceParams
	if err := json.Unmarshal(params, &read); err != nil {
		return mcp.NewErrorResponse(id, mcp.CodeInvalidParams, "invalid resources/read params")
	}

	category, ownerID, err := memory.ParseURI(read.URI)
	if err != nil {
		return mcp.NewErrorResponse(id, mcp.CodeInvalidParams, err.Error())
	}

	var text string
	switch category {
	case "context":
		text, err = s.store.BuildContext(ownerID)
	case "summary":
		text, err = s.store.BuildSummary(ownerID)
	default:
		return mcp.NewErrorResponse(id, mcp.CodeInvalidParams, fmt.Sprintf("unknown resource category %q", category))
	}
	if err != nil {
		s.logger.Error("read resource failed", "uri", read.URI, "error", err)
		return mcp.NewErrorResponse(id, mcp.CodeInternalError, "read resource")
	}

	return resultResponse(id, readResourceResult{
		Contents: []resourceContents{
			{URI: read.URI, MimeType: "text/plain", Text: text},
		},
	})
}

// resultResponse marshals a result payload into a success envelope.
func resultResponse(id int64, result any) *mcp.Response {
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewErrorResponse(id, mcp.CodeInternalError, "marshal result")
	}
	return mcp.NewResponse(id, data)
}

// textResult wraps text in a tools/call result envelope.
func textResult(id int64, text string) *mcp.Response {
	return resultResponse(id, toolResult{
		Content: []contentBlock{{Type: "text", Text: text}},
	})
}

// errorResult reports a tool-level failure. The envelope is still a
// result: the call was delivered and answered, the tool itself failed.
func errorResult(id int64, text string) *mcp.Response {
	return resultResponse(id, toolResult{
		Content: []contentBlock{{Type: "text", Text: text}},
		IsError: true,
	})
}

// recordResult renders a record as the text payload of a tool result.
func recordResult(id int64, rec memory.Record) *mcp.Response {
	data, err := json.Marshal(rec)
	if err != nil {
		return mcp.NewErrorResponse(id, mcp.CodeInternalError, "marshal record")
	}
	return textResult(id, string(data))
}
