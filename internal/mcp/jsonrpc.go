package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// jsonrpcVersion is the JSON-RPC protocol version used on the wire.
const jsonrpcVersion = "2.0"

// Request is a JSON-RPC 2.0 request message.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest creates a JSON-RPC 2.0 request with the given method and params.
func NewRequest(id int64, method string, params any) *Request {
	return &Request{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// Response is a JSON-RPC 2.0 response message. Exactly one of Result
// or Error is set in a well-formed response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface for RPCError.
func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Notification is a JSON-RPC 2.0 notification (no ID, no response expected).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification creates a JSON-RPC 2.0 notification.
func NewNotification(method string, params any) *Notification {
	return &Notification{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  params,
	}
}

// NewResponse creates a success response carrying an already-marshaled result.
func NewResponse(id int64, result json.RawMessage) *Response {
	return &Response{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse creates an error response for the given request ID.
func NewErrorResponse(id int64, code int, message string) *Response {
	return &Response{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
}

// EncodeRequest serializes a request for the wire.
func EncodeRequest(req *Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return data, nil
}

// DecodeResponse parses an HTTP response body into a JSON-RPC envelope.
// Two framings arrive in practice: a plain JSON envelope, and a
// server-sent event stream whose data lines carry envelopes. The framing
// is detected from the body itself rather than the Content-Type header,
// which servers set loosely.
func DecodeResponse(body []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &DecodeError{Reason: "empty response body"}
	}

	if trimmed[0] == '{' {
		var resp Response
		if err := json.Unmarshal(trimmed, &resp); err != nil {
			return nil, &DecodeError{Reason: "invalid JSON envelope", Err: err}
		}
		if err := checkEnvelope(&resp); err != nil {
			return nil, err
		}
		return &resp, nil
	}

	return decodeEventStream(body)
}

// decodeEventStream scans SSE framing for data lines and returns the first
// envelope that carries a result or an error. Event type lines, comments,
// and blank separators are skipped.
func decodeEventStream(body []byte) (*Response, error) {
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 10<<20) // data lines can carry large results

	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		var resp Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			return nil, &DecodeError{Reason: "invalid JSON in event data", Err: err}
		}
		if len(resp.Result) > 0 || resp.Error != nil {
			if err := checkEnvelope(&resp); err != nil {
				return nil, err
			}
			return &resp, nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &DecodeError{Reason: "scan event stream", Err: err}
	}

	return nil, ErrNoResult
}

// checkEnvelope enforces the response shape: exactly one of result and
// error must be present. A JSON null result still counts as present.
func checkEnvelope(resp *Response) error {
	hasResult := len(resp.Result) > 0
	hasError := resp.Error != nil
	switch {
	case hasResult && hasError:
		return &DecodeError{Reason: "envelope carries both result and error"}
	case !hasResult && !hasError:
		return &DecodeError{Reason: "envelope carries neither result nor error"}
	}
	return nil
}
