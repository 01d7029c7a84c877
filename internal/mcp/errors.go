package mcp

import (
	"errors"
	"fmt"
	"net/http"
)

// JSON-RPC error codes used on the wire. The -32700..-32600 range is
// defined by the JSON-RPC 2.0 spec; the -32000 block holds
// implementation-defined codes.
const (
	CodeParseError      = -32700
	CodeInvalidRequest  = -32600
	CodeMethodNotFound  = -32601
	CodeInvalidParams   = -32602
	CodeInternalError   = -32603
	CodeServerError     = -32000
	CodeSessionRequired = -32001
	CodeInvalidSession  = -32002
)

// ErrNoResult is returned when an event stream ends without any data line
// carrying a usable envelope.
var ErrNoResult = errors.New("no valid result in event stream")

// HTTPError is a non-success HTTP status from the server, surfaced before
// any JSON-RPC envelope could be read.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("server returned HTTP %d: %s", e.Status, e.Body)
}

// DecodeError is a response body that could not be decoded into a JSON-RPC
// envelope. Distinct from CodeParseError, which the server reports when it
// cannot parse our request.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode response: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode response: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Retryable reports whether a failed call is worth attempting again.
//
// Client-fault outcomes are not: the server rejected the request itself and
// resending the same bytes buys nothing. That covers HTTP 400, 401 and 403,
// and the JSON-RPC codes for malformed or invalid requests and for session
// rejection. Everything else (timeouts, connection failures, 5xx statuses,
// server-side internal errors, undecodable response bodies) is presumed
// transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return false
		}
		return true
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case CodeParseError, CodeInvalidRequest, CodeInvalidParams,
			CodeSessionRequired, CodeInvalidSession:
			return false
		}
		return true
	}

	return true
}
