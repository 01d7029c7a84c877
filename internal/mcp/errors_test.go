package mcp

import (
	"context"
	"fmt"
	"testing"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"HTTP 400", &HTTPError{Status: 400}, false},
		{"HTTP 401", &HTTPError{Status: 401}, false},
		{"HTTP 403", &HTTPError{Status: 403}, false},
		{"HTTP 404", &HTTPError{Status: 404}, true},
		{"HTTP 429", &HTTPError{Status: 429}, true},
		{"HTTP 500", &HTTPError{Status: 500}, true},
		{"HTTP 503", &HTTPError{Status: 503}, true},
		{"rpc parse error", &RPCError{Code: CodeParseError}, false},
		{"rpc invalid request", &RPCError{Code: CodeInvalidRequest}, false},
		{"rpc invalid params", &RPCError{Code: CodeInvalidParams}, false},
		{"rpc session required", &RPCError{Code: CodeSessionRequired}, false},
		{"rpc invalid session", &RPCError{Code: CodeInvalidSession}, false},
		{"rpc method not found", &RPCError{Code: CodeMethodNotFound}, true},
		{"rpc internal error", &RPCError{Code: CodeInternalError}, true},
		{"rpc server error", &RPCError{Code: CodeServerError}, true},
		{"decode failure", &DecodeError{Reason: "invalid JSON envelope"}, true},
		{"no result in stream", ErrNoResult, true},
		{"network failure", fmt.Errorf("dial tcp: connection refused"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped HTTP 401", fmt.Errorf("send: %w", &HTTPError{Status: 401}), false},
		{"wrapped rpc invalid params", fmt.Errorf("tools/call: %w", &RPCError{Code: CodeInvalidParams}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{Status: 503, Body: "try later"}
	want := "server returned HTTP 503: try later"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	bare := &HTTPError{Status: 500}
	if bare.Error() != "server returned HTTP 500" {
		t.Errorf("Error() = %q, want bare status message", bare.Error())
	}
}

func TestDecodeError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("unexpected end of JSON input")
	err := &DecodeError{Reason: "invalid JSON envelope", Err: inner}
	if err.Unwrap() != inner {
		t.Errorf("Unwrap() = %v, want inner error", err.Unwrap())
	}
}
