// Package mcp implements the JSON-RPC 2.0 wire protocol shared by the
// memorymind client and server: message envelopes, the response codec,
// session token handling, and the HTTP transport.
//
// Requests go out as HTTP POST bodies. Responses come back either as a
// plain JSON envelope or as a server-sent event stream whose data lines
// carry envelopes; DecodeResponse handles both framings. Session affinity
// rides on the Session-Id header, captured from responses and attached to
// subsequent requests.
//
// Resilience (retry, circuit breaking) lives above this package. A
// Transport attempt either succeeds or returns a classified error;
// internal/retry and internal/breaker decide what happens next.
package mcp
