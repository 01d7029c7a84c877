package mcp

import (
	"net/http"
	"sync"
)

// SessionHeader is the HTTP header that carries the session token in both
// directions.
const SessionHeader = "Session-Id"

// Session tracks the server-issued session token and handshake state for
// one logical connection. The two move together: resetting the session
// forgets the token and requires a fresh initialize exchange.
type Session struct {
	mu          sync.RWMutex
	token       string
	initialized bool
}

// NewSession creates an empty session. The first request goes out without
// a token; the server's response establishes one.
func NewSession() *Session {
	return &Session{}
}

// Attach sets the session header on an outbound request when a token is
// held. Requests before the first capture go out bare.
func (s *Session) Attach(h http.Header) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token != "" {
		h.Set(SessionHeader, s.token)
	}
}

// Capture records the token from a response header. An existing token is
// overwritten, so server-side rotation takes effect on the next request.
func (s *Session) Capture(h http.Header) {
	token := h.Get(SessionHeader)
	if token == "" {
		return
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Token returns the current session token, or "" when none is held.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Initialized reports whether the handshake has completed for the current
// session.
func (s *Session) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// MarkInitialized records a completed handshake.
func (s *Session) MarkInitialized() {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
}

// Reset drops the token and the handshake flag together. The next
// operation must re-initialize.
func (s *Session) Reset() {
	s.mu.Lock()
	s.token = ""
	s.initialized = false
	s.mu.Unlock()
}
