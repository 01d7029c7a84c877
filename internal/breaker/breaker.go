// Package breaker implements a three-state circuit breaker that stops
// calling a failing dependency for a cooldown period instead of
// compounding load on it.
//
// The breaker is CLOSED while the dependency is healthy. Consecutive
// failures reaching the threshold trip it OPEN, where every call fails
// fast without touching the network. Once the recovery timeout elapses,
// the next call runs as a single HALF_OPEN probe: a success closes the
// circuit and clears the counter, a failure reopens it. Callers wrap the
// whole retried operation in one Execute, so an exhausted retry sequence
// counts as one failure here, not one per attempt.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned while the circuit is open. It never reflects a
// network attempt: the guarded operation was not invoked.
var ErrOpen = errors.New("circuit breaker is open")

// Defaults applied by New for zero-value Config fields.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
)

// State is the breaker's position in its lifecycle.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the circuit (default 5).
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before a single
	// probe is allowed through (default 30s).
	RecoveryTimeout time.Duration

	// Logger for state-transition diagnostics. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// Breaker guards calls to one dependency. All operation types share the
// same counter: a failing create can open the circuit for reads too,
// since they all exercise the same server.
type Breaker struct {
	threshold int
	recovery  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	recovery := cfg.RecoveryTimeout
	if recovery <= 0 {
		recovery = DefaultRecoveryTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Breaker{
		threshold: threshold,
		recovery:  recovery,
		logger:    logger,
		now:       time.Now,
	}
}

// Execute runs op under the breaker. While the circuit is open, or while
// a half-open probe is already in flight, it returns ErrOpen without
// invoking op. Otherwise op's outcome updates the breaker state and its
// error is returned unchanged.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := op(ctx)
	b.record(err == nil)
	return err
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset returns the breaker to its initial closed state with a zero
// failure counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.state = Closed
	b.failures = 0
	b.lastFailure = time.Time{}
	b.mu.Unlock()
}

// admit decides whether a call may proceed, transitioning an expired open
// circuit to half-open for exactly one probe.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.lastFailure) < b.recovery {
			return ErrOpen
		}
		// Recovery elapsed: this call becomes the probe.
		b.state = HalfOpen
		b.logger.Info("circuit breaker half-open, probing")
		return nil
	case HalfOpen:
		// A probe is already in flight.
		return ErrOpen
	}

	return nil
}

// record applies one operation outcome to the state machine.
func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		if b.state == HalfOpen {
			b.logger.Info("probe succeeded, circuit breaker closed")
		}
		b.state = Closed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case HalfOpen:
		b.state = Open
		b.logger.Warn("probe failed, circuit breaker reopened",
			"failures", b.failures,
			"recovery_timeout", b.recovery.String(),
		)
	case Closed:
		if b.failures >= b.threshold {
			b.state = Open
			b.logger.Warn("failure threshold reached, circuit breaker opened",
				"failures", b.failures,
				"recovery_timeout", b.recovery.String(),
			)
		}
	}
}
