package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDo_FirstAttemptSucceeds(t *testing.T) {
	calls := 0
	p := Policy{Attempts: 3, BaseDelay: time.Millisecond}

	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	p := Policy{Attempts: 3, BaseDelay: time.Millisecond}

	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient failure %d", calls)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	last := errors.New("still down")
	p := Policy{Attempts: 3, BaseDelay: time.Millisecond}

	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return last
	})
	if !errors.Is(err, last) {
		t.Errorf("error = %v, want last attempt error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_TerminalErrorShortCircuits(t *testing.T) {
	calls := 0
	terminal := errors.New("bad request")
	p := Policy{
		Attempts:  3,
		BaseDelay: time.Millisecond,
		Classify:  func(err error) bool { return !errors.Is(err, terminal) },
	}

	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return terminal
	})
	if !errors.Is(err, terminal) {
		t.Errorf("error = %v, want terminal error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want exactly 1 (no retries for terminal errors)", calls)
	}
}

func TestDo_LinearBackoff(t *testing.T) {
	const base = 20 * time.Millisecond

	var stamps []time.Time
	p := Policy{Attempts: 3, BaseDelay: base}

	p.Do(context.Background(), func(ctx context.Context) error {
		stamps = append(stamps, time.Now())
		return errors.New("fail")
	})

	if len(stamps) != 3 {
		t.Fatalf("attempts = %d, want 3", len(stamps))
	}

	// The wait before attempt n is n times the base delay.
	if gap := stamps[1].Sub(stamps[0]); gap < 2*base {
		t.Errorf("delay before attempt 2 = %v, want >= %v", gap, 2*base)
	}
	if gap := stamps[2].Sub(stamps[1]); gap < 3*base {
		t.Errorf("delay before attempt 3 = %v, want >= %v", gap, 3*base)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	calls := 0
	ctx, cancel := context.WithCancel(context.Background())

	p := Policy{Attempts: 3, BaseDelay: 5 * time.Second}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (cancelled during first backoff)", calls)
	}
}

func TestDo_ZeroValueDefaults(t *testing.T) {
	calls := 0
	// Override only the delay so the test doesn't sleep for seconds.
	p := Policy{BaseDelay: time.Millisecond}

	p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("fail")
	})
	if calls != DefaultAttempts {
		t.Errorf("calls = %d, want DefaultAttempts = %d", calls, DefaultAttempts)
	}
}

func TestDo_NilClassifyRetriesEverything(t *testing.T) {
	calls := 0
	p := Policy{Attempts: 2, BaseDelay: time.Millisecond}

	p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("anything")
	})
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
