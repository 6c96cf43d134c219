package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func tripAfter(n uint32) func(Counts) bool {
	return func(counts Counts) bool {
		return counts.ConsecutiveFailures >= n
	}
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := New(DefaultSettings("test"))
	if b.State() != StateClosed {
		t.Errorf("expected initial state CLOSED, got %v", b.State())
	}
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := New(Settings{
		Name:        "test-trip",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: tripAfter(3),
	})

	testErr := errors.New("connection failure")
	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return testErr }); !errors.Is(err, testErr) {
			t.Fatalf("attempt %d: expected the operation error, got %v", i, err)
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("expected state OPEN after 3 failures, got %v", b.State())
	}

	// An open breaker rejects without running the operation.
	ran := false
	err := b.Execute(func() error {
		ran = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if ran {
		t.Error("operation must not run while the breaker is open")
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := New(Settings{
		Name:        "test-recovery",
		MaxRequests: 1,
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: tripAfter(2),
	})

	testErr := errors.New("boom")
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return testErr })
	}
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, got %v", b.State())
	}

	time.Sleep(30 * time.Millisecond)

	if b.State() != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN after timeout, got %v", b.State())
	}

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected trial request to pass, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected CLOSED after successful trial, got %v", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(Settings{
		Name:        "test-reopen",
		MaxRequests: 1,
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: tripAfter(1),
	})

	_ = b.Execute(func() error { return errors.New("boom") })
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, got %v", b.State())
	}

	time.Sleep(30 * time.Millisecond)

	_ = b.Execute(func() error { return errors.New("boom again") })
	if b.State() != StateOpen {
		t.Errorf("expected OPEN after failed trial, got %v", b.State())
	}
}

func TestBreaker_HalfOpenLimitsTrialRequests(t *testing.T) {
	b := New(Settings{
		Name:        "test-limit",
		MaxRequests: 1,
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: tripAfter(1),
	})

	_ = b.Execute(func() error { return errors.New("boom") })
	time.Sleep(30 * time.Millisecond)

	// Occupy the single trial slot with a slow request.
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrTooManyRequests) {
		t.Errorf("expected ErrTooManyRequests, got %v", err)
	}
	close(release)
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	b := New(Settings{
		Name:        "test-callback",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: tripAfter(1),
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = b.Execute(func() error { return errors.New("boom") })

	if len(transitions) != 1 || transitions[0] != "CLOSED->OPEN" {
		t.Errorf("expected [CLOSED->OPEN], got %v", transitions)
	}
}

func TestBreaker_PanicCountsAsFailure(t *testing.T) {
	b := New(Settings{
		Name:        "test-panic",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: tripAfter(1),
	})

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected the panic to propagate")
			}
		}()
		_ = b.Execute(func() error { panic("boom") })
	}()

	if b.State() != StateOpen {
		t.Errorf("expected OPEN after panic, got %v", b.State())
	}
}

func TestBreaker_CountsReset(t *testing.T) {
	b := New(Settings{
		Name:        "test-counts",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: tripAfter(10),
	})

	_ = b.Execute(func() error { return errors.New("boom") })
	_ = b.Execute(func() error { return nil })

	counts := b.Counts()
	if counts.TotalFailures != 1 || counts.TotalSuccesses != 1 {
		t.Errorf("unexpected counts: %+v", counts)
	}
	if counts.ConsecutiveFailures != 0 {
		t.Errorf("success should reset consecutive failures, got %d", counts.ConsecutiveFailures)
	}
}
