package embedding

import (
	"testing"
	"time"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(threshold, cooldown)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(2, 30*time.Second)

	if !b.ShouldAttempt() {
		t.Fatal("new breaker should allow attempts")
	}

	b.RecordFailure()
	if !b.ShouldAttempt() {
		t.Fatal("breaker should stay closed below the failure threshold")
	}

	b.RecordFailure()
	if b.ShouldAttempt() {
		t.Fatal("breaker should open after reaching the failure threshold")
	}
	if got := b.Status().State; got != BreakerOpen {
		t.Fatalf("expected state %s, got %s", BreakerOpen, got)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(2, 30*time.Second)

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()

	if !b.ShouldAttempt() {
		t.Fatal("non-consecutive failures should not open the breaker")
	}
	if got := b.Status().ConsecutiveFailures; got != 1 {
		t.Fatalf("expected 1 consecutive failure, got %d", got)
	}
}

func TestBreakerHalfOpenProbeAfterCooldown(t *testing.T) {
	b, now := newTestBreaker(2, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	if b.ShouldAttempt() {
		t.Fatal("breaker should be open")
	}

	*now = now.Add(31 * time.Second)
	if !b.ShouldAttempt() {
		t.Fatal("breaker should allow a probe after the cooldown")
	}
	if got := b.Status().State; got != BreakerHalfOpen {
		t.Fatalf("expected state %s, got %s", BreakerHalfOpen, got)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(2, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	*now = now.Add(31 * time.Second)
	if !b.ShouldAttempt() {
		t.Fatal("breaker should allow a probe after the cooldown")
	}

	b.RecordFailure()
	if b.ShouldAttempt() {
		t.Fatal("a failed probe should reopen the breaker immediately")
	}
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	b, now := newTestBreaker(2, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	*now = now.Add(31 * time.Second)
	b.ShouldAttempt()

	b.RecordSuccess()
	if got := b.Status().State; got != BreakerClosed {
		t.Fatalf("expected state %s, got %s", BreakerClosed, got)
	}
	if !b.ShouldAttempt() {
		t.Fatal("breaker should be closed after a successful probe")
	}
}

func TestBreakerStatusCooldownRemaining(t *testing.T) {
	b, now := newTestBreaker(2, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	*now = now.Add(10 * time.Second)

	status := b.Status()
	if status.CooldownRemaining != 20*time.Second {
		t.Fatalf("expected 20s cooldown remaining, got %s", status.CooldownRemaining)
	}
	if status.LastFailure == nil {
		t.Fatal("expected last failure timestamp to be set")
	}
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(2, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	b.Reset()

	if !b.ShouldAttempt() {
		t.Fatal("reset breaker should allow attempts")
	}
	status := b.Status()
	if status.State != BreakerClosed || status.ConsecutiveFailures != 0 {
		t.Fatalf("unexpected status after reset: %+v", status)
	}
}
