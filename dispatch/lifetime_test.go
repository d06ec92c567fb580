package dispatch_test

import (
	"testing"
	"time"

	"github.com/wkfcore/wkf/dispatch"
)

func TestDefaultLifetimeBudgetMatchesSpecDefaults(t *testing.T) {
	b := dispatch.DefaultLifetimeBudget()
	if b.QueueMaxAgeSec != 86400 || b.BufferSec != 3600 {
		t.Fatalf("unexpected defaults: %+v", b)
	}
}

func TestRemainingShrinksWithAge(t *testing.T) {
	b := dispatch.DefaultLifetimeBudget()
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got := b.Remaining(createdAt, createdAt)
	want := 23 * time.Hour
	if got != want {
		t.Fatalf("Remaining at age 0 = %v, want %v", got, want)
	}

	got = b.Remaining(createdAt, createdAt.Add(23*time.Hour))
	if got != 0 {
		t.Fatalf("Remaining at age 23h = %v, want 0", got)
	}
}

func TestClampReducesOversizedRequest(t *testing.T) {
	b := dispatch.DefaultLifetimeBudget()
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := createdAt.Add(22 * time.Hour)

	clamped, expired := b.Clamp(2*time.Hour, createdAt, now)
	if expired {
		t.Fatal("did not expect expiry")
	}
	want := b.Remaining(createdAt, now)
	if clamped != want {
		t.Fatalf("clamped = %v, want %v", clamped, want)
	}
}

func TestClampPassesThroughRequestWithinBudget(t *testing.T) {
	b := dispatch.DefaultLifetimeBudget()
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := createdAt

	clamped, expired := b.Clamp(time.Minute, createdAt, now)
	if expired {
		t.Fatal("did not expect expiry")
	}
	if clamped != time.Minute {
		t.Fatalf("clamped = %v, want 1m", clamped)
	}
}

func TestClampReportsExpiryWhenRemainingIsZeroOrNegative(t *testing.T) {
	b := dispatch.DefaultLifetimeBudget()
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := createdAt.Add(23 * time.Hour)

	clamped, expired := b.Clamp(time.Minute, createdAt, now)
	if !expired {
		t.Fatal("expected expiry at age 23h (remaining == 0)")
	}
	if clamped != 0 {
		t.Fatalf("expired clamp should report 0, got %v", clamped)
	}

	_, expired = b.Clamp(time.Minute, createdAt, now.Add(time.Hour))
	if !expired {
		t.Fatal("expected expiry when age exceeds budget")
	}
}

// S5 from spec.md §8: a message 23h old with a 2h requested timeout must
// either be invoked with an effective timeout of ~0 or be re-enqueued
// without invocation. This budget's Clamp chooses the latter.
func TestClampMatchesS5LifetimeClampScenario(t *testing.T) {
	b := dispatch.DefaultLifetimeBudget()
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := createdAt.Add(23 * time.Hour)

	_, expired := b.Clamp(2*time.Hour, createdAt, now)
	if !expired {
		t.Fatal("expected S5 scenario to report expiry")
	}
}
