package history

import (
	"fmt"
	"testing"

	"autoheal/internal/domain"
)

func attemptWithID(id string) domain.RecoveryAttempt {
	return domain.RecoveryAttempt{AttemptID: id, Status: domain.RecoveryStatusSucceeded}
}

func TestRecentReturnsNewestFirst(t *testing.T) {
	t.Parallel()

	store := New(10)
	for i := 0; i < 3; i++ {
		store.Record(attemptWithID(fmt.Sprintf("a%d", i)))
	}

	recent := store.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(recent))
	}
	for i, want := range []string{"a2", "a1", "a0"} {
		if recent[i].AttemptID != want {
			t.Fatalf("expected %q at position %d, got %q", want, i, recent[i].AttemptID)
		}
	}
}

func TestRingEvictsOldest(t *testing.T) {
	t.Parallel()

	store := New(3)
	for i := 0; i < 5; i++ {
		store.Record(attemptWithID(fmt.Sprintf("a%d", i)))
	}

	if store.Len() != 3 {
		t.Fatalf("expected capped window of 3, got %d", store.Len())
	}
	recent := store.Recent(0)
	for i, want := range []string{"a4", "a3", "a2"} {
		if recent[i].AttemptID != want {
			t.Fatalf("expected %q at position %d, got %q", want, i, recent[i].AttemptID)
		}
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	t.Parallel()

	store := New(10)
	for i := 0; i < 6; i++ {
		store.Record(attemptWithID(fmt.Sprintf("a%d", i)))
	}

	recent := store.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(recent))
	}
	if recent[0].AttemptID != "a5" || recent[1].AttemptID != "a4" {
		t.Fatalf("unexpected window %v", recent)
	}
}

func TestZeroCapacityDisablesRecording(t *testing.T) {
	t.Parallel()

	store := New(0)
	store.Record(attemptWithID("a0"))
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
	if recent := store.Recent(0); len(recent) != 0 {
		t.Fatalf("expected no attempts, got %v", recent)
	}
}
