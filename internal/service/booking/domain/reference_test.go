package domain

import (
	"strings"
	"testing"
	"time"
)

func TestNewReferenceFormat(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	ref := NewReference(now)

	if !strings.HasPrefix(ref, "BX-20260831-") {
		t.Fatalf("expected date-stamped prefix, got %q", ref)
	}
	suffix := strings.TrimPrefix(ref, "BX-20260831-")
	if len(suffix) != 6 {
		t.Fatalf("expected 6-character suffix, got %q", suffix)
	}
	for _, c := range suffix {
		if !strings.ContainsRune(referenceAlphabet, c) {
			t.Fatalf("suffix character %q outside the reference alphabet", c)
		}
	}
}

func TestNewReferenceVaries(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		seen[NewReference(now)] = true
	}
	// Collisions are possible but vanishingly unlikely over 50 draws
	// from a 31^6 space.
	if len(seen) < 2 {
		t.Fatal("references must not be deterministic for a fixed instant")
	}
}
