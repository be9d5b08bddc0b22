package identity

import "testing"

func TestHashDeterministic(t *testing.T) {
	a := Hash("0244000000")
	b := Hash("0244000000")
	c := Hash("0244000001")

	if a != b {
		t.Fatalf("Hash must be deterministic, got %q and %q", a, b)
	}
	if a == c {
		t.Fatalf("different phones must produce different hashes")
	}
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(a))
	}
}

func TestHashEmpty(t *testing.T) {
	if got := Hash(""); got != "" {
		t.Fatalf("Hash(\"\") = %q, want empty string", got)
	}
}
