package listener

import "testing"

func TestResolvePrefixExactMatchWinsOverAmbiguity(t *testing.T) {
	ids := []string{"abc123", "abc1234"}
	got, err := resolvePrefix("job", ids, "abc123")
	if err != nil {
		t.Fatalf("resolvePrefix: %v", err)
	}
	if got != "abc123" {
		t.Errorf("expected exact match abc123, got %s", got)
	}
}

func TestResolvePrefixAmbiguousWithoutExactMatch(t *testing.T) {
	ids := []string{"abc123", "abc456"}
	_, err := resolvePrefix("job", ids, "abc")
	if err == nil {
		t.Fatal("expected ambiguous prefix error")
	}
}

func TestResolvePrefixNotFound(t *testing.T) {
	ids := []string{"abc123"}
	_, err := resolvePrefix("job", ids, "zzz")
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestResolvePrefixUniqueMatch(t *testing.T) {
	ids := []string{"abc123", "def456"}
	got, err := resolvePrefix("job", ids, "abc")
	if err != nil {
		t.Fatalf("resolvePrefix: %v", err)
	}
	if got != "abc123" {
		t.Errorf("expected abc123, got %s", got)
	}
}
