package cache

import "testing"

func TestLookup_MissingEntry_ReturnsFalse(t *testing.T) {
	c := New()

	if _, ok := c.Lookup("brackets/parens", "abc123"); ok {
		t.Fatalf("expected miss on empty cache")
	}
}

func TestStoreThenLookup_RoundTrips(t *testing.T) {
	c := New()

	c.Store("brackets/parens", "abc123", []byte("reduced\n"))

	got, ok := c.Lookup("brackets/parens", "abc123")
	if !ok {
		t.Fatalf("expected hit after Store")
	}

	if string(got) != "reduced\n" {
		t.Fatalf("got=%q, want %q", got, "reduced\n")
	}
}

func TestDistinctIdentities_DoNotCollide(t *testing.T) {
	c := New()

	c.Store("brackets/parens", "abc123", []byte("a\n"))
	c.Store("brackets/parens-only", "abc123", []byte("b\n"))

	a, _ := c.Lookup("brackets/parens", "abc123")
	b, _ := c.Lookup("brackets/parens-only", "abc123")

	if string(a) == string(b) {
		t.Fatalf("expected distinct identities to hold independent entries, got a=%q b=%q", a, b)
	}
}

func TestForget_RemovesAllEntriesForIdentity(t *testing.T) {
	c := New()

	c.Store("brackets/parens", "k1", []byte("v1"))
	c.Store("brackets/parens", "k2", []byte("v2"))
	c.Store("lines/", "k1", []byte("v3"))

	c.Forget("brackets/parens")

	if _, ok := c.Lookup("brackets/parens", "k1"); ok {
		t.Fatalf("expected k1 forgotten")
	}

	if _, ok := c.Lookup("lines/", "k1"); !ok {
		t.Fatalf("expected unrelated identity to survive Forget")
	}

	if got, want := c.Len(), 1; got != want {
		t.Fatalf("Len()=%d, want %d", got, want)
	}
}

func TestKey_SameContent_SameKey(t *testing.T) {
	if Key([]byte("abc")) != Key([]byte("abc")) {
		t.Fatalf("expected Key to be deterministic for identical content")
	}

	if Key([]byte("abc")) == Key([]byte("abd")) {
		t.Fatalf("expected distinct content to produce distinct keys")
	}
}
