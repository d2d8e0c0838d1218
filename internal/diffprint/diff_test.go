package diffprint

import (
	"strings"
	"testing"
)

func TestUnified_IdenticalContent_ReturnsEmpty(t *testing.T) {
	got := Unified("case.c", []byte("same\n"), []byte("same\n"))
	if got != "" {
		t.Fatalf("expected empty diff, got %q", got)
	}
}

func TestUnified_ChangedContent_ContainsHunkMarkers(t *testing.T) {
	got := Unified("case.c", []byte("line one\nline two\n"), []byte("line one\n"))

	if !strings.Contains(got, "case.c") {
		t.Fatalf("expected diff to reference path, got:\n%s", got)
	}

	if !strings.Contains(got, "-line two") {
		t.Fatalf("expected removed line marker, got:\n%s", got)
	}
}
