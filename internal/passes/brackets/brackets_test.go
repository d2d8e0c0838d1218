package brackets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/reduceit/reduce/internal/pass"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "case.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	return path
}

func readAll(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path) //nolint:gosec // test fixture path
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	return string(data)
}

func TestParens_NoMatch_Unmodified(t *testing.T) {
	p, err := New("parens")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path := writeTemp(t, "This is a simple test!\n")

	state, err := p.New(path)
	if err != nil {
		t.Fatalf("p.New: %v", err)
	}

	outcome, _, err := p.Transform(context.Background(), path, state, 0, nil)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	if outcome != pass.STOP {
		t.Fatalf("Outcome=%v, want STOP", outcome)
	}

	if got := readAll(t, path); got != "This is a simple test!\n" {
		t.Fatalf("content=%q, want unmodified", got)
	}
}

func TestParens_Simple(t *testing.T) {
	p, err := New("parens")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path := writeTemp(t, "This is a (simple) test!\n")

	state, err := p.New(path)
	if err != nil {
		t.Fatalf("p.New: %v", err)
	}

	if _, _, err := p.Transform(context.Background(), path, state, 0, nil); err != nil {
		t.Fatalf("Transform: %v", err)
	}

	if got, want := readAll(t, path), "This is a  test!\n"; got != want {
		t.Fatalf("content=%q, want %q", got, want)
	}
}

func TestParens_NestedOuter(t *testing.T) {
	p, err := New("parens")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path := writeTemp(t, "This (is a (simple) test)!\n")

	state, err := p.New(path)
	if err != nil {
		t.Fatalf("p.New: %v", err)
	}

	if _, _, err := p.Transform(context.Background(), path, state, 0, nil); err != nil {
		t.Fatalf("Transform: %v", err)
	}

	if got, want := readAll(t, path), "This !\n"; got != want {
		t.Fatalf("content=%q, want %q", got, want)
	}
}

func TestParens_NestedInner_ViaAdvance(t *testing.T) {
	p, err := New("parens")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path := writeTemp(t, "This (is a (simple) test)!\n")

	state, err := p.New(path)
	if err != nil {
		t.Fatalf("p.New: %v", err)
	}

	state, err = p.Advance(path, state)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if _, _, err := p.Transform(context.Background(), path, state, 0, nil); err != nil {
		t.Fatalf("Transform: %v", err)
	}

	if got, want := readAll(t, path), "This (is a  test)!\n"; got != want {
		t.Fatalf("content=%q, want %q", got, want)
	}
}

func TestParensOnly_NestedOuter(t *testing.T) {
	p, err := New("parens-only")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path := writeTemp(t, "This (is a (simple) test)!\n")

	state, err := p.New(path)
	if err != nil {
		t.Fatalf("p.New: %v", err)
	}

	if _, _, err := p.Transform(context.Background(), path, state, 0, nil); err != nil {
		t.Fatalf("Transform: %v", err)
	}

	if got, want := readAll(t, path), "This is a (simple) test!\n"; got != want {
		t.Fatalf("content=%q, want %q", got, want)
	}
}

func TestParensOnly_NestedBoth_ViaAdvanceOnSuccess(t *testing.T) {
	p, err := New("parens-only")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path := writeTemp(t, "This (is a (simple) test)!\n")

	state, err := p.New(path)
	if err != nil {
		t.Fatalf("p.New: %v", err)
	}

	if _, _, err := p.Transform(context.Background(), path, state, 0, nil); err != nil {
		t.Fatalf("Transform: %v", err)
	}

	state, err = p.AdvanceOnSuccess(path, state)
	if err != nil {
		t.Fatalf("AdvanceOnSuccess: %v", err)
	}

	if _, _, err := p.Transform(context.Background(), path, state, 0, nil); err != nil {
		t.Fatalf("Transform: %v", err)
	}

	if got, want := readAll(t, path), "This is a simple test!\n"; got != want {
		t.Fatalf("content=%q, want %q", got, want)
	}
}

func TestParensOnly_NestedAll_ConvergesInFiveSteps(t *testing.T) {
	p, err := New("parens-only")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path := writeTemp(t, "(This) (is a (((more)) complex) test)!\n")

	state, err := p.New(path)
	if err != nil {
		t.Fatalf("p.New: %v", err)
	}

	outcome, _, err := p.Transform(context.Background(), path, state, 0, nil)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	iterations := 0

	for outcome == pass.OK && iterations < 7 {
		state, err = p.AdvanceOnSuccess(path, state)
		if err != nil {
			t.Fatalf("AdvanceOnSuccess: %v", err)
		}

		outcome, _, err = p.Transform(context.Background(), path, state, 0, nil)
		if err != nil {
			t.Fatalf("Transform: %v", err)
		}

		iterations++
	}

	if iterations != 5 {
		t.Fatalf("iterations=%d, want 5", iterations)
	}

	if got, want := readAll(t, path), "This is a more complex test!\n"; got != want {
		t.Fatalf("content=%q, want %q", got, want)
	}
}

func TestParensInside_RemovesOnlyContents(t *testing.T) {
	p, err := New("parens-inside")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path := writeTemp(t, "This is a (simple) test!\n")

	state, err := p.New(path)
	if err != nil {
		t.Fatalf("p.New: %v", err)
	}

	if _, _, err := p.Transform(context.Background(), path, state, 0, nil); err != nil {
		t.Fatalf("Transform: %v", err)
	}

	if got, want := readAll(t, path), "This is a () test!\n"; got != want {
		t.Fatalf("content=%q, want %q", got, want)
	}
}

func TestNew_UnknownMode_ReturnsError(t *testing.T) {
	if _, err := New("unknown"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
