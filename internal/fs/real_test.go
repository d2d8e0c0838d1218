package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestReal_Exists_ReturnsFalseForNonExistent(t *testing.T) {
	r := NewReal()
	dir := t.TempDir()

	exists, err := r.Exists(filepath.Join(dir, "missing.txt"))
	if got, want := err, error(nil); !errors.Is(got, want) {
		t.Fatalf("err=%v, want=%v", got, want)
	}

	if got, want := exists, false; got != want {
		t.Fatalf("exists=%v, want=%v", got, want)
	}
}

func TestReal_Exists_ReturnsTrueForFile(t *testing.T) {
	r := NewReal()
	dir := t.TempDir()
	path := filepath.Join(dir, "present.txt")

	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	exists, err := r.Exists(path)
	if err != nil {
		t.Fatalf("err=%v, want nil", err)
	}

	if got, want := exists, true; got != want {
		t.Fatalf("exists=%v, want=%v", got, want)
	}
}

func TestReal_CopyFile_PreservesContent(t *testing.T) {
	r := NewReal()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.c")
	dst := filepath.Join(dir, "sandbox", "src.c")

	if err := os.WriteFile(src, []byte("int main() {}\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := r.CopyFile(src, dst, 0o644); err != nil {
		t.Fatalf("CopyFile: %v", err)
	}

	got, err := os.ReadFile(dst) //nolint:gosec // test fixture path
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "int main() {}\n" {
		t.Fatalf("content=%q, want %q", got, "int main() {}\n")
	}
}

func TestReal_WriteFileAtomic_ReplacesExistingFile(t *testing.T) {
	r := NewReal()
	dir := t.TempDir()
	path := filepath.Join(dir, "case.c")

	if err := os.WriteFile(path, []byte("before"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := r.WriteFileAtomic(path, []byte("after"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	got, err := os.ReadFile(path) //nolint:gosec // test fixture path
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "after" {
		t.Fatalf("content=%q, want %q", got, "after")
	}
}

func TestReal_MkdirTemp_CreatesUniqueDirs(t *testing.T) {
	r := NewReal()
	root := t.TempDir()

	a, err := r.MkdirTemp(root, "greduce-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}

	b, err := r.MkdirTemp(root, "greduce-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}

	if a == b {
		t.Fatalf("expected unique directories, got %q twice", a)
	}
}
