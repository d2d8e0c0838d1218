package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func writeExecutable(t *testing.T, dir, name, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil { //nolint:gosec // executable test fixture
		t.Fatalf("writeExecutable: %v", err)
	}

	return path
}

func TestRun_PrintConfig_PrintsAndExitsZero(t *testing.T) {
	var out, errOut bytes.Buffer

	code := Run(nil, &out, &errOut, []string{"greduce", "--print-config"}, map[string]string{}, nil)

	if code != 0 {
		t.Fatalf("exit code=%d, want 0; stderr=%s", code, errOut.String())
	}

	if out.Len() == 0 {
		t.Fatalf("expected config output on stdout")
	}
}

func TestRun_Help_PrintsBinaryNameNotTeacherName(t *testing.T) {
	for _, flag := range []string{"-h", "--help"} {
		var out, errOut bytes.Buffer

		code := Run(nil, &out, &errOut, []string{"greduce", flag}, map[string]string{}, nil)

		if code != 0 {
			t.Fatalf("%s: exit code=%d, want 0; stderr=%s", flag, code, errOut.String())
		}

		if !strings.Contains(out.String(), "Usage: greduce [flags] <test-script>") {
			t.Fatalf("%s: output=%q, want it to contain %q", flag, out.String(), "Usage: greduce [flags] <test-script>")
		}

		if strings.Contains(out.String(), "Usage: tk") {
			t.Fatalf("%s: output=%q, want no leftover teacher binary name", flag, out.String())
		}
	}
}

func TestRun_MissingArgs_ReturnsNonZero(t *testing.T) {
	var out, errOut bytes.Buffer

	code := Run(nil, &out, &errOut, []string{"greduce"}, map[string]string{}, nil)

	if code == 0 {
		t.Fatalf("expected non-zero exit code for missing arguments")
	}
}

func TestRun_ReducesTestCase_ViaBracketsPass(t *testing.T) {
	dir := t.TempDir()

	script := writeExecutable(t, dir, "interesting.sh", "#!/bin/sh\ngrep -q KEEP case.txt\n")

	testCase := filepath.Join(dir, "case.txt")
	if err := os.WriteFile(testCase, []byte("KEEP(drop me)\n"), 0o644); err != nil { //nolint:gosec // test fixture
		t.Fatalf("setup: %v", err)
	}

	var out, errOut bytes.Buffer

	code := Run(nil, &out, &errOut, []string{"greduce", "--passes=brackets:parens", script, testCase}, map[string]string{}, nil)

	if code != 0 {
		t.Fatalf("exit code=%d, want 0; stderr=%s", code, errOut.String())
	}

	got, err := os.ReadFile(testCase) //nolint:gosec // test fixture
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "KEEP\n" {
		t.Fatalf("content=%q, want %q", got, "KEEP\n")
	}
}
