package worker

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/reduceit/reduce/internal/fs"
	"github.com/reduceit/reduce/internal/pass"
	"github.com/reduceit/reduce/internal/sandbox"
)

// stubPass always reports OK and truncates the test case file to "ok\n".
type stubPass struct {
	outcome pass.Outcome
	err     error
}

func (s stubPass) Name() string                { return "stub" }
func (s stubPass) Arg() string                  { return "" }
func (s stubPass) Identity() string             { return "stub/" }
func (s stubPass) CheckPrerequisites() bool     { return true }
func (s stubPass) New(string) (pass.State, error) { return 1, nil }

func (s stubPass) Advance(string, pass.State) (pass.State, error) { return nil, nil }

func (s stubPass) AdvanceOnSuccess(string, pass.State) (pass.State, error) { return nil, nil }

func (s stubPass) Transform(_ context.Context, path string, _ pass.State, _ int, _ chan<- pass.PIDReport) (pass.Outcome, pass.State, error) {
	if s.err != nil {
		return pass.ERROR, nil, s.err
	}

	if s.outcome == pass.OK {
		if err := os.WriteFile(path, []byte("ok\n"), 0o644); err != nil {
			return pass.ERROR, nil, err
		}
	}

	return s.outcome, nil, nil
}

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()

	path := filepath.Join(dir, "test.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil { //nolint:gosec // executable test fixture
		t.Fatalf("writeScript: %v", err)
	}

	return path
}

func TestRun_SuccessfulTransformAndPassingScript(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}

	root := t.TempDir()
	tc := filepath.Join(root, "case.c")

	if err := os.WriteFile(tc, []byte("before\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	script := writeScript(t, root, "#!/bin/sh\nexit 0\n")

	r := fs.NewReal()

	sb, err := sandbox.New(r, root, tc, nil)
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}
	defer sb.Release(r)

	sbScript := filepath.Join(sb.Dir, "test.sh")
	if err := r.CopyFile(script, sbScript, 0o755); err != nil { //nolint:gosec // executable test fixture
		t.Fatalf("copy script: %v", err)
	}

	res := Run(context.Background(), r, sb, stubPass{outcome: pass.OK}, 1, sbScript, 7, nil)

	if !res.Success() {
		t.Fatalf("expected success, got %+v", res)
	}

	if res.ExitCode != 0 {
		t.Fatalf("ExitCode=%d, want 0", res.ExitCode)
	}
}

func TestRun_FailingScript_NotSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}

	root := t.TempDir()
	tc := filepath.Join(root, "case.c")

	if err := os.WriteFile(tc, []byte("before\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	r := fs.NewReal()

	sb, err := sandbox.New(r, root, tc, nil)
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}
	defer sb.Release(r)

	sbScript := filepath.Join(sb.Dir, "test.sh")
	if err := os.WriteFile(sbScript, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil { //nolint:gosec // executable test fixture
		t.Fatalf("setup script: %v", err)
	}

	res := Run(context.Background(), r, sb, stubPass{outcome: pass.OK}, 1, sbScript, 2, nil)

	if res.Success() {
		t.Fatalf("expected failure, got success: %+v", res)
	}

	if res.ExitCode != 1 {
		t.Fatalf("ExitCode=%d, want 1", res.ExitCode)
	}
}

func TestRun_TransformStop_SkipsScript(t *testing.T) {
	root := t.TempDir()
	tc := filepath.Join(root, "case.c")

	if err := os.WriteFile(tc, []byte("before\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	r := fs.NewReal()

	sb, err := sandbox.New(r, root, tc, nil)
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}
	defer sb.Release(r)

	res := Run(context.Background(), r, sb, stubPass{outcome: pass.STOP}, 1, "test.sh", 3, nil)

	if res.Outcome != pass.STOP {
		t.Fatalf("Outcome=%v, want STOP", res.Outcome)
	}

	if res.Success() {
		t.Fatalf("STOP must never be Success()")
	}
}

func TestRun_PIDReportSent(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}

	root := t.TempDir()
	tc := filepath.Join(root, "case.c")

	if err := os.WriteFile(tc, []byte("before\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	r := fs.NewReal()

	sb, err := sandbox.New(r, root, tc, nil)
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}
	defer sb.Release(r)

	sbScript := filepath.Join(sb.Dir, "test.sh")
	if err := os.WriteFile(sbScript, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil { //nolint:gosec // executable test fixture
		t.Fatalf("setup script: %v", err)
	}

	pids := make(chan pass.PIDReport, 1)

	res := Run(context.Background(), r, sb, stubPass{outcome: pass.OK}, 1, sbScript, 9, pids)
	if !res.Success() {
		t.Fatalf("expected success, got %+v", res)
	}

	select {
	case rep := <-pids:
		if rep.Order != 9 {
			t.Fatalf("PIDReport.Order=%d, want 9", rep.Order)
		}

		if rep.PID <= 0 {
			t.Fatalf("PIDReport.PID=%d, want positive", rep.PID)
		}
	default:
		t.Fatalf("expected a PIDReport on the channel")
	}
}
