// Package worker runs a single reduction attempt: apply a pass's Transform
// to a sandboxed test case, then execute the interestingness test script
// against the result.
package worker

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/reduceit/reduce/internal/fs"
	"github.com/reduceit/reduce/internal/pass"
	"github.com/reduceit/reduce/internal/sandbox"
)

// Result is everything the arbiter needs to decide the fate of one attempt.
type Result struct {
	Order        int
	Outcome      pass.Outcome
	NextState    pass.State
	ExitCode     int
	TimedOut     bool
	BaseSize     int64
	FinalSize    int64
	Sandbox      *sandbox.Sandbox
	TransformErr error
	RunErr       error
}

// Success reports whether this attempt produced an interesting test case:
// the transform returned OK without error and the test script exited 0. It
// does not compare sizes; the arbiter and the runner do that.
func (r Result) Success() bool {
	return r.TransformErr == nil && r.RunErr == nil && r.Outcome == pass.OK && r.ExitCode == 0
}

// Run applies p.Transform to the sandboxed test case, then — if the
// transform produced OK — runs testScript (an absolute path) with the
// sandbox directory as its working directory. pids, if non-nil, receives
// every subprocess PID the pass or the test script itself spawns,
// attributed to order, so the runner can terminate the right process tree
// on cancellation. ctx bounds the whole attempt (transform plus test
// script): both p.Transform's own exec.CommandContext use, if any, and
// runTestScript are cancelled together when ctx's per-attempt timeout or
// the runner's cancellation fires.
func Run(
	ctx context.Context,
	fsys fs.FS,
	sb *sandbox.Sandbox,
	p pass.Pass,
	state pass.State,
	testScript string,
	order int,
	pids chan<- pass.PIDReport,
) Result {
	res := Result{Order: order, Sandbox: sb, BaseSize: sb.BaseSize()}

	outcome, next, err := p.Transform(ctx, sb.TestCasePath(), state, order, pids)
	res.Outcome = outcome
	res.NextState = next

	if err != nil {
		res.TransformErr = err

		return res
	}

	if outcome != pass.OK {
		return res
	}

	candidate, readErr := fsys.ReadFile(sb.TestCasePath())
	if readErr != nil {
		res.RunErr = readErr

		return res
	}

	res.FinalSize = int64(len(candidate))

	exitCode, timedOut, runErr := runTestScript(ctx, sb.Dir, testScript, order, pids)
	res.ExitCode = exitCode
	res.TimedOut = timedOut
	res.RunErr = runErr

	return res
}

// runTestScript executes testScript with cwd set to sandboxDir. Stdout and
// stderr are discarded: the interestingness test's job is to communicate
// only through its exit code, per the external interface contract.
func runTestScript(ctx context.Context, sandboxDir, testScript string, order int, pids chan<- pass.PIDReport) (exitCode int, timedOut bool, err error) {
	script := testScript
	if !filepath.IsAbs(script) {
		script = filepath.Join(sandboxDir, filepath.Base(testScript))
	}

	cmd := exec.CommandContext(ctx, script) //nolint:gosec // script path is operator-supplied, not attacker input
	cmd.Dir = sandboxDir
	cmd.Stdout = &bytes.Buffer{}
	cmd.Stderr = &bytes.Buffer{}

	if startErr := cmd.Start(); startErr != nil {
		return -1, false, startErr
	}

	if pids != nil {
		pids <- pass.PIDReport{Order: order, PID: cmd.Process.Pid}
	}

	waitErr := cmd.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		return -1, true, nil
	}

	if waitErr == nil {
		return 0, false, nil
	}

	var exitErr *exec.ExitError
	if ok := asExitError(waitErr, &exitErr); ok {
		return exitErr.ExitCode(), false, nil
	}

	return -1, false, waitErr
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError) //nolint:errorlint // exec.Wait never wraps further
	if !ok {
		return false
	}

	*target = ee

	return true
}

// SanityCheck runs testScript against the original, unmodified inputs in
// sandboxDir. A non-zero exit here means the test script itself is broken
// with respect to the starting inputs, which the CLI surfaces as a fatal
// configuration error before any reduction work begins.
func SanityCheck(ctx context.Context, sandboxDir, testScript string, timeout time.Duration) (exitCode int, err error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	code, timedOut, runErr := runTestScript(runCtx, sandboxDir, testScript, -1, nil)
	if timedOut {
		return -1, context.DeadlineExceeded
	}

	return code, runErr
}
