// Package clangdelta wraps the external clang_delta tool (from the
// creduce/cvise toolchain) as a [pass.Pass]: a pass whose prerequisite is an
// executable on PATH and whose Transform shells out to it, following the
// [External Tool Contract]: exit 0 means stdout is the new candidate, exit 1
// or 255 means "no more transformations of this kind" (STOP), any other
// exit code is a tool bug (ERROR).
package clangdelta

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/reduceit/reduce/internal/pass"
)

// ErrToolNotFound is returned by New if binPath is empty and clang_delta
// cannot be located on PATH.
var ErrToolNotFound = errors.New("clangdelta: clang_delta not found on PATH")

// Pass shells out to clang_delta for one transformation kind (e.g.
// "remove-unused-function").
type Pass struct {
	binPath       string
	transformation string
	std           string // optional --std= value; empty means omit the flag
}

// New resolves binPath (looked up on PATH if empty) and returns a Pass for
// the given clang_delta transformation kind. std, if non-empty, is passed
// through as --std=<std> on every invocation.
func New(binPath, transformation, std string) (*Pass, error) {
	resolved := binPath

	if resolved == "" {
		found, err := exec.LookPath("clang_delta")
		if err != nil {
			return nil, ErrToolNotFound
		}

		resolved = found
	}

	return &Pass{binPath: resolved, transformation: transformation, std: std}, nil
}

func (p *Pass) Name() string     { return "clangdelta" }
func (p *Pass) Arg() string      { return p.transformation }
func (p *Pass) Identity() string { return "clangdelta/" + p.transformation }

func (p *Pass) CheckPrerequisites() bool {
	_, err := exec.LookPath(p.binPath)

	return err == nil
}

// counterState is the 1-based counter clang_delta consumes via --counter=N.
type counterState int

func (p *Pass) New(string) (pass.State, error) {
	return counterState(1), nil
}

func (p *Pass) Advance(_ string, state pass.State) (pass.State, error) {
	cs, ok := state.(counterState)
	if !ok {
		return nil, nil
	}

	return cs + 1, nil
}

// AdvanceOnSuccess returns state unchanged, so the same counter is tried
// again against the shrunk test case.
func (p *Pass) AdvanceOnSuccess(_ string, state pass.State) (pass.State, error) {
	return state, nil
}

func (p *Pass) Transform(ctx context.Context, testCasePath string, state pass.State, order int, pids chan<- pass.PIDReport) (pass.Outcome, pass.State, error) {
	cs, ok := state.(counterState)
	if !ok {
		return pass.STOP, nil, nil
	}

	args := []string{
		fmt.Sprintf("--transformation=%s", p.transformation),
		fmt.Sprintf("--counter=%d", int(cs)),
	}

	if p.std != "" {
		args = append(args, fmt.Sprintf("--std=%s", p.std))
	}

	args = append(args, testCasePath)

	cmd := exec.CommandContext(ctx, p.binPath, args...) //nolint:gosec // binPath is operator-resolved
	cmd.Dir = filepath.Dir(testCasePath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return pass.ERROR, nil, err
	}

	if pids != nil {
		pids <- pass.PIDReport{Order: order, PID: cmd.Process.Pid}
	}

	waitErr := cmd.Wait()

	exitCode, err := exitCodeOf(waitErr)
	if err != nil {
		return pass.ERROR, nil, err
	}

	switch exitCode {
	case 0:
		if writeErr := os.WriteFile(testCasePath, stdout.Bytes(), 0o644); writeErr != nil { //nolint:mnd // standard file perm
			return pass.ERROR, nil, writeErr
		}

		return pass.OK, state, nil
	case 1, 255:
		return pass.STOP, state, nil
	default:
		return pass.ERROR, state, nil
	}
}

func exitCodeOf(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	return 0, err
}

var _ pass.Pass = (*Pass)(nil)
