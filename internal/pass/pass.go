// Package pass defines the contract every reduction strategy implements.
//
// This is the sole coupling between the driver (sandbox, worker, pool,
// arbiter, runner) and a concrete reduction strategy such as
// [github.com/reduceit/reduce/internal/passes/brackets]. The driver never
// inspects a [State] value; it only creates, advances, and discards them.
package pass

import (
	"context"
	"fmt"
)

// Outcome is the result of one Transform call.
type Outcome int

const (
	// OK means a candidate has been written; the driver will run the test script.
	OK Outcome = iota
	// STOP means the pass refuses this state and all larger indices; the
	// driver ends the pass for this test case.
	STOP
	// ERROR means the pass encountered an internal error; the driver records
	// a bug report.
	ERROR
	// INVALID means the pass wrote nothing meaningful (an OK with an
	// unmodified file); the driver treats this as a pass bug.
	INVALID
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "OK"
	case STOP:
		return "STOP"
	case ERROR:
		return "ERROR"
	case INVALID:
		return "INVALID"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// State is an opaque value produced and consumed exclusively by one Pass.
// A nil State signals "no more attempts" — the only way a pass terminates
// normally. The driver never type-asserts or compares State values; it only
// holds the current snapshot and passes it back to its originating Pass.
type State any

// PIDReport attributes a subprocess PID to the submission order that
// spawned it, so the arbiter can SIGTERM the right grandchild process when
// cancelling a sibling attempt. Passes that invoke an external tool (see
// [github.com/reduceit/reduce/internal/passes/clangdelta]) send one report
// per subprocess they start.
type PIDReport struct {
	Order int
	PID   int
}

// Pass is a named reduction strategy with an argument selector (a
// "sub-mode", such as "parens-inside") and the state lifecycle plus
// Transform. The Identity string must be stable for a given (pass, arg)
// pair: it is the cache key component that keeps unrelated sub-modes
// (e.g. "parens" and "parens-only") from colliding in the runner's cache.
type Pass interface {
	// Name is the pass's registered name, e.g. "brackets".
	Name() string

	// Arg is the sub-mode argument, e.g. "parens-inside". May be empty.
	Arg() string

	// Identity is the cache key component: Name()+"/"+Arg() for built-in
	// passes, but kept as a separate method so a pass can fold in anything
	// else that changes its output for the same input (e.g. a configured
	// external tool path).
	Identity() string

	// CheckPrerequisites declares whether this pass's external tools (if
	// any) are available. Passes with no external dependency always
	// return true.
	CheckPrerequisites() bool

	// New produces the initial state for a fresh pass over testCasePath.
	// Returns a nil State if the pass has nothing to do for this input.
	New(testCasePath string) (State, error)

	// Advance produces the next state after a failed attempt. Returns a
	// nil State once the pass is exhausted.
	Advance(testCasePath string, state State) (State, error)

	// AdvanceOnSuccess produces the next state after a successful,
	// committed attempt. The semantics differ from Advance because the
	// test case has shrunk: some passes must re-anchor to the new content
	// while others continue where they left off.
	AdvanceOnSuccess(testCasePath string, state State) (State, error)

	// Transform mutates the file at testCasePath in place, producing a
	// candidate. ctx bounds any external tool the pass invokes: a pass that
	// shells out must run it with ctx (e.g. exec.CommandContext) so the
	// runner's per-attempt timeout and cancellation actually terminate it.
	// order is the submission-order integer for this attempt; pids, if
	// non-nil, receives a [PIDReport] for every subprocess the pass starts
	// while performing this transform.
	Transform(ctx context.Context, testCasePath string, state State, order int, pids chan<- PIDReport) (Outcome, State, error)
}
