// Package arbiter decides, among a batch of concurrently-running attempts,
// which (if any) becomes the new canonical test case.
//
// Submission order is the sole tie-breaker: attempts are dispatched in a
// fixed sequence against the same starting content, and whichever
// successful attempt has the lowest order wins, regardless of which
// goroutine happened to finish first. Every other in-flight or still-pending
// attempt for the same pass state is then cancelled, since it was computed
// against content the winner has already superseded.
package arbiter

import (
	"sort"

	"github.com/reduceit/reduce/internal/fs"
	"github.com/reduceit/reduce/internal/pass"
	"github.com/reduceit/reduce/internal/worker"
)

// Decision is the result of one Evaluate call over a batch of completed
// attempts.
type Decision struct {
	// Winner is the lowest-order successful attempt, or nil if none.
	Winner *worker.Result

	// ToCancel lists the submission orders of every other completed or
	// in-flight attempt that the winner has made moot.
	ToCancel []int

	// Exhausted reports that a STOP was observed at or before the lowest
	// order with no winner: the pass has nothing left to try.
	Exhausted bool

	// BugReports lists attempts whose outcome indicates a defect in the
	// pass itself (ERROR, INVALID, or a reported success with byte-identical
	// output), which the runner captures as a crash directory.
	BugReports []worker.Result

	// ExtraReports lists attempts that exited with the configured
	// also_interesting_exit_code: not a committed success, but worth
	// preserving in a greduce_extra_NNNNN directory for manual inspection.
	ExtraReports []worker.Result

	// GiveUp reports that the configured consecutive-failure threshold
	// has been reached: the runner should abandon this pass for this
	// test case rather than exhaust every remaining state.
	GiveUp bool
}

// Arbiter tracks cross-batch state (the consecutive-failure counter) that a
// single Evaluate call cannot see on its own.
type Arbiter struct {
	giveUpThreshold         int
	alsoInterestingExitCode *int
	consecutiveFailures     int
}

// New creates an Arbiter. giveUpThreshold <= 0 disables the give-up check,
// matching a driver configured with no_give_up. alsoInterestingExitCode, if
// non-nil, marks an additional non-zero exit code worth capturing as an
// "extra" report rather than silently discarding.
func New(giveUpThreshold int, alsoInterestingExitCode *int) *Arbiter {
	return &Arbiter{giveUpThreshold: giveUpThreshold, alsoInterestingExitCode: alsoInterestingExitCode}
}

// Evaluate classifies a batch of completed attempts (in any order) and
// produces a single Decision. fsys and originalPath are used only to detect
// the "reported OK but wrote byte-identical content" pass bug; originalPath
// is the canonical test case path the attempts were derived from.
func (a *Arbiter) Evaluate(fsys fs.FS, originalPath string, completed []worker.Result) Decision {
	sorted := append([]worker.Result(nil), completed...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	var (
		winner   *worker.Result
		bugs     []worker.Result
		extras   []worker.Result
		stopSeen bool
	)

	for i := range sorted {
		r := sorted[i]

		switch {
		case r.TransformErr != nil || r.Outcome == pass.ERROR:
			bugs = append(bugs, r)
		case r.Outcome == pass.INVALID:
			bugs = append(bugs, r)
		case r.Outcome == pass.STOP:
			stopSeen = true
		case r.Success():
			if identical, _ := byteIdentical(fsys, originalPath, r); identical {
				bugs = append(bugs, r)

				continue
			}

			if winner == nil || r.Order < winner.Order {
				w := r
				winner = &w
			}
		default:
			a.consecutiveFailures++

			if a.alsoInterestingExitCode != nil && r.RunErr == nil && r.ExitCode == *a.alsoInterestingExitCode {
				extras = append(extras, r)
			}
		}
	}

	var toCancel []int

	if winner != nil {
		a.consecutiveFailures = 0

		for i := range sorted {
			if sorted[i].Order != winner.Order {
				toCancel = append(toCancel, sorted[i].Order)
			}
		}
	}

	return Decision{
		Winner:       winner,
		ToCancel:     toCancel,
		Exhausted:    stopSeen && winner == nil,
		BugReports:   bugs,
		ExtraReports: extras,
		GiveUp:       a.giveUpThreshold > 0 && a.consecutiveFailures >= a.giveUpThreshold,
	}
}

// MeaningfulImprovement reports whether final is a real reduction over base,
// bounded by maxImprovement if non-nil (a driver safety valve against a pass
// that deletes far more than expected in one step).
func MeaningfulImprovement(base, final int64, maxImprovement *int64) bool {
	if final >= base {
		return false
	}

	if maxImprovement == nil {
		return true
	}

	return base-final <= *maxImprovement
}

func byteIdentical(fsys fs.FS, originalPath string, r worker.Result) (bool, error) {
	if r.Sandbox == nil {
		return false, nil
	}

	orig, err := fsys.ReadFile(originalPath)
	if err != nil {
		return false, err
	}

	candidate, err := fsys.ReadFile(r.Sandbox.TestCasePath())
	if err != nil {
		return false, err
	}

	if len(orig) != len(candidate) {
		return false, nil
	}

	for i := range orig {
		if orig[i] != candidate[i] {
			return false, nil
		}
	}

	return true, nil
}
