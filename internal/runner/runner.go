// Package runner drives one pass over one test case: it owns the
// cache-check, batch submission, arbitration, commit, and bug-capture loop
// that every pass (brackets, lines, clangdelta, or any future pass) shares.
package runner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/reduceit/reduce/internal/arbiter"
	"github.com/reduceit/reduce/internal/cache"
	"github.com/reduceit/reduce/internal/config"
	"github.com/reduceit/reduce/internal/diffprint"
	"github.com/reduceit/reduce/internal/fs"
	"github.com/reduceit/reduce/internal/keyevent"
	"github.com/reduceit/reduce/internal/pass"
	"github.com/reduceit/reduce/internal/pool"
	"github.com/reduceit/reduce/internal/sandbox"
	"github.com/reduceit/reduce/internal/stats"
	"github.com/reduceit/reduce/internal/worker"
)

// ErrPrerequisitesMissing names the condition of a pass whose external tool
// dependency is not available. Run does not return it: it treats such a pass
// as a skip, logs it at warn level, reports it through Deps.WarnLLM, and
// returns nil.
var ErrPrerequisitesMissing = errors.New("pass prerequisites not satisfied")

const (
	maxCrashDirs = 10
	maxExtraDirs = 10
)

// Deps bundles everything Run needs that outlives a single pass
// invocation: shared infrastructure wired once by the CLI entrypoint.
type Deps struct {
	FS     fs.FS
	Pool   *pool.Pool
	Cache  *cache.Cache
	Stats  *stats.Stats
	// KeyEvents delivers recognized operator keypresses, e.g. from
	// [keyevent.Reader.Watch]; nil disables the keypress check entirely.
	KeyEvents <-chan keyevent.Key
	Logger    zerolog.Logger
	Cfg       config.Config
	// SandboxRoot is the directory new sandboxes are created under.
	SandboxRoot string
	// BugDir is the directory numbered crash-NNNN subdirectories are
	// written under.
	BugDir string
	// ExtraDir is the directory numbered greduce_extra_NNNNN subdirectories are
	// written under, for attempts matching also_interesting_exit_code.
	ExtraDir string
	// WarnLLM, if non-nil, surfaces an actionable warning to the operator
	// (see [github.com/reduceit/reduce/internal/cli.IO.WarnLLM]) for
	// conditions that don't fail the run but change what it accomplished:
	// a pass skipped for missing prerequisites, or a pass abandoned early
	// via give-up.
	WarnLLM func(issue, action string)

	crashCount int
	extraCount int
}

func (d *Deps) warnLLM(issue, action string) {
	if d.WarnLLM != nil {
		d.WarnLLM(issue, action)
	}
}

// Run executes one pass to exhaustion (or give-up, or a keypress skip)
// against testCasePath, committing every improving, interesting candidate
// it finds back to testCasePath in place.
//
// Before doing any work it consults the pass-entry cache: if this exact
// pass has already run to completion over this exact test case content
// earlier in the same invocation, the remembered result is written back
// and the whole pass — every state it would enumerate, every
// interestingness test it would run — is skipped. On a miss, the cache is
// written exactly once more, at pass exit, with whatever the pass leaves
// testCasePath holding.
func Run(ctx context.Context, deps *Deps, p pass.Pass, testCasePath, testScript string, auxFiles []string) error {
	logger := deps.Logger.With().Str("pass", p.Identity()).Logger()

	if !p.CheckPrerequisites() {
		logger.Warn().Msg("skipping pass: prerequisites not satisfied")
		deps.warnLLM(
			fmt.Sprintf("pass %s was skipped: prerequisites not satisfied", p.Identity()),
			"install or configure the missing external tool, or drop this pass from --passes",
		)

		return nil
	}

	mem := reductionCache(deps)

	var cacheKey string

	if mem != nil {
		before, readErr := deps.FS.ReadFile(testCasePath)
		if readErr != nil {
			return fmt.Errorf("pass %s: read before cache check: %w", p.Identity(), readErr)
		}

		cacheKey = cache.Key(before)

		if cached, hit := mem.Lookup(p.Identity(), cacheKey); hit {
			logger.Debug().Msg("cache hit: skipping pass")

			if writeErr := deps.FS.WriteFileAtomic(testCasePath, cached, 0o644); writeErr != nil { //nolint:mnd // standard file perm
				return fmt.Errorf("pass %s: write cached result: %w", p.Identity(), writeErr)
			}

			return nil
		}
	}

	state, err := p.New(testCasePath)
	if err != nil {
		return fmt.Errorf("pass %s: New: %w", p.Identity(), err)
	}

	arb := arbiter.New(giveUpThreshold(deps.Cfg), deps.Cfg.AlsoInterestingExitCode)

	nextOrder := 0

	for state != nil {
		switch pollKey(deps.KeyEvents) {
		case keyevent.KeySkipPass:
			logger.Info().Msg("skipping remainder of pass on operator request")

			return nil
		case keyevent.KeyQuit:
			return errQuitRequested
		case keyevent.KeyNone:
		}

		batchStates, nextAfterBatch, err := buildBatch(p, testCasePath, state, deps.Cfg.ParallelTests)
		if err != nil {
			return fmt.Errorf("pass %s: Advance: %w", p.Identity(), err)
		}

		if len(batchStates) == 0 {
			break
		}

		batchOrder := nextOrder
		nextOrder += len(batchStates)

		started := time.Now()

		results, err := runBatch(ctx, deps, p, testCasePath, testScript, auxFiles, batchStates, batchOrder)
		if err != nil {
			return err
		}

		decision := arb.Evaluate(deps.FS, testCasePath, results)

		for _, bug := range decision.BugReports {
			if captureErr := captureBug(deps, p, testScript, bug); captureErr != nil {
				logger.Error().Err(captureErr).Msg("failed to capture pass-bug directory")
			}

			if !deps.Cfg.SilentPassBug {
				logger.Warn().Int("order", bug.Order).Str("outcome", bug.Outcome.String()).Msg("pass bug captured")
			}

			if deps.Cfg.DieOnPassBug {
				releaseAll(deps, results)

				return fmt.Errorf("%w: %s reported outcome %v", errPassBug, p.Identity(), bug.Outcome)
			}
		}

		for _, extra := range decision.ExtraReports {
			if captureErr := captureExtra(deps, extra); captureErr != nil {
				logger.Error().Err(captureErr).Msg("failed to capture also-interesting directory")
			}
		}

		if decision.Winner != nil {
			committed, commitErr := commit(deps, p, testCasePath, decision.Winner, started)
			if commitErr != nil {
				releaseAll(deps, results)

				return commitErr
			}

			if committed {
				winningState := stateForOrder(batchStates, batchOrder, decision.Winner.Order)

				state, err = p.AdvanceOnSuccess(testCasePath, winningState)
				if err != nil {
					releaseAll(deps, results)

					return fmt.Errorf("pass %s: AdvanceOnSuccess: %w", p.Identity(), err)
				}
			} else {
				state = nextAfterBatch
			}
		} else {
			deps.Stats.RecordAttempt(p.Identity(), false, 0, time.Since(started))

			if decision.Exhausted {
				logger.Debug().Msg("pass reported STOP: no states left for this test case")
				releaseAll(deps, results)

				break
			}

			if decision.GiveUp && !deps.Cfg.NoGiveUp {
				logger.Warn().Msg("giving up on pass after too many consecutive failures")
				deps.warnLLM(
					fmt.Sprintf("pass %s gave up early after too many consecutive failures", p.Identity()),
					"rerun with --no-give-up or a higher --give-up-after if this pass still had states left to try",
				)
				releaseAll(deps, results)

				break
			}

			state = nextAfterBatch
		}

		releaseAll(deps, results)
	}

	if mem != nil {
		after, readErr := deps.FS.ReadFile(testCasePath)
		if readErr != nil {
			return fmt.Errorf("pass %s: read after for cache store: %w", p.Identity(), readErr)
		}

		mem.Store(p.Identity(), cacheKey, after)
	}

	return nil
}

var (
	errQuitRequested = errors.New("operator requested quit")
	errPassBug       = errors.New("pass bug")
)

// reductionCache returns the shared cache Run consults once at pass entry
// and writes once at pass exit, or nil if the operator disabled it: a nil
// cache means "always run this pass in full."
func reductionCache(deps *Deps) *cache.Cache {
	if deps.Cfg.NoCache {
		return nil
	}

	return deps.Cache
}

func giveUpThreshold(cfg config.Config) int {
	if cfg.NoGiveUp {
		return 0
	}

	return cfg.GiveUpAfter
}

// pollKey drains whatever keypress is immediately available without
// blocking the caller. events is expected to be fed by
// [keyevent.Reader.Watch] running on its own goroutine; a nil channel (no
// keypress listener configured, e.g. in tests) or an empty one both
// resolve to KeyNone immediately.
func pollKey(events <-chan keyevent.Key) keyevent.Key {
	select {
	case k := <-events:
		return k
	default:
		return keyevent.KeyNone
	}
}

// buildBatch advances p from state up to n times, collecting every
// intermediate state to submit as one batch, and returns the state that
// would follow the whole batch on an all-failures outcome.
func buildBatch(p pass.Pass, testCasePath string, state pass.State, n int) ([]pass.State, pass.State, error) {
	if n < 1 {
		n = 1
	}

	batch := make([]pass.State, 0, n)
	cur := state

	for len(batch) < n && cur != nil {
		batch = append(batch, cur)

		next, err := p.Advance(testCasePath, cur)
		if err != nil {
			return nil, nil, err
		}

		cur = next
	}

	return batch, cur, nil
}

// stateForOrder maps an absolute submission order back to the batch-local
// state that produced it: batchOrder is the absolute order of batch[0].
func stateForOrder(batch []pass.State, batchOrder, order int) pass.State {
	idx := order - batchOrder
	if idx < 0 || idx >= len(batch) {
		return nil
	}

	return batch[idx]
}

// runBatch submits one batch of candidates, each attributed with a dense,
// run-wide monotonically increasing submission order starting at
// batchOrder, and collects every attempt's result.
func runBatch(
	ctx context.Context,
	deps *Deps,
	p pass.Pass,
	testCasePath, testScript string,
	auxFiles []string,
	batchStates []pass.State,
	batchOrder int,
) ([]worker.Result, error) {
	handles := make([]*pool.Handle, 0, len(batchStates))

	for i, st := range batchStates {
		order := batchOrder + i
		state := st

		sb, err := sandbox.New(deps.FS, deps.SandboxRoot, testCasePath, auxFiles)
		if err != nil {
			return nil, fmt.Errorf("sandbox.New: %w", err)
		}

		h, err := deps.Pool.Submit(ctx, pool.Task{
			Order: order,
			Run: func(runCtx context.Context, pids chan<- pass.PIDReport) any {
				return worker.Run(runCtx, deps.FS, sb, p, state, testScript, order, pids)
			},
		})
		if err != nil {
			sb.Release(deps.FS)

			return nil, fmt.Errorf("pool.Submit: %w", err)
		}

		handles = append(handles, h)
	}

	return collectBatch(deps.Pool, handles), nil
}

// collectBatch waits for every handle to finish, but doesn't wait passively:
// as soon as a success is seen at some order, every still-running handle
// for a higher order is cancelled — its context is cancelled and, if its
// subprocess PID is already known, SIGTERM'd directly — since it can only
// ever produce a result the lower-order success has already made moot. A
// still-pending handle for a lower order is left running: it could still
// report an even-lower-order success and become the new winner.
func collectBatch(p *pool.Pool, handles []*pool.Handle) []worker.Result {
	if len(handles) == 0 {
		return nil
	}

	var pidMu sync.Mutex

	pidByOrder := make(map[int]int, len(handles))

	stopDrain := make(chan struct{})
	defer close(stopDrain)

	go func() {
		for {
			select {
			case rep := <-p.Pids:
				pidMu.Lock()
				pidByOrder[rep.Order] = rep.PID
				pidMu.Unlock()
			case <-stopDrain:
				return
			}
		}
	}()

	completions := make(chan int, len(handles))

	for i, h := range handles {
		i, h := i, h

		go func() {
			<-h.Done
			completions <- i
		}()
	}

	results := make([]worker.Result, 0, len(handles))
	bestOrder := -1

	for range handles {
		i := <-completions

		res, ok := handles[i].Result.(worker.Result)
		if !ok {
			continue
		}

		results = append(results, res)

		if res.Success() && (bestOrder == -1 || res.Order < bestOrder) {
			bestOrder = res.Order

			cancelHigherOrders(handles, bestOrder, &pidMu, pidByOrder)
		}
	}

	return results
}

// cancelHigherOrders cancels every handle whose order exceeds bestOrder and
// that hasn't already completed.
func cancelHigherOrders(handles []*pool.Handle, bestOrder int, pidMu *sync.Mutex, pidByOrder map[int]int) {
	for _, h := range handles {
		if h.Order <= bestOrder {
			continue
		}

		select {
		case <-h.Done:
			continue
		default:
		}

		h.Cancel()

		pidMu.Lock()
		pid, ok := pidByOrder[h.Order]
		pidMu.Unlock()

		if ok {
			terminate(pid)
		}
	}
}

// terminate sends SIGTERM directly to pid: Cancel alone only cancels the
// attempt's context, which stops exec.CommandContext from starting any
// further subprocess but doesn't reach one that has already been started
// with a different context (e.g. a grandchild clang_delta spawns itself).
func terminate(pid int) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}

	_ = proc.Signal(syscall.SIGTERM)
}

// releaseAll removes every result's sandbox, unless save_temps is set.
func releaseAll(deps *Deps, results []worker.Result) {
	if deps.Cfg.SaveTemps {
		return
	}

	for _, r := range results {
		if r.Sandbox != nil {
			r.Sandbox.Release(deps.FS)
		}
	}
}

// commit reports whether it wrote the winner over testCasePath. A candidate
// that MeaningfulImprovement rejects leaves the test case untouched.
func commit(deps *Deps, p pass.Pass, testCasePath string, winner *worker.Result, started time.Time) (bool, error) {
	before, err := deps.FS.ReadFile(testCasePath)
	if err != nil {
		return false, fmt.Errorf("commit: read original: %w", err)
	}

	after, err := deps.FS.ReadFile(winner.Sandbox.TestCasePath())
	if err != nil {
		return false, fmt.Errorf("commit: read candidate: %w", err)
	}

	if !arbiter.MeaningfulImprovement(int64(len(before)), int64(len(after)), deps.Cfg.MaxImprovement) {
		deps.Stats.RecordAttempt(p.Identity(), false, 0, time.Since(started))

		return false, nil
	}

	if err := deps.FS.WriteFileAtomic(testCasePath, after, 0o644); err != nil { //nolint:mnd // standard file perm
		return false, fmt.Errorf("commit: write: %w", err)
	}

	if deps.Cfg.PrintDiff {
		if diff := diffprint.Unified(filepath.Base(testCasePath), before, after); diff != "" {
			fmt.Fprint(os.Stdout, diff)
		}
	}

	deps.Stats.RecordAttempt(p.Identity(), true, int64(len(before)-len(after)), time.Since(started))

	return true, nil
}

func captureBug(deps *Deps, p pass.Pass, testScript string, bug worker.Result) error {
	if deps.crashCount >= maxCrashDirs {
		return nil
	}

	deps.crashCount++

	dst := filepath.Join(deps.BugDir, fmt.Sprintf("%s-crash-%04d", sanitize(p.Identity()), deps.crashCount))

	if bug.Sandbox == nil {
		return nil
	}

	if err := bug.Sandbox.Dump(deps.FS, testScript, dst); err != nil {
		return err
	}

	info := fmt.Sprintf("pass: %s\noutcome: %v\nexit_code: %d\norder: %d\n",
		p.Identity(), bug.Outcome, bug.ExitCode, bug.Order)

	return deps.FS.WriteFileAtomic(filepath.Join(dst, "PASS_BUG_INFO.TXT"), []byte(info), 0o644) //nolint:mnd // standard file perm
}

// captureExtra relocates an also_interesting_exit_code attempt's sandbox
// into a numbered greduce_extra_NNNNN directory for manual inspection. The
// sandbox is moved, not copied: the attempt is not a reduction success, so
// nothing else needs its test case file to remain in place.
func captureExtra(deps *Deps, extra worker.Result) error {
	if deps.extraCount >= maxExtraDirs || extra.Sandbox == nil {
		return nil
	}

	deps.extraCount++

	dst := filepath.Join(deps.ExtraDir, fmt.Sprintf("greduce_extra_%05d", deps.extraCount))

	return extra.Sandbox.Move(deps.FS, dst)
}

func sanitize(identity string) string {
	sum := sha256.Sum256([]byte(identity))

	return hex.EncodeToString(sum[:])[:8]
}
