package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/reduceit/reduce/internal/cache"
	"github.com/reduceit/reduce/internal/config"
	"github.com/reduceit/reduce/internal/fs"
	"github.com/reduceit/reduce/internal/keyevent"
	"github.com/reduceit/reduce/internal/pass"
	"github.com/reduceit/reduce/internal/passes/brackets"
	"github.com/reduceit/reduce/internal/passes/clangdelta"
	"github.com/reduceit/reduce/internal/passes/lines"
	"github.com/reduceit/reduce/internal/pool"
	"github.com/reduceit/reduce/internal/runner"
	"github.com/reduceit/reduce/internal/sandbox"
	"github.com/reduceit/reduce/internal/stats"
	"github.com/reduceit/reduce/internal/worker"
)

// ReduceCmd is the single top-level command: reduce a test case against an
// interestingness test, running each listed pass once, in order, until that
// pass has no states left.
func ReduceCmd(env map[string]string) *Command {
	flags := flag.NewFlagSet("greduce", flag.ContinueOnError)

	passSpec := flags.String("passes", "brackets:parens,brackets:parens-only,lines", "comma-separated ordered list of pass:arg entries")
	configPath := flags.String("config", "", "explicit config file path")
	parallelTests := flags.IntP("parallel-tests", "j", 0, "number of concurrent interestingness tests")
	timeoutSeconds := flags.Int("timeout", 0, "per-attempt timeout in seconds")
	saveTemps := flags.Bool("save-temps", false, "keep sandbox directories after the run")
	noCache := flags.Bool("no-cache", false, "disable the in-memory result cache")
	skipKeyOff := flags.Bool("skip-key-off", false, "disable the interactive keypress listener")
	silentPassBug := flags.Bool("silent-pass-bug", false, "capture pass-bug directories without printing a warning")
	dieOnPassBug := flags.Bool("die-on-pass-bug", false, "abort the whole run on the first pass bug")
	printDiff := flags.Bool("print-diff", false, "print a unified diff after every committed reduction")
	noGiveUp := flags.Bool("no-give-up", false, "never abandon a pass for consecutive attempt failures")
	giveUpAfter := flags.Int("give-up-after", 0, "consecutive attempt failures before abandoning a pass")
	maxImprovement := flags.Int64("max-improvement", 0, "cap on bytes a single successful attempt may remove")
	alsoInterestingExitCode := flags.Int("also-interesting-exit-code", 0, "capture attempts exiting with this code into a greduce_extra_NNNNN directory")
	printConfig := flags.Bool("print-config", false, "print the resolved configuration and exit")

	return &Command{
		Flags: flags,
		Usage: "[flags] <test-script> <test-case> [aux-files...]",
		Short: "Reduce a test case to a smaller one that still triggers the interestingness test",
		Long: "Runs each configured pass once, in order, over <test-case> until that pass has\n" +
			"no states left, keeping only those variants for which <test-script> exits 0.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			overridden := map[string]bool{}
			flags.Visit(func(f *flag.Flag) {
				overridden[strings.ReplaceAll(f.Name, "-", "_")] = true
			})

			if overridden["timeout"] {
				overridden["timeout_seconds"] = true
			}

			cliCfg := config.Config{
				ParallelTests:  *parallelTests,
				TimeoutSeconds: *timeoutSeconds,
				SaveTemps:      *saveTemps,
				NoCache:        *noCache,
				SkipKeyOff:     *skipKeyOff,
				SilentPassBug:  *silentPassBug,
				DieOnPassBug:   *dieOnPassBug,
				PrintDiff:      *printDiff,
				NoGiveUp:       *noGiveUp,
				GiveUpAfter:    *giveUpAfter,
			}

			if overridden["max_improvement"] {
				cliCfg.MaxImprovement = maxImprovement
			}

			if overridden["also_interesting_exit_code"] {
				cliCfg.AlsoInterestingExitCode = alsoInterestingExitCode
			}

			workDir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getwd: %w", err)
			}

			cfg, _, err := config.LoadConfig(workDir, *configPath, cliCfg, overridden, envSlice(env))
			if err != nil {
				return err
			}

			if *printConfig {
				formatted, formatErr := config.FormatConfig(cfg)
				if formatErr != nil {
					return formatErr
				}

				o.Println(formatted)

				return nil
			}

			if len(args) < 2 {
				return errMissingArgs
			}

			testScript, testCase, auxFiles := args[0], args[1], args[2:]

			passList, err := parsePasses(*passSpec)
			if err != nil {
				return err
			}

			return runReduce(ctx, o, cfg, testScript, testCase, auxFiles, passList)
		},
	}
}

var errMissingArgs = fmt.Errorf("usage: greduce [flags] <test-script> <test-case> [aux-files...]")

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}

	return out
}

// parsePasses turns a comma-separated "name:arg" spec into concrete
// [pass.Pass] values, in the order they should run.
func parsePasses(spec string) ([]pass.Pass, error) {
	var result []pass.Pass

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name, arg, _ := strings.Cut(entry, ":")

		p, err := buildPass(name, arg)
		if err != nil {
			return nil, err
		}

		result = append(result, p)
	}

	return result, nil
}

func buildPass(name, arg string) (pass.Pass, error) {
	switch name {
	case "brackets":
		return brackets.New(arg)
	case "lines":
		return lines.New(), nil
	case "clangdelta":
		return clangdelta.New("", arg, "")
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownPass, name)
	}
}

var errUnknownPass = fmt.Errorf("unknown pass")

func runReduce(ctx context.Context, o *IO, cfg config.Config, testScript, testCase string, auxFiles []string, passList []pass.Pass) error {
	absTestScript, err := absPath(testScript)
	if err != nil {
		return err
	}

	absTestCase, err := absPath(testCase)
	if err != nil {
		return err
	}

	fsys := fs.NewReal()

	root, err := os.MkdirTemp("", "greduce-run-")
	if err != nil {
		return fmt.Errorf("create run root: %w", err)
	}

	if !cfg.SaveTemps {
		defer os.RemoveAll(root) //nolint:errcheck // best-effort cleanup
	}

	bugDir := root + "-bugs"
	if err := os.MkdirAll(bugDir, 0o755); err != nil { //nolint:mnd // standard dir perm
		return fmt.Errorf("create bug dir: %w", err)
	}

	extraDir := root + "-extra"
	if err := os.MkdirAll(extraDir, 0o755); err != nil { //nolint:mnd // standard dir perm
		return fmt.Errorf("create extra dir: %w", err)
	}

	if err := sanityCheck(ctx, fsys, root, absTestScript, absTestCase, auxFiles, cfg); err != nil {
		return err
	}

	origPath := absTestCase + ".orig"
	if exists, existsErr := fsys.Exists(origPath); existsErr == nil && !exists {
		if err := fsys.CopyFile(absTestCase, origPath, 0o644); err != nil { //nolint:mnd // standard file perm
			return fmt.Errorf("back up test case: %w", err)
		}
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	keys := keyevent.New(cfg.SkipKeyOff)

	if err := keys.Start(); err != nil {
		logger.Warn().Err(err).Msg("interactive keypress listener unavailable")
	}

	defer keys.Stop()

	statsAcc := stats.New()
	cacheStore := cache.New()

	deps := &runner.Deps{
		FS:          fsys,
		Pool:        pool.New(ctx, parallelism(cfg), timeout(cfg)),
		Cache:       cacheStore,
		Stats:       statsAcc,
		KeyEvents:   keys.Watch(ctx),
		Logger:      logger,
		Cfg:         cfg,
		SandboxRoot: root,
		BugDir:      bugDir,
		ExtraDir:    extraDir,
		WarnLLM:     o.WarnLLM,
	}

	for _, p := range passList {
		if err := runner.Run(ctx, deps, p, absTestCase, absTestScript, auxFiles); err != nil {
			return fmt.Errorf("pass %s: %w", p.Identity(), err)
		}
	}

	o.Println(statsAcc.Report())

	return nil
}

func parallelism(cfg config.Config) int {
	if cfg.ParallelTests < 1 {
		return 1
	}

	return cfg.ParallelTests
}

func timeout(cfg config.Config) time.Duration {
	if cfg.TimeoutSeconds < 1 {
		return 30 * time.Second //nolint:mnd // fallback matches config.DefaultConfig
	}

	return time.Duration(cfg.TimeoutSeconds) * time.Second
}

func absPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", path, err)
	}

	return abs, nil
}

// sanityCheck runs the interestingness test once against the untouched
// inputs, in a fresh sandbox, before any reduction work begins: a non-zero
// exit here means the test script is broken with respect to the starting
// point, not that a pass has done anything wrong.
func sanityCheck(ctx context.Context, fsys fs.FS, root, testScript, testCase string, auxFiles []string, cfg config.Config) error {
	sb, err := sandbox.New(fsys, root, testCase, auxFiles)
	if err != nil {
		return fmt.Errorf("sanity check: create sandbox: %w", err)
	}
	defer sb.Release(fsys)

	sbScript := filepath.Join(sb.Dir, filepath.Base(testScript))
	if err := fsys.CopyFile(testScript, sbScript, 0o755); err != nil { //nolint:mnd // executable perm
		return fmt.Errorf("sanity check: copy test script: %w", err)
	}

	exitCode, err := worker.SanityCheck(ctx, sb.Dir, sbScript, timeout(cfg))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", errInsaneTestCase, testScript, err)
	}

	if exitCode != 0 {
		return fmt.Errorf("%w: test script %s exited %d against the unmodified input", errInsaneTestCase, testScript, exitCode)
	}

	return nil
}

var errInsaneTestCase = fmt.Errorf("interestingness test does not pass against the unmodified input")
