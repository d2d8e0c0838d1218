// Package config loads the driver's run-time configuration, layering
// defaults, a global user config, a project config file, and CLI overrides,
// the same precedence chain and JSONC-via-hujson loading the rest of the
// corpus this module was bootstrapped from uses for its own config file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
)

// Config holds every tunable the driver consults outside of the pass list
// and the test-case/test-script positional arguments themselves.
type Config struct {
	ParallelTests int `json:"parallel_tests,omitempty"` //nolint:tagliatelle // snake_case for config file

	// TimeoutSeconds bounds a single interestingness-test invocation.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"` //nolint:tagliatelle // snake_case for config file

	SaveTemps      bool `json:"save_temps,omitempty"`       //nolint:tagliatelle // snake_case for config file
	NoCache        bool `json:"no_cache,omitempty"`         //nolint:tagliatelle // snake_case for config file
	SkipKeyOff     bool `json:"skip_key_off,omitempty"`     //nolint:tagliatelle // snake_case for config file
	SilentPassBug  bool `json:"silent_pass_bug,omitempty"`  //nolint:tagliatelle // snake_case for config file
	DieOnPassBug   bool `json:"die_on_pass_bug,omitempty"`  //nolint:tagliatelle // snake_case for config file
	PrintDiff      bool `json:"print_diff,omitempty"`       //nolint:tagliatelle // snake_case for config file
	NoGiveUp       bool `json:"no_give_up,omitempty"`       //nolint:tagliatelle // snake_case for config file

	// MaxImprovement caps how many bytes a single successful attempt is
	// allowed to remove in one step. Nil means unbounded.
	MaxImprovement *int64 `json:"max_improvement,omitempty"` //nolint:tagliatelle // snake_case for config file

	// AlsoInterestingExitCode, if non-nil, marks an additional exit code as
	// worth capturing into an extra-results directory without committing it
	// as the new canonical test case.
	AlsoInterestingExitCode *int `json:"also_interesting_exit_code,omitempty"` //nolint:tagliatelle // snake_case for config file

	// GiveUpAfter is the number of consecutive attempt failures within one
	// pass invocation after which the driver abandons that pass for the
	// current test case rather than exhausting every remaining state.
	GiveUpAfter int `json:"give_up_after,omitempty"` //nolint:tagliatelle // snake_case for config file
}

// ConfigSources tracks which config files were loaded, surfaced by the CLI's
// --print-config diagnostic.
type ConfigSources struct {
	Global  string
	Project string
}

// DefaultConfig returns the configuration used when no config file and no
// CLI overrides are present.
func DefaultConfig() Config {
	return Config{
		ParallelTests:  1,
		TimeoutSeconds: 30, //nolint:mnd // matches the driver's documented default
		GiveUpAfter:    50000,
	}
}

// ConfigFileName is the default project config file name.
const ConfigFileName = ".greduce.json"

// getGlobalConfigPath returns the path to the global config file, preferring
// $XDG_CONFIG_HOME/greduce/config.json and falling back to
// ~/.config/greduce/config.json. Returns "" if no home directory can be
// determined.
func getGlobalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "greduce", "config.json")
		}
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "greduce", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "greduce", "config.json")
	}

	return ""
}

// LoadConfig loads configuration with the following precedence (highest
// wins):
//  1. Defaults
//  2. Global user config
//  3. Project config file (.greduce.json, if present) or an explicit
//     --config path
//  4. CLI overrides
func LoadConfig(workDir, configPath string, cliOverrides Config, overridden map[string]bool, env []string) (Config, ConfigSources, error) {
	cfg := DefaultConfig()

	var sources ConfigSources

	globalCfg, globalPath, err := loadGlobalConfig(env)
	if err != nil {
		return Config{}, ConfigSources{}, err
	}

	sources.Global = globalPath
	cfg = mergeConfig(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, configPath)
	if err != nil {
		return Config{}, ConfigSources{}, err
	}

	sources.Project = projectPath
	cfg = mergeConfig(cfg, projectCfg)

	cfg = applyCLIOverrides(cfg, cliOverrides, overridden)

	if validateErr := validateConfig(cfg); validateErr != nil {
		return Config{}, ConfigSources{}, validateErr
	}

	return cfg, sources, nil
}

func loadGlobalConfig(env []string) (Config, string, error) {
	path := getGlobalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadConfigFile(path, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, path, nil
}

func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	var (
		cfgFile   string
		mustExist bool
	)

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		if _, statErr := os.Stat(cfgFile); statErr != nil {
			return Config{}, "", fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
	} else {
		cfgFile = filepath.Join(workDir, ConfigFileName)
	}

	cfg, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, cfgFile, nil
}

func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", errConfigFileRead, path)
		}

		return Config{}, false, nil
	}

	cfg, parseErr := parseConfig(data)
	if parseErr != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, parseErr)
	}

	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	if unmarshalErr := json.Unmarshal(standardized, &cfg); unmarshalErr != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", unmarshalErr)
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.ParallelTests != 0 {
		base.ParallelTests = overlay.ParallelTests
	}

	if overlay.TimeoutSeconds != 0 {
		base.TimeoutSeconds = overlay.TimeoutSeconds
	}

	if overlay.GiveUpAfter != 0 {
		base.GiveUpAfter = overlay.GiveUpAfter
	}

	if overlay.MaxImprovement != nil {
		base.MaxImprovement = overlay.MaxImprovement
	}

	if overlay.AlsoInterestingExitCode != nil {
		base.AlsoInterestingExitCode = overlay.AlsoInterestingExitCode
	}

	base.SaveTemps = base.SaveTemps || overlay.SaveTemps
	base.NoCache = base.NoCache || overlay.NoCache
	base.SkipKeyOff = base.SkipKeyOff || overlay.SkipKeyOff
	base.SilentPassBug = base.SilentPassBug || overlay.SilentPassBug
	base.DieOnPassBug = base.DieOnPassBug || overlay.DieOnPassBug
	base.PrintDiff = base.PrintDiff || overlay.PrintDiff
	base.NoGiveUp = base.NoGiveUp || overlay.NoGiveUp

	return base
}

// applyCLIOverrides applies only the fields the CLI layer recorded as
// explicitly set on the command line, named in overridden by their JSON tag.
func applyCLIOverrides(cfg, cli Config, overridden map[string]bool) Config {
	if overridden["parallel_tests"] {
		cfg.ParallelTests = cli.ParallelTests
	}

	if overridden["timeout_seconds"] {
		cfg.TimeoutSeconds = cli.TimeoutSeconds
	}

	if overridden["save_temps"] {
		cfg.SaveTemps = cli.SaveTemps
	}

	if overridden["no_cache"] {
		cfg.NoCache = cli.NoCache
	}

	if overridden["skip_key_off"] {
		cfg.SkipKeyOff = cli.SkipKeyOff
	}

	if overridden["silent_pass_bug"] {
		cfg.SilentPassBug = cli.SilentPassBug
	}

	if overridden["die_on_pass_bug"] {
		cfg.DieOnPassBug = cli.DieOnPassBug
	}

	if overridden["print_diff"] {
		cfg.PrintDiff = cli.PrintDiff
	}

	if overridden["no_give_up"] {
		cfg.NoGiveUp = cli.NoGiveUp
	}

	if overridden["max_improvement"] {
		cfg.MaxImprovement = cli.MaxImprovement
	}

	if overridden["also_interesting_exit_code"] {
		cfg.AlsoInterestingExitCode = cli.AlsoInterestingExitCode
	}

	if overridden["give_up_after"] {
		cfg.GiveUpAfter = cli.GiveUpAfter
	}

	return cfg
}

func validateConfig(cfg Config) error {
	if cfg.ParallelTests < 1 {
		return errParallelTestsInvalid
	}

	if cfg.TimeoutSeconds < 1 {
		return errTimeoutInvalid
	}

	return nil
}

// FormatConfig returns cfg as formatted JSON, for the CLI's --print-config
// diagnostic.
func FormatConfig(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}

	return string(data), nil
}

var (
	errConfigFileNotFound   = errors.New("config file not found")
	errConfigFileRead       = errors.New("failed to read config file")
	errConfigInvalid        = errors.New("invalid config")
	errParallelTestsInvalid = errors.New("parallel_tests must be >= 1")
	errTimeoutInvalid       = errors.New("timeout_seconds must be >= 1")
)
