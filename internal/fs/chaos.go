package fs

import (
	"math/rand"
	"os"
	"syscall"
)

// ChaosMode selects which class of faults [Chaos] injects.
type ChaosMode uint8

const (
	// ChaosModeNone injects no faults; Chaos behaves like the wrapped FS.
	ChaosModeNone ChaosMode = iota
	// ChaosModeDiskFull injects ENOSPC on every intercepted call except
	// RemoveAll, reads included.
	ChaosModeDiskFull
	// ChaosModeIOError injects EIO on reads and writes.
	ChaosModeIOError
	// ChaosModePermission injects EACCES on every intercepted call except
	// RemoveAll, reads included.
	ChaosModePermission
)

// ChaosConfig configures [Chaos].
type ChaosConfig struct {
	// Mode selects the fault family to inject.
	Mode ChaosMode
	// Rate is the probability (0..1) that an eligible call fails.
	Rate float64
	// Seed makes fault selection reproducible across a single test run.
	Seed int64
}

// ChaosError wraps a fault injected by [Chaos]. errors.Is/As continue to
// work against the wrapped errno.
type ChaosError struct {
	Op   string
	Path string
	Err  error
}

func (e *ChaosError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *ChaosError) Unwrap() error {
	return e.Err
}

// IsChaosErr reports whether err was injected by a [Chaos] instance.
func IsChaosErr(err error) bool {
	var ce *ChaosError

	return asChaosError(err, &ce)
}

func asChaosError(err error, target **ChaosError) bool {
	for err != nil {
		if ce, ok := err.(*ChaosError); ok { //nolint:errorlint // deliberate single-level unwrap loop
			*target = ce

			return true
		}

		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}

		err = u.Unwrap()
	}

	return false
}

// Chaos wraps an [FS] and randomly injects filesystem faults, used in tests
// to drive the sandbox/worker/runner error paths (best-effort teardown,
// PassBugError capture, sanity-check failures) without depending on actually
// filling a disk.
type Chaos struct {
	fs   FS
	cfg  ChaosConfig
	rand *rand.Rand
}

// NewChaos wraps fsys with fault injection according to cfg.
func NewChaos(fsys FS, cfg ChaosConfig) *Chaos {
	return &Chaos{
		fs:   fsys,
		cfg:  cfg,
		rand: rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec // test-only determinism, not security sensitive
	}
}

func (c *Chaos) trigger() bool {
	if c.cfg.Mode == ChaosModeNone || c.cfg.Rate <= 0 {
		return false
	}

	return c.rand.Float64() < c.cfg.Rate
}

func (c *Chaos) errno() syscall.Errno {
	switch c.cfg.Mode {
	case ChaosModeDiskFull:
		return syscall.ENOSPC
	case ChaosModeIOError:
		return syscall.EIO
	case ChaosModePermission:
		return syscall.EACCES
	case ChaosModeNone:
		fallthrough
	default:
		return syscall.EIO
	}
}

func (c *Chaos) fault(op, path string) error {
	return &ChaosError{Op: op, Path: path, Err: c.errno()}
}

func (c *Chaos) Open(path string) (File, error) {
	if c.trigger() {
		return nil, c.fault("open", path)
	}

	return c.fs.Open(path)
}

func (c *Chaos) Create(path string) (File, error) {
	if c.trigger() {
		return nil, c.fault("create", path)
	}

	return c.fs.Create(path)
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if c.trigger() {
		return nil, c.fault("open", path)
	}

	return c.fs.OpenFile(path, flag, perm)
}

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if c.trigger() {
		return nil, c.fault("read", path)
	}

	return c.fs.ReadFile(path)
}

func (c *Chaos) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if c.trigger() {
		return c.fault("write", path)
	}

	return c.fs.WriteFileAtomic(path, data, perm)
}

func (c *Chaos) CopyFile(src, dst string, perm os.FileMode) error {
	if c.trigger() {
		return c.fault("copy", dst)
	}

	return c.fs.CopyFile(src, dst, perm)
}

func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) {
	if c.trigger() {
		return nil, c.fault("readdir", path)
	}

	return c.fs.ReadDir(path)
}

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	if c.trigger() {
		return c.fault("mkdir", path)
	}

	return c.fs.MkdirAll(path, perm)
}

func (c *Chaos) MkdirTemp(dir, pattern string) (string, error) {
	if c.trigger() {
		return "", c.fault("mkdirtemp", dir)
	}

	return c.fs.MkdirTemp(dir, pattern)
}

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if c.trigger() {
		return nil, c.fault("stat", path)
	}

	return c.fs.Stat(path)
}

func (c *Chaos) Exists(path string) (bool, error) {
	if c.trigger() {
		return false, c.fault("stat", path)
	}

	return c.fs.Exists(path)
}

func (c *Chaos) Remove(path string) error {
	if c.trigger() {
		return c.fault("remove", path)
	}

	return c.fs.Remove(path)
}

// RemoveAll never injects faults: sandbox teardown must stay best-effort
// even under chaos, matching the driver's "swallow cleanup errors" policy.
func (c *Chaos) RemoveAll(path string) error {
	return c.fs.RemoveAll(path)
}

func (c *Chaos) Rename(oldpath, newpath string) error {
	if c.trigger() {
		return c.fault("rename", newpath)
	}

	return c.fs.Rename(oldpath, newpath)
}

// Compile-time interface check.
var _ FS = (*Chaos)(nil)
