// Package sandbox manages per-attempt scratch directories.
//
// A Sandbox holds a copy of the canonical test case (by basename) and
// copies of every auxiliary file, so a [github.com/reduceit/reduce/internal/worker]
// worker and the interestingness test script it runs see stable,
// private paths that no other worker can observe or mutate.
package sandbox

import (
	"os"
	"path/filepath"

	"github.com/reduceit/reduce/internal/fs"
)

const filePerm = 0o644

// Sandbox is a uniquely-named directory containing a copy of the canonical
// test case and every auxiliary file. It owns no resources outside itself.
type Sandbox struct {
	Dir          string
	testCaseName string // empty if the sandbox was created without a test case
	auxNames     []string
	baseSize     int64
}

// New creates a sandbox under root, copying testCasePath (by basename, if
// non-empty) and every path in auxFiles into it.
func New(fsys fs.FS, root, testCasePath string, auxFiles []string) (*Sandbox, error) {
	dir, err := fsys.MkdirTemp(root, "greduce-")
	if err != nil {
		return nil, err
	}

	sb := &Sandbox{Dir: dir}

	if testCasePath != "" {
		sb.testCaseName = filepath.Base(testCasePath)

		info, statErr := fsys.Stat(testCasePath)
		if statErr != nil {
			_ = fsys.RemoveAll(dir)

			return nil, statErr
		}

		sb.baseSize = info.Size()

		if copyErr := fsys.CopyFile(testCasePath, filepath.Join(dir, sb.testCaseName), filePerm); copyErr != nil {
			_ = fsys.RemoveAll(dir)

			return nil, copyErr
		}
	}

	for _, aux := range auxFiles {
		name := filepath.Base(aux)
		sb.auxNames = append(sb.auxNames, name)

		if copyErr := fsys.CopyFile(aux, filepath.Join(dir, name), filePerm); copyErr != nil {
			_ = fsys.RemoveAll(dir)

			return nil, copyErr
		}
	}

	return sb, nil
}

// TestCasePath resolves the sandboxed copy of the canonical test case.
// Returns "" if the sandbox was created without a test case.
func (s *Sandbox) TestCasePath() string {
	if s.testCaseName == "" {
		return ""
	}

	return filepath.Join(s.Dir, s.testCaseName)
}

// AuxFilePaths resolves the sandboxed copies of every auxiliary file.
func (s *Sandbox) AuxFilePaths() []string {
	paths := make([]string, len(s.auxNames))
	for i, name := range s.auxNames {
		paths[i] = filepath.Join(s.Dir, name)
	}

	return paths
}

// BaseSize is the canonical test case's size at the moment this sandbox was
// created, used by the arbiter's max_improvement check.
func (s *Sandbox) BaseSize() int64 {
	return s.baseSize
}

// FinalSize stats the sandboxed test case file. Returns 0, err if it cannot
// be stat'd (e.g. a pass removed it entirely — treated as a very large
// improvement, not an error, by the caller).
func (s *Sandbox) FinalSize(fsys fs.FS) (int64, error) {
	info, err := fsys.Stat(s.TestCasePath())
	if err != nil {
		return 0, err
	}

	return info.Size(), nil
}

// Release destroys the sandbox. Best-effort: filesystem errors during
// teardown are swallowed, matching the driver's cleanup policy.
func (s *Sandbox) Release(fsys fs.FS) {
	_ = fsys.RemoveAll(s.Dir)
}

// Dump copies the sandboxed test case, every auxiliary file, and the test
// script into dst. Used to preserve a sandbox as a crash directory;
// "also interesting" captures use Move instead.
func (s *Sandbox) Dump(fsys fs.FS, testScript, dst string) error {
	if err := fsys.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	if s.testCaseName != "" {
		if err := fsys.CopyFile(s.TestCasePath(), filepath.Join(dst, s.testCaseName), filePerm); err != nil {
			return err
		}
	}

	for _, path := range s.AuxFilePaths() {
		if err := fsys.CopyFile(path, filepath.Join(dst, filepath.Base(path)), filePerm); err != nil {
			return err
		}
	}

	if testScript != "" {
		if err := fsys.CopyFile(testScript, filepath.Join(dst, filepath.Base(testScript)), 0o755); err != nil { //nolint:mnd // executable perm
			return err
		}
	}

	return nil
}

// Move relocates the sandbox directory itself to dst (used for
// "also-interesting" captures, which don't need a copy of the test script).
func (s *Sandbox) Move(fsys fs.FS, dst string) error {
	return fsys.Rename(s.Dir, dst)
}

// EnsureParent creates the parent directory of path, with any missing
// ancestors.
func EnsureParent(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
