package archive

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
)

// rename is swapped in tests to simulate a cross-device move.
var rename = os.Rename

// IOError reports a failed file-system step while staging or committing an
// archive.
type IOError struct {
	// Op is the failed operation ("copy", "replace", "remove", "stat").
	Op string

	// Path is the file the operation was acting on.
	Path string

	// Err is the underlying error.
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsIOError reports whether err is, or wraps, an *IOError.
func IsIOError(err error) bool {
	var ioe *IOError
	return errors.As(err, &ioe)
}

// Exists reports whether a regular file exists at path.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &IOError{Op: "stat", Path: path, Err: err}
	}
	return info.Mode().IsRegular(), nil
}

// Copy writes a full copy of src to dst, syncing it before returning.
// An existing dst is truncated.
func Copy(src, dst string) error {
	if err := copyFile(src, dst); err != nil {
		return &IOError{Op: "copy", Path: src, Err: err}
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// Replace atomically moves src over dst. Readers of dst observe either the
// old file or the new one, never a partial write.
//
// When src and dst live on different file systems, src is first copied to a
// hidden sibling of dst and that sibling is renamed into place; src is
// removed afterwards.
func Replace(src, dst string) error {
	err := rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return &IOError{Op: "replace", Path: dst, Err: err}
	}

	sibling := filepath.Join(filepath.Dir(dst), "."+filepath.Base(src)+".partial")
	if err := copyFile(src, sibling); err != nil {
		_ = os.Remove(sibling)
		return &IOError{Op: "replace", Path: dst, Err: err}
	}
	if err := rename(sibling, dst); err != nil {
		_ = os.Remove(sibling)
		return &IOError{Op: "replace", Path: dst, Err: err}
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("temp artifact left behind", "path", src, "error", err)
	}
	return nil
}

// Cleanup removes every path, ignoring files that no longer exist.
// Failures are logged and returned joined; callers treat cleanup as
// best-effort and only log the result.
func Cleanup(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("temp artifact cleanup failed", "path", p, "error", err)
			errs = append(errs, &IOError{Op: "remove", Path: p, Err: err})
		}
	}
	return errors.Join(errs...)
}
