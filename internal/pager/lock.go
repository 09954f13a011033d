package pager

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrOpenedElsewhere is returned when a file is already held under an
// exclusive lock by another process.
var ErrOpenedElsewhere = errors.New("database file held by another process")

// flock acquires a non-blocking advisory lock on f. Shared for read-only
// opens, exclusive otherwise, mirroring the single-writer model in
// spec.md's concurrency section: only one process may hold the file for
// writing at a time.
func flock(f *os.File, readOnly bool) error {
	how := unix.LOCK_EX
	if readOnly {
		how = unix.LOCK_SH
	}
	err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
		return ErrOpenedElsewhere
	}
	return errors.Wrap(err, "flock failed")
}

// funlock releases the advisory lock held on f.
func funlock(f *os.File) error {
	return errors.Wrap(unix.Flock(int(f.Fd()), unix.LOCK_UN), "funlock failed")
}
