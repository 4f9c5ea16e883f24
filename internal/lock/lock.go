// Package lock provides the cross-process mutual exclusion for build
// sessions. The lock is scoped to (architecture, working tree): two sessions
// may run concurrently for different architectures or different trees, but
// never for the same pair, since they would share kernel mount-table and
// image state.
package lock

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"buildcell/internal/errors"
)

// Lock is a held session lock. Release it when the session ends; the kernel
// also drops it automatically if the process dies.
type Lock struct {
	fd   int
	path string
}

// Acquire takes the non-blocking exclusive lock for (arch, workDir). It
// fails immediately with a lock-contention error when another session holds
// it; it never queues.
func Acquire(arch, workDir string) (*Lock, error) {
	path := lockPath(arch, workDir)

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		if err == unix.EWOULDBLOCK {
			return nil, errors.NewLockError(
				fmt.Sprintf("Another %s-bit build session is already running for this directory", arch),
				fmt.Sprintf("The lock file %s is held by another process", path),
				err,
			)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	return &Lock{fd: fd, path: path}, nil
}

// Release drops the lock. The file is left in place; only the flock matters.
func (l *Lock) Release() error {
	if l.fd < 0 {
		return nil
	}
	err := unix.Close(l.fd)
	l.fd = -1
	return err
}

// lockPath derives a stable per-(arch, tree) file name. The working tree
// path is hashed so arbitrarily deep paths stay within NAME_MAX.
func lockPath(arch, workDir string) string {
	sum := sha256.Sum256([]byte(workDir))
	name := fmt.Sprintf("buildcell-%s-%x.lock", arch, sum[:8])

	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, name)
}
