// Package mounts reads the live kernel mount table and orchestrates the
// bind mounts a build session needs inside the container. Idempotence and
// teardown both work off kernel state, never off in-memory bookkeeping, so
// mounts left behind by a crashed session are found and cleaned up by the
// next one.
package mounts

import (
	"fmt"
	"path/filepath"

	"github.com/moby/sys/mountinfo"
)

// Table maps absolute, symlink-resolved mount points to their source path.
type Table map[string]string

// Reader produces a snapshot of the current mount table.
type Reader interface {
	// Mounts reads the live mount table. No caching: every call reflects
	// current kernel state.
	Mounts() (Table, error)
}

// ProcReader reads the calling process's mount table from /proc.
type ProcReader struct{}

func (ProcReader) Mounts() (Table, error) {
	infos, err := mountinfo.GetMounts(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}

	table := make(Table, len(infos))
	for _, info := range infos {
		table[normalize(info.Mountpoint)] = info.Root
	}
	return table, nil
}

// normalize resolves a mount point to an absolute path with symlinks
// evaluated, so destinations compare equal regardless of how they were
// spelled at mount time.
func normalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs
	}
	return resolved
}

// StaticReader is a fixed Table, for tests and dry inspection.
type StaticReader struct {
	Table Table
}

func (s StaticReader) Mounts() (Table, error) {
	out := make(Table, len(s.Table))
	for k, v := range s.Table {
		out[k] = v
	}
	return out, nil
}
