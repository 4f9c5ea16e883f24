// Package image owns the on-disk loopback container image for one
// architecture: the sparse image file, its mount point, and the transitions
// between absent, present-unmounted and mounted.
package image

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"buildcell/internal/errors"
	"buildcell/internal/executor"
	"buildcell/internal/mounts"
)

// Store manages a single container image. ImagePath is the mount point
// directory, StorePath the image file next to it.
type Store struct {
	exec   executor.Executor
	reader mounts.Reader

	ImagePath string
	StorePath string

	// mounted is a per-process fast path only; the mount table is the
	// source of truth so a fresh process after a crash still sees reality.
	mounted bool
}

func NewStore(exec executor.Executor, reader mounts.Reader, imagePath, storePath string) *Store {
	return &Store{
		exec:      exec,
		reader:    reader,
		ImagePath: imagePath,
		StorePath: storePath,
	}
}

// Exists reports whether the image file is present on disk. A quarantined
// .failed file does not count.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.StorePath)
	return err == nil
}

// Mounted consults the live mount table for the image mount point.
func (s *Store) Mounted() (bool, error) {
	if s.mounted {
		return true, nil
	}
	table, err := s.reader.Mounts()
	if err != nil {
		return false, err
	}
	_, ok := table[s.ImagePath]
	return ok, nil
}

// Create destroys any prior image at this path and lays down a fresh one:
// an empty mount-point directory, a sparse file of sizeBytes, and an ext4
// filesystem on it. The caller has already decided a rebuild is wanted.
func (s *Store) Create(sizeBytes int64) error {
	if _, err := os.Stat(s.ImagePath); err == nil {
		if err := s.exec.Run(executor.Options{Argv: executor.Sudo("rm", "-rf", s.ImagePath)}); err != nil {
			return errors.NewStorageError(
				fmt.Sprintf("Failed to remove stale mount point %s", s.ImagePath),
				"A previous image's mount point could not be deleted", err)
		}
	}
	if _, err := os.Stat(s.StorePath); err == nil {
		if err := os.Remove(s.StorePath); err != nil {
			return errors.NewStorageError(
				fmt.Sprintf("Failed to remove old image file %s", s.StorePath),
				"A previous image file could not be deleted", err)
		}
	}

	if err := os.MkdirAll(s.ImagePath, 0755); err != nil {
		return errors.NewStorageError(
			fmt.Sprintf("Failed to create mount point %s", s.ImagePath), "", err)
	}

	size := strconv.FormatInt(sizeBytes, 10)
	if err := s.exec.Run(executor.Options{Argv: []string{"truncate", "-s", size, s.StorePath}, Echo: true}); err != nil {
		return err
	}
	if err := s.exec.Run(executor.Options{Argv: []string{"mkfs.ext4", "-F", s.StorePath}, Echo: true}); err != nil {
		return err
	}

	slog.Info("Created container image", "path", s.StorePath, "sizeBytes", sizeBytes)
	return nil
}

// Mount binds the image file onto the mount point via a privileged loopback
// mount. Idempotent: a no-op when the image is already mounted, whether by
// this process or a previous one.
func (s *Store) Mount() error {
	mounted, err := s.Mounted()
	if err != nil {
		return err
	}
	if mounted {
		s.mounted = true
		return nil
	}

	if err := s.exec.Run(executor.Options{Argv: executor.Sudo("mount", s.StorePath, s.ImagePath), Echo: true}); err != nil {
		return err
	}
	s.mounted = true
	return nil
}

// Unmount is the idempotent inverse of Mount. It tolerates being called
// after failures, including when teardown already unmounted the image as
// part of the exhaustive scan.
func (s *Store) Unmount() error {
	s.mounted = false
	table, err := s.reader.Mounts()
	if err != nil {
		return err
	}
	if _, ok := table[s.ImagePath]; !ok {
		return nil
	}
	return s.exec.Run(executor.Options{Argv: executor.Sudo("umount", s.ImagePath), Echo: true})
}

// Quarantine renames a half-built image file to a .failed suffix, replacing
// any earlier quarantined file, so the next existence check reports absent
// and triggers a fresh rebuild instead of reusing a corrupt image.
func (s *Store) Quarantine() error {
	failedPath := s.StorePath + ".failed"
	if _, err := os.Stat(failedPath); err == nil {
		if err := os.Remove(failedPath); err != nil {
			return errors.NewStorageError(
				fmt.Sprintf("Failed to remove earlier quarantined image %s", failedPath), "", err)
		}
	}
	if err := os.Rename(s.StorePath, failedPath); err != nil {
		return errors.NewStorageError(
			fmt.Sprintf("Failed to quarantine broken image %s", s.StorePath), "", err)
	}
	slog.Warn("Quarantined broken container image", "from", s.StorePath, "to", failedPath)
	return nil
}
