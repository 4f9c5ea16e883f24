package mounts

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"buildcell/internal/executor"
)

// Entry is one bind mount the session wants: a host source, a destination
// relative to the container root, and whether the mount is read-only. The
// destination is resolved against the image mount point only at apply time.
type Entry struct {
	Source   string
	Dest     string
	ReadOnly bool
}

// Config carries the session paths the orchestrator mounts into the
// container.
type Config struct {
	// ImagePath is the container image mount point; every destination is
	// resolved under it.
	ImagePath string

	// SoftwareDir is the per-architecture install prefix, mounted at /sw.
	SoftwareDir string

	// SourcesDir is the shared source-tarball cache, mounted at /sources.
	SourcesDir string

	// InstallDir is buildcell's own installation directory, mounted
	// read-only at /buildcell.
	InstallDir string

	// WorkDir is the caller's source tree, mounted read-only at /src.
	WorkDir string
}

// Orchestrator applies and tears down the full set of auxiliary mounts for
// one build session.
type Orchestrator struct {
	exec   executor.Executor
	reader Reader
	cfg    Config
}

func NewOrchestrator(exec executor.Executor, reader Reader, cfg Config) *Orchestrator {
	return &Orchestrator{exec: exec, reader: reader, cfg: cfg}
}

// entries computes the declarative mount list for a session. tmpDir is the
// session's scratch directory, mounted over the container's /tmp.
func (o *Orchestrator) entries(tmpDir string) []Entry {
	return []Entry{
		{Source: tmpDir, Dest: "/tmp"},
		{Source: o.cfg.SoftwareDir, Dest: "/sw"},
		{Source: o.cfg.WorkDir, Dest: "/src", ReadOnly: true},
		{Source: o.cfg.SourcesDir, Dest: "/sources"},
		{Source: o.cfg.InstallDir, Dest: "/buildcell", ReadOnly: true},
		{Source: "/dev", Dest: "/dev"},
	}
}

// resolve turns a container-relative destination into the host path under
// the image mount point.
func (o *Orchestrator) resolve(dest string) string {
	return filepath.Join(o.cfg.ImagePath, strings.TrimPrefix(dest, "/"))
}

// MountAll applies every mount the session needs. Safe to call repeatedly:
// anything already present in the live mount table is skipped.
func (o *Orchestrator) MountAll(tmpDir string) error {
	current, err := o.reader.Mounts()
	if err != nil {
		return err
	}

	for _, entry := range o.entries(tmpDir) {
		dest := o.resolve(entry.Dest)
		if _, mounted := current[dest]; mounted {
			continue
		}
		if err := o.exec.Run(executor.Options{Argv: executor.Sudo("mkdir", "-p", dest)}); err != nil {
			return err
		}
		if err := o.exec.Run(executor.Options{Argv: executor.Sudo("mount", "--bind", entry.Source, dest)}); err != nil {
			return err
		}
		if entry.ReadOnly {
			if err := o.exec.Run(executor.Options{Argv: executor.Sudo("mount", "-o", "remount,ro,bind", dest)}); err != nil {
				return err
			}
		}
	}

	procDest := o.resolve("/proc")
	if _, mounted := current[procDest]; !mounted {
		if err := o.exec.Run(executor.Options{Argv: executor.Sudo("mount", "-t", "proc", "proc", procDest)}); err != nil {
			return err
		}
	}

	sysDest := o.resolve("/sys")
	if _, mounted := current[sysDest]; !mounted {
		if err := o.exec.Run(executor.Options{Argv: executor.Sudo("mount", "-t", "sysfs", "sys", sysDest)}); err != nil {
			return err
		}
	}

	// /dev/shm gets its own writable bind over the one inherited from the
	// /dev bind; the permission fix-up has to land on the new mount, so it
	// runs after.
	shmDest := o.resolve("/dev/shm")
	if _, mounted := current[shmDest]; !mounted {
		if err := o.exec.Run(executor.Options{Argv: executor.Sudo("mount", "--bind", "/dev/shm", shmDest)}); err != nil {
			return err
		}
		if err := o.exec.Run(executor.Options{Argv: executor.Sudo("chmod", "a+w", shmDest)}); err != nil {
			return err
		}
	}

	return nil
}

// protectedPrefix is the subtree UnmountAll never touches: mounts below the
// container's /src alias belong to the caller's source tree, not to us.
func (o *Orchestrator) protectedPrefix() string {
	return o.resolve("/src") + string(filepath.Separator)
}

// UnmountAll tears down every mount still rooted under the image mount
// point, including ones left behind by a crashed prior session. Longest
// paths go first so nested mounts come off before their parents; the scan
// repeats until a pass finds nothing.
func (o *Orchestrator) UnmountAll() error {
	protected := o.protectedPrefix()

	for {
		current, err := o.reader.Mounts()
		if err != nil {
			return err
		}

		target := ""
		for _, mp := range sortedByLengthDesc(current) {
			if !underPath(mp, o.cfg.ImagePath) {
				continue
			}
			if strings.HasPrefix(mp, protected) {
				continue
			}
			target = mp
			break
		}
		if target == "" {
			return nil
		}

		if err := o.exec.Run(executor.Options{Argv: executor.Sudo("umount", "-l", target)}); err != nil {
			return fmt.Errorf("failed to unmount %s: %w", target, err)
		}
	}
}

// underPath reports whether mp is root itself or lies beneath it.
func underPath(mp, root string) bool {
	return mp == root || strings.HasPrefix(mp, root+string(filepath.Separator))
}

func sortedByLengthDesc(table Table) []string {
	paths := make([]string, 0, len(table))
	for mp := range table {
		paths = append(paths, mp)
	}
	sort.Slice(paths, func(i, j int) bool {
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) > len(paths[j])
		}
		return paths[i] < paths[j]
	})
	return paths
}
