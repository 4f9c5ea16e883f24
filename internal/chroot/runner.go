// Package chroot executes commands inside the mounted container image with
// a minimal explicit environment and the host identity mapped in.
package chroot

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"buildcell/internal/executor"
	"buildcell/internal/session"
)

// chrootPath is the fixed PATH inside the container.
const chrootPath = "/sbin:/usr/sbin:/usr/local/bin:/bin:/usr/bin"

// Runner executes commands inside the container rooted at the session's
// image mount point. The image must be mounted before any Run call.
type Runner struct {
	exec executor.Executor
	sess *session.Session
}

func NewRunner(exec executor.Executor, sess *session.Session) *Runner {
	return &Runner{exec: exec, sess: sess}
}

// Run executes cmd inside the chroot and waits for it. asRoot selects the
// in-container identity; forInstall marks package-manager invocations that
// must run non-interactively. A non-zero exit surfaces as a typed command
// error carrying the child's exit code.
//
// Two host artifacts are refreshed before every invocation: the terminal
// capability entry for the host's current TERM, and DNS resolver
// configuration. Both copies are cheap and keep the container in sync with
// the terminal and network the user actually has right now.
func (r *Runner) Run(cmd []string, asRoot, forInstall bool) error {
	if err := r.copyTerminfo(); err != nil {
		return err
	}
	if err := r.copyResolvConf(); err != nil {
		return err
	}

	env := r.buildEnv(asRoot, forInstall)
	return r.exec.Run(executor.Options{
		Argv: r.buildArgv(cmd, asRoot, env),
		Env:  envSlice(env),
		Echo: true,
	})
}

// buildEnv constructs the minimal explicit environment for the in-chroot
// command. Nothing from the host environment leaks in except TERM.
func (r *Runner) buildEnv(asRoot, forInstall bool) map[string]string {
	term := os.Getenv("TERM")
	if term == "" {
		term = "xterm-256color"
	}

	env := map[string]string{
		"PATH":           chrootPath,
		"HOME":           "/root",
		"USER":           "root",
		"TERM":           term,
		"BUILDCELL_ARCH": r.sess.Arch.Label(),
	}
	if !asRoot {
		env["HOME"] = "/home/" + r.sess.Host.Username
		env["USER"] = r.sess.Host.Username
	}
	if forInstall {
		env["DEBIAN_FRONTEND"] = "noninteractive"
	}
	return env
}

// buildArgv assembles the privileged chroot invocation: sudo chroot with an
// optional uid:gid userspec, the architecture personality wrapper, then an
// env prefix carrying the explicit environment.
func (r *Runner) buildArgv(cmd []string, asRoot bool, env map[string]string) []string {
	argv := executor.Sudo("chroot")
	if !asRoot {
		argv = append(argv, fmt.Sprintf("--userspec=%d:%d", r.sess.Host.UID, r.sess.Host.GID))
	}
	argv = append(argv, r.sess.ImagePath, r.sess.Arch.Personality(), "--", "env")

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		argv = append(argv, k+"="+env[k])
	}

	return append(argv, cmd...)
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// WriteInChroot writes data to a file inside the container as root, via a
// privileged tee with the payload on stdin.
func (r *Runner) WriteInChroot(path string, data []byte) error {
	dest := filepath.Join(r.sess.ImagePath, strings.TrimPrefix(path, "/"))
	return r.exec.Run(executor.Options{
		Argv:  executor.Sudo("tee", dest),
		Stdin: bytes.NewReader(data),
	})
}

// copyTerminfo mirrors the host's terminfo entry for the current terminal
// into the container, so curses programs inside the chroot render
// correctly. The entry's path comes from infocmp's header line.
func (r *Runner) copyTerminfo() error {
	out, err := r.exec.Output(executor.Options{Argv: []string{"infocmp"}})
	if err != nil {
		return err
	}

	lines := strings.SplitN(string(out), "\n", 2)
	_, after, _ := strings.Cut(lines[0], ":")
	path := strings.TrimSpace(after)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	// Terminfo entries live in single-character bucket directories; keep
	// the same bucket inside the container.
	bucket := filepath.Base(filepath.Dir(path))
	dest := filepath.Join(r.sess.ImagePath, "usr/share/terminfo", bucket)
	if err := r.exec.Run(executor.Options{Argv: executor.Sudo("mkdir", "-p", dest)}); err != nil {
		return err
	}
	return r.exec.Run(executor.Options{Argv: executor.Sudo("cp", "-a", path, dest)})
}

func (r *Runner) copyResolvConf() error {
	dest := filepath.Join(r.sess.ImagePath, "etc")
	return r.exec.Run(executor.Options{Argv: executor.Sudo("cp", "/etc/resolv.conf", dest)})
}
