// Package app sequences a build session: lock, image existence check,
// provision-if-absent, mount orchestration, command execution, and the
// unconditional teardown that keeps on-disk state consistent for the next
// invocation.
package app

import (
	"fmt"
	"log/slog"
	"os"

	"buildcell/internal/chroot"
	"buildcell/internal/executor"
	"buildcell/internal/image"
	"buildcell/internal/lock"
	"buildcell/internal/mounts"
	"buildcell/internal/parser"
	"buildcell/internal/provision"
	"buildcell/internal/session"
	"buildcell/internal/ui"
)

// containerBuilder is the provisioning dependency; tests substitute a fake.
type containerBuilder interface {
	BuildContainer() error
}

// Controller owns one build session's sequencing and teardown ordering.
type Controller struct {
	sess    *session.Session
	store   *image.Store
	runner  *chroot.Runner
	orch    *mounts.Orchestrator
	builder containerBuilder
	console *ui.Console
}

func NewController(sess *session.Session, exec executor.Executor, reader mounts.Reader) *Controller {
	store := image.NewStore(exec, reader, sess.ImagePath, sess.StorePath)
	runner := chroot.NewRunner(exec, sess)
	orch := mounts.NewOrchestrator(exec, reader, mounts.Config{
		ImagePath:   sess.ImagePath,
		SoftwareDir: sess.SoftwareDir,
		SourcesDir:  sess.SourcesDir,
		InstallDir:  sess.InstallDir,
		WorkDir:     sess.WorkDir,
	})
	return &Controller{
		sess:    sess,
		store:   store,
		runner:  runner,
		orch:    orch,
		builder: provision.New(sess, exec, store, runner),
		console: ui.NewConsole(),
	}
}

// Run is the top-level entry point: it acquires the session lock for
// (arch, working directory), loads configuration, constructs the session
// and dispatches the requested operation. The lock is held until the whole
// session, teardown included, is done.
func Run(archStr string, args []string) error {
	arch, err := session.ParseArch(archStr)
	if err != nil {
		return err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to determine working directory: %w", err)
	}

	held, err := lock.Acquire(string(arch), workDir)
	if err != nil {
		return err
	}
	defer held.Release()

	cfg := parser.Default()
	if path, ok := parser.FindConfig(workDir); ok {
		cfg, err = parser.Parse(path)
		if err != nil {
			return err
		}
	}

	sess, err := session.New(arch, cfg, workDir)
	if err != nil {
		return err
	}
	slog.Info("Starting build session", "runId", sess.RunID, "arch", arch, "workDir", workDir)

	ctrl := NewController(sess, executor.NewLocal(nil), mounts.ProcReader{})
	return ctrl.Dispatch(args)
}

// Dispatch routes the session: an explicit teardown, an explicit container
// rebuild, or the default ensure-then-run path. Whatever happens after the
// image is touched, the deferred unmount runs; it is idempotent and
// tolerates the exhaustive teardown having already unmounted the image.
func (c *Controller) Dispatch(args []string) (err error) {
	if len(args) > 0 && args[0] == "shutdown" {
		return c.Teardown()
	}

	defer func() {
		if uerr := c.store.Unmount(); uerr != nil {
			slog.Error("Failed to unmount image during teardown", "error", uerr)
			if err == nil {
				err = uerr
			}
		}
	}()

	if len(args) > 0 && args[0] == "container" {
		return c.builder.BuildContainer()
	}

	if !c.store.Exists() {
		c.console.PrintInfo(fmt.Sprintf("No %s-bit container image found, building one", c.sess.Arch))
		if err := c.builder.BuildContainer(); err != nil {
			return err
		}
	} else if err := c.store.Mount(); err != nil {
		return err
	}

	if len(args) == 0 {
		c.console.PrintSuccess(fmt.Sprintf("%s-bit container is ready", c.sess.Arch))
		return nil
	}
	return c.runCommand(args)
}

// runCommand executes the pass-through command inside the fully mounted
// container as the host user. Mount teardown is unconditional: it runs on
// success, on command failure, and when mounting itself blew up halfway.
func (c *Controller) runCommand(args []string) (err error) {
	// The scratch dir lives under the base dir, not /tmp: /tmp may be a
	// small RAM-backed tmpfs and builds write serious amounts to it.
	tmpDir, err := os.MkdirTemp(c.sess.BaseDir, "tmp-")
	if err != nil {
		return fmt.Errorf("failed to create session temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	c.copyShellConvenience()

	defer func() {
		if uerr := c.orch.UnmountAll(); uerr != nil {
			slog.Error("Mount teardown failed", "error", uerr)
			if err == nil {
				err = uerr
			}
		}
	}()

	if err := c.orch.MountAll(tmpDir); err != nil {
		return err
	}
	return c.runner.Run(args, false, false)
}

// Teardown is the explicit shutdown request: every mount still rooted under
// the container path comes off, then the image itself. Exit status 0 even
// when there was nothing to do.
func (c *Controller) Teardown() error {
	if err := c.orch.UnmountAll(); err != nil {
		return err
	}
	if err := c.store.Unmount(); err != nil {
		return err
	}
	c.console.PrintSuccess(fmt.Sprintf("%s-bit container torn down", c.sess.Arch))
	return nil
}
