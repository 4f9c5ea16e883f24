package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildcell/internal/executor/executortest"
	"buildcell/internal/mounts"
	"buildcell/internal/parser"
	"buildcell/internal/session"
)

type fakeBuilder struct {
	calls int
	err   error

	// createImage lays down the image file on build, mimicking a
	// successful provisioning run.
	createImage string
}

func (f *fakeBuilder) BuildContainer() error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.createImage != "" {
		if err := os.WriteFile(f.createImage, nil, 0644); err != nil {
			return err
		}
	}
	return nil
}

func testController(t *testing.T) (*Controller, *executortest.Recorder, *fakeBuilder) {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	sess, err := session.New(session.Arch64, parser.Default(), t.TempDir())
	require.NoError(t, err)

	rec := executortest.New()
	ctrl := NewController(sess, rec, mounts.StaticReader{})
	fb := &fakeBuilder{createImage: sess.StorePath}
	ctrl.builder = fb
	return ctrl, rec, fb
}

func TestDispatchBuildsMissingContainer(t *testing.T) {
	ctrl, _, fb := testController(t)

	err := ctrl.Dispatch(nil)

	require.NoError(t, err)
	assert.Equal(t, 1, fb.calls)
}

func TestDispatchMountsExistingContainer(t *testing.T) {
	ctrl, rec, fb := testController(t)
	require.NoError(t, os.WriteFile(ctrl.sess.StorePath, nil, 0644))

	err := ctrl.Dispatch(nil)

	require.NoError(t, err)
	assert.Equal(t, 0, fb.calls)
	assert.Equal(t,
		[]string{"sudo", "mount", ctrl.sess.StorePath, ctrl.sess.ImagePath},
		rec.Find("mount"))
}

func TestDispatchContainerAlwaysRebuilds(t *testing.T) {
	ctrl, _, fb := testController(t)
	require.NoError(t, os.WriteFile(ctrl.sess.StorePath, nil, 0644))

	err := ctrl.Dispatch([]string{"container"})

	require.NoError(t, err)
	assert.Equal(t, 1, fb.calls)
}

func TestDispatchContainerPropagatesBuildError(t *testing.T) {
	ctrl, _, fb := testController(t)
	fb.err = assert.AnError

	err := ctrl.Dispatch([]string{"container"})

	require.ErrorIs(t, err, assert.AnError)
}

func TestDispatchRunsCommandInsideContainer(t *testing.T) {
	ctrl, rec, _ := testController(t)
	require.NoError(t, os.WriteFile(ctrl.sess.StorePath, nil, 0644))

	err := ctrl.Dispatch([]string{"make", "all"})

	require.NoError(t, err)
	chrootCmd := rec.Find("sudo chroot")
	require.NotNil(t, chrootCmd)
	assert.Equal(t, []string{"make", "all"}, chrootCmd[len(chrootCmd)-2:])
	assert.Contains(t, chrootCmd, "linux64")

	// The session's bind mounts were applied before the command ran.
	assert.NotNil(t, rec.Find("mount --bind "+ctrl.sess.WorkDir))
}

func TestDispatchRunCleansUpTempDir(t *testing.T) {
	ctrl, _, _ := testController(t)
	require.NoError(t, os.WriteFile(ctrl.sess.StorePath, nil, 0644))

	require.NoError(t, ctrl.Dispatch([]string{"true"}))

	entries, err := os.ReadDir(ctrl.sess.BaseDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "tmp-")
	}
}

func TestDispatchRunPropagatesCommandFailure(t *testing.T) {
	ctrl, rec, _ := testController(t)
	require.NoError(t, os.WriteFile(ctrl.sess.StorePath, nil, 0644))
	rec.FailPattern = "sudo chroot"
	rec.FailExitCode = 7

	err := ctrl.Dispatch([]string{"make"})

	require.Error(t, err)
}

func TestTeardownWithNothingMounted(t *testing.T) {
	ctrl, rec, _ := testController(t)

	err := ctrl.Dispatch([]string{"shutdown"})

	require.NoError(t, err)
	assert.Empty(t, rec.Commands)
}

func TestTeardownUnmountsMountedImage(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	sess, err := session.New(session.Arch64, parser.Default(), t.TempDir())
	require.NoError(t, err)

	rec := executortest.New()
	reader := &drainingReader{table: mounts.Table{sess.ImagePath: "/dev/loop0"}, rec: rec}
	ctrl := NewController(sess, rec, reader)

	err = ctrl.Teardown()

	require.NoError(t, err)
	assert.Equal(t,
		[]string{"sudo", "umount", "-l", sess.ImagePath},
		rec.Find("umount"))
}

// drainingReader reflects recorded umount commands back into its table, the
// way the live mount table would, so teardown loops terminate.
type drainingReader struct {
	table mounts.Table
	rec   *executortest.Recorder
}

func (d *drainingReader) Mounts() (mounts.Table, error) {
	out := make(mounts.Table, len(d.table))
	for k, v := range d.table {
		out[k] = v
	}
	for _, argv := range d.rec.Commands {
		if len(argv) >= 3 && argv[1] == "umount" {
			delete(out, argv[len(argv)-1])
		}
	}
	return out, nil
}

func TestCopyShellConvenienceCreatesEmptyFallback(t *testing.T) {
	ctrl, _, _ := testController(t)
	t.Setenv("HOME", t.TempDir())
	homeDir := filepath.Join(ctrl.sess.ImagePath, "home", ctrl.sess.Host.Username)
	require.NoError(t, os.MkdirAll(homeDir, 0755))

	ctrl.copyShellConvenience()

	info, err := os.Stat(filepath.Join(homeDir, ".zshrc"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestCopyShellConvenienceCopiesHostFile(t *testing.T) {
	ctrl, _, _ := testController(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, ".zshrc"), []byte("alias ll='ls -l'\n"), 0644))
	homeDir := filepath.Join(ctrl.sess.ImagePath, "home", ctrl.sess.Host.Username)
	require.NoError(t, os.MkdirAll(homeDir, 0755))

	ctrl.copyShellConvenience()

	data, err := os.ReadFile(filepath.Join(homeDir, ".zshrc"))
	require.NoError(t, err)
	assert.Equal(t, "alias ll='ls -l'\n", string(data))
}
