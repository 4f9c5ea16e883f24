package chroot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildcell/internal/executor/executortest"
	"buildcell/internal/session"
)

func testSession() *session.Session {
	return &session.Session{
		Arch:      session.Arch64,
		ImagePath: "/build/linux/64/chroot",
		Host:      session.Identity{Username: "bob", UID: 1000, GID: 1000},
	}
}

func TestBuildEnv_AsUser(t *testing.T) {
	t.Setenv("TERM", "xterm-kitty")
	r := NewRunner(executortest.New(), testSession())

	env := r.buildEnv(false, false)

	assert.Equal(t, "/home/bob", env["HOME"])
	assert.Equal(t, "bob", env["USER"])
	assert.Equal(t, "xterm-kitty", env["TERM"])
	assert.Equal(t, "64-bit", env["BUILDCELL_ARCH"])
	assert.Equal(t, chrootPath, env["PATH"])
	_, ok := env["DEBIAN_FRONTEND"]
	assert.False(t, ok)
}

func TestBuildEnv_AsRoot(t *testing.T) {
	r := NewRunner(executortest.New(), testSession())

	env := r.buildEnv(true, false)

	assert.Equal(t, "/root", env["HOME"])
	assert.Equal(t, "root", env["USER"])
}

func TestBuildEnv_ForInstall(t *testing.T) {
	r := NewRunner(executortest.New(), testSession())

	env := r.buildEnv(true, true)
	assert.Equal(t, "noninteractive", env["DEBIAN_FRONTEND"])
}

func TestBuildEnv_DefaultTerm(t *testing.T) {
	t.Setenv("TERM", "")
	r := NewRunner(executortest.New(), testSession())

	env := r.buildEnv(true, false)
	assert.Equal(t, "xterm-256color", env["TERM"])
}

func TestBuildArgv_UserMapping(t *testing.T) {
	r := NewRunner(executortest.New(), testSession())
	env := r.buildEnv(false, false)

	argv := r.buildArgv([]string{"make", "all"}, false, env)
	line := strings.Join(argv, " ")

	assert.Contains(t, line, "sudo chroot --userspec=1000:1000 /build/linux/64/chroot linux64 -- env")
	assert.Contains(t, line, "HOME=/home/bob")
	assert.Contains(t, line, "USER=bob")
	assert.True(t, strings.HasSuffix(line, "make all"))
}

func TestBuildArgv_AsRoot(t *testing.T) {
	r := NewRunner(executortest.New(), testSession())
	env := r.buildEnv(true, false)

	argv := r.buildArgv([]string{"apt-get", "update"}, true, env)
	line := strings.Join(argv, " ")

	assert.NotContains(t, line, "--userspec")
	assert.Contains(t, line, "HOME=/root")
	assert.Contains(t, line, "USER=root")
}

func TestBuildArgv_Personality(t *testing.T) {
	sess := testSession()
	sess.Arch = session.Arch32
	r := NewRunner(executortest.New(), sess)

	argv := r.buildArgv([]string{"true"}, true, r.buildEnv(true, false))
	assert.Contains(t, strings.Join(argv, " "), " linux32 -- ")
}

func TestRun_RefreshesHostArtifacts(t *testing.T) {
	rec := executortest.New()
	r := NewRunner(rec, testSession())

	require.NoError(t, r.Run([]string{"true"}, true, false))

	assert.True(t, rec.Ran("infocmp"))
	assert.True(t, rec.Ran("cp /etc/resolv.conf /build/linux/64/chroot/etc"))
	assert.True(t, rec.Ran("chroot"))
}

func TestWriteInChroot(t *testing.T) {
	rec := executortest.New()
	r := NewRunner(rec, testSession())

	require.NoError(t, r.WriteInChroot("/usr/sbin/policy-rc.d", []byte("#!/bin/sh\nexit 101")))

	argv := rec.Find("tee")
	require.NotNil(t, argv)
	assert.Equal(t, []string{"sudo", "tee", "/build/linux/64/chroot/usr/sbin/policy-rc.d"}, argv)
	assert.Equal(t, "#!/bin/sh\nexit 101", rec.Stdin[len(rec.Stdin)-1])
}
