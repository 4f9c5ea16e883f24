// Package provision builds a fully usable container image from nothing: it
// downloads a base root filesystem, formats and populates the loopback
// image, and runs the in-chroot package installation sequence.
package provision

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"buildcell/internal/chroot"
	"buildcell/internal/errors"
	"buildcell/internal/executor"
	"buildcell/internal/image"
	"buildcell/internal/session"
)

// DefaultBaseImage is used when the configuration does not name one. The
// {arch} token is substituted with the package architecture.
const DefaultBaseImage = "https://partner-images.canonical.com/core/" +
	"xenial/current/ubuntu-xenial-core-cloudimg-{arch}-root.tar.gz"

// imageSizeBytes is the sparse image allocation. 2 GiB holds the base
// system plus a typical dependency set.
const imageSizeBytes int64 = 2 << 30

// defaultUsersGID is the distro's stock "users" group; when the invoking
// user's gid already is it, no group needs creating inside the chroot.
const defaultUsersGID = 100

// Provisioner builds the container image for one session.
type Provisioner struct {
	sess   *session.Session
	exec   executor.Executor
	store  *image.Store
	runner *chroot.Runner
}

func New(sess *session.Session, exec executor.Executor, store *image.Store, runner *chroot.Runner) *Provisioner {
	return &Provisioner{sess: sess, exec: exec, store: store, runner: runner}
}

// BuildContainer runs the full provisioning sequence. On any failure the
// image file is quarantined under a .failed suffix before the error is
// returned, so the broken artifact can never be mistaken for a valid image
// by a later run.
func (p *Provisioner) BuildContainer() error {
	if err := p.build(); err != nil {
		if p.store.Exists() {
			if qerr := p.store.Quarantine(); qerr != nil {
				slog.Error("Failed to quarantine broken image", "error", qerr)
			}
		}
		return errors.NewProvisionError("Container build failed", err.Error(), err)
	}
	slog.Info("Container build completed", "arch", p.sess.Arch, "image", p.sess.StorePath)
	return nil
}

func (p *Provisioner) build() error {
	urlTemplate := p.sess.Config.Image
	if urlTemplate == "" {
		urlTemplate = DefaultBaseImage
	}
	url := strings.ReplaceAll(urlTemplate, "{arch}", p.sess.Arch.PackageArch())

	archive, err := p.cachedDownload(url)
	if err != nil {
		return err
	}

	if err := p.store.Create(imageSizeBytes); err != nil {
		return err
	}
	if err := p.store.Mount(); err != nil {
		return err
	}

	if err := p.exec.Run(executor.Options{
		Argv: executor.Sudo("tar", "-C", p.sess.ImagePath, "-xpf", archive),
	}); err != nil {
		return err
	}

	if err := p.createBuildIdentity(); err != nil {
		return err
	}
	if err := p.disableServiceStart(); err != nil {
		return err
	}

	// Translation downloads only slow down every apt-get update.
	if err := p.runner.WriteInChroot("/etc/apt/apt.conf.d/chroot-no-languages",
		[]byte(`Acquire::Languages "none";`)); err != nil {
		return err
	}

	return p.withEntropyMounts(func() error {
		for _, cmd := range p.installCommands(imageName(url)) {
			if err := p.runner.Run(cmd, true, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// createBuildIdentity adds a group/user inside the chroot whose numeric IDs
// match the invoking host user, so files written by the build are owned
// correctly outside the chroot.
func (p *Provisioner) createBuildIdentity() error {
	host := p.sess.Host
	if host.GID != defaultUsersGID {
		if err := p.runner.Run([]string{
			"groupadd", "-f", "-g", fmt.Sprint(host.GID), "crusers",
		}, true, false); err != nil {
			return err
		}
	}
	return p.runner.Run([]string{
		"useradd",
		"--home-dir=/home/" + host.Username,
		"--create-home",
		fmt.Sprintf("--uid=%d", host.UID),
		fmt.Sprintf("--gid=%d", host.GID),
		host.Username,
	}, true, false)
}

// disableServiceStart stubs out the policy layer and init so package
// installation inside the chroot never spawns daemons.
func (p *Provisioner) disableServiceStart() error {
	if err := p.runner.WriteInChroot("/usr/sbin/policy-rc.d", []byte("#!/bin/sh\nexit 101")); err != nil {
		return err
	}
	steps := [][]string{
		{"chmod", "+x", "/usr/sbin/policy-rc.d"},
		{"dpkg-divert", "--local", "--rename", "--add", "/sbin/initctl"},
		{"cp", "-a", "/usr/sbin/policy-rc.d", "/sbin/initctl"},
		{"sed", "-i", "s/^exit.*/exit 0/", "/sbin/initctl"},
	}
	for _, cmd := range steps {
		if err := p.runner.Run(cmd, true, false); err != nil {
			return err
		}
	}
	return nil
}

// withEntropyMounts binds the host's entropy devices into the container for
// the duration of fn. Some package installers block on entropy during key
// generation without them. Teardown happens regardless of fn's outcome.
func (p *Provisioner) withEntropyMounts(fn func() error) (err error) {
	var mounted []string
	defer func() {
		for _, dest := range mounted {
			if uerr := p.exec.Run(executor.Options{Argv: executor.Sudo("umount", "-l", dest)}); uerr != nil {
				slog.Warn("Failed to unmount entropy device", "path", dest, "error", uerr)
			}
		}
	}()

	for _, dev := range []string{"random", "urandom"} {
		dest := filepath.Join(p.sess.ImagePath, "dev", dev)
		if err := p.exec.Run(executor.Options{Argv: executor.Sudo("touch", dest), Echo: true}); err != nil {
			return err
		}
		if err := p.exec.Run(executor.Options{Argv: executor.Sudo("mount", "--bind", "/dev/"+dev, dest), Echo: true}); err != nil {
			return err
		}
		mounted = append(mounted, dest)
	}

	return fn()
}

// installCommands is the ordered in-chroot installation sequence: timezone
// pre-seeding, index refresh, the base toolchain, image-specific extras, the
// project's declared dependencies, then cleanup.
func (p *Provisioner) installCommands(imageName string) [][]string {
	cmds := [][]string{
		{"sh", "-c", `echo 'tzdata tzdata/Areas select Asia' | debconf-set-selections`},
		{"sh", "-c", `echo 'tzdata tzdata/Zones/Asia select Kolkata' | debconf-set-selections`},
		{"debconf-show", "tzdata"},
		{"apt-get", "update"},
		// tzdata ignores debconf in some base images; feeding the dialog
		// answers on stdin is the only reliable non-interactive install.
		{"sh", "-c", `echo "6\n44" | apt-get install -y tzdata`},
		{"apt-get", "install", "-y",
			"build-essential", "software-properties-common", "nasm", "chrpath",
			"zsh", "git", "uuid-dev", "libmount-dev", "apt-transport-https",
			"dh-autoreconf", "gperf"},
	}

	cmds = append(cmds, extraCommands(imageName)...)
	cmds = append(cmds,
		[]string{"python3", "-m", "pip", "install", "ninja"},
		[]string{"python3", "-m", "pip", "install", "meson"},
	)

	if len(p.sess.Config.Deps) > 0 {
		cmds = append(cmds, append([]string{"apt-get", "install", "-y"}, p.sess.Config.Deps...))
	}

	return append(cmds,
		[]string{"apt-get", "clean"},
		[]string{"chsh", "-s", "/bin/zsh", p.sess.Host.Username},
	)
}

// extraCommands handles the split between old and new base images: xenial
// and bionic ship interpreters and build systems too old to use, so they
// get backports; newer images install the stock packages.
func extraCommands(imageName string) [][]string {
	if imageName == "xenial" || imageName == "bionic" {
		return append(modernPythonCommands(), modernCMakeCommands(imageName)...)
	}
	return [][]string{
		{"apt-get", "install", "-y", "python-is-python3", "python3-pip"},
		{"apt-get", "install", "-y", "cmake"},
	}
}

func modernPythonCommands() [][]string {
	return [][]string{
		{"add-apt-repository", "ppa:deadsnakes/ppa", "-y"},
		{"apt-get", "update"},
		{"apt-get", "install", "-y", "python3.9", "python3.9-venv"},
		{"sh", "-c", "ln -sf `which python3.9` `which python3`"},
		{"python3", "-m", "ensurepip", "--upgrade", "--default-pip"},
	}
}

func modernCMakeCommands(imageName string) [][]string {
	const keyring = "/usr/share/keyrings/kitware-archive-keyring.gpg"
	return [][]string{
		{"sh", "-c", "curl https://apt.kitware.com/keys/kitware-archive-latest.asc |" +
			" gpg --dearmor - > " + keyring},
		{"sh", "-c", fmt.Sprintf("echo 'deb [signed-by=%s]'"+
			" https://apt.kitware.com/ubuntu/ %s main"+
			" > /etc/apt/sources.list.d/kitware.list", keyring, imageName)},
		{"apt-get", "update"},
		{"rm", keyring},
		{"apt-get", "install", "-y", "kitware-archive-keyring"},
		{"apt-get", "install", "-y", "cmake"},
	}
}

// imageName extracts the distro release name from the base-image URL, e.g.
// "xenial" from ".../ubuntu-xenial-core-cloudimg-amd64-root.tar.gz".
func imageName(url string) string {
	base := url[strings.LastIndex(url, "/")+1:]
	parts := strings.Split(base, "-")
	if len(parts) < 2 {
		return base
	}
	return parts[1]
}
