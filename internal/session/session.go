// Package session defines the immutable per-invocation configuration every
// other component receives: the chosen architecture, the resolved filesystem
// layout, the parsed configuration, and the host identity the build runs as.
package session

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/google/uuid"

	"buildcell/pkg/buildconf"
)

// Arch selects the 32- or 64-bit build environment. It is set once at
// session start and never changes.
type Arch string

const (
	Arch32 Arch = "32"
	Arch64 Arch = "64"
)

// ParseArch validates an architecture selector from the command line.
func ParseArch(s string) (Arch, error) {
	switch Arch(s) {
	case Arch32, Arch64:
		return Arch(s), nil
	}
	return "", fmt.Errorf("invalid architecture %q: must be 32 or 64", s)
}

// PackageArch is the distro package architecture substituted into the
// base-image URL template.
func (a Arch) PackageArch() string {
	if a == Arch32 {
		return "i386"
	}
	return "amd64"
}

// Personality is the setarch wrapper selecting the kernel personality for
// commands inside the chroot.
func (a Arch) Personality() string {
	return "linux" + string(a)
}

// Label is the human-readable marker exported as BUILDCELL_ARCH.
func (a Arch) Label() string {
	return string(a) + "-bit"
}

// Identity is the invoking host user, mirrored into the container so files
// written by the build are owned correctly outside the chroot.
type Identity struct {
	Username string
	UID      int
	GID      int
}

// Session is the transient state of one invocation. All fields are fixed at
// construction; components receive the session by pointer and never mutate
// it.
type Session struct {
	Arch  Arch
	RunID string

	// WorkDir is the caller's source tree (the current working directory).
	WorkDir string

	// BaseDir holds everything buildcell persists for this tree.
	BaseDir string

	// OutputDir is the per-architecture directory under BaseDir.
	OutputDir string

	// ImagePath is the container mount point, StorePath the image file.
	ImagePath string
	StorePath string

	// SoftwareDir is the per-architecture install prefix mounted at /sw.
	SoftwareDir string

	// SourcesDir is the shared source-tarball cache mounted at /sources.
	SourcesDir string

	// DownloadDir is the architecture-independent base-image download
	// cache.
	DownloadDir string

	// InstallDir is the directory holding the buildcell binary, mounted
	// read-only into the container.
	InstallDir string

	Config *buildconf.Config
	Host   Identity
}

// New resolves the full session layout for arch under workDir, creating the
// persistent directories as needed.
func New(arch Arch, cfg *buildconf.Config, workDir string) (*Session, error) {
	baseDir := cfg.BaseDir
	if baseDir == "" {
		baseDir = "b"
	}
	if !filepath.IsAbs(baseDir) {
		baseDir = filepath.Join(workDir, baseDir)
	}

	sourcesDir := filepath.Join(baseDir, "sources-cache")
	outputDir := filepath.Join(baseDir, "linux", string(arch))
	softwareDir := filepath.Join(outputDir, "sw")
	for _, dir := range []string{sourcesDir, outputDir, softwareDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	// The image path is symlink-resolved once here; every mount destination
	// and mount-table comparison derives from it.
	resolvedOutput, err := filepath.EvalSymlinks(outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", outputDir, err)
	}
	imagePath := filepath.Join(resolvedOutput, "chroot")

	cacheRoot, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("failed to locate cache directory: %w", err)
	}
	downloadDir := filepath.Join(cacheRoot, "buildcell")
	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", downloadDir, err)
	}

	identity, err := hostIdentity()
	if err != nil {
		return nil, err
	}

	installDir, err := executableDir()
	if err != nil {
		return nil, err
	}

	return &Session{
		Arch:        arch,
		RunID:       uuid.New().String(),
		WorkDir:     workDir,
		BaseDir:     baseDir,
		OutputDir:   resolvedOutput,
		ImagePath:   imagePath,
		StorePath:   imagePath + ".img",
		SoftwareDir: softwareDir,
		SourcesDir:  sourcesDir,
		DownloadDir: downloadDir,
		InstallDir:  installDir,
		Config:      cfg,
		Host:        identity,
	}, nil
}

func hostIdentity() (Identity, error) {
	current, err := user.Current()
	if err != nil {
		return Identity{}, fmt.Errorf("failed to resolve invoking user: %w", err)
	}
	return Identity{
		Username: current.Username,
		UID:      os.Geteuid(),
		GID:      os.Getegid(),
	}, nil
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate own executable: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		resolved = exe
	}
	return filepath.Dir(resolved), nil
}
