package app

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// copyShellConvenience carries the host's ~/.zshrc into the build user's
// home inside the image, or creates an empty one so zsh skips its first-run
// wizard. The home dir is owned by the matching uid, so no privilege is
// needed. Failures only cost shell comfort and are logged, not fatal.
func (c *Controller) copyShellConvenience() {
	home, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("Cannot resolve host home directory", "error", err)
		return
	}
	dest := filepath.Join(c.sess.ImagePath, "home", c.sess.Host.Username, ".zshrc")
	if err := copyOrTouch(filepath.Join(home, ".zshrc"), dest); err != nil {
		slog.Warn("Failed to set up container .zshrc", "error", err)
	}
}

func copyOrTouch(src, dest string) error {
	in, err := os.Open(src)
	if os.IsNotExist(err) {
		f, cerr := os.Create(dest)
		if cerr != nil {
			return cerr
		}
		return f.Close()
	}
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
