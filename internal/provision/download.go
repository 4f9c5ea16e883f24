package provision

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"buildcell/internal/errors"
)

// cachedDownload fetches rawURL into the shared download cache, keyed by
// file name, and returns the local path. Already-cached archives are reused
// without touching the network.
func (p *Provisioner) cachedDownload(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.NewConfigError(
			fmt.Sprintf("Invalid base-image URL %q", rawURL),
			err.Error(), "Fix the image entry in buildcell.yaml", err)
	}

	local := filepath.Join(p.sess.DownloadDir, path.Base(parsed.Path))
	if _, err := os.Stat(local); err == nil {
		slog.Info("Base image already cached", "path", local)
		return local, nil
	}

	slog.Info("Downloading base image", "url", rawURL)
	fmt.Println("Downloading", rawURL, "...")

	resp, err := http.Get(rawURL)
	if err != nil {
		return "", errors.NewNetworkError(
			fmt.Sprintf("Failed to download base image from %s", rawURL), "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.NewNetworkError(
			fmt.Sprintf("Failed to download base image from %s", rawURL),
			fmt.Sprintf("Server responded with %s", resp.Status), nil)
	}

	// Download to a temp name first so a torn transfer never poses as a
	// cached archive.
	tmp, err := os.CreateTemp(p.sess.DownloadDir, "download-")
	if err != nil {
		return "", fmt.Errorf("failed to create download temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", errors.NewNetworkError(
			fmt.Sprintf("Download from %s was interrupted", rawURL), "", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to finish download: %w", err)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return "", fmt.Errorf("failed to move download into cache: %w", err)
	}

	slog.Info("Downloaded base image", "path", local)
	return local, nil
}
