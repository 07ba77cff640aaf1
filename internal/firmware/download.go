package firmware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
)

// IsURL reports whether src names an HTTP(S) resource rather than a file.
func IsURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// Fetch loads an image from a local path, or downloads it into dir first
// when src is a URL. Download progress is drawn on progress when non-nil.
func Fetch(ctx context.Context, src, dir string, progress io.Writer) (*Image, error) {
	if !IsURL(src) {
		return Load(src)
	}
	dest, err := Download(ctx, src, dir, progress)
	if err != nil {
		return nil, err
	}
	return Load(dest)
}

// Download fetches rawURL into dir and returns the path of the saved file.
// The body is written to a temp file and renamed into place once complete.
func Download(ctx context.Context, rawURL, dir string, progress io.Writer) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing firmware URL: %w", err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = "firmware.bin"
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating download dir: %w", err)
	}
	destPath := filepath.Join(dir, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading firmware: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	var w io.Writer = f
	if progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(progress),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("Downloading "+name),
			progressbar.OptionShowBytes(true),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(progress) }),
		)
		defer bar.Finish()
		w = io.MultiWriter(f, bar)
	}

	_, err = io.Copy(w, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing firmware file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("moving firmware file: %w", err)
	}
	return destPath, nil
}
