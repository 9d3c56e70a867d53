package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
)

// ErrInputTooLarge is returned when a media source exceeds the configured size limit.
var ErrInputTooLarge = errors.New("input exceeds size limit")

// IsRemote reports whether src is fetched over HTTP rather than read from disk.
func IsRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// Fetch downloads a remote media source into dst, enforcing maxSize bytes when positive.
// It returns the media type the server declared, without parameters.
func Fetch(ctx context.Context, client *http.Client, src, dst string, maxSize int64) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download %s, status: %s", src, resp.Status)
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}

	// A non-positive maxSize disables the limit.
	var body io.Reader = resp.Body
	if maxSize > 0 {
		body = &io.LimitedReader{R: resp.Body, N: maxSize + 1}
	}
	written, err := io.Copy(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("failed to write downloaded file: %w", err)
	}
	if maxSize > 0 && written > maxSize {
		os.Remove(dst)
		return "", fmt.Errorf("%s: %w of %d bytes", src, ErrInputTooLarge, maxSize)
	}
	return mediaType(resp.Header.Get("Content-Type")), nil
}

func mediaType(contentType string) string {
	t, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return t
}

// IsStillType reports whether a declared media type is an image.
func IsStillType(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/")
}

// CheckLocal verifies a local media file exists and fits within maxSize bytes.
// A missing file is reported with an error wrapping os.ErrNotExist.
func CheckLocal(path string, maxSize int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory: %w", path, os.ErrNotExist)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return fmt.Errorf("%s is %d bytes: %w of %d bytes", path, info.Size(), ErrInputTooLarge, maxSize)
	}
	return nil
}
