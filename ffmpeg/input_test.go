package ffmpeg

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/small.mp4":
			w.Write([]byte("0123456789"))
		case "/photo":
			w.Header().Set("Content-Type", "image/jpeg; charset=binary")
			w.Write([]byte("\xff\xd8\xff"))
		case "/big.mp4":
			w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()

	t.Run("downloads within limit", func(t *testing.T) {
		dst := filepath.Join(dir, "small.mp4")
		_, err := Fetch(context.Background(), srv.Client(), srv.URL+"/small.mp4", dst, 32)
		require.NoError(t, err)

		data, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, "0123456789", string(data))
	})

	t.Run("reports the declared media type", func(t *testing.T) {
		mt, err := Fetch(context.Background(), srv.Client(), srv.URL+"/photo", filepath.Join(dir, "photo.bin"), 32)
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", mt)
		assert.True(t, IsStillType(mt))
		assert.False(t, IsStillType("video/mp4"))
		assert.False(t, IsStillType(""))
	})

	t.Run("rejects oversized bodies and removes the partial file", func(t *testing.T) {
		dst := filepath.Join(dir, "big.mp4")
		_, err := Fetch(context.Background(), srv.Client(), srv.URL+"/big.mp4", dst, 32)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInputTooLarge))
		assert.NoFileExists(t, dst)
	})

	t.Run("non-200 status", func(t *testing.T) {
		_, err := Fetch(context.Background(), srv.Client(), srv.URL+"/missing.mp4", filepath.Join(dir, "m.mp4"), 32)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})
}

func TestCheckLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bg.mp4")
	require.NoError(t, os.WriteFile(path, []byte("abcdef"), 0o644))

	assert.NoError(t, CheckLocal(path, 100))
	assert.NoError(t, CheckLocal(path, 0))
	assert.True(t, errors.Is(CheckLocal(path, 3), ErrInputTooLarge))
	assert.True(t, errors.Is(CheckLocal(filepath.Join(dir, "nope.mp4"), 100), os.ErrNotExist))
	assert.True(t, errors.Is(CheckLocal(dir, 100), os.ErrNotExist))
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://cdn.example.com/a.mp4"))
	assert.True(t, IsRemote("http://x/a.png"))
	assert.False(t, IsRemote("/tmp/a.mp4"))
}
