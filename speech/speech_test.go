package speech

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"vidgen/config"
	"vidgen/ffmpeg"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	synthFunc func(ctx context.Context, text, outPath string) error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Synthesize(ctx context.Context, text, outPath string) error {
	if f.synthFunc != nil {
		return f.synthFunc(ctx, text, outPath)
	}
	return os.WriteFile(outPath, []byte("mp3"), 0o644)
}

type fakeProber struct {
	duration float64
	err      error
}

func (f *fakeProber) Probe(ctx context.Context, path string) (ffmpeg.Artifact, error) {
	if f.err != nil {
		return ffmpeg.Artifact{}, f.err
	}
	return ffmpeg.Artifact{Path: path, Duration: f.duration, HasAudio: true}, nil
}

func TestEvenTimestamps(t *testing.T) {
	words := EvenTimestamps("  the quick  brown fox ", 2.0)
	require.Len(t, words, 4)

	assert.Equal(t, "the", words[0].Text)
	assert.Equal(t, 0.0, words[0].Start)
	assert.Equal(t, 2.0, words[3].End)
	for i := range words {
		assert.Less(t, words[i].Start, words[i].End)
		if i > 0 {
			assert.Equal(t, words[i-1].End, words[i].Start, "words must be contiguous")
		}
	}
	assert.InDelta(t, 2.0, Span(words), 1e-12)

	assert.Nil(t, EvenTimestamps("   ", 2))
	assert.Nil(t, EvenTimestamps("hello", 0))
	assert.Zero(t, Span(nil))
}

func TestServiceSynthesize(t *testing.T) {
	log := zerolog.Nop()
	out := filepath.Join(t.TempDir(), "voice.mp3")

	t.Run("returns audio and word timings", func(t *testing.T) {
		svc := NewService(&fakeBackend{}, &fakeProber{duration: 3}, log)
		res, err := svc.Synthesize(context.Background(), "one two three", out)
		require.NoError(t, err)

		assert.Equal(t, out, res.Audio.Path)
		assert.InDelta(t, 3.0, res.Audio.Duration, 1e-12)
		require.Len(t, res.Words, 3)
		assert.InDelta(t, 3.0, Span(res.Words), 1e-12)
	})

	t.Run("empty text", func(t *testing.T) {
		svc := NewService(&fakeBackend{}, &fakeProber{duration: 3}, log)
		_, err := svc.Synthesize(context.Background(), "  ", out)
		assert.True(t, errors.Is(err, ErrSynthesis))
	})

	t.Run("backend unavailable", func(t *testing.T) {
		backend := &fakeBackend{synthFunc: func(ctx context.Context, text, outPath string) error {
			return errors.New("connection refused")
		}}
		svc := NewService(backend, &fakeProber{duration: 3}, log)
		_, err := svc.Synthesize(context.Background(), "hello", out)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrSynthesis))
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("zero length audio", func(t *testing.T) {
		svc := NewService(&fakeBackend{}, &fakeProber{duration: 0}, log)
		_, err := svc.Synthesize(context.Background(), "hello", out)
		assert.True(t, errors.Is(err, ErrSynthesis))
	})

	t.Run("ffprobe failure keeps the exit details", func(t *testing.T) {
		exitErr := &ffmpeg.ExitError{Tool: "ffprobe", ExitCode: 1, Err: errors.New("exit status 1"), StderrTail: "Invalid data"}
		svc := NewService(&fakeBackend{}, &fakeProber{err: exitErr}, log)
		_, err := svc.Synthesize(context.Background(), "hello", out)
		assert.True(t, errors.Is(err, ErrSynthesis))
		assert.True(t, errors.Is(err, ffmpeg.ErrToolFailure))
		var got *ffmpeg.ExitError
		require.True(t, errors.As(err, &got))
		assert.Equal(t, "ffprobe", got.Tool)
	})

	t.Run("canceled backend surfaces the context error", func(t *testing.T) {
		svc := NewService(&fakeBackend{synthFunc: func(ctx context.Context, text, outPath string) error {
			return context.Canceled
		}}, &fakeProber{duration: 3}, log)
		_, err := svc.Synthesize(context.Background(), "hello", out)
		assert.True(t, errors.Is(err, ErrSynthesis))
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

type fakeSilence struct {
	got float64
}

func (f *fakeSilence) Silence(ctx context.Context, duration float64, dst string) (ffmpeg.Artifact, error) {
	f.got = duration
	return ffmpeg.Artifact{Path: dst, Duration: duration, HasAudio: true}, nil
}

func TestRegistry(t *testing.T) {
	reg := Builtin()
	assert.Equal(t, []string{"elevenlabs", "polly", "silence"}, reg.Names())

	cfg := &config.Config{TTSWordsPerMinute: 120}

	t.Run("unknown backend", func(t *testing.T) {
		_, err := reg.Build("espeak", cfg, Deps{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrSynthesis))
		assert.Contains(t, err.Error(), "espeak")
	})

	t.Run("silence paces words", func(t *testing.T) {
		writer := &fakeSilence{}
		b, err := reg.Build("silence", cfg, Deps{Silence: writer})
		require.NoError(t, err)
		assert.Equal(t, "silence", b.Name())

		require.NoError(t, b.Synthesize(context.Background(), "four words right here", "x.mp3"))
		assert.InDelta(t, 2.0, writer.got, 1e-12)

		assert.Error(t, b.Synthesize(context.Background(), "   ", "x.mp3"))
	})

	t.Run("elevenlabs requires credentials", func(t *testing.T) {
		_, err := reg.Build("elevenlabs", cfg, Deps{})
		assert.Error(t, err)
	})

	t.Run("custom registration", func(t *testing.T) {
		r := NewRegistry()
		r.Register("fake", func(*config.Config, Deps) (Backend, error) { return &fakeBackend{}, nil })
		b, err := r.Build("fake", cfg, Deps{})
		require.NoError(t, err)
		assert.Equal(t, "fake", b.Name())
	})
}
