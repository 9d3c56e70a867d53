package ffmpeg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProbe(t *testing.T) {
	t.Run("video with audio", func(t *testing.T) {
		data := []byte(`{
			"format": {"duration": "5.041667"},
			"streams": [
				{"codec_type": "video", "width": 720, "height": 1080},
				{"codec_type": "audio"}
			]
		}`)
		a, err := parseProbe("clip.mp4", data)
		require.NoError(t, err)
		assert.Equal(t, "clip.mp4", a.Path)
		assert.InDelta(t, 5.041667, a.Duration, 1e-9)
		assert.Equal(t, 720, a.Width)
		assert.Equal(t, 1080, a.Height)
		assert.True(t, a.HasAudio)
	})

	t.Run("audio only", func(t *testing.T) {
		a, err := parseProbe("voice.mp3", []byte(`{"format": {"duration": "2.0"}, "streams": [{"codec_type": "audio"}]}`))
		require.NoError(t, err)
		assert.InDelta(t, 2.0, a.Duration, 1e-9)
		assert.Zero(t, a.Width)
	})

	t.Run("stream duration fills a missing container duration", func(t *testing.T) {
		a, err := parseProbe("x.mov", []byte(`{"format": {}, "streams": [{"codec_type": "video", "width": 10, "height": 20, "duration": "1.5"}]}`))
		require.NoError(t, err)
		assert.InDelta(t, 1.5, a.Duration, 1e-9)
	})

	t.Run("no streams", func(t *testing.T) {
		_, err := parseProbe("empty", []byte(`{"format": {}, "streams": []}`))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrToolFailure))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := parseProbe("bad", []byte(`not json`))
		assert.Error(t, err)
	})
}

func TestTailWriter(t *testing.T) {
	w := &tailWriter{limit: 10}

	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", w.String())

	w.Write([]byte(" world of test data"))
	assert.Equal(t, " test data", w.String())
}

func TestExitError(t *testing.T) {
	inner := errors.New("exit status 1")
	err := &ExitError{Tool: "ffmpeg", ExitCode: 1, StderrTail: "Invalid data", Err: inner}

	assert.True(t, errors.Is(err, ErrToolFailure))
	assert.True(t, errors.Is(err, inner))
	assert.Contains(t, err.Error(), "ffmpeg exited with code 1")
	assert.Contains(t, err.Error(), "Invalid data")
}

func TestFrameInterval(t *testing.T) {
	assert.InDelta(t, 1.0/24, Frame{FPS: 24}.Interval(), 1e-12)
	assert.Zero(t, Frame{}.Interval())
}
