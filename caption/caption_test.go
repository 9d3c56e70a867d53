package caption

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"vidgen/ffmpeg"
	"vidgen/speech"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	args     [][]string
	execErr  error
	duration float64
}

func (f *fakeExec) Exec(ctx context.Context, args []string) error {
	f.args = append(f.args, args)
	return f.execErr
}

func (f *fakeExec) Probe(ctx context.Context, path string) (ffmpeg.Artifact, error) {
	return ffmpeg.Artifact{Path: path, Duration: f.duration, Width: 720, Height: 1080, HasAudio: true}, nil
}

var frame = ffmpeg.Frame{Width: 720, Height: 1080, FPS: 24}

func defaultStyle() Style {
	return Style{FontSize: 50, TextColor: "#FFFFFF", Padding: 40}
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestParseMarker(t *testing.T) {
	tests := []struct {
		in   string
		want Marker
		ok   bool
	}{
		{":countdown:", Marker{Name: "countdown"}, true},
		{" :countdown:5: ", Marker{Name: "countdown", Arg: "5"}, true},
		{":Intro:", Marker{Name: "intro"}, true},
		{"countdown", Marker{}, false},
		{":not a marker:", Marker{}, false},
		{"time: 10:30", Marker{}, false},
		{"::", Marker{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseMarker(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseColor(t *testing.T) {
	c, err := parseColor("#ff8800")
	require.NoError(t, err)
	assert.Equal(t, "0xFF8800FF", c)

	c, err = parseColor("#11223344")
	require.NoError(t, err)
	assert.Equal(t, "0x11223344", c)

	c, err = parseColor("")
	require.NoError(t, err)
	assert.Equal(t, "0xFFFFFFFF", c)

	_, err = parseColor("white")
	assert.True(t, errors.Is(err, ErrRender))
}

func TestPositionExpr(t *testing.T) {
	for in, want := range map[string]string{
		"":       "(h-text_h)/2",
		"center": "(h-text_h)/2",
		"top":    "40",
		"Bottom": "h-text_h-40",
		"0.75":   "h*0.75-text_h/2",
	} {
		got, err := positionExpr(in, 40)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := positionExpr("1.5", 40)
	assert.True(t, errors.Is(err, ErrRender))
	_, err = positionExpr("left", 40)
	assert.True(t, errors.Is(err, ErrRender))
}

func TestPageWords(t *testing.T) {
	words := speech.EvenTimestamps("aa bb cc dddddddd e", 5)
	pages := pageWords(words, 5)

	var got []string
	for _, p := range pages {
		var texts []string
		for _, w := range p {
			texts = append(texts, w.Text)
		}
		got = append(got, strings.Join(texts, " "))
	}
	assert.Equal(t, []string{"aa bb", "cc", "dddddddd", "e"}, got)
}

func TestRender(t *testing.T) {
	words := speech.EvenTimestamps("hello big world", 3)
	log := zerolog.Nop()

	t.Run("renders words progressively with narration", func(t *testing.T) {
		exec := &fakeExec{duration: 3}
		r := NewRenderer(exec, nil, log)

		clip, err := r.Render(context.Background(), Request{
			Text: "hello big world", Words: words, Audio: "voice.mp3", Style: defaultStyle(), Frame: frame,
		}, "nano.mov")
		require.NoError(t, err)
		assert.InDelta(t, 3.0, clip.Duration, 1e-9)

		require.Len(t, exec.args, 1)
		args := exec.args[0]
		graph := argAfter(args, "-filter_complex")
		assert.Equal(t, 3, strings.Count(graph, "drawtext="))
		assert.Contains(t, graph, "text='hello'")
		assert.Contains(t, graph, "text='hello big'")
		assert.Contains(t, graph, "text='hello big world'")
		assert.Contains(t, graph, "enable='gte(t,2.000)*lt(t,4.000)'")
		assert.Contains(t, graph, "fontcolor=0xFFFFFFFF")
		assert.Equal(t, "3.000", argAfter(args, "-t"))
		i := indexOf(args, "-ss")
		require.GreaterOrEqual(t, i, 0)
		assert.Equal(t, []string{"-ss", "0.000", "-i", "voice.mp3"}, args[i:i+4])
		assert.Equal(t, "nano.mov", args[len(args)-1])
	})

	t.Run("word timings offset from zero are shifted", func(t *testing.T) {
		exec := &fakeExec{duration: 2}
		r := NewRenderer(exec, nil, log)
		shifted := []speech.Word{{Start: 1, End: 2, Text: "a"}, {Start: 2, End: 3, Text: "b"}}

		_, err := r.Render(context.Background(), Request{Words: shifted, Audio: "v.mp3", Style: defaultStyle(), Frame: frame}, "n.mov")
		require.NoError(t, err)
		args := exec.args[0]
		assert.Equal(t, "1.000", argAfter(args, "-ss"))
		assert.Contains(t, argAfter(args, "-filter_complex"), "enable='gte(t,0.000)*lt(t,1.000)'")
		assert.Equal(t, "2.000", argAfter(args, "-t"))
	})

	t.Run("no words yields an empty clip", func(t *testing.T) {
		exec := &fakeExec{}
		r := NewRenderer(exec, nil, log)
		clip, err := r.Render(context.Background(), Request{Style: defaultStyle(), Frame: frame}, "n.mov")
		require.NoError(t, err)
		assert.Zero(t, clip.Duration)
		assert.Empty(t, exec.args)
	})

	t.Run("invalid style", func(t *testing.T) {
		r := NewRenderer(&fakeExec{}, nil, log)
		for name, st := range map[string]Style{
			"missing font": {Font: filepath.Join(t.TempDir(), "nope.ttf"), FontSize: 50},
			"zero size":    {FontSize: 0},
			"bad color":    {FontSize: 50, TextColor: "#xyz"},
			"bad position": {FontSize: 50, Position: "sideways"},
		} {
			_, err := r.Render(context.Background(), Request{Words: words, Style: st, Frame: frame}, "n.mov")
			assert.True(t, errors.Is(err, ErrRender), name)
		}
	})

	t.Run("existing font file is referenced", func(t *testing.T) {
		font := filepath.Join(t.TempDir(), "Bold.ttf")
		require.NoError(t, os.WriteFile(font, []byte("ttf"), 0o644))
		exec := &fakeExec{duration: 3}
		r := NewRenderer(exec, nil, log)

		st := defaultStyle()
		st.Font = font
		_, err := r.Render(context.Background(), Request{Words: words, Style: st, Frame: frame}, "n.mov")
		require.NoError(t, err)
		assert.Contains(t, argAfter(exec.args[0], "-filter_complex"), "fontfile='"+escapePath(font)+"'")
		assert.Contains(t, exec.args[0], "anullsrc=r=44100:cl=stereo")
	})

	t.Run("executor failure keeps the exit details", func(t *testing.T) {
		exitErr := &ffmpeg.ExitError{Tool: "ffmpeg", ExitCode: 1, Err: errors.New("exit status 1"), StderrTail: "No such filter"}
		r := NewRenderer(&fakeExec{execErr: exitErr}, nil, log)
		_, err := r.Render(context.Background(), Request{Words: words, Style: defaultStyle(), Frame: frame}, "n.mov")
		assert.True(t, errors.Is(err, ErrRender))
		assert.True(t, errors.Is(err, ffmpeg.ErrToolFailure))
		var got *ffmpeg.ExitError
		require.True(t, errors.As(err, &got))
		assert.Equal(t, "No such filter", got.StderrTail)
	})
}

var layerPattern = regexp.MustCompile(`text='([^']*)':[^']*enable='gte\(t,([0-9.]+)\)\*lt\(t,([0-9.]+)\)'`)

// layersAt lists the drawtext texts enabled at time t.
func layersAt(t *testing.T, graph string, at float64) []string {
	var texts []string
	for _, m := range layerPattern.FindAllStringSubmatch(graph, -1) {
		start, err := strconv.ParseFloat(m[2], 64)
		require.NoError(t, err)
		end, err := strconv.ParseFloat(m[3], 64)
		require.NoError(t, err)
		if at >= start && at < end {
			texts = append(texts, m[1])
		}
	}
	return texts
}

func TestRender_OneLayerPerFrame(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		duration float64
		style    Style
	}{
		{"boundary on a frame", "one two three four", 2.0, defaultStyle()},
		{"page breaks", "alpha beta gamma delta epsilon zeta eta theta", 4.0, Style{FontSize: 200, Padding: 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words := speech.EvenTimestamps(tt.text, tt.duration)
			exec := &fakeExec{duration: tt.duration}
			r := NewRenderer(exec, nil, zerolog.Nop())
			_, err := r.Render(context.Background(), Request{Words: words, Style: tt.style, Frame: frame}, "n.mov")
			require.NoError(t, err)
			graph := argAfter(exec.args[0], "-filter_complex")
			require.Equal(t, len(words), len(layerPattern.FindAllString(graph, -1)))

			frames := int(tt.duration * float64(frame.FPS))
			for i := 0; i < frames; i++ {
				at := float64(i) / float64(frame.FPS)
				assert.Len(t, layersAt(t, graph, at), 1, "frame %d at %.3fs", i, at)
			}
		})
	}
}

func TestCountdown_OneNumberPerFrame(t *testing.T) {
	exec := &fakeExec{duration: 3}
	r := NewRenderer(exec, BuiltinSpecials(""), zerolog.Nop())
	_, err := r.RenderSpecial(context.Background(), Marker{Name: "countdown"}, defaultStyle(), frame, "cd.mov")
	require.NoError(t, err)
	graph := argAfter(exec.args[0], "-filter_complex")

	for i := 0; i < 3*frame.FPS; i++ {
		at := float64(i) / float64(frame.FPS)
		assert.Len(t, layersAt(t, graph, at), 1, "frame %d", i)
	}
	assert.Equal(t, []string{"2"}, layersAt(t, graph, 1.0))
}

func indexOf(args []string, flag string) int {
	for i, a := range args {
		if a == flag {
			return i
		}
	}
	return -1
}

func TestRenderSpecial(t *testing.T) {
	log := zerolog.Nop()

	t.Run("countdown defaults to three seconds", func(t *testing.T) {
		exec := &fakeExec{duration: 3}
		r := NewRenderer(exec, BuiltinSpecials(""), log)

		m, _ := ParseMarker(":countdown:")
		clip, err := r.RenderSpecial(context.Background(), m, defaultStyle(), frame, "cd.mov")
		require.NoError(t, err)
		assert.InDelta(t, 3.0, clip.Duration, 1e-9)

		args := exec.args[0]
		graph := argAfter(args, "-filter_complex")
		assert.Equal(t, "3", argAfter(args, "-t"))
		assert.Contains(t, graph, "text='3'")
		assert.Contains(t, graph, "text='1'")
		assert.Contains(t, graph, "fontsize=150")
		assert.Contains(t, args, "anullsrc=r=44100:cl=stereo")
	})

	t.Run("countdown length and sound effect", func(t *testing.T) {
		exec := &fakeExec{duration: 5}
		r := NewRenderer(exec, BuiltinSpecials("beep.wav"), log)

		_, err := r.RenderSpecial(context.Background(), Marker{Name: "countdown", Arg: "5"}, defaultStyle(), frame, "cd.mov")
		require.NoError(t, err)
		args := exec.args[0]
		assert.Equal(t, "5", argAfter(args, "-t"))
		assert.Contains(t, args, "beep.wav")
		assert.Contains(t, argAfter(args, "-filter_complex"), "text='5'")
	})

	t.Run("invalid countdown length", func(t *testing.T) {
		r := NewRenderer(&fakeExec{}, BuiltinSpecials(""), log)
		_, err := r.RenderSpecial(context.Background(), Marker{Name: "countdown", Arg: "0"}, defaultStyle(), frame, "cd.mov")
		assert.True(t, errors.Is(err, ErrRender))
	})

	t.Run("unknown special clip", func(t *testing.T) {
		r := NewRenderer(&fakeExec{}, BuiltinSpecials(""), log)
		_, err := r.RenderSpecial(context.Background(), Marker{Name: "fireworks"}, defaultStyle(), frame, "x.mov")
		assert.True(t, errors.Is(err, ErrUnknownSpecialClip))
	})
}
