package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vidgen/caption"
	"vidgen/config"
	"vidgen/ffmpeg"
	"vidgen/speech"
	"vidgen/task"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeExec simulates the media toolkit: every operation writes its output file and
// reports the duration a real render would have.
type fakeExec struct {
	mu        sync.Mutex
	durations map[string]float64
	fits      []ffmpeg.FitOptions
	concats   [][]string
	fades     []ffmpeg.CrossfadeOptions
	overlays  []ffmpeg.OverlayOptions
	finishes  []ffmpeg.FinishOptions
	finished  []ffmpeg.Artifact
	failFit   error
	checkErr  error
}

func newFakeExec() *fakeExec {
	return &fakeExec{durations: make(map[string]float64)}
}

func (f *fakeExec) write(path string, d float64) (ffmpeg.Artifact, error) {
	if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
		return ffmpeg.Artifact{}, err
	}
	f.durations[path] = d
	return ffmpeg.Artifact{Path: path, Duration: d, Width: 720, Height: 1080, HasAudio: strings.HasSuffix(path, ".mov")}, nil
}

func (f *fakeExec) Probe(ctx context.Context, path string) (ffmpeg.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.durations[path]
	if !ok {
		return ffmpeg.Artifact{}, fmt.Errorf("probe %s: %w", path, ffmpeg.ErrToolFailure)
	}
	return ffmpeg.Artifact{Path: path, Duration: d, HasAudio: true}, nil
}

func (f *fakeExec) Fit(ctx context.Context, src, dst string, opts ffmpeg.FitOptions) (ffmpeg.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return ffmpeg.Artifact{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFit != nil {
		return ffmpeg.Artifact{}, f.failFit
	}
	if _, err := os.Stat(src); err != nil {
		return ffmpeg.Artifact{}, fmt.Errorf("fit input: %w", err)
	}
	f.fits = append(f.fits, opts)
	a, err := f.write(dst, opts.Duration)
	a.HasAudio = false
	return a, err
}

func (f *fakeExec) Concat(ctx context.Context, inputs []string, dst string) (ffmpeg.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.concats = append(f.concats, append([]string(nil), inputs...))
	sum := 0.0
	for _, in := range inputs {
		sum += f.durations[in]
	}
	return f.write(dst, sum)
}

func (f *fakeExec) Crossfade(ctx context.Context, inputs []string, dst string, frame ffmpeg.Frame, opts ffmpeg.CrossfadeOptions) (ffmpeg.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fades = append(f.fades, opts)
	sum := 0.0
	for _, in := range inputs {
		sum += f.durations[in]
	}
	return f.write(dst, sum-float64(len(inputs)-1)*opts.Duration)
}

func (f *fakeExec) Overlay(ctx context.Context, background, caption, dst string, opts ffmpeg.OverlayOptions) (ffmpeg.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overlays = append(f.overlays, opts)
	return f.write(dst, opts.Duration)
}

func (f *fakeExec) Finish(ctx context.Context, main ffmpeg.Artifact, dst string, opts ffmpeg.FinishOptions) (ffmpeg.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishes = append(f.finishes, opts)
	d := main.Duration
	if opts.Trailer != nil {
		d += opts.Trailer.Duration
	}
	a, err := f.write(dst, d)
	if err == nil {
		f.finished = append(f.finished, a)
	}
	return a, err
}

func (f *fakeExec) lastFinished() ffmpeg.Artifact {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.finished) == 0 {
		return ffmpeg.Artifact{}
	}
	return f.finished[len(f.finished)-1]
}

func (f *fakeExec) CheckResources(ctx context.Context) error { return f.checkErr }

// fakeSpeech narrates half a second per word.
type fakeSpeech struct {
	err error
}

func (s *fakeSpeech) Synthesize(ctx context.Context, text, outPath string) (speech.Result, error) {
	if err := ctx.Err(); err != nil {
		return speech.Result{}, err
	}
	if s.err != nil {
		return speech.Result{}, s.err
	}
	d := 0.5 * float64(len(strings.Fields(text)))
	if err := os.WriteFile(outPath, []byte("mp3"), 0o644); err != nil {
		return speech.Result{}, err
	}
	return speech.Result{
		Audio: ffmpeg.Artifact{Path: outPath, Duration: d, HasAudio: true},
		Words: speech.EvenTimestamps(text, d),
	}, nil
}

// fakeCaptions writes caption clips whose duration is the word span.
type fakeCaptions struct {
	exec   *fakeExec
	styles []caption.Style
	mu     sync.Mutex
}

func (c *fakeCaptions) Render(ctx context.Context, req caption.Request, outPath string) (ffmpeg.Artifact, error) {
	c.mu.Lock()
	c.styles = append(c.styles, req.Style)
	c.mu.Unlock()
	c.exec.mu.Lock()
	defer c.exec.mu.Unlock()
	return c.exec.write(outPath, speech.Span(req.Words))
}

func (c *fakeCaptions) RenderSpecial(ctx context.Context, m caption.Marker, style caption.Style, frame ffmpeg.Frame, outPath string) (ffmpeg.Artifact, error) {
	if m.Name != "countdown" {
		return ffmpeg.Artifact{}, fmt.Errorf("%w: %q", caption.ErrUnknownSpecialClip, m.Name)
	}
	c.exec.mu.Lock()
	defer c.exec.mu.Unlock()
	return c.exec.write(outPath, 3)
}

type harness struct {
	cfg      *config.Config
	exec     *fakeExec
	captions *fakeCaptions
	speech   *fakeSpeech
	ctrl     *Controller
	media    string // directory holding source media
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		TempDir:            filepath.Join(root, "tmp"),
		OutputDir:          filepath.Join(root, "out"),
		SegmentWorkers:     1,
		TransitionDuration: time.Second,
		BgVolume:           0.3,
		WatermarkScale:     0.7,
		MaxInputSize:       1 << 20,
	}
	exec := newFakeExec()
	h := &harness{
		cfg:      cfg,
		exec:     exec,
		captions: &fakeCaptions{exec: exec},
		speech:   &fakeSpeech{},
		media:    filepath.Join(root, "media"),
	}
	require.NoError(t, os.MkdirAll(h.media, 0o755))
	h.rebuild(t)
	return h
}

// rebuild recreates the controller after a config change.
func (h *harness) rebuild(t *testing.T) {
	ctrl, err := NewController(h.cfg, Deps{Exec: h.exec, Speech: h.speech, Captions: h.captions}, zerolog.Nop())
	require.NoError(t, err)
	h.ctrl = ctrl
}

// file creates a source media file with a known duration.
func (h *harness) file(t *testing.T, name string, d float64) string {
	p := filepath.Join(h.media, name)
	require.NoError(t, os.WriteFile(p, []byte("src"), 0o644))
	h.exec.mu.Lock()
	h.exec.durations[p] = d
	h.exec.mu.Unlock()
	return p
}

func newTask(t *testing.T, settings task.VideoSettings, segments ...task.Segment) *task.Task {
	tk, err := task.New(settings, segments)
	require.NoError(t, err)
	return tk
}

func settings(title string) task.VideoSettings {
	s := task.DefaultSettings
	s.Title = title
	return s
}

// tempEntries lists what is left in the temp root.
func tempEntries(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
