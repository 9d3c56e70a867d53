package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Fit loops or trims src to opts.Duration, scales it to the frame and applies opts.Filter.
func (r *Runner) Fit(ctx context.Context, src, dst string, opts FitOptions) (Artifact, error) {
	if opts.Duration <= 0 {
		return Artifact{}, fmt.Errorf("fit %s: non-positive duration %v", src, opts.Duration)
	}
	if err := r.Exec(ctx, fitArgs(src, dst, opts, r.encodeArgs)); err != nil {
		return Artifact{}, fmt.Errorf("fit %s: %w", filepath.Base(src), err)
	}
	return r.Probe(ctx, dst)
}

// Concat joins inputs with the concat demuxer without re-encoding.
func (r *Runner) Concat(ctx context.Context, inputs []string, dst string) (Artifact, error) {
	if len(inputs) == 0 {
		return Artifact{}, fmt.Errorf("no input files provided")
	}

	listFile, err := writeConcatList(filepath.Dir(dst), inputs)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to create concat file: %w", err)
	}
	defer os.Remove(listFile)

	r.log.Debug().Int("inputs", len(inputs)).Str("output", dst).Msg("concatenating")
	if err := r.Exec(ctx, concatArgs(listFile, dst)); err != nil {
		return Artifact{}, fmt.Errorf("concat: %w", err)
	}
	return r.Probe(ctx, dst)
}

func writeConcatList(dir string, inputs []string) (string, error) {
	f, err := os.CreateTemp(dir, "concat_*.txt")
	if err != nil {
		return "", err
	}
	defer f.Close()

	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			os.Remove(f.Name())
			return "", err
		}
		// concat demuxer quoting: a single quote is written as '\''
		line := fmt.Sprintf("file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
		if _, err := f.WriteString(line); err != nil {
			os.Remove(f.Name())
			return "", err
		}
	}
	return f.Name(), nil
}

// Crossfade merges inputs with xfade at the given offsets.
func (r *Runner) Crossfade(ctx context.Context, inputs []string, dst string, frame Frame, opts CrossfadeOptions) (Artifact, error) {
	if len(inputs) < 2 {
		return Artifact{}, fmt.Errorf("crossfade needs at least two inputs, got %d", len(inputs))
	}
	if len(opts.Offsets) != len(inputs)-1 {
		return Artifact{}, fmt.Errorf("crossfade: %d offsets for %d inputs", len(opts.Offsets), len(inputs))
	}
	if err := r.Exec(ctx, crossfadeArgs(inputs, dst, opts, frame.FPS, r.encodeArgs)); err != nil {
		return Artifact{}, fmt.Errorf("crossfade: %w", err)
	}
	return r.Probe(ctx, dst)
}

// Overlay composites caption over background, truncated to opts.Duration.
func (r *Runner) Overlay(ctx context.Context, background, caption, dst string, opts OverlayOptions) (Artifact, error) {
	if err := r.Exec(ctx, overlayArgs(background, caption, dst, opts, r.encodeArgs)); err != nil {
		return Artifact{}, fmt.Errorf("overlay: %w", err)
	}
	return r.Probe(ctx, dst)
}

// Finish applies watermark, background music and trailer in one pass.
func (r *Runner) Finish(ctx context.Context, main Artifact, dst string, opts FinishOptions) (Artifact, error) {
	if err := r.Exec(ctx, finishArgs(main, dst, opts, r.encodeArgs)); err != nil {
		return Artifact{}, fmt.Errorf("finish: %w", err)
	}
	return r.Probe(ctx, dst)
}

// Silence writes an mp3 of silence lasting duration seconds.
func (r *Runner) Silence(ctx context.Context, duration float64, dst string) (Artifact, error) {
	if err := r.Exec(ctx, silenceArgs(duration, dst)); err != nil {
		return Artifact{}, fmt.Errorf("silence: %w", err)
	}
	return r.Probe(ctx, dst)
}
