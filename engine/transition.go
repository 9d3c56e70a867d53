package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"vidgen/ffmpeg"
	"vidgen/logging"
	"vidgen/task"

	"github.com/rs/zerolog"
)

// xfadeTransitions are the transition names ffmpeg's xfade filter accepts.
var xfadeTransitions = map[string]bool{
	"fade": true, "fadeblack": true, "fadewhite": true, "fadegrays": true, "fadefast": true, "fadeslow": true,
	"wipeleft": true, "wiperight": true, "wipeup": true, "wipedown": true,
	"wipetl": true, "wipetr": true, "wipebl": true, "wipebr": true,
	"slideleft": true, "slideright": true, "slideup": true, "slidedown": true,
	"smoothleft": true, "smoothright": true, "smoothup": true, "smoothdown": true,
	"circlecrop": true, "rectcrop": true, "circleclose": true, "circleopen": true,
	"horzclose": true, "horzopen": true, "vertclose": true, "vertopen": true,
	"diagbl": true, "diagbr": true, "diagtl": true, "diagtr": true,
	"hlslice": true, "hrslice": true, "vuslice": true, "vdslice": true,
	"dissolve": true, "pixelize": true, "radial": true,
	"hblur": true, "distance": true,
	"squeezev": true, "squeezeh": true, "zoomin": true,
	"hlwind": true, "hrwind": true, "vuwind": true, "vdwind": true,
	"coverleft": true, "coverright": true, "coverup": true, "coverdown": true,
	"revealleft": true, "revealright": true, "revealup": true, "revealdown": true,
}

// Transition is the crossfade applied between consecutive segments of a task.
type Transition struct {
	Name     string
	Duration float64 // seconds
}

// ResolveTransition picks the task's transition: the first segment naming one wins, then
// fallback. A nil result means segments are joined back to back.
func ResolveTransition(segments []task.Segment, fallback string, duration time.Duration, log zerolog.Logger) (*Transition, error) {
	name := ""
	for i, s := range segments {
		t := strings.ToLower(s.Transition)
		if t == "" {
			continue
		}
		if name == "" {
			name = t
		} else if t != name {
			log.Warn().Int("segment", i).Str("transition", t).Str("using", name).Msg("segments name different transitions, only one applies per task")
		}
	}
	if name == "" {
		name = strings.ToLower(strings.TrimSpace(fallback))
	}
	if name == "" || name == "none" {
		return nil, nil
	}
	if !xfadeTransitions[name] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransition, name)
	}
	if duration <= 0 {
		return nil, nil
	}
	return &Transition{Name: name, Duration: duration.Seconds()}, nil
}

// CrossfadeOffsets returns the xfade offset of each boundary between clips of the given
// durations: offset[0] = d0 - t and offset[i] = offset[i-1] + d_i - t.
func CrossfadeOffsets(durations []float64, t float64) ([]float64, error) {
	if len(durations) < 2 {
		return nil, nil
	}
	shortest := math.Inf(1)
	for _, d := range durations {
		shortest = math.Min(shortest, d)
	}
	if t >= shortest {
		return nil, fmt.Errorf("%w: %.3fs transition, shortest clip %.3fs", ErrTransitionTooLong, t, shortest)
	}

	offsets := make([]float64, len(durations)-1)
	offsets[0] = durations[0] - t
	for i := 1; i < len(offsets); i++ {
		offsets[i] = offsets[i-1] + durations[i] - t
	}
	return offsets, nil
}

// ChainedDuration is the length of clips joined with a transition of t seconds.
func ChainedDuration(durations []float64, t float64) float64 {
	sum := 0.0
	for _, d := range durations {
		sum += d
	}
	if len(durations) < 2 {
		return sum
	}
	return sum - float64(len(durations)-1)*t
}

// Chainer joins per-segment tracks into one timeline.
type Chainer struct {
	exec MediaExecutor
	log  zerolog.Logger
}

func NewChainer(exec MediaExecutor, logger zerolog.Logger) *Chainer {
	return &Chainer{exec: exec, log: logging.WithComponent(logger, "chainer")}
}

// Chain joins tracks in order. Without a transition they are concatenated by stream copy;
// with one they are crossfaded, and withAudio crossfades the audio over the same span.
func (c *Chainer) Chain(ctx context.Context, res *Resources, tracks []ffmpeg.Artifact, tr *Transition, frame ffmpeg.Frame, withAudio bool) (ffmpeg.Artifact, error) {
	switch len(tracks) {
	case 0:
		return ffmpeg.Artifact{}, fmt.Errorf("nothing to chain")
	case 1:
		return tracks[0], nil
	}

	kind, ext := "bg_timeline", "mp4"
	if withAudio {
		kind, ext = "caption_timeline", "mov"
	}
	out, err := res.CreateTemp(kind, ext)
	if err != nil {
		return ffmpeg.Artifact{}, err
	}

	paths := make([]string, len(tracks))
	durations := make([]float64, len(tracks))
	for i, t := range tracks {
		paths[i] = t.Path
		durations[i] = t.Duration
	}

	if tr == nil {
		timeline, err := c.exec.Concat(ctx, paths, out)
		if err != nil {
			return ffmpeg.Artifact{}, err
		}
		c.checkDuration(kind, ChainedDuration(durations, 0), timeline.Duration, frame)
		return timeline, nil
	}

	offsets, err := CrossfadeOffsets(durations, tr.Duration)
	if err != nil {
		return ffmpeg.Artifact{}, err
	}
	timeline, err := c.exec.Crossfade(ctx, paths, out, frame, ffmpeg.CrossfadeOptions{
		Transition: tr.Name,
		Duration:   tr.Duration,
		Offsets:    offsets,
		WithAudio:  withAudio,
	})
	if err != nil {
		return ffmpeg.Artifact{}, err
	}
	c.checkDuration(kind, ChainedDuration(durations, tr.Duration), timeline.Duration, frame)
	return timeline, nil
}

func (c *Chainer) checkDuration(kind string, want, got float64, frame ffmpeg.Frame) {
	if math.Abs(want-got) > frame.Interval() {
		c.log.Warn().Str("timeline", kind).Float64("expected", want).Float64("actual", got).Msg("timeline duration drift")
		return
	}
	c.log.Debug().Str("timeline", kind).Float64("duration", got).Msg("timeline chained")
}
