package engine

import (
	"context"
	"math"

	"vidgen/ffmpeg"
	"vidgen/logging"
	"vidgen/task"

	"github.com/rs/zerolog"
)

// Compositor lays the caption timeline over the background timeline.
type Compositor struct {
	exec MediaExecutor
	log  zerolog.Logger
}

func NewCompositor(exec MediaExecutor, logger zerolog.Logger) *Compositor {
	return &Compositor{exec: exec, log: logging.WithComponent(logger, "compositor")}
}

// Composite overlays caption at 0:0 on background scaled to the frame, keeping the
// caption's narration. The result is truncated to the shorter of the two inputs.
func (c *Compositor) Composite(ctx context.Context, res *Resources, background, caption ffmpeg.Artifact, settings task.VideoSettings) (ffmpeg.Artifact, error) {
	frame := frameOf(settings)
	duration := math.Min(background.Duration, caption.Duration)
	if diff := math.Abs(background.Duration - caption.Duration); diff > frame.Interval() {
		c.log.Warn().
			Float64("background", background.Duration).
			Float64("caption", caption.Duration).
			Float64("using", duration).
			Msg("timeline lengths differ, truncating to the shorter")
	}

	out, err := res.CreateTemp("composite", "mp4")
	if err != nil {
		return ffmpeg.Artifact{}, err
	}
	return c.exec.Overlay(ctx, background.Path, caption.Path, out, ffmpeg.OverlayOptions{
		Frame:    frame,
		Duration: duration,
	})
}
