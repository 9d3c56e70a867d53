package engine

import (
	"context"
	"fmt"
	"net/http"

	"vidgen/ffmpeg"
	"vidgen/logging"
	"vidgen/task"

	"github.com/rs/zerolog"
)

// Finalizer applies the optional watermark, background music and end clip.
type Finalizer struct {
	exec           MediaExecutor
	media          mediaResolver
	watermarkScale float64
	musicVolume    float64
	log            zerolog.Logger
}

type FinalizerOptions struct {
	WatermarkScale float64
	MusicVolume    float64
	HTTPClient     *http.Client
	MaxInputSize   int64
}

func NewFinalizer(exec MediaExecutor, opts FinalizerOptions, logger zerolog.Logger) *Finalizer {
	return &Finalizer{
		exec:           exec,
		media:          mediaResolver{client: opts.HTTPClient, maxSize: opts.MaxInputSize},
		watermarkScale: opts.WatermarkScale,
		musicVolume:    opts.MusicVolume,
		log:            logging.WithComponent(logger, "finalizer"),
	}
}

// Finalize writes the finished video to a temp path of the task's file type. With no
// finishing step set the video is copied unchanged.
func (f *Finalizer) Finalize(ctx context.Context, res *Resources, video ffmpeg.Artifact, settings task.VideoSettings) (ffmpeg.Artifact, error) {
	opts := ffmpeg.FinishOptions{
		Frame:          frameOf(settings),
		WatermarkScale: f.watermarkScale,
		MusicVolume:    f.musicVolume,
	}

	if settings.Watermark != "" {
		wm, err := f.media.resolve(ctx, res, settings.Watermark, "watermark")
		if err != nil {
			return ffmpeg.Artifact{}, fmt.Errorf("watermark: %w", err)
		}
		opts.Watermark = wm.Path
	}
	if settings.BgAudio != "" {
		music, err := f.media.resolve(ctx, res, settings.BgAudio, "music")
		if err != nil {
			return ffmpeg.Artifact{}, fmt.Errorf("background audio: %w", err)
		}
		opts.Music = music.Path
	}
	if settings.EndVideo != "" {
		end, err := f.media.resolve(ctx, res, settings.EndVideo, "trailer")
		if err != nil {
			return ffmpeg.Artifact{}, fmt.Errorf("end video: %w", err)
		}
		trailer, err := f.exec.Probe(ctx, end.Path)
		if err != nil {
			return ffmpeg.Artifact{}, fmt.Errorf("end video: %w", err)
		}
		opts.Trailer = &trailer
	}

	out, err := res.CreateTemp("final", settings.FileType)
	if err != nil {
		return ffmpeg.Artifact{}, err
	}
	f.log.Debug().
		Bool("watermark", opts.Watermark != "").
		Bool("music", opts.Music != "").
		Bool("trailer", opts.Trailer != nil).
		Msg("finishing")
	return f.exec.Finish(ctx, video, out, opts)
}
