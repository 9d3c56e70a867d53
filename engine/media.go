// Package engine turns a parsed task into a finished video: it assembles segments, chains
// their timelines, composites captions over backgrounds and applies the finishing pass.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"

	"vidgen/caption"
	"vidgen/ffmpeg"
	"vidgen/speech"
)

// MediaExecutor is the media toolkit the pipeline drives. *ffmpeg.Runner implements it.
type MediaExecutor interface {
	Probe(ctx context.Context, path string) (ffmpeg.Artifact, error)
	Fit(ctx context.Context, src, dst string, opts ffmpeg.FitOptions) (ffmpeg.Artifact, error)
	Concat(ctx context.Context, inputs []string, dst string) (ffmpeg.Artifact, error)
	Crossfade(ctx context.Context, inputs []string, dst string, frame ffmpeg.Frame, opts ffmpeg.CrossfadeOptions) (ffmpeg.Artifact, error)
	Overlay(ctx context.Context, background, caption, dst string, opts ffmpeg.OverlayOptions) (ffmpeg.Artifact, error)
	Finish(ctx context.Context, main ffmpeg.Artifact, dst string, opts ffmpeg.FinishOptions) (ffmpeg.Artifact, error)
}

// ResourceChecker is implemented by executors that can refuse work on a busy host.
type ResourceChecker interface {
	CheckResources(ctx context.Context) error
}

type SpeechService interface {
	Synthesize(ctx context.Context, text, outPath string) (speech.Result, error)
}

type CaptionRenderer interface {
	Render(ctx context.Context, req caption.Request, outPath string) (ffmpeg.Artifact, error)
	RenderSpecial(ctx context.Context, m caption.Marker, style caption.Style, frame ffmpeg.Frame, outPath string) (ffmpeg.Artifact, error)
}

// mediaResolver turns a media reference into a readable local path.
type mediaResolver struct {
	client  *http.Client
	maxSize int64
}

// resolvedMedia is a media reference made readable on local disk.
type resolvedMedia struct {
	Path    string
	Still   bool // a still image, by extension or by the declared media type
	Fetched bool // downloaded into a path registered with the task's resources
}

// resolve makes src readable locally. Remote sources are downloaded into res.
func (m mediaResolver) resolve(ctx context.Context, res *Resources, src, kind string) (resolvedMedia, error) {
	if !ffmpeg.IsRemote(src) {
		if err := ffmpeg.CheckLocal(src, m.maxSize); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return resolvedMedia{}, fmt.Errorf("%w: %s", ErrMediaNotFound, src)
			}
			return resolvedMedia{}, err
		}
		return resolvedMedia{Path: src, Still: ffmpeg.IsStill(src)}, nil
	}

	ext := "bin"
	if u, err := url.Parse(src); err == nil && path.Ext(u.Path) != "" {
		ext = path.Ext(u.Path)
	}
	dst, err := res.CreateTemp(kind, ext)
	if err != nil {
		return resolvedMedia{}, err
	}
	mediaType, err := ffmpeg.Fetch(ctx, m.client, src, dst, m.maxSize)
	if err != nil {
		if errors.Is(err, ffmpeg.ErrInputTooLarge) || ctx.Err() != nil {
			return resolvedMedia{}, err
		}
		return resolvedMedia{}, fmt.Errorf("%w: %w", ErrMediaNotFound, err)
	}
	return resolvedMedia{
		Path:    dst,
		Still:   ffmpeg.IsStill(dst) || ffmpeg.IsStillType(mediaType),
		Fetched: true,
	}, nil
}
