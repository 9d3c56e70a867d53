package caption

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"vidgen/ffmpeg"
	"vidgen/logging"
	"vidgen/speech"

	"github.com/rs/zerolog"
)

var (
	// ErrRender is matched by invalid caption styles and failed caption renders.
	ErrRender = errors.New("caption render failed")
	// ErrUnknownSpecialClip is returned for a marker naming no registered special clip.
	ErrUnknownSpecialClip = errors.New("unknown special clip")
)

// Executor is the part of the media runner the renderer needs.
type Executor interface {
	Exec(ctx context.Context, args []string) error
	Probe(ctx context.Context, path string) (ffmpeg.Artifact, error)
}

// Style is the caption look shared by every text unit of a task.
type Style struct {
	Font      string // font file; empty uses the fontconfig default
	FontSize  int
	TextColor string // #RRGGBB or #RRGGBBAA
	Padding   int
	Position  string // top, center, bottom or a fraction of the frame height
}

func (s Style) validate() error {
	if s.FontSize <= 0 {
		return fmt.Errorf("%w: font size must be positive, got %d", ErrRender, s.FontSize)
	}
	if s.Font != "" {
		if _, err := os.Stat(s.Font); err != nil {
			return fmt.Errorf("%w: font %s: %v", ErrRender, s.Font, err)
		}
	}
	if _, err := parseColor(s.TextColor); err != nil {
		return err
	}
	if _, err := positionExpr(s.Position, s.Padding); err != nil {
		return err
	}
	return nil
}

// Request is one text unit to render.
type Request struct {
	Text  string
	Words []speech.Word
	Audio string // narration muxed into the clip; empty renders a silent clip
	Style Style
	Frame ffmpeg.Frame
}

// Renderer draws word-timed captions onto a transparent canvas.
type Renderer struct {
	exec     Executor
	specials *Specials
	log      zerolog.Logger
}

func NewRenderer(exec Executor, specials *Specials, logger zerolog.Logger) *Renderer {
	return &Renderer{
		exec:     exec,
		specials: specials,
		log:      logging.WithComponent(logger, "caption"),
	}
}

// Render writes a caption clip for req to outPath. Its duration is the span of req.Words.
func (r *Renderer) Render(ctx context.Context, req Request, outPath string) (ffmpeg.Artifact, error) {
	if err := req.Style.validate(); err != nil {
		return ffmpeg.Artifact{}, err
	}
	span := speech.Span(req.Words)
	if span <= 0 {
		return ffmpeg.Artifact{Path: outPath, Width: req.Frame.Width, Height: req.Frame.Height}, nil
	}

	args, err := captionArgs(req, outPath)
	if err != nil {
		return ffmpeg.Artifact{}, err
	}
	if err := r.exec.Exec(ctx, args); err != nil {
		return ffmpeg.Artifact{}, fmt.Errorf("%w: %w", ErrRender, err)
	}

	clip, err := r.exec.Probe(ctx, outPath)
	if err != nil {
		return ffmpeg.Artifact{}, fmt.Errorf("%w: %w", ErrRender, err)
	}
	r.log.Debug().Str("text", truncate(req.Text, 40)).Float64("duration", clip.Duration).Msg("rendered caption")
	return clip, nil
}

// RenderSpecial renders the special clip a marker names.
func (r *Renderer) RenderSpecial(ctx context.Context, m Marker, style Style, frame ffmpeg.Frame, outPath string) (ffmpeg.Artifact, error) {
	build, ok := r.specials.lookup(m.Name)
	if !ok {
		return ffmpeg.Artifact{}, fmt.Errorf("%w: %q", ErrUnknownSpecialClip, m.Name)
	}
	if err := style.validate(); err != nil {
		return ffmpeg.Artifact{}, err
	}

	args, err := build(m.Arg, style, frame, outPath)
	if err != nil {
		return ffmpeg.Artifact{}, err
	}
	if err := r.exec.Exec(ctx, args); err != nil {
		return ffmpeg.Artifact{}, fmt.Errorf("%w: %s: %w", ErrRender, m.Name, err)
	}
	return r.exec.Probe(ctx, outPath)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
