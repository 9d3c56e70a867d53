package engine

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"

	"vidgen/caption"
	"vidgen/effect"
	"vidgen/ffmpeg"
	"vidgen/logging"
	"vidgen/task"

	"github.com/rs/zerolog"
)

// Assembler builds the caption track and the matching background of one segment.
type Assembler struct {
	exec     MediaExecutor
	speech   SpeechService
	captions CaptionRenderer
	effects  *effect.Registry
	media    mediaResolver
	log      zerolog.Logger
}

// NewAssembler wires an assembler. Remote media is fetched with client and bounded by
// maxInputSize bytes, as are local files.
func NewAssembler(exec MediaExecutor, speech SpeechService, captions CaptionRenderer, effects *effect.Registry, client *http.Client, maxInputSize int64, logger zerolog.Logger) *Assembler {
	if effects == nil {
		effects = effect.Builtin()
	}
	return &Assembler{
		exec:     exec,
		speech:   speech,
		captions: captions,
		effects:  effects,
		media:    mediaResolver{client: client, maxSize: maxInputSize},
		log:      logging.WithComponent(logger, "assembler"),
	}
}

// Assemble returns the caption track and background of segment index. Both have the same
// duration, the sum of the segment's caption clips. Failures are wrapped in *AssemblyError.
func (a *Assembler) Assemble(ctx context.Context, res *Resources, index int, seg task.Segment, settings task.VideoSettings) (captionTrack, background ffmpeg.Artifact, err error) {
	log := a.log.With().Int("segment", index).Logger()
	wrap := func(err error) (ffmpeg.Artifact, ffmpeg.Artifact, error) {
		return ffmpeg.Artifact{}, ffmpeg.Artifact{}, &AssemblyError{Index: index, Err: err}
	}

	media, err := a.media.resolve(ctx, res, seg.Media, "media")
	if err != nil {
		return wrap(err)
	}

	frame := frameOf(settings)
	captionTrack, err = a.captionTrack(ctx, res, log, seg, settings, frame)
	if err != nil {
		return wrap(err)
	}

	background, err = a.background(ctx, res, log, media, seg.Effects, frame, captionTrack.Duration)
	if err != nil {
		return wrap(err)
	}
	if media.Fetched {
		a.release(res, log, media.Path)
	}

	log.Debug().Float64("duration", captionTrack.Duration).Float64("background", background.Duration).Msg("segment assembled")
	return captionTrack, background, nil
}

func (a *Assembler) captionTrack(ctx context.Context, res *Resources, log zerolog.Logger, seg task.Segment, settings task.VideoSettings, frame ffmpeg.Frame) (ffmpeg.Artifact, error) {
	style := styleOf(settings, seg.VPosition)

	var clips []ffmpeg.Artifact
	total := 0.0
	for _, text := range seg.Text {
		clip, err := a.textClip(ctx, res, text, style, frame)
		if err != nil {
			return ffmpeg.Artifact{}, err
		}
		if clip.Duration <= 0 {
			log.Warn().Str("text", text).Msg("text unit produced an empty clip, skipping")
			a.release(res, log, clip.Path)
			continue
		}
		clips = append(clips, clip)
		total += clip.Duration
	}

	switch len(clips) {
	case 0:
		return ffmpeg.Artifact{}, fmt.Errorf("%w: no caption clip has a duration", task.ErrInvalidSegment)
	case 1:
		return clips[0], nil
	}

	out, err := res.CreateTemp("caption", "mov")
	if err != nil {
		return ffmpeg.Artifact{}, err
	}
	paths := make([]string, len(clips))
	for i, c := range clips {
		paths[i] = c.Path
	}
	track, err := a.exec.Concat(ctx, paths, out)
	if err != nil {
		return ffmpeg.Artifact{}, err
	}
	for _, p := range paths {
		a.release(res, log, p)
	}

	if math.Abs(track.Duration-total) > frame.Interval() {
		log.Warn().Float64("expected", total).Float64("actual", track.Duration).Msg("caption track duration drifted from its clips")
	}
	return track, nil
}

// textClip renders one text unit: a special clip for a marker, narrated captions otherwise.
func (a *Assembler) textClip(ctx context.Context, res *Resources, text string, style caption.Style, frame ffmpeg.Frame) (ffmpeg.Artifact, error) {
	if m, ok := caption.ParseMarker(text); ok {
		out, err := res.CreateTemp("special", "mov")
		if err != nil {
			return ffmpeg.Artifact{}, err
		}
		return a.captions.RenderSpecial(ctx, m, style, frame, out)
	}

	voice, err := res.CreateTemp("speech", "mp3")
	if err != nil {
		return ffmpeg.Artifact{}, err
	}
	narration, err := a.speech.Synthesize(ctx, text, voice)
	if err != nil {
		return ffmpeg.Artifact{}, err
	}

	out, err := res.CreateTemp("nano", "mov")
	if err != nil {
		return ffmpeg.Artifact{}, err
	}
	clip, err := a.captions.Render(ctx, caption.Request{
		Text:  text,
		Words: narration.Words,
		Audio: narration.Audio.Path,
		Style: style,
		Frame: frame,
	}, out)
	if err != nil {
		return ffmpeg.Artifact{}, err
	}
	// The narration now lives inside the clip.
	a.release(res, a.log, voice)
	return clip, nil
}

// background runs the effect chain over media, each step fitted to duration and the frame.
func (a *Assembler) background(ctx context.Context, res *Resources, log zerolog.Logger, media resolvedMedia, names []string, frame ffmpeg.Frame, duration float64) (ffmpeg.Artifact, error) {
	chain := a.resolveEffects(log, names)
	params := effect.Params{Width: frame.Width, Height: frame.Height, FPS: frame.FPS, Duration: duration}

	current := media.Path
	var out ffmpeg.Artifact
	for i, e := range chain {
		dst, err := res.CreateTemp("bg", "mp4")
		if err != nil {
			return ffmpeg.Artifact{}, err
		}
		out, err = a.exec.Fit(ctx, current, dst, ffmpeg.FitOptions{
			Frame:    frame,
			Duration: duration,
			Filter:   e.Filter(params),
			Still:    i == 0 && media.Still,
		})
		if err != nil {
			return ffmpeg.Artifact{}, fmt.Errorf("effect %s: %w", e.Name(), err)
		}
		if current != media.Path {
			a.release(res, log, current)
		}
		current = dst
	}

	if math.Abs(out.Duration-duration) > frame.Interval() {
		log.Warn().Float64("expected", duration).Float64("actual", out.Duration).Msg("background duration differs from caption track")
	}
	return out, nil
}

func (a *Assembler) resolveEffects(log zerolog.Logger, names []string) []effect.Effect {
	if len(names) == 0 {
		return []effect.Effect{effect.Identity}
	}
	chain := make([]effect.Effect, 0, len(names))
	for _, n := range names {
		e, ok := a.effects.Lookup(n)
		if !ok {
			log.Warn().Str("effect", n).Strs("known", a.effects.Names()).Msg("unknown effect, using identity")
			e = effect.Identity
		}
		chain = append(chain, e)
	}
	return chain
}

func (a *Assembler) release(res *Resources, log zerolog.Logger, p string) {
	if err := res.Release(p); err != nil {
		log.Warn().Err(err).Str("path", p).Msg("release intermediate")
	}
}

func frameOf(s task.VideoSettings) ffmpeg.Frame {
	return ffmpeg.Frame{Width: s.Width, Height: s.Height, FPS: s.FPS}
}

func styleOf(s task.VideoSettings, position string) caption.Style {
	return caption.Style{
		Font:      s.Font,
		FontSize:  s.FontSize,
		TextColor: s.TextColor,
		Padding:   s.Padding,
		Position:  strings.TrimSpace(position),
	}
}
