package ffmpeg

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// FilterBuilder helps construct ffmpeg filter chains
type FilterBuilder struct {
	filters []string
}

// NewFilterBuilder creates a new filter builder
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{
		filters: make([]string, 0),
	}
}

// Cover scales to fill the frame and crops the overflow.
func (fb *FilterBuilder) Cover(width, height int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		return fb
	}
	fb.filters = append(fb.filters,
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase", width, height),
		fmt.Sprintf("crop=%d:%d", width, height),
		"setsar=1",
	)
	return fb
}

// Fit scales inside the frame and pads the remainder with black.
func (fb *FilterBuilder) Fit(width, height int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		return fb
	}
	fb.filters = append(fb.filters,
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", width, height),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", width, height),
		"setsar=1",
	)
	return fb
}

// Scale adds a plain scale filter
func (fb *FilterBuilder) Scale(width, height int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("scale=%d:%d", width, height))
	return fb
}

// FPS adds an fps filter
func (fb *FilterBuilder) FPS(fps int) *FilterBuilder {
	if fps <= 0 {
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("fps=%d", fps))
	return fb
}

// Custom adds a custom filter string
func (fb *FilterBuilder) Custom(filter string) *FilterBuilder {
	if filter != "" {
		fb.filters = append(fb.filters, filter)
	}
	return fb
}

// Build returns the complete filter string joined with commas
func (fb *FilterBuilder) Build() string {
	return strings.Join(fb.filters, ",")
}

// Seconds formats a duration in seconds the way ffmpeg option parsers accept it.
func Seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

var stillExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".bmp": true, ".gif": true,
}

// IsStill reports whether a path names a still image by extension.
func IsStill(path string) bool {
	return stillExtensions[strings.ToLower(filepath.Ext(path))]
}

// codecArgs picks the encoder for an intermediate or final file by its extension.
// .mov outputs keep an alpha channel for caption layers.
func codecArgs(dst string, encodeArgs []string, audio bool) []string {
	var args []string
	if strings.EqualFold(filepath.Ext(dst), ".mov") {
		args = append(args, "-c:v", "qtrle", "-pix_fmt", "argb")
		if audio {
			args = append(args, "-c:a", "pcm_s16le")
		}
		return args
	}
	args = append(args, "-c:v", "libx264", "-pix_fmt", "yuv420p")
	args = append(args, encodeArgs...)
	if audio {
		args = append(args, "-c:a", "aac", "-ar", "44100")
	}
	return args
}

func fitArgs(src, dst string, opts FitOptions, encodeArgs []string) []string {
	d := Seconds(opts.Duration)
	var args []string
	if opts.Still || IsStill(src) {
		args = append(args, "-loop", "1", "-framerate", strconv.Itoa(opts.Frame.FPS), "-t", d, "-i", src)
	} else {
		args = append(args, "-stream_loop", "-1", "-t", d, "-i", src)
	}

	chain := NewFilterBuilder().
		Cover(opts.Frame.Width, opts.Frame.Height).
		FPS(opts.Frame.FPS).
		Custom(opts.Filter).
		Build()

	args = append(args, "-vf", chain, "-t", d, "-an")
	args = append(args, codecArgs(dst, encodeArgs, false)...)
	return append(args, dst)
}

func concatArgs(listFile, dst string) []string {
	return []string{"-f", "concat", "-safe", "0", "-i", listFile, "-c", "copy", dst}
}

// crossfadeGraph chains xfade (and acrossfade when requested) across n inputs.
func crossfadeGraph(n int, opts CrossfadeOptions, fps int) (graph, videoOut, audioOut string) {
	var parts []string
	for i := 0; i < n; i++ {
		parts = append(parts, fmt.Sprintf("[%d:v]fps=%d,settb=AVTB[s%d]", i, fps, i))
	}

	prev := "[s0]"
	for i := 1; i < n; i++ {
		label := fmt.Sprintf("[v%d]", i)
		parts = append(parts, fmt.Sprintf("%s[s%d]xfade=transition=%s:duration=%s:offset=%s%s",
			prev, i, opts.Transition, Seconds(opts.Duration), Seconds(opts.Offsets[i-1]), label))
		prev = label
	}
	videoOut = prev

	if opts.WithAudio {
		prevA := "[0:a]"
		for i := 1; i < n; i++ {
			label := fmt.Sprintf("[a%d]", i)
			parts = append(parts, fmt.Sprintf("%s[%d:a]acrossfade=d=%s%s", prevA, i, Seconds(opts.Duration), label))
			prevA = label
		}
		audioOut = prevA
	}
	return strings.Join(parts, ";"), videoOut, audioOut
}

func crossfadeArgs(inputs []string, dst string, opts CrossfadeOptions, fps int, encodeArgs []string) []string {
	var args []string
	for _, in := range inputs {
		args = append(args, "-i", in)
	}
	graph, v, a := crossfadeGraph(len(inputs), opts, fps)
	args = append(args, "-filter_complex", graph, "-map", v)
	if a != "" {
		args = append(args, "-map", a)
	} else {
		args = append(args, "-an")
	}
	args = append(args, codecArgs(dst, encodeArgs, a != "")...)
	return append(args, dst)
}

func overlayArgs(background, caption, dst string, opts OverlayOptions, encodeArgs []string) []string {
	bg := NewFilterBuilder().Cover(opts.Frame.Width, opts.Frame.Height).FPS(opts.Frame.FPS).Build()
	graph := fmt.Sprintf("[0:v]%s[bg];[bg][1:v]overlay=0:0:format=auto[v]", bg)

	args := []string{"-i", background, "-i", caption, "-filter_complex", graph, "-map", "[v]", "-map", "1:a?"}
	args = append(args, "-t", Seconds(opts.Duration))
	args = append(args, codecArgs(dst, encodeArgs, true)...)
	return append(args, dst)
}

const audioFormat = "aformat=sample_rates=44100:channel_layouts=stereo"

type finishPlan struct {
	inputs   []string
	graph    string
	video    string
	audio    string
	shortest bool
}

// planFinish builds the watermark, music and trailer filter graph. Input 0 is the main video,
// followed by watermark, music and trailer in that order when present.
func planFinish(main Artifact, opts FinishOptions) finishPlan {
	p := finishPlan{inputs: []string{"-i", main.Path}, video: "[0:v]", audio: "[0:a]"}
	next := 1
	var parts []string

	if !main.HasAudio {
		parts = append(parts, fmt.Sprintf("anullsrc=r=44100:cl=stereo,atrim=duration=%s[a0]", Seconds(main.Duration)))
		p.audio = "[a0]"
	}

	if opts.Watermark != "" {
		p.inputs = append(p.inputs, "-i", opts.Watermark)
		scale := strconv.FormatFloat(opts.WatermarkScale, 'f', -1, 64)
		parts = append(parts,
			fmt.Sprintf("[%d:v]scale=iw*%s:-1[wm]", next, scale),
			fmt.Sprintf("%s[wm]overlay=10:10[vwm]", p.video),
		)
		p.video = "[vwm]"
		next++
	}

	if opts.Music != "" {
		// Looped so short music still covers the whole video; amix stops with the main audio.
		p.inputs = append(p.inputs, "-stream_loop", "-1", "-i", opts.Music)
		vol := strconv.FormatFloat(opts.MusicVolume, 'f', -1, 64)
		parts = append(parts,
			fmt.Sprintf("[%d:a]volume=%s[bgm]", next, vol),
			fmt.Sprintf("%s[bgm]amix=inputs=2:duration=shortest:dropout_transition=0[amix]", p.audio),
		)
		p.audio = "[amix]"
		next++
		// With a trailer the concat filter pads the short stream instead.
		p.shortest = opts.Trailer == nil
	}

	if opts.Trailer != nil {
		p.inputs = append(p.inputs, "-i", opts.Trailer.Path)
		mainV := NewFilterBuilder().Scale(opts.Frame.Width, opts.Frame.Height).Custom("setsar=1").FPS(opts.Frame.FPS).Build()
		trailerV := NewFilterBuilder().Fit(opts.Frame.Width, opts.Frame.Height).FPS(opts.Frame.FPS).Build()
		parts = append(parts,
			fmt.Sprintf("%s%s[mv]", p.video, mainV),
			fmt.Sprintf("%s%s[ma]", p.audio, audioFormat),
			fmt.Sprintf("[%d:v]%s[tv]", next, trailerV),
		)
		if opts.Trailer.HasAudio {
			parts = append(parts, fmt.Sprintf("[%d:a]%s[ta]", next, audioFormat))
		} else {
			parts = append(parts, fmt.Sprintf("anullsrc=r=44100:cl=stereo,atrim=duration=%s[ta]", Seconds(opts.Trailer.Duration)))
		}
		parts = append(parts, "[mv][ma][tv][ta]concat=n=2:v=1:a=1[vout][aout]")
		p.video, p.audio = "[vout]", "[aout]"
	}

	p.graph = strings.Join(parts, ";")
	return p
}

// mapLabel turns an untouched input pad into a stream specifier usable by -map.
func mapLabel(label string) string {
	if label == "[0:v]" || label == "[0:a]" {
		return strings.Trim(label, "[]")
	}
	return label
}

func finishArgs(main Artifact, dst string, opts FinishOptions, encodeArgs []string) []string {
	if opts.Empty() {
		return []string{"-i", main.Path, "-c", "copy", dst}
	}
	p := planFinish(main, opts)

	args := append([]string{}, p.inputs...)
	args = append(args, "-filter_complex", p.graph, "-map", mapLabel(p.video), "-map", mapLabel(p.audio))
	args = append(args, codecArgs(dst, encodeArgs, true)...)
	if p.shortest {
		args = append(args, "-shortest")
	}
	return append(args, dst)
}

func silenceArgs(duration float64, dst string) []string {
	return []string{
		"-f", "lavfi", "-i", "anullsrc=r=44100:cl=stereo",
		"-t", Seconds(duration), "-c:a", "libmp3lame", "-q:a", "4", dst,
	}
}
