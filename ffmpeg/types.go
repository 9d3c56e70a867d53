package ffmpeg

import (
	"errors"
	"fmt"
)

// ErrToolFailure is matched by every failed ffmpeg or ffprobe invocation.
var ErrToolFailure = errors.New("external tool failure")

// Artifact is a media file produced or consumed by a pipeline stage.
type Artifact struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration"` // seconds
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	HasAudio bool    `json:"hasAudio,omitempty"`
}

// ExitError reports a non-zero exit of ffmpeg or ffprobe.
type ExitError struct {
	Tool       string
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %v: %s", e.Tool, e.ExitCode, e.Err, e.StderrTail)
}

func (e *ExitError) Unwrap() []error { return []error{ErrToolFailure, e.Err} }

// Frame is the target canvas of a render.
type Frame struct {
	Width  int
	Height int
	FPS    int
}

// Interval is the duration of one frame in seconds.
func (f Frame) Interval() float64 {
	if f.FPS <= 0 {
		return 0
	}
	return 1 / float64(f.FPS)
}

// FitOptions describes one loop/trim/scale pass, optionally followed by a stylistic filter.
type FitOptions struct {
	Frame    Frame
	Duration float64
	// Filter is appended after the scale/crop chain. Empty means no stylistic transform.
	Filter string
	// Still forces image input handling even for unknown extensions.
	Still bool
}

// CrossfadeOptions configures an xfade chain across inputs.
type CrossfadeOptions struct {
	Transition string
	Duration   float64
	// Offsets holds one xfade offset per boundary, len(inputs)-1 entries.
	Offsets   []float64
	WithAudio bool
}

// OverlayOptions configures the caption-over-background composite.
type OverlayOptions struct {
	Frame    Frame
	Duration float64
}

// FinishOptions configures the finishing pass. Empty paths skip their step.
type FinishOptions struct {
	Frame          Frame
	Watermark      string
	WatermarkScale float64
	Music          string
	MusicVolume    float64
	Trailer        *Artifact
}

// Empty reports whether no finishing step is requested.
func (o FinishOptions) Empty() bool {
	return o.Watermark == "" && o.Music == "" && o.Trailer == nil
}
