// Package effect holds the stylistic transforms applied to segment backgrounds.
//
// Every effect runs after the background has been looped, trimmed and scaled to the frame,
// so a filter only has to describe the look, never the geometry or timing.
package effect

import (
	"fmt"
	"sort"
	"strings"
)

// Params describe the clip an effect is applied to.
type Params struct {
	Width    int
	Height   int
	FPS      int
	Duration float64
}

// Frames is the number of output frames of the clip.
func (p Params) Frames() int {
	n := int(p.Duration*float64(p.FPS) + 0.5)
	if n < 1 {
		return 1
	}
	return n
}

// Effect turns clip parameters into an ffmpeg filter chain fragment.
// An empty fragment means the clip passes through unchanged.
type Effect interface {
	Name() string
	Filter(p Params) string
}

// Func adapts a function to the Effect interface.
type Func struct {
	name   string
	filter func(Params) string
}

func NewFunc(name string, filter func(Params) string) Func {
	return Func{name: name, filter: filter}
}

func (f Func) Name() string           { return f.name }
func (f Func) Filter(p Params) string { return f.filter(p) }

// Identity is the effect used for an empty effect list.
var Identity Effect = NewFunc("none", func(Params) string { return "" })

// Registry maps effect names to implementations.
type Registry struct {
	effects map[string]Effect
}

func NewRegistry() *Registry {
	return &Registry{effects: make(map[string]Effect)}
}

// Register adds e under its name and any aliases.
func (r *Registry) Register(e Effect, aliases ...string) {
	r.effects[strings.ToLower(e.Name())] = e
	for _, a := range aliases {
		r.effects[strings.ToLower(a)] = e
	}
}

// Lookup finds an effect by case-insensitive name.
func (r *Registry) Lookup(name string) (Effect, bool) {
	e, ok := r.effects[strings.ToLower(strings.TrimSpace(name))]
	return e, ok
}

// Names lists every registered name, aliases included.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.effects))
	for n := range r.effects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Builtin returns the registry of shipped effects.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(Identity, "identity", "no_effect")
	r.Register(NewFunc("zoom_center", zoomIn("(1-1/zoom)*iw/2", "(1-1/zoom)*ih/2")), "ken_burns", "zoom")
	r.Register(NewFunc("zoom_top", zoomIn("0", "0")))
	r.Register(NewFunc("zoom_bottom", zoomIn("(1-1/zoom)*iw/2", "(1-1/zoom)*(ih-ih/4)")))
	r.Register(NewFunc("zoom_out", zoomOut))
	r.Register(NewFunc("pan_left", panLeft))
	r.Register(NewFunc("pan_right", panRight))
	r.Register(NewFunc("grayscale", func(Params) string { return "hue=s=0" }))
	r.Register(NewFunc("vignette", func(Params) string { return "vignette=PI/5" }))
	return r
}

const targetZoom = 1.5

// zoomIn reaches targetZoom on the last frame of the clip, anchored at x,y.
func zoomIn(x, y string) func(Params) string {
	return func(p Params) string {
		perFrame := (targetZoom - 1) / float64(p.Frames())
		return fmt.Sprintf("zoompan=z='1+%.6f*on':x='%s':y='%s':d=1:s=%dx%d:fps=%d",
			perFrame, x, y, p.Width, p.Height, p.FPS)
	}
}

func zoomOut(p Params) string {
	perFrame := (targetZoom - 1) / float64(p.Frames())
	return fmt.Sprintf("zoompan=z='max(%.1f-%.6f*on,1)':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=1:s=%dx%d:fps=%d",
		targetZoom, perFrame, p.Width, p.Height, p.FPS)
}

const panZoom = 1.1

func panLeft(p Params) string {
	step := float64(p.Width) * (1 - 1/panZoom) / float64(p.Frames())
	return fmt.Sprintf("zoompan=z='%.1f':x='max(0,iw-(iw/zoom)-%.6f*on)':y='ih/2-(ih/zoom/2)':d=1:s=%dx%d:fps=%d",
		panZoom, step, p.Width, p.Height, p.FPS)
}

func panRight(p Params) string {
	step := float64(p.Width) * (1 - 1/panZoom) / float64(p.Frames())
	return fmt.Sprintf("zoompan=z='%.1f':x='min(iw-(iw/zoom),%.6f*on)':y='ih/2-(ih/zoom/2)':d=1:s=%dx%d:fps=%d",
		panZoom, step, p.Width, p.Height, p.FPS)
}
