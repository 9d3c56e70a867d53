package speech

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"vidgen/config"
	"vidgen/ffmpeg"
)

// SilenceWriter produces silent audio of a given length.
type SilenceWriter interface {
	Silence(ctx context.Context, duration float64, dst string) (ffmpeg.Artifact, error)
}

// Deps are the collaborators a backend factory may need.
type Deps struct {
	HTTPClient *http.Client
	Silence    SilenceWriter
}

// Factory builds a backend from configuration.
type Factory func(cfg *config.Config, deps Deps) (Backend, error)

// Registry maps backend names to factories.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces a backend factory.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Build constructs the backend registered under name.
func (r *Registry) Build(name string, cfg *config.Config, deps Deps) (Backend, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown TTS backend %q (available: %v)", ErrSynthesis, name, r.Names())
	}
	return f(cfg, deps)
}

// Names lists registered backends in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Builtin returns a registry holding every backend shipped with vidgen.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register("silence", newSilenceBackend)
	r.Register("elevenlabs", newElevenLabsBackend)
	r.Register("polly", newPollyBackend)
	return r
}
