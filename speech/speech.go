package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vidgen/ffmpeg"
	"vidgen/logging"

	"github.com/rs/zerolog"
)

// ErrSynthesis is matched by every speech failure, including empty text and unavailable backends.
var ErrSynthesis = errors.New("speech synthesis failed")

// Word is one spoken word, in seconds from the start of its audio.
type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the narration for one text unit.
type Result struct {
	Audio ffmpeg.Artifact
	Words []Word
}

// Backend writes synthesized speech for text to outPath.
type Backend interface {
	Name() string
	Synthesize(ctx context.Context, text, outPath string) error
}

// Prober reads the duration of the synthesized audio.
type Prober interface {
	Probe(ctx context.Context, path string) (ffmpeg.Artifact, error)
}

// Service turns text into audio plus word timings.
type Service struct {
	backend Backend
	prober  Prober
	log     zerolog.Logger
}

func NewService(backend Backend, prober Prober, logger zerolog.Logger) *Service {
	return &Service{
		backend: backend,
		prober:  prober,
		log:     logging.WithComponent(logger, "speech").With().Str("backend", backend.Name()).Logger(),
	}
}

// Synthesize narrates text into outPath and derives word timings from the audio duration.
func (s *Service) Synthesize(ctx context.Context, text, outPath string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, fmt.Errorf("%w: empty text", ErrSynthesis)
	}

	if err := s.backend.Synthesize(ctx, text, outPath); err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrSynthesis, s.backend.Name(), err)
	}

	audio, err := s.prober.Probe(ctx, outPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: probe audio: %w", ErrSynthesis, err)
	}
	if audio.Duration <= 0 {
		return Result{}, fmt.Errorf("%w: %s produced empty audio", ErrSynthesis, s.backend.Name())
	}

	words := EvenTimestamps(text, audio.Duration)
	s.log.Debug().Int("words", len(words)).Float64("duration", audio.Duration).Msg("synthesized")
	return Result{Audio: audio, Words: words}, nil
}

// EvenTimestamps spreads duration evenly over the whitespace separated words of text.
// Words are contiguous and the last one ends exactly at duration.
func EvenTimestamps(text string, duration float64) []Word {
	fields := strings.Fields(text)
	if len(fields) == 0 || duration <= 0 {
		return nil
	}

	n := float64(len(fields))
	words := make([]Word, len(fields))
	for i, f := range fields {
		words[i] = Word{
			Start: duration * float64(i) / n,
			End:   duration * float64(i+1) / n,
			Text:  f,
		}
	}
	words[len(words)-1].End = duration
	return words
}

// Span is the time covered by words, zero when there are none.
func Span(words []Word) float64 {
	if len(words) == 0 {
		return 0
	}
	return words[len(words)-1].End - words[0].Start
}
