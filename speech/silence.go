package speech

import (
	"context"
	"fmt"
	"strings"

	"vidgen/config"
)

// Silence paces text at a fixed speaking rate and writes silent audio of that length.
// It lets a task be rendered end to end without a TTS account.
type Silence struct {
	writer         SilenceWriter
	wordsPerMinute int
}

func newSilenceBackend(cfg *config.Config, deps Deps) (Backend, error) {
	if deps.Silence == nil {
		return nil, fmt.Errorf("silence backend needs an audio writer")
	}
	wpm := cfg.TTSWordsPerMinute
	if wpm <= 0 {
		wpm = 150
	}
	return &Silence{writer: deps.Silence, wordsPerMinute: wpm}, nil
}

func (s *Silence) Name() string { return "silence" }

// Duration is the spoken length of text at the configured rate.
func (s *Silence) Duration(text string) float64 {
	words := len(strings.Fields(text))
	return float64(words) * 60 / float64(s.wordsPerMinute)
}

func (s *Silence) Synthesize(ctx context.Context, text, outPath string) error {
	d := s.Duration(text)
	if d <= 0 {
		return fmt.Errorf("no words to pace")
	}
	_, err := s.writer.Silence(ctx, d, outPath)
	return err
}
