package speech

import (
	"context"
	"fmt"

	"vidgen/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/polly"
	"github.com/aws/aws-sdk-go/service/polly/pollyiface"
)

// Polly synthesizes speech with Amazon Polly. Credentials come from the default AWS chain.
type Polly struct {
	client pollyiface.PollyAPI
	voice  string
}

func newPollyBackend(cfg *config.Config, _ Deps) (Backend, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.PollyRegion),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return &Polly{client: polly.New(sess), voice: cfg.PollyVoice}, nil
}

func (p *Polly) Name() string { return "polly" }

func (p *Polly) Synthesize(ctx context.Context, text, outPath string) error {
	out, err := p.client.SynthesizeSpeechWithContext(ctx, &polly.SynthesizeSpeechInput{
		Text:         aws.String(text),
		OutputFormat: aws.String(polly.OutputFormatMp3),
		VoiceId:      aws.String(p.voice),
		Engine:       aws.String(polly.EngineStandard),
		SampleRate:   aws.String("22050"),
	})
	if err != nil {
		return fmt.Errorf("error calling AWS Polly SynthesizeSpeech: %w", err)
	}
	defer out.AudioStream.Close()

	return writeAudio(out.AudioStream, outPath)
}
