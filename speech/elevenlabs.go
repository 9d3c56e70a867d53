package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"vidgen/config"
)

const (
	elevenLabsMaxRetries = 3
	elevenLabsRetryDelay = 2 * time.Second
)

// ElevenLabs calls the ElevenLabs text-to-speech REST API.
type ElevenLabs struct {
	httpClient *http.Client
	apiURL     string
	apiKey     string
	voiceID    string
	modelID    string
	retryDelay time.Duration
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// ElevenLabsHTTPError carries the API's error payload.
type ElevenLabsHTTPError struct {
	StatusCode int
	Status     string
	Message    string
	RawBody    string
}

func (e *ElevenLabsHTTPError) Error() string {
	return fmt.Sprintf("elevenlabs: HTTP %d: %s", e.StatusCode, e.Message)
}

func newElevenLabsBackend(cfg *config.Config, deps Deps) (Backend, error) {
	if cfg.ElevenLabsAPIKey == "" || cfg.ElevenLabsVoiceID == "" {
		return nil, fmt.Errorf("elevenlabs backend needs ELEVENLABS_API_KEY and ELEVENLABS_VOICE_ID")
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &ElevenLabs{
		httpClient: client,
		apiURL:     strings.TrimSuffix(cfg.ElevenLabsAPIURL, "/"),
		apiKey:     cfg.ElevenLabsAPIKey,
		voiceID:    cfg.ElevenLabsVoiceID,
		modelID:    cfg.ElevenLabsModelID,
		retryDelay: elevenLabsRetryDelay,
	}, nil
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

func (e *ElevenLabs) Synthesize(ctx context.Context, text, outPath string) error {
	var err error
	for attempt := 1; attempt <= elevenLabsMaxRetries; attempt++ {
		err = e.call(ctx, text, outPath)
		if err == nil {
			return nil
		}
		// Quota and auth errors will not recover on retry.
		if httpErr, ok := err.(*ElevenLabsHTTPError); ok && httpErr.StatusCode < 500 {
			return err
		}
		if attempt == elevenLabsMaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.retryDelay):
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", elevenLabsMaxRetries, err)
}

func (e *ElevenLabs) call(ctx context.Context, text, outPath string) error {
	body, err := json.Marshal(map[string]interface{}{
		"text":     text,
		"model_id": e.modelID,
		"voice_settings": voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return fmt.Errorf("error marshaling request body: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", e.apiURL, e.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		httpErr := &ElevenLabsHTTPError{StatusCode: resp.StatusCode, Status: resp.Status, RawBody: string(raw)}
		var payload struct {
			Detail struct {
				Message string `json:"message"`
			} `json:"detail"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Detail.Message != "" {
			httpErr.Message = payload.Detail.Message
		} else {
			httpErr.Message = resp.Status
		}
		return httpErr
	}

	return writeAudio(resp.Body, outPath)
}

func writeAudio(r io.Reader, outPath string) error {
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create audio file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(outPath)
		return fmt.Errorf("failed to write audio data: %w", err)
	}
	return f.Close()
}
