package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// probeResult matches ffprobe JSON output structure
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

// Probe reads duration, frame size and audio presence of a media file.
func (r *Runner) Probe(ctx context.Context, path string) (Artifact, error) {
	if path == "" {
		return Artifact{}, fmt.Errorf("file path is required")
	}
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	var out bytes.Buffer
	if err := r.run(ctx, r.ffprobePath, args, &out); err != nil {
		return Artifact{}, fmt.Errorf("probe %s: %w", path, err)
	}
	return parseProbe(path, out.Bytes())
}

func parseProbe(path string, data []byte) (Artifact, error) {
	var probe probeResult
	if err := json.Unmarshal(data, &probe); err != nil {
		return Artifact{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	a := Artifact{Path: path}
	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		a.Duration = d
	}
	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			if a.Width == 0 {
				a.Width, a.Height = s.Width, s.Height
			}
			// Still images report no container duration.
			if a.Duration == 0 {
				if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
					a.Duration = d
				}
			}
		case "audio":
			a.HasAudio = true
		}
	}
	if a.Width == 0 && !a.HasAudio {
		return Artifact{}, fmt.Errorf("%s: no audio or video streams: %w", path, ErrToolFailure)
	}
	return a, nil
}
