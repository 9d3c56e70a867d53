package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied to settings keys a task leaves out.
var DefaultSettings = VideoSettings{
	Width:     720,
	Height:    1080,
	FPS:       24,
	Title:     "no_title",
	FileType:  "mp4",
	FontSize:  50,
	TextColor: "#FFFFFF",
	Padding:   40,
}

type settingsDoc struct {
	Width     *int   `json:"width"`
	Height    *int   `json:"height"`
	FPS       *int   `json:"fps"`
	Frame     *int   `json:"frame"` // older task files name fps "frame"
	Title     string `json:"title"`
	FileType  string `json:"file_type"`
	Font      string `json:"font"`
	FontSize  *int   `json:"font_size"`
	TextColor string `json:"text_color"`
	Padding   *int   `json:"padding"`
	BgAudio   string `json:"bg_audio"`
	Watermark string `json:"watermark"`
	EndVideo  string `json:"end_video"`
}

type segmentDoc struct {
	Video      *string         `json:"video"`
	Image      *string         `json:"image"`
	Text       json.RawMessage `json:"text"`
	Effect     json.RawMessage `json:"effect"`
	Transition string          `json:"transition"`
	VPosition  json.RawMessage `json:"v_position"`
}

var (
	fileTypePattern = regexp.MustCompile(`^[a-z0-9]+$`)
	unsafeTitle     = regexp.MustCompile(`[/\\:*?"<>|\x00-\x1f]+`)
)

// ParseFile reads a task file. The file holds one task (a list) or a batch (a list of
// lists); YAML is selected by the .yaml or .yml extension.
func ParseFile(path string) ([]*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return Parse(data)
	}
}

// ParseYAML decodes YAML and parses it like JSON input.
func ParseYAML(data []byte) ([]*Task, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return Parse(raw)
}

// Parse decodes JSON task input, either a single task or a batch.
func Parse(data []byte) ([]*Task, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("%w: task input must be a list: %v", ErrInvalidSettings, err)
	}
	if len(elems) == 0 {
		return nil, ErrEmptyTask
	}

	if !isList(elems[0]) {
		t, err := parseTask(elems)
		if err != nil {
			return nil, err
		}
		return []*Task{t}, nil
	}

	tasks := make([]*Task, 0, len(elems))
	for i, e := range elems {
		var inner []json.RawMessage
		if err := json.Unmarshal(e, &inner); err != nil {
			return nil, fmt.Errorf("%w: batch entry %d is not a list", ErrInvalidSettings, i)
		}
		t, err := parseTask(inner)
		if err != nil {
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// ParseTask decodes exactly one task.
func ParseTask(data []byte) (*Task, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("%w: task input must be a list: %v", ErrInvalidSettings, err)
	}
	return parseTask(elems)
}

func isList(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	return len(b) > 0 && b[0] == '['
}

func parseTask(elems []json.RawMessage) (*Task, error) {
	if len(elems) == 0 {
		return nil, ErrEmptyTask
	}
	settings, err := parseSettings(elems[0])
	if err != nil {
		return nil, err
	}

	segments := make([]Segment, 0, len(elems)-1)
	for i, raw := range elems[1:] {
		seg, err := parseSegment(raw)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		segments = append(segments, seg)
	}
	return New(settings, segments)
}

func parseSettings(raw json.RawMessage) (VideoSettings, error) {
	var doc settingsDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return VideoSettings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	s := DefaultSettings
	setInt(&s.Width, doc.Width)
	setInt(&s.Height, doc.Height)
	setInt(&s.FPS, doc.Frame)
	setInt(&s.FPS, doc.FPS)
	setInt(&s.FontSize, doc.FontSize)
	setInt(&s.Padding, doc.Padding)
	if doc.Title != "" {
		s.Title = strings.TrimSpace(unsafeTitle.ReplaceAllString(doc.Title, "_"))
	}
	if doc.FileType != "" {
		s.FileType = strings.ToLower(strings.TrimPrefix(doc.FileType, "."))
	}
	if doc.TextColor != "" {
		s.TextColor = doc.TextColor
	}
	s.Font = doc.Font
	s.BgAudio = doc.BgAudio
	s.Watermark = doc.Watermark
	s.EndVideo = doc.EndVideo

	if !fileTypePattern.MatchString(s.FileType) {
		return VideoSettings{}, fmt.Errorf("%w: file_type must name exactly one format, got %q", ErrInvalidSettings, doc.FileType)
	}
	if err := s.Validate(); err != nil {
		return VideoSettings{}, err
	}
	return s, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func parseSegment(raw json.RawMessage) (Segment, error) {
	var doc segmentDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Segment{}, fmt.Errorf("%w: %v", ErrInvalidSegment, err)
	}
	if doc.Text == nil && doc.Video == nil && doc.Image == nil {
		return Segment{}, fmt.Errorf("%w: needs a text key or a media key", ErrInvalidSegment)
	}

	var seg Segment
	switch {
	case doc.Video != nil && doc.Image != nil:
		return Segment{}, fmt.Errorf("%w: set either video or image, not both", ErrInvalidSegment)
	case doc.Video != nil:
		seg.Media = *doc.Video
	case doc.Image != nil:
		seg.Media = *doc.Image
	}
	if strings.TrimSpace(seg.Media) == "" {
		return Segment{}, fmt.Errorf("%w: missing background media", ErrInvalidSegment)
	}

	text, err := stringList(doc.Text)
	if err != nil {
		return Segment{}, fmt.Errorf("%w: text: %v", ErrInvalidSegment, err)
	}
	for _, t := range text {
		if strings.TrimSpace(t) != "" {
			seg.Text = append(seg.Text, t)
		}
	}
	if len(seg.Text) == 0 {
		return Segment{}, fmt.Errorf("%w: needs at least one text unit or marker", ErrInvalidSegment)
	}

	seg.Effects, err = stringList(doc.Effect)
	if err != nil {
		return Segment{}, fmt.Errorf("%w: effect: %v", ErrInvalidSegment, err)
	}
	seg.Transition = strings.TrimSpace(doc.Transition)
	seg.VPosition, err = position(doc.VPosition)
	if err != nil {
		return Segment{}, err
	}
	return seg, nil
}

// stringList accepts a single string or a list of strings.
func stringList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("want a string or a list of strings")
	}
	return many, nil
}

func position(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if f < 0 || f > 1 {
			return "", fmt.Errorf("%w: v_position %v outside [0,1]", ErrInvalidSegment, f)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: v_position must be a string or a number", ErrInvalidSegment)
	}
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "top", "center", "bottom":
		return s, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && f <= 1 {
		return s, nil
	}
	return "", fmt.Errorf("%w: invalid v_position %q", ErrInvalidSegment, s)
}
