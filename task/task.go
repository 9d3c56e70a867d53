package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

var (
	ErrInvalidSegment  = errors.New("invalid segment")
	ErrInvalidSettings = errors.New("invalid video settings")
	ErrEmptyTask       = errors.New("task has no segments")
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Stage is the position of a task in the render pipeline.
type Stage string

const (
	StageInit              Stage = "init"
	StageSettingsGathered  Stage = "settings_gathered"
	StageSegmentsAssembled Stage = "segments_assembled"
	StageTimelinesChained  Stage = "timelines_chained"
	StageComposited        Stage = "composited"
	StageFinalized         Stage = "finalized"
	StageDone              Stage = "done"
	StageFailed            Stage = "failed"
)

// VideoSettings are the global render parameters of one task.
type VideoSettings struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	FPS       int    `json:"fps"`
	Title     string `json:"title"`
	FileType  string `json:"file_type"`
	Font      string `json:"font,omitempty"`
	FontSize  int    `json:"font_size"`
	TextColor string `json:"text_color"`
	Padding   int    `json:"padding"`
	BgAudio   string `json:"bg_audio,omitempty"`
	Watermark string `json:"watermark,omitempty"`
	EndVideo  string `json:"end_video,omitempty"`
}

// OutputName is the deliverable file name, <title>.<file_type>.
func (s VideoSettings) OutputName() string {
	return s.Title + "." + s.FileType
}

// Validate checks the invariants the renderer relies on.
func (s VideoSettings) Validate() error {
	if s.Width <= 0 || s.Height <= 0 || s.FPS <= 0 {
		return fmt.Errorf("%w: width, height and fps must be positive (got %dx%d@%d)", ErrInvalidSettings, s.Width, s.Height, s.FPS)
	}
	// yuv420p output needs even dimensions.
	if s.Width%2 != 0 || s.Height%2 != 0 {
		return fmt.Errorf("%w: width and height must be even (got %dx%d)", ErrInvalidSettings, s.Width, s.Height)
	}
	if s.FontSize <= 0 {
		return fmt.Errorf("%w: font_size must be positive", ErrInvalidSettings)
	}
	if s.Title == "" || s.FileType == "" {
		return fmt.Errorf("%w: title and file_type are required", ErrInvalidSettings)
	}
	return nil
}

// Segment is one ordered unit of content.
type Segment struct {
	Media      string   `json:"media"`
	Text       []string `json:"text"`
	Effects    []string `json:"effects,omitempty"`
	Transition string   `json:"transition,omitempty"`
	VPosition  string   `json:"v_position,omitempty"`
}

type Task struct {
	ID          string        `json:"id"`
	Status      Status        `json:"status"`
	Stage       Stage         `json:"stage"`
	FailedStage Stage         `json:"failedStage,omitempty"`
	Settings    VideoSettings `json:"settings"`
	Segments    []Segment     `json:"segments"`
	OutputPath  string        `json:"outputPath,omitempty"`
	DownloadURL string        `json:"downloadUrl,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	StartedAt   time.Time     `json:"startedAt,omitempty"`
	CompletedAt time.Time     `json:"completedAt,omitempty"`

	// mu guards the runtime fields once the task is shared with a worker.
	// ID, Settings and Segments never change after submission.
	mu         sync.RWMutex
	cancelFunc context.CancelFunc
}

// Update applies f to the task under its lock.
func (t *Task) Update(f func(t *Task)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f(t)
}

// finish records the end of a run. Callers hold t's lock.
func (t *Task) finish(at time.Time) {
	t.CompletedAt = at
	t.cancelFunc = nil
}

// Snapshot returns a copy of the task that is safe to read and modify while its worker
// keeps running.
func (t *Task) Snapshot() *Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &Task{
		ID:          t.ID,
		Status:      t.Status,
		Stage:       t.Stage,
		FailedStage: t.FailedStage,
		Settings:    t.Settings,
		Segments:    t.Segments,
		OutputPath:  t.OutputPath,
		DownloadURL: t.DownloadURL,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
}

// New builds a queued task with a fresh ID.
func New(settings VideoSettings, segments []Segment) (*Task, error) {
	if len(segments) == 0 {
		return nil, ErrEmptyTask
	}
	return &Task{
		ID:        NewID(),
		Status:    StatusQueued,
		Stage:     StageInit,
		Settings:  settings,
		Segments:  segments,
		CreatedAt: time.Now(),
	}, nil
}

// NewID returns a short unique task identifier.
func NewID() string {
	return fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix())
}
