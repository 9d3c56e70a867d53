// vidgen/task/manager.go
package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vidgen/config"
	"vidgen/logging"

	"github.com/rs/zerolog"
)

// Runner renders one task and returns the path of the deliverable.
type Runner interface {
	Run(ctx context.Context, t *Task) (outputPath string, err error)
}

// Counts are the manager-wide outcome totals.
type Counts struct {
	Queued    int `json:"queued"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Canceled  int `json:"canceled"`
}

type Manager struct {
	cfg            *config.Config
	log            zerolog.Logger
	tasks          sync.Map
	taskQueue      chan *Task
	concurrencySem chan struct{}
	runner         Runner

	mu     sync.Mutex
	counts Counts
}

func NewManager(cfg *config.Config, runner Runner, logger zerolog.Logger) (*Manager, error) {
	if runner == nil {
		return nil, errors.New("task manager needs a runner")
	}
	m := &Manager{
		cfg:            cfg,
		log:            logging.WithComponent(logger, "task_manager"),
		taskQueue:      make(chan *Task, 100),
		concurrencySem: make(chan struct{}, cfg.MaxConcurrency),
		runner:         runner,
	}
	return m, nil
}

func (m *Manager) Start(ctx context.Context) {
	m.log.Info().Int("concurrency", m.cfg.MaxConcurrency).Msg("task manager started")
	if m.cfg.OutputLocalLifetime > 0 {
		go m.cleanupLoop(ctx)
	}
	go m.workerLoop(ctx)
}

// workerLoop pulls tasks from the queue and processes them. With MaxConcurrency 1
// tasks finish strictly in submission order.
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("worker loop shutting down")
			return
		case task := <-m.taskQueue:
			select {
			case m.concurrencySem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(t *Task) {
				defer func() { <-m.concurrencySem }()
				m.processTask(ctx, t)
			}(task)
		}
	}
}

func (m *Manager) processTask(parentCtx context.Context, t *Task) {
	taskCtx, cancel := context.WithTimeout(parentCtx, m.cfg.FFTimeout)
	defer cancel()

	log := m.log.With().Str("task_id", t.ID).Str("title", t.Settings.Title).Logger()

	canceled := false
	t.Update(func(t *Task) {
		if t.Status == StatusCanceled {
			canceled = true
			return
		}
		t.cancelFunc = cancel
		t.Status = StatusProcessing
		t.StartedAt = time.Now()
	})
	if canceled {
		log.Info().Msg("task was canceled before processing")
		return
	}

	log.Info().Int("segments", len(t.Segments)).Msg("processing task")
	m.adjust(func(c *Counts) { c.Queued-- })

	out, err := m.runner.Run(taskCtx, t)
	done := time.Now()

	// Counters move before the status so a caller that observes the final status also
	// observes the totals.
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		log.Warn().Err(err).Msg("task canceled or timed out")
		m.adjust(func(c *Counts) { c.Canceled++ })
		t.Update(func(t *Task) {
			t.finish(done)
			t.Error = "task was canceled or timed out"
			t.Status = StatusCanceled
		})
	case err != nil:
		log.Error().Err(err).Str("stage", string(t.Snapshot().FailedStage)).Msg("task failed")
		m.adjust(func(c *Counts) { c.Failed++ })
		t.Update(func(t *Task) {
			t.finish(done)
			t.Error = err.Error()
			t.Status = StatusFailed
		})
	default:
		log.Info().Str("output", out).Dur("elapsed", done.Sub(t.Snapshot().StartedAt)).Msg("task completed")
		m.adjust(func(c *Counts) { c.Succeeded++ })
		t.Update(func(t *Task) {
			t.finish(done)
			t.OutputPath = out
			t.Status = StatusCompleted
		})
	}
}


func (m *Manager) adjust(f func(*Counts)) {
	m.mu.Lock()
	f(&m.counts)
	m.mu.Unlock()
}

// Summary returns the outcome totals so far.
func (m *Manager) Summary() Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts
}

// cleanupLoop periodically removes outputs older than OutputLocalLifetime.
func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.OutputLocalLifetime / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("cleanup loop shutting down")
			return
		case <-ticker.C:
			m.cleanup(time.Now())
		}
	}
}

func (m *Manager) cleanup(now time.Time) {
	m.tasks.Range(func(key, value interface{}) bool {
		t := value.(*Task)
		t.Update(func(t *Task) {
			if t.Status != StatusCompleted || t.OutputPath == "" {
				return
			}
			if now.Sub(t.CompletedAt) <= m.cfg.OutputLocalLifetime {
				return
			}
			m.log.Info().Str("task_id", t.ID).Str("path", t.OutputPath).Msg("removing expired output")
			if err := os.Remove(t.OutputPath); err != nil && !os.IsNotExist(err) {
				m.log.Warn().Err(err).Str("path", t.OutputPath).Msg("remove expired output")
				return
			}
			t.OutputPath = ""
		})
		return true
	})
}

// Submit queues a parsed task and returns a snapshot of it. The manager owns t from
// then on; read it back through Get.
func (m *Manager) Submit(t *Task) (*Task, error) {
	if len(t.Segments) == 0 {
		return nil, ErrEmptyTask
	}
	if t.ID == "" {
		t.ID = NewID()
	}
	t.Status = StatusQueued
	t.Stage = StageInit
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	snap := t.Snapshot()

	m.tasks.Store(t.ID, t)
	select {
	case m.taskQueue <- t:
	default:
		m.tasks.Delete(t.ID)
		return nil, fmt.Errorf("task queue is full")
	}
	m.adjust(func(c *Counts) { c.Queued++ })
	m.log.Info().Str("task_id", t.ID).Str("title", t.Settings.Title).Msg("task submitted to queue")
	return snap, nil
}

// Get returns a snapshot of the task.
func (m *Manager) Get(taskID string) (*Task, bool) {
	if val, ok := m.tasks.Load(taskID); ok {
		return val.(*Task).Snapshot(), true
	}
	return nil, false
}

func (m *Manager) List() []*Task {
	var taskList []*Task
	m.tasks.Range(func(key, value interface{}) bool {
		taskList = append(taskList, value.(*Task).Snapshot())
		return true
	})
	return taskList
}

func (m *Manager) Cancel(taskID string) error {
	val, ok := m.tasks.Load(taskID)
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}

	t := val.(*Task)
	var (
		err      error
		wasQueue bool
		cancel   context.CancelFunc
	)
	t.Update(func(t *Task) {
		switch t.Status {
		case StatusCompleted, StatusFailed, StatusCanceled:
			err = fmt.Errorf("cannot cancel task in state: %s", t.Status)
		case StatusQueued:
			t.Status = StatusCanceled
			t.Error = "canceled by user while in queue"
			wasQueue = true
		case StatusProcessing:
			cancel = t.cancelFunc
			if cancel == nil {
				err = fmt.Errorf("task %s is processing but has no cancellation handle", t.ID)
			}
		}
	})
	if err != nil {
		return err
	}

	if wasQueue {
		m.adjust(func(c *Counts) {
			c.Queued--
			c.Canceled++
		})
		m.log.Info().Str("task_id", t.ID).Msg("task marked as canceled in queue")
		return nil
	}
	if cancel != nil {
		cancel()
		m.log.Info().Str("task_id", t.ID).Msg("cancellation signal sent to running task")
	}
	return nil
}

// GetFilePath resolves a deliverable name inside the output directory.
func (m *Manager) GetFilePath(filename string) (string, error) {
	cleanFilename := filepath.Base(filename)
	if cleanFilename != filename || cleanFilename == "." || cleanFilename == ".." {
		return "", fmt.Errorf("invalid filename")
	}

	fullPath := filepath.Join(m.cfg.OutputDir, cleanFilename)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return "", fmt.Errorf("file not found")
	}
	return fullPath, nil
}
