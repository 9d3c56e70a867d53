package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"vidgen/config"
	"vidgen/task"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	taskManager *task.Manager
	cfg         *config.Config
}

func NewHandler(tm *task.Manager, cfg *config.Config) *Handler {
	return &Handler{
		taskManager: tm,
		cfg:         cfg,
	}
}

// handleCreateTask accepts one task, or a batch, in the task file format. YAML bodies are
// recognized by their content type.
func (h *Handler) handleCreateTask(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var tasks []*task.Task
	switch ct := c.ContentType(); {
	case strings.Contains(ct, "yaml"):
		tasks, err = task.ParseYAML(body)
	default:
		tasks, err = task.Parse(body)
	}
	if err != nil {
		status := http.StatusBadRequest
		if !isTaskError(err) {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if _, err := h.taskManager.Submit(t); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to create task", "details": err.Error(), "taskIds": ids})
			return
		}
		ids = append(ids, t.ID)
	}

	if len(ids) == 1 {
		c.JSON(http.StatusAccepted, gin.H{"taskId": ids[0]})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"taskIds": ids})
}

func isTaskError(err error) bool {
	return errors.Is(err, task.ErrInvalidSettings) || errors.Is(err, task.ErrInvalidSegment) || errors.Is(err, task.ErrEmptyTask)
}

// handleListTasks lists tasks, optionally only those in ?status=.
func (h *Handler) handleListTasks(c *gin.Context) {
	want := task.Status(c.Query("status"))
	tasks := make([]*task.Task, 0)
	for _, t := range h.taskManager.List() {
		if want != "" && t.Status != want {
			continue
		}
		h.buildDownloadURL(c, t)
		tasks = append(tasks, t)
	}
	c.JSON(http.StatusOK, tasks)
}

// buildDownloadURL constructs the full URL for a completed task's file.
func (h *Handler) buildDownloadURL(c *gin.Context, t *task.Task) {
	if t.Status != task.StatusCompleted || t.OutputPath == "" {
		return
	}

	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	filename := filepath.Base(t.OutputPath)
	t.DownloadURL = fmt.Sprintf("%s/api/v1/files/%s", baseURL, filename)
}

// handleGetTaskStatus retrieves the status and stage of a single task.
func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	taskID := c.Param("taskId")
	t, found := h.taskManager.Get(taskID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	h.buildDownloadURL(c, t)
	c.JSON(http.StatusOK, t)
}

func (h *Handler) handleCancelTask(c *gin.Context) {
	taskID := c.Param("taskId")
	err := h.taskManager.Cancel(taskID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task cancellation requested"})
}

func (h *Handler) handleSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.taskManager.Summary())
}

// handleGetFile serves a finished video from the output directory.
func (h *Handler) handleGetFile(c *gin.Context) {
	filename := c.Param("filename")
	filePath, err := h.taskManager.GetFilePath(filename)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.FileAttachment(filePath, filename)
}
