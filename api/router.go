package api

import (
	"vidgen/config"
	"vidgen/task"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func SetupRouter(tm *task.Manager, cfg *config.Config, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(logger))
	h := NewHandler(tm, cfg)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/tasks", h.handleCreateTask)
		v1.GET("/tasks", h.handleListTasks)
		v1.GET("/tasks/:taskId", h.handleGetTaskStatus)
		v1.PATCH("/tasks/:taskId/cancel", h.handleCancelTask)
		v1.GET("/summary", h.handleSummary)

		// Output names are guessable (<title>.<file_type>), so downloads stay behind auth.
		v1.GET("/files/:filename", h.handleGetFile)
	}
	return r
}
