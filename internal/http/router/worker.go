package router

import (
	"github.com/gin-gonic/gin"

	"agenthub.dev/dispatch/internal/http/handler"
	"agenthub.dev/dispatch/internal/http/middleware"
)

func WorkerRouter(v1 *gin.RouterGroup, h *handler.WorkerHandler, cfg Config) {
	workerAuthed := v1.Group("")
	workerAuthed.Use(middleware.WorkerAuth(cfg.WorkerToken))
	{
		workerAuthed.POST("/workers/heartbeat", h.Heartbeat)
		workerAuthed.POST("/security/violations", h.Violation)
	}

	operator := v1.Group("")
	operator.Use(middleware.UserAuth(cfg.UserResolver))
	{
		operator.GET("/workers", h.List)
		operator.GET("/queues/:tenant", h.QueueDepth)
	}
}
