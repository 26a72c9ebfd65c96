package router

import (
	"github.com/gin-gonic/gin"

	"agenthub.dev/dispatch/internal/http/handler"
	"agenthub.dev/dispatch/internal/http/middleware"
)

// JobRouter splits the job surface into the user-facing side (create,
// status) and the worker protocol (pending, acknowledge, result).
func JobRouter(rg *gin.RouterGroup, h *handler.JobHandler, cfg Config) {
	user := rg.Group("")
	user.Use(middleware.UserAuth(cfg.UserResolver))
	{
		user.POST("", h.Create)
		user.GET("/:id/status", h.Status)
	}

	worker := rg.Group("")
	worker.Use(middleware.WorkerAuth(cfg.WorkerToken))
	{
		worker.GET("/pending", h.Pending)
		worker.POST("/:id/acknowledge", h.Acknowledge)
		worker.POST("/:id/result", h.Result)
	}
}
