package router

import (
	"github.com/gin-gonic/gin"

	"agenthub.dev/dispatch/internal/http/handler"
	"agenthub.dev/dispatch/internal/http/middleware"
)

func OrchestrationRouter(rg *gin.RouterGroup, h *handler.OrchestrationHandler, events *handler.EventsHandler, cfg Config) {
	rg.Use(middleware.UserAuth(cfg.UserResolver))

	projects := rg.Group("/projects")
	{
		projects.POST("", h.CreateProject)
		projects.GET("", h.ListProjects)
		projects.GET("/:id", h.GetProject)
		projects.POST("/:id/execute", h.Execute)
		projects.GET("/:id/events", events.Stream)
	}
}
