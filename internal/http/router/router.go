package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"agenthub.dev/dispatch/internal/http/handler"
	"agenthub.dev/dispatch/internal/http/middleware"
)

type Config struct {
	WorkerToken  string
	UserResolver middleware.UserResolver
}

type Handlers struct {
	Jobs          *handler.JobHandler
	Workers       *handler.WorkerHandler
	Orchestration *handler.OrchestrationHandler
	Redis         *redis.Client
}

func SetupRoutes(router *gin.Engine, h Handlers, cfg Config) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		JobRouter(v1.Group("/jobs"), h.Jobs, cfg)
		WorkerRouter(v1, h.Workers, cfg)
		OrchestrationRouter(v1.Group("/orchestration"), h.Orchestration, handler.NewEventsHandler(h.Redis), cfg)
	}
}
