// Package middleware carries the request-scoped plumbing: identity
// resolution, worker auth, and request logging.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"agenthub.dev/dispatch/common/logger"
	"agenthub.dev/dispatch/internal/model"
)

const (
	userContextKey   = "dispatch.user"
	workerContextKey = "dispatch.worker_id"
)

// UserResolver maps a bearer token to a user. Identity issuance lives
// outside this system; the server only needs the mapping.
type UserResolver interface {
	Resolve(token string) (model.User, bool)
}

// UserAuth resolves the caller on every request and attaches the user to
// the gin context and the slog context.
func UserAuth(resolver UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		user, ok := resolver.Resolve(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown token"})
			return
		}

		c.Set(userContextKey, user)
		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
			UserID:   logger.Ptr(user.ID),
			TenantID: logger.Ptr(user.TenantID),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// WorkerAuth guards the worker-facing endpoints with the shared worker
// token and requires a worker id header.
func WorkerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := bearerToken(c)
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid worker token"})
			return
		}

		workerID := c.GetHeader("X-Worker-ID")
		if workerID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing X-Worker-ID header"})
			return
		}

		c.Set(workerContextKey, workerID)
		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
			WorkerID: logger.Ptr(workerID),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CurrentUser returns the user UserAuth attached. Second return is false
// on routes that skipped the middleware.
func CurrentUser(c *gin.Context) (model.User, bool) {
	v, ok := c.Get(userContextKey)
	if !ok {
		return model.User{}, false
	}
	user, ok := v.(model.User)
	return user, ok
}

func WorkerID(c *gin.Context) string {
	return c.GetString(workerContextKey)
}

// RequestLogger logs one line per request with latency and status.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// SSE streams hold the connection open; skip the exit line noise.
		if strings.Contains(c.Writer.Header().Get("Content-Type"), "text/event-stream") {
			return
		}

		slog.InfoContext(c.Request.Context(), "request completed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}
