package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agenthub.dev/dispatch/internal/http/handler"
	"agenthub.dev/dispatch/internal/http/middleware"
	"agenthub.dev/dispatch/internal/manager"
	"agenthub.dev/dispatch/internal/model"
	"agenthub.dev/dispatch/internal/store"
)

const (
	userToken   = "user-token"
	workerToken = "worker-token"
)

func userRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+userToken)
	return req
}

func workerRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+workerToken)
	req.Header.Set("X-Worker-ID", "worker-1")
	return req
}

var _ = Describe("JobHandler", func() {
	var (
		router *gin.Engine
		svc    *mockJobService
	)

	resolver := middleware.NewStaticResolver(map[string]model.User{
		userToken: {ID: "user-1", TenantID: "tenant-1", Role: model.RoleStandard},
	})

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		svc = &mockJobService{}
		h := handler.NewJobHandler(svc)

		userGroup := router.Group("/api/v1/jobs")
		userGroup.Use(middleware.UserAuth(resolver))
		userGroup.POST("", h.Create)
		userGroup.GET("/:id/status", h.Status)

		workerGroup := router.Group("/api/v1/jobs")
		workerGroup.Use(middleware.WorkerAuth(workerToken))
		workerGroup.GET("/pending", h.Pending)
		workerGroup.POST("/:id/acknowledge", h.Acknowledge)
		workerGroup.POST("/:id/result", h.Result)
	})

	validCreate := map[string]any{
		"execution_location": "MANAGED_CLOUD",
		"model":              "claude-sonnet",
	}

	Describe("POST /api/v1/jobs", func() {
		It("returns 202 with the queued job", func() {
			var gotUser model.User
			svc.createJobFn = func(_ context.Context, user model.User, req model.JobCreate) (*model.Job, error) {
				gotUser = user
				Expect(req.ExecutionLocation).To(Equal(model.ExecutionManagedCloud))
				return &model.Job{JobID: "job-1", Status: model.JobStatusQueued, CreatedAt: 1700000000}, nil
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, userRequest(http.MethodPost, "/api/v1/jobs", validCreate))

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(gotUser.ID).To(Equal("user-1"))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["job_id"]).To(Equal("job-1"))
			Expect(resp["status"]).To(Equal("QUEUED"))
		})

		It("returns 403 on permission denial", func() {
			svc.createJobFn = func(context.Context, model.User, model.JobCreate) (*model.Job, error) {
				return nil, fmt.Errorf("%w: no allow-list entry", manager.ErrPermissionDenied)
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, userRequest(http.MethodPost, "/api/v1/jobs", validCreate))

			Expect(w.Code).To(Equal(http.StatusForbidden))
		})

		It("returns 429 when quota or queue capacity is exhausted", func() {
			svc.createJobFn = func(context.Context, model.User, model.JobCreate) (*model.Job, error) {
				return nil, fmt.Errorf("%w: queue full", manager.ErrQuotaExceeded)
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, userRequest(http.MethodPost, "/api/v1/jobs", validCreate))

			Expect(w.Code).To(Equal(http.StatusTooManyRequests))
		})

		It("returns 400 on an invalid execution location", func() {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, userRequest(http.MethodPost, "/api/v1/jobs", map[string]any{
				"execution_location": "SOMEWHERE",
			}))

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 401 without a bearer token", func() {
			body, _ := json.Marshal(validCreate)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("GET /api/v1/jobs/:id/status", func() {
		It("returns the status view", func() {
			svc.getJobStatusFn = func(_ context.Context, jobID string, _ model.User) (*model.JobStatusView, error) {
				return &model.JobStatusView{JobID: jobID, Status: model.JobStatusRunning}, nil
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, userRequest(http.MethodGet, "/api/v1/jobs/job-1/status", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["status"]).To(Equal("RUNNING"))
		})

		It("returns 404 for unknown jobs", func() {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, userRequest(http.MethodGet, "/api/v1/jobs/ghost/status", nil))

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("returns 403 for other users' jobs", func() {
			svc.getJobStatusFn = func(context.Context, string, model.User) (*model.JobStatusView, error) {
				return nil, manager.ErrPermissionDenied
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, userRequest(http.MethodGet, "/api/v1/jobs/job-1/status", nil))

			Expect(w.Code).To(Equal(http.StatusForbidden))
		})
	})

	Describe("GET /api/v1/jobs/pending", func() {
		It("returns the job handed to the worker", func() {
			svc.fetchPendingFn = func(_ context.Context, tenantID, workerID string) (*model.Job, error) {
				Expect(tenantID).To(Equal("tenant-1"))
				Expect(workerID).To(Equal("worker-1"))
				return &model.Job{JobID: "job-1", Signature: "base64:abc"}, nil
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, workerRequest(http.MethodGet, "/api/v1/jobs/pending?tenant=tenant-1", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			var job model.Job
			Expect(json.Unmarshal(w.Body.Bytes(), &job)).To(Succeed())
			Expect(job.Signature).To(Equal("base64:abc"))
		})

		It("returns 204 when the queue stays empty", func() {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, workerRequest(http.MethodGet, "/api/v1/jobs/pending", nil))

			Expect(w.Code).To(Equal(http.StatusNoContent))
		})

		It("rejects a bad worker token", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/pending", nil)
			req.Header.Set("Authorization", "Bearer wrong")
			req.Header.Set("X-Worker-ID", "worker-1")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects a worker without an id header", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/pending", nil)
			req.Header.Set("Authorization", "Bearer "+workerToken)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /api/v1/jobs/:id/result", func() {
		It("stores the terminal result", func() {
			var gotStatus model.JobStatus
			var gotResult *model.JobResult
			svc.updateJobStatusFn = func(_ context.Context, _ string, status model.JobStatus, result *model.JobResult) error {
				gotStatus = status
				gotResult = result
				return nil
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, workerRequest(http.MethodPost, "/api/v1/jobs/job-1/result", map[string]any{
				"status":            "FAILED",
				"error":             "path escape",
				"error_type":        "SECURITY_VIOLATION",
				"execution_time_ms": 12,
			}))

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gotStatus).To(Equal(model.JobStatusFailed))
			Expect(gotResult.ErrorType).To(Equal("SECURITY_VIOLATION"))
		})

		It("rejects statuses outside the terminal set", func() {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, workerRequest(http.MethodPost, "/api/v1/jobs/job-1/result", map[string]any{
				"status": "RUNNING",
			}))

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 when the job has expired", func() {
			svc.updateJobStatusFn = func(context.Context, string, model.JobStatus, *model.JobResult) error {
				return store.ErrNotFound
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, workerRequest(http.MethodPost, "/api/v1/jobs/job-1/result", map[string]any{
				"status": "COMPLETED",
			}))

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})
})
