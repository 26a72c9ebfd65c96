package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agenthub.dev/dispatch/common/id"
	"agenthub.dev/dispatch/internal/http/handler"
	"agenthub.dev/dispatch/internal/http/middleware"
	"agenthub.dev/dispatch/internal/model"
	"agenthub.dev/dispatch/internal/orchestrator"
	"agenthub.dev/dispatch/internal/store"
)

var _ = Describe("OrchestrationHandler", func() {
	var (
		router   *gin.Engine
		runner   *mockWorkflowRunner
		projects *mockProjectStore
	)

	resolver := middleware.NewStaticResolver(map[string]model.User{
		userToken: {ID: "user-1", TenantID: "tenant-1", Role: model.RoleElevated},
	})

	BeforeEach(func() {
		Expect(id.Init(1)).To(Succeed())

		gin.SetMode(gin.TestMode)
		router = gin.New()
		runner = &mockWorkflowRunner{}
		projects = &mockProjectStore{}
		h := handler.NewOrchestrationHandler(runner, projects)

		rg := router.Group("/api/v1/orchestration")
		rg.Use(middleware.UserAuth(resolver))
		rg.POST("/projects", h.CreateProject)
		rg.GET("/projects", h.ListProjects)
		rg.GET("/projects/:id", h.GetProject)
		rg.POST("/projects/:id/execute", h.Execute)
	})

	Describe("POST /projects/:id/execute", func() {
		It("returns the completed run", func() {
			runner.executeFn = func(_ context.Context, user model.User, projectID, task string) (*orchestrator.RunResult, error) {
				Expect(user.TenantID).To(Equal("tenant-1"))
				Expect(task).To(Equal("ship the feature"))
				return &orchestrator.RunResult{
					RunID:         "7",
					ProjectID:     projectID,
					Status:        model.JobStatusCompleted,
					StepsExecuted: 3,
					Artifacts:     map[string]map[string]any{"planner": {"summary": "done"}},
				}, nil
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, userRequest(http.MethodPost, "/api/v1/orchestration/projects/proj-1/execute", map[string]any{
				"task": "ship the feature",
			}))

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["status"]).To(Equal("COMPLETED"))
			Expect(resp["steps_executed"]).To(BeNumerically("==", 3))
		})

		It("returns 404 for unknown projects", func() {
			runner.executeFn = func(context.Context, model.User, string, string) (*orchestrator.RunResult, error) {
				return nil, orchestrator.NewFatalError(store.ErrNotFound)
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, userRequest(http.MethodPost, "/api/v1/orchestration/projects/ghost/execute", map[string]any{
				"task": "anything",
			}))

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("returns 422 for graphs that cannot run", func() {
			runner.executeFn = func(context.Context, model.User, string, string) (*orchestrator.RunResult, error) {
				return nil, orchestrator.NewFatalError(errors.New("entry agent ghost is not defined"))
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, userRequest(http.MethodPost, "/api/v1/orchestration/projects/proj-1/execute", map[string]any{
				"task": "anything",
			}))

			Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))
		})

		It("requires a task", func() {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, userRequest(http.MethodPost, "/api/v1/orchestration/projects/proj-1/execute", map[string]any{}))

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /projects", func() {
		validProject := map[string]any{
			"name":           "demo",
			"repo_path":      "/workspace/demo",
			"entry_agent_id": "planner",
			"agents": []map[string]any{
				{"agent_id": "planner", "role": "PLANNER", "next_agents": []string{"coder"}},
				{"agent_id": "coder", "role": "CODER"},
			},
		}

		It("creates the project scoped to the caller's tenant", func() {
			var created *model.Project
			projects.createFn = func(_ context.Context, p *model.Project) error {
				created = p
				return nil
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, userRequest(http.MethodPost, "/api/v1/orchestration/projects", validProject))

			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(created).NotTo(BeNil())
			Expect(created.TenantID).To(Equal("tenant-1"))
			Expect(created.ID).NotTo(BeEmpty())
			Expect(created.Agents).To(HaveLen(2))
		})

		It("rejects graphs referencing undefined agents", func() {
			bad := map[string]any{
				"name":           "demo",
				"entry_agent_id": "planner",
				"agents": []map[string]any{
					{"agent_id": "planner", "role": "PLANNER", "next_agents": []string{"ghost"}},
				},
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, userRequest(http.MethodPost, "/api/v1/orchestration/projects", bad))

			Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))
		})
	})

	Describe("GET /projects/:id", func() {
		It("hides projects of other tenants", func() {
			projects.getByIDFn = func(context.Context, string) (*model.Project, error) {
				return &model.Project{ID: "proj-1", TenantID: "tenant-9"}, nil
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, userRequest(http.MethodGet, "/api/v1/orchestration/projects/proj-1", nil))

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})
})
