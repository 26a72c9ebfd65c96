package orchestrator_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agenthub.dev/dispatch/internal/model"
	"agenthub.dev/dispatch/internal/orchestrator"
)

var _ = Describe("Graph", func() {
	newProject := func() *model.Project {
		return &model.Project{
			ID:           "proj-1",
			TenantID:     "tenant-1",
			EntryAgentID: "planner",
			Agents: []model.AgentDefinition{
				{AgentID: "planner", Role: model.RolePlanner, NextAgents: []string{"coder"}},
				{AgentID: "coder", Role: model.RoleCoder, NextAgents: []string{"reviewer"}},
				{AgentID: "reviewer", Role: model.RoleReviewer},
			},
		}
	}

	Describe("BuildGraph", func() {
		It("should build a graph from valid definitions", func() {
			g, err := orchestrator.BuildGraph(newProject(), 3)

			Expect(err).NotTo(HaveOccurred())
			Expect(g.Entry()).To(Equal("planner"))
			node, ok := g.Node("coder")
			Expect(ok).To(BeTrue())
			Expect(node.Role).To(Equal(model.RoleCoder))
		})

		It("should reject a project without agents", func() {
			p := newProject()
			p.Agents = nil

			_, err := orchestrator.BuildGraph(p, 3)

			Expect(err).To(MatchError(ContainSubstring("no agents")))
		})

		It("should reject an undefined entry agent", func() {
			p := newProject()
			p.EntryAgentID = "ghost"

			_, err := orchestrator.BuildGraph(p, 3)

			Expect(err).To(MatchError(ContainSubstring("entry agent ghost")))
		})

		It("should reject edges to undefined agents", func() {
			p := newProject()
			p.Agents[2].NextAgents = []string{"ghost"}

			_, err := orchestrator.BuildGraph(p, 3)

			Expect(err).To(MatchError(ContainSubstring("undefined agent ghost")))
		})

		It("should reject duplicate agent ids", func() {
			p := newProject()
			p.Agents = append(p.Agents, model.AgentDefinition{AgentID: "coder"})

			_, err := orchestrator.BuildGraph(p, 3)

			Expect(err).To(MatchError(ContainSubstring("duplicate agent id coder")))
		})
	})

	Describe("Route", func() {
		var g *orchestrator.Graph

		BeforeEach(func() {
			var err error
			g, err = orchestrator.BuildGraph(newProject(), 3)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should follow the first adjacency entry for plain nodes", func() {
			next, _ := g.Route("planner", orchestrator.RouteState{ReviewPassed: true})

			Expect(next).To(Equal("coder"))
		})

		It("should end at a node without successors", func() {
			next, _ := g.Route("reviewer", orchestrator.RouteState{ReviewPassed: true})

			Expect(next).To(Equal(orchestrator.End))
		})

		It("should route a failed review back to the first coder", func() {
			next, state := g.Route("reviewer", orchestrator.RouteState{ReviewPassed: false})

			Expect(next).To(Equal("coder"))
			Expect(state.RetryCount).To(Equal(1))
			Expect(state.ReviewPassed).To(BeTrue())
		})

		It("should stop retrying once the shared count reaches the limit", func() {
			next, state := g.Route("reviewer", orchestrator.RouteState{ReviewPassed: false, RetryCount: 3})

			Expect(next).To(Equal(orchestrator.End))
			Expect(state.RetryCount).To(Equal(3))
		})

		It("should honor a per-node retry limit override", func() {
			p := newProject()
			p.Agents[2].Config.RetryLimit = 1
			g, err := orchestrator.BuildGraph(p, 3)
			Expect(err).NotTo(HaveOccurred())

			next, _ := g.Route("reviewer", orchestrator.RouteState{ReviewPassed: false, RetryCount: 1})

			Expect(next).To(Equal(orchestrator.End))
		})

		It("should ignore the verdict on non-reviewer nodes", func() {
			next, state := g.Route("planner", orchestrator.RouteState{ReviewPassed: false})

			Expect(next).To(Equal("coder"))
			Expect(state.RetryCount).To(BeZero())
		})

		It("should treat QA and DEVELOPER roles like REVIEWER and CODER", func() {
			p := &model.Project{
				ID:           "proj-2",
				EntryAgentID: "dev",
				Agents: []model.AgentDefinition{
					{AgentID: "dev", Role: model.RoleDeveloper, NextAgents: []string{"qa"}},
					{AgentID: "qa", Role: model.RoleQA},
				},
			}
			g, err := orchestrator.BuildGraph(p, 3)
			Expect(err).NotTo(HaveOccurred())

			next, state := g.Route("qa", orchestrator.RouteState{ReviewPassed: false})

			Expect(next).To(Equal("dev"))
			Expect(state.RetryCount).To(Equal(1))
		})
	})
})
