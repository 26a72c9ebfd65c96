// Package orchestrator walks a project's agent workflow graph, dispatching
// one signed job per node and feeding each agent's output forward.
package orchestrator

import (
	"fmt"

	"agenthub.dev/dispatch/internal/model"
)

// End marks the absence of a successor. Route returns it when the walk
// should stop at the current node.
const End = ""

// RouteState is the routing-relevant slice of a workflow run. It travels
// through Route as a value so routing stays a pure function over
// (nodeID, state).
type RouteState struct {
	// RetryCount is shared across all reviewer nodes of a run. Once it
	// reaches the limit, reviewers stop sending work back.
	RetryCount int

	// ReviewPassed is the verdict of the node being routed from. Only
	// consulted for reviewer nodes; defaults to true.
	ReviewPassed bool
}

// Graph is the static routing table derived from a project's agent
// definitions: node lookup, an explicit adjacency map, and the
// pre-computed reviewer fallback target.
type Graph struct {
	entry      string
	nodes      map[string]model.AgentDefinition
	adjacency  map[string][]string
	firstCoder string
	retryLimit int
}

// BuildGraph validates the project's agent definitions and materializes
// the adjacency map. Every NextAgents reference must name a defined agent
// and the entry agent must exist.
func BuildGraph(project *model.Project, retryLimit int) (*Graph, error) {
	if len(project.Agents) == 0 {
		return nil, fmt.Errorf("project %s has no agents", project.ID)
	}

	g := &Graph{
		entry:      project.EntryAgentID,
		nodes:      make(map[string]model.AgentDefinition, len(project.Agents)),
		adjacency:  make(map[string][]string, len(project.Agents)),
		retryLimit: retryLimit,
	}

	for _, agent := range project.Agents {
		if agent.AgentID == "" {
			return nil, fmt.Errorf("project %s has an agent without an id", project.ID)
		}
		if _, dup := g.nodes[agent.AgentID]; dup {
			return nil, fmt.Errorf("duplicate agent id %s", agent.AgentID)
		}
		g.nodes[agent.AgentID] = agent
		g.adjacency[agent.AgentID] = agent.NextAgents
		if g.firstCoder == "" && agent.IsCoder() {
			g.firstCoder = agent.AgentID
		}
	}

	if _, ok := g.nodes[g.entry]; !ok {
		return nil, fmt.Errorf("entry agent %s is not defined", g.entry)
	}
	for id, next := range g.adjacency {
		for _, succ := range next {
			if _, ok := g.nodes[succ]; !ok {
				return nil, fmt.Errorf("agent %s routes to undefined agent %s", id, succ)
			}
		}
	}

	return g, nil
}

func (g *Graph) Entry() string {
	return g.entry
}

// Node returns the definition for id. The second return is false for
// unknown ids, which a validated graph never produces mid-walk.
func (g *Graph) Node(id string) (model.AgentDefinition, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// Route decides the successor of nodeID given the run state, returning the
// state the next hop should carry. Plain nodes follow the first adjacency
// entry. Reviewer nodes whose review failed route back to the first coder
// and bump RetryCount while retries remain; once retries are exhausted the
// route is End and the caller treats the still-failing review as a failed
// run. End means the walk is done.
func (g *Graph) Route(nodeID string, state RouteState) (string, RouteState) {
	node, ok := g.nodes[nodeID]
	if !ok {
		return End, state
	}

	if node.IsReviewer() && !state.ReviewPassed {
		limit := g.retryLimit
		if node.Config.RetryLimit > 0 {
			limit = node.Config.RetryLimit
		}
		if state.RetryCount < limit && g.firstCoder != "" {
			state.RetryCount++
			state.ReviewPassed = true
			return g.firstCoder, state
		}
		return End, state
	}

	next := g.adjacency[nodeID]
	if len(next) == 0 {
		return End, state
	}
	return next[0], state
}
