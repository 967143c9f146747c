package engine

import (
	"agentgraph/internal/ledger"
	"agentgraph/internal/relgraph"
	"agentgraph/internal/stats"
	"agentgraph/internal/taskgraph"
)

// InteractionStats aggregates one workflow, or the whole ledger when
// workflowID is empty.
func (e Engine) InteractionStats(workflowID string) stats.InteractionStats {
	return stats.Interactions(e.Ledger.Filter(ledger.Filter{WorkflowID: workflowID}), workflowID)
}

func (e Engine) ProjectStats(projectID string) (stats.ProjectStats, error) {
	p, err := e.Tasks.GetProject(projectID)
	if err != nil {
		return stats.ProjectStats{}, err
	}
	tasks := e.Tasks.ListTasks(taskgraph.TaskFilter{ProjectID: projectID})
	artifacts := e.Tasks.ListArtifacts(taskgraph.ArtifactFilter{ProjectID: projectID})
	return stats.Project(p, tasks, artifacts), nil
}

func (e Engine) AgentStats(agentID string) stats.AgentStats {
	items := e.Ledger.Filter(ledger.Filter{AgentID: agentID})
	edges := e.Edges.ListEdges(relgraph.EdgeFilter{AgentID: agentID})
	return stats.Agent(agentID, items, edges)
}
