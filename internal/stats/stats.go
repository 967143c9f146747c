// Package stats derives read-only summaries from ledger and task graph
// state. Nothing here is cached; callers pass the current records.
package stats

import (
	"math"

	"agentgraph/internal/domain"
	"agentgraph/internal/taskgraph"
)

type InteractionStats struct {
	Total         int     `json:"total"`
	Pending       int     `json:"pending"`
	InProgress    int     `json:"in_progress"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	Cancelled     int     `json:"cancelled"`
	TimedOut      int     `json:"timed_out"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	TotalTokens   int64   `json:"total_tokens"`
	TotalCost     int64   `json:"total_cost_cents"`
}

// Interactions summarizes the interactions of one workflow, or all of them
// when workflowID is empty. The average duration covers completed
// interactions only.
func Interactions(items []domain.Interaction, workflowID string) InteractionStats {
	var s InteractionStats
	var durSum int64
	var durN int
	for _, it := range items {
		if workflowID != "" && it.WorkflowID != workflowID {
			continue
		}
		s.Total++
		s.TotalTokens += it.TokenUsage.Total
		s.TotalCost += it.TokenUsage.CostCents
		switch it.Status {
		case domain.InteractionPending:
			s.Pending++
		case domain.InteractionInProgress:
			s.InProgress++
		case domain.InteractionCompleted:
			s.Completed++
			if it.DurationMs != nil {
				durSum += *it.DurationMs
				durN++
			}
		case domain.InteractionFailed:
			s.Failed++
		case domain.InteractionCancelled:
			s.Cancelled++
		case domain.InteractionTimeout:
			s.TimedOut++
		}
	}
	if durN > 0 {
		s.AvgDurationMs = float64(durSum) / float64(durN)
	}
	return s
}

type ProjectStats struct {
	ProjectID              string  `json:"project_id"`
	TotalTasks             int     `json:"total_tasks"`
	CompletedTasks         int     `json:"completed_tasks"`
	InProgressTasks        int     `json:"in_progress_tasks"`
	BlockedTasks           int     `json:"blocked_tasks"`
	TotalArtifacts         int     `json:"total_artifacts"`
	ApprovedArtifacts      int     `json:"approved_artifacts"`
	TotalTokensUsed        int64   `json:"total_tokens_used"`
	TotalCostCents         int64   `json:"total_cost_cents"`
	AvgTaskDurationMinutes float64 `json:"avg_task_duration_minutes"`
	CompletionPercentage   int     `json:"completion_percentage"`
}

// Project summarizes the tasks and artifacts of a project.
func Project(p domain.Project, tasks []domain.Task, artifacts []domain.Artifact) ProjectStats {
	s := ProjectStats{
		ProjectID:       p.ID,
		TotalTokensUsed: p.TotalTokensUsed,
		TotalCostCents:  p.TotalCostCents,
	}
	var own []domain.Task
	var minutes, timed int
	for _, t := range tasks {
		if t.ProjectID != p.ID {
			continue
		}
		own = append(own, t)
		switch t.Status {
		case domain.TaskDone:
			s.CompletedTasks++
			if t.ActualDurationMinutes != nil {
				minutes += *t.ActualDurationMinutes
				timed++
			}
		case domain.TaskInProgress:
			s.InProgressTasks++
		case domain.TaskBlocked:
			s.BlockedTasks++
		}
	}
	s.TotalTasks = len(own)
	s.CompletionPercentage = taskgraph.ComputeProjectCompletion(own)
	if timed > 0 {
		s.AvgTaskDurationMinutes = math.Round(100*float64(minutes)/float64(timed)) / 100
	}
	for _, a := range artifacts {
		if a.ProjectID != p.ID {
			continue
		}
		s.TotalArtifacts++
		if a.Status == domain.ArtifactApproved {
			s.ApprovedArtifacts++
		}
	}
	return s
}

type AgentStats struct {
	AgentID       string  `json:"agent_id"`
	Initiated     int     `json:"initiated"`
	Received      int     `json:"received"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	SuccessRate   float64 `json:"success_rate"`
	Relationships int     `json:"relationships"`
	TotalTokens   int64   `json:"total_tokens"`
}

// Agent summarizes one agent's activity. The success rate is computed over
// interactions the agent received that reached completed or failed.
func Agent(agentID string, items []domain.Interaction, edges []domain.RelationshipEdge) AgentStats {
	s := AgentStats{AgentID: agentID}
	for _, it := range items {
		involved := false
		if it.InitiatorAgentID == agentID {
			s.Initiated++
			involved = true
		}
		if it.TargetAgentID == agentID {
			s.Received++
			involved = true
			switch it.Status {
			case domain.InteractionCompleted:
				s.Completed++
			case domain.InteractionFailed:
				s.Failed++
			}
		}
		if involved {
			s.TotalTokens += it.TokenUsage.Total
		}
	}
	if n := s.Completed + s.Failed; n > 0 {
		s.SuccessRate = float64(s.Completed) / float64(n)
	}
	for _, e := range edges {
		if e.SourceAgentID == agentID || e.TargetAgentID == agentID {
			s.Relationships++
		}
	}
	return s
}
