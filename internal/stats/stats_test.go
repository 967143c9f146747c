package stats_test

import (
	"testing"

	"agentgraph/internal/domain"
	"agentgraph/internal/stats"
)

func ms(v int64) *int64 { return &v }
func mins(v int) *int   { return &v }

func TestInteractionStats(t *testing.T) {
	items := []domain.Interaction{
		{WorkflowID: "wf", Status: domain.InteractionCompleted, DurationMs: ms(100), TokenUsage: domain.TokenUsage{Total: 10}},
		{WorkflowID: "wf", Status: domain.InteractionCompleted, DurationMs: ms(300), TokenUsage: domain.TokenUsage{Total: 20}},
		{WorkflowID: "wf", Status: domain.InteractionPending},
		{WorkflowID: "wf", Status: domain.InteractionFailed, DurationMs: ms(900)},
		{WorkflowID: "other", Status: domain.InteractionCompleted, DurationMs: ms(5000)},
	}
	s := stats.Interactions(items, "wf")
	if s.Total != 4 || s.Completed != 2 || s.Pending != 1 || s.Failed != 1 {
		t.Fatalf("unexpected counts %+v", s)
	}
	if s.AvgDurationMs != 200 {
		t.Fatalf("expected avg 200 over completed only, got %f", s.AvgDurationMs)
	}
	if s.TotalTokens != 30 {
		t.Fatalf("expected 30 tokens, got %d", s.TotalTokens)
	}
	if all := stats.Interactions(items, ""); all.Total != 5 {
		t.Fatalf("expected 5 across workflows, got %d", all.Total)
	}
	if empty := stats.Interactions(nil, "wf"); empty.AvgDurationMs != 0 || empty.Total != 0 {
		t.Fatalf("expected zero stats, got %+v", empty)
	}
}

func TestProjectStats(t *testing.T) {
	p := domain.Project{ID: "p1", TotalTokensUsed: 500, TotalCostCents: 12}
	tasks := []domain.Task{
		{ProjectID: "p1", Status: domain.TaskDone, ActualDurationMinutes: mins(10)},
		{ProjectID: "p1", Status: domain.TaskDone, ActualDurationMinutes: mins(20)},
		{ProjectID: "p1", Status: domain.TaskInProgress},
		{ProjectID: "p1", Status: domain.TaskBlocked},
		{ProjectID: "p2", Status: domain.TaskDone},
	}
	artifacts := []domain.Artifact{
		{ProjectID: "p1", Status: domain.ArtifactApproved},
		{ProjectID: "p1", Status: domain.ArtifactDraft},
	}
	s := stats.Project(p, tasks, artifacts)
	if s.TotalTasks != 4 || s.CompletedTasks != 2 || s.InProgressTasks != 1 || s.BlockedTasks != 1 {
		t.Fatalf("unexpected task counts %+v", s)
	}
	if s.CompletionPercentage != 50 {
		t.Fatalf("expected 50%%, got %d", s.CompletionPercentage)
	}
	if s.AvgTaskDurationMinutes != 15 {
		t.Fatalf("expected 15 minute average, got %f", s.AvgTaskDurationMinutes)
	}
	if s.TotalArtifacts != 2 || s.ApprovedArtifacts != 1 || s.TotalTokensUsed != 500 {
		t.Fatalf("unexpected artifact/usage stats %+v", s)
	}
	if empty := stats.Project(domain.Project{ID: "none"}, nil, nil); empty.CompletionPercentage != 0 {
		t.Fatalf("expected 0%% for empty project")
	}
}

func TestAgentStats(t *testing.T) {
	items := []domain.Interaction{
		{InitiatorAgentID: "lead", TargetAgentID: "dev", Status: domain.InteractionCompleted},
		{InitiatorAgentID: "lead", TargetAgentID: "dev", Status: domain.InteractionFailed},
		{InitiatorAgentID: "dev", TargetAgentID: "qa", Status: domain.InteractionPending},
	}
	edges := []domain.RelationshipEdge{{SourceAgentID: "lead", TargetAgentID: "dev"}, {SourceAgentID: "dev", TargetAgentID: "qa"}}
	s := stats.Agent("dev", items, edges)
	if s.Initiated != 1 || s.Received != 2 || s.SuccessRate != 0.5 || s.Relationships != 2 {
		t.Fatalf("unexpected agent stats %+v", s)
	}
}
