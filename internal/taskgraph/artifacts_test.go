package taskgraph_test

import (
	"errors"
	"testing"

	"agentgraph/internal/domain"
	"agentgraph/internal/taskgraph"
)

func TestArtifactReviewCycle(t *testing.T) {
	g, _, p := newGraph(t)
	task := mustTask(t, g, p.ID, "A")
	art, err := g.CreateArtifact(taskgraph.ArtifactInput{TaskID: task.ID, Name: "main.go", Type: domain.ArtifactCode, Content: "v1"})
	if err != nil {
		t.Fatal(err)
	}
	if art.Version != 1 || art.Status != domain.ArtifactDraft || art.ProjectID != p.ID {
		t.Fatalf("unexpected new artifact %+v", art)
	}
	task, _ = g.GetTask(task.ID)
	if len(task.ArtifactIDs) != 1 || task.ArtifactIDs[0] != art.ID {
		t.Fatalf("artifact not linked to task")
	}
	if _, err := g.ApproveArtifact(art.ID, "lead", "ok"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected approve from draft to fail, got %v", err)
	}
	if _, err := g.SubmitArtifact(art.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := g.UpdateArtifactContent(art.ID, "v2"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected content update while pending to fail, got %v", err)
	}
	rejected, err := g.RejectArtifact(art.ID, "lead", "needs tests")
	if err != nil {
		t.Fatal(err)
	}
	if rejected.ReviewedBy != "lead" || rejected.ReviewComments != "needs tests" || rejected.ReviewedAt == nil {
		t.Fatalf("review fields not set: %+v", rejected)
	}
	updated, err := g.UpdateArtifactContent(art.ID, "v2")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Version != 2 || updated.Status != domain.ArtifactDraft {
		t.Fatalf("expected version 2 draft, got %d %s", updated.Version, updated.Status)
	}
	if _, err := g.SubmitArtifact(art.ID); err != nil {
		t.Fatal(err)
	}
	approved, err := g.ApproveArtifact(art.ID, "lead", "")
	if err != nil {
		t.Fatal(err)
	}
	if approved.Status != domain.ArtifactApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}
	if _, err := g.SupersedeArtifact(art.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := g.SupersedeArtifact(art.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected superseded to be terminal, got %v", err)
	}
}

func TestDeleteArtifactUnlinksTask(t *testing.T) {
	g, _, p := newGraph(t)
	task := mustTask(t, g, p.ID, "A")
	art, _ := g.CreateArtifact(taskgraph.ArtifactInput{TaskID: task.ID, Name: "a"})
	if _, err := g.DeleteArtifact(art.ID); err != nil {
		t.Fatal(err)
	}
	task, _ = g.GetTask(task.ID)
	if len(task.ArtifactIDs) != 0 {
		t.Fatalf("artifact id still on task")
	}
	if _, err := g.DeleteArtifact(art.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
