package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"

	"agentgraph/internal/config"
	"agentgraph/internal/db"
	"agentgraph/internal/domain"
	"agentgraph/internal/engine"
	"agentgraph/internal/ledger"
	"agentgraph/internal/logging"
	"agentgraph/internal/migrate"
	"agentgraph/internal/relgraph"
	"agentgraph/internal/repo"
	"agentgraph/internal/snapshot"
	"agentgraph/internal/taskgraph"
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Dir     string
	Clock   *clock
	Project domain.Project
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newEngine(t *testing.T, dir string, cfg *config.Config, c *clock) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	n := 0
	eng := engine.New(conn, cfg, logging.Discard()).
		WithClock(c.Now).
		WithIDs(func() string { n++; return fmt.Sprintf("id-%03d", n) })
	return eng
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	c := &clock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	eng := newEngine(t, dir, config.Default(), c)
	ctx := context.Background()
	p, err := eng.CreateProject(ctx, taskgraph.ProjectInput{Name: "Demo Project"}, "tester")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Dir: dir, Clock: c, Project: p}
}

func (env testEnv) task(t *testing.T, title string, deps ...string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, taskgraph.TaskInput{ProjectID: env.Project.ID, Title: title, Dependencies: deps}, "tester")
	if err != nil {
		t.Fatalf("create task %s: %v", title, err)
	}
	return task
}

func (env testEnv) setStatus(t *testing.T, id string, statuses ...domain.TaskStatus) domain.Task {
	t.Helper()
	var task domain.Task
	var err error
	for _, s := range statuses {
		task, err = env.Engine.SetTaskStatus(env.Ctx, id, s, "tester")
		if err != nil {
			t.Fatalf("set %s to %s: %v", id, s, err)
		}
	}
	return task
}

// reopen builds a second engine over the same workspace and loads it.
func (env testEnv) reopen(t *testing.T) engine.Engine {
	t.Helper()
	eng := newEngine(t, env.Dir, config.Default(), env.Clock)
	if err := eng.Load(env.Ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	return eng
}

func TestProjectSlugAndPersistence(t *testing.T) {
	env := newTestEnv(t)
	if env.Project.Slug != "demo-project" {
		t.Fatalf("unexpected slug %q", env.Project.Slug)
	}
	second, err := env.Engine.CreateProject(env.Ctx, taskgraph.ProjectInput{Name: "Demo Project"}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if second.Slug != "demo-project-2" {
		t.Fatalf("expected unique slug, got %q", second.Slug)
	}
	reloaded := env.reopen(t)
	p, err := reloaded.ResolveProject("demo-project-2")
	if err != nil || p.ID != second.ID {
		t.Fatalf("resolve by slug after reload: %v %+v", err, p)
	}
}

func TestTaskLifecycleAndBlocking(t *testing.T) {
	env := newTestEnv(t)
	dep := env.task(t, "dep")
	main := env.task(t, "main", dep.ID)

	_, err := env.Engine.SetTaskStatus(env.Ctx, main.ID, domain.TaskTodo, "tester")
	var blocked domain.BlockedError
	if !errors.As(err, &blocked) || len(blocked.BlockingIDs) != 1 || blocked.BlockingIDs[0] != dep.ID {
		t.Fatalf("expected blocked by %s, got %v", dep.ID, err)
	}

	env.setStatus(t, dep.ID, domain.TaskTodo, domain.TaskInProgress)
	env.Clock.Advance(90 * time.Second)
	done := env.setStatus(t, dep.ID, domain.TaskReview, domain.TaskDone)
	if done.ActualDurationMinutes == nil || *done.ActualDurationMinutes != 2 {
		t.Fatalf("expected 2 minute duration, got %v", done.ActualDurationMinutes)
	}
	ready, err := env.Engine.ReadyTasks(env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0].ID != main.ID {
		t.Fatalf("expected main ready, got %+v", ready)
	}
	env.setStatus(t, main.ID, domain.TaskTodo, domain.TaskInProgress)

	_, err = env.Engine.SetTaskStatus(env.Ctx, main.ID, domain.TaskBacklog, "tester")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestDependencySymmetrySurvivesReload(t *testing.T) {
	env := newTestEnv(t)
	a := env.task(t, "a")
	b := env.task(t, "b")
	if _, err := env.Engine.AddDependency(env.Ctx, b.ID, a.ID, "tester"); err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	if _, err := env.Engine.AddDependency(env.Ctx, a.ID, b.ID, "tester"); err == nil {
		t.Fatalf("expected cycle rejection")
	}
	reloaded := env.reopen(t)
	got, err := reloaded.GetTask(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Blocks) != 1 || got.Blocks[0] != b.ID {
		t.Fatalf("blocks not persisted: %+v", got.Blocks)
	}
	if _, err := reloaded.RemoveDependency(env.Ctx, b.ID, a.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	got, _ = reloaded.GetTask(a.ID)
	if len(got.Blocks) != 0 {
		t.Fatalf("blocks not cleared: %+v", got.Blocks)
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	env := newTestEnv(t)
	a := env.task(t, "a")
	b := env.task(t, "b", a.ID)
	art, err := env.Engine.CreateArtifact(env.Ctx, taskgraph.ArtifactInput{TaskID: a.ID, Name: "design.md", Type: domain.ArtifactDocument}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	removed, err := env.Engine.DeleteTask(env.Ctx, a.ID, "tester")
	if err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if len(removed.Artifacts) != 1 || removed.Artifacts[0] != art.ID {
		t.Fatalf("artifact not cascaded: %+v", removed)
	}
	reloaded := env.reopen(t)
	got, err := reloaded.GetTask(b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Dependencies) != 0 {
		t.Fatalf("dangling dependency after delete: %+v", got.Dependencies)
	}
	if _, err := reloaded.GetArtifact(art.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected artifact gone, got %v", err)
	}
}

func TestArtifactReviewFlow(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "write docs")
	art, err := env.Engine.CreateArtifact(env.Ctx, taskgraph.ArtifactInput{TaskID: task.ID, Name: "guide", Content: "v1"}, "writer")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitArtifact(env.Ctx, art.ID, "writer"); err != nil {
		t.Fatal(err)
	}
	rejected, err := env.Engine.ReviewArtifact(env.Ctx, art.ID, false, "lead", "needs examples")
	if err != nil {
		t.Fatal(err)
	}
	if rejected.Status != domain.ArtifactRejected || rejected.ReviewedBy != "lead" {
		t.Fatalf("unexpected review result %+v", rejected)
	}
	updated, err := env.Engine.UpdateArtifactContent(env.Ctx, art.ID, "v2", "writer")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Version != 2 || updated.Status != domain.ArtifactDraft {
		t.Fatalf("expected version 2 draft, got %+v", updated)
	}
	if _, err := env.Engine.ReviewArtifact(env.Ctx, art.ID, true, "lead", ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("approving a draft should fail, got %v", err)
	}
}

func TestInteractionOutcomeUpdatesEdgeAndProject(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "build")
	edge, err := env.Engine.CreateRelationship(env.Ctx, relgraph.EdgeInput{SourceAgentID: "lead", TargetAgentID: "dev", Type: domain.RelDelegation}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	it, err := env.Engine.CreateInteraction(env.Ctx, ledger.CreateInput{
		WorkflowID:       "wf-1",
		InitiatorAgentID: "lead",
		TargetAgentID:    "dev",
		Type:             domain.InteractionTaskAssignment,
		TaskID:           task.ID,
		RelationshipID:   edge.ID,
		Message:          "please build",
	}, "lead")
	if err != nil {
		t.Fatalf("create interaction: %v", err)
	}
	if _, err := env.Engine.StartInteraction(env.Ctx, it.ID, "dev"); err != nil {
		t.Fatal(err)
	}
	env.Clock.Advance(1500 * time.Millisecond)
	done, err := env.Engine.CompleteInteraction(env.Ctx, it.ID, "built", domain.TokenUsage{Prompt: 100, Completion: 50, CostCents: 7}, "dev")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.DurationMs == nil || *done.DurationMs != 1500 || done.TokenUsage.Total != 150 {
		t.Fatalf("unexpected completion %+v", done)
	}

	reloaded := env.reopen(t)
	e, err := reloaded.GetRelationship(edge.ID)
	if err != nil {
		t.Fatal(err)
	}
	if e.Metrics.TotalInteractions != 1 || e.Metrics.SuccessfulInteractions != 1 || e.Metrics.AvgResponseTimeMs != 1500 {
		t.Fatalf("edge metrics not updated: %+v", e.Metrics)
	}
	p, err := reloaded.GetProject(env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.TotalTokensUsed != 150 || p.TotalCostCents != 7 {
		t.Fatalf("project usage not charged: %+v", p)
	}
	stats := reloaded.InteractionStats("wf-1")
	if stats.Total != 1 || stats.Completed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestInteractionRequiresExistingTask(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateInteraction(env.Ctx, ledger.CreateInput{
		WorkflowID: "wf", InitiatorAgentID: "a", TargetAgentID: "b",
		Type: domain.InteractionNotification, TaskID: "missing",
	}, "a")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPolicyViolationIsRejectedWhenEnforced(t *testing.T) {
	env := newTestEnv(t)
	edge, err := env.Engine.CreateRelationship(env.Ctx, relgraph.EdgeInput{SourceAgentID: "lead", TargetAgentID: "dev", Type: domain.RelDelegation}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CreateInteraction(env.Ctx, ledger.CreateInput{
		WorkflowID: "wf", InitiatorAgentID: "dev", TargetAgentID: "lead",
		Type: domain.InteractionEscalation, RelationshipID: edge.ID,
	}, "dev")
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if got := env.Engine.ListInteractions(ledger.Filter{WorkflowID: "wf"}); len(got) != 0 {
		t.Fatalf("rejected interaction was recorded")
	}
}

func TestPolicyViolationIsFlaggedWhenNotEnforced(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.EnforceRelationshipPolicy = false
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng := newEngine(t, t.TempDir(), cfg, c)
	ctx := context.Background()
	edge, err := eng.CreateRelationship(ctx, relgraph.EdgeInput{SourceAgentID: "lead", TargetAgentID: "dev", Type: domain.RelDelegation}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	it, err := eng.CreateInteraction(ctx, ledger.CreateInput{
		WorkflowID: "wf", InitiatorAgentID: "dev", TargetAgentID: "lead",
		Type: domain.InteractionEscalation, RelationshipID: edge.ID,
	}, "dev")
	if err != nil {
		t.Fatalf("expected flagged interaction, got %v", err)
	}
	if len(it.PolicyFlags) != 1 {
		t.Fatalf("expected one policy flag, got %v", it.PolicyFlags)
	}
}

func TestChainAndWorkflowDelete(t *testing.T) {
	env := newTestEnv(t)
	root, err := env.Engine.CreateInteraction(env.Ctx, ledger.CreateInput{WorkflowID: "wf", InitiatorAgentID: "a", TargetAgentID: "b", Type: domain.InteractionConsultation}, "a")
	if err != nil {
		t.Fatal(err)
	}
	child, err := env.Engine.CreateInteraction(env.Ctx, ledger.CreateInput{WorkflowID: "wf", InitiatorAgentID: "b", TargetAgentID: "a", Type: domain.InteractionInputProvided, ParentInteractionID: root.ID}, "b")
	if err != nil {
		t.Fatal(err)
	}
	chain, err := env.Engine.InteractionChain(child.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 2 || chain[0].ID != root.ID {
		t.Fatalf("chain should start at root: %+v", chain)
	}
	ids, err := env.Engine.DeleteWorkflow(env.Ctx, "wf", "tester")
	if err != nil || len(ids) != 2 {
		t.Fatalf("delete workflow: %v %v", ids, err)
	}
	reloaded := env.reopen(t)
	if got := reloaded.ListInteractions(ledger.Filter{}); len(got) != 0 {
		t.Fatalf("interactions survived workflow delete: %d", len(got))
	}
	if _, err := env.Engine.DeleteWorkflow(env.Ctx, "wf", "tester"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for empty workflow, got %v", err)
	}
}

func TestEventsRecordedPerChange(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "a")
	env.setStatus(t, task.ID, domain.TaskTodo)
	// same status again records nothing
	env.setStatus(t, task.ID, domain.TaskTodo)
	evts, err := env.Engine.ListEvents(env.Ctx, 10, 0, repo.EventFilter{EntityID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 {
		t.Fatalf("expected 2 task events, got %d", len(evts))
	}
	if evts[0].Type != "task.status_changed" || evts[1].Type != "task.created" {
		t.Fatalf("unexpected event order: %s, %s", evts[0].Type, evts[1].Type)
	}
	if _, err := env.Engine.ListEvents(env.Ctx, 5000, 0, repo.EventFilter{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for huge limit, got %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	a := env.task(t, "a")
	env.task(t, "b", a.ID)
	if _, err := env.Engine.CreateRelationship(env.Ctx, relgraph.EdgeInput{SourceAgentID: "x", TargetAgentID: "y", Type: domain.RelReview}, "tester"); err != nil {
		t.Fatal(err)
	}
	store := snapshot.NewStore(afero.NewMemMapFs(), "/snap/state.jsonl")
	if err := store.Export(env.Engine.Snapshot()); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := store.Import()
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	c := &clock{t: env.Clock.Now()}
	fresh := newEngine(t, t.TempDir(), config.Default(), c)
	if err := fresh.ImportSnapshot(env.Ctx, data, "tester"); err != nil {
		t.Fatalf("import snapshot: %v", err)
	}
	if got := fresh.ListTasks(taskgraph.TaskFilter{}); len(got) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(got))
	}
	got, err := fresh.GetTask(a.ID)
	if err != nil || len(got.Blocks) != 1 {
		t.Fatalf("blocks not restored: %+v %v", got, err)
	}
	counts, err := fresh.Repo.CountByKind(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[repo.KindTask] != 2 || counts[repo.KindRelationship] != 1 || counts[repo.KindProject] != 1 {
		t.Fatalf("documents not persisted: %v", counts)
	}
}

func TestAutoExportWritesSnapshot(t *testing.T) {
	env := newTestEnv(t)
	fs := afero.NewMemMapFs()
	store := snapshot.NewStore(fs, "/ws/snapshot.jsonl")
	env.Engine.Snapshots = &store
	env.task(t, "exported")
	data, err := store.Import()
	if err != nil {
		t.Fatalf("auto export missing: %v", err)
	}
	if len(data.Tasks) != 1 || data.Tasks[0].Title != "exported" {
		t.Fatalf("unexpected snapshot tasks %+v", data.Tasks)
	}
}

func TestProjectStatsAndDelete(t *testing.T) {
	env := newTestEnv(t)
	a := env.task(t, "a")
	env.task(t, "b")
	env.setStatus(t, a.ID, domain.TaskTodo, domain.TaskInProgress, domain.TaskReview, domain.TaskDone)
	st, err := env.Engine.ProjectStats(env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalTasks != 2 || st.CompletedTasks != 1 || st.CompletionPercentage != 50 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if _, err := env.Engine.DeleteProject(env.Ctx, env.Project.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	reloaded := env.reopen(t)
	if got := reloaded.ListTasks(taskgraph.TaskFilter{}); len(got) != 0 {
		t.Fatalf("tasks survived project delete: %d", len(got))
	}
	if _, err := reloaded.ProjectStats(env.Project.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
