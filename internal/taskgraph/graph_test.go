package taskgraph_test

import (
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"agentgraph/internal/domain"
	"agentgraph/internal/taskgraph"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func seqIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%03d", prefix, n)
	}
}

func newGraph(t *testing.T) (*taskgraph.Graph, *clock, domain.Project) {
	t.Helper()
	c := newClock()
	g := taskgraph.New()
	g.Now = c.Now
	g.NewID = seqIDs("id")
	p, err := g.CreateProject(taskgraph.ProjectInput{Name: "Demo"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return g, c, p
}

func mustTask(t *testing.T, g *taskgraph.Graph, projectID, title string) domain.Task {
	t.Helper()
	task, err := g.CreateTask(taskgraph.TaskInput{ProjectID: projectID, Title: title})
	if err != nil {
		t.Fatalf("create task %s: %v", title, err)
	}
	return task
}

func walk(t *testing.T, g *taskgraph.Graph, id string, statuses ...domain.TaskStatus) domain.Task {
	t.Helper()
	var task domain.Task
	var err error
	for _, s := range statuses {
		task, err = g.SetStatus(id, s)
		if err != nil {
			t.Fatalf("set %s -> %s: %v", id, s, err)
		}
	}
	return task
}

func TestCreateTaskDefaults(t *testing.T) {
	g, _, p := newGraph(t)
	task := mustTask(t, g, p.ID, "write docs")
	if task.Status != domain.TaskBacklog {
		t.Fatalf("expected backlog, got %s", task.Status)
	}
	if task.Attempts != 0 || task.MaxAttempts != 3 {
		t.Fatalf("unexpected attempts %d/%d", task.Attempts, task.MaxAttempts)
	}
	if task.Priority != domain.PriorityMedium {
		t.Fatalf("expected medium priority, got %s", task.Priority)
	}
	if len(task.Dependencies) != 0 || len(task.Blocks) != 0 {
		t.Fatalf("expected empty edge sets")
	}
	if _, err := g.CreateTask(taskgraph.TaskInput{ProjectID: "missing", Title: "x"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for missing project, got %v", err)
	}
	if _, err := g.CreateTask(taskgraph.TaskInput{ProjectID: p.ID}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing title, got %v", err)
	}
}

func TestDependencyEdgesAreSymmetric(t *testing.T) {
	g, _, p := newGraph(t)
	a := mustTask(t, g, p.ID, "A")
	b := mustTask(t, g, p.ID, "B")
	if _, err := g.AddDependency(a.ID, b.ID); err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	a, _ = g.GetTask(a.ID)
	b, _ = g.GetTask(b.ID)
	if !slices.Contains(a.Dependencies, b.ID) || !slices.Contains(b.Blocks, a.ID) {
		t.Fatalf("edge not mirrored: deps=%v blocks=%v", a.Dependencies, b.Blocks)
	}
	// idempotent
	if _, err := g.AddDependency(a.ID, b.ID); err != nil {
		t.Fatalf("re-add dependency: %v", err)
	}
	a, _ = g.GetTask(a.ID)
	if len(a.Dependencies) != 1 {
		t.Fatalf("expected one dependency, got %v", a.Dependencies)
	}
	if _, err := g.RemoveDependency(a.ID, b.ID); err != nil {
		t.Fatalf("remove dependency: %v", err)
	}
	a, _ = g.GetTask(a.ID)
	b, _ = g.GetTask(b.ID)
	if len(a.Dependencies) != 0 || len(b.Blocks) != 0 {
		t.Fatalf("edge not removed on both sides: deps=%v blocks=%v", a.Dependencies, b.Blocks)
	}
}

func TestDependencyRejectsSelfAndCycles(t *testing.T) {
	g, _, p := newGraph(t)
	a := mustTask(t, g, p.ID, "A")
	b := mustTask(t, g, p.ID, "B")
	c := mustTask(t, g, p.ID, "C")
	if _, err := g.AddDependency(a.ID, a.ID); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for self dependency, got %v", err)
	}
	if _, err := g.AddDependency(a.ID, b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddDependency(b.ID, c.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddDependency(c.ID, a.ID); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected cycle rejection, got %v", err)
	}
	c, _ = g.GetTask(c.ID)
	a, _ = g.GetTask(a.ID)
	if len(c.Dependencies) != 0 || slices.Contains(a.Blocks, c.ID) {
		t.Fatalf("failed add left a half edge")
	}
	if _, err := g.AddDependency(a.ID, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBlockedTaskCannotStart(t *testing.T) {
	g, _, p := newGraph(t)
	a := mustTask(t, g, p.ID, "A")
	b := mustTask(t, g, p.ID, "B")
	if _, err := g.AddDependency(a.ID, b.ID); err != nil {
		t.Fatal(err)
	}
	_, err := g.SetStatus(a.ID, domain.TaskTodo)
	var blocked domain.BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected backlog -> todo to be blocked, got %v", err)
	}
	if !slices.Equal(blocked.BlockingIDs, []string{b.ID}) {
		t.Fatalf("unexpected blocking ids %v", blocked.BlockingIDs)
	}
	if got, _ := g.GetTask(a.ID); got.Status != domain.TaskBacklog {
		t.Fatalf("blocked move changed status to %s", got.Status)
	}
	walk(t, g, a.ID, domain.TaskBlocked)
	if _, err := g.SetStatus(a.ID, domain.TaskInProgress); !errors.As(err, &blocked) {
		t.Fatalf("expected blocked -> in_progress to be blocked, got %v", err)
	}
	blocking, err := g.GetBlockingTasks(a.ID)
	if err != nil || len(blocking) != 1 || blocking[0].ID != b.ID {
		t.Fatalf("expected B to block A: %v %v", blocking, err)
	}
	walk(t, g, b.ID, domain.TaskTodo, domain.TaskInProgress, domain.TaskReview, domain.TaskDone)
	blocking, _ = g.GetBlockingTasks(a.ID)
	if len(blocking) != 0 {
		t.Fatalf("expected no blocking tasks, got %d", len(blocking))
	}
	if task := walk(t, g, a.ID, domain.TaskInProgress); task.Status != domain.TaskInProgress {
		t.Fatalf("expected in_progress, got %s", task.Status)
	}
}

func TestStatusTransitions(t *testing.T) {
	g, _, p := newGraph(t)
	task := mustTask(t, g, p.ID, "A")
	if _, err := g.SetStatus(task.ID, domain.TaskDone); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition backlog -> done, got %v", err)
	}
	walk(t, g, task.ID, domain.TaskTodo, domain.TaskBlocked, domain.TaskTodo, domain.TaskInProgress, domain.TaskReview, domain.TaskInProgress, domain.TaskReview, domain.TaskDone)
	if _, err := g.SetStatus(task.ID, domain.TaskTodo); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected done to be terminal except archive, got %v", err)
	}
	if got := walk(t, g, task.ID, domain.TaskArchived); got.Status != domain.TaskArchived {
		t.Fatalf("expected archived, got %s", got.Status)
	}
	if _, err := g.SetStatus("missing", domain.TaskTodo); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompletionTimestampsAreStable(t *testing.T) {
	g, c, p := newGraph(t)
	task := mustTask(t, g, p.ID, "A")
	walk(t, g, task.ID, domain.TaskTodo, domain.TaskInProgress)
	c.Advance(90 * time.Second)
	walk(t, g, task.ID, domain.TaskReview)
	done := walk(t, g, task.ID, domain.TaskDone)
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Fatalf("expected timestamps")
	}
	if done.ActualDurationMinutes == nil || *done.ActualDurationMinutes != 2 {
		t.Fatalf("expected 2 minutes (rounded), got %v", done.ActualDurationMinutes)
	}
	c.Advance(time.Hour)
	again := walk(t, g, task.ID, domain.TaskDone)
	if !again.CompletedAt.Equal(*done.CompletedAt) || *again.ActualDurationMinutes != 2 {
		t.Fatalf("second done changed completion data")
	}
}

func TestDeleteTaskScrubsReferences(t *testing.T) {
	g, _, p := newGraph(t)
	a := mustTask(t, g, p.ID, "A")
	x := mustTask(t, g, p.ID, "X")
	c := mustTask(t, g, p.ID, "C")
	if _, err := g.AddDependency(a.ID, x.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddDependency(x.ID, c.ID); err != nil {
		t.Fatal(err)
	}
	art, err := g.CreateArtifact(taskgraph.ArtifactInput{TaskID: x.ID, Name: "out.txt"})
	if err != nil {
		t.Fatal(err)
	}
	removed, err := g.DeleteTask(x.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !slices.Equal(removed.Artifacts, []string{art.ID}) {
		t.Fatalf("expected artifact removal, got %v", removed.Artifacts)
	}
	for _, task := range g.ListTasks(taskgraph.TaskFilter{ProjectID: p.ID}) {
		if slices.Contains(task.Dependencies, x.ID) || slices.Contains(task.Blocks, x.ID) {
			t.Fatalf("task %s still references deleted task", task.ID)
		}
	}
	if _, err := g.GetArtifact(art.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected artifact gone, got %v", err)
	}
}

func TestReadyTasksOrdering(t *testing.T) {
	g, c, p := newGraph(t)
	low, _ := g.CreateTask(taskgraph.TaskInput{ProjectID: p.ID, Title: "low", Priority: domain.PriorityLow})
	c.Advance(time.Second)
	crit, _ := g.CreateTask(taskgraph.TaskInput{ProjectID: p.ID, Title: "crit", Priority: domain.PriorityCritical})
	c.Advance(time.Second)
	blocked, _ := g.CreateTask(taskgraph.TaskInput{ProjectID: p.ID, Title: "blocked", Priority: domain.PriorityCritical, Dependencies: []string{low.ID}})
	ready, err := g.ReadyTasks(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 2 || ready[0].ID != crit.ID || ready[1].ID != low.ID {
		t.Fatalf("unexpected ready order %v", ready)
	}
	for _, r := range ready {
		if r.ID == blocked.ID {
			t.Fatalf("blocked task reported ready")
		}
	}
}

func TestRecordAttemptBudget(t *testing.T) {
	g, _, p := newGraph(t)
	task, _ := g.CreateTask(taskgraph.TaskInput{ProjectID: p.ID, Title: "retry", MaxAttempts: 2})
	for i := 0; i < 2; i++ {
		if _, err := g.RecordAttempt(task.ID); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := g.RecordAttempt(task.ID); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected budget exhausted, got %v", err)
	}
}

func TestSubtasks(t *testing.T) {
	g, _, p := newGraph(t)
	task := mustTask(t, g, p.ID, "parent")
	task, err := g.AddSubtask(task.ID, "step one")
	if err != nil {
		t.Fatal(err)
	}
	sub := task.Subtasks[0]
	task, err = g.CompleteSubtask(task.ID, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !task.Subtasks[0].Completed || task.Subtasks[0].CompletedAt == nil {
		t.Fatalf("subtask not completed")
	}
	if _, err := g.CompleteSubtask(task.ID, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReadsReturnCopies(t *testing.T) {
	g, _, p := newGraph(t)
	a := mustTask(t, g, p.ID, "A")
	b := mustTask(t, g, p.ID, "B")
	got, _ := g.AddDependency(a.ID, b.ID)
	got.Dependencies[0] = "tampered"
	fresh, _ := g.GetTask(a.ID)
	if fresh.Dependencies[0] != b.ID {
		t.Fatalf("caller mutation leaked into graph")
	}
}

func TestProjectSlugsAndCascade(t *testing.T) {
	g, _, p := newGraph(t)
	second, err := g.CreateProject(taskgraph.ProjectInput{Name: "Démo"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Slug != "demo" || second.Slug != "demo-2" {
		t.Fatalf("unexpected slugs %q %q", p.Slug, second.Slug)
	}
	task := mustTask(t, g, p.ID, "A")
	if _, err := g.CreateArtifact(taskgraph.ArtifactInput{TaskID: task.ID, Name: "a"}); err != nil {
		t.Fatal(err)
	}
	removed, err := g.DeleteProject(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed.Tasks) != 1 || len(removed.Artifacts) != 1 {
		t.Fatalf("unexpected cascade %+v", removed)
	}
	if len(g.ListTasks(taskgraph.TaskFilter{})) != 0 {
		t.Fatalf("tasks survived project delete")
	}
}

func TestComputeProjectCompletion(t *testing.T) {
	if got := taskgraph.ComputeProjectCompletion(nil); got != 0 {
		t.Fatalf("expected 0 for no tasks, got %d", got)
	}
	tasks := []domain.Task{{Status: domain.TaskDone}, {Status: domain.TaskDone}, {Status: domain.TaskTodo}}
	if got := taskgraph.ComputeProjectCompletion(tasks); got != 67 {
		t.Fatalf("expected 67, got %d", got)
	}
}

func TestSnapshotRestoreRebuildsBlocks(t *testing.T) {
	g, _, p := newGraph(t)
	a := mustTask(t, g, p.ID, "A")
	b := mustTask(t, g, p.ID, "B")
	if _, err := g.AddDependency(a.ID, b.ID); err != nil {
		t.Fatal(err)
	}
	snap := g.Snapshot()
	for i := range snap.Tasks {
		snap.Tasks[i].Blocks = nil
	}
	restored := taskgraph.New()
	restored.Restore(snap)
	got, err := restored.GetTask(b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got.Blocks, []string{a.ID}) {
		t.Fatalf("blocks not rebuilt: %v", got.Blocks)
	}
}
