package taskgraph

import (
	"math"
	"slices"
	"sort"

	"agentgraph/internal/domain"
)

type TaskInput struct {
	ProjectID        string              `json:"project_id" validate:"required"`
	Title            string              `json:"title" validate:"required,max=500"`
	Description      string              `json:"description"`
	Priority         domain.TaskPriority `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	AssignedAgentID  string              `json:"assigned_agent_id"`
	Dependencies     []string            `json:"dependencies"`
	Tags             []string            `json:"tags"`
	EstimatedMinutes *int                `json:"estimated_minutes" validate:"omitempty,gte=0"`
	MaxAttempts      int                 `json:"max_attempts" validate:"gte=0"`
}

// TaskPatch updates the non-nil fields of a task. Status and edges have
// their own operations.
type TaskPatch struct {
	Title            *string              `validate:"omitempty,min=1,max=500"`
	Description      *string
	Priority         *domain.TaskPriority `validate:"omitempty,oneof=low medium high critical"`
	AssignedAgentID  *string
	Tags             []string
	EstimatedMinutes *int `validate:"omitempty,gte=0"`
}

type TaskFilter struct {
	ProjectID       string
	Status          domain.TaskStatus
	AssignedAgentID string
}

func (g *Graph) CreateTask(in TaskInput) (domain.Task, error) {
	if err := domain.ValidateStruct(in); err != nil {
		return domain.Task{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.projects[in.ProjectID]; !ok {
		return domain.Task{}, domain.NotFound("project", in.ProjectID)
	}
	for _, dep := range in.Dependencies {
		d, ok := g.tasks[dep]
		if !ok {
			return domain.Task{}, domain.NotFound("task", dep)
		}
		if d.ProjectID != in.ProjectID {
			return domain.Task{}, domain.Invalid("dependencies", "dependency "+dep+" belongs to another project")
		}
	}
	now := g.now()
	priority := in.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	maxAttempts := in.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = g.MaxAttempts
	}
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	t := &domain.Task{
		ID:               g.newID(),
		ProjectID:        in.ProjectID,
		Title:            in.Title,
		Description:      in.Description,
		Status:           domain.TaskBacklog,
		Priority:         priority,
		AssignedAgentID:  in.AssignedAgentID,
		Dependencies:     []string{},
		Blocks:           []string{},
		ArtifactIDs:      []string{},
		Tags:             slices.Clone(in.Tags),
		MaxAttempts:      maxAttempts,
		EstimatedMinutes: cloneInt(in.EstimatedMinutes),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	g.tasks[t.ID] = t
	for _, dep := range in.Dependencies {
		t.Dependencies = addID(t.Dependencies, dep)
		d := g.tasks[dep]
		d.Blocks = addID(d.Blocks, t.ID)
	}
	return cloneTask(t), nil
}

func (g *Graph) GetTask(id string) (domain.Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[id]
	if !ok {
		return domain.Task{}, domain.NotFound("task", id)
	}
	return cloneTask(t), nil
}

func (g *Graph) ListTasks(f TaskFilter) []domain.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res := []domain.Task{}
	for _, t := range g.tasks {
		if f.ProjectID != "" && t.ProjectID != f.ProjectID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.AssignedAgentID != "" && t.AssignedAgentID != f.AssignedAgentID {
			continue
		}
		res = append(res, cloneTask(t))
	}
	sortTasks(res)
	return res
}

func sortTasks(ts []domain.Task) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}

func (g *Graph) UpdateTask(id string, patch TaskPatch) (domain.Task, error) {
	if err := domain.ValidateStruct(patch); err != nil {
		return domain.Task{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return domain.Task{}, domain.NotFound("task", id)
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.AssignedAgentID != nil {
		t.AssignedAgentID = *patch.AssignedAgentID
	}
	if patch.Tags != nil {
		t.Tags = slices.Clone(patch.Tags)
	}
	if patch.EstimatedMinutes != nil {
		t.EstimatedMinutes = cloneInt(patch.EstimatedMinutes)
	}
	t.UpdatedAt = g.now()
	return cloneTask(t), nil
}

// AddDependency records that taskID depends on dependsOnID and mirrors the
// edge into dependsOnID's blocks set. Adding an existing edge is a no-op.
func (g *Graph) AddDependency(taskID, dependsOnID string) (domain.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[taskID]
	if !ok {
		return domain.Task{}, domain.NotFound("task", taskID)
	}
	dep, ok := g.tasks[dependsOnID]
	if !ok {
		return domain.Task{}, domain.NotFound("task", dependsOnID)
	}
	if taskID == dependsOnID {
		return domain.Task{}, domain.Invalid("dependencies", "task cannot depend on itself")
	}
	if t.ProjectID != dep.ProjectID {
		return domain.Task{}, domain.Invalid("dependencies", "tasks belong to different projects")
	}
	if slices.Contains(t.Dependencies, dependsOnID) {
		return cloneTask(t), nil
	}
	if g.reachableLocked(dependsOnID, taskID) {
		return domain.Task{}, domain.Invalid("dependencies", "dependency cycle detected")
	}
	now := g.now()
	t.Dependencies = addID(t.Dependencies, dependsOnID)
	dep.Blocks = addID(dep.Blocks, taskID)
	t.UpdatedAt = now
	dep.UpdatedAt = now
	return cloneTask(t), nil
}

// reachableLocked reports whether to is reachable from from by following
// dependency edges.
func (g *Graph) reachableLocked(from, to string) bool {
	seen := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if t, ok := g.tasks[id]; ok {
			stack = append(stack, t.Dependencies...)
		}
	}
	return false
}

func (g *Graph) RemoveDependency(taskID, dependsOnID string) (domain.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[taskID]
	if !ok {
		return domain.Task{}, domain.NotFound("task", taskID)
	}
	dep, ok := g.tasks[dependsOnID]
	if !ok {
		return domain.Task{}, domain.NotFound("task", dependsOnID)
	}
	if !slices.Contains(t.Dependencies, dependsOnID) {
		return cloneTask(t), nil
	}
	now := g.now()
	t.Dependencies = removeID(t.Dependencies, dependsOnID)
	dep.Blocks = removeID(dep.Blocks, taskID)
	t.UpdatedAt = now
	dep.UpdatedAt = now
	return cloneTask(t), nil
}

// GetBlockingTasks returns the dependencies of a task that are not finished.
func (g *Graph) GetBlockingTasks(taskID string) ([]domain.Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[taskID]
	if !ok {
		return nil, domain.NotFound("task", taskID)
	}
	res := []domain.Task{}
	for _, id := range g.blockingLocked(t) {
		res = append(res, cloneTask(g.tasks[id]))
	}
	return res, nil
}

func (g *Graph) blockingLocked(t *domain.Task) []string {
	var ids []string
	for _, id := range t.Dependencies {
		dep, ok := g.tasks[id]
		if !ok || finished(dep) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// finished treats a task archived after completion the same as done.
func finished(t *domain.Task) bool {
	return t.Status == domain.TaskDone || (t.Status == domain.TaskArchived && t.CompletedAt != nil)
}

// ReadyTasks returns backlog and todo tasks with nothing blocking them,
// highest priority first.
func (g *Graph) ReadyTasks(projectID string) ([]domain.Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.projects[projectID]; !ok {
		return nil, domain.NotFound("project", projectID)
	}
	res := []domain.Task{}
	for _, t := range g.tasks {
		if t.ProjectID != projectID {
			continue
		}
		if t.Status != domain.TaskBacklog && t.Status != domain.TaskTodo {
			continue
		}
		if len(g.blockingLocked(t)) > 0 {
			continue
		}
		res = append(res, cloneTask(t))
	}
	sortTasks(res)
	sort.SliceStable(res, func(i, j int) bool { return res[i].Priority.Rank() > res[j].Priority.Rank() })
	return res, nil
}

// SetStatus moves a task through its lifecycle. Setting the current status
// again changes nothing.
func (g *Graph) SetStatus(taskID string, status domain.TaskStatus) (domain.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[taskID]
	if !ok {
		return domain.Task{}, domain.NotFound("task", taskID)
	}
	if t.Status == status {
		return cloneTask(t), nil
	}
	if err := ensureTaskTransition(t.ID, t.Status, status); err != nil {
		return domain.Task{}, err
	}
	if needsClearDependencies(t.Status, status) {
		if blocking := g.blockingLocked(t); len(blocking) > 0 {
			return domain.Task{}, domain.BlockedError{TaskID: t.ID, BlockingIDs: blocking}
		}
	}
	now := g.now()
	switch status {
	case domain.TaskInProgress:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case domain.TaskDone:
		t.CompletedAt = &now
		if t.StartedAt != nil {
			mins := int(math.Round(float64(now.Sub(*t.StartedAt).Milliseconds()) / 60000))
			t.ActualDurationMinutes = &mins
		}
	}
	t.Status = status
	t.UpdatedAt = now
	return cloneTask(t), nil
}

// needsClearDependencies reports whether moving from one status to another
// requires every dependency to be finished. Parking a task in blocked and
// returning it from todo to backlog are always allowed.
func needsClearDependencies(from, to domain.TaskStatus) bool {
	switch from {
	case domain.TaskBacklog, domain.TaskTodo:
		if to == domain.TaskBlocked || to == domain.TaskBacklog {
			return false
		}
		return true
	case domain.TaskBlocked:
		return to == domain.TaskInProgress
	}
	return false
}

// RecordAttempt counts one execution attempt against the task's budget.
func (g *Graph) RecordAttempt(taskID string) (domain.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[taskID]
	if !ok {
		return domain.Task{}, domain.NotFound("task", taskID)
	}
	if t.Attempts >= t.MaxAttempts {
		return domain.Task{}, domain.Invalid("attempts", "max attempts reached")
	}
	t.Attempts++
	t.UpdatedAt = g.now()
	return cloneTask(t), nil
}

// DeleteTask removes the task, its artifacts and every edge pointing at it.
func (g *Graph) DeleteTask(taskID string) (Removed, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[taskID]
	if !ok {
		return Removed{}, domain.NotFound("task", taskID)
	}
	now := g.now()
	var res Removed
	for id, other := range g.tasks {
		if id == taskID {
			continue
		}
		if slices.Contains(other.Dependencies, taskID) || slices.Contains(other.Blocks, taskID) {
			other.Dependencies = removeID(other.Dependencies, taskID)
			other.Blocks = removeID(other.Blocks, taskID)
			other.UpdatedAt = now
			res.TouchedTasks = append(res.TouchedTasks, id)
		}
	}
	for aid, a := range g.artifacts {
		if a.TaskID == taskID {
			delete(g.artifacts, aid)
			res.Artifacts = append(res.Artifacts, aid)
		}
	}
	delete(g.tasks, t.ID)
	res.Tasks = []string{t.ID}
	sort.Strings(res.TouchedTasks)
	sort.Strings(res.Artifacts)
	return res, nil
}

func (g *Graph) AddSubtask(taskID, title string) (domain.Task, error) {
	if title == "" {
		return domain.Task{}, domain.Invalid("title", "required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[taskID]
	if !ok {
		return domain.Task{}, domain.NotFound("task", taskID)
	}
	t.Subtasks = append(t.Subtasks, domain.Subtask{ID: g.newID(), Title: title})
	t.UpdatedAt = g.now()
	return cloneTask(t), nil
}

// CompleteSubtask marks a subtask done; completing it twice keeps the first
// timestamp.
func (g *Graph) CompleteSubtask(taskID, subtaskID string) (domain.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[taskID]
	if !ok {
		return domain.Task{}, domain.NotFound("task", taskID)
	}
	idx := slices.IndexFunc(t.Subtasks, func(s domain.Subtask) bool { return s.ID == subtaskID })
	if idx < 0 {
		return domain.Task{}, domain.NotFound("subtask", subtaskID)
	}
	if !t.Subtasks[idx].Completed {
		now := g.now()
		t.Subtasks[idx].Completed = true
		t.Subtasks[idx].CompletedAt = &now
		t.UpdatedAt = now
	}
	return cloneTask(t), nil
}

// ComputeProjectCompletion returns the rounded share of done tasks, 0 for
// an empty list.
func ComputeProjectCompletion(tasks []domain.Task) int {
	if len(tasks) == 0 {
		return 0
	}
	done := 0
	for _, t := range tasks {
		if t.Status == domain.TaskDone {
			done++
		}
	}
	return int(math.Round(100 * float64(done) / float64(len(tasks))))
}
