package engine

import (
	"context"
	"database/sql"

	"agentgraph/internal/domain"
	"agentgraph/internal/events"
	"agentgraph/internal/repo"
	"agentgraph/internal/taskgraph"
)

func (e Engine) CreateTask(ctx context.Context, in taskgraph.TaskInput, actorID string) (domain.Task, error) {
	defer e.lock()()
	t, err := e.Tasks.CreateTask(in)
	if err != nil {
		return domain.Task{}, err
	}
	err = e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.putTasks(ctx, tx, append([]string{t.ID}, t.Dependencies...)...); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskCreated, t.ProjectID, "task", t.ID, actorID, events.EventPayload{
			"title":        t.Title,
			"status":       t.Status,
			"dependencies": t.Dependencies,
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(id string) (domain.Task, error) {
	return e.Tasks.GetTask(id)
}

func (e Engine) ListTasks(f taskgraph.TaskFilter) []domain.Task {
	return e.Tasks.ListTasks(f)
}

func (e Engine) UpdateTask(ctx context.Context, id string, patch taskgraph.TaskPatch, actorID string) (domain.Task, error) {
	defer e.lock()()
	t, err := e.Tasks.UpdateTask(id, patch)
	if err != nil {
		return domain.Task{}, err
	}
	return t, e.saveTask(ctx, t, events.TaskUpdated, actorID, events.EventPayload{"title": t.Title})
}

// SetTaskStatus moves a task through its lifecycle. Re-setting the current
// status records nothing.
func (e Engine) SetTaskStatus(ctx context.Context, id string, status domain.TaskStatus, actorID string) (domain.Task, error) {
	defer e.lock()()
	before, err := e.Tasks.GetTask(id)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.Tasks.SetStatus(id, status)
	if err != nil {
		return domain.Task{}, err
	}
	if before.Status == t.Status {
		return t, nil
	}
	payload := events.EventPayload{"from": before.Status, "to": t.Status}
	if t.ActualDurationMinutes != nil {
		payload["actual_duration_minutes"] = *t.ActualDurationMinutes
	}
	if err := e.saveTask(ctx, t, events.TaskStatusChanged, actorID, payload); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) AddDependency(ctx context.Context, taskID, dependsOnID, actorID string) (domain.Task, error) {
	defer e.lock()()
	t, err := e.Tasks.AddDependency(taskID, dependsOnID)
	if err != nil {
		return domain.Task{}, err
	}
	err = e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.putTasks(ctx, tx, taskID, dependsOnID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskDependencyAdded, t.ProjectID, "task", t.ID, actorID, events.EventPayload{"depends_on": dependsOnID})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) RemoveDependency(ctx context.Context, taskID, dependsOnID, actorID string) (domain.Task, error) {
	defer e.lock()()
	t, err := e.Tasks.RemoveDependency(taskID, dependsOnID)
	if err != nil {
		return domain.Task{}, err
	}
	err = e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.putTasks(ctx, tx, taskID, dependsOnID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskDependencyDropped, t.ProjectID, "task", t.ID, actorID, events.EventPayload{"depends_on": dependsOnID})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) BlockingTasks(id string) ([]domain.Task, error) {
	return e.Tasks.GetBlockingTasks(id)
}

func (e Engine) ReadyTasks(projectID string) ([]domain.Task, error) {
	return e.Tasks.ReadyTasks(projectID)
}

func (e Engine) RecordAttempt(ctx context.Context, id, actorID string) (domain.Task, error) {
	defer e.lock()()
	t, err := e.Tasks.RecordAttempt(id)
	if err != nil {
		return domain.Task{}, err
	}
	return t, e.saveTask(ctx, t, events.TaskUpdated, actorID, events.EventPayload{"attempts": t.Attempts, "max_attempts": t.MaxAttempts})
}

func (e Engine) AddSubtask(ctx context.Context, taskID, title, actorID string) (domain.Task, error) {
	defer e.lock()()
	t, err := e.Tasks.AddSubtask(taskID, title)
	if err != nil {
		return domain.Task{}, err
	}
	return t, e.saveTask(ctx, t, events.TaskUpdated, actorID, events.EventPayload{"subtask_added": title})
}

func (e Engine) CompleteSubtask(ctx context.Context, taskID, subtaskID, actorID string) (domain.Task, error) {
	defer e.lock()()
	t, err := e.Tasks.CompleteSubtask(taskID, subtaskID)
	if err != nil {
		return domain.Task{}, err
	}
	return t, e.saveTask(ctx, t, events.TaskUpdated, actorID, events.EventPayload{"subtask_completed": subtaskID})
}

// DeleteTask removes the task and its artifacts and unlinks it from every
// neighbour.
func (e Engine) DeleteTask(ctx context.Context, id, actorID string) (taskgraph.Removed, error) {
	defer e.lock()()
	t, err := e.Tasks.GetTask(id)
	if err != nil {
		return taskgraph.Removed{}, err
	}
	removed, err := e.Tasks.DeleteTask(id)
	if err != nil {
		return taskgraph.Removed{}, err
	}
	err = e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteTx(ctx, tx, repo.KindTask, id); err != nil {
			return err
		}
		for _, aid := range removed.Artifacts {
			if err := e.Repo.DeleteTx(ctx, tx, repo.KindArtifact, aid); err != nil {
				return err
			}
		}
		if err := e.putTasks(ctx, tx, removed.TouchedTasks...); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskDeleted, t.ProjectID, "task", id, actorID, events.EventPayload{
			"title":     t.Title,
			"artifacts": removed.Artifacts,
			"unlinked":  removed.TouchedTasks,
		})
	})
	if err != nil {
		return taskgraph.Removed{}, err
	}
	return removed, nil
}

func (e Engine) saveTask(ctx context.Context, t domain.Task, evtType, actorID string, payload events.EventPayload) error {
	return e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.PutTx(ctx, tx, repo.KindTask, t.ID, t.ProjectID, t); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, evtType, t.ProjectID, "task", t.ID, actorID, payload)
	})
}
