package engine

import (
	"context"
	"database/sql"

	"agentgraph/internal/domain"
	"agentgraph/internal/events"
	"agentgraph/internal/repo"
	"agentgraph/internal/taskgraph"
)

func (e Engine) CreateProject(ctx context.Context, in taskgraph.ProjectInput, actorID string) (domain.Project, error) {
	defer e.lock()()
	p, err := e.Tasks.CreateProject(in)
	if err != nil {
		return domain.Project{}, err
	}
	err = e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.PutTx(ctx, tx, repo.KindProject, p.ID, "", p); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, actorID, events.EventPayload{"slug": p.Slug, "name": p.Name})
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) GetProject(id string) (domain.Project, error) {
	return e.Tasks.GetProject(id)
}

func (e Engine) GetProjectBySlug(slug string) (domain.Project, error) {
	return e.Tasks.GetProjectBySlug(slug)
}

// ResolveProject accepts either an id or a slug.
func (e Engine) ResolveProject(ref string) (domain.Project, error) {
	if p, err := e.Tasks.GetProject(ref); err == nil {
		return p, nil
	}
	return e.Tasks.GetProjectBySlug(ref)
}

func (e Engine) ListProjects() []domain.Project {
	return e.Tasks.ListProjects()
}

func (e Engine) UpdateProject(ctx context.Context, id string, patch taskgraph.ProjectPatch, actorID string) (domain.Project, error) {
	defer e.lock()()
	before, err := e.Tasks.GetProject(id)
	if err != nil {
		return domain.Project{}, err
	}
	p, err := e.Tasks.UpdateProject(id, patch)
	if err != nil {
		return domain.Project{}, err
	}
	err = e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.PutTx(ctx, tx, repo.KindProject, p.ID, "", p); err != nil {
			return err
		}
		payload := events.EventPayload{"name": p.Name}
		if before.Status != p.Status {
			payload["from"] = before.Status
			payload["to"] = p.Status
		}
		return e.Events.Append(ctx, tx, events.ProjectUpdated, p.ID, "project", p.ID, actorID, payload)
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// DeleteProject removes the project with its tasks and artifacts.
// Interactions that referenced those tasks stay in the ledger.
func (e Engine) DeleteProject(ctx context.Context, id, actorID string) (taskgraph.Removed, error) {
	defer e.lock()()
	removed, err := e.Tasks.DeleteProject(id)
	if err != nil {
		return taskgraph.Removed{}, err
	}
	err = e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteTx(ctx, tx, repo.KindProject, id); err != nil {
			return err
		}
		if _, err := e.Repo.DeleteScopeTx(ctx, tx, repo.KindTask, id); err != nil {
			return err
		}
		if _, err := e.Repo.DeleteScopeTx(ctx, tx, repo.KindArtifact, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ProjectDeleted, id, "project", id, actorID, events.EventPayload{
			"tasks":     len(removed.Tasks),
			"artifacts": len(removed.Artifacts),
		})
	})
	if err != nil {
		return taskgraph.Removed{}, err
	}
	return removed, nil
}
