package engine

import (
	"context"
	"database/sql"

	"agentgraph/internal/domain"
	"agentgraph/internal/events"
	"agentgraph/internal/repo"
	"agentgraph/internal/taskgraph"
)

func (e Engine) CreateArtifact(ctx context.Context, in taskgraph.ArtifactInput, actorID string) (domain.Artifact, error) {
	defer e.lock()()
	a, err := e.Tasks.CreateArtifact(in)
	if err != nil {
		return domain.Artifact{}, err
	}
	err = e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.PutTx(ctx, tx, repo.KindArtifact, a.ID, a.ProjectID, a); err != nil {
			return err
		}
		if err := e.putTasks(ctx, tx, a.TaskID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ArtifactCreated, a.ProjectID, "artifact", a.ID, actorID, events.EventPayload{
			"task_id": a.TaskID,
			"name":    a.Name,
			"type":    a.Type,
		})
	})
	if err != nil {
		return domain.Artifact{}, err
	}
	return a, nil
}

func (e Engine) GetArtifact(id string) (domain.Artifact, error) {
	return e.Tasks.GetArtifact(id)
}

func (e Engine) ListArtifacts(f taskgraph.ArtifactFilter) []domain.Artifact {
	return e.Tasks.ListArtifacts(f)
}

func (e Engine) UpdateArtifactContent(ctx context.Context, id, content, actorID string) (domain.Artifact, error) {
	defer e.lock()()
	a, err := e.Tasks.UpdateArtifactContent(id, content)
	if err != nil {
		return domain.Artifact{}, err
	}
	return e.saveArtifact(ctx, a, actorID, events.EventPayload{"version": a.Version})
}

func (e Engine) SubmitArtifact(ctx context.Context, id, actorID string) (domain.Artifact, error) {
	defer e.lock()()
	a, err := e.Tasks.SubmitArtifact(id)
	if err != nil {
		return domain.Artifact{}, err
	}
	return e.saveArtifact(ctx, a, actorID, events.EventPayload{"status": a.Status})
}

// ReviewArtifact approves or rejects a pending artifact.
func (e Engine) ReviewArtifact(ctx context.Context, id string, approve bool, reviewer, comments string) (domain.Artifact, error) {
	defer e.lock()()
	var (
		a   domain.Artifact
		err error
	)
	if approve {
		a, err = e.Tasks.ApproveArtifact(id, reviewer, comments)
	} else {
		a, err = e.Tasks.RejectArtifact(id, reviewer, comments)
	}
	if err != nil {
		return domain.Artifact{}, err
	}
	return e.saveArtifact(ctx, a, reviewer, events.EventPayload{"status": a.Status, "comments": comments})
}

func (e Engine) SupersedeArtifact(ctx context.Context, id, actorID string) (domain.Artifact, error) {
	defer e.lock()()
	a, err := e.Tasks.SupersedeArtifact(id)
	if err != nil {
		return domain.Artifact{}, err
	}
	return e.saveArtifact(ctx, a, actorID, events.EventPayload{"status": a.Status})
}

func (e Engine) DeleteArtifact(ctx context.Context, id, actorID string) error {
	defer e.lock()()
	a, err := e.Tasks.DeleteArtifact(id)
	if err != nil {
		return err
	}
	return e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteTx(ctx, tx, repo.KindArtifact, id); err != nil {
			return err
		}
		if err := e.putTasks(ctx, tx, a.TaskID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ArtifactDeleted, a.ProjectID, "artifact", id, actorID, events.EventPayload{"task_id": a.TaskID})
	})
}

func (e Engine) saveArtifact(ctx context.Context, a domain.Artifact, actorID string, payload events.EventPayload) (domain.Artifact, error) {
	err := e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.PutTx(ctx, tx, repo.KindArtifact, a.ID, a.ProjectID, a); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ArtifactUpdated, a.ProjectID, "artifact", a.ID, actorID, payload)
	})
	if err != nil {
		return domain.Artifact{}, err
	}
	return a, nil
}
