package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	ProjectCreated        = "project.created"
	ProjectUpdated        = "project.updated"
	ProjectDeleted        = "project.deleted"
	TaskCreated           = "task.created"
	TaskUpdated           = "task.updated"
	TaskStatusChanged     = "task.status_changed"
	TaskDependencyAdded   = "task.dependency_added"
	TaskDependencyDropped = "task.dependency_removed"
	TaskDeleted           = "task.deleted"
	ArtifactCreated       = "artifact.created"
	ArtifactUpdated       = "artifact.updated"
	ArtifactDeleted       = "artifact.deleted"
	RelationshipCreated   = "relationship.created"
	RelationshipUpdated   = "relationship.updated"
	RelationshipDeleted   = "relationship.deleted"
	InteractionCreated    = "interaction.created"
	InteractionUpdated    = "interaction.status_changed"
	InteractionIntervened = "interaction.user_intervention"
	WorkflowDeleted       = "workflow.deleted"
	SnapshotImported      = "snapshot.imported"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside the caller's transaction. scope is the
// project id for task-graph events and the workflow id for ledger events.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, scope, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	if actorID == "" {
		actorID = "system"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,scope,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(scope), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
