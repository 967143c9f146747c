package engine

import (
	"context"
	"database/sql"

	"agentgraph/internal/domain"
	"agentgraph/internal/events"
	"agentgraph/internal/repo"
	"agentgraph/internal/relgraph"
)

func (e Engine) CreateRelationship(ctx context.Context, in relgraph.EdgeInput, actorID string) (domain.RelationshipEdge, error) {
	defer e.lock()()
	edge, err := e.Edges.CreateEdge(in)
	if err != nil {
		return domain.RelationshipEdge{}, err
	}
	err = e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.PutTx(ctx, tx, repo.KindRelationship, edge.ID, "", edge); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.RelationshipCreated, "", "relationship", edge.ID, actorID, events.EventPayload{
			"source_agent_id": edge.SourceAgentID,
			"target_agent_id": edge.TargetAgentID,
			"type":            edge.Type,
		})
	})
	if err != nil {
		return domain.RelationshipEdge{}, err
	}
	return edge, nil
}

func (e Engine) GetRelationship(id string) (domain.RelationshipEdge, error) {
	return e.Edges.Edge(id)
}

func (e Engine) ListRelationships(f relgraph.EdgeFilter) []domain.RelationshipEdge {
	return e.Edges.ListEdges(f)
}

// FindRelationships returns the edges that let initiator reach target.
func (e Engine) FindRelationships(initiator, target string) []domain.RelationshipEdge {
	return e.Edges.FindEdges(initiator, target)
}

func (e Engine) UpdateRelationshipPolicy(ctx context.Context, id string, patch relgraph.PolicyPatch, actorID string) (domain.RelationshipEdge, error) {
	defer e.lock()()
	edge, err := e.Edges.UpdatePolicy(id, patch)
	if err != nil {
		return domain.RelationshipEdge{}, err
	}
	err = e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.PutTx(ctx, tx, repo.KindRelationship, edge.ID, "", edge); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.RelationshipUpdated, "", "relationship", edge.ID, actorID, events.EventPayload{
			"authority_delta": edge.AuthorityDelta,
			"bidirectional":   edge.Bidirectional,
			"auto_approval":   edge.AutoApproval,
		})
	})
	if err != nil {
		return domain.RelationshipEdge{}, err
	}
	return edge, nil
}

// DeleteRelationship removes the edge. Interactions keep their
// relationship id as history.
func (e Engine) DeleteRelationship(ctx context.Context, id, actorID string) error {
	defer e.lock()()
	if err := e.Edges.DeleteEdge(id); err != nil {
		return err
	}
	return e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteTx(ctx, tx, repo.KindRelationship, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.RelationshipDeleted, "", "relationship", id, actorID, nil)
	})
}
