package server

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"agentgraph/internal/domain"
	"agentgraph/internal/engine"
	"agentgraph/internal/ledger"
	"agentgraph/internal/relgraph"
	"agentgraph/internal/repo"
	"agentgraph/internal/snapshot"
	"agentgraph/internal/stats"
)

func registerRelationships(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-relationship",
		Method:        http.MethodPost,
		Path:          "/relationships",
		Summary:       "Create relationship edge",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body relgraph.EdgeInput `json:"body"`
	}) (*bodyOutput[domain.RelationshipEdge], error) {
		edge, err := e.CreateRelationship(ctx, input.Body, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(edge), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-relationships",
		Method:      http.MethodGet,
		Path:        "/relationships",
		Summary:     "List relationship edges",
	}, func(ctx context.Context, input *struct {
		AgentID string `query:"agent_id"`
		Type    string `query:"type" enum:"delegation,collaboration,review,escalation,consultation,dependency,supervision"`
	}) (*bodyOutput[[]domain.RelationshipEdge], error) {
		items := e.ListRelationships(relgraph.EdgeFilter{AgentID: input.AgentID, Type: domain.RelationshipType(input.Type)})
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "find-relationships",
		Method:      http.MethodGet,
		Path:        "/relationships/find",
		Summary:     "Edges allowing initiator to reach target",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Initiator string `query:"initiator" required:"true"`
		Target    string `query:"target" required:"true"`
	}) (*bodyOutput[[]domain.RelationshipEdge], error) {
		return respond(nonNilSlice(e.FindRelationships(input.Initiator, input.Target))), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-relationship",
		Method:      http.MethodGet,
		Path:        "/relationships/{relationship_id}",
		Summary:     "Get relationship edge",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RelationshipID string `path:"relationship_id"`
	}) (*bodyOutput[domain.RelationshipEdge], error) {
		edge, err := e.GetRelationship(input.RelationshipID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(edge), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-relationship-policy",
		Method:      http.MethodPatch,
		Path:        "/relationships/{relationship_id}",
		Summary:     "Update relationship policy",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		RelationshipID string               `path:"relationship_id"`
		Body           relgraph.PolicyPatch `json:"body"`
	}) (*bodyOutput[domain.RelationshipEdge], error) {
		edge, err := e.UpdateRelationshipPolicy(ctx, input.RelationshipID, input.Body, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(edge), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-relationship",
		Method:        http.MethodDelete,
		Path:          "/relationships/{relationship_id}",
		Summary:       "Delete relationship edge",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RelationshipID string `path:"relationship_id"`
	}) (*struct{}, error) {
		if err := e.DeleteRelationship(ctx, input.RelationshipID, actorFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

const snapshotContentType = "application/x-ndjson"

type interactionPath struct {
	InteractionID string `path:"interaction_id"`
}

func registerInteractions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-interaction",
		Method:        http.MethodPost,
		Path:          "/interactions",
		Summary:       "Record interaction",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateInteractionRequest `json:"body"`
	}) (*bodyOutput[domain.Interaction], error) {
		it, err := e.CreateInteraction(ctx, input.Body.input(), actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-interactions",
		Method:      http.MethodGet,
		Path:        "/interactions",
		Summary:     "Query interactions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		WorkflowID          string `query:"workflow_id"`
		AgentID             string `query:"agent_id"`
		Type                string `query:"type"`
		Status              string `query:"status" enum:"pending,in_progress,completed,failed,cancelled,timeout"`
		TaskID              string `query:"task_id"`
		From                string `query:"from" doc:"RFC3339 lower bound on created_at"`
		To                  string `query:"to" doc:"RFC3339 upper bound on created_at"`
		HasUserIntervention string `query:"has_user_intervention" enum:"true,false"`
	}) (*bodyOutput[[]domain.Interaction], error) {
		f := ledger.Filter{
			WorkflowID: input.WorkflowID,
			AgentID:    input.AgentID,
			Type:       domain.InteractionType(input.Type),
			Status:     domain.InteractionStatus(input.Status),
			TaskID:     input.TaskID,
		}
		var err error
		if f.From, err = parseTime("from", input.From); err != nil {
			return nil, err
		}
		if f.To, err = parseTime("to", input.To); err != nil {
			return nil, err
		}
		if input.HasUserIntervention != "" {
			v, perr := strconv.ParseBool(input.HasUserIntervention)
			if perr != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid has_user_intervention", nil)
			}
			f.HasUserIntervention = &v
		}
		return respond(nonNilSlice(e.ListInteractions(f))), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-interaction",
		Method:      http.MethodGet,
		Path:        "/interactions/{interaction_id}",
		Summary:     "Get interaction",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *interactionPath) (*bodyOutput[domain.Interaction], error) {
		it, err := e.GetInteraction(input.InteractionID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "interaction-chain",
		Method:      http.MethodGet,
		Path:        "/interactions/{interaction_id}/chain",
		Summary:     "Ancestors of an interaction, root first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *interactionPath) (*bodyOutput[[]domain.Interaction], error) {
		items, err := e.InteractionChain(input.InteractionID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "interaction-children",
		Method:      http.MethodGet,
		Path:        "/interactions/{interaction_id}/children",
		Summary:     "Direct children of an interaction",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *interactionPath) (*bodyOutput[[]domain.Interaction], error) {
		items, err := e.InteractionChildren(input.InteractionID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	registerInteractionAction(api, "start", "Start interaction", e.StartInteraction)
	registerInteractionAction(api, "cancel", "Cancel interaction", e.CancelInteraction)
	registerInteractionAction(api, "timeout", "Mark interaction timed out", e.TimeoutInteraction)
	registerInteractionAction(api, "retry", "Retry failed or timed out interaction", e.RetryInteraction)

	huma.Register(api, huma.Operation{
		OperationID: "complete-interaction",
		Method:      http.MethodPost,
		Path:        "/interactions/{interaction_id}/complete",
		Summary:     "Complete interaction",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		InteractionID string         `path:"interaction_id"`
		Body          OutcomeRequest `json:"body"`
	}) (*bodyOutput[domain.Interaction], error) {
		it, err := e.CompleteInteraction(ctx, input.InteractionID, input.Body.Response, input.Body.usage(), actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fail-interaction",
		Method:      http.MethodPost,
		Path:        "/interactions/{interaction_id}/fail",
		Summary:     "Fail interaction",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		InteractionID string         `path:"interaction_id"`
		Body          OutcomeRequest `json:"body"`
	}) (*bodyOutput[domain.Interaction], error) {
		it, err := e.FailInteraction(ctx, input.InteractionID, input.Body.Error, input.Body.usage(), actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-user-intervention",
		Method:        http.MethodPost,
		Path:          "/interactions/{interaction_id}/interventions",
		Summary:       "Record user intervention",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		InteractionID string              `path:"interaction_id"`
		Body          InterventionRequest `json:"body"`
	}) (*bodyOutput[domain.Interaction], error) {
		it, err := e.AddUserIntervention(ctx, input.InteractionID, input.Body.input(), actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-workflow",
		Method:      http.MethodDelete,
		Path:        "/workflows/{workflow_id}",
		Summary:     "Delete every interaction of a workflow",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflow_id"`
	}) (*bodyOutput[DeletedWorkflowResponse], error) {
		ids, err := e.DeleteWorkflow(ctx, input.WorkflowID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(DeletedWorkflowResponse{WorkflowID: input.WorkflowID, Deleted: nonNilSlice(ids)}), nil
	})
}

type interactionAction func(ctx context.Context, id, actorID string) (domain.Interaction, error)

func registerInteractionAction(api huma.API, action, summary string, fn interactionAction) {
	huma.Register(api, huma.Operation{
		OperationID: action + "-interaction",
		Method:      http.MethodPost,
		Path:        "/interactions/{interaction_id}/" + action,
		Summary:     summary,
		Errors:      commonErrors,
	}, func(ctx context.Context, input *interactionPath) (*bodyOutput[domain.Interaction], error) {
		it, err := fn(ctx, input.InteractionID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(it), nil
	})
}

func registerStats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "interaction-stats",
		Method:      http.MethodGet,
		Path:        "/stats/interactions",
		Summary:     "Interaction statistics",
	}, func(ctx context.Context, input *struct {
		WorkflowID string `query:"workflow_id"`
	}) (*bodyOutput[stats.InteractionStats], error) {
		return respond(e.InteractionStats(input.WorkflowID)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-stats",
		Method:      http.MethodGet,
		Path:        "/stats/agents/{agent_id}",
		Summary:     "Agent statistics",
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*bodyOutput[stats.AgentStats], error) {
		return respond(e.AgentStats(input.AgentID)), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Cursor     string `query:"cursor"`
		Scope      string `query:"scope"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*bodyOutput[paginatedEvents], error) {
		limit := normalizeLimit(input.Limit)
		var cursor int64
		if input.Cursor != "" {
			v, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || v < 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursor = v
		}
		items, err := e.ListEvents(ctx, limit+1, cursor, repo.EventFilter{
			Scope:      input.Scope,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		page := paginatedEvents{Items: nonNilSlice(items)}
		if len(items) > limit {
			page.Items = items[:limit]
			page.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		return respond(page), nil
	})
}

func registerSnapshot(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "export-snapshot",
		Method:      http.MethodGet,
		Path:        "/snapshot",
		Summary:     "Export full state as JSONL",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		var buf bytes.Buffer
		if err := snapshot.Write(&buf, e.Snapshot()); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: snapshotContentType, Body: buf.Bytes()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-snapshot",
		Method:      http.MethodPut,
		Path:        "/snapshot",
		Summary:     "Replace full state from JSONL",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		RawBody []byte `contentType:"application/x-ndjson"`
	}) (*bodyOutput[map[string]int], error) {
		d, err := snapshot.Read(bytes.NewReader(input.RawBody))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		if err := e.ImportSnapshot(ctx, d, actorFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return respond(d.Counts()), nil
	})
}
