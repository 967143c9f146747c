package engine

import (
	"context"
	"database/sql"
	"errors"

	"agentgraph/internal/domain"
	"agentgraph/internal/events"
	"agentgraph/internal/ledger"
	"agentgraph/internal/repo"
)

// CreateInteraction records a pending interaction. A referenced task must
// exist; a referenced relationship is checked against its policy.
func (e Engine) CreateInteraction(ctx context.Context, in ledger.CreateInput, actorID string) (domain.Interaction, error) {
	defer e.lock()()
	if in.TaskID != "" {
		if _, err := e.Tasks.GetTask(in.TaskID); err != nil {
			return domain.Interaction{}, err
		}
	}
	it, err := e.Ledger.Create(in)
	if err != nil {
		return domain.Interaction{}, err
	}
	err = e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.putInteraction(ctx, tx, it); err != nil {
			return err
		}
		payload := events.EventPayload{
			"type":      it.Type,
			"initiator": it.InitiatorAgentID,
			"target":    it.TargetAgentID,
		}
		if len(it.PolicyFlags) > 0 {
			payload["policy_flags"] = it.PolicyFlags
		}
		return e.Events.Append(ctx, tx, events.InteractionCreated, it.WorkflowID, "interaction", it.ID, actorID, payload)
	})
	if err != nil {
		return domain.Interaction{}, err
	}
	return it, nil
}

func (e Engine) GetInteraction(id string) (domain.Interaction, error) {
	return e.Ledger.Get(id)
}

func (e Engine) ListInteractions(f ledger.Filter) []domain.Interaction {
	return e.Ledger.Filter(f)
}

func (e Engine) InteractionChain(id string) ([]domain.Interaction, error) {
	return e.Ledger.GetChain(id)
}

func (e Engine) InteractionChildren(id string) ([]domain.Interaction, error) {
	return e.Ledger.Children(id)
}

func (e Engine) StartInteraction(ctx context.Context, id, actorID string) (domain.Interaction, error) {
	defer e.lock()()
	it, err := e.Ledger.Start(id)
	if err != nil {
		return domain.Interaction{}, err
	}
	return e.saveInteraction(ctx, it, actorID, nil)
}

// CompleteInteraction records the response and folds the outcome into the
// relationship metrics and the owning project's usage counters.
func (e Engine) CompleteInteraction(ctx context.Context, id, response string, usage domain.TokenUsage, actorID string) (domain.Interaction, error) {
	defer e.lock()()
	it, err := e.Ledger.Complete(id, response, usage)
	if err != nil {
		return domain.Interaction{}, err
	}
	return e.saveOutcome(ctx, it, true, actorID)
}

func (e Engine) FailInteraction(ctx context.Context, id, errMsg string, usage domain.TokenUsage, actorID string) (domain.Interaction, error) {
	defer e.lock()()
	it, err := e.Ledger.Fail(id, errMsg, usage)
	if err != nil {
		return domain.Interaction{}, err
	}
	return e.saveOutcome(ctx, it, false, actorID)
}

func (e Engine) CancelInteraction(ctx context.Context, id, actorID string) (domain.Interaction, error) {
	defer e.lock()()
	it, err := e.Ledger.Cancel(id)
	if err != nil {
		return domain.Interaction{}, err
	}
	return e.saveInteraction(ctx, it, actorID, nil)
}

func (e Engine) TimeoutInteraction(ctx context.Context, id, actorID string) (domain.Interaction, error) {
	defer e.lock()()
	it, err := e.Ledger.Timeout(id)
	if err != nil {
		return domain.Interaction{}, err
	}
	return e.saveInteraction(ctx, it, actorID, nil)
}

func (e Engine) RetryInteraction(ctx context.Context, id, actorID string) (domain.Interaction, error) {
	defer e.lock()()
	it, err := e.Ledger.Retry(id)
	if err != nil {
		return domain.Interaction{}, err
	}
	return e.saveInteraction(ctx, it, actorID, events.EventPayload{"retry_count": it.RetryCount})
}

func (e Engine) AddUserIntervention(ctx context.Context, id string, in ledger.InterventionInput, actorID string) (domain.Interaction, error) {
	defer e.lock()()
	it, err := e.Ledger.AddUserIntervention(id, in)
	if err != nil {
		return domain.Interaction{}, err
	}
	last := it.UserInterventions[len(it.UserInterventions)-1]
	err = e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.putInteraction(ctx, tx, it); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.InteractionIntervened, it.WorkflowID, "interaction", it.ID, actorID, events.EventPayload{
			"type":             last.Type,
			"urgency":          last.Urgency,
			"paused_execution": last.PausedExecution,
		})
	})
	if err != nil {
		return domain.Interaction{}, err
	}
	return it, nil
}

// DeleteWorkflow drops every interaction recorded under a workflow.
func (e Engine) DeleteWorkflow(ctx context.Context, workflowID, actorID string) ([]string, error) {
	defer e.lock()()
	if workflowID == "" {
		return nil, domain.Invalid("workflow_id", "required")
	}
	ids := e.Ledger.DeleteWorkflow(workflowID)
	if len(ids) == 0 {
		return nil, domain.NotFound("workflow", workflowID)
	}
	err := e.commit(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.DeleteScopeTx(ctx, tx, repo.KindInteraction, workflowID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.WorkflowDeleted, workflowID, "workflow", workflowID, actorID, events.EventPayload{"interactions": len(ids)})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (e Engine) saveOutcome(ctx context.Context, it domain.Interaction, success bool, actorID string) (domain.Interaction, error) {
	err := e.commit(ctx, func(tx *sql.Tx) error {
		if it.RelationshipID != "" {
			var ms int64
			if it.DurationMs != nil {
				ms = *it.DurationMs
			}
			edge, err := e.Edges.RecordOutcome(it.RelationshipID, success, ms)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				e.logger().Debug("outcome for deleted relationship", "relationship_id", it.RelationshipID, "interaction_id", it.ID)
			case err != nil:
				return err
			default:
				if err := e.Repo.PutTx(ctx, tx, repo.KindRelationship, edge.ID, "", edge); err != nil {
					return err
				}
			}
		}
		if success && it.TaskID != "" {
			if err := e.chargeTaskProject(ctx, tx, it); err != nil {
				return err
			}
		}
		if err := e.putInteraction(ctx, tx, it); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.InteractionUpdated, it.WorkflowID, "interaction", it.ID, actorID, events.EventPayload{
			"status":      it.Status,
			"duration_ms": it.DurationMs,
			"tokens":      it.TokenUsage.Total,
		})
	})
	if err != nil {
		return domain.Interaction{}, err
	}
	return it, nil
}

// chargeTaskProject adds the interaction's usage to the project owning its
// task. Tasks deleted since the interaction was recorded are skipped.
func (e Engine) chargeTaskProject(ctx context.Context, tx *sql.Tx, it domain.Interaction) error {
	if it.TokenUsage.Total == 0 && it.TokenUsage.CostCents == 0 {
		return nil
	}
	t, err := e.Tasks.GetTask(it.TaskID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	p, err := e.Tasks.AddProjectUsage(t.ProjectID, it.TokenUsage.Total, it.TokenUsage.CostCents)
	if err != nil {
		return err
	}
	return e.Repo.PutTx(ctx, tx, repo.KindProject, p.ID, "", p)
}

func (e Engine) saveInteraction(ctx context.Context, it domain.Interaction, actorID string, extra events.EventPayload) (domain.Interaction, error) {
	err := e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.putInteraction(ctx, tx, it); err != nil {
			return err
		}
		payload := events.EventPayload{"status": it.Status}
		for k, v := range extra {
			payload[k] = v
		}
		return e.Events.Append(ctx, tx, events.InteractionUpdated, it.WorkflowID, "interaction", it.ID, actorID, payload)
	})
	if err != nil {
		return domain.Interaction{}, err
	}
	return it, nil
}

func (e Engine) putInteraction(ctx context.Context, tx *sql.Tx, it domain.Interaction) error {
	return e.Repo.PutTx(ctx, tx, repo.KindInteraction, it.ID, it.WorkflowID, it)
}
