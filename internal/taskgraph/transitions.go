package taskgraph

import (
	"agentgraph/internal/domain"
)

func ensureTaskTransition(id string, from, to domain.TaskStatus) error {
	switch from {
	case domain.TaskBacklog:
		if to == domain.TaskTodo || to == domain.TaskBlocked {
			return nil
		}
	case domain.TaskTodo:
		if to == domain.TaskBacklog || to == domain.TaskInProgress || to == domain.TaskBlocked {
			return nil
		}
	case domain.TaskInProgress:
		if to == domain.TaskReview || to == domain.TaskBlocked {
			return nil
		}
	case domain.TaskReview:
		if to == domain.TaskDone || to == domain.TaskInProgress || to == domain.TaskBlocked {
			return nil
		}
	case domain.TaskBlocked:
		if to == domain.TaskBacklog || to == domain.TaskTodo || to == domain.TaskInProgress || to == domain.TaskArchived {
			return nil
		}
	case domain.TaskDone:
		if to == domain.TaskArchived {
			return nil
		}
	}
	return domain.InvalidTransitionError{Entity: "task", ID: id, From: string(from), To: string(to)}
}

func ensureArtifactTransition(id string, from, to domain.ArtifactStatus) error {
	switch from {
	case domain.ArtifactDraft:
		if to == domain.ArtifactPending || to == domain.ArtifactSuperseded {
			return nil
		}
	case domain.ArtifactPending:
		if to == domain.ArtifactApproved || to == domain.ArtifactRejected || to == domain.ArtifactSuperseded {
			return nil
		}
	case domain.ArtifactApproved, domain.ArtifactRejected:
		if to == domain.ArtifactSuperseded {
			return nil
		}
	}
	return domain.InvalidTransitionError{Entity: "artifact", ID: id, From: string(from), To: string(to)}
}
