package ledger

import (
	"agentgraph/internal/domain"
)

type InterventionInput struct {
	Type            string `json:"type" validate:"required"`
	Message         string `json:"message" validate:"required"`
	Urgency         string `json:"urgency,omitempty" validate:"omitempty,oneof=low normal high critical"`
	PausedExecution bool   `json:"paused_execution"`
}

func ensureInteractionTransition(id string, from, to domain.InteractionStatus) error {
	switch from {
	case domain.InteractionPending:
		switch to {
		case domain.InteractionInProgress, domain.InteractionCompleted, domain.InteractionFailed,
			domain.InteractionCancelled, domain.InteractionTimeout:
			return nil
		}
	case domain.InteractionInProgress:
		switch to {
		case domain.InteractionCompleted, domain.InteractionFailed,
			domain.InteractionCancelled, domain.InteractionTimeout:
			return nil
		}
	case domain.InteractionFailed, domain.InteractionTimeout:
		if to == domain.InteractionPending {
			return nil
		}
	}
	return domain.InvalidTransitionError{Entity: "interaction", ID: id, From: string(from), To: string(to)}
}

func (l *Ledger) Start(id string) (domain.Interaction, error) {
	return l.transition(id, domain.InteractionInProgress, func(it *domain.Interaction) {
		now := l.now()
		it.StartedAt = &now
	})
}

// Complete records a response; duration runs from creation to completion.
func (l *Ledger) Complete(id, response string, usage domain.TokenUsage) (domain.Interaction, error) {
	return l.transition(id, domain.InteractionCompleted, func(it *domain.Interaction) {
		it.Response = response
		it.TokenUsage = normalizeUsage(usage)
		l.finish(it, true)
	})
}

func (l *Ledger) Fail(id, errMsg string, usage domain.TokenUsage) (domain.Interaction, error) {
	return l.transition(id, domain.InteractionFailed, func(it *domain.Interaction) {
		it.Error = errMsg
		it.TokenUsage = normalizeUsage(usage)
		l.finish(it, true)
	})
}

// Cancel and Timeout stamp completion time only; duration is reserved for
// interactions that produced an outcome.
func (l *Ledger) Cancel(id string) (domain.Interaction, error) {
	return l.transition(id, domain.InteractionCancelled, func(it *domain.Interaction) {
		l.finish(it, false)
	})
}

func (l *Ledger) Timeout(id string) (domain.Interaction, error) {
	return l.transition(id, domain.InteractionTimeout, func(it *domain.Interaction) {
		l.finish(it, false)
	})
}

// Retry puts a failed or timed out interaction back to pending.
func (l *Ledger) Retry(id string) (domain.Interaction, error) {
	return l.transition(id, domain.InteractionPending, func(it *domain.Interaction) {
		it.RetryCount++
		it.StartedAt = nil
		it.CompletedAt = nil
		it.DurationMs = nil
		it.Error = ""
		it.Response = ""
	})
}

func (l *Ledger) finish(it *domain.Interaction, withDuration bool) {
	now := l.now()
	it.CompletedAt = &now
	if withDuration {
		d := now.Sub(it.CreatedAt).Milliseconds()
		if d < 0 {
			d = 0
		}
		it.DurationMs = &d
	}
}

func normalizeUsage(u domain.TokenUsage) domain.TokenUsage {
	if u.Total == 0 {
		u.Total = u.Prompt + u.Completion
	}
	return u
}

func (l *Ledger) transition(id string, to domain.InteractionStatus, apply func(*domain.Interaction)) (domain.Interaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.items[id]
	if !ok {
		return domain.Interaction{}, domain.NotFound("interaction", id)
	}
	if err := ensureInteractionTransition(id, it.Status, to); err != nil {
		return domain.Interaction{}, err
	}
	apply(it)
	it.Status = to
	return cloneInteraction(it), nil
}

// AddUserIntervention attaches a human note without changing status.
func (l *Ledger) AddUserIntervention(id string, in InterventionInput) (domain.Interaction, error) {
	if err := domain.ValidateStruct(in); err != nil {
		return domain.Interaction{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.items[id]
	if !ok {
		return domain.Interaction{}, domain.NotFound("interaction", id)
	}
	urgency := in.Urgency
	if urgency == "" {
		urgency = "normal"
	}
	it.UserInterventions = append(it.UserInterventions, domain.UserIntervention{
		Type:            in.Type,
		Message:         in.Message,
		Urgency:         urgency,
		PausedExecution: in.PausedExecution,
		Timestamp:       l.now(),
	})
	return cloneInteraction(it), nil
}
