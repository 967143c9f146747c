// Package ledger records agent-to-agent interactions and drives their
// lifecycle. Interactions form parent/child chains inside a workflow.
package ledger

import (
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentgraph/internal/domain"
)

const DefaultMaxChainDepth = 256

// EdgeSource resolves relationship edges for policy checks.
type EdgeSource interface {
	Edge(id string) (domain.RelationshipEdge, error)
}

type CreateInput struct {
	WorkflowID          string                 `json:"workflow_id" validate:"required"`
	InitiatorAgentID    string                 `json:"initiator_agent_id" validate:"required"`
	TargetAgentID       string                 `json:"target_agent_id" validate:"required"`
	Type                domain.InteractionType `json:"type" validate:"required,oneof=task_assignment task_completion review_request approval rejection escalation consultation notification handoff progress_update error_report user_intervention input_request input_provided"`
	TaskID              string                 `json:"task_id,omitempty"`
	RelationshipID      string                 `json:"relationship_id,omitempty"`
	ParentInteractionID string                 `json:"parent_interaction_id,omitempty"`
	Priority            int                    `json:"priority,omitempty" validate:"omitempty,min=1,max=5"`
	Message             string                 `json:"message"`
}

type Filter struct {
	WorkflowID          string
	AgentID             string
	Type                domain.InteractionType
	Status              domain.InteractionStatus
	TaskID              string
	From                *time.Time
	To                  *time.Time
	HasUserIntervention *bool
}

type Ledger struct {
	Now           func() time.Time
	NewID         func() string
	Edges         EdgeSource
	Enforce       bool
	MaxChainDepth int
	Logger        *slog.Logger

	mu    sync.RWMutex
	items map[string]*domain.Interaction
	seq   map[string]uint64
	next  uint64
}

func New(edges EdgeSource, enforce bool) *Ledger {
	return &Ledger{
		Now:           time.Now,
		NewID:         uuid.NewString,
		Edges:         edges,
		Enforce:       enforce,
		MaxChainDepth: DefaultMaxChainDepth,
		Logger:        slog.Default(),
		items:         map[string]*domain.Interaction{},
		seq:           map[string]uint64{},
	}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *Ledger) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Create appends a pending interaction. A referenced relationship is
// checked against its policy; violations fail the call when Enforce is
// set and are only flagged otherwise.
func (l *Ledger) Create(in CreateInput) (domain.Interaction, error) {
	if err := domain.ValidateStruct(in); err != nil {
		return domain.Interaction{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if in.ParentInteractionID != "" {
		parent, ok := l.items[in.ParentInteractionID]
		if !ok {
			return domain.Interaction{}, domain.NotFound("interaction", in.ParentInteractionID)
		}
		if parent.WorkflowID != in.WorkflowID {
			return domain.Interaction{}, domain.Invalid("parent_interaction_id", "parent belongs to another workflow")
		}
	}
	priority := in.Priority
	if priority == 0 {
		priority = 3
	}
	it := &domain.Interaction{
		ID:                  l.newID(),
		WorkflowID:          in.WorkflowID,
		InitiatorAgentID:    in.InitiatorAgentID,
		TargetAgentID:       in.TargetAgentID,
		Type:                in.Type,
		TaskID:              in.TaskID,
		RelationshipID:      in.RelationshipID,
		ParentInteractionID: in.ParentInteractionID,
		Status:              domain.InteractionPending,
		Priority:            priority,
		Message:             in.Message,
		CreatedAt:           l.now(),
	}
	if in.RelationshipID != "" && l.Edges != nil {
		reason, err := l.checkPolicyLocked(it)
		if err != nil {
			return domain.Interaction{}, err
		}
		if reason != "" {
			if l.Enforce {
				return domain.Interaction{}, domain.PolicyViolationError{RelationshipID: in.RelationshipID, Reason: reason}
			}
			l.logger().Warn("relationship policy violation", "relationship_id", in.RelationshipID, "workflow_id", in.WorkflowID, "reason", reason)
			it.PolicyFlags = append(it.PolicyFlags, reason)
		}
	}
	l.items[it.ID] = it
	l.next++
	l.seq[it.ID] = l.next
	return cloneInteraction(it), nil
}

func (l *Ledger) newID() string {
	if l.NewID != nil {
		return l.NewID()
	}
	return uuid.NewString()
}

// checkPolicyLocked returns a non-empty reason when the interaction is not
// allowed along its relationship.
func (l *Ledger) checkPolicyLocked(it *domain.Interaction) (string, error) {
	edge, err := l.Edges.Edge(it.RelationshipID)
	if err != nil {
		return "", err
	}
	if !edge.Connects(it.InitiatorAgentID, it.TargetAgentID) {
		return "interaction direction not allowed by relationship", nil
	}
	if edge.MaxInteractionsPerWorkflow != nil {
		if n := l.countLocked(it.WorkflowID, it.RelationshipID); n >= *edge.MaxInteractionsPerWorkflow {
			return "max interactions per workflow reached (" + strconv.Itoa(*edge.MaxInteractionsPerWorkflow) + ")", nil
		}
	}
	attrs := map[string]string{
		"type":      string(it.Type),
		"priority":  strconv.Itoa(it.Priority),
		"initiator": it.InitiatorAgentID,
		"target":    it.TargetAgentID,
		"workflow":  it.WorkflowID,
	}
	for _, c := range edge.Conditions {
		if !c.Matches(attrs) {
			return "condition on " + c.Field + " not satisfied", nil
		}
	}
	return "", nil
}

func (l *Ledger) countLocked(workflowID, relationshipID string) int {
	n := 0
	for _, it := range l.items {
		if it.WorkflowID == workflowID && it.RelationshipID == relationshipID {
			n++
		}
	}
	return n
}

// CountForRelationship counts interactions in a workflow along an edge.
func (l *Ledger) CountForRelationship(workflowID, relationshipID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.countLocked(workflowID, relationshipID)
}

func (l *Ledger) Get(id string) (domain.Interaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	it, ok := l.items[id]
	if !ok {
		return domain.Interaction{}, domain.NotFound("interaction", id)
	}
	return cloneInteraction(it), nil
}

// Filter returns interactions matching every set criterion, oldest first.
func (l *Ledger) Filter(f Filter) []domain.Interaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res := []domain.Interaction{}
	for _, it := range l.items {
		if matches(it, f) {
			res = append(res, cloneInteraction(it))
		}
	}
	l.sortLocked(res)
	return res
}

func matches(it *domain.Interaction, f Filter) bool {
	if f.WorkflowID != "" && it.WorkflowID != f.WorkflowID {
		return false
	}
	if f.AgentID != "" && it.InitiatorAgentID != f.AgentID && it.TargetAgentID != f.AgentID {
		return false
	}
	if f.Type != "" && it.Type != f.Type {
		return false
	}
	if f.Status != "" && it.Status != f.Status {
		return false
	}
	if f.TaskID != "" && it.TaskID != f.TaskID {
		return false
	}
	if f.From != nil && it.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && it.CreatedAt.After(*f.To) {
		return false
	}
	if f.HasUserIntervention != nil && (len(it.UserInterventions) > 0) != *f.HasUserIntervention {
		return false
	}
	return true
}

func (l *Ledger) sortLocked(items []domain.Interaction) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return l.seq[items[i].ID] < l.seq[items[j].ID]
	})
}

// GetChain walks parent links and returns the chain root first. A
// malformed store with a parent cycle still terminates.
func (l *Ledger) GetChain(id string) ([]domain.Interaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	it, ok := l.items[id]
	if !ok {
		return nil, domain.NotFound("interaction", id)
	}
	maxDepth := l.MaxChainDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxChainDepth
	}
	seen := map[string]bool{}
	var chain []domain.Interaction
	for it != nil && !seen[it.ID] && len(chain) < maxDepth {
		seen[it.ID] = true
		chain = append(chain, cloneInteraction(it))
		if it.ParentInteractionID == "" {
			break
		}
		it = l.items[it.ParentInteractionID]
	}
	slices.Reverse(chain)
	return chain, nil
}

// Children returns direct replies to an interaction.
func (l *Ledger) Children(id string) ([]domain.Interaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.items[id]; !ok {
		return nil, domain.NotFound("interaction", id)
	}
	res := []domain.Interaction{}
	for _, it := range l.items {
		if it.ParentInteractionID == id {
			res = append(res, cloneInteraction(it))
		}
	}
	l.sortLocked(res)
	return res, nil
}

// DeleteWorkflow drops every interaction of a workflow and returns the
// removed ids.
func (l *Ledger) DeleteWorkflow(workflowID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []string
	for id, it := range l.items {
		if it.WorkflowID == workflowID {
			ids = append(ids, id)
			delete(l.items, id)
			delete(l.seq, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns every interaction in creation order.
func (l *Ledger) Snapshot() []domain.Interaction {
	return l.Filter(Filter{})
}

func (l *Ledger) Restore(items []domain.Interaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = map[string]*domain.Interaction{}
	l.seq = map[string]uint64{}
	l.next = 0
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b domain.Interaction) int { return a.CreatedAt.Compare(b.CreatedAt) })
	for _, it := range sorted {
		c := cloneInteraction(&it)
		l.items[c.ID] = &c
		l.next++
		l.seq[c.ID] = l.next
	}
}

func cloneInteraction(it *domain.Interaction) domain.Interaction {
	c := *it
	c.UserInterventions = slices.Clone(it.UserInterventions)
	c.PolicyFlags = slices.Clone(it.PolicyFlags)
	if it.DurationMs != nil {
		d := *it.DurationMs
		c.DurationMs = &d
	}
	if it.StartedAt != nil {
		t := *it.StartedAt
		c.StartedAt = &t
	}
	if it.CompletedAt != nil {
		t := *it.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
