// Package relgraph stores typed agent-to-agent relationship edges and the
// interaction metrics accumulated along them.
package relgraph

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentgraph/internal/domain"
)

// Policy holds the per-type defaults applied when an edge is created
// without explicit values.
type Policy struct {
	AuthorityDelta int  `yaml:"authority_delta"`
	Bidirectional  bool `yaml:"bidirectional"`
	AutoApproval   bool `yaml:"auto_approval"`
}

// DefaultPolicies returns a fresh copy of the built-in per-type defaults.
func DefaultPolicies() map[domain.RelationshipType]Policy {
	return map[domain.RelationshipType]Policy{
		domain.RelDelegation:    {AuthorityDelta: 1, AutoApproval: true},
		domain.RelCollaboration: {AuthorityDelta: 0, Bidirectional: true, AutoApproval: true},
		domain.RelReview:        {AuthorityDelta: 1},
		domain.RelEscalation:    {AuthorityDelta: -2},
		domain.RelConsultation:  {AuthorityDelta: 0, Bidirectional: true, AutoApproval: true},
		domain.RelDependency:    {AuthorityDelta: 0, AutoApproval: true},
		domain.RelSupervision:   {AuthorityDelta: 2, AutoApproval: true},
	}
}

type EdgeInput struct {
	SourceAgentID              string                  `json:"source_agent_id" validate:"required"`
	TargetAgentID              string                  `json:"target_agent_id" validate:"required,nefield=SourceAgentID"`
	Type                       domain.RelationshipType `json:"type" validate:"required,oneof=delegation collaboration review escalation consultation dependency supervision"`
	AuthorityDelta             *int                    `json:"authority_delta,omitempty" validate:"omitempty,min=-5,max=5"`
	Bidirectional              *bool                   `json:"bidirectional,omitempty"`
	AutoApproval               *bool                   `json:"auto_approval,omitempty"`
	MaxInteractionsPerWorkflow *int                    `json:"max_interactions_per_workflow,omitempty" validate:"omitempty,gt=0"`
	Conditions                 []domain.Condition      `json:"conditions,omitempty" validate:"dive"`
	Label                      string                  `json:"label,omitempty" validate:"max=200"`
	Strength                   *float64                `json:"strength,omitempty" validate:"omitempty,gte=0,lte=1"`
	Priority                   int                     `json:"priority,omitempty"`
}

// PolicyPatch changes the mutable policy of an edge. Endpoints and type
// are fixed once an edge exists.
type PolicyPatch struct {
	AuthorityDelta             *int               `json:"authority_delta,omitempty" validate:"omitempty,min=-5,max=5"`
	Bidirectional              *bool              `json:"bidirectional,omitempty"`
	AutoApproval               *bool              `json:"auto_approval,omitempty"`
	MaxInteractionsPerWorkflow *int               `json:"max_interactions_per_workflow,omitempty" validate:"omitempty,gte=0"`
	Conditions                 []domain.Condition `json:"conditions,omitempty" validate:"dive"`
	Label                      *string            `json:"label,omitempty" validate:"omitempty,max=200"`
	Strength                   *float64           `json:"strength,omitempty" validate:"omitempty,gte=0,lte=1"`
	Priority                   *int               `json:"priority,omitempty"`
}

type EdgeFilter struct {
	AgentID string
	Type    domain.RelationshipType
}

type Graph struct {
	Now      func() time.Time
	NewID    func() string
	Policies map[domain.RelationshipType]Policy

	mu    sync.RWMutex
	edges map[string]*domain.RelationshipEdge
}

func New() *Graph {
	return &Graph{
		Now:      time.Now,
		NewID:    uuid.NewString,
		Policies: DefaultPolicies(),
		edges:    map[string]*domain.RelationshipEdge{},
	}
}

func (g *Graph) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func (g *Graph) CreateEdge(in EdgeInput) (domain.RelationshipEdge, error) {
	if err := domain.ValidateStruct(in); err != nil {
		return domain.RelationshipEdge{}, err
	}
	if err := validateConditions(in.Conditions); err != nil {
		return domain.RelationshipEdge{}, err
	}
	policy, ok := g.Policies[in.Type]
	if !ok {
		policy = DefaultPolicies()[in.Type]
	}
	if in.AuthorityDelta != nil {
		policy.AuthorityDelta = *in.AuthorityDelta
	}
	if in.Bidirectional != nil {
		policy.Bidirectional = *in.Bidirectional
	}
	if in.AutoApproval != nil {
		policy.AutoApproval = *in.AutoApproval
	}
	strength := 1.0
	if in.Strength != nil {
		strength = *in.Strength
	}
	id := uuid.NewString()
	if g.NewID != nil {
		id = g.NewID()
	}
	now := g.now()
	e := &domain.RelationshipEdge{
		ID:                         id,
		SourceAgentID:              in.SourceAgentID,
		TargetAgentID:              in.TargetAgentID,
		Type:                       in.Type,
		AuthorityDelta:             policy.AuthorityDelta,
		Bidirectional:              policy.Bidirectional,
		AutoApproval:               policy.AutoApproval,
		MaxInteractionsPerWorkflow: cloneInt(in.MaxInteractionsPerWorkflow),
		Conditions:                 slices.Clone(in.Conditions),
		Label:                      in.Label,
		Strength:                   strength,
		Priority:                   in.Priority,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}
	g.mu.Lock()
	g.edges[e.ID] = e
	g.mu.Unlock()
	return cloneEdge(e), nil
}

// validateConditions enforces single values for eq/neq; the struct tags
// cover the rest.
func validateConditions(conds []domain.Condition) error {
	for _, c := range conds {
		if (c.Operator == domain.OpEq || c.Operator == domain.OpNeq) && len(c.Value) != 1 {
			return domain.Invalid("conditions", string(c.Operator)+" takes exactly one value")
		}
	}
	return nil
}

// Edge implements the ledger's relationship lookup.
func (g *Graph) Edge(id string) (domain.RelationshipEdge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[id]
	if !ok {
		return domain.RelationshipEdge{}, domain.NotFound("relationship", id)
	}
	return cloneEdge(e), nil
}

func (g *Graph) ListEdges(f EdgeFilter) []domain.RelationshipEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res := []domain.RelationshipEdge{}
	for _, e := range g.edges {
		if f.AgentID != "" && e.SourceAgentID != f.AgentID && e.TargetAgentID != f.AgentID {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		res = append(res, cloneEdge(e))
	}
	sortEdges(res)
	return res
}

// FindEdges returns the edges that allow initiator to interact with target.
func (g *Graph) FindEdges(initiator, target string) []domain.RelationshipEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res := []domain.RelationshipEdge{}
	for _, e := range g.edges {
		if e.Connects(initiator, target) {
			res = append(res, cloneEdge(e))
		}
	}
	sortEdges(res)
	return res
}

// UpdatePolicy patches the interaction policy of an edge. Endpoints, type and
// metrics are never touched here.
func (g *Graph) UpdatePolicy(id string, patch PolicyPatch) (domain.RelationshipEdge, error) {
	if err := domain.ValidateStruct(patch); err != nil {
		return domain.RelationshipEdge{}, err
	}
	if err := validateConditions(patch.Conditions); err != nil {
		return domain.RelationshipEdge{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.edges[id]
	if !ok {
		return domain.RelationshipEdge{}, domain.NotFound("relationship", id)
	}
	if patch.AuthorityDelta != nil {
		e.AuthorityDelta = *patch.AuthorityDelta
	}
	if patch.Bidirectional != nil {
		e.Bidirectional = *patch.Bidirectional
	}
	if patch.AutoApproval != nil {
		e.AutoApproval = *patch.AutoApproval
	}
	if patch.MaxInteractionsPerWorkflow != nil {
		// zero lifts the cap
		if *patch.MaxInteractionsPerWorkflow == 0 {
			e.MaxInteractionsPerWorkflow = nil
		} else {
			e.MaxInteractionsPerWorkflow = cloneInt(patch.MaxInteractionsPerWorkflow)
		}
	}
	if patch.Conditions != nil {
		e.Conditions = slices.Clone(patch.Conditions)
	}
	if patch.Label != nil {
		e.Label = *patch.Label
	}
	if patch.Strength != nil {
		e.Strength = *patch.Strength
	}
	if patch.Priority != nil {
		e.Priority = *patch.Priority
	}
	e.UpdatedAt = g.now()
	return cloneEdge(e), nil
}

// RecordOutcome folds one finished interaction into the edge metrics.
func (g *Graph) RecordOutcome(id string, success bool, responseTimeMs int64) (domain.RelationshipEdge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.edges[id]
	if !ok {
		return domain.RelationshipEdge{}, domain.NotFound("relationship", id)
	}
	now := g.now()
	m := &e.Metrics
	m.TotalInteractions++
	if success {
		m.SuccessfulInteractions++
	} else {
		m.FailedInteractions++
	}
	m.AvgResponseTimeMs += (float64(responseTimeMs) - m.AvgResponseTimeMs) / float64(m.TotalInteractions)
	m.LastInteractionAt = &now
	e.UpdatedAt = now
	return cloneEdge(e), nil
}

func (g *Graph) DeleteEdge(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.edges[id]; !ok {
		return domain.NotFound("relationship", id)
	}
	delete(g.edges, id)
	return nil
}

func (g *Graph) Snapshot() []domain.RelationshipEdge {
	return g.ListEdges(EdgeFilter{})
}

func (g *Graph) Restore(edges []domain.RelationshipEdge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges = map[string]*domain.RelationshipEdge{}
	for _, e := range edges {
		c := cloneEdge(&e)
		g.edges[c.ID] = &c
	}
}

func sortEdges(es []domain.RelationshipEdge) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].CreatedAt.Equal(es[j].CreatedAt) {
			return es[i].CreatedAt.Before(es[j].CreatedAt)
		}
		return es[i].ID < es[j].ID
	})
}

func cloneEdge(e *domain.RelationshipEdge) domain.RelationshipEdge {
	c := *e
	c.MaxInteractionsPerWorkflow = cloneInt(e.MaxInteractionsPerWorkflow)
	c.Conditions = make([]domain.Condition, len(e.Conditions))
	for i, cond := range e.Conditions {
		c.Conditions[i] = domain.Condition{Field: cond.Field, Operator: cond.Operator, Value: slices.Clone(cond.Value)}
	}
	if e.Metrics.LastInteractionAt != nil {
		t := *e.Metrics.LastInteractionAt
		c.Metrics.LastInteractionAt = &t
	}
	return c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
