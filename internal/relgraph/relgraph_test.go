package relgraph_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"agentgraph/internal/domain"
	"agentgraph/internal/relgraph"
)

func newGraph() *relgraph.Graph {
	g := relgraph.New()
	g.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return g
}

func intPtr(v int) *int { return &v }

func TestCreateEdgeAppliesTypeDefaults(t *testing.T) {
	g := newGraph()
	cases := []struct {
		typ   domain.RelationshipType
		delta int
		bi    bool
		auto  bool
	}{
		{domain.RelDelegation, 1, false, true},
		{domain.RelCollaboration, 0, true, true},
		{domain.RelReview, 1, false, false},
		{domain.RelEscalation, -2, false, false},
		{domain.RelConsultation, 0, true, true},
		{domain.RelDependency, 0, false, true},
		{domain.RelSupervision, 2, false, true},
	}
	for _, tc := range cases {
		e, err := g.CreateEdge(relgraph.EdgeInput{SourceAgentID: "a", TargetAgentID: "b", Type: tc.typ})
		if err != nil {
			t.Fatalf("%s: %v", tc.typ, err)
		}
		if e.AuthorityDelta != tc.delta || e.Bidirectional != tc.bi || e.AutoApproval != tc.auto {
			t.Fatalf("%s: unexpected defaults %+v", tc.typ, e)
		}
		if e.Strength != 1 || e.MaxInteractionsPerWorkflow != nil {
			t.Fatalf("%s: unexpected strength/cap", tc.typ)
		}
	}
}

func TestCreateEdgeValidation(t *testing.T) {
	g := newGraph()
	bad := []relgraph.EdgeInput{
		{SourceAgentID: "a", TargetAgentID: "b", Type: domain.RelReview, AuthorityDelta: intPtr(6)},
		{SourceAgentID: "a", TargetAgentID: "b", Type: domain.RelReview, AuthorityDelta: intPtr(-6)},
		{SourceAgentID: "a", TargetAgentID: "b", Type: domain.RelReview, MaxInteractionsPerWorkflow: intPtr(0)},
		{SourceAgentID: "a", TargetAgentID: "a", Type: domain.RelReview},
		{SourceAgentID: "a", TargetAgentID: "b", Type: "friendship"},
		{SourceAgentID: "a", TargetAgentID: "b", Type: domain.RelReview, Conditions: []domain.Condition{{Field: "type", Operator: domain.OpEq, Value: []string{"x", "y"}}}},
		{SourceAgentID: "a", TargetAgentID: "b", Type: domain.RelReview, Conditions: []domain.Condition{{Field: "colour", Operator: domain.OpEq, Value: []string{"x"}}}},
	}
	for i, in := range bad {
		if _, err := g.CreateEdge(in); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	e, err := g.CreateEdge(relgraph.EdgeInput{SourceAgentID: "a", TargetAgentID: "b", Type: domain.RelReview, AuthorityDelta: intPtr(-5), MaxInteractionsPerWorkflow: intPtr(1)})
	if err != nil {
		t.Fatalf("boundary values rejected: %v", err)
	}
	if e.AuthorityDelta != -5 || *e.MaxInteractionsPerWorkflow != 1 {
		t.Fatalf("explicit values not kept: %+v", e)
	}
}

func TestRecordOutcomeRunningAverage(t *testing.T) {
	g := newGraph()
	e, _ := g.CreateEdge(relgraph.EdgeInput{SourceAgentID: "a", TargetAgentID: "b", Type: domain.RelDelegation})
	if _, err := g.RecordOutcome(e.ID, true, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := g.RecordOutcome(e.ID, false, 300); err != nil {
		t.Fatal(err)
	}
	got, err := g.RecordOutcome(e.ID, true, 200)
	if err != nil {
		t.Fatal(err)
	}
	m := got.Metrics
	if m.TotalInteractions != 3 || m.SuccessfulInteractions != 2 || m.FailedInteractions != 1 {
		t.Fatalf("unexpected counts %+v", m)
	}
	if math.Abs(m.AvgResponseTimeMs-200) > 1e-9 {
		t.Fatalf("expected avg 200, got %f", m.AvgResponseTimeMs)
	}
	if m.LastInteractionAt == nil {
		t.Fatalf("last interaction not stamped")
	}
	if _, err := g.RecordOutcome("missing", true, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFindEdgesHonoursDirection(t *testing.T) {
	g := newGraph()
	uni, _ := g.CreateEdge(relgraph.EdgeInput{SourceAgentID: "lead", TargetAgentID: "dev", Type: domain.RelDelegation})
	bi, _ := g.CreateEdge(relgraph.EdgeInput{SourceAgentID: "dev", TargetAgentID: "qa", Type: domain.RelCollaboration})
	if got := g.FindEdges("lead", "dev"); len(got) != 1 || got[0].ID != uni.ID {
		t.Fatalf("forward edge not found: %v", got)
	}
	if got := g.FindEdges("dev", "lead"); len(got) != 0 {
		t.Fatalf("unidirectional edge matched in reverse")
	}
	if got := g.FindEdges("qa", "dev"); len(got) != 1 || got[0].ID != bi.ID {
		t.Fatalf("bidirectional edge not found in reverse: %v", got)
	}
	if got := g.ListEdges(relgraph.EdgeFilter{AgentID: "dev"}); len(got) != 2 {
		t.Fatalf("expected 2 edges for dev, got %d", len(got))
	}
	if got := g.ListEdges(relgraph.EdgeFilter{Type: domain.RelCollaboration}); len(got) != 1 {
		t.Fatalf("expected 1 collaboration edge, got %d", len(got))
	}
}

func TestUpdatePolicyKeepsIdentity(t *testing.T) {
	g := newGraph()
	e, _ := g.CreateEdge(relgraph.EdgeInput{SourceAgentID: "a", TargetAgentID: "b", Type: domain.RelReview, MaxInteractionsPerWorkflow: intPtr(2)})
	if _, err := g.RecordOutcome(e.ID, true, 120); err != nil {
		t.Fatal(err)
	}
	auto := true
	got, err := g.UpdatePolicy(e.ID, relgraph.PolicyPatch{AutoApproval: &auto, MaxInteractionsPerWorkflow: intPtr(0)})
	if err != nil {
		t.Fatal(err)
	}
	if !got.AutoApproval || got.MaxInteractionsPerWorkflow != nil {
		t.Fatalf("patch not applied: %+v", got)
	}
	if got.SourceAgentID != "a" || got.TargetAgentID != "b" || got.Type != domain.RelReview {
		t.Fatalf("identity changed")
	}
	if got.Metrics.TotalInteractions != 1 || got.Metrics.SuccessfulInteractions != 1 || got.Metrics.AvgResponseTimeMs != 120 {
		t.Fatalf("metrics changed by policy update: %+v", got.Metrics)
	}
	if _, err := g.UpdatePolicy(e.ID, relgraph.PolicyPatch{AuthorityDelta: intPtr(9)}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConfiguredPoliciesOverrideDefaults(t *testing.T) {
	g := newGraph()
	g.Policies[domain.RelReview] = relgraph.Policy{AuthorityDelta: 3, AutoApproval: true}
	e, err := g.CreateEdge(relgraph.EdgeInput{SourceAgentID: "a", TargetAgentID: "b", Type: domain.RelReview})
	if err != nil {
		t.Fatal(err)
	}
	if e.AuthorityDelta != 3 || !e.AutoApproval {
		t.Fatalf("configured policy ignored: %+v", e)
	}
}
