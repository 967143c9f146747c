package ledger_test

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"agentgraph/internal/domain"
	"agentgraph/internal/ledger"
	"agentgraph/internal/relgraph"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newLedger(edges ledger.EdgeSource, enforce bool) (*ledger.Ledger, *clock) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := ledger.New(edges, enforce)
	l.Now = c.Now
	n := 0
	l.NewID = func() string {
		n++
		return fmt.Sprintf("int-%03d", n)
	}
	l.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return l, c
}

func create(t *testing.T, l *ledger.Ledger, in ledger.CreateInput) domain.Interaction {
	t.Helper()
	if in.WorkflowID == "" {
		in.WorkflowID = "wf-1"
	}
	if in.InitiatorAgentID == "" {
		in.InitiatorAgentID = "lead"
	}
	if in.TargetAgentID == "" {
		in.TargetAgentID = "dev"
	}
	if in.Type == "" {
		in.Type = domain.InteractionTaskAssignment
	}
	it, err := l.Create(in)
	if err != nil {
		t.Fatalf("create interaction: %v", err)
	}
	return it
}

func TestCreateDefaults(t *testing.T) {
	l, _ := newLedger(nil, true)
	it := create(t, l, ledger.CreateInput{Message: "build the thing"})
	if it.Status != domain.InteractionPending || it.RetryCount != 0 || it.Priority != 3 {
		t.Fatalf("unexpected defaults %+v", it)
	}
	if it.DurationMs != nil || it.CompletedAt != nil {
		t.Fatalf("new interaction has outcome fields")
	}
	if _, err := l.Create(ledger.CreateInput{WorkflowID: "wf", InitiatorAgentID: "a", TargetAgentID: "b", Type: "gossip"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
	if _, err := l.Create(ledger.CreateInput{WorkflowID: "wf", InitiatorAgentID: "a", TargetAgentID: "b", Type: domain.InteractionNotification, Priority: 6}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for priority, got %v", err)
	}
	if _, err := l.Create(ledger.CreateInput{WorkflowID: "wf-1", InitiatorAgentID: "a", TargetAgentID: "b", Type: domain.InteractionNotification, ParentInteractionID: "missing"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for missing parent, got %v", err)
	}
}

func TestCompleteMeasuresDuration(t *testing.T) {
	l, c := newLedger(nil, true)
	it := create(t, l, ledger.CreateInput{})
	if _, err := l.Start(it.ID); err != nil {
		t.Fatal(err)
	}
	c.t = c.t.Add(5000 * time.Millisecond)
	done, err := l.Complete(it.ID, "ok", domain.TokenUsage{Prompt: 10, Completion: 5})
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != domain.InteractionCompleted || done.DurationMs == nil || *done.DurationMs != 5000 {
		t.Fatalf("unexpected completion %+v", done)
	}
	if done.TokenUsage.Total != 15 {
		t.Fatalf("expected total tokens 15, got %d", done.TokenUsage.Total)
	}
	if _, err := l.Complete(it.ID, "again", domain.TokenUsage{}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected terminal status, got %v", err)
	}
}

func TestStartOnlyFromPending(t *testing.T) {
	l, _ := newLedger(nil, true)
	it := create(t, l, ledger.CreateInput{})
	if _, err := l.Start(it.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Start(it.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := l.Start("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDurationOnlyForOutcomes(t *testing.T) {
	l, c := newLedger(nil, true)
	cancelled := create(t, l, ledger.CreateInput{})
	timedOut := create(t, l, ledger.CreateInput{})
	failed := create(t, l, ledger.CreateInput{})
	c.t = c.t.Add(time.Second)
	got, err := l.Cancel(cancelled.ID)
	if err != nil || got.DurationMs != nil || got.CompletedAt == nil {
		t.Fatalf("cancel: %+v %v", got, err)
	}
	got, err = l.Timeout(timedOut.ID)
	if err != nil || got.DurationMs != nil || got.CompletedAt == nil {
		t.Fatalf("timeout: %+v %v", got, err)
	}
	got, err = l.Fail(failed.ID, "boom", domain.TokenUsage{})
	if err != nil || got.DurationMs == nil || *got.DurationMs != 1000 || got.Error != "boom" {
		t.Fatalf("fail: %+v %v", got, err)
	}
}

func TestRetryResetsOutcome(t *testing.T) {
	l, _ := newLedger(nil, true)
	it := create(t, l, ledger.CreateInput{})
	if _, err := l.Fail(it.ID, "boom", domain.TokenUsage{}); err != nil {
		t.Fatal(err)
	}
	got, err := l.Retry(it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.InteractionPending || got.RetryCount != 1 || got.DurationMs != nil || got.Error != "" {
		t.Fatalf("retry did not reset: %+v", got)
	}
	if _, err := l.Retry(it.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected retry from pending to fail, got %v", err)
	}
}

func TestGetChain(t *testing.T) {
	l, _ := newLedger(nil, true)
	root := create(t, l, ledger.CreateInput{})
	chain, err := l.GetChain(root.ID)
	if err != nil || len(chain) != 1 {
		t.Fatalf("root chain: %v %v", chain, err)
	}
	child := create(t, l, ledger.CreateInput{ParentInteractionID: root.ID})
	grandchild := create(t, l, ledger.CreateInput{ParentInteractionID: child.ID})
	chain, err = l.GetChain(grandchild.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 3 || chain[0].ID != root.ID || chain[1].ID != child.ID || chain[2].ID != grandchild.ID {
		t.Fatalf("unexpected chain order %v", chain)
	}
	kids, err := l.Children(root.ID)
	if err != nil || len(kids) != 1 || kids[0].ID != child.ID {
		t.Fatalf("children: %v %v", kids, err)
	}
}

func TestGetChainTerminatesOnCycle(t *testing.T) {
	l, _ := newLedger(nil, true)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Restore([]domain.Interaction{
		{ID: "a", WorkflowID: "wf", ParentInteractionID: "b", Status: domain.InteractionPending, CreatedAt: now},
		{ID: "b", WorkflowID: "wf", ParentInteractionID: "a", Status: domain.InteractionPending, CreatedAt: now},
	})
	chain, err := l.GetChain("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 2 {
		t.Fatalf("expected 2 distinct entries, got %d", len(chain))
	}
}

func TestFilterAndDeleteWorkflow(t *testing.T) {
	l, c := newLedger(nil, true)
	a := create(t, l, ledger.CreateInput{WorkflowID: "wf-1"})
	c.t = c.t.Add(time.Minute)
	b := create(t, l, ledger.CreateInput{WorkflowID: "wf-1", InitiatorAgentID: "dev", TargetAgentID: "qa", Type: domain.InteractionReviewRequest})
	create(t, l, ledger.CreateInput{WorkflowID: "wf-2"})
	if _, err := l.AddUserIntervention(b.ID, ledger.InterventionInput{Type: "guidance", Message: "use the fast path"}); err != nil {
		t.Fatal(err)
	}
	if got := l.Filter(ledger.Filter{WorkflowID: "wf-1"}); len(got) != 2 || got[0].ID != a.ID {
		t.Fatalf("workflow filter: %v", got)
	}
	if got := l.Filter(ledger.Filter{AgentID: "qa"}); len(got) != 1 || got[0].ID != b.ID {
		t.Fatalf("agent filter: %v", got)
	}
	yes := true
	got := l.Filter(ledger.Filter{HasUserIntervention: &yes})
	if len(got) != 1 || got[0].UserInterventions[0].Urgency != "normal" || got[0].Status != domain.InteractionPending {
		t.Fatalf("intervention filter: %v", got)
	}
	from := c.t
	if got := l.Filter(ledger.Filter{From: &from, Type: domain.InteractionReviewRequest}); len(got) != 1 {
		t.Fatalf("time filter: %v", got)
	}
	removed := l.DeleteWorkflow("wf-1")
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed, got %v", removed)
	}
	if got := l.Filter(ledger.Filter{}); len(got) != 1 {
		t.Fatalf("expected one interaction left, got %d", len(got))
	}
}

func TestRelationshipPolicyEnforced(t *testing.T) {
	edges := relgraph.New()
	limit := 1
	edge, err := edges.CreateEdge(relgraph.EdgeInput{
		SourceAgentID: "lead", TargetAgentID: "dev", Type: domain.RelDelegation,
		MaxInteractionsPerWorkflow: &limit,
		Conditions:                 []domain.Condition{{Field: "type", Operator: domain.OpIn, Value: []string{"task_assignment", "handoff"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	l, _ := newLedger(edges, true)
	_, err = l.Create(ledger.CreateInput{WorkflowID: "wf", InitiatorAgentID: "dev", TargetAgentID: "lead", Type: domain.InteractionTaskAssignment, RelationshipID: edge.ID})
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("expected direction violation, got %v", err)
	}
	_, err = l.Create(ledger.CreateInput{WorkflowID: "wf", InitiatorAgentID: "lead", TargetAgentID: "dev", Type: domain.InteractionEscalation, RelationshipID: edge.ID})
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("expected condition violation, got %v", err)
	}
	create(t, l, ledger.CreateInput{WorkflowID: "wf", RelationshipID: edge.ID})
	_, err = l.Create(ledger.CreateInput{WorkflowID: "wf", InitiatorAgentID: "lead", TargetAgentID: "dev", Type: domain.InteractionHandoff, RelationshipID: edge.ID})
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("expected cap violation, got %v", err)
	}
	create(t, l, ledger.CreateInput{WorkflowID: "wf-other", RelationshipID: edge.ID})
	if _, err := l.Create(ledger.CreateInput{WorkflowID: "wf", InitiatorAgentID: "lead", TargetAgentID: "dev", Type: domain.InteractionHandoff, RelationshipID: "missing"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for missing relationship, got %v", err)
	}
}

func TestRelationshipPolicyAdvisory(t *testing.T) {
	edges := relgraph.New()
	edge, _ := edges.CreateEdge(relgraph.EdgeInput{SourceAgentID: "lead", TargetAgentID: "dev", Type: domain.RelDelegation})
	l, _ := newLedger(edges, false)
	it, err := l.Create(ledger.CreateInput{WorkflowID: "wf", InitiatorAgentID: "dev", TargetAgentID: "lead", Type: domain.InteractionTaskAssignment, RelationshipID: edge.ID})
	if err != nil {
		t.Fatalf("advisory mode rejected interaction: %v", err)
	}
	if len(it.PolicyFlags) != 1 {
		t.Fatalf("expected a policy flag, got %v", it.PolicyFlags)
	}
}
