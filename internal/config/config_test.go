package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agentgraph/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.Ledger.EnforceRelationshipPolicy || cfg.Tasks.MaxAttempts != 3 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if p := cfg.Policies()[domain.RelEscalation]; p.AuthorityDelta != -2 || p.AutoApproval {
		t.Fatalf("unexpected escalation defaults %+v", p)
	}
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("ledger:\n  enforce_relationship_policy: false\nrelationships:\n  defaults:\n    review:\n      authority_delta: 3\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ledger.EnforceRelationshipPolicy {
		t.Fatalf("override ignored")
	}
	if cfg.Ledger.MaxChainDepth != 256 || cfg.Log.Level != "info" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.Policies()[domain.RelReview].AuthorityDelta != 3 {
		t.Fatalf("relationship override ignored")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"attempts": "tasks:\n  max_attempts: 0\n",
		"delta":    "relationships:\n  defaults:\n    review:\n      authority_delta: 9\n",
		"type":     "relationships:\n  defaults:\n    friendship:\n      authority_delta: 1\n",
		"level":    "log:\n  level: loud\n",
		"webhook":  "webhooks:\n  - url: ftp://example.com\n",
	}
	for name, raw := range cases {
		if _, err := FromYAML([]byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("expected defaults without file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "agentgraph.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("load generated default: %v", err)
	}
	if _, err := Load(t.TempDir()); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if got := cfg.SnapshotPath(dir); got != filepath.Join(dir, ".agentgraph", "snapshot.jsonl") {
		t.Fatalf("unexpected snapshot path %s", got)
	}
}
