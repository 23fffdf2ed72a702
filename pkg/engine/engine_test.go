package engine

import (
	"context"
	"testing"
	"time"

	"github.com/netauton/sna-pdp/pkg/eas"
	"github.com/netauton/sna-pdp/pkg/escalation"
	"github.com/netauton/sna-pdp/pkg/pdptypes"
	"github.com/netauton/sna-pdp/pkg/policy"
	"github.com/netauton/sna-pdp/pkg/verdictstore"
)

const testPolicyYAML = `
version: "1.0.0"
default_verdict: BLOCK
eas_curve:
  - [0.0, 0.0]
  - [1.0, 0.2]
tools:
  show_interfaces:
    tier: READ
    base_threshold: 0.5
    max_targets: 50
  configure_vlan:
    tier: LOW_WRITE
    base_threshold: 0.6
    max_targets: 5
  configure_static_route:
    tier: HIGH_WRITE
    base_threshold: 0.7
    max_targets: 10
  erase_config:
    tier: DESTRUCTIVE
    base_threshold: 0.9
    max_targets: 1
  approval_required_tool:
    tier: LOW_WRITE
    base_threshold: 0.1
    max_targets: 5
    requires_senior_approval: true
`

func newTestEngine(t *testing.T) (*Engine, verdictstore.Store) {
	t.Helper()
	doc, err := policy.Parse([]byte(testPolicyYAML))
	if err != nil {
		t.Fatal(err)
	}
	store := verdictstore.NewMemoryStore()
	calc := eas.New(store, 30*24*time.Hour)
	reg := escalation.New(time.Hour, nil)
	return New(doc, calc, reg, store, nil), store
}

func TestEvaluateUnknownToolBlocks(t *testing.T) {
	e, _ := newTestEngine(t)
	result, err := e.Evaluate(context.Background(), pdptypes.EvaluationRequest{
		ToolName:      "factory_reset",
		DeviceTargets: []string{"sw-01"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Verdict != pdptypes.VerdictBlock || result.Reason != "unknown tool" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.RiskTier != pdptypes.TierUnknown {
		t.Fatalf("expected UNKNOWN tier, got %s", result.RiskTier)
	}
}

func TestEvaluateScopeExceededBlocks(t *testing.T) {
	e, _ := newTestEngine(t)
	result, err := e.Evaluate(context.Background(), pdptypes.EvaluationRequest{
		ToolName:        "configure_vlan",
		DeviceTargets:   []string{"a", "b", "c", "d", "e", "f"},
		ConfidenceScore: 1.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Verdict != pdptypes.VerdictBlock {
		t.Fatalf("expected BLOCK, got %s (%s)", result.Verdict, result.Reason)
	}
}

func TestEvaluatePermitsHighConfidenceReadTool(t *testing.T) {
	e, _ := newTestEngine(t)
	result, err := e.Evaluate(context.Background(), pdptypes.EvaluationRequest{
		ToolName:        "show_interfaces",
		DeviceTargets:   []string{"sw-01"},
		ConfidenceScore: 0.9,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Verdict != pdptypes.VerdictPermit {
		t.Fatalf("expected PERMIT, got %s (%s)", result.Verdict, result.Reason)
	}
}

func TestEvaluateDestructiveBelowPerfectConfidenceEscalates(t *testing.T) {
	e, _ := newTestEngine(t)
	result, err := e.Evaluate(context.Background(), pdptypes.EvaluationRequest{
		ToolName:        "erase_config",
		DeviceTargets:   []string{"sw-01"},
		ConfidenceScore: 0.999,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Verdict != pdptypes.VerdictEscalate {
		t.Fatalf("expected ESCALATE, got %s (%s)", result.Verdict, result.Reason)
	}
	if result.EscalationID == "" {
		t.Fatal("expected escalation id to be attached")
	}
}

func TestEvaluateLowConfidenceHighWriteEscalates(t *testing.T) {
	e, _ := newTestEngine(t)
	result, err := e.Evaluate(context.Background(), pdptypes.EvaluationRequest{
		ToolName:        "configure_static_route",
		DeviceTargets:   []string{"sw-01"},
		ConfidenceScore: 0.3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Verdict != pdptypes.VerdictEscalate {
		t.Fatalf("expected ESCALATE, got %s (%s)", result.Verdict, result.Reason)
	}
}

func TestEvaluateSeniorApprovalForcesEscalate(t *testing.T) {
	e, _ := newTestEngine(t)
	result, err := e.Evaluate(context.Background(), pdptypes.EvaluationRequest{
		ToolName:        "approval_required_tool",
		DeviceTargets:   []string{"sw-01"},
		ConfidenceScore: 1.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Verdict != pdptypes.VerdictEscalate || result.Reason != "requires senior approval" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestEvaluateAlwaysAppendsAuditEntry(t *testing.T) {
	e, store := newTestEngine(t)
	_, err := e.Evaluate(context.Background(), pdptypes.EvaluationRequest{
		ToolName:        "show_interfaces",
		DeviceTargets:   []string{"sw-01"},
		ConfidenceScore: 0.9,
	})
	if err != nil {
		t.Fatal(err)
	}
	count, err := store.Count(context.Background(), verdictstore.QueryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 audit entry, got %d", count)
	}
}

func TestSetDocumentRejectsNonNewerVersion(t *testing.T) {
	e, _ := newTestEngine(t)
	sameVersion, err := policy.Parse([]byte(testPolicyYAML))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SetDocument(sameVersion); err == nil {
		t.Fatal("expected error for non-newer policy version")
	}
}

func TestSetDocumentAcceptsNewerVersion(t *testing.T) {
	e, _ := newTestEngine(t)
	newer := `
version: "2.0.0"
default_verdict: BLOCK
tools: {}
`
	doc, err := policy.Parse([]byte(newer))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SetDocument(doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecisionHashIsDeterministic(t *testing.T) {
	result := pdptypes.EvaluationResult{
		Verdict:       pdptypes.VerdictPermit,
		RiskTier:      pdptypes.TierRead,
		ToolName:      "show_interfaces",
		Reason:        "permitted",
		PolicyVersion: "1.0.0",
	}
	h1, err := DecisionHash(result)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := DecisionHash(result)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("expected deterministic hash, got %s then %s", h1, h2)
	}
}
