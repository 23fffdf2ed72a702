// Package engine implements the Policy Engine (spec section 4.1): the
// single Evaluate entry point that composes the Policy Document, EAS
// Calculator, Escalation Registry, and Verdict Store into one
// fail-closed decision.
//
// Grounded on the teacher's pkg/pdp/pdp.go (fail-closed contract,
// deterministic decision hashing via JCS canonicalization, stable
// PolicyRef binding) and pkg/firewall/firewall.go (allowlist-then-schema
// gate ordering), reshaped around this domain's classify → scope →
// constraints → threshold → confidence → approval → permit pipeline.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/netauton/sna-pdp/pkg/eas"
	"github.com/netauton/sna-pdp/pkg/escalation"
	"github.com/netauton/sna-pdp/pkg/pdptypes"
	"github.com/netauton/sna-pdp/pkg/policy"
	"github.com/netauton/sna-pdp/pkg/verdictstore"
)

// MetricsRecorder receives the engine's side-effect metrics. Engine
// works with a nil recorder (metrics become a no-op) so callers that
// haven't wired OpenTelemetry yet still get a working evaluator.
type MetricsRecorder interface {
	RecordEvaluation(verdict pdptypes.Verdict, tier pdptypes.RiskTier, latency time.Duration)
}

// Engine evaluates tool-call requests against the active policy
// document. Safe for concurrent use; the policy document can be
// hot-swapped with SetDocument while evaluations are in flight.
type Engine struct {
	mu  sync.RWMutex
	doc *policy.Document

	eas          *eas.Calculator
	escalations  *escalation.Registry
	store        verdictstore.Store
	metrics      MetricsRecorder
	clock        func() time.Time
}

// New returns an Engine with the given initial policy document and
// collaborators. metrics may be nil.
func New(doc *policy.Document, easCalc *eas.Calculator, escalations *escalation.Registry, store verdictstore.Store, metrics MetricsRecorder) *Engine {
	return &Engine{
		doc:         doc,
		eas:         easCalc,
		escalations: escalations,
		store:       store,
		metrics:     metrics,
		clock:       time.Now,
	}
}

// WithClock overrides the engine's time source; intended for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// SetDocument hot-swaps the active policy document. Rejects a document
// that is not strictly newer than the current one.
func (e *Engine) SetDocument(doc *policy.Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newer, err := doc.NewerThan(e.doc)
	if err != nil {
		return fmt.Errorf("engine: version compare failed: %w", err)
	}
	if !newer {
		return fmt.Errorf("engine: rejected policy document version %q: not newer than active version %q", doc.Version(), e.doc.Version())
	}
	e.doc = doc
	return nil
}

func (e *Engine) activeDocument() *policy.Document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc
}

// Evaluate runs the full decision pipeline for req and returns the
// resulting verdict. It always appends exactly one AuditEntry, even
// when the evaluation itself errors out for policy reasons (those are
// represented as a BLOCK verdict, not a Go error); a non-nil error here
// means the audit write itself failed after already downgrading to
// BLOCK, which the caller should treat as a hard failure of the PDP.
func (e *Engine) Evaluate(ctx context.Context, req pdptypes.EvaluationRequest) (pdptypes.EvaluationResult, error) {
	start := e.clock()
	doc := e.activeDocument()

	result := e.decide(ctx, doc, req)

	// Step 8a: create an escalation record before the audit write so
	// the audit entry can carry its final escalation_id.
	if result.Verdict == pdptypes.VerdictEscalate {
		id, _ := e.escalations.Create(result.Reason, req.Context)
		result.EscalationID = id
	}

	// Step 8b: append an audit entry; a persistence failure downgrades
	// the verdict to BLOCK (fail-closed) rather than letting an
	// unaudited PERMIT or ESCALATE stand.
	entry := e.auditEntry(req, result)
	var auditErr error
	if err := e.store.Append(ctx, entry); err != nil {
		auditErr = fmt.Errorf("engine: audit write failed: %w", err)
		result.Verdict = pdptypes.VerdictBlock
		result.Reason = "audit write failed"
		entry.Verdict = pdptypes.VerdictBlock
		entry.Reason = result.Reason
		// Best-effort retry of the downgraded entry; if this also
		// fails the caller still receives a fail-closed BLOCK.
		_ = e.store.Append(ctx, entry)
	}
	e.eas.Invalidate()

	// Step 8c: emit metrics.
	if e.metrics != nil {
		e.metrics.RecordEvaluation(result.Verdict, result.RiskTier, e.clock().Sub(start))
	}

	return result, auditErr
}

func (e *Engine) decide(ctx context.Context, doc *policy.Document, req pdptypes.EvaluationRequest) pdptypes.EvaluationResult {
	result := pdptypes.EvaluationResult{
		ToolName:        req.ToolName,
		ConfidenceScore: req.ConfidenceScore,
		DeviceCount:     len(req.DeviceTargets),
		PolicyVersion:   doc.Version(),
	}

	// EAS is read once per evaluation regardless of which step
	// terminates the pipeline, since the snapshot is part of the
	// result contract even for BLOCK verdicts.
	easValue, err := e.eas.Current(ctx)
	if err != nil {
		result.Verdict = pdptypes.VerdictBlock
		result.RiskTier = pdptypes.TierUnknown
		result.Reason = "EAS unavailable"
		return result
	}
	result.EASSnapshot = easValue

	// Step 1: classify.
	tool, ok := doc.Lookup(req.ToolName)
	if !ok {
		result.Verdict = doc.DefaultVerdict()
		result.RiskTier = pdptypes.TierUnknown
		result.Reason = "unknown tool"
		return result
	}
	result.RiskTier = tool.Tier
	result.RequiresAudit = tool.RequiresAudit
	result.RequiresSeniorApproval = tool.RequiresSeniorApproval

	// Step 2: scope check.
	if len(req.DeviceTargets) > tool.MaxTargets {
		result.Verdict = pdptypes.VerdictBlock
		result.Reason = fmt.Sprintf("scope exceeded (%d > %d)", len(req.DeviceTargets), tool.MaxTargets)
		return result
	}

	// Step 3: parameter constraints.
	if tool.Constraint != nil {
		violation, err := tool.Constraint.Check(req.Parameters, req.Context, req.DeviceTargets)
		if err != nil {
			result.Verdict = pdptypes.VerdictBlock
			result.Reason = "parameter constraint evaluation failed"
			return result
		}
		if violation != "" {
			result.Verdict = pdptypes.VerdictBlock
			result.Reason = violation
			return result
		}
	}

	// Step 4: EAS-adjusted threshold.
	threshold := policy.Clamp(tool.BaseThreshold-doc.AdjustmentForEAS(easValue), 0.0, 1.0)
	result.ConfidenceThreshold = threshold

	// Step 5: confidence gate.
	switch {
	case req.ConfidenceScore < threshold && (tool.Tier == pdptypes.TierHighWrite || tool.Tier == pdptypes.TierDestructive):
		result.Verdict = pdptypes.VerdictEscalate
		result.Reason = "confidence below effective threshold"
		return result
	case tool.Tier == pdptypes.TierDestructive && req.ConfidenceScore < 1.0:
		result.Verdict = pdptypes.VerdictEscalate
		result.Reason = "destructive action below perfect confidence"
		return result
	case tool.Tier == pdptypes.TierLowWrite && req.ConfidenceScore < threshold:
		result.Verdict = pdptypes.VerdictEscalate
		result.Reason = "confidence below effective threshold"
		return result
	}

	// Step 6: senior approval flag.
	if tool.RequiresSeniorApproval {
		result.Verdict = pdptypes.VerdictEscalate
		result.Reason = "requires senior approval"
		return result
	}

	// Step 7: default permit.
	result.Verdict = pdptypes.VerdictPermit
	result.Reason = "permitted"
	return result
}

func (e *Engine) auditEntry(req pdptypes.EvaluationRequest, result pdptypes.EvaluationResult) pdptypes.AuditEntry {
	return pdptypes.AuditEntry{
		ExternalID:             uuid.New().String(),
		Timestamp:              e.clock().UTC(),
		CorrelationID:          req.CorrelationID,
		Verdict:                result.Verdict,
		RiskTier:               result.RiskTier,
		ToolName:               result.ToolName,
		Reason:                 result.Reason,
		ConfidenceScore:        result.ConfidenceScore,
		ConfidenceThreshold:    result.ConfidenceThreshold,
		DeviceCount:            result.DeviceCount,
		RequiresAudit:          result.RequiresAudit,
		RequiresSeniorApproval: result.RequiresSeniorApproval,
		EscalationID:           result.EscalationID,
		PolicyVersion:          result.PolicyVersion,
		EASSnapshot:            result.EASSnapshot,
	}
}

// DecisionHash returns a deterministic, content-addressed hash of
// result suitable for binding into an external receipt or evidence
// record. Uses gowebpki/jcs's RFC 8785 canonicalization directly on the
// marshaled result so the hash is stable across field-ordering and
// whitespace differences between producers.
func DecisionHash(result pdptypes.EvaluationResult) (string, error) {
	raw, err := marshalResult(result)
	if err != nil {
		return "", fmt.Errorf("engine: marshal decision: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("engine: canonicalize decision: %w", err)
	}
	return hashHex(canonical), nil
}
