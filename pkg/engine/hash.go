package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/netauton/sna-pdp/pkg/pdptypes"
)

// decisionHashView excludes EscalationID and EASSnapshot from the hash
// input: both can legitimately differ between two otherwise-identical
// decisions replayed at different times (a fresh escalation id, a
// slightly different EAS reading), and the hash is meant to attest to
// the decision's substance, not its incidental bookkeeping.
type decisionHashView struct {
	Verdict             pdptypes.Verdict    `json:"verdict"`
	RiskTier            pdptypes.RiskTier   `json:"risk_tier"`
	ToolName            string              `json:"tool_name"`
	Reason              string              `json:"reason"`
	ConfidenceScore     float64             `json:"confidence_score"`
	ConfidenceThreshold float64             `json:"confidence_threshold"`
	DeviceCount         int                 `json:"device_count"`
	PolicyVersion       string              `json:"policy_version"`
}

func marshalResult(result pdptypes.EvaluationResult) ([]byte, error) {
	return json.Marshal(decisionHashView{
		Verdict:             result.Verdict,
		RiskTier:            result.RiskTier,
		ToolName:            result.ToolName,
		Reason:              result.Reason,
		ConfidenceScore:     result.ConfidenceScore,
		ConfidenceThreshold: result.ConfidenceThreshold,
		DeviceCount:         result.DeviceCount,
		PolicyVersion:       result.PolicyVersion,
	})
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
