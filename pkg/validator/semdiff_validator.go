package validator

import (
	"fmt"

	"github.com/netauton/sna-pdp/pkg/pdptypes"
	"github.com/netauton/sna-pdp/pkg/sanitizer"
	"github.com/netauton/sna-pdp/pkg/semdiff"
)

// runningConfigKey is the state key SemanticDiffValidator inspects in
// both before and after snapshots.
const runningConfigKey = "running_config"

// SemanticDiffValidator is the one validator specified in full detail:
// it confirms a tool call actually changed the device's running
// configuration, using a section-aware diff rather than a byte
// comparison so reordered-but-equivalent config blocks don't register
// as changes.
type SemanticDiffValidator struct{}

// NewSemanticDiffValidator returns a ready-to-use SemanticDiffValidator.
func NewSemanticDiffValidator() *SemanticDiffValidator {
	return &SemanticDiffValidator{}
}

func (v *SemanticDiffValidator) Name() string { return "semantic_diff" }

// Validate implements the four-step algorithm: SKIP when either
// snapshot is absent or missing running_config, FAIL when the diff
// finds no ADDED/REMOVED/MODIFIED sections, otherwise PASS with the
// full set of section diffs attached.
func (v *SemanticDiffValidator) Validate(toolName, deviceTarget string, before, after State) pdptypes.ValidationResult {
	result := pdptypes.ValidationResult{TestCaseName: v.Name()}

	beforeConfig, ok := stringValue(before, runningConfigKey)
	if !ok || beforeConfig == "" {
		result.Status = pdptypes.ValidationSkip
		result.Message = "running_config missing or empty in before_state"
		return result
	}
	afterConfig, ok := stringValue(after, runningConfigKey)
	if !ok || afterConfig == "" {
		result.Status = pdptypes.ValidationSkip
		result.Message = "running_config missing or empty in after_state"
		return result
	}

	diffs := semdiff.Diff(beforeConfig, afterConfig)
	if len(diffs) == 0 {
		result.Status = pdptypes.ValidationFail
		result.Message = fmt.Sprintf("no semantic config changes detected after %s", toolName)
		return result
	}

	sections := make([]map[string]any, 0, len(diffs))
	for _, d := range diffs {
		sections = append(sections, map[string]any{
			"section":      d.Section,
			"change_type":  string(d.ChangeType),
			"before_lines": sanitizeLines(d.BeforeLines),
			"after_lines":  sanitizeLines(d.AfterLines),
		})
	}

	result.Status = pdptypes.ValidationPass
	result.Message = fmt.Sprintf("detected %d section change(s) after %s", len(diffs), toolName)
	result.Details = map[string]any{
		"device_target": deviceTarget,
		"sections":      sections,
	}
	return result
}

// sanitizeLines redacts credential material from diff lines before they
// end up in a ValidationResult.Details payload destined for the audit log.
func sanitizeLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = sanitizer.Sanitize(l)
	}
	return out
}

func stringValue(state State, key string) (string, bool) {
	if state == nil {
		return "", false
	}
	raw, ok := state[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}
