// Package validator implements the post-change Validator Framework
// (spec section 4.5): after a PERMITted action executes, verify the
// observable effect matches intent so the caller can decide whether to
// roll back.
//
// Grounded on the teacher's pkg/trust/compliance.go (named checks
// producing a status drawn from a small enum, aggregated by severity)
// reshaped around this domain's PASS/FAIL/SKIP/ERROR validation result
// instead of HELM's compliance control statuses.
package validator

import (
	"time"

	"github.com/netauton/sna-pdp/pkg/pdptypes"
)

// State is an opaque snapshot captured by the caller, typically
// containing running_config among other keys.
type State map[string]any

// Validator verifies the observable effect of one tool call against a
// single device target.
type Validator interface {
	Name() string
	Validate(toolName, deviceTarget string, before, after State) pdptypes.ValidationResult
}

// severityRank orders statuses worst-first for composite aggregation:
// ERROR > FAIL > SKIP > PASS.
var severityRank = map[pdptypes.ValidationStatus]int{
	pdptypes.ValidationError: 3,
	pdptypes.ValidationFail:  2,
	pdptypes.ValidationSkip:  1,
	pdptypes.ValidationPass:  0,
}

// Composite runs every Validator in order and returns all results
// alongside the single worst status, so a caller can decide to roll
// back on any non-PASS outcome without re-deriving the precedence
// rule itself.
type Composite struct {
	validators []Validator
	clock      func() time.Time
}

// NewComposite returns a Composite running validators in the given
// order.
func NewComposite(validators ...Validator) *Composite {
	return &Composite{validators: validators, clock: time.Now}
}

// WithClock overrides the composite's time source; intended for tests.
func (c *Composite) WithClock(clock func() time.Time) *Composite {
	c.clock = clock
	return c
}

// Run executes every validator and returns their results plus the
// worst (highest-severity) status across all of them.
func (c *Composite) Run(toolName, deviceTarget string, before, after State) ([]pdptypes.ValidationResult, pdptypes.ValidationStatus) {
	results := make([]pdptypes.ValidationResult, 0, len(c.validators))
	worst := pdptypes.ValidationPass

	for _, v := range c.validators {
		start := c.clock()
		result := v.Validate(toolName, deviceTarget, before, after)
		if result.Timestamp.IsZero() {
			result.Timestamp = start
		}
		if result.DurationSec == 0 {
			result.DurationSec = c.clock().Sub(start).Seconds()
		}
		results = append(results, result)
		if severityRank[result.Status] > severityRank[worst] {
			worst = result.Status
		}
	}

	return results, worst
}
