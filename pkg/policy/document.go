// Package policy implements the Policy Document (spec section 3): an
// immutable, versioned snapshot of the tool catalog, the unknown-tool
// default verdict, and the EAS adjustment curve, plus the strict YAML
// parser that loads it.
//
// Grounded on the teacher's config.LoadProfile/LoadAllProfiles (YAML
// document loading with yaml.v3) and trust/pack_loader.go's monotonic
// version enforcement and fail-closed PackLoadError discipline.
package policy

import (
	"github.com/Masterminds/semver/v3"
	"github.com/netauton/sna-pdp/pkg/pdptypes"
)

// ParamConstraint validates a tool's call parameters. Returns a
// non-empty violation name on failure, empty string on success.
type ParamConstraint interface {
	Check(parameters map[string]any, context map[string]any, deviceTargets []string) (violation string, err error)
}

// Tool is one tool catalog entry.
type Tool struct {
	Name                   string
	Tier                   pdptypes.RiskTier
	BaseThreshold          float64
	MaxTargets             int
	RequiresAudit          bool
	RequiresSeniorApproval bool
	Constraint             ParamConstraint // optional
}

// CurvePoint is one (eas_breakpoint, threshold_delta) pair of the
// piecewise-linear EAS adjustment curve.
type CurvePoint struct {
	EAS   float64
	Delta float64
}

// Document is an immutable, versioned policy snapshot.
type Document struct {
	version         string
	semverVersion   *semver.Version
	defaultVerdict  pdptypes.Verdict
	tools           map[string]*Tool
	curve           []CurvePoint
}

// Version returns the document's version string.
func (d *Document) Version() string { return d.version }

// DefaultVerdict returns the configured unknown-tool default verdict.
func (d *Document) DefaultVerdict() pdptypes.Verdict { return d.defaultVerdict }

// Lookup returns the tool catalog entry for name, if present.
func (d *Document) Lookup(name string) (*Tool, bool) {
	t, ok := d.tools[name]
	return t, ok
}

// AdjustmentForEAS evaluates the piecewise-linear EAS adjustment curve
// at the given EAS value, returning a threshold-delta. The curve is
// monotonic non-decreasing in EAS by construction validation.
func (d *Document) AdjustmentForEAS(eas float64) float64 {
	if len(d.curve) == 0 {
		return 0
	}
	if eas <= d.curve[0].EAS {
		return d.curve[0].Delta
	}
	last := d.curve[len(d.curve)-1]
	if eas >= last.EAS {
		return last.Delta
	}
	for i := 1; i < len(d.curve); i++ {
		lo, hi := d.curve[i-1], d.curve[i]
		if eas >= lo.EAS && eas <= hi.EAS {
			if hi.EAS == lo.EAS {
				return lo.Delta
			}
			frac := (eas - lo.EAS) / (hi.EAS - lo.EAS)
			return lo.Delta + frac*(hi.Delta-lo.Delta)
		}
	}
	return last.Delta
}

// NewerThan reports whether d's version is strictly greater than
// other's, per the monotonic-version invariant. Mirrors
// trust.PackLoader.enforceMonotonicVersion. The ordering applies only
// when both versions parse as semver; if either does not, any version
// string that differs from other's counts as newer.
func (d *Document) NewerThan(other *Document) (bool, error) {
	if other == nil {
		return true, nil
	}
	if d.semverVersion == nil || other.semverVersion == nil {
		return d.version != other.version, nil
	}
	return d.semverVersion.GreaterThan(other.semverVersion), nil
}

// Clamp restricts x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
