package policy

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/cel-go/cel"
	"github.com/netauton/sna-pdp/pkg/pdptypes"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// LoadError describes a failure parsing a policy document, with the
// field path needed for an operator to fix the source (no line number
// is recorded; YAML syntax errors carry theirs in Reason). Mirrors
// trust.PackLoadError's {Step, Reason} shape.
type LoadError struct {
	Field  string
	Reason string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("policy: invalid document at %s: %s", e.Field, e.Reason)
}

// rawDocument is the on-disk YAML shape (section 6: Policy document format).
type rawDocument struct {
	Version        string              `yaml:"version"`
	DefaultVerdict string              `yaml:"default_verdict"`
	EASCurve       [][2]float64        `yaml:"eas_curve"`
	Tools          map[string]rawTool  `yaml:"tools"`
}

type rawTool struct {
	Tier                   string          `yaml:"tier"`
	BaseThreshold          float64         `yaml:"base_threshold"`
	MaxTargets             int             `yaml:"max_targets"`
	RequiresAudit          bool            `yaml:"requires_audit"`
	RequiresSeniorApproval bool            `yaml:"requires_senior_approval"`
	ParamSchema            string          `yaml:"param_schema,omitempty"`
	ParamCEL               string          `yaml:"param_cel,omitempty"`
}

var knownToolKeys = map[string]bool{
	"tier": true, "base_threshold": true, "max_targets": true,
	"requires_audit": true, "requires_senior_approval": true,
	"param_schema": true, "param_cel": true,
}

var validTiers = map[string]pdptypes.RiskTier{
	"READ":        pdptypes.TierRead,
	"LOW_WRITE":   pdptypes.TierLowWrite,
	"HIGH_WRITE":  pdptypes.TierHighWrite,
	"DESTRUCTIVE": pdptypes.TierDestructive,
}

// Parse parses and validates a policy document from YAML bytes.
// Unknown top-level keys are ignored silently: no warning is logged
// and nothing in the result reports them. Unknown per-tool keys are
// rejected (strict).
func Parse(data []byte) (*Document, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &LoadError{Field: "<document>", Reason: err.Error()}
	}

	if err := rejectUnknownToolKeys(data); err != nil {
		return nil, err
	}

	if raw.Version == "" {
		return nil, &LoadError{Field: "version", Reason: "must be non-empty"}
	}
	sv, svErr := semver.NewVersion(raw.Version)
	if svErr != nil {
		sv = nil // version strings that aren't semver still compare by string equality
	}

	if raw.DefaultVerdict != string(pdptypes.VerdictBlock) {
		return nil, &LoadError{Field: "default_verdict", Reason: "must be BLOCK (fail-closed)"}
	}

	curve, err := parseCurve(raw.EASCurve)
	if err != nil {
		return nil, err
	}

	tools := make(map[string]*Tool, len(raw.Tools))
	for name, rt := range raw.Tools {
		tier, ok := validTiers[rt.Tier]
		if !ok {
			return nil, &LoadError{Field: "tools." + name + ".tier", Reason: "unknown tier " + rt.Tier}
		}
		if rt.BaseThreshold < 0 || rt.BaseThreshold > 1 {
			return nil, &LoadError{Field: "tools." + name + ".base_threshold", Reason: "must be within [0,1]"}
		}
		if rt.MaxTargets <= 0 {
			return nil, &LoadError{Field: "tools." + name + ".max_targets", Reason: "must be positive"}
		}

		tool := &Tool{
			Name:                   name,
			Tier:                   tier,
			BaseThreshold:          rt.BaseThreshold,
			MaxTargets:             rt.MaxTargets,
			RequiresAudit:          rt.RequiresAudit,
			RequiresSeniorApproval: rt.RequiresSeniorApproval,
		}

		constraint, err := buildConstraint(name, rt)
		if err != nil {
			return nil, err
		}
		tool.Constraint = constraint

		tools[name] = tool
	}

	return &Document{
		version:        raw.Version,
		semverVersion:  sv,
		defaultVerdict: pdptypes.Verdict(raw.DefaultVerdict),
		tools:          tools,
		curve:          curve,
	}, nil
}

func parseCurve(points [][2]float64) ([]CurvePoint, error) {
	curve := make([]CurvePoint, 0, len(points))
	for _, p := range points {
		curve = append(curve, CurvePoint{EAS: p[0], Delta: p[1]})
	}
	for i := 1; i < len(curve); i++ {
		if curve[i].EAS < curve[i-1].EAS {
			return nil, &LoadError{Field: "eas_curve", Reason: "breakpoints must be sorted ascending by eas_breakpoint"}
		}
		if curve[i].Delta < curve[i-1].Delta {
			return nil, &LoadError{Field: "eas_curve", Reason: "threshold_delta must be monotonic non-decreasing in eas_breakpoint"}
		}
	}
	return curve, nil
}

// buildConstraint compiles the tool's optional parameter constraint:
// either a JSON Schema (mirrors firewall.PolicyFirewall.AllowTool) or a
// CEL expression for predicates schema can't express (e.g. referencing
// device_targets or context alongside parameters). A tool that sets
// both is rejected.
func buildConstraint(toolName string, rt rawTool) (ParamConstraint, error) {
	switch {
	case rt.ParamSchema != "" && rt.ParamCEL != "":
		return nil, &LoadError{Field: "tools." + toolName, Reason: "param_schema and param_cel are mutually exclusive"}
	case rt.ParamSchema != "":
		return newSchemaConstraint(toolName, rt.ParamSchema)
	case rt.ParamCEL != "":
		return newCELConstraint(toolName, rt.ParamCEL)
	default:
		return nil, nil
	}
}

type schemaConstraint struct {
	toolName string
	schema   *jsonschema.Schema
}

func newSchemaConstraint(toolName, schemaJSON string) (*schemaConstraint, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := "https://sna-pdp.local/tools/" + toolName + ".schema.json"
	if err := c.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return nil, &LoadError{Field: "tools." + toolName + ".param_schema", Reason: err.Error()}
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, &LoadError{Field: "tools." + toolName + ".param_schema", Reason: err.Error()}
	}
	return &schemaConstraint{toolName: toolName, schema: compiled}, nil
}

func (c *schemaConstraint) Check(parameters map[string]any, _ map[string]any, _ []string) (string, error) {
	if err := c.schema.Validate(parameters); err != nil {
		return "parameter schema violation: " + err.Error(), nil
	}
	return "", nil
}

type celConstraint struct {
	toolName string
	program  cel.Program
}

func newCELConstraint(toolName, expr string) (*celConstraint, error) {
	env, err := cel.NewEnv(
		cel.Variable("parameters", cel.DynType),
		cel.Variable("context", cel.DynType),
		cel.Variable("device_targets", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, &LoadError{Field: "tools." + toolName + ".param_cel", Reason: err.Error()}
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, &LoadError{Field: "tools." + toolName + ".param_cel", Reason: issues.Err().Error()}
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, &LoadError{Field: "tools." + toolName + ".param_cel", Reason: err.Error()}
	}
	return &celConstraint{toolName: toolName, program: prg}, nil
}

// Check evaluates the CEL expression; the expression must evaluate to
// true for the request to be allowed through this constraint.
func (c *celConstraint) Check(parameters map[string]any, context map[string]any, deviceTargets []string) (string, error) {
	out, _, err := c.program.Eval(map[string]any{
		"parameters":     parameters,
		"context":        context,
		"device_targets": deviceTargets,
	})
	if err != nil {
		return "", fmt.Errorf("param_cel evaluation failed for %s: %w", c.toolName, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return "", fmt.Errorf("param_cel expression for %s did not evaluate to a boolean", c.toolName)
	}
	if !allowed {
		return "CEL parameter constraint violated", nil
	}
	return "", nil
}

// rejectUnknownToolKeys performs a strict second pass over the raw
// YAML node tree to reject unknown per-tool keys, since yaml.v3's
// Unmarshal into a typed struct silently ignores them.
func rejectUnknownToolKeys(data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &LoadError{Field: "<document>", Reason: err.Error()}
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}

	var toolsNode *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "tools" {
			toolsNode = root.Content[i+1]
			break
		}
	}
	if toolsNode == nil || toolsNode.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i+1 < len(toolsNode.Content); i += 2 {
		toolName := toolsNode.Content[i].Value
		toolNode := toolsNode.Content[i+1]
		if toolNode.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j+1 < len(toolNode.Content); j += 2 {
			key := toolNode.Content[j].Value
			if !knownToolKeys[key] {
				return &LoadError{
					Field:  "tools." + toolName + "." + key,
					Reason: "unknown per-tool key (strict mode rejects unrecognized fields)",
				}
			}
		}
	}
	return nil
}
