package engine

import (
	"fmt"
	"slices"
)

// ResolvePolicy is a project's override of the resolution knobs.
// Loaded from the projects table's resolve_policy JSONB column.
// All pointer fields use nil to mean "use server default".
type ResolvePolicy struct {
	ScoreFloor       *float64 `json:"score_floor"`       // nil = server default (0)
	AmbiguityEpsilon *float64 `json:"ambiguity_epsilon"` // nil = server default (0.05)
	MaxDocuments     *int     `json:"max_documents"`     // nil = server default (no cap)
	DisabledRules    []string `json:"disabled_rules"`    // candidates from these rules are ignored
}

// Apply returns base with the policy's non-nil fields laid over it.
// A nil policy returns base unchanged.
func (p *ResolvePolicy) Apply(base PrecedenceConfig) PrecedenceConfig {
	if p == nil {
		return base
	}
	out := base
	if p.ScoreFloor != nil {
		out.Floor = *p.ScoreFloor
	}
	if p.AmbiguityEpsilon != nil {
		out.AmbiguityEpsilon = *p.AmbiguityEpsilon
	}
	if p.MaxDocuments != nil {
		out.MaxDocuments = *p.MaxDocuments
	}
	return out
}

// IsRuleEnabled reports whether candidates from the rule should be kept.
// Every rule is enabled under a nil policy.
func (p *ResolvePolicy) IsRuleEnabled(ruleID string) bool {
	if p == nil {
		return true
	}
	return !slices.Contains(p.DisabledRules, ruleID)
}

// Validate rejects values the precedence resolver cannot use.
func (p *ResolvePolicy) Validate() error {
	if p == nil {
		return nil
	}
	if p.ScoreFloor != nil && (*p.ScoreFloor < 0 || *p.ScoreFloor >= 1) {
		return fmt.Errorf("score_floor must be in [0, 1), got %v", *p.ScoreFloor)
	}
	if p.AmbiguityEpsilon != nil && (*p.AmbiguityEpsilon < 0 || *p.AmbiguityEpsilon > 1) {
		return fmt.Errorf("ambiguity_epsilon must be in [0, 1], got %v", *p.AmbiguityEpsilon)
	}
	if p.MaxDocuments != nil && *p.MaxDocuments < 0 {
		return fmt.Errorf("max_documents must be >= 0, got %d", *p.MaxDocuments)
	}
	for _, id := range p.DisabledRules {
		if id == "" {
			return fmt.Errorf("disabled_rules must not contain empty ids")
		}
	}
	return nil
}
