package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRuleDefinition is wrapped by every LoadError.
var ErrInvalidRuleDefinition = errors.New("invalid rule definition")

// TableDefinition is the declarative input of LoadTriggerTable.
type TableDefinition struct {
	Version   string
	Fallback  []TargetDefinition
	Rules     []RuleDefinition
	Contracts []ContractDefinition
}

// RuleDefinition describes one TriggerRule. Its position in
// TableDefinition.Rules is its registration order.
type RuleDefinition struct {
	ID           string
	Type         RuleType
	Category     string // default category for targets that omit one
	Matchers     []MatcherSpec
	Targets      []TargetDefinition
	PriorityTier int

	// Decision-node fields.
	Root      bool
	Question  string
	Predicate *PredicateSpec
	Children  []string
}

// MatcherSpec is either a keyword set or a regular expression, never both.
type MatcherSpec struct {
	Keywords []string
	Pattern  string
}

// PredicateSpec is the binary question of a decision node. A nil predicate
// is always satisfied.
type PredicateSpec struct {
	Setting      string // answered by this settings key when present
	Equals       string // expected setting value; empty means "truthy"
	AnyKeywords  []string
	NoneKeywords []string
}

// TargetDefinition names a document. An empty Category inherits the rule's.
type TargetDefinition struct {
	ID       string
	Category string
}

// ContractDefinition gates a category behind required signals.
type ContractDefinition struct {
	Category string
	Requires []SignalRequirement
	Message  string
}

// SignalRequirement names a signal a contract needs. Setting requirements
// match on key presence; keyword requirements on the stemmed token; pattern
// requirements on the id of the rule that owns the pattern.
type SignalRequirement struct {
	Kind  SignalKind
	Value string
}

// String returns "kind:value".
func (r SignalRequirement) String() string {
	return r.Kind.String() + ":" + r.Value
}

// Problem is a single validation failure found while loading.
type Problem struct {
	RuleID  string
	Field   string
	Message string
}

func (p Problem) String() string {
	switch {
	case p.RuleID != "" && p.Field != "":
		return fmt.Sprintf("rule %q: %s: %s", p.RuleID, p.Field, p.Message)
	case p.RuleID != "":
		return fmt.Sprintf("rule %q: %s", p.RuleID, p.Message)
	case p.Field != "":
		return fmt.Sprintf("%s: %s", p.Field, p.Message)
	default:
		return p.Message
	}
}

// LoadError reports every problem that rejected a table definition.
type LoadError struct {
	Problems []Problem
}

func (e *LoadError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return fmt.Sprintf("%v: %d problem(s): %s", ErrInvalidRuleDefinition, len(e.Problems), strings.Join(parts, "; "))
}

// Unwrap lets errors.Is(err, ErrInvalidRuleDefinition) match.
func (e *LoadError) Unwrap() error {
	return ErrInvalidRuleDefinition
}
