package engine

import "strings"

// SignalKind identifies where a Signal was extracted from.
type SignalKind int

const (
	SignalKeyword SignalKind = iota + 1
	SignalPattern
	SignalSetting
)

// String returns the lowercase kind name.
func (k SignalKind) String() string {
	switch k {
	case SignalKeyword:
		return "keyword"
	case SignalPattern:
		return "pattern"
	case SignalSetting:
		return "setting"
	default:
		return "unspecified"
	}
}

// ParseSignalKind maps a rule-file kind name to a SignalKind.
func ParseSignalKind(s string) (SignalKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keyword":
		return SignalKeyword, true
	case "pattern":
		return SignalPattern, true
	case "setting":
		return SignalSetting, true
	default:
		return 0, false
	}
}

// RuleType is the tagged variant of a TriggerRule.
type RuleType int

const (
	RuleKeyword RuleType = iota + 1
	RuleDecisionNode
	RuleErrorPattern
)

// String returns the rule-file name of the type.
func (t RuleType) String() string {
	switch t {
	case RuleKeyword:
		return "keyword"
	case RuleDecisionNode:
		return "decision_node"
	case RuleErrorPattern:
		return "error_pattern"
	default:
		return "unspecified"
	}
}

// ParseRuleType accepts both "error_pattern" and "ERROR_PATTERN" spellings.
func ParseRuleType(s string) (RuleType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keyword":
		return RuleKeyword, true
	case "decision_node":
		return RuleDecisionNode, true
	case "error_pattern":
		return RuleErrorPattern, true
	default:
		return 0, false
	}
}

// rank is the tie-break precedence of the type: ERROR_PATTERN > DECISION_NODE > KEYWORD.
func (t RuleType) rank() int {
	switch t {
	case RuleErrorPattern:
		return 3
	case RuleDecisionNode:
		return 2
	case RuleKeyword:
		return 1
	default:
		return 0
	}
}

// ContractStatus reports whether the resolved category passed its contracts.
type ContractStatus int

const (
	ContractOK ContractStatus = iota + 1
	ContractBlocked
)

// String returns the lowercase status name.
func (s ContractStatus) String() string {
	switch s {
	case ContractOK:
		return "ok"
	case ContractBlocked:
		return "blocked"
	default:
		return "unspecified"
	}
}

// Confidence is the qualitative certainty attached to a result.
type Confidence int

const (
	ConfidenceNormal Confidence = iota + 1
	ConfidenceLow
)

// String returns the lowercase confidence name.
func (c Confidence) String() string {
	switch c {
	case ConfidenceNormal:
		return "normal"
	case ConfidenceLow:
		return "low"
	default:
		return "unspecified"
	}
}

// State is a step of a single resolution. ContractOK and ContractBlocked
// are terminal.
type State int

const (
	StateRaw State = iota
	StateSignalsExtracted
	StateCandidatesGenerated
	StateResolved
	StateContractOK
	StateContractBlocked
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateRaw:
		return "raw"
	case StateSignalsExtracted:
		return "signals_extracted"
	case StateCandidatesGenerated:
		return "candidates_generated"
	case StateResolved:
		return "resolved"
	case StateContractOK:
		return "contract_ok"
	case StateContractBlocked:
		return "contract_blocked"
	default:
		return "unknown"
	}
}

// Scores assigned to non-keyword rule matches.
const (
	ScoreErrorPattern   = 1.0
	ScoreDecisionLeaf   = 0.9
	ScoreDecisionHalted = 0.5
)

// DocumentRef is an opaque handle into the document store.
type DocumentRef struct {
	ID       string
	Category string
}

// String returns "category/id".
func (d DocumentRef) String() string {
	return d.Category + "/" + d.ID
}

// Signal is a typed, weighted fact extracted from a query or its settings.
type Signal struct {
	Kind   SignalKind
	Value  string
	Weight float64
}

// Candidate is a scored document produced mid-resolution.
type Candidate struct {
	Document           DocumentRef
	Score              float64
	SourceRule         string
	RuleType           RuleType
	PriorityTier       int
	RegistrationOrder  int
	NeedsClarification bool
	Question           string

	targetIndex int
}

// ScoredDocument is one entry of a resolution's ordered document list.
type ScoredDocument struct {
	Document           DocumentRef
	Score              float64
	SourceRule         string
	NeedsClarification bool
}

// ResolutionResult is the outcome of Engine.Resolve.
type ResolutionResult struct {
	Documents          []ScoredDocument
	ContractStatus     ContractStatus
	Category           string // category the contracts were evaluated for
	ClarifyingQuestion string
	MissingSignals     []string
	Confidence         Confidence
	Ambiguous          bool
	State              State
	SignalCount        int
}

// TopCategory returns the category of the first document, or "" when the
// document list is empty.
func (r ResolutionResult) TopCategory() string {
	if len(r.Documents) == 0 {
		return ""
	}
	return r.Documents[0].Document.Category
}
