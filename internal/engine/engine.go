package engine

import (
	"fmt"

	"go.uber.org/zap"
)

// Engine runs the resolution pipeline against one immutable TriggerTable.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	table  *TriggerTable
	cfg    PrecedenceConfig
	logger *zap.Logger
}

// NewEngine creates an engine over a loaded table. A nil logger is replaced
// with a no-op logger.
func NewEngine(table *TriggerTable, cfg PrecedenceConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		table:  table,
		cfg:    cfg,
		logger: logger,
	}
}

// Table returns the engine's trigger table.
func (e *Engine) Table() *TriggerTable {
	return e.table
}

// Config returns the server-default precedence configuration.
func (e *Engine) Config() PrecedenceConfig {
	return e.cfg
}

// Extract builds an extracted QueryContext for the raw text and settings.
func (e *Engine) Extract(raw string, settings map[string]any) QueryContext {
	return e.table.Extract(raw, settings)
}

// Resolve runs the pipeline with the server defaults.
func (e *Engine) Resolve(q QueryContext) ResolutionResult {
	return e.ResolveWithPolicy(q, nil)
}

// ResolveWithPolicy runs the pipeline with a project's overrides applied.
// A nil policy is the server default.
func (e *Engine) ResolveWithPolicy(q QueryContext, policy *ResolvePolicy) ResolutionResult {
	return e.run(q, policy).Result
}

// Trace records every intermediate product of one resolution.
type Trace struct {
	Signals     []Signal
	Candidates  []Candidate // before merge and filtering
	Ranking     Ranking
	Enforcement Enforcement
	Category    string // category the contracts were evaluated for
	Result      ResolutionResult
}

// Explain resolves q and returns the full trace for operators.
func (e *Engine) Explain(q QueryContext, policy *ResolvePolicy) Trace {
	return e.run(q, policy)
}

func (e *Engine) run(q QueryContext, policy *ResolvePolicy) Trace {
	if !q.Extracted() {
		q = e.table.Extract(q.RawText, q.Settings)
	}
	s := q.Signals
	var tr Trace
	tr.Signals = s.All()
	tr.Result.State = StateSignalsExtracted
	tr.Result.SignalCount = s.Len()

	cands := e.table.matchDirect(s)
	cands = append(cands, e.table.traverse(s)...)
	if policy != nil && len(policy.DisabledRules) > 0 {
		kept := cands[:0]
		for _, c := range cands {
			if policy.IsRuleEnabled(c.SourceRule) {
				kept = append(kept, c)
			}
		}
		cands = kept
	}
	tr.Candidates = cands
	tr.Result.State = StateCandidatesGenerated

	cfg := policy.Apply(e.cfg)
	rk := Rank(cands, e.table.fallback, cfg)
	tr.Ranking = rk
	tr.Result.State = StateResolved

	tr.Result.Documents = rk.Documents
	tr.Result.Ambiguous = rk.Ambiguous
	tr.Result.Confidence = ConfidenceNormal
	switch {
	case rk.Fallback:
		tr.Result.Confidence = ConfidenceLow
	case rk.Top.NeedsClarification:
		tr.Result.Confidence = ConfidenceLow
		tr.Result.ClarifyingQuestion = rk.Top.Question
	}

	tr.Category = tr.Result.TopCategory()
	if tr.Category == "" && len(e.table.fallback) > 0 {
		tr.Category = e.table.fallback[0].Category
	}
	tr.Result.Category = tr.Category
	enf := Enforce(e.table.contracts[tr.Category], s)
	tr.Enforcement = enf
	tr.Result.ContractStatus = enf.Status

	if enf.Status == ContractBlocked {
		tr.Result.State = StateContractBlocked
		tr.Result.Documents = []ScoredDocument{}
		tr.Result.Ambiguous = false
		tr.Result.ClarifyingQuestion = enf.Question
		tr.Result.MissingSignals = make([]string, len(enf.Missing))
		for i, m := range enf.Missing {
			tr.Result.MissingSignals[i] = m.String()
		}
	} else {
		tr.Result.State = StateContractOK
	}

	if ce := e.logger.Check(zap.DebugLevel, "query resolved"); ce != nil {
		ce.Write(
			zap.Int("signals", s.Len()),
			zap.Int("candidates", len(cands)),
			zap.Int("documents", len(tr.Result.Documents)),
			zap.String("state", tr.Result.State.String()),
			zap.Bool("fallback", rk.Fallback),
			zap.Bool("ambiguous", tr.Result.Ambiguous),
		)
	}
	return tr
}

// String renders a one-line summary of the result.
func (r ResolutionResult) String() string {
	return fmt.Sprintf("%s documents=%d confidence=%s ambiguous=%t",
		r.State, len(r.Documents), r.Confidence, r.Ambiguous)
}
