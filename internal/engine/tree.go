package engine

// outcome is the tri-state answer of a decision-node predicate.
type outcome int

const (
	outcomeUndetermined outcome = iota
	outcomeSatisfied
	outcomeContradicted
)

// evaluate answers the predicate from the available signals. A setting,
// when present, decides alone; otherwise keywords decide; otherwise the
// answer is undetermined. A nil predicate is always satisfied.
func (p *predicate) evaluate(s SignalSet) outcome {
	if p == nil {
		return outcomeSatisfied
	}
	if p.setting != "" {
		if v, ok := s.Setting(p.setting); ok {
			var yes bool
			if p.equals != "" {
				yes = v == p.equals
			} else {
				yes = truthy(v)
			}
			if yes {
				return outcomeSatisfied
			}
			return outcomeContradicted
		}
	}
	for _, kw := range p.anyKeywords {
		if s.Has(SignalKeyword, kw) {
			return outcomeSatisfied
		}
	}
	for _, kw := range p.noneKeywords {
		if s.Has(SignalKeyword, kw) {
			return outcomeContradicted
		}
	}
	return outcomeUndetermined
}

// entered reports whether a root's entry matchers fire for the signals.
func (r *compiledRule) entered(s SignalSet) bool {
	for _, kw := range r.keywords {
		if s.Has(SignalKeyword, kw) {
			return true
		}
	}
	return r.hasPattern && s.Has(SignalPattern, r.id)
}

// traverse walks every entered root in registration order. Satisfied nodes
// descend; satisfied leaves yield their targets at ScoreDecisionLeaf;
// contradicted nodes yield nothing; undetermined nodes halt and yield their
// own targets at ScoreDecisionHalted, flagged for clarification.
func (t *TriggerTable) traverse(s SignalSet) []Candidate {
	var out []Candidate
	visited := make(map[int]struct{})
	for _, idx := range t.roots {
		if t.rules[idx].entered(s) {
			out = t.descend(idx, s, visited, out)
		}
	}
	return out
}

// descend evaluates a node once even when several parents reach it.
func (t *TriggerTable) descend(idx int, s SignalSet, visited map[int]struct{}, out []Candidate) []Candidate {
	if _, ok := visited[idx]; ok {
		return out
	}
	visited[idx] = struct{}{}

	n := t.rules[idx]
	switch n.pred.evaluate(s) {
	case outcomeContradicted:
		return out
	case outcomeUndetermined:
		return append(out, n.candidates(ScoreDecisionHalted, true)...)
	}
	if len(n.children) == 0 {
		return append(out, n.candidates(ScoreDecisionLeaf, false)...)
	}
	for _, c := range n.children {
		out = t.descend(c, s, visited, out)
	}
	return out
}
