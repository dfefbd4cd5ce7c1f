package engine

// candidates fans a rule's targets out at one score.
func (r *compiledRule) candidates(score float64, clarify bool) []Candidate {
	out := make([]Candidate, len(r.targets))
	for i, doc := range r.targets {
		out[i] = Candidate{
			Document:           doc,
			Score:              score,
			SourceRule:         r.id,
			RuleType:           r.typ,
			PriorityTier:       r.tier,
			RegistrationOrder:  r.order,
			NeedsClarification: clarify,
			targetIndex:        i,
		}
		if clarify {
			out[i].Question = r.question
		}
	}
	return out
}

// matchDirect scores ERROR_PATTERN and KEYWORD rules against the signals,
// in registration order.
func (t *TriggerTable) matchDirect(s SignalSet) []Candidate {
	var out []Candidate
	for _, r := range t.rules {
		switch r.typ {
		case RuleErrorPattern:
			if s.Has(SignalPattern, r.id) {
				out = append(out, r.candidates(ScoreErrorPattern, false)...)
			}
		case RuleKeyword:
			if score := t.keywordCoverage(r, s); score > 0 {
				out = append(out, r.candidates(score, false)...)
			}
		}
	}
	return out
}

// keywordCoverage is the matched share of a keyword rule's total weight,
// in [0,1]. Adding a matching keyword never lowers it.
func (t *TriggerTable) keywordCoverage(r *compiledRule, s SignalSet) float64 {
	var matched, total float64
	for _, kw := range r.keywords {
		total += t.KeywordWeight(kw)
		matched += s.Weight(SignalKeyword, kw)
	}
	if total == 0 {
		return 0
	}
	return min(matched/total, 1)
}
