package engine

import (
	"cmp"
	"slices"
	"strings"
)

// PrecedenceConfig holds the knobs of candidate ordering and fallback.
type PrecedenceConfig struct {
	Floor            float64 // candidates scoring <= Floor are dropped (default 0)
	AmbiguityEpsilon float64 // top two within this of each other → ambiguous (default 0.05)
	MaxDocuments     int     // 0 = no cap
}

// DefaultPrecedenceConfig returns the server defaults.
func DefaultPrecedenceConfig() PrecedenceConfig {
	return PrecedenceConfig{
		Floor:            0,
		AmbiguityEpsilon: 0.05,
	}
}

// Ranking is the ordered outcome of Rank.
type Ranking struct {
	Documents []ScoredDocument
	Top       *Candidate // nil when the fallback set was used
	Ambiguous bool
	Fallback  bool
}

// Rank merges, filters and orders candidates.
//
// Rules (applied in order):
//  1. Candidates for the same document merge: the maximum score is kept and
//     the highest-tier contributing rule is recorded as the source.
//  2. Candidates scoring at or below cfg.Floor are dropped.
//  3. If nothing remains, the fallback documents are returned at score 0.
//  4. Otherwise documents are ordered by score desc, then rule type
//     (ERROR_PATTERN > DECISION_NODE > KEYWORD), then priority tier desc,
//     then registration order asc, then target position, then id.
func Rank(cands []Candidate, fallback []DocumentRef, cfg PrecedenceConfig) Ranking {
	merged := mergeCandidates(cands)

	kept := merged[:0]
	for _, c := range merged {
		if c.Score > cfg.Floor {
			kept = append(kept, c)
		}
	}

	if len(kept) == 0 {
		docs := make([]ScoredDocument, len(fallback))
		for i, d := range fallback {
			docs[i] = ScoredDocument{Document: d}
		}
		return Ranking{Documents: capDocuments(docs, cfg.MaxDocuments), Fallback: true}
	}

	slices.SortFunc(kept, compareCandidates)

	docs := make([]ScoredDocument, len(kept))
	for i, c := range kept {
		docs[i] = ScoredDocument{
			Document:           c.Document,
			Score:              c.Score,
			SourceRule:         c.SourceRule,
			NeedsClarification: c.NeedsClarification,
		}
	}

	top := kept[0]
	ambiguous := len(kept) > 1 &&
		kept[0].SourceRule != kept[1].SourceRule &&
		kept[0].Score-kept[1].Score <= cfg.AmbiguityEpsilon

	return Ranking{
		Documents: capDocuments(docs, cfg.MaxDocuments),
		Top:       &top,
		Ambiguous: ambiguous,
	}
}

// mergeCandidates collapses candidates per document, preserving first-seen
// order so the result does not depend on map iteration.
func mergeCandidates(cands []Candidate) []Candidate {
	index := make(map[DocumentRef]int, len(cands))
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		i, ok := index[c.Document]
		if !ok {
			index[c.Document] = len(out)
			out = append(out, c)
			continue
		}
		cur := &out[i]
		score := max(cur.Score, c.Score)
		clarify, question := cur.NeedsClarification, cur.Question
		if c.Score > cur.Score {
			clarify, question = c.NeedsClarification, c.Question
		}
		if outranks(c, *cur) {
			*cur = c
		}
		cur.Score = score
		cur.NeedsClarification = clarify
		cur.Question = question
	}
	return out
}

// outranks reports whether a's source rule has higher precedence than b's.
func outranks(a, b Candidate) bool {
	if a.RuleType.rank() != b.RuleType.rank() {
		return a.RuleType.rank() > b.RuleType.rank()
	}
	if a.PriorityTier != b.PriorityTier {
		return a.PriorityTier > b.PriorityTier
	}
	return a.RegistrationOrder < b.RegistrationOrder
}

// compareCandidates is a total order over distinct documents.
func compareCandidates(a, b Candidate) int {
	if a.Score != b.Score {
		return cmp.Compare(b.Score, a.Score)
	}
	if c := cmp.Compare(b.RuleType.rank(), a.RuleType.rank()); c != 0 {
		return c
	}
	if c := cmp.Compare(b.PriorityTier, a.PriorityTier); c != 0 {
		return c
	}
	if c := cmp.Compare(a.RegistrationOrder, b.RegistrationOrder); c != 0 {
		return c
	}
	if c := cmp.Compare(a.targetIndex, b.targetIndex); c != 0 {
		return c
	}
	if c := strings.Compare(a.Document.ID, b.Document.ID); c != 0 {
		return c
	}
	return strings.Compare(a.Document.Category, b.Document.Category)
}

func capDocuments(docs []ScoredDocument, n int) []ScoredDocument {
	if n > 0 && len(docs) > n {
		return docs[:n]
	}
	return docs
}
