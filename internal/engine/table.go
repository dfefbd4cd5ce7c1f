package engine

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
)

// Contract gates a category behind required signals.
type Contract struct {
	AppliesToCategory string
	Requires          []SignalRequirement
	ViolationMessage  string
}

type predicate struct {
	setting      string
	equals       string
	anyKeywords  []string
	noneKeywords []string
}

type compiledRule struct {
	id         string
	typ        RuleType
	tier       int
	order      int
	targets    []DocumentRef
	keywords   []string // keyword rules: full matcher set; decision roots: entry keywords
	hasPattern bool
	root       bool
	question   string
	pred       *predicate
	children   []int
}

type patternMatcher struct {
	ruleID string
	re     *regexp.Regexp
}

// TriggerTable is the process-wide rule registry. It is never mutated after
// LoadTriggerTable returns, so concurrent resolutions read it without locks.
type TriggerTable struct {
	version   string
	rules     []*compiledRule
	byID      map[string]int
	roots     []int
	patterns  []patternMatcher
	idf       map[string]float64
	oovWeight float64
	fallback  []DocumentRef
	contracts map[string][]Contract
}

// TableSummary describes a loaded table for operators.
type TableSummary struct {
	Version   string
	Rules     int
	ByType    map[string]int
	Roots     int
	Patterns  int
	Contracts int
	Fallback  []DocumentRef
}

// loader accumulates problems so one LoadError reports all of them.
type loader struct {
	problems []Problem
}

func (l *loader) fail(ruleID, field, format string, args ...any) {
	l.problems = append(l.problems, Problem{
		RuleID:  ruleID,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

// LoadTriggerTable validates and compiles a table definition. Any problem
// rejects the whole definition: the returned table is nil and the error is
// a *LoadError wrapping ErrInvalidRuleDefinition.
func LoadTriggerTable(def TableDefinition) (*TriggerTable, error) {
	l := &loader{}
	t := &TriggerTable{
		version:   strings.TrimSpace(def.Version),
		byID:      make(map[string]int, len(def.Rules)),
		contracts: make(map[string][]Contract),
	}

	childNames := make([][]string, len(def.Rules))
	for i, rd := range def.Rules {
		r := l.compileRule(i, rd, t)
		t.rules = append(t.rules, r)
		childNames[i] = rd.Children
		if r.id == "" {
			continue
		}
		if _, dup := t.byID[r.id]; dup {
			l.fail(r.id, "id", "duplicate rule id")
			continue
		}
		t.byID[r.id] = i
	}

	l.linkDecisionTree(t, childNames)

	t.fallback = l.compileTargets("", "fallback", "", def.Fallback)
	if len(def.Fallback) == 0 {
		l.fail("", "fallback", "at least one fallback document is required")
	}

	l.compileContracts(t, def.Contracts)

	if len(l.problems) > 0 {
		return nil, &LoadError{Problems: l.problems}
	}
	t.computeIDF()
	return t, nil
}

func (l *loader) compileRule(order int, rd RuleDefinition, t *TriggerTable) *compiledRule {
	id := strings.TrimSpace(rd.ID)
	ref := id
	if ref == "" {
		ref = fmt.Sprintf("#%d", order)
		l.fail(ref, "id", "must not be empty")
	}

	r := &compiledRule{
		id:       id,
		typ:      rd.Type,
		tier:     rd.PriorityTier,
		order:    order,
		root:     rd.Root,
		question: strings.TrimSpace(rd.Question),
	}
	r.targets = l.compileTargets(ref, "targets", strings.TrimSpace(rd.Category), rd.Targets)
	if len(rd.Targets) == 0 {
		l.fail(ref, "targets", "at least one target is required")
	}

	if rd.Type != RuleDecisionNode && (rd.Root || rd.Predicate != nil || len(rd.Children) > 0) {
		l.fail(ref, "type", "root, predicate and children are only valid on decision_node rules")
	}

	switch rd.Type {
	case RuleErrorPattern:
		if len(rd.Matchers) == 0 {
			l.fail(ref, "matchers", "at least one pattern is required")
		}
		l.compileMatchers(ref, r, rd.Matchers, t, false, true)
	case RuleKeyword:
		if len(rd.Matchers) == 0 {
			l.fail(ref, "matchers", "at least one keyword set is required")
		}
		l.compileMatchers(ref, r, rd.Matchers, t, true, false)
	case RuleDecisionNode:
		switch {
		case rd.Root && len(rd.Matchers) == 0:
			l.fail(ref, "matchers", "root nodes need at least one entry matcher")
		case !rd.Root && len(rd.Matchers) > 0:
			l.fail(ref, "matchers", "entry matchers are only valid on root nodes")
		}
		l.compileMatchers(ref, r, rd.Matchers, t, true, true)
		r.pred = l.compilePredicate(ref, rd.Predicate)
	default:
		l.fail(ref, "type", "unknown rule type %d", int(rd.Type))
	}
	return r
}

func (l *loader) compileTargets(ref, field, defaultCategory string, defs []TargetDefinition) []DocumentRef {
	out := make([]DocumentRef, 0, len(defs))
	seen := make(map[DocumentRef]struct{}, len(defs))
	for i, td := range defs {
		doc := DocumentRef{
			ID:       strings.TrimSpace(td.ID),
			Category: strings.TrimSpace(td.Category),
		}
		if doc.Category == "" {
			doc.Category = defaultCategory
		}
		if doc.ID == "" {
			l.fail(ref, fmt.Sprintf("%s[%d]", field, i), "document id must not be empty")
			continue
		}
		if doc.Category == "" {
			l.fail(ref, fmt.Sprintf("%s[%d]", field, i), "document %q has no category", doc.ID)
			continue
		}
		if _, dup := seen[doc]; dup {
			l.fail(ref, fmt.Sprintf("%s[%d]", field, i), "document %s listed twice", doc)
			continue
		}
		seen[doc] = struct{}{}
		out = append(out, doc)
	}
	return out
}

func (l *loader) compileMatchers(ref string, r *compiledRule, specs []MatcherSpec, t *TriggerTable, allowKeywords, allowPattern bool) {
	for i, m := range specs {
		field := fmt.Sprintf("matchers[%d]", i)
		hasKeywords := len(m.Keywords) > 0
		hasPattern := strings.TrimSpace(m.Pattern) != ""
		switch {
		case hasKeywords && hasPattern:
			l.fail(ref, field, "keywords and pattern are mutually exclusive")
		case !hasKeywords && !hasPattern:
			l.fail(ref, field, "empty matcher: needs a non-empty keyword set or a pattern")
		case hasPattern && !allowPattern:
			l.fail(ref, field, "%s rules do not accept patterns", r.typ)
		case hasKeywords && !allowKeywords:
			l.fail(ref, field, "%s rules do not accept keywords", r.typ)
		case hasPattern:
			re, err := regexp.Compile(m.Pattern)
			if err != nil {
				l.fail(ref, field, "pattern does not compile: %v", err)
				continue
			}
			r.hasPattern = true
			t.patterns = append(t.patterns, patternMatcher{ruleID: r.id, re: re})
		default:
			for _, kw := range m.Keywords {
				norm, ok := normalizeKeyword(kw)
				if !ok {
					l.fail(ref, field, "keyword %q must be a single non-stop-word token", kw)
					continue
				}
				if !slices.Contains(r.keywords, norm) {
					r.keywords = append(r.keywords, norm)
				}
			}
		}
	}
}

func (l *loader) compilePredicate(ref string, spec *PredicateSpec) *predicate {
	if spec == nil {
		return nil
	}
	p := &predicate{
		setting: normalizeSettingKey(spec.Setting),
		equals:  strings.TrimSpace(spec.Equals),
	}
	for _, kw := range spec.AnyKeywords {
		if norm, ok := normalizeKeyword(kw); ok {
			p.anyKeywords = append(p.anyKeywords, norm)
		} else {
			l.fail(ref, "predicate.any_keywords", "keyword %q must be a single non-stop-word token", kw)
		}
	}
	for _, kw := range spec.NoneKeywords {
		if norm, ok := normalizeKeyword(kw); ok {
			p.noneKeywords = append(p.noneKeywords, norm)
		} else {
			l.fail(ref, "predicate.none_keywords", "keyword %q must be a single non-stop-word token", kw)
		}
	}
	if p.setting == "" && len(spec.AnyKeywords) == 0 && len(spec.NoneKeywords) == 0 {
		l.fail(ref, "predicate", "must name a setting or keywords")
	}
	if p.setting == "" && p.equals != "" {
		l.fail(ref, "predicate.equals", "requires a setting")
	}
	return p
}

// linkDecisionTree resolves children, then rejects cycles and orphans.
func (l *loader) linkDecisionTree(t *TriggerTable, childNames [][]string) {
	decisionCount := 0
	for i, r := range t.rules {
		if r.typ != RuleDecisionNode {
			continue
		}
		decisionCount++
		if r.root {
			t.roots = append(t.roots, i)
		}
		seen := make(map[int]struct{}, len(childNames[i]))
		for _, name := range childNames[i] {
			name = strings.TrimSpace(name)
			idx, ok := t.byID[name]
			switch {
			case !ok:
				l.fail(r.id, "children", "unknown rule %q", name)
			case t.rules[idx].typ != RuleDecisionNode:
				l.fail(r.id, "children", "rule %q is not a decision_node", name)
			case t.rules[idx].root:
				l.fail(r.id, "children", "rule %q is a root and cannot be a child", name)
			default:
				if _, dup := seen[idx]; dup {
					l.fail(r.id, "children", "rule %q listed twice", name)
					continue
				}
				seen[idx] = struct{}{}
				r.children = append(r.children, idx)
			}
		}
	}
	if decisionCount == 0 {
		return
	}
	if len(t.roots) == 0 {
		l.fail("", "rules", "decision nodes are defined but none is a root")
		return
	}

	const (
		white = iota
		grey
		black
	)
	color := make([]int, len(t.rules))
	var visit func(i int) bool
	visit = func(i int) bool {
		color[i] = grey
		for _, c := range t.rules[i].children {
			switch color[c] {
			case grey:
				l.fail(t.rules[i].id, "children", "cycle through %q", t.rules[c].id)
				return false
			case white:
				if !visit(c) {
					return false
				}
			}
		}
		color[i] = black
		return true
	}
	for _, root := range t.roots {
		if color[root] == white && !visit(root) {
			return
		}
	}
	for i, r := range t.rules {
		if r.typ == RuleDecisionNode && !r.root && color[i] == white {
			l.fail(r.id, "root", "decision node is not reachable from any root")
		}
	}
}

func (l *loader) compileContracts(t *TriggerTable, defs []ContractDefinition) {
	categories := make(map[string]struct{})
	for _, r := range t.rules {
		for _, d := range r.targets {
			categories[d.Category] = struct{}{}
		}
	}
	for _, d := range t.fallback {
		categories[d.Category] = struct{}{}
	}

	for i, cd := range defs {
		field := fmt.Sprintf("contracts[%d]", i)
		c := Contract{
			AppliesToCategory: strings.TrimSpace(cd.Category),
			ViolationMessage:  strings.TrimSpace(cd.Message),
		}
		if c.AppliesToCategory == "" {
			l.fail("", field, "category must not be empty")
		} else if _, ok := categories[c.AppliesToCategory]; !ok {
			l.fail("", field, "category %q is not targeted by any rule", c.AppliesToCategory)
		}
		if c.ViolationMessage == "" {
			l.fail("", field, "message must not be empty")
		}
		if len(cd.Requires) == 0 {
			l.fail("", field, "at least one required signal is needed")
		}
		for _, req := range cd.Requires {
			value := strings.TrimSpace(req.Value)
			switch req.Kind {
			case SignalSetting:
				value = normalizeSettingKey(value)
			case SignalKeyword:
				norm, ok := normalizeKeyword(value)
				if !ok {
					l.fail("", field, "keyword requirement %q must be a single non-stop-word token", req.Value)
					continue
				}
				value = norm
			case SignalPattern:
				idx, ok := t.byID[value]
				if !ok || !t.rules[idx].hasPattern {
					l.fail("", field, "pattern requirement %q does not name a rule with patterns", req.Value)
					continue
				}
			default:
				l.fail("", field, "unknown signal kind %d", int(req.Kind))
				continue
			}
			if value == "" {
				l.fail("", field, "required signal value must not be empty")
				continue
			}
			c.Requires = append(c.Requires, SignalRequirement{Kind: req.Kind, Value: value})
		}
		t.contracts[c.AppliesToCategory] = append(t.contracts[c.AppliesToCategory], c)
	}
}

// computeIDF weighs every keyword by how few keyword-bearing rules use it:
// log((N+1)/(df+1)) + 1. Unknown terms get the df=0 weight.
func (t *TriggerTable) computeIDF() {
	df := make(map[string]int)
	n := 0
	for _, r := range t.rules {
		terms := make(map[string]struct{})
		for _, kw := range r.keywords {
			terms[kw] = struct{}{}
		}
		if r.pred != nil {
			for _, kw := range r.pred.anyKeywords {
				terms[kw] = struct{}{}
			}
			for _, kw := range r.pred.noneKeywords {
				terms[kw] = struct{}{}
			}
		}
		if len(terms) == 0 {
			continue
		}
		n++
		for term := range terms {
			df[term]++
		}
	}
	t.idf = make(map[string]float64, len(df))
	for term, f := range df {
		t.idf[term] = math.Log(float64(n+1)/float64(f+1)) + 1
	}
	t.oovWeight = math.Log(float64(n+1)) + 1
}

// KeywordWeight returns the inverse document frequency of a stemmed token.
func (t *TriggerTable) KeywordWeight(token string) float64 {
	if w, ok := t.idf[token]; ok {
		return w
	}
	return t.oovWeight
}

// Version returns the rule-set version the table was loaded from.
func (t *TriggerTable) Version() string {
	return t.version
}

// Fallback returns the root category's documents.
func (t *TriggerTable) Fallback() []DocumentRef {
	return slices.Clone(t.fallback)
}

// ContractsFor returns the contracts attached to a category.
func (t *TriggerTable) ContractsFor(category string) []Contract {
	return slices.Clone(t.contracts[category])
}

// Summary reports rule counts for operators.
func (t *TriggerTable) Summary() TableSummary {
	s := TableSummary{
		Version:  t.version,
		Rules:    len(t.rules),
		ByType:   make(map[string]int),
		Roots:    len(t.roots),
		Patterns: len(t.patterns),
		Fallback: t.Fallback(),
	}
	for _, r := range t.rules {
		s.ByType[r.typ.String()]++
	}
	for _, cs := range t.contracts {
		s.Contracts += len(cs)
	}
	return s
}
