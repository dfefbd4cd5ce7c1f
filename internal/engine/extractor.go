package engine

import (
	"maps"
	"slices"
	"strings"
)

// QueryContext is one incoming query. It is immutable once its signals are
// extracted and is discarded after resolution.
type QueryContext struct {
	RawText  string
	Settings map[string]any
	Signals  SignalSet

	extracted bool
}

// Extracted reports whether Signals has been populated by Extract.
func (q QueryContext) Extracted() bool {
	return q.extracted
}

// WithSettings returns a fresh, unextracted context whose settings are q's
// overlaid with extra. Callers use it to re-ask a blocked query once the
// missing fact is known.
func (q QueryContext) WithSettings(extra map[string]any) QueryContext {
	merged := make(map[string]any, len(q.Settings)+len(extra))
	for k, v := range q.Settings {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return QueryContext{RawText: q.RawText, Settings: merged}
}

// Extract normalizes raw text and settings into signals. It is a pure
// function of its inputs and never fails: malformed settings entries are
// skipped.
//
// Keyword signals come from the lowercased, stemmed, stop-word-free tokens
// and carry their IDF weight. Pattern signals come from running every
// registered pattern against the raw, case-preserved text. Settings become
// "key=value" signals of weight 1.
func (t *TriggerTable) Extract(raw string, settings map[string]any) QueryContext {
	toks := tokenize(raw)
	b := newSignalBuilder(len(toks) + len(settings))

	for _, tok := range toks {
		b.add(Signal{Kind: SignalKeyword, Value: tok, Weight: t.KeywordWeight(tok)})
	}

	for _, p := range t.patterns {
		if p.re.MatchString(raw) {
			b.add(Signal{Kind: SignalPattern, Value: p.ruleID, Weight: 1.0})
		}
	}

	// Sorted so that keys differing only in case resolve the same way every time.
	for _, key := range slices.Sorted(maps.Keys(settings)) {
		val, ok := FormatSettingValue(settings[key])
		if !ok || normalizeSettingKey(key) == "" || strings.Contains(key, "=") {
			continue
		}
		b.add(Signal{Kind: SignalSetting, Value: key + "=" + val, Weight: 1.0})
	}

	return QueryContext{
		RawText:   raw,
		Settings:  settings,
		Signals:   b.build(),
		extracted: true,
	}
}
