package engine

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
)

type signalKey struct {
	kind  SignalKind
	value string
}

// SignalSet is an immutable set of Signals with no duplicates by kind and
// value. The zero value is an empty set.
type SignalSet struct {
	list     []Signal
	index    map[signalKey]int
	settings map[string]string
}

// NewSignalSet builds a set from the given signals. When the same kind and
// value appear twice the first occurrence wins.
func NewSignalSet(signals ...Signal) SignalSet {
	b := newSignalBuilder(len(signals))
	for _, s := range signals {
		b.add(s)
	}
	return b.build()
}

// Len returns the number of signals in the set.
func (s SignalSet) Len() int {
	return len(s.list)
}

// All returns a copy of the signals ordered by kind, then value.
func (s SignalSet) All() []Signal {
	return slices.Clone(s.list)
}

// Has reports whether a signal of the given kind and value is present.
func (s SignalSet) Has(kind SignalKind, value string) bool {
	_, ok := s.index[signalKey{kind, value}]
	return ok
}

// Weight returns the weight of a present signal, or 0.
func (s SignalSet) Weight(kind SignalKind, value string) float64 {
	i, ok := s.index[signalKey{kind, value}]
	if !ok {
		return 0
	}
	return s.list[i].Weight
}

// Setting returns the value of a SETTING signal by key.
func (s SignalSet) Setting(key string) (string, bool) {
	v, ok := s.settings[normalizeSettingKey(key)]
	return v, ok
}

type signalBuilder struct {
	seen     map[signalKey]struct{}
	list     []Signal
	settings map[string]string
}

func newSignalBuilder(capacity int) *signalBuilder {
	return &signalBuilder{
		seen:     make(map[signalKey]struct{}, capacity),
		list:     make([]Signal, 0, capacity),
		settings: make(map[string]string),
	}
}

func (b *signalBuilder) add(sig Signal) {
	if sig.Kind == SignalSetting {
		key, val, _ := strings.Cut(sig.Value, "=")
		key = normalizeSettingKey(key)
		if key == "" {
			return
		}
		if _, dup := b.settings[key]; dup {
			return
		}
		b.settings[key] = val
		sig.Value = key + "=" + val
	}
	k := signalKey{sig.Kind, sig.Value}
	if _, dup := b.seen[k]; dup {
		return
	}
	b.seen[k] = struct{}{}
	b.list = append(b.list, sig)
}

func (b *signalBuilder) build() SignalSet {
	slices.SortFunc(b.list, func(x, y Signal) int {
		if x.Kind != y.Kind {
			return int(x.Kind) - int(y.Kind)
		}
		return strings.Compare(x.Value, y.Value)
	})
	index := make(map[signalKey]int, len(b.list))
	for i, s := range b.list {
		index[signalKey{s.Kind, s.Value}] = i
	}
	return SignalSet{list: b.list, index: index, settings: b.settings}
}

// FormatSettingValue stringifies a scalar settings value. Nested objects, arrays
// and nil are rejected.
func FormatSettingValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case uint32:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case json.Number:
		return x.String(), true
	default:
		return "", false
	}
}

// truthy is how a setting value answers a yes/no predicate.
func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
