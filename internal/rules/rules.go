// Package rules reads versioned rule files and turns them into trigger
// tables. A rule file is YAML, checked structurally against an embedded JSON
// Schema before its rules are compiled.
package rules

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/triage-ai/reftriage/internal/engine"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

//go:embed schema.json
var schemaJSON []byte

// File is the on-disk shape of a rule file.
type File struct {
	Version   string     `yaml:"version"`
	Fallback  []Target   `yaml:"fallback"`
	Rules     []Rule     `yaml:"rules"`
	Contracts []Contract `yaml:"contracts"`
}

// Rule is one trigger rule. Its position in File.Rules is its registration
// order.
type Rule struct {
	ID           string     `yaml:"id"`
	Type         string     `yaml:"type"`
	Category     string     `yaml:"category"`
	Description  string     `yaml:"description"`
	PriorityTier int        `yaml:"priority_tier"`
	Matchers     []Matcher  `yaml:"matchers"`
	Targets      []Target   `yaml:"targets"`
	Root         bool       `yaml:"root"`
	Question     string     `yaml:"question"`
	Predicate    *Predicate `yaml:"predicate"`
	Children     []string   `yaml:"children"`
}

// Matcher is a keyword set or a single regular expression.
type Matcher struct {
	Keywords []string `yaml:"keywords"`
	Pattern  string   `yaml:"pattern"`
}

// Predicate is a decision node's question.
type Predicate struct {
	Setting      string   `yaml:"setting"`
	Equals       any      `yaml:"equals"`
	AnyKeywords  []string `yaml:"any_keywords"`
	NoneKeywords []string `yaml:"none_keywords"`
}

// Target names a document; an empty category inherits the rule's.
type Target struct {
	ID       string `yaml:"id"`
	Category string `yaml:"category"`
}

// Contract gates a category behind required signals.
type Contract struct {
	Category string        `yaml:"category"`
	Requires []Requirement `yaml:"requires"`
	Message  string        `yaml:"message"`
}

// Requirement is one signal a contract needs.
type Requirement struct {
	Kind  string `yaml:"kind"`
	Value string `yaml:"value"`
}

var fileSchema = mustCompileSchema("rules.schema.json", schemaJSON)

func mustCompileSchema(name string, raw []byte) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("rules: parse %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("rules: add %s: %v", name, err))
	}
	sch, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("rules: compile %s: %v", name, err))
	}
	return sch
}

// Parse decodes and schema-checks a rule file and converts it to a table
// definition. Failures are *engine.LoadError values.
func Parse(data []byte) (engine.TableDefinition, error) {
	if err := validateSchema(data); err != nil {
		return engine.TableDefinition{}, err
	}

	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return engine.TableDefinition{}, problem("", "yaml", err.Error())
	}
	return f.Definition()
}

// validateSchema round-trips the YAML document through JSON so the schema
// sees the same value types a JSON rule file would produce.
func validateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return problem("", "yaml", err.Error())
	}
	if doc == nil {
		return problem("", "yaml", "empty rule file")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return problem("", "yaml", fmt.Sprintf("not representable as JSON: %v", err))
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return problem("", "yaml", err.Error())
	}
	if err := fileSchema.Validate(inst); err != nil {
		return problem("", "schema", err.Error())
	}
	return nil
}

// Definition converts the file into the engine's input, reporting every
// unknown type or kind at once.
func (f File) Definition() (engine.TableDefinition, error) {
	var problems []engine.Problem
	def := engine.TableDefinition{
		Version:  f.Version,
		Fallback: convertTargets(f.Fallback),
		Rules:    make([]engine.RuleDefinition, 0, len(f.Rules)),
	}

	for _, r := range f.Rules {
		typ, ok := engine.ParseRuleType(r.Type)
		if !ok {
			problems = append(problems, engine.Problem{RuleID: r.ID, Field: "type", Message: fmt.Sprintf("unknown rule type %q", r.Type)})
		}
		rd := engine.RuleDefinition{
			ID:           r.ID,
			Type:         typ,
			Category:     r.Category,
			Targets:      convertTargets(r.Targets),
			PriorityTier: r.PriorityTier,
			Root:         r.Root,
			Question:     r.Question,
			Children:     r.Children,
		}
		for _, m := range r.Matchers {
			rd.Matchers = append(rd.Matchers, engine.MatcherSpec{Keywords: m.Keywords, Pattern: m.Pattern})
		}
		if r.Predicate != nil {
			ps := &engine.PredicateSpec{
				Setting:      r.Predicate.Setting,
				AnyKeywords:  r.Predicate.AnyKeywords,
				NoneKeywords: r.Predicate.NoneKeywords,
			}
			if r.Predicate.Equals != nil {
				eq, ok := engine.FormatSettingValue(r.Predicate.Equals)
				if !ok {
					problems = append(problems, engine.Problem{RuleID: r.ID, Field: "predicate.equals", Message: "must be a scalar"})
				}
				ps.Equals = eq
			}
			rd.Predicate = ps
		}
		def.Rules = append(def.Rules, rd)
	}

	for i, c := range f.Contracts {
		cd := engine.ContractDefinition{Category: c.Category, Message: c.Message}
		for _, req := range c.Requires {
			kind, ok := engine.ParseSignalKind(req.Kind)
			if !ok {
				problems = append(problems, engine.Problem{Field: fmt.Sprintf("contracts[%d]", i), Message: fmt.Sprintf("unknown signal kind %q", req.Kind)})
				continue
			}
			cd.Requires = append(cd.Requires, engine.SignalRequirement{Kind: kind, Value: req.Value})
		}
		def.Contracts = append(def.Contracts, cd)
	}

	if len(problems) > 0 {
		return engine.TableDefinition{}, &engine.LoadError{Problems: problems}
	}
	return def, nil
}

func convertTargets(ts []Target) []engine.TargetDefinition {
	out := make([]engine.TargetDefinition, len(ts))
	for i, t := range ts {
		out[i] = engine.TargetDefinition{ID: t.ID, Category: t.Category}
	}
	return out
}

func problem(ruleID, field, msg string) error {
	return &engine.LoadError{Problems: []engine.Problem{{
		RuleID:  ruleID,
		Field:   field,
		Message: strings.TrimSpace(msg),
	}}}
}

// Load parses a rule file and compiles it into a trigger table.
func Load(data []byte) (*engine.TriggerTable, error) {
	def, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return engine.LoadTriggerTable(def)
}

// LoadFile reads and loads a rule file from disk. An empty path loads the
// embedded default rule set.
func LoadFile(path string) (*engine.TriggerTable, error) {
	data, err := Read(path)
	if err != nil {
		return nil, err
	}
	return Load(data)
}

// Read returns the raw bytes of a rule file, or of the embedded default
// rule set when path is empty.
func Read(path string) ([]byte, error) {
	if path == "" {
		return DefaultYAML(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules.Read: %w", err)
	}
	return data, nil
}

// Default loads the embedded default rule set.
func Default() (*engine.TriggerTable, error) {
	return Load(defaultRulesYAML)
}

// DefaultYAML returns a copy of the embedded default rule file.
func DefaultYAML() []byte {
	return bytes.Clone(defaultRulesYAML)
}
