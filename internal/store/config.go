package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/triage-ai/reftriage/internal/engine"
)

// DecodeSettings returns the project's settings object. Numbers keep their
// literal form so "6" and "6.0" stay distinct SETTING values.
func (p *Project) DecodeSettings() (map[string]any, error) {
	if isEmptyJSON(p.Settings) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(p.Settings))
	dec.UseNumber()
	var settings map[string]any
	if err := dec.Decode(&settings); err != nil {
		return nil, fmt.Errorf("DecodeSettings: %w", err)
	}
	return settings, nil
}

// DecodePolicy returns the project's resolve policy, or nil when the
// project uses the server defaults.
func (p *Project) DecodePolicy() (*engine.ResolvePolicy, error) {
	if isEmptyJSON(p.ResolvePolicy) {
		return nil, nil
	}
	var policy engine.ResolvePolicy
	dec := json.NewDecoder(bytes.NewReader(p.ResolvePolicy))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&policy); err != nil {
		return nil, fmt.Errorf("DecodePolicy: %w", err)
	}
	return &policy, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	s := string(bytes.TrimSpace(raw))
	return s == "" || s == "{}" || s == "null"
}
