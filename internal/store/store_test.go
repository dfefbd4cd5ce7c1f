package store

import (
	"encoding/json"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestGenerateAPIKey(t *testing.T) {
	key, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(key, APIKeyPrefix) || len(key) != len(APIKeyPrefix)+64 {
		t.Errorf("unexpected key shape: %q", key)
	}
	if prefix != key[:KeyPrefixLen] {
		t.Errorf("prefix %q is not the key's first %d chars", prefix, KeyPrefixLen)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}

	other, _, _, err := GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	if other == key {
		t.Error("keys should be random")
	}
}

func TestProject_DecodeSettings(t *testing.T) {
	p := &Project{Settings: json.RawMessage(`{"ui-context": true, "swift-version": 6.0}`)}
	settings, err := p.DecodeSettings()
	if err != nil {
		t.Fatal(err)
	}
	if settings["ui-context"] != true {
		t.Errorf("ui-context = %v", settings["ui-context"])
	}
	if n, ok := settings["swift-version"].(json.Number); !ok || n.String() != "6.0" {
		t.Errorf("swift-version = %#v", settings["swift-version"])
	}

	for _, raw := range []string{"", "{}", "null", "  {} "} {
		p := &Project{Settings: json.RawMessage(raw)}
		if s, err := p.DecodeSettings(); err != nil || s != nil {
			t.Errorf("DecodeSettings(%q) = %v, %v", raw, s, err)
		}
	}
}

func TestProject_DecodePolicy(t *testing.T) {
	p := &Project{ResolvePolicy: json.RawMessage(`{"score_floor": 0.2, "disabled_rules": ["noisy"]}`)}
	policy, err := p.DecodePolicy()
	if err != nil {
		t.Fatal(err)
	}
	if policy.ScoreFloor == nil || *policy.ScoreFloor != 0.2 {
		t.Errorf("score_floor = %v", policy.ScoreFloor)
	}
	if policy.IsRuleEnabled("noisy") {
		t.Error("noisy should be disabled")
	}

	p = &Project{ResolvePolicy: json.RawMessage(`{"block_threshold": 0.8}`)}
	if _, err := p.DecodePolicy(); err == nil {
		t.Error("unknown policy fields should be rejected")
	}

	p = &Project{}
	if policy, err := p.DecodePolicy(); err != nil || policy != nil {
		t.Errorf("empty policy = %v, %v", policy, err)
	}
}

func TestObjectOrEmpty(t *testing.T) {
	if got := string(objectOrEmpty(nil)); got != "{}" {
		t.Errorf("nil -> %q", got)
	}
	if got := string(objectOrEmpty(json.RawMessage("null"))); got != "{}" {
		t.Errorf("null -> %q", got)
	}
	if got := string(objectOrEmpty(json.RawMessage(`{"a":1}`))); got != `{"a":1}` {
		t.Errorf("object -> %q", got)
	}
}
