package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseSettings(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    map[string]any
		wantErr bool
	}{
		{"none", nil, nil, false},
		{"string", []string{"platform=ios"}, map[string]any{"platform": "ios"}, false},
		{"number keeps literal", []string{"swift-version=6.0"}, map[string]any{"swift-version": json.Number("6.0")}, false},
		{"bool", []string{"ui-context=true"}, map[string]any{"ui-context": true}, false},
		{"not a number", []string{"v=0x10"}, map[string]any{"v": "0x10"}, false},
		{"value with equals", []string{"expr=a=b"}, map[string]any{"expr": "a=b"}, false},
		{"empty value", []string{"k="}, map[string]any{"k": ""}, false},
		{"missing equals", []string{"swift-version"}, nil, true},
		{"empty key", []string{"=6"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSettings(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("settings mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidate_DefaultRules(t *testing.T) {
	out, err := run(t, "validate")
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.HasPrefix(out, "ok: version ") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestValidate_ReportsProblems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("version: \"1\"\nrules: not-a-list\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "validate", "--rules", path)
	if err == nil {
		t.Fatalf("expected failure, got output:\n%s", out)
	}
	if !strings.Contains(out, "problem:") {
		t.Errorf("expected problems in output:\n%s", out)
	}
}

func TestResolve_JSON(t *testing.T) {
	out, err := run(t, "resolve", "--json", "Sending value of non-Sendable type 'Foo' risks causing data races")
	if err != nil {
		t.Fatal(err)
	}
	var res jsonResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if res.ContractStatus != "ok" || len(res.Documents) == 0 || res.Documents[0].ID != "type-safety-crossing" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestResolve_SettingLiftsBlock(t *testing.T) {
	const query = "how do I migrate to strict concurrency checking"

	out, err := run(t, "resolve", query)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "status:     blocked") || !strings.Contains(out, "question:") {
		t.Errorf("expected blocked result:\n%s", out)
	}

	out, err = run(t, "resolve", "-s", "swift-version=6", query)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "status:     ok") {
		t.Errorf("expected ok result:\n%s", out)
	}
}

func TestResolve_InvalidSetting(t *testing.T) {
	if _, err := run(t, "resolve", "-s", "nope", "query"); err == nil {
		t.Error("expected error for malformed setting")
	}
}

func TestExplain(t *testing.T) {
	out, err := run(t, "explain", "Sending value of non-Sendable type 'Foo' risks causing data races")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"signals (", "candidates (", "ranking (", "type-safety-crossing", "contract ("} {
		if !strings.Contains(out, want) {
			t.Errorf("explain output missing %q:\n%s", want, out)
		}
	}
}

func TestResolve_RemoteRequiresAPIKey(t *testing.T) {
	_, err := run(t, "resolve", "--server", "127.0.0.1:1", "--api-key", "", "actors")
	if err == nil || !strings.Contains(err.Error(), "api-key") {
		t.Errorf("expected missing api key error, got %v", err)
	}
}
