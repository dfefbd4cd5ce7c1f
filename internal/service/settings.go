package service

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalidSettings is returned when a settings object fails the settings
// schema.
var ErrInvalidSettings = errors.New("invalid settings")

//go:embed settings.schema.json
var settingsSchemaJSON []byte

var settingsSchema = func() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(settingsSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("service: parse settings schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("settings.schema.json", doc); err != nil {
		panic(fmt.Sprintf("service: add settings schema: %v", err))
	}
	sch, err := c.Compile("settings.schema.json")
	if err != nil {
		panic(fmt.Sprintf("service: compile settings schema: %v", err))
	}
	return sch
}()

// ValidateSettingsJSON checks a raw settings object. Empty input and JSON
// null are valid.
func ValidateSettingsJSON(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if inst == nil {
		return nil
	}
	if err := settingsSchema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// ValidateSettings checks a decoded settings map.
func ValidateSettings(settings map[string]any) error {
	if len(settings) == 0 {
		return nil
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return ValidateSettingsJSON(raw)
}

// MergeSettings layers request settings over project defaults. Request keys
// win; a request value of nil removes the project default.
func MergeSettings(project, request map[string]any) map[string]any {
	if len(project) == 0 && len(request) == 0 {
		return nil
	}
	out := make(map[string]any, len(project)+len(request))
	maps.Copy(out, project)
	for k, v := range request {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
