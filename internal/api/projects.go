package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/triage-ai/reftriage/internal/engine"
	"github.com/triage-ai/reftriage/internal/service"
	"github.com/triage-ai/reftriage/internal/store"
)

func (d *Dependencies) requireProjects(w http.ResponseWriter) bool {
	if d.Projects == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return false
	}
	return true
}

func (d *Dependencies) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	if !d.requireProjects(w) {
		return
	}
	var req CreateProjectReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Name == "" || len(req.Name) > 255 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name must be 1-255 characters"})
		return
	}
	if err := validateProjectConfig(req.Settings, req.ResolvePolicy); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	project, plainKey, err := d.Projects.CreateProject(r.Context(), store.CreateProjectParams{
		Name:          req.Name,
		Settings:      req.Settings,
		ResolvePolicy: req.ResolvePolicy,
	})
	if err != nil {
		d.Logger.Error("failed to create project", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create project"})
		return
	}

	writeJSON(w, http.StatusCreated, CreateProjectResp{
		ProjectResp: projectToResp(project),
		APIKey:      plainKey,
	})
}

func (d *Dependencies) handleListProjects(w http.ResponseWriter, r *http.Request) {
	if !d.requireProjects(w) {
		return
	}
	projects, err := d.Projects.ListProjects(r.Context())
	if err != nil {
		d.Logger.Error("failed to list projects", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list projects"})
		return
	}

	resp := make([]ProjectResp, 0, len(projects))
	for _, p := range projects {
		resp = append(resp, projectToResp(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetProject(w http.ResponseWriter, r *http.Request) {
	if !d.requireProjects(w) {
		return
	}
	project, err := d.Projects.GetProject(r.Context(), r.PathValue("project_id"))
	if d.projectError(w, err, "get project") {
		return
	}
	writeJSON(w, http.StatusOK, projectToResp(project))
}

func (d *Dependencies) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	if !d.requireProjects(w) {
		return
	}
	var req UpdateProjectReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Name != nil && (len(*req.Name) == 0 || len(*req.Name) > 255) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name must be 1-255 characters"})
		return
	}
	var settings, policy json.RawMessage
	if req.Settings != nil {
		settings = *req.Settings
	}
	if req.ResolvePolicy != nil {
		policy = *req.ResolvePolicy
	}
	if err := validateProjectConfig(settings, policy); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	project, err := d.Projects.UpdateProject(r.Context(), r.PathValue("project_id"), store.UpdateProjectParams{
		Name:          req.Name,
		Settings:      req.Settings,
		ResolvePolicy: req.ResolvePolicy,
	})
	if d.projectError(w, err, "update project") {
		return
	}
	writeJSON(w, http.StatusOK, projectToResp(project))
}

func (d *Dependencies) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if !d.requireProjects(w) {
		return
	}
	err := d.Projects.DeleteProject(r.Context(), r.PathValue("project_id"))
	if d.projectError(w, err, "delete project") {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	if !d.requireProjects(w) {
		return
	}
	project, plainKey, err := d.Projects.RotateAPIKey(r.Context(), r.PathValue("project_id"))
	if d.projectError(w, err, "rotate key") {
		return
	}
	writeJSON(w, http.StatusOK, RotateKeyResp{
		APIKey:       plainKey,
		APIKeyPrefix: project.APIKeyPrefix,
	})
}

// projectError writes the response for a store error and reports whether
// one was written.
func (d *Dependencies) projectError(w http.ResponseWriter, err error, op string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Project not found."})
	default:
		d.Logger.Error("failed to "+op, zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to " + op})
	}
	return true
}

// validateProjectConfig checks the settings object against the settings
// schema and the resolve policy for unknown fields and out-of-range values.
func validateProjectConfig(settings, policy json.RawMessage) error {
	if err := service.ValidateSettingsJSON(settings); err != nil {
		return err
	}
	if len(bytes.TrimSpace(policy)) == 0 || string(bytes.TrimSpace(policy)) == "null" {
		return nil
	}
	var p engine.ResolvePolicy
	dec := json.NewDecoder(bytes.NewReader(policy))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return fmt.Errorf("invalid resolve_policy: %v", err)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid resolve_policy: %v", err)
	}
	return nil
}

func projectToResp(p *store.Project) ProjectResp {
	return ProjectResp{
		ID:            p.ID,
		Name:          p.Name,
		APIKeyPrefix:  p.APIKeyPrefix,
		Settings:      jsonOrEmpty(p.Settings),
		ResolvePolicy: jsonOrEmpty(p.ResolvePolicy),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func jsonOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
