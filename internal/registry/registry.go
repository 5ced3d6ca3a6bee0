package registry

import (
	"errors"
	"fmt"

	"opspulse.app/reporter/core/config"
	"opspulse.app/reporter/internal/model"
)

// ErrUnknownWorkspace is returned when a workspace id or type has no entry.
var ErrUnknownWorkspace = errors.New("unknown workspace")

// WorkspaceRegistry is the static mapping from workspace identifier to
// workspace metadata. Built once at startup; read-only afterwards, so it is
// safe for concurrent use.
type WorkspaceRegistry struct {
	byID   map[string]model.Workspace
	byType map[model.WorkspaceType]model.Workspace
	order  []string
}

// FromConfig builds the registry from the configured workspace identifiers.
// Unset identifiers are skipped; duplicate identifiers are an error.
func FromConfig(cfg config.WorkspacesConfig) (*WorkspaceRegistry, error) {
	entries := []struct {
		id   string
		typ  model.WorkspaceType
		name string
	}{
		{cfg.ALM, model.WorkspaceTypeALM, "ALM Chat"},
		{cfg.Brain, model.WorkspaceTypeBrain, "Brain Chat"},
		{cfg.Doc, model.WorkspaceTypeDoc, "Document Search"},
		{cfg.MABot, model.WorkspaceTypeMABot, "Market Analysis Bot"},
		{cfg.MAWeb, model.WorkspaceTypeMAWeb, "Market Analysis Web"},
		{cfg.CA, model.WorkspaceTypeCA, "Company Analysis"},
	}

	r := &WorkspaceRegistry{
		byID:   make(map[string]model.Workspace),
		byType: make(map[model.WorkspaceType]model.Workspace),
	}

	for _, e := range entries {
		if e.id == "" {
			continue
		}
		if _, exists := r.byID[e.id]; exists {
			return nil, fmt.Errorf("duplicate workspace id %q", e.id)
		}
		ws := model.Workspace{ID: e.id, Type: e.typ, Name: e.name}
		r.byID[e.id] = ws
		r.byType[e.typ] = ws
		r.order = append(r.order, e.id)
	}

	if len(r.byID) == 0 {
		return nil, fmt.Errorf("no workspaces configured")
	}

	return r, nil
}

// Lookup returns the workspace for the given identifier.
func (r *WorkspaceRegistry) Lookup(id string) (model.Workspace, error) {
	ws, ok := r.byID[id]
	if !ok {
		return model.Workspace{}, fmt.Errorf("%w: %s", ErrUnknownWorkspace, id)
	}
	return ws, nil
}

// LookupByType returns the workspace configured for the given type.
func (r *WorkspaceRegistry) LookupByType(t model.WorkspaceType) (model.Workspace, error) {
	ws, ok := r.byType[t]
	if !ok {
		return model.Workspace{}, fmt.Errorf("%w: type %s", ErrUnknownWorkspace, t)
	}
	return ws, nil
}

// All returns every configured workspace in registration order.
func (r *WorkspaceRegistry) All() []model.Workspace {
	out := make([]model.Workspace, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
