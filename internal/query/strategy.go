package query

import (
	"context"
	"errors"
	"fmt"

	"opspulse.app/reporter/internal/model"
)

// ErrNoStrategy is returned when a workspace type has no registered strategy.
var ErrNoStrategy = errors.New("no query strategy registered")

// Strategy executes the workspace-appropriate query for one workspace type
// and normalizes the backend response into a model.QueryResult.
//
// Adding a new workspace type means adding a new Strategy implementation and
// registering it in NewRegistry.
type Strategy interface {
	Execute(ctx context.Context, spec model.QuerySpec) (model.QueryResult, error)
}

// Registry maps each workspace type to its strategy. Validated at
// construction so an unregistered type fails at startup, not on first use.
type Registry struct {
	strategies map[model.WorkspaceType]Strategy
}

// NewRegistry builds the full strategy set over the given logs client.
// The template type selects the stg or prod KQL variants.
func NewRegistry(client LogsClient, templateType model.TemplateType) (*Registry, error) {
	r := &Registry{
		strategies: map[model.WorkspaceType]Strategy{
			model.WorkspaceTypeALM:   &almStrategy{client: client, templateType: templateType},
			model.WorkspaceTypeBrain: &brainStrategy{client: client, templateType: templateType},
			model.WorkspaceTypeDoc:   &docStrategy{client: client, templateType: templateType},
			model.WorkspaceTypeMABot: &maBotStrategy{client: client, templateType: templateType},
			model.WorkspaceTypeMAWeb: &maWebStrategy{client: client, templateType: templateType},
			model.WorkspaceTypeCA:    &caStrategy{client: client, templateType: templateType},
		},
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewRegistryWith builds a registry from an explicit strategy map. Used by
// tests and by callers that need to swap single strategies.
func NewRegistryWith(strategies map[model.WorkspaceType]Strategy) (*Registry, error) {
	r := &Registry{strategies: strategies}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) validate() error {
	for _, t := range model.AllWorkspaceTypes() {
		if _, ok := r.strategies[t]; !ok {
			return fmt.Errorf("%w for workspace type %s", ErrNoStrategy, t)
		}
	}
	return nil
}

// Get returns the strategy for the given workspace type.
func (r *Registry) Get(t model.WorkspaceType) (Strategy, error) {
	s, ok := r.strategies[t]
	if !ok {
		return nil, fmt.Errorf("%w for workspace type %s", ErrNoStrategy, t)
	}
	return s, nil
}
