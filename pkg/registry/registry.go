// Package registry maps wizard types to their step definition tables.
// Registration happens at startup; afterwards the registry is read-only and
// freely shared across sessions.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/docwell/stepflow/pkg/wizard"
)

type Registry struct {
	logger      *slog.Logger
	definitions map[string]*wizard.Definition
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:      log,
		definitions: make(map[string]*wizard.Definition),
	}
}

func (r *Registry) Register(def *wizard.Definition) error {
	if _, exists := r.definitions[def.Type()]; exists {
		return fmt.Errorf("wizard type %q already registered", def.Type())
	}

	r.definitions[def.Type()] = def
	r.logger.Info("Registered wizard", "type", def.Type(), "steps", def.TotalSteps())

	return nil
}

func (r *Registry) Definition(wizardType string) (*wizard.Definition, error) {
	def, ok := r.definitions[wizardType]
	if !ok {
		return nil, fmt.Errorf("wizard type %q not registered", wizardType)
	}

	return def, nil
}

// Types returns the registered wizard types in stable order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.definitions))
	for wizardType := range r.definitions {
		types = append(types, wizardType)
	}

	sort.Strings(types)

	return types
}

func (r *Registry) HealthCheck() (string, bool) {
	if len(r.definitions) == 0 {
		return "no wizards registered", false
	}

	return fmt.Sprintf("%d wizards registered", len(r.definitions)), true
}
