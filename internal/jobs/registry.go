package jobs

import (
	"fmt"
	"sort"
	"sync"
)

// DefinitionRegistry holds every registered job type. Registration happens
// at startup; lookups happen from every scheduler, so reads take the shared
// lock only.
type DefinitionRegistry struct {
	mu   sync.RWMutex
	defs map[string]*JobDefinition
}

func NewDefinitionRegistry() *DefinitionRegistry {
	return &DefinitionRegistry{defs: make(map[string]*JobDefinition)}
}

func (r *DefinitionRegistry) Register(def *JobDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("job definition requires a name")
	}
	if def.Handler == nil {
		return fmt.Errorf("job definition %s requires a handler", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("job definition %s already registered", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

func (r *DefinitionRegistry) Get(name string) (*JobDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	return def, ok
}

// List returns every definition sorted by name.
func (r *DefinitionRegistry) List() []*JobDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*JobDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ExcludedFromStats returns the names of job types flagged out of the
// aggregate stats computation.
func (r *DefinitionRegistry) ExcludedFromStats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, def := range r.defs {
		if def.ExcludeFromStats {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
