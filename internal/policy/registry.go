package policy

import (
	"sort"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// Registry holds all target policies.
// This is the in-memory policy store; configuration feeds it at startup.
type Registry struct {
	policies map[domain.Target]AppPolicy
}

// NewRegistry creates a registry with all default policies.
func NewRegistry() *Registry {
	return NewRegistryWithPolicies(DefaultPolicies()...)
}

// NewRegistryWithPolicies creates a registry with custom policies (for testing and config).
func NewRegistryWithPolicies(policies ...AppPolicy) *Registry {
	r := &Registry{
		policies: make(map[domain.Target]AppPolicy),
	}
	for _, p := range policies {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a policy.
func (r *Registry) Register(p AppPolicy) {
	r.policies[p.ID()] = p
}

// Get returns a policy by target.
func (r *Registry) Get(id domain.Target) (AppPolicy, bool) {
	p, ok := r.policies[id]
	return p, ok
}

// GetAll returns all registered policies sorted by target.
func (r *Registry) GetAll() []AppPolicy {
	result := make([]AppPolicy, 0, len(r.policies))
	for _, p := range r.policies {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// List returns all targets sorted.
func (r *Registry) List() []domain.Target {
	ids := make([]domain.Target, 0, len(r.policies))
	for id := range r.policies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsMonitored reports whether the target has an enabled policy.
func (r *Registry) IsMonitored(id domain.Target) bool {
	p, ok := r.policies[id]
	return ok && p.Enabled()
}

// QuickTaskAllowed reports whether the target's policy allows quick tasks.
func (r *Registry) QuickTaskAllowed(id domain.Target) bool {
	p, ok := r.policies[id]
	return ok && p.QuickTaskAllowed()
}
