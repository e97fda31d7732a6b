// Package registry tracks which record types are audited and which of their
// fields are diffed, masked, or treated as multi-relations.
package registry

import (
	"sync"
)

// TypeConfig describes how one record type is audited.
type TypeConfig struct {
	// Fields are the tracked scalar and single-valued relation fields.
	Fields []string `yaml:"fields"`
	// Sensitive fields are masked before staging. They are tracked even when
	// absent from Fields.
	Sensitive []string `yaml:"sensitive"`
	// M2M lists multi-relation fields diffed through the relation buffer.
	M2M []string `yaml:"m2m"`
	// Labels overrides the human-readable label per field. Missing entries
	// fall back to the field name.
	Labels map[string]string `yaml:"labels"`
}

// TrackedFields returns Fields then Sensitive, deduped, preserving order.
// Sensitive-only fields are still diffed.
func (c TypeConfig) TrackedFields() []string {
	seen := make(map[string]struct{}, len(c.Fields)+len(c.Sensitive))
	ordered := make([]string, 0, len(c.Fields)+len(c.Sensitive))
	for _, f := range append(append([]string{}, c.Fields...), c.Sensitive...) {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		ordered = append(ordered, f)
	}
	return ordered
}

// IsSensitive reports whether the field must be masked.
func (c TypeConfig) IsSensitive(field string) bool {
	for _, f := range c.Sensitive {
		if f == field {
			return true
		}
	}
	return false
}

// IsM2M reports whether the field is a tracked multi-relation.
func (c TypeConfig) IsM2M(field string) bool {
	for _, f := range c.M2M {
		if f == field {
			return true
		}
	}
	return false
}

// Label returns the display label for a field.
func (c TypeConfig) Label(field string) string {
	if l, ok := c.Labels[field]; ok && l != "" {
		return l
	}
	return field
}

// Registry maps type labels to their audit configuration. Safe for concurrent
// use; registration normally happens once at startup.
type Registry struct {
	mu    sync.RWMutex
	types map[string]TypeConfig
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{types: make(map[string]TypeConfig)}
}

// Register adds or replaces the configuration for a type label.
func (r *Registry) Register(typeLabel string, cfg TypeConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[typeLabel] = cfg
}

// Get returns the configuration for a type label, and whether it is tracked.
func (r *Registry) Get(typeLabel string) (TypeConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.types[typeLabel]
	return cfg, ok
}

// Tracked reports whether the type label is registered for auditing.
func (r *Registry) Tracked(typeLabel string) bool {
	_, ok := r.Get(typeLabel)
	return ok
}

// All returns a copy of every registration keyed by type label.
func (r *Registry) All() map[string]TypeConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]TypeConfig, len(r.types))
	for k, v := range r.types {
		out[k] = v
	}
	return out
}

// Clear removes every registration. Intended for tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = make(map[string]TypeConfig)
}
