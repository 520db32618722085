// Package profile holds the profile-type registry and the driver contract
// node actions call into. Grove does not ship infrastructure drivers; a
// type pairs a spec schema with a constructor for an externally provided
// Driver. The fake type in this package exists for development and tests.
package profile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/grovehq/grove/pkg/schema"
	"github.com/grovehq/grove/pkg/types"
)

// Driver performs node lifecycle operations against a concrete backend.
// Placement hints computed by policies arrive in node.Data["placement"].
type Driver interface {
	// Create provisions the physical resource and returns its id.
	Create(ctx context.Context, node *types.Node) (string, error)
	// Delete tears the physical resource down. Deleting a node without a
	// physical id is a no-op.
	Delete(ctx context.Context, node *types.Node) error
	// Update applies the updatable keys of a new spec to the resource.
	Update(ctx context.Context, node *types.Node, newSpec *schema.Spec) error
	// Check reports whether the physical resource is healthy.
	Check(ctx context.Context, node *types.Node) (bool, error)
	// Recover replaces or rebuilds the resource, returning the physical
	// id of the result.
	Recover(ctx context.Context, node *types.Node, params map[string]interface{}) (string, error)
	// Join and Leave adjust backend membership state when a standalone
	// node enters or exits a cluster.
	Join(ctx context.Context, node *types.Node, clusterID string) error
	Leave(ctx context.Context, node *types.Node) error
	// Details returns backend-specific attributes for display.
	Details(ctx context.Context, node *types.Node) (map[string]interface{}, error)
}

// Type describes one registered profile type: its versioned name, the
// schema profile specs must satisfy, and the driver constructor.
type Type struct {
	Name      string
	Version   string
	Schema    map[string]*schema.Schema
	NewDriver func(spec *schema.Spec) (Driver, error)
}

// Registry maps type names to registered profile types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Type
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Type)}
}

// Register adds a type; a second registration of the same name replaces
// the first.
func (r *Registry) Register(t *Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t.Name] = t
}

// Get returns the named type.
func (r *Registry) Get(name string) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("profile type %q is not registered", name)
	}
	return t, nil
}

// Names lists registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks a profile's spec against its type schema.
func (r *Registry) Validate(p *types.Profile) error {
	t, err := r.Get(p.Type)
	if err != nil {
		return err
	}
	spec := schema.NewSpec(t.Schema, p.Spec, t.Version)
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid spec for profile type %q: %w", p.Type, err)
	}
	return nil
}

// DriverFor builds a driver for the profile.
func (r *Registry) DriverFor(p *types.Profile) (Driver, error) {
	t, err := r.Get(p.Type)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(p); err != nil {
		return nil, err
	}
	return t.NewDriver(schema.NewSpec(t.Schema, p.Spec, t.Version))
}
