// Package policy implements the policy-type registry and the check
// pipeline that decorates cluster actions. Builtin types cover scaling,
// health, placement (zone, region, affinity) and load-balance concerns;
// each declares TARGET (when, verb) pairs and hooks the pipeline invokes
// before and after the targeted verbs.
package policy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/grovehq/grove/pkg/schema"
	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

// Target is one (when, verb) pair a policy type subscribes to.
type Target struct {
	When   string
	Action string
}

// HealthManager is the surface the health policy drives. Implemented by
// pkg/health; injected to avoid a package cycle.
type HealthManager interface {
	Register(clusterID string, checkType types.HealthCheckType, interval int, params map[string]interface{}) error
	Unregister(clusterID string) error
	Enable(clusterID string) error
	Disable(clusterID string) error
}

// LBDriver manages external load-balancer resources for the load-balance
// policy. Like profile drivers it is an external collaborator.
type LBDriver interface {
	CreateLoadBalancer(clusterID string, spec *schema.Spec) (map[string]interface{}, error)
	DeleteLoadBalancer(resources map[string]interface{}) error
	AddMember(resources map[string]interface{}, node *types.Node) (string, error)
	RemoveMember(resources map[string]interface{}, memberID string) error
}

// Context carries the collaborators policy hooks may touch.
type Context struct {
	Store  storage.Store
	Health HealthManager
	LB     LBDriver
}

// Policy is the flat capability interface every policy type implements.
// Hooks mutate the action's Data scratchpad; a CHECK_ERROR written there
// vetoes the surrounding action.
type Policy interface {
	// NeedCheck reports whether this policy wants the (when, verb) pair.
	NeedCheck(when string, a *types.Action) bool
	// PreOp runs in the BEFORE phase of a targeted verb.
	PreOp(pc *Context, clusterID string, a *types.Action) error
	// PostOp runs in the AFTER phase.
	PostOp(pc *Context, clusterID string, a *types.Action) error
	// Attach prepares cluster-side state and returns the data to store
	// on the binding. A nil map is valid.
	Attach(pc *Context, cluster *types.Cluster) (map[string]interface{}, error)
	// Detach tears down whatever Attach built.
	Detach(pc *Context, cluster *types.Cluster) error
}

// Base supplies target matching and no-op hooks for embedding.
type Base struct {
	Targets []Target
}

func (b Base) NeedCheck(when string, a *types.Action) bool {
	for _, t := range b.Targets {
		if t.When == when && t.Action == a.Action {
			return true
		}
	}
	return false
}

func (b Base) PreOp(pc *Context, clusterID string, a *types.Action) error  { return nil }
func (b Base) PostOp(pc *Context, clusterID string, a *types.Action) error { return nil }
func (b Base) Attach(pc *Context, cluster *types.Cluster) (map[string]interface{}, error) {
	return nil, nil
}
func (b Base) Detach(pc *Context, cluster *types.Cluster) error { return nil }

// Type describes one registered policy type.
type Type struct {
	Name      string
	Version   string
	Singleton bool
	Schema    map[string]*schema.Schema
	New       func(rec *types.Policy) (Policy, error)
}

// Registry maps type names to registered policy types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Type
}

// NewRegistry returns a registry with every builtin type registered.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]*Type)}
	r.Register(ScalingOutType())
	r.Register(ScalingInType())
	r.Register(HealthType())
	r.Register(ZonePlacementType())
	r.Register(RegionPlacementType())
	r.Register(AffinityType())
	r.Register(LoadBalanceType())
	return r
}

// Register adds a type, replacing any previous registration of the name.
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
		return nil, fmt.Errorf("policy type %q is not registered", name)
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

// Validate checks a policy record's spec against its type schema.
func (r *Registry) Validate(rec *types.Policy) error {
	t, err := r.Get(rec.Type)
	if err != nil {
		return err
	}
	spec := schema.NewSpec(t.Schema, rec.Spec, t.Version)
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid spec for policy type %q: %w", rec.Type, err)
	}
	return nil
}

// Instantiate builds a policy instance from its stored record.
func (r *Registry) Instantiate(rec *types.Policy) (Policy, error) {
	t, err := r.Get(rec.Type)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(rec); err != nil {
		return nil, err
	}
	return t.New(rec)
}

// Singleton reports whether the named type allows only one binding per
// cluster.
func (r *Registry) Singleton(name string) bool {
	t, err := r.Get(name)
	return err == nil && t.Singleton
}

func specOf(t *Type, rec *types.Policy) *schema.Spec {
	return schema.NewSpec(t.Schema, rec.Spec, t.Version)
}
