package storage

import (
	"errors"
	"time"

	"github.com/grovehq/grove/pkg/types"
)

// Sentinel errors returned by Store implementations. Callers distinguish
// them with errors.Is; the REST layer maps them to HTTP status codes.
var (
	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoReadyAction indicates no action is ready for acquisition.
	ErrNoReadyAction = errors.New("no ready action")

	// ErrLockContention indicates the lock is held by another action.
	ErrLockContention = errors.New("lock contention")

	// ErrConflict indicates the record is still referenced by another.
	ErrConflict = errors.New("conflict")
)

// ClusterFilter narrows cluster listings.
type ClusterFilter struct {
	Status string
	Name   string
	Limit  int
	Marker string
}

// NodeFilter narrows node listings.
type NodeFilter struct {
	ClusterID string
	Status    string
	Name      string
	Limit     int
	Marker    string
}

// ActionFilter narrows action listings.
type ActionFilter struct {
	Target string
	Action string
	Status string
	Limit  int
	Marker string
}

// EventFilter narrows event listings.
type EventFilter struct {
	ObjType string
	ObjID   string
	Level   string
	Limit   int
	Marker  string
}

// Store is the persistence contract the engine core needs. It is the
// minimum set of operations, not a general ORM; the specialized action
// primitives carry the queueing semantics the dispatcher relies on.
type Store interface {
	// Clusters
	CreateCluster(c *types.Cluster) error
	GetCluster(id string) (*types.Cluster, error)
	ListClusters(f ClusterFilter) ([]*types.Cluster, error)
	UpdateCluster(c *types.Cluster) error
	DeleteCluster(id string) error
	// NextClusterIndex atomically bumps the cluster's node index counter
	// and returns the index to assign.
	NextClusterIndex(id string) (int, error)

	// Nodes
	CreateNode(n *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes(f NodeFilter) ([]*types.Node, error)
	UpdateNode(n *types.Node) error
	DeleteNode(id string) error

	// Profiles
	CreateProfile(p *types.Profile) error
	GetProfile(id string) (*types.Profile, error)
	ListProfiles() ([]*types.Profile, error)
	UpdateProfile(p *types.Profile) error
	DeleteProfile(id string) error

	// Policies
	CreatePolicy(p *types.Policy) error
	GetPolicy(id string) (*types.Policy, error)
	ListPolicies() ([]*types.Policy, error)
	UpdatePolicy(p *types.Policy) error
	DeletePolicy(id string) error

	// Cluster-policy bindings
	CreateBinding(b *types.ClusterPolicy) error
	GetBinding(clusterID, policyID string) (*types.ClusterPolicy, error)
	// ListBindings returns the cluster's bindings sorted by ascending
	// priority, policy id as tie-breaker.
	ListBindings(clusterID string) ([]*types.ClusterPolicy, error)
	ListBindingsByPolicy(policyID string) ([]*types.ClusterPolicy, error)
	UpdateBinding(b *types.ClusterPolicy) error
	DeleteBinding(clusterID, policyID string) error

	// Actions
	CreateAction(a *types.Action) error
	GetAction(id string) (*types.Action, error)
	ListActions(f ActionFilter) ([]*types.Action, error)
	DeleteAction(id string) error

	// AcquireFirstReady selects the oldest READY action with no
	// unresolved dependencies, atomically marking it RUNNING and owned.
	// Returns ErrNoReadyAction when the queue has nothing ready.
	AcquireFirstReady(owner string, now time.Time) (*types.Action, error)

	// Terminal transitions. Each clears the owner, releases every lock
	// held by the action, resolves dependency edges and promotes or
	// fails dependents, and appends an event record.
	MarkSucceeded(id string, ts time.Time, reason string) error
	MarkFailed(id string, ts time.Time, reason string) error
	MarkCancelled(id string, ts time.Time, reason string) error

	// Abandon returns a RUNNING action to READY for another worker.
	Abandon(id string) error

	// Disown strips owner from an action stranded by a crashed engine:
	// RUNNING flips back to READY, a promoted READY parent only loses its
	// owner. ErrConflict when the owner no longer matches.
	Disown(id, owner string) error

	// UpdateActionFields persists mutable execution state (status,
	// reason, inputs, outputs, data) without queue bookkeeping.
	UpdateActionFields(a *types.Action) error

	// Signal writes a pending signal; idempotent per (id, cmd). A CANCEL
	// signal propagates depth-first into unresolved dependencies.
	Signal(id string, sig types.Signal) error
	// SignalQuery returns the pending signal, or SignalNone.
	SignalQuery(id string) (types.Signal, error)
	// ClearSignal drops a consumed SUSPEND or RESUME signal.
	ClearSignal(id string) error

	// CheckStatus returns the action's current status.
	CheckStatus(id string) (types.ActionStatus, error)

	// AddDependencies records that dependent waits for every action in
	// depended. The dependent is set WAITING while any of them is
	// non-terminal. Both edge directions are persisted.
	AddDependencies(depended []string, dependent string) error

	// Locks
	ClusterLockAcquire(clusterID, actionID string, scope types.LockScope) error
	ClusterLockRelease(clusterID, actionID string, scope types.LockScope) error
	ClusterLockSteal(clusterID, actionID string) error
	ClusterLockOwners(clusterID string) ([]string, error)
	NodeLockAcquire(nodeID, actionID string) error
	NodeLockRelease(nodeID, actionID string) error
	NodeLockSteal(nodeID, actionID string) error
	NodeLockOwners(nodeID string) ([]string, error)

	// Health registries
	CreateRegistry(r *types.HealthRegistry) error
	GetRegistryByCluster(clusterID string) (*types.HealthRegistry, error)
	ListRegistries(engineID string) ([]*types.HealthRegistry, error)
	UpdateRegistry(r *types.HealthRegistry) error
	DeleteRegistry(id string) error
	// ClaimRegistries assigns registry rows that are unclaimed, or whose
	// owner has been dead longer than window, to engineID.
	ClaimRegistries(engineID string, now time.Time, window time.Duration) ([]*types.HealthRegistry, error)

	// Engine liveness
	EngineHeartbeat(e *types.Engine) error
	GetEngine(id string) (*types.Engine, error)
	ListEngines() ([]*types.Engine, error)
	EngineAlive(id string, now time.Time, window time.Duration) (bool, error)
	RemoveEngine(id string) error

	// Events
	CreateEvent(e *types.Event) error
	ListEvents(f EventFilter) ([]*types.Event, error)

	// Utility
	Close() error
}
