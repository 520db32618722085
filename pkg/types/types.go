package types

import (
	"strings"
	"time"
)

// Cluster represents a homogeneous group of nodes sharing a profile.
type Cluster struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	ProfileID       string                 `json:"profile_id"`
	User            string                 `json:"user"`
	Project         string                 `json:"project"`
	Domain          string                 `json:"domain"`
	InitAt          time.Time              `json:"init_at"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	MinSize         int                    `json:"min_size"`
	MaxSize         int                    `json:"max_size"` // -1 means unbounded
	DesiredCapacity int                    `json:"desired_capacity"`
	NextIndex       int                    `json:"next_index"`
	Timeout         int                    `json:"timeout"` // seconds
	Status          ClusterStatus          `json:"status"`
	StatusReason    string                 `json:"status_reason"`
	Metadata        map[string]string      `json:"metadata,omitempty"`
	Data            map[string]interface{} `json:"data,omitempty"`
}

// ClusterStatus represents the current state of a cluster.
type ClusterStatus string

const (
	ClusterStatusInit       ClusterStatus = "INIT"
	ClusterStatusActive     ClusterStatus = "ACTIVE"
	ClusterStatusCreating   ClusterStatus = "CREATING"
	ClusterStatusUpdating   ClusterStatus = "UPDATING"
	ClusterStatusResizing   ClusterStatus = "RESIZING"
	ClusterStatusDeleting   ClusterStatus = "DELETING"
	ClusterStatusChecking   ClusterStatus = "CHECKING"
	ClusterStatusRecovering ClusterStatus = "RECOVERING"
	ClusterStatusCritical   ClusterStatus = "CRITICAL"
	ClusterStatusError      ClusterStatus = "ERROR"
	ClusterStatusWarning    ClusterStatus = "WARNING"
)

// Node represents one member of a cluster, managed via its profile driver.
type Node struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	PhysicalID   string                 `json:"physical_id,omitempty"`
	ClusterID    string                 `json:"cluster_id,omitempty"`
	ProfileID    string                 `json:"profile_id"`
	Index        int                    `json:"index"` // -1 for orphan nodes
	Role         string                 `json:"role,omitempty"`
	InitAt       time.Time              `json:"init_at"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	Status       NodeStatus             `json:"status"`
	StatusReason string                 `json:"status_reason"`
	Metadata     map[string]string      `json:"metadata,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// NodeStatus represents the current state of a node.
type NodeStatus string

const (
	NodeStatusInit       NodeStatus = "INIT"
	NodeStatusActive     NodeStatus = "ACTIVE"
	NodeStatusCreating   NodeStatus = "CREATING"
	NodeStatusUpdating   NodeStatus = "UPDATING"
	NodeStatusDeleting   NodeStatus = "DELETING"
	NodeStatusError      NodeStatus = "ERROR"
	NodeStatusWarning    NodeStatus = "WARNING"
	NodeStatusRecovering NodeStatus = "RECOVERING"
)

// Profile is a typed specification of how to create and manage a node.
// Spec is validated against the profile type's schema and is immutable
// after creation; only Name and Metadata are updatable.
type Profile struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Type      string                 `json:"type"`
	Spec      map[string]interface{} `json:"spec"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Policy is a typed pluggable hook invoked around cluster actions.
type Policy struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Type      string                 `json:"type"`
	Spec      map[string]interface{} `json:"spec"`
	Version   string                 `json:"version"`
	Cooldown  int                    `json:"cooldown"` // seconds
	Level     int                    `json:"level"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// ClusterPolicy is a binding between a cluster and a policy.
// Unique on (ClusterID, PolicyID).
type ClusterPolicy struct {
	ClusterID string                 `json:"cluster_id"`
	PolicyID  string                 `json:"policy_id"`
	Priority  int                    `json:"priority"`
	Enabled   bool                   `json:"enabled"`
	LastOp    time.Time              `json:"last_op"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Action is a persisted unit of work over one cluster or node, drawn by a
// worker and executed to a terminal state.
type Action struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Target       string                 `json:"target"`
	Action       string                 `json:"action"`
	Cause        ActionCause            `json:"cause"`
	Owner        string                 `json:"owner,omitempty"` // engine executing the action
	Interval     int                    `json:"interval"`        // -1 means one-shot
	StartTime    time.Time              `json:"start_time,omitzero"`
	EndTime      time.Time              `json:"end_time,omitzero"`
	Timeout      int                    `json:"timeout"` // seconds
	Status       ActionStatus           `json:"status"`
	StatusReason string                 `json:"status_reason"`
	Inputs       map[string]interface{} `json:"inputs,omitempty"`
	Outputs      map[string]interface{} `json:"outputs,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"` // policy scratchpad
	DependsOn    []string               `json:"depends_on,omitempty"`
	DependedBy   []string               `json:"depended_by,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// ActionStatus represents the lifecycle state of an action.
type ActionStatus string

const (
	ActionStatusInit      ActionStatus = "INIT"
	ActionStatusWaiting   ActionStatus = "WAITING"
	ActionStatusReady     ActionStatus = "READY"
	ActionStatusRunning   ActionStatus = "RUNNING"
	ActionStatusSuspended ActionStatus = "SUSPENDED"
	ActionStatusSucceeded ActionStatus = "SUCCEEDED"
	ActionStatusFailed    ActionStatus = "FAILED"
	ActionStatusCancelled ActionStatus = "CANCELLED"
)

// Terminal reports whether the status is a final one.
func (s ActionStatus) Terminal() bool {
	switch s {
	case ActionStatusSucceeded, ActionStatusFailed, ActionStatusCancelled:
		return true
	}
	return false
}

// ActionCause records why an action was fired.
type ActionCause string

const (
	CauseRPCRequest    ActionCause = "RPC_REQUEST"
	CauseDerivedAction ActionCause = "DERIVED_ACTION"
)

// Cluster action verbs.
const (
	ClusterCreate       = "CLUSTER_CREATE"
	ClusterDelete       = "CLUSTER_DELETE"
	ClusterUpdate       = "CLUSTER_UPDATE"
	ClusterAddNodes     = "CLUSTER_ADD_NODES"
	ClusterDelNodes     = "CLUSTER_DEL_NODES"
	ClusterResize       = "CLUSTER_RESIZE"
	ClusterCheck        = "CLUSTER_CHECK"
	ClusterRecover      = "CLUSTER_RECOVER"
	ClusterScaleOut     = "CLUSTER_SCALE_OUT"
	ClusterScaleIn      = "CLUSTER_SCALE_IN"
	ClusterAttachPolicy = "CLUSTER_ATTACH_POLICY"
	ClusterDetachPolicy = "CLUSTER_DETACH_POLICY"
	ClusterUpdatePolicy = "CLUSTER_UPDATE_POLICY"
)

// Node action verbs.
const (
	NodeCreate  = "NODE_CREATE"
	NodeDelete  = "NODE_DELETE"
	NodeUpdate  = "NODE_UPDATE"
	NodeJoin    = "NODE_JOIN"
	NodeLeave   = "NODE_LEAVE"
	NodeCheck   = "NODE_CHECK"
	NodeRecover = "NODE_RECOVER"
)

// IsClusterAction reports whether the verb targets a cluster.
func IsClusterAction(verb string) bool {
	return strings.HasPrefix(verb, "CLUSTER_")
}

// IsNodeAction reports whether the verb targets a node.
func IsNodeAction(verb string) bool {
	return strings.HasPrefix(verb, "NODE_")
}

// Signal commands accepted by a running action.
type Signal string

const (
	SignalNone    Signal = ""
	SignalCancel  Signal = "CANCEL"
	SignalSuspend Signal = "SUSPEND"
	SignalResume  Signal = "RESUME"

	// SignalCancelParent is written by the store when a parent's cancel
	// cascades into a running child; the child winds down FAILED with
	// reason "parent cancelled". Never accepted over RPC.
	SignalCancelParent Signal = "CANCEL_PARENT"
)

// Resize adjustment types.
const (
	ExactCapacity      = "EXACT_CAPACITY"
	ChangeInCapacity   = "CHANGE_IN_CAPACITY"
	ChangeInPercentage = "CHANGE_IN_PERCENTAGE"
)

// Policy check phases.
const (
	PolicyBefore = "BEFORE"
	PolicyAfter  = "AFTER"
)

// Policy check results, recorded in action.Data["status"].
const (
	CheckOK    = "CHECK_OK"
	CheckError = "CHECK_ERROR"
)

// LockScope selects shared or exclusive cluster locking.
type LockScope string

const (
	LockShared    LockScope = "SHARED"
	LockExclusive LockScope = "EXCLUSIVE"
)

// Lock is an advisory mutual-exclusion token owned by one or more actions.
// Shared locks may have multiple owners; exclusive locks exactly one.
type Lock struct {
	ResourceID string    `json:"resource_id"`
	ActionIDs  []string  `json:"action_ids"`
	Scope      LockScope `json:"scope"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HealthCheckType selects the detection mechanism for a health registry.
type HealthCheckType string

const (
	NodeStatusPolling HealthCheckType = "NODE_STATUS_POLLING"
	LifecycleEvents   HealthCheckType = "LIFECYCLE_EVENTS"
)

// HealthRegistry records a cluster enrolled for health checking. Exactly
// one engine claims each entry via compare-and-swap on EngineID.
type HealthRegistry struct {
	ID        string                 `json:"id"`
	ClusterID string                 `json:"cluster_id"`
	CheckType HealthCheckType        `json:"check_type"`
	Interval  int                    `json:"interval"` // seconds
	Params    map[string]interface{} `json:"params,omitempty"`
	EngineID  string                 `json:"engine_id,omitempty"`
	Enabled   bool                   `json:"enabled"`
}

// EventLevel classifies event records.
type EventLevel string

const (
	EventDebug   EventLevel = "DEBUG"
	EventInfo    EventLevel = "INFO"
	EventWarning EventLevel = "WARNING"
	EventError   EventLevel = "ERROR"
)

// Event is an append-only audit record of a status transition.
type Event struct {
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Level     EventLevel `json:"level"`
	ActionID  string     `json:"action_id,omitempty"`
	ObjType   string     `json:"obj_type"`
	ObjID     string     `json:"obj_id"`
	ObjName   string     `json:"obj_name"`
	Status    string     `json:"status"`
	Reason    string     `json:"reason"`
	User      string     `json:"user,omitempty"`
	Project   string     `json:"project,omitempty"`
}

// Engine is a liveness record for one engine instance. An engine whose
// heartbeat is older than the liveness window is considered dead; its
// locks may be stolen and its health registries reclaimed.
type Engine struct {
	ID        string    `json:"id"`
	Host      string    `json:"host,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
