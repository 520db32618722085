package action

import (
	"context"
	"fmt"

	"github.com/grovehq/grove/pkg/events"
	"github.com/grovehq/grove/pkg/log"
	"github.com/grovehq/grove/pkg/metrics"
	"github.com/grovehq/grove/pkg/policy"
	"github.com/grovehq/grove/pkg/profile"
	"github.com/grovehq/grove/pkg/schema"
	"github.com/grovehq/grove/pkg/types"
)

// NodeAction executes the NODE_* verbs through the node's profile driver.
// Derived children run under their parent's cluster lock and only take
// the node lock; an RPC-requested node action additionally guards the
// node's cluster with a SHARED lock, cluster before node.
type NodeAction struct {
	base
	node *types.Node
}

func (na *NodeAction) Execute(ctx context.Context) (Result, string) {
	node, err := na.d.Store.GetNode(na.a.Target)
	if err != nil {
		return ResultError, fmt.Sprintf("node %s not found", na.a.Target)
	}
	na.node = node

	if node.ClusterID != "" && na.a.Cause == types.CauseRPCRequest {
		if err := na.d.Locks.AcquireCluster(node.ClusterID, na.a.ID, types.LockShared); err != nil {
			return ResultRetry, fmt.Sprintf("failed to acquire lock on cluster %s: %v", node.ClusterID, err)
		}
		defer func() {
			_ = na.d.Locks.ReleaseCluster(node.ClusterID, na.a.ID, types.LockShared)
		}()
	}
	if err := na.d.Locks.AcquireNode(node.ID, na.a.ID); err != nil {
		return ResultRetry, fmt.Sprintf("failed to acquire lock on node %s: %v", node.ID, err)
	}
	defer func() {
		if err := na.d.Locks.ReleaseNode(node.ID, na.a.ID); err != nil {
			logger := log.WithActionID(na.a.ID)
			logger.Warn().Err(err).
				Str("node_id", node.ID).
				Msg("Failed to release node lock")
		}
	}()

	if res, reason := na.yield(); res != ResultOK {
		return res, reason
	}

	// Policies watch RPC-requested node verbs on cluster members (health
	// pause, load-balancer member removal); derived children already ran
	// the pipeline under their parent.
	if res, reason := na.policyCheck(types.PolicyBefore); res != ResultOK {
		return res, reason
	}

	driver, err := na.driver(node.ProfileID)
	if err != nil {
		return ResultError, err.Error()
	}

	result, reason := na.run(ctx, driver)
	if result != ResultOK {
		return result, reason
	}
	if res, r := na.policyCheck(types.PolicyAfter); res != ResultOK {
		return res, r
	}
	return result, reason
}

func (na *NodeAction) run(ctx context.Context, driver profile.Driver) (Result, string) {
	switch na.a.Action {
	case types.NodeCreate:
		return na.doCreate(ctx, driver)
	case types.NodeDelete:
		return na.doDelete(ctx, driver)
	case types.NodeUpdate:
		return na.doUpdate(ctx, driver)
	case types.NodeJoin:
		return na.doJoin(ctx, driver)
	case types.NodeLeave:
		return na.doLeave(ctx, driver)
	case types.NodeCheck:
		return na.doCheck(ctx, driver)
	case types.NodeRecover:
		return na.doRecover(ctx, driver)
	default:
		return ResultError, fmt.Sprintf("unsupported node action %s", na.a.Action)
	}
}

func (na *NodeAction) policyCheck(when string) (Result, string) {
	if na.d.Checker == nil || na.node.ClusterID == "" || na.a.Cause != types.CauseRPCRequest {
		return ResultOK, ""
	}
	if err := na.d.Checker.Check(na.node.ClusterID, na.a, when); err != nil {
		return ResultError, err.Error()
	}
	na.saveData()
	if status, reason := policy.Status(na.a); status == types.CheckError {
		return ResultError, fmt.Sprintf("policy check failure: %s", reason)
	}
	return ResultOK, ""
}

func (na *NodeAction) doCreate(ctx context.Context, driver profile.Driver) (Result, string) {
	na.setNodeStatus(types.NodeStatusCreating, "Creation in progress")

	physicalID, err := driver.Create(ctx, na.node)
	if err != nil {
		na.setNodeStatus(types.NodeStatusError, fmt.Sprintf("Creation failed: %v", err))
		return ResultError, fmt.Sprintf("failed to create node %s: %v", na.node.ID, err)
	}

	na.node.PhysicalID = physicalID
	na.node.CreatedAt = na.d.now()
	na.setNodeStatus(types.NodeStatusActive, "Creation succeeded")
	return ResultOK, "Node created"
}

func (na *NodeAction) doDelete(ctx context.Context, driver profile.Driver) (Result, string) {
	na.setNodeStatus(types.NodeStatusDeleting, "Deletion in progress")

	if err := driver.Delete(ctx, na.node); err != nil {
		na.setNodeStatus(types.NodeStatusError, fmt.Sprintf("Deletion failed: %v", err))
		return ResultError, fmt.Sprintf("failed to delete node %s: %v", na.node.ID, err)
	}
	if err := na.d.Store.DeleteNode(na.node.ID); err != nil {
		return ResultError, err.Error()
	}
	return ResultOK, "Node deleted"
}

func (na *NodeAction) doUpdate(ctx context.Context, driver profile.Driver) (Result, string) {
	na.setNodeStatus(types.NodeStatusUpdating, "Update in progress")

	if profileID := stringInput(na.a, "profile_id"); profileID != "" && profileID != na.node.ProfileID {
		newSpec, err := na.profileSpec(profileID)
		if err != nil {
			na.setNodeStatus(types.NodeStatusError, err.Error())
			return ResultError, err.Error()
		}
		if err := driver.Update(ctx, na.node, newSpec); err != nil {
			na.setNodeStatus(types.NodeStatusError, fmt.Sprintf("Update failed: %v", err))
			return ResultError, fmt.Sprintf("failed to update node %s: %v", na.node.ID, err)
		}
		na.node.ProfileID = profileID
	}
	if name := stringInput(na.a, "name"); name != "" {
		na.node.Name = name
	}

	na.setNodeStatus(types.NodeStatusActive, "Update succeeded")
	return ResultOK, "Node updated"
}

func (na *NodeAction) doJoin(ctx context.Context, driver profile.Driver) (Result, string) {
	clusterID := stringInput(na.a, "cluster_id")
	if clusterID == "" {
		return ResultError, "no cluster specified"
	}
	if err := driver.Join(ctx, na.node, clusterID); err != nil {
		na.setNodeStatus(types.NodeStatusError, fmt.Sprintf("Join failed: %v", err))
		return ResultError, fmt.Sprintf("failed to join node %s to cluster %s: %v", na.node.ID, clusterID, err)
	}
	index, err := na.d.Store.NextClusterIndex(clusterID)
	if err != nil {
		return ResultError, err.Error()
	}
	na.node.ClusterID = clusterID
	na.node.Index = index
	na.setNodeStatus(types.NodeStatusActive, "Node joined cluster")
	return ResultOK, "Node joined cluster"
}

func (na *NodeAction) doLeave(ctx context.Context, driver profile.Driver) (Result, string) {
	if err := driver.Leave(ctx, na.node); err != nil {
		na.setNodeStatus(types.NodeStatusError, fmt.Sprintf("Leave failed: %v", err))
		return ResultError, fmt.Sprintf("failed to remove node %s from cluster: %v", na.node.ID, err)
	}
	na.node.ClusterID = ""
	na.node.Index = -1
	na.setNodeStatus(types.NodeStatusActive, "Node left cluster")
	return ResultOK, "Node left cluster"
}

// doCheck refreshes the node status from the backend. An unhealthy node
// is a finding, not a failure of the check itself.
func (na *NodeAction) doCheck(ctx context.Context, driver profile.Driver) (Result, string) {
	healthy, err := driver.Check(ctx, na.node)
	if err != nil {
		na.setNodeStatus(types.NodeStatusError, fmt.Sprintf("Health check error: %v", err))
		return ResultError, fmt.Sprintf("failed to check node %s: %v", na.node.ID, err)
	}
	if healthy {
		na.setNodeStatus(types.NodeStatusActive, "Health check passed")
	} else {
		na.setNodeStatus(types.NodeStatusError, "Health check failed")
	}
	return ResultOK, "Node check completed"
}

func (na *NodeAction) doRecover(ctx context.Context, driver profile.Driver) (Result, string) {
	na.setNodeStatus(types.NodeStatusRecovering, "Recovery in progress")

	physicalID, err := driver.Recover(ctx, na.node, na.a.Inputs)
	if err != nil {
		na.setNodeStatus(types.NodeStatusError, fmt.Sprintf("Recovery failed: %v", err))
		return ResultError, fmt.Sprintf("failed to recover node %s: %v", na.node.ID, err)
	}

	na.node.PhysicalID = physicalID
	na.setNodeStatus(types.NodeStatusActive, "Recovery succeeded")
	metrics.NodeRecoveries.Inc()
	return ResultOK, "Node recovered"
}

func (na *NodeAction) driver(profileID string) (profile.Driver, error) {
	prof, err := na.d.Store.GetProfile(profileID)
	if err != nil {
		return nil, fmt.Errorf("profile %s not found", profileID)
	}
	return na.d.Profiles.DriverFor(prof)
}

func (na *NodeAction) profileSpec(profileID string) (*schema.Spec, error) {
	prof, err := na.d.Store.GetProfile(profileID)
	if err != nil {
		return nil, fmt.Errorf("profile %s not found", profileID)
	}
	t, err := na.d.Profiles.Get(prof.Type)
	if err != nil {
		return nil, err
	}
	return schema.NewSpec(t.Schema, prof.Spec, t.Version), nil
}

func (na *NodeAction) setNodeStatus(status types.NodeStatus, reason string) {
	na.node.Status = status
	na.node.StatusReason = reason
	na.node.UpdatedAt = na.d.now()
	if err := na.d.Store.UpdateNode(na.node); err != nil {
		logger := log.WithNodeID(na.node.ID)
		logger.Warn().Err(err).Msg("Failed to update node status")
	}
	if na.d.Broker != nil {
		na.d.Broker.Publish(&events.Event{
			Type:    events.EventNodeStatus,
			Message: string(status),
			Metadata: map[string]string{
				"node_id":    na.node.ID,
				"cluster_id": na.node.ClusterID,
				"status":     string(status),
				"reason":     reason,
			},
		})
	}
}
