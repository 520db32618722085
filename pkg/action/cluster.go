package action

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/grovehq/grove/pkg/events"
	"github.com/grovehq/grove/pkg/log"
	"github.com/grovehq/grove/pkg/policy"
	"github.com/grovehq/grove/pkg/scaleutils"
	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

// ClusterAction executes the CLUSTER_* verbs. The common frame acquires
// the cluster lock, runs the BEFORE policy check, dispatches into the
// verb body and runs the AFTER check; the bodies expand the request into
// derived node actions and wait on them.
type ClusterAction struct {
	base
	cluster *types.Cluster
}

func (ca *ClusterAction) Execute(ctx context.Context) (Result, string) {
	cluster, err := ca.d.Store.GetCluster(ca.a.Target)
	if err != nil {
		return ResultError, fmt.Sprintf("cluster %s not found", ca.a.Target)
	}
	ca.cluster = cluster

	scope := types.LockExclusive
	if ca.a.Action == types.ClusterCheck {
		scope = types.LockShared
	}
	if err := ca.d.Locks.AcquireCluster(cluster.ID, ca.a.ID, scope); err != nil {
		return ResultRetry, fmt.Sprintf("failed to acquire lock on cluster %s: %v", cluster.ID, err)
	}
	defer func() {
		if err := ca.d.Locks.ReleaseCluster(cluster.ID, ca.a.ID, scope); err != nil {
			logger := log.WithActionID(ca.a.ID)
			logger.Warn().Err(err).
				Str("cluster_id", cluster.ID).
				Msg("Failed to release cluster lock")
		}
	}()

	if res, reason := ca.policyCheck(types.PolicyBefore); res != ResultOK {
		return res, reason
	}
	if res, reason := ca.yield(); res != ResultOK {
		return res, reason
	}

	result, reason := ca.run(ctx)
	if result != ResultOK {
		return result, reason
	}

	if res, r := ca.policyCheck(types.PolicyAfter); res != ResultOK {
		return res, r
	}
	return result, reason
}

func (ca *ClusterAction) run(ctx context.Context) (Result, string) {
	switch ca.a.Action {
	case types.ClusterCreate:
		return ca.doCreate()
	case types.ClusterDelete:
		return ca.doDelete()
	case types.ClusterResize:
		return ca.doResize()
	case types.ClusterScaleOut:
		return ca.doScaleOut()
	case types.ClusterScaleIn:
		return ca.doScaleIn()
	case types.ClusterAddNodes:
		return ca.doAddNodes()
	case types.ClusterDelNodes:
		return ca.doDelNodes()
	case types.ClusterCheck:
		return ca.doCheck()
	case types.ClusterRecover:
		return ca.doRecover()
	case types.ClusterUpdate:
		return ca.doUpdate()
	case types.ClusterAttachPolicy:
		return ca.doAttachPolicy()
	case types.ClusterDetachPolicy:
		return ca.doDetachPolicy()
	case types.ClusterUpdatePolicy:
		return ca.doUpdatePolicy()
	default:
		return ResultError, fmt.Sprintf("unsupported cluster action %s", ca.a.Action)
	}
}

// policyCheck runs one phase of the policy pipeline and persists the
// decorated action data so derived children and the API can read it.
func (ca *ClusterAction) policyCheck(when string) (Result, string) {
	if ca.d.Checker == nil {
		return ResultOK, ""
	}
	if err := ca.d.Checker.Check(ca.cluster.ID, ca.a, when); err != nil {
		return ResultError, err.Error()
	}
	ca.saveData()
	if status, reason := policy.Status(ca.a); status == types.CheckError {
		return ResultError, fmt.Sprintf("policy check failure: %s", reason)
	}
	return ResultOK, ""
}

func (ca *ClusterAction) doCreate() (Result, string) {
	if ca.cluster.Status != types.ClusterStatusInit {
		return ResultError, fmt.Sprintf("cluster is in status %s, expected INIT", ca.cluster.Status)
	}
	ca.setClusterStatus(types.ClusterStatusCreating, "Cluster creation in progress")

	res, reason := ca.growCluster(ca.cluster.DesiredCapacity)
	if res != ResultOK {
		ca.settleDegraded(reason)
		return res, reason
	}
	ca.setClusterStatus(types.ClusterStatusActive, "Cluster creation succeeded")
	return ResultOK, "Cluster creation succeeded"
}

func (ca *ClusterAction) doDelete() (Result, string) {
	ca.setClusterStatus(types.ClusterStatusDeleting, "Cluster deletion in progress")

	nodes, err := ca.d.Store.ListNodes(storage.NodeFilter{ClusterID: ca.cluster.ID})
	if err != nil {
		return ResultError, err.Error()
	}
	children := make([]childSpec, 0, len(nodes))
	for _, n := range nodes {
		children = append(children, childSpec{target: n.ID, verb: types.NodeDelete})
	}
	if res, reason := ca.spawnAndWait(children); res != ResultOK {
		ca.setClusterStatus(types.ClusterStatusError, reason)
		return res, reason
	}

	// Detach policies so external resources (load balancers, health
	// registrations) are torn down with the cluster.
	bindings, err := ca.d.Store.ListBindings(ca.cluster.ID)
	if err == nil {
		for _, b := range bindings {
			ca.detachBinding(b)
		}
	}

	if err := ca.d.Store.DeleteCluster(ca.cluster.ID); err != nil {
		return ResultError, fmt.Sprintf("failed to delete cluster: %v", err)
	}
	return ResultOK, "Cluster deletion succeeded"
}

func (ca *ClusterAction) doResize() (Result, string) {
	nodes, err := ca.d.Store.ListNodes(storage.NodeFilter{ClusterID: ca.cluster.ID})
	if err != nil {
		return ResultError, err.Error()
	}
	current := len(nodes)

	adjType := stringInput(ca.a, "adjustment_type")
	number := intInput(ca.a, "number", 0)
	minStep := intInput(ca.a, "min_step", 1)
	strict := boolInput(ca.a, "strict", true)
	var newMin, newMax *int
	if _, ok := ca.a.Inputs["min_size"]; ok {
		v := intInput(ca.a, "min_size", ca.cluster.MinSize)
		newMin = &v
	}
	if _, ok := ca.a.Inputs["max_size"]; ok {
		v := intInput(ca.a, "max_size", ca.cluster.MaxSize)
		newMax = &v
	}

	desired := current
	if adjType != "" {
		desired = scaleutils.CalculateDesired(current, adjType, number, minStep)
	}

	if reason := scaleutils.CheckSize(ca.cluster, desired, newMin, newMax); reason != "" {
		if strict {
			return ResultError, reason
		}
		desired, _ = scaleutils.Truncate(ca.cluster, desired, newMin, newMax)
	}

	return ca.resizeTo(nodes, desired, newMin, newMax, true)
}

// resizeTo drives the cluster from its current membership to desired,
// spawning NODE_CREATE or NODE_DELETE children as needed, and persists
// capacity and any new bounds in one cluster update at the end. A
// bounds-only change with no capacity delta emits no children.
func (ca *ClusterAction) resizeTo(nodes []*types.Node, desired int, newMin, newMax *int, destroy bool) (Result, string) {
	current := len(nodes)

	if desired != current {
		ca.setClusterStatus(types.ClusterStatusResizing, "Cluster resize in progress")
	}

	var res Result = ResultOK
	var reason string
	switch {
	case desired > current:
		res, reason = ca.growCluster(desired - current)
	case desired < current:
		victims := scaleutils.SelectVictims(nodes, policy.DeletionCandidates(ca.a), current-desired)
		res, reason = ca.shrinkCluster(victims, destroy)
	}

	cluster, err := ca.d.Store.GetCluster(ca.cluster.ID)
	if err != nil {
		return ResultError, err.Error()
	}
	ca.cluster = cluster
	ca.cluster.DesiredCapacity = desired
	if newMin != nil {
		ca.cluster.MinSize = *newMin
	}
	if newMax != nil {
		ca.cluster.MaxSize = *newMax
	}

	if res != ResultOK {
		ca.settleDegraded(reason)
		return res, reason
	}
	ca.cluster.Status = types.ClusterStatusActive
	ca.cluster.StatusReason = "Cluster resize succeeded"
	ca.cluster.UpdatedAt = ca.d.now()
	if err := ca.d.Store.UpdateCluster(ca.cluster); err != nil {
		return ResultError, err.Error()
	}
	return ResultOK, "Cluster resize succeeded"
}

func (ca *ClusterAction) doScaleOut() (Result, string) {
	nodes, err := ca.d.Store.ListNodes(storage.NodeFilter{ClusterID: ca.cluster.ID})
	if err != nil {
		return ResultError, err.Error()
	}
	current := len(nodes)

	// A scaling policy resolves the request into a creation count; the raw
	// request count is the fallback when no policy is attached.
	count := policy.CreationCount(ca.a, 0)
	if count <= 0 {
		count = intInput(ca.a, "count", 1)
	}
	if count <= 0 {
		return ResultError, fmt.Sprintf("invalid count %d for scale-out", count)
	}

	desired := current + count
	if reason := scaleutils.CheckSize(ca.cluster, desired, nil, nil); reason != "" {
		return ResultError, reason
	}
	return ca.resizeTo(nodes, desired, nil, nil, true)
}

func (ca *ClusterAction) doScaleIn() (Result, string) {
	nodes, err := ca.d.Store.ListNodes(storage.NodeFilter{ClusterID: ca.cluster.ID})
	if err != nil {
		return ResultError, err.Error()
	}
	current := len(nodes)

	count := policy.DeletionCount(ca.a, 0)
	if count <= 0 {
		count = intInput(ca.a, "count", 1)
	}
	if count <= 0 {
		return ResultError, fmt.Sprintf("invalid count %d for scale-in", count)
	}

	desired := current - count
	if reason := scaleutils.CheckSize(ca.cluster, desired, nil, nil); reason != "" {
		return ResultError, reason
	}
	return ca.resizeTo(nodes, desired, nil, nil, true)
}

func (ca *ClusterAction) doAddNodes() (Result, string) {
	ids := stringListInput(ca.a, "nodes")
	if len(ids) == 0 {
		return ResultError, "no nodes specified"
	}

	clusterProfile, err := ca.d.Store.GetProfile(ca.cluster.ProfileID)
	if err != nil {
		return ResultError, fmt.Sprintf("profile %s not found", ca.cluster.ProfileID)
	}

	children := make([]childSpec, 0, len(ids))
	for _, id := range ids {
		node, err := ca.d.Store.GetNode(id)
		if err != nil {
			return ResultError, fmt.Sprintf("node %s not found", id)
		}
		if node.ClusterID != "" {
			return ResultError, fmt.Sprintf("node %s already belongs to cluster %s", id, node.ClusterID)
		}
		nodeProfile, err := ca.d.Store.GetProfile(node.ProfileID)
		if err != nil {
			return ResultError, fmt.Sprintf("profile %s not found", node.ProfileID)
		}
		if nodeProfile.Type != clusterProfile.Type {
			return ResultError, fmt.Sprintf("node %s has profile type %s, cluster requires %s",
				id, nodeProfile.Type, clusterProfile.Type)
		}
		children = append(children, childSpec{
			target: id,
			verb:   types.NodeJoin,
			inputs: map[string]interface{}{"cluster_id": ca.cluster.ID},
		})
	}

	if res, reason := ca.spawnAndWait(children); res != ResultOK {
		ca.settleDegraded(reason)
		return res, reason
	}

	return ca.commitCapacity(ca.cluster.DesiredCapacity+len(ids), "Nodes added to cluster")
}

func (ca *ClusterAction) doDelNodes() (Result, string) {
	ids := stringListInput(ca.a, "nodes")
	if len(ids) == 0 {
		return ResultError, "no nodes specified"
	}

	destroy := policy.DestroyAfterDeletion(ca.a) || boolInput(ca.a, "destroy_after_deletion", false)
	verb := types.NodeLeave
	if destroy {
		verb = types.NodeDelete
	}

	children := make([]childSpec, 0, len(ids))
	for _, id := range ids {
		node, err := ca.d.Store.GetNode(id)
		if err != nil {
			return ResultError, fmt.Sprintf("node %s not found", id)
		}
		if node.ClusterID != ca.cluster.ID {
			return ResultError, fmt.Sprintf("node %s is not a member of cluster %s", id, ca.cluster.ID)
		}
		children = append(children, childSpec{target: id, verb: verb})
	}

	if res, reason := ca.spawnAndWait(children); res != ResultOK {
		ca.settleDegraded(reason)
		return res, reason
	}

	desired := ca.cluster.DesiredCapacity - len(ids)
	if desired < 0 {
		desired = 0
	}
	return ca.commitCapacity(desired, "Nodes removed from cluster")
}

func (ca *ClusterAction) doCheck() (Result, string) {
	ca.setClusterStatus(types.ClusterStatusChecking, "Cluster health check in progress")

	nodes, err := ca.d.Store.ListNodes(storage.NodeFilter{ClusterID: ca.cluster.ID})
	if err != nil {
		return ResultError, err.Error()
	}
	children := make([]childSpec, 0, len(nodes))
	for _, n := range nodes {
		children = append(children, childSpec{target: n.ID, verb: types.NodeCheck})
	}
	if res, reason := ca.spawnAndWait(children); res != ResultOK {
		ca.settleDegraded(reason)
		return res, reason
	}

	return ca.aggregateHealth("Cluster check completed")
}

func (ca *ClusterAction) doRecover() (Result, string) {
	ca.setClusterStatus(types.ClusterStatusRecovering, "Cluster recovery in progress")

	nodes, err := ca.d.Store.ListNodes(storage.NodeFilter{ClusterID: ca.cluster.ID})
	if err != nil {
		return ResultError, err.Error()
	}
	// Only unhealthy members are recovered; a recover on an all-ACTIVE
	// cluster is a no-op.
	children := make([]childSpec, 0, len(nodes))
	for _, n := range nodes {
		if n.Status == types.NodeStatusActive {
			continue
		}
		children = append(children, childSpec{
			target: n.ID,
			verb:   types.NodeRecover,
			inputs: ca.a.Inputs,
		})
	}
	if res, reason := ca.spawnAndWait(children); res != ResultOK {
		ca.settleDegraded(reason)
		return res, reason
	}

	return ca.aggregateHealth("Cluster recovery completed")
}

func (ca *ClusterAction) doUpdate() (Result, string) {
	newProfileID := stringInput(ca.a, "profile_id")
	if newProfileID != "" && newProfileID != ca.cluster.ProfileID {
		oldProfile, err := ca.d.Store.GetProfile(ca.cluster.ProfileID)
		if err != nil {
			return ResultError, fmt.Sprintf("profile %s not found", ca.cluster.ProfileID)
		}
		newProfile, err := ca.d.Store.GetProfile(newProfileID)
		if err != nil {
			return ResultError, fmt.Sprintf("profile %s not found", newProfileID)
		}
		if newProfile.Type != oldProfile.Type {
			return ResultError, fmt.Sprintf("new profile type %s does not match %s",
				newProfile.Type, oldProfile.Type)
		}

		ca.setClusterStatus(types.ClusterStatusUpdating, "Cluster update in progress")

		nodes, err := ca.d.Store.ListNodes(storage.NodeFilter{ClusterID: ca.cluster.ID})
		if err != nil {
			return ResultError, err.Error()
		}
		// Node updates run in serialized batches so a rolling profile
		// change never takes the whole cluster down at once.
		batch := ca.d.Config.MaxUpdateParallel
		if batch < 1 {
			batch = 1
		}
		for start := 0; start < len(nodes); start += batch {
			end := start + batch
			if end > len(nodes) {
				end = len(nodes)
			}
			children := make([]childSpec, 0, end-start)
			for _, n := range nodes[start:end] {
				children = append(children, childSpec{
					target: n.ID,
					verb:   types.NodeUpdate,
					inputs: map[string]interface{}{"profile_id": newProfileID},
				})
			}
			if res, reason := ca.spawnAndWait(children); res != ResultOK {
				ca.settleDegraded(reason)
				return res, reason
			}
		}
		ca.cluster.ProfileID = newProfileID
	}

	// Name, metadata and timeout changes apply in place.
	if name := stringInput(ca.a, "name"); name != "" {
		ca.cluster.Name = name
	}
	if raw, ok := ca.a.Inputs["metadata"].(map[string]interface{}); ok {
		md := make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				md[k] = s
			}
		}
		ca.cluster.Metadata = md
	}
	if _, ok := ca.a.Inputs["timeout"]; ok {
		ca.cluster.Timeout = intInput(ca.a, "timeout", ca.cluster.Timeout)
	}

	ca.cluster.Status = types.ClusterStatusActive
	ca.cluster.StatusReason = "Cluster update succeeded"
	ca.cluster.UpdatedAt = ca.d.now()
	if err := ca.d.Store.UpdateCluster(ca.cluster); err != nil {
		return ResultError, err.Error()
	}
	return ResultOK, "Cluster update succeeded"
}

func (ca *ClusterAction) doAttachPolicy() (Result, string) {
	policyID := stringInput(ca.a, "policy_id")
	if policyID == "" {
		return ResultError, "no policy specified"
	}
	rec, err := ca.d.Store.GetPolicy(policyID)
	if err != nil {
		return ResultError, fmt.Sprintf("policy %s not found", policyID)
	}

	if ca.d.Policies.Singleton(rec.Type) {
		bindings, err := ca.d.Store.ListBindings(ca.cluster.ID)
		if err == nil {
			for _, b := range bindings {
				other, err := ca.d.Store.GetPolicy(b.PolicyID)
				if err == nil && other.Type == rec.Type {
					return ResultError, fmt.Sprintf("only one policy of type %s can be attached", rec.Type)
				}
			}
		}
	}

	pol, err := ca.d.Policies.Instantiate(rec)
	if err != nil {
		return ResultError, err.Error()
	}
	data, err := pol.Attach(ca.d.PolicyCtx, ca.cluster)
	if err != nil {
		return ResultError, fmt.Sprintf("policy attach failed: %v", err)
	}

	binding := &types.ClusterPolicy{
		ClusterID: ca.cluster.ID,
		PolicyID:  policyID,
		Priority:  intInput(ca.a, "priority", 50),
		Enabled:   boolInput(ca.a, "enabled", true),
		Data:      data,
	}
	if err := ca.d.Store.CreateBinding(binding); err != nil {
		// Roll the attach back so a duplicate bind leaves no side effects.
		_ = pol.Detach(ca.d.PolicyCtx, ca.cluster)
		return ResultError, fmt.Sprintf("failed to bind policy: %v", err)
	}
	return ResultOK, "Policy attached"
}

func (ca *ClusterAction) doDetachPolicy() (Result, string) {
	policyID := stringInput(ca.a, "policy_id")
	binding, err := ca.d.Store.GetBinding(ca.cluster.ID, policyID)
	if err != nil {
		return ResultError, fmt.Sprintf("policy %s is not attached to cluster %s", policyID, ca.cluster.ID)
	}
	if res, reason := ca.detachBinding(binding); res != ResultOK {
		return res, reason
	}
	return ResultOK, "Policy detached"
}

func (ca *ClusterAction) doUpdatePolicy() (Result, string) {
	policyID := stringInput(ca.a, "policy_id")
	binding, err := ca.d.Store.GetBinding(ca.cluster.ID, policyID)
	if err != nil {
		return ResultError, fmt.Sprintf("policy %s is not attached to cluster %s", policyID, ca.cluster.ID)
	}
	if _, ok := ca.a.Inputs["priority"]; ok {
		binding.Priority = intInput(ca.a, "priority", binding.Priority)
	}
	if _, ok := ca.a.Inputs["enabled"]; ok {
		binding.Enabled = boolInput(ca.a, "enabled", binding.Enabled)
	}
	if err := ca.d.Store.UpdateBinding(binding); err != nil {
		return ResultError, err.Error()
	}
	return ResultOK, "Policy updated"
}

// growCluster creates count fresh node records and spawns a NODE_CREATE
// child for each. Placement hints computed by policies are copied onto
// the node record for its driver to read.
func (ca *ClusterAction) growCluster(count int) (Result, string) {
	if count <= 0 {
		return ResultOK, ""
	}
	placements := policy.Placements(ca.a)

	children := make([]childSpec, 0, count)
	for i := 0; i < count; i++ {
		index, err := ca.d.Store.NextClusterIndex(ca.cluster.ID)
		if err != nil {
			return ResultError, err.Error()
		}
		now := ca.d.now()
		node := &types.Node{
			ID:           uuid.NewString(),
			Name:         fmt.Sprintf("%s-%03d", ca.cluster.Name, index),
			ClusterID:    ca.cluster.ID,
			ProfileID:    ca.cluster.ProfileID,
			Index:        index,
			Status:       types.NodeStatusInit,
			StatusReason: "Node created",
			InitAt:       now,
			UpdatedAt:    now,
		}
		if i < len(placements) {
			node.Data = map[string]interface{}{"placement": placements[i]}
		}
		if err := ca.d.Store.CreateNode(node); err != nil {
			return ResultError, err.Error()
		}
		children = append(children, childSpec{target: node.ID, verb: types.NodeCreate})
	}
	return ca.spawnAndWait(children)
}

// shrinkCluster spawns removal children for the chosen victims; destroy
// selects NODE_DELETE over NODE_LEAVE.
func (ca *ClusterAction) shrinkCluster(victims []*types.Node, destroy bool) (Result, string) {
	verb := types.NodeLeave
	if destroy {
		verb = types.NodeDelete
	}
	children := make([]childSpec, 0, len(victims))
	for _, n := range victims {
		children = append(children, childSpec{target: n.ID, verb: verb})
	}
	return ca.spawnAndWait(children)
}

func (ca *ClusterAction) detachBinding(b *types.ClusterPolicy) (Result, string) {
	rec, err := ca.d.Store.GetPolicy(b.PolicyID)
	if err == nil {
		if pol, err := ca.d.Policies.Instantiate(rec); err == nil {
			if err := pol.Detach(ca.d.PolicyCtx, ca.cluster); err != nil {
				return ResultError, fmt.Sprintf("policy detach failed: %v", err)
			}
		}
	}
	if err := ca.d.Store.DeleteBinding(b.ClusterID, b.PolicyID); err != nil {
		return ResultError, err.Error()
	}
	return ResultOK, ""
}

// aggregateHealth folds member statuses into the cluster status: every
// member ACTIVE means ACTIVE, fewer active members than min_size means
// CRITICAL, anything in between WARNING.
func (ca *ClusterAction) aggregateHealth(okReason string) (Result, string) {
	nodes, err := ca.d.Store.ListNodes(storage.NodeFilter{ClusterID: ca.cluster.ID})
	if err != nil {
		return ResultError, err.Error()
	}
	active := 0
	for _, n := range nodes {
		if n.Status == types.NodeStatusActive {
			active++
		}
	}
	switch {
	case active == len(nodes):
		ca.setClusterStatus(types.ClusterStatusActive, "All nodes are active")
	case active < ca.cluster.MinSize:
		ca.setClusterStatus(types.ClusterStatusCritical,
			fmt.Sprintf("%d of %d nodes active, below min_size %d", active, len(nodes), ca.cluster.MinSize))
	default:
		ca.setClusterStatus(types.ClusterStatusWarning,
			fmt.Sprintf("%d of %d nodes active", active, len(nodes)))
	}
	return ResultOK, okReason
}

// settleDegraded records the cluster status after a failed expansion or
// shrink: ERROR when nothing survived, CRITICAL below min_size, WARNING
// otherwise.
func (ca *ClusterAction) settleDegraded(reason string) {
	nodes, err := ca.d.Store.ListNodes(storage.NodeFilter{ClusterID: ca.cluster.ID})
	if err != nil {
		ca.setClusterStatus(types.ClusterStatusError, reason)
		return
	}
	active := 0
	for _, n := range nodes {
		if n.Status == types.NodeStatusActive {
			active++
		}
	}
	switch {
	case active == 0:
		ca.setClusterStatus(types.ClusterStatusError, reason)
	case active < ca.cluster.MinSize:
		ca.setClusterStatus(types.ClusterStatusCritical, reason)
	default:
		ca.setClusterStatus(types.ClusterStatusWarning, reason)
	}
}

// commitCapacity persists a new desired capacity and flips the cluster
// back to ACTIVE.
func (ca *ClusterAction) commitCapacity(desired int, reason string) (Result, string) {
	cluster, err := ca.d.Store.GetCluster(ca.cluster.ID)
	if err != nil {
		return ResultError, err.Error()
	}
	ca.cluster = cluster
	ca.cluster.DesiredCapacity = desired
	ca.cluster.Status = types.ClusterStatusActive
	ca.cluster.StatusReason = reason
	ca.cluster.UpdatedAt = ca.d.now()
	if err := ca.d.Store.UpdateCluster(ca.cluster); err != nil {
		return ResultError, err.Error()
	}
	return ResultOK, reason
}

func (ca *ClusterAction) setClusterStatus(status types.ClusterStatus, reason string) {
	// Node spawning advances the index counter behind this copy; never
	// write a stale counter back.
	if fresh, err := ca.d.Store.GetCluster(ca.cluster.ID); err == nil {
		ca.cluster.NextIndex = fresh.NextIndex
	}
	ca.cluster.Status = status
	ca.cluster.StatusReason = reason
	ca.cluster.UpdatedAt = ca.d.now()
	if status == types.ClusterStatusActive && ca.cluster.CreatedAt.IsZero() {
		ca.cluster.CreatedAt = ca.d.now()
	}
	if err := ca.d.Store.UpdateCluster(ca.cluster); err != nil {
		logger := log.WithClusterID(ca.cluster.ID)
		logger.Warn().Err(err).Msg("Failed to update cluster status")
	}
	if ca.d.Broker != nil {
		ca.d.Broker.Publish(&events.Event{
			Type:    events.EventClusterStatus,
			Message: string(status),
			Metadata: map[string]string{
				"cluster_id": ca.cluster.ID,
				"status":     string(status),
				"reason":     reason,
			},
		})
	}
}
